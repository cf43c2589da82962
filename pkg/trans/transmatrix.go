package trans

import (
	"math"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
)

// TransMatrix is the within-block transition operator in factored form.
// The probability of moving from state (u, a) to state (v, b) decomposes
// into a time-only baseline D[a]*E[b]*B[min(a,b)] shared by every
// destination branch, plus a same-branch correction when v == u, plus a
// no-recombination term on the diagonal. The factored form lets the
// forward step contract over source times instead of source states.
type TransMatrix struct {
	Ntimes   int
	Minage   int
	Internal bool

	// B is the prefix sum over recombination times k of rho*dt[k]/G[k],
	// where dt[k] is the grid interval around k and G[k] the survival to
	// time k; zero below Minage.
	B []float64

	// D scales by the per-site recombination opportunity given the
	// current coalescence time.
	D []float64

	// E carries the survival-weighted per-branch coalescence probability
	// of the destination time.
	E []float64

	// NoRecomb is the per-site probability of no recombination given the
	// current coalescence time; it sits on the diagonal.
	NoRecomb []float64
}

// timeSteps returns the effective interval length around each grid point.
func timeSteps(times []float64, mintime float64) []float64 {
	n := len(times)
	dt := make([]float64, n)
	for k := 0; k < n; k++ {
		lo := k - 1
		if lo < 0 {
			lo = 0
		}
		hi := k + 1
		if hi > n-1 {
			hi = n - 1
		}

		dt[k] = (times[hi] - times[lo]) / 2
		if dt[k] < mintime {
			dt[k] = mintime
		}
	}

	return dt
}

// CalcTransMatrix builds the factored transition operator for one local
// tree.
func CalcTransMatrix(m *model.ArgModel, tree *localtree.LocalTree,
	lineages *LineageCounts, minage int, internal bool) *TransMatrix {

	ntimes := m.NTimes()
	mintime := m.Mintime()
	dt := timeSteps(m.Times, mintime)
	treelen := tree.Treelen(m.Times, mintime)

	tm := &TransMatrix{
		Ntimes:   ntimes,
		Minage:   minage,
		Internal: internal,
		B:        make([]float64, ntimes),
		D:        make([]float64, ntimes),
		E:        make([]float64, ntimes),
		NoRecomb: make([]float64, ntimes),
	}

	// survival through each interval under the coalescence rate seen by
	// one extra lineage among nb[t] branches
	logG := 0.0
	bsum := 0.0
	for t := 0; t < ntimes; t++ {
		nb := float64(lineages.Nbranches[t])
		if nb < 1 {
			nb = 1
		}

		coalRate := nb / (2 * m.Popsizes[t])
		coalProb := 1 - math.Exp(-coalRate*dt[t])
		if t == ntimes-1 {
			// coalescence is certain by the top of the grid
			coalProb = 1
		}

		g := math.Exp(logG)
		tm.E[t] = coalProb * g / nb

		if t >= minage {
			bsum += m.Rho * dt[t] / g
		}
		tm.B[t] = bsum

		threadLen := m.Times[t]
		if threadLen < mintime {
			threadLen = mintime
		}
		tm.NoRecomb[t] = math.Exp(-m.Rho * (treelen + threadLen))
		tm.D[t] = 1 - tm.NoRecomb[t]

		logG -= coalRate * dt[t]
	}

	return tm
}

// GetTime returns the factored transition value between source time a and
// destination time b. When sameBranch is true, c must be the destination
// branch's bottom age and the same-branch correction and diagonal term are
// included; otherwise c is ignored.
func (tm *TransMatrix) GetTime(a, b, c, minage int, sameBranch bool) float64 {
	if a < minage || b < minage {
		return 0
	}

	m := a
	if b < m {
		m = b
	}

	base := tm.D[a] * tm.E[b] * tm.B[m]
	if !sameBranch {
		return base
	}

	// recombination on the destination branch itself opens a second path
	// over the span the branch shares with the thread
	lo := c
	if lo < minage {
		lo = minage
	}

	extra := 0.0
	if lo <= m {
		below := 0.0
		if lo > 0 {
			below = tm.B[lo-1]
		}
		extra = tm.D[a] * tm.E[b] * (tm.B[m] - below)
	}

	v := base + extra
	if a == b {
		v += tm.NoRecomb[a]
	}

	return v
}

// Get returns the dense transition value between states j and k. It is
// defined through the factored accessor, so the dense and factored forms
// agree exactly.
func (tm *TransMatrix) Get(tree *localtree.LocalTree, states []state.State, j, k int) float64 {
	a := states[j].Time
	b := states[k].Time
	sameBranch := states[j].Node == states[k].Node
	c := tree.Nodes[states[k].Node].Age

	return tm.GetTime(a, b, c, tm.Minage, sameBranch)
}

// GetLog returns the log of Get, -Inf at zero.
func (tm *TransMatrix) GetLog(tree *localtree.LocalTree, states []state.State, j, k int) float64 {
	return math.Log(tm.Get(tree, states, j, k))
}

// CalcStatePriors returns the normalized prior over states: the
// probability that a fresh lineage entering at minage coalesces at each
// state's time, split evenly over the branches present there.
func CalcStatePriors(states []state.State, lineages *LineageCounts,
	m *model.ArgModel, minage int) []float64 {

	ntimes := m.NTimes()
	mintime := m.Mintime()
	dt := timeSteps(m.Times, mintime)

	weight := make([]float64, ntimes)
	logG := 0.0
	for t := minage; t < ntimes; t++ {
		nb := float64(lineages.Nbranches[t])
		if nb < 1 {
			nb = 1
		}

		coalRate := nb / (2 * m.Popsizes[t])
		coalProb := 1 - math.Exp(-coalRate*dt[t])
		if t == ntimes-1 {
			coalProb = 1
		}

		weight[t] = coalProb * math.Exp(logG) / nb
		logG -= coalRate * dt[t]
	}

	prior := make([]float64, len(states))
	total := 0.0
	for i, s := range states {
		prior[i] = weight[s.Time]
		total += prior[i]
	}

	if total > 0 {
		for i := range prior {
			prior[i] /= total
		}
	}

	return prior
}
