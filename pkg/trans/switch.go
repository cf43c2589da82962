package trans

import (
	"math"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
)

// TransMatrixSwitch is the cross-block transition operator applied at a
// recombination breakpoint. Every source state but two moves
// deterministically to Determ[j] with log-probability Determprob[j]; the
// source that sat on the recombination point (Recombsrc) and the one that
// sat on the re-coalescence point (Recoalsrc) spread over all destinations
// per Recombrow and Recoalrow.
type TransMatrixSwitch struct {
	NStates1 int
	NStates2 int

	Determ     []int
	Determprob []float64

	Recombsrc int
	Recoalsrc int
	Recombrow []float64
	Recoalrow []float64
}

// Get returns the transition probability from source j to destination k.
func (sw *TransMatrixSwitch) Get(j, k int) float64 {
	return math.Exp(sw.GetLog(j, k))
}

// GetLog returns the log transition probability from source j to
// destination k, -Inf where the move is impossible.
func (sw *TransMatrixSwitch) GetLog(j, k int) float64 {
	if j == sw.Recombsrc {
		return sw.Recombrow[k]
	}
	if j == sw.Recoalsrc {
		return sw.Recoalrow[k]
	}
	if sw.Determ[j] == k {
		return sw.Determprob[j]
	}

	return math.Inf(-1)
}

// CalcTransMatrixSwitch builds the switch operator for the breakpoint
// between tree1 and tree2 = tree1 transformed by spr. Node ids are stable
// across ApplySpr, so a source state maps to the same (node, time) pair
// when that pair is still admissible; states invalidated by the broken or
// re-coalesced edges are redirected onto the edges that absorbed their
// span.
func CalcTransMatrixSwitch(m *model.ArgModel, tree1, tree2 *localtree.LocalTree,
	spr localtree.Spr, states1, states2 []state.State,
	tm1 *TransMatrix, lineages2 *LineageCounts, minage int) *TransMatrixSwitch {

	sw := &TransMatrixSwitch{
		NStates1:   len(states1),
		NStates2:   len(states2),
		Determ:     make([]int, len(states1)),
		Determprob: make([]float64, len(states1)),
		Recombsrc:  state.Find(states1, state.State{Node: spr.RecombNode, Time: spr.RecombTime}),
		Recoalsrc:  state.Find(states1, state.State{Node: spr.CoalNode, Time: spr.CoalTime}),
		Recombrow:  make([]float64, len(states2)),
		Recoalrow:  make([]float64, len(states2)),
	}

	lookup2 := state.NewNodeStateLookup(states2, tree2.NNodes())
	valid := func(node, time int) int {
		idx := lookup2.Lookup(node, time)
		if idx < 0 || idx >= len(states2) {
			return -1
		}
		if states2[idx] != (state.State{Node: node, Time: time}) {
			return -1
		}

		return idx
	}

	broken := tree1.Nodes[spr.RecombNode].Parent
	var sib int
	if broken != localtree.NullNode {
		sib = tree1.Sibling(spr.RecombNode)
	}

	for j, s := range states1 {
		idx := valid(s.Node, s.Time)

		if idx == -1 && s.Node == broken {
			// the broken node was spliced out of this edge; its span
			// merged into the sibling edge
			idx = valid(sib, s.Time)
		}
		if idx == -1 && s.Node == spr.CoalNode {
			// the re-coalescence split this edge; the upper span now
			// belongs to the regrafted node
			idx = valid(broken, s.Time)
		}

		sw.Determ[j] = idx
		sw.Determprob[j] = math.Log(tm1.NoRecomb[s.Time])
	}

	// the two distinguished sources redistribute over destinations with
	// the prior weight of a fresh re-coalescence
	prior2 := CalcStatePriors(states2, lineages2, m, minage)
	fillRow := func(row []float64, mintimeIdx int) {
		for k := range row {
			if states2[k].Time >= mintimeIdx && prior2[k] > 0 {
				row[k] = math.Log(prior2[k])
			} else {
				row[k] = math.Inf(-1)
			}
		}
	}

	for k := range sw.Recombrow {
		sw.Recombrow[k] = math.Inf(-1)
		sw.Recoalrow[k] = math.Inf(-1)
	}
	if sw.Recombsrc >= 0 {
		fillRow(sw.Recombrow, spr.RecombTime)
	}
	if sw.Recoalsrc >= 0 {
		fillRow(sw.Recoalrow, minage)
	}

	return sw
}
