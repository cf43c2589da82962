package hmm_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/bredelings/argweaver/pkg/hmm"
	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
	"github.com/bredelings/argweaver/pkg/trans"
)

func threeLeafTree() *localtree.LocalTree {
	t := localtree.NewLocalTree(5)
	t.Nodes[0] = localtree.LocalNode{Parent: 3, Child: [2]int{-1, -1}, Age: 0}
	t.Nodes[1] = localtree.LocalNode{Parent: 3, Child: [2]int{-1, -1}, Age: 0}
	t.Nodes[2] = localtree.LocalNode{Parent: 4, Child: [2]int{-1, -1}, Age: 0}
	t.Nodes[3] = localtree.LocalNode{Parent: 4, Child: [2]int{0, 1}, Age: 1}
	t.Nodes[4] = localtree.LocalNode{Parent: -1, Child: [2]int{3, 2}, Age: 3}
	t.Root = 4

	return t
}

func testModel(ntimes int) *model.ArgModel {
	return model.New(ntimes, 200000, 10000, 1.5e-8, 2.5e-8)
}

// blockSetup builds the tree, states, and transition matrix for one block.
func blockSetup(t *testing.T, ntimes int) (*model.ArgModel, *localtree.LocalTree,
	[]state.State, *trans.TransMatrix) {
	t.Helper()

	m := testModel(ntimes)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(ntimes)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 0, false)
	states := state.CoalStates(tree, ntimes, nil)

	return m, tree, states, tm
}

// fakeEmit builds a deterministic emission table with mild variation.
func fakeEmit(blocklen, nstates int) [][]float64 {
	emit := make([][]float64, blocklen)
	x := uint32(99)
	for i := range emit {
		emit[i] = make([]float64, nstates)
		for k := range emit[i] {
			x = x*1664525 + 1013904223
			emit[i][k] = 0.5 + float64(x>>20)/8192.0
		}
	}

	return emit
}

func uniformCols(blocklen, nstates int) [][]float64 {
	cols := make([][]float64, blocklen)
	for i := range cols {
		cols[i] = make([]float64, nstates)
	}
	for k := range cols[0] {
		cols[0][k] = 1 / float64(nstates)
	}

	return cols
}

func TestForwardBlock_FactoredMatchesSlow(t *testing.T) {
	t.Parallel()

	const (
		ntimes   = 5
		blocklen = 10
	)

	m, tree, states, tm := blockSetup(t, ntimes)
	emit := fakeEmit(blocklen, len(states))

	fast := uniformCols(blocklen, len(states))
	slow := uniformCols(blocklen, len(states))

	require.NoError(t, hmm.ForwardBlock(tree, m.NTimes(), blocklen, states, tm, emit, fast))
	require.NoError(t, hmm.ForwardBlockSlow(tree, m.NTimes(), blocklen, states, tm, emit, slow))

	for i := 0; i < blocklen; i++ {
		for k := range states {
			assert.InEpsilon(t, slow[i][k]+1e-300, fast[i][k]+1e-300, 1e-4,
				"column %d state %d", i, k)
		}
	}
}

func TestForwardBlock_ColumnsNormalized(t *testing.T) {
	t.Parallel()

	const blocklen = 12

	m, tree, states, tm := blockSetup(t, 5)
	emit := fakeEmit(blocklen, len(states))
	cols := uniformCols(blocklen, len(states))

	require.NoError(t, hmm.ForwardBlock(tree, m.NTimes(), blocklen, states, tm, emit, cols))

	for i := 0; i < blocklen; i++ {
		sum := 0.0
		for _, v := range cols[i] {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "column %d", i)
	}
}

func TestForwardBlock_ZeroEmissionsFails(t *testing.T) {
	t.Parallel()

	m, tree, states, tm := blockSetup(t, 5)

	emit := make([][]float64, 3)
	for i := range emit {
		emit[i] = make([]float64, len(states))
	}
	cols := uniformCols(3, len(states))

	err := hmm.ForwardBlock(tree, m.NTimes(), 3, states, tm, emit, cols)
	require.Error(t, err)
	assert.ErrorIs(t, err, hmm.ErrDegenerateColumn)
}

func TestForwardSwitch_IdentityEqualsContinuation(t *testing.T) {
	t.Parallel()

	m, tree, states, _ := blockSetup(t, 5)
	nstates := len(states)

	// identity switch: determ maps each state to itself with probability
	// one, no distinguished sources
	sw := &trans.TransMatrixSwitch{
		NStates1:   nstates,
		NStates2:   nstates,
		Determ:     make([]int, nstates),
		Determprob: make([]float64, nstates),
		Recombsrc:  -1,
		Recoalsrc:  -1,
		Recombrow:  make([]float64, nstates),
		Recoalrow:  make([]float64, nstates),
	}
	for j := range sw.Determ {
		sw.Determ[j] = j
		sw.Recombrow[j] = math.Inf(-1)
		sw.Recoalrow[j] = math.Inf(-1)
	}

	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	col1 := trans.CalcStatePriors(states, lc, m, 0)

	emit := fakeEmit(2, nstates)

	// switch step
	switched := make([]float64, nstates)
	require.NoError(t, hmm.ForwardSwitch(col1, switched, sw, emit[1]))

	// continuation with an identity transition: col2[k] = col1[k]*emit[k]
	want := make([]float64, nstates)
	norm := 0.0
	for k := range want {
		want[k] = col1[k] * emit[1][k]
		norm += want[k]
	}
	for k := range want {
		want[k] /= norm
	}

	for k := range want {
		assert.InDelta(t, want[k], switched[k], 1e-12, "state %d", k)
	}
}

func TestForwardSwitch_DegenerateFails(t *testing.T) {
	t.Parallel()

	sw := &trans.TransMatrixSwitch{
		NStates1:   2,
		NStates2:   2,
		Determ:     []int{-1, -1},
		Determprob: []float64{0, 0},
		Recombsrc:  -1,
		Recoalsrc:  -1,
		Recombrow:  []float64{math.Inf(-1), math.Inf(-1)},
		Recoalrow:  []float64{math.Inf(-1), math.Inf(-1)},
	}

	col2 := make([]float64, 2)
	err := hmm.ForwardSwitch([]float64{0.5, 0.5}, col2, sw, []float64{1, 1})
	assert.ErrorIs(t, err, hmm.ErrDegenerateColumn)
}

// peakyEmit puts nearly all emission mass on one target state per site.
func peakyEmit(targets []int, nstates int) [][]float64 {
	emit := make([][]float64, len(targets))
	for i := range emit {
		emit[i] = make([]float64, nstates)
		for k := range emit[i] {
			emit[i][k] = 0.01
		}
		emit[i][targets[i]] = 1
	}

	return emit
}

func TestMaxTraceback_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	const blocklen = 6

	m, tree, states, tm := blockSetup(t, 4)
	nstates := len(states)
	require.LessOrEqual(t, nstates, 12)

	// strong per-site signal keeps the joint argmax unambiguous
	targets := []int{0, 0, 2, 2, 1, 1}
	emit := peakyEmit(targets, nstates)

	lc := trans.NewLineageCounts(4)
	lc.Count(tree, false)
	prior := trans.CalcStatePriors(states, lc, m, 0)

	// forward pass over the single block
	cols := make([][]float64, blocklen)
	for i := range cols {
		cols[i] = make([]float64, nstates)
	}
	norm := 0.0
	for k := 0; k < nstates; k++ {
		cols[0][k] = prior[k] * emit[0][k]
		norm += cols[0][k]
	}
	for k := 0; k < nstates; k++ {
		cols[0][k] /= norm
	}
	require.NoError(t, hmm.ForwardBlock(tree, m.NTimes(), blocklen, states, tm, emit, cols))

	// traceback over a one-block iterator
	trees := localtree.NewLocalTrees(0, blocklen)
	trees.Blocks = []*localtree.LocalTreeSpr{{Tree: tree, Blocklen: blocklen}}

	fw := hmm.NewForwardTable(0, blocklen)
	copy(fw.Cols, cols)

	iter := &fakeIter{blocks: []*hmm.BlockMatrices{{
		Tree: tree, States: states, TransMat: tm,
		Emit: emit, BlockStart: 0, Blocklen: blocklen,
	}}}

	path := make([]int, blocklen)
	hmm.MaxTraceback(trees, m, iter, fw, path, false, false)

	// brute force the joint argmax over all state sequences
	best := make([]int, blocklen)
	bestScore := math.Inf(-1)
	seq := make([]int, blocklen)

	var enumerate func(i int, score float64)
	enumerate = func(i int, score float64) {
		if score <= math.Inf(-1) {
			return
		}
		if i == blocklen {
			if score > bestScore {
				bestScore = score
				copy(best, seq)
			}

			return
		}

		for k := 0; k < nstates; k++ {
			seq[i] = k
			var s float64
			if i == 0 {
				s = math.Log(prior[k] * emit[0][k])
			} else {
				s = math.Log(tm.Get(tree, states, seq[i-1], k) * emit[i][k])
			}
			enumerate(i+1, score+s)
		}
	}
	enumerate(0, 0)

	assert.Equal(t, best, path)
}

func TestStochasticTraceback_PathAdmissible(t *testing.T) {
	t.Parallel()

	const blocklen = 15

	m, tree, states, tm := blockSetup(t, 5)
	nstates := len(states)

	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	prior := trans.CalcStatePriors(states, lc, m, 0)

	emit := fakeEmit(blocklen, nstates)
	cols := make([][]float64, blocklen)
	for i := range cols {
		cols[i] = make([]float64, nstates)
	}
	norm := 0.0
	for k := 0; k < nstates; k++ {
		cols[0][k] = prior[k] * emit[0][k]
		norm += cols[0][k]
	}
	for k := 0; k < nstates; k++ {
		cols[0][k] /= norm
	}
	require.NoError(t, hmm.ForwardBlock(tree, m.NTimes(), blocklen, states, tm, emit, cols))

	trees := localtree.NewLocalTrees(0, blocklen)
	trees.Blocks = []*localtree.LocalTreeSpr{{Tree: tree, Blocklen: blocklen}}

	fw := hmm.NewForwardTable(0, blocklen)
	copy(fw.Cols, cols)

	iter := &fakeIter{blocks: []*hmm.BlockMatrices{{
		Tree: tree, States: states, TransMat: tm,
		Emit: emit, BlockStart: 0, Blocklen: blocklen,
	}}}

	rng := rand.New(rand.NewSource(42))
	path := make([]int, blocklen)
	_, err := hmm.StochasticTraceback(trees, m, iter, fw, path, false, false, rng)
	require.NoError(t, err)

	for i, idx := range path {
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, nstates)

		s := states[idx]
		assert.GreaterOrEqual(t, s.Time, tree.Nodes[s.Node].Age, "site %d", i)
	}
}

// fakeIter iterates a fixed slice of block bundles.
type fakeIter struct {
	blocks []*hmm.BlockMatrices
	idx    int
}

func (it *fakeIter) Begin()  { it.idx = 0 }
func (it *fakeIter) RBegin() { it.idx = len(it.blocks) - 1 }
func (it *fakeIter) More() bool {
	return it.idx >= 0 && it.idx < len(it.blocks)
}
func (it *fakeIter) Next()                        { it.idx++ }
func (it *fakeIter) Prev()                        { it.idx-- }
func (it *fakeIter) Matrices() *hmm.BlockMatrices { return it.blocks[it.idx] }
