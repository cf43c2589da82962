package trans_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestLineageCounts(t *testing.T) {
	t.Parallel()

	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)

	// three branches below time 1, two between 1 and 3, none above the
	// root age
	assert.Equal(t, 3, lc.Nbranches[0])
	assert.Equal(t, 2, lc.Nbranches[1])
	assert.Equal(t, 2, lc.Nbranches[2])
	assert.Equal(t, 0, lc.Nbranches[3])
}

func TestTransMatrix_RowsPositive(t *testing.T) {
	t.Parallel()

	m := testModel(5)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 0, false)

	states := state.CoalStates(tree, 5, nil)
	for j := range states {
		sum := 0.0
		for k := range states {
			v := tm.Get(tree, states, j, k)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.False(t, math.IsNaN(v))
			sum += v
		}
		assert.Greater(t, sum, 0.0, "row %d has no mass", j)
	}
}

func TestTransMatrix_DiagonalDominant(t *testing.T) {
	t.Parallel()

	// with a tiny rho, staying put dominates every move
	m := testModel(5)
	m.Rho = 1e-10
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 0, false)

	states := state.CoalStates(tree, 5, nil)
	for j := range states {
		for k := range states {
			if k == j {
				continue
			}
			assert.Less(t, tm.Get(tree, states, j, k), tm.Get(tree, states, j, j))
		}
	}
}

func TestTransMatrix_FactoredMatchesDense(t *testing.T) {
	t.Parallel()

	m := testModel(5)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 0, false)

	states := state.CoalStates(tree, 5, nil)
	for j, sj := range states {
		for k, sk := range states {
			want := tm.GetTime(sj.Time, sk.Time, tree.Nodes[sk.Node].Age, 0,
				sj.Node == sk.Node)
			assert.InDelta(t, want, tm.Get(tree, states, j, k), 1e-15)
		}
	}
}

func TestTransMatrix_MinageZeroesBelow(t *testing.T) {
	t.Parallel()

	m := testModel(6)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(6)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 2, false)

	assert.InDelta(t, 0.0, tm.GetTime(1, 3, 0, 2, false), 0)
	assert.InDelta(t, 0.0, tm.GetTime(3, 1, 0, 2, false), 0)
	assert.Greater(t, tm.GetTime(2, 3, 0, 2, false), 0.0)
}

func TestTransMatrix_GetLog(t *testing.T) {
	t.Parallel()

	m := testModel(5)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)
	tm := trans.CalcTransMatrix(m, tree, lc, 0, false)

	states := state.CoalStates(tree, 5, nil)
	v := tm.Get(tree, states, 0, 1)
	require.Greater(t, v, 0.0)
	assert.InDelta(t, math.Log(v), tm.GetLog(tree, states, 0, 1), 1e-12)
}

func TestCalcStatePriors_Normalized(t *testing.T) {
	t.Parallel()

	m := testModel(5)
	tree := threeLeafTree()
	lc := trans.NewLineageCounts(5)
	lc.Count(tree, false)

	states := state.CoalStates(tree, 5, nil)
	prior := trans.CalcStatePriors(states, lc, m, 0)
	require.Len(t, prior, len(states))

	sum := 0.0
	for _, p := range prior {
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSwitchMatrix_DetermMapsStableStates(t *testing.T) {
	t.Parallel()

	m := testModel(5)
	tree1 := threeLeafTree()
	lc1 := trans.NewLineageCounts(5)
	lc1.Count(tree1, false)
	tm1 := trans.CalcTransMatrix(m, tree1, lc1, 0, false)

	// recombination on leaf 2's branch at time 1, re-coalescing onto
	// leaf 0's branch at time 1
	spr := localtree.Spr{RecombNode: 2, RecombTime: 1, CoalNode: 0, CoalTime: 1}
	tree2 := tree1.Clone()
	tree2.ApplySpr(spr)

	states1 := state.CoalStates(tree1, 5, nil)
	states2 := state.CoalStates(tree2, 5, nil)
	lc2 := trans.NewLineageCounts(5)
	lc2.Count(tree2, false)

	sw := trans.CalcTransMatrixSwitch(m, tree1, tree2, spr, states1, states2, tm1, lc2, 0)

	require.Equal(t, len(states1), sw.NStates1)
	require.Equal(t, len(states2), sw.NStates2)

	// a state far from the disruption maps onto itself
	j := state.Find(states1, state.State{Node: 1, Time: 0})
	require.GreaterOrEqual(t, j, 0)
	k := sw.Determ[j]
	require.GreaterOrEqual(t, k, 0)
	assert.Equal(t, state.State{Node: 1, Time: 0}, states2[k])

	// the distinguished sources exist and carry spread rows
	require.GreaterOrEqual(t, sw.Recombsrc, 0)
	hasMass := false
	for k := range states2 {
		if !math.IsInf(sw.Recombrow[k], -1) {
			hasMass = true
			assert.GreaterOrEqual(t, states2[k].Time, spr.RecombTime)
		}
	}
	assert.True(t, hasMass)
}

func TestSwitchMatrix_GetConsistentWithRows(t *testing.T) {
	t.Parallel()

	sw := &trans.TransMatrixSwitch{
		NStates1:   3,
		NStates2:   3,
		Determ:     []int{0, 1, 2},
		Determprob: []float64{0, 0, 0},
		Recombsrc:  -1,
		Recoalsrc:  -1,
		Recombrow:  []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
		Recoalrow:  []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}

	for j := 0; j < 3; j++ {
		for k := 0; k < 3; k++ {
			if j == k {
				assert.InDelta(t, 1.0, sw.Get(j, k), 1e-12)
			} else {
				assert.InDelta(t, 0.0, sw.Get(j, k), 0)
			}
		}
	}
}
