package hmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
	"github.com/bredelings/argweaver/pkg/trans"
)

// ForwardBlock fills cols[1..blocklen-1] of one block using the factored
// transition matrix: source states are contracted into per-time groups,
// the time-only baseline is applied with one ntimes x ntimes product, and
// only the contiguous same-branch runs are corrected per state. cols[0]
// must be pre-populated; emit[i] is the emission column for cols[i]
// (emit[0] is unused).
func ForwardBlock(tree *localtree.LocalTree, ntimes, blocklen int,
	states []state.State, tm *trans.TransMatrix,
	emit [][]float64, cols [][]float64) error {

	nstates := len(states)
	minage := tm.Minage

	// fully specified internal-threading block: single degenerate state
	if nstates == 0 {
		for i := 1; i < blocklen; i++ {
			cols[i][0] = cols[i-1][0]
		}

		return nil
	}

	// time-only baseline and per-state same-branch corrections
	tmatrix := make([][]float64, ntimes)
	tmatrix2 := make([][]float64, ntimes)
	for a := 0; a < ntimes; a++ {
		tmatrix[a] = make([]float64, ntimes)
		tmatrix2[a] = make([]float64, nstates)

		for b := 0; b < ntimes; b++ {
			v := tm.GetTime(a, b, 0, minage, false)
			if math.IsNaN(v) {
				return fmt.Errorf("%w: times %d -> %d", ErrNaNTransition, a, b)
			}
			tmatrix[a][b] = v
		}

		for k := 0; k < nstates; k++ {
			b := states[k].Time
			c := tree.Nodes[states[k].Node].Age
			tmatrix2[a][k] = tm.GetTime(a, b, c, minage, true) -
				tm.GetTime(a, b, 0, minage, false)
		}
	}

	// per-branch state runs: ages1 is the bottom of each branch's span,
	// ages2 the top, indexes the run's first state index
	maxtime := 0
	for _, s := range states {
		if s.Time > maxtime {
			maxtime = s.Time
		}
	}

	lookup := state.NewNodeStateLookup(states, tree.NNodes())
	nnodes := tree.NNodes()
	ages1 := make([]int, nnodes)
	ages2 := make([]int, nnodes)
	indexes := make([]int, nnodes)
	for i := 0; i < nnodes; i++ {
		ages1[i] = tree.Nodes[i].Age
		if ages1[i] < minage {
			ages1[i] = minage
		}
		indexes[i] = lookup.Lookup(i, ages1[i])

		parent := tree.Nodes[i].Parent
		if parent == localtree.NullNode || tree.Nodes[parent].Age >= ntimes {
			ages2[i] = maxtime
		} else {
			ages2[i] = tree.Nodes[parent].Age
		}
	}

	fgroups := make([]float64, ntimes)
	tfgroups := make([]float64, ntimes)

	for i := 1; i < blocklen; i++ {
		col1 := cols[i-1]
		col2 := cols[i]
		emit2 := emit[i]

		for a := range fgroups {
			fgroups[a] = 0
		}
		for j := 0; j < nstates; j++ {
			fgroups[states[j].Time] += col1[j]
		}

		for b := 0; b < ntimes; b++ {
			sum := 0.0
			for a := 0; a < ntimes; a++ {
				sum += tmatrix[a][b] * fgroups[a]
			}
			tfgroups[b] = sum
		}

		for k := 0; k < nstates; k++ {
			b := states[k].Time
			node2 := states[k].Node

			sum := tfgroups[b]
			for j, a := indexes[node2], ages1[node2]; a <= ages2[node2]; j, a = j+1, a+1 {
				sum += tmatrix2[a][k] * col1[j]
			}

			col2[k] = sum * emit2[k]
		}

		norm := floats.Sum(col2)
		if !(floats.Max(col2) > 0) {
			return fmt.Errorf("%w: block column %d", ErrDegenerateColumn, i)
		}
		floats.Scale(1/norm, col2)
	}

	return nil
}

// ForwardBlockSlow fills the block with a dense state-by-state transition
// matrix. It is quadratic in the state count and exists to test
// ForwardBlock against.
func ForwardBlockSlow(tree *localtree.LocalTree, ntimes, blocklen int,
	states []state.State, tm *trans.TransMatrix,
	emit [][]float64, cols [][]float64) error {

	nstates := len(states)
	if nstates == 0 {
		for i := 1; i < blocklen; i++ {
			cols[i][0] = cols[i-1][0]
		}

		return nil
	}

	transmat := make([][]float64, nstates)
	for j := 0; j < nstates; j++ {
		transmat[j] = make([]float64, nstates)
		for k := 0; k < nstates; k++ {
			transmat[j][k] = tm.Get(tree, states, j, k)
		}
	}

	for i := 1; i < blocklen; i++ {
		col1 := cols[i-1]
		col2 := cols[i]

		for k := 0; k < nstates; k++ {
			sum := 0.0
			for j := 0; j < nstates; j++ {
				sum += col1[j] * transmat[j][k]
			}
			col2[k] = sum * emit[i][k]
		}

		norm := floats.Sum(col2)
		if !(floats.Max(col2) > 0) {
			return fmt.Errorf("%w: block column %d", ErrDegenerateColumn, i)
		}
		floats.Scale(1/norm, col2)
	}

	return nil
}

// ForwardSwitch computes the first column of a block across a
// recombination breakpoint: deterministic sources concentrate on their
// mapped destination, the two distinguished sources spread over their
// rows, and the new block's first emission column is applied.
func ForwardSwitch(col1, col2 []float64, sw *trans.TransMatrixSwitch, emit []float64) error {
	nstates1 := sw.NStates1
	if nstates1 < 1 {
		nstates1 = 1
	}
	nstates2 := sw.NStates2
	if nstates2 < 1 {
		nstates2 = 1
	}

	for k := 0; k < nstates2; k++ {
		col2[k] = 0
	}

	for j := 0; j < nstates1; j++ {
		k := sw.Determ[j]
		if j != sw.Recombsrc && j != sw.Recoalsrc && k != -1 {
			col2[k] += col1[j] * math.Exp(sw.Determprob[j])
		}
	}

	for k := 0; k < nstates2; k++ {
		if sw.Recombsrc != -1 && !math.IsInf(sw.Recombrow[k], -1) {
			col2[k] += col1[sw.Recombsrc] * math.Exp(sw.Recombrow[k])
		}
		if sw.Recoalsrc != -1 && !math.IsInf(sw.Recoalrow[k], -1) {
			col2[k] += col1[sw.Recoalsrc] * math.Exp(sw.Recoalrow[k])
		}
		col2[k] *= emit[k]
	}

	if !(floats.Max(col2[:nstates2]) > 0) {
		return ErrDegenerateColumn
	}

	floats.Scale(1/floats.Sum(col2[:nstates2]), col2[:nstates2])

	return nil
}

// ForwardAlg runs the forward pass over every block of the iterator,
// filling the forward table. When priorGiven is set, the caller has
// pre-populated the first column; otherwise the state prior seeds it. The
// slow flag selects the dense per-block recurrence.
func ForwardAlg(trees *localtree.LocalTrees, m *model.ArgModel,
	iter MatrixIterator, fw *ForwardTable,
	priorGiven, internal, slow bool) error {

	lineages := trans.NewLineageCounts(m.NTimes())
	var localModel model.ArgModel

	for iter.Begin(); iter.More(); iter.Next() {
		mat := iter.Matrices()
		pos := mat.BlockStart
		blocklen := mat.Blocklen
		m.GetLocalModel(pos, &localModel)

		if pos > trees.StartCoord || !priorGiven {
			fw.NewBlock(pos, pos+blocklen, mat.NStates())
		}

		first := pos
		emit := mat.Emit

		switch {
		case pos == trees.StartCoord:
			if !priorGiven {
				lineages.Count(mat.Tree, internal)
				minage := state.Minage(mat.Tree, internal)
				prior := trans.CalcStatePriors(mat.States, lineages, &localModel, minage)

				col := fw.Col(pos)
				if len(mat.States) == 0 {
					col[0] = 1
				} else {
					copy(col, prior)
				}
			}

		case mat.Switch != nil:
			err := ForwardSwitch(fw.Col(pos-1), fw.Col(pos), mat.Switch, emit[0])
			if err != nil {
				return fmt.Errorf("switch into site %d: %w", pos, err)
			}

		default:
			// no recombination at this boundary: extend the previous
			// block's recurrence by one column
			first = pos - 1
			emit = append([][]float64{nil}, emit...)
			blocklen++
		}

		cols := fw.Cols[first-fw.StartCoord : first-fw.StartCoord+blocklen]
		if !(floats.Max(cols[0]) > 0) {
			return fmt.Errorf("site %d: %w", first, ErrDegenerateColumn)
		}

		var err error
		if slow {
			err = ForwardBlockSlow(mat.Tree, m.NTimes(), blocklen, mat.States,
				mat.TransMat, emit, cols)
		} else {
			err = ForwardBlock(mat.Tree, m.NTimes(), blocklen, mat.States,
				mat.TransMat, emit, cols)
		}
		if err != nil {
			return fmt.Errorf("block at site %d: %w", pos, err)
		}

		if !(floats.Max(fw.Col(pos+mat.Blocklen-1)) > 0) {
			return fmt.Errorf("site %d: %w", pos+mat.Blocklen-1, ErrDegenerateColumn)
		}
	}

	return nil
}
