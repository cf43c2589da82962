package hmm

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
	"github.com/bredelings/argweaver/pkg/trans"
)

// sampleIndex draws an index proportional to the non-negative weights.
func sampleIndex(weights []float64, rng *rand.Rand) (int, error) {
	w := sampleuv.NewWeighted(weights, rng)

	idx, ok := w.Take()
	if !ok {
		return -1, ErrPathDeadEnd
	}

	return idx, nil
}

// sampleHmmPosterior samples path[0..blocklen-2] backward within one
// block. path[blocklen-1] must already be set. The transition row into the
// sampled destination is cached while the destination stays the same,
// which it does along runs of constant states.
func sampleHmmPosterior(blocklen int, tree *localtree.LocalTree,
	states []state.State, tm *trans.TransMatrix,
	cols [][]float64, path []int, rng *rand.Rand) error {

	nstates := len(states)
	if nstates == 0 {
		for i := blocklen - 2; i >= 0; i-- {
			path[i] = 0
		}

		return nil
	}

	weights := make([]float64, nstates)
	transRow := make([]float64, nstates)
	lastK := -1

	for i := blocklen - 2; i >= 0; i-- {
		k := path[i+1]

		if k != lastK {
			for j := 0; j < nstates; j++ {
				transRow[j] = tm.Get(tree, states, j, k)
			}
			lastK = k
		}

		for j := 0; j < nstates; j++ {
			weights[j] = cols[i][j] * transRow[j]
		}

		j, err := sampleIndex(weights, rng)
		if err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
		path[i] = j

		if transRow[j] == 0 {
			return fmt.Errorf("column %d: %w", i, ErrPathDeadEnd)
		}
	}

	return nil
}

// sampleHmmPosteriorStep samples the source state across a switch
// boundary given the destination state2.
func sampleHmmPosteriorStep(sw *trans.TransMatrixSwitch, col1 []float64,
	state2 int, rng *rand.Rand) (int, error) {

	nstates1 := sw.NStates1
	if nstates1 < 1 {
		nstates1 = 1
	}

	weights := make([]float64, nstates1)
	for j := 0; j < nstates1; j++ {
		weights[j] = col1[j] * sw.Get(j, state2)
	}

	return sampleIndex(weights, rng)
}

// StochasticTraceback samples a state path from the forward lattice in
// reverse block order. path is indexed relative to trees.StartCoord. When
// lastStateGiven is set, path's final entry must already be filled. The
// returned value accumulates the final-column draw and switch-boundary
// terms; it is a diagnostic proxy, not a normalized likelihood.
func StochasticTraceback(trees *localtree.LocalTrees, m *model.ArgModel,
	iter MatrixIterator, fw *ForwardTable, path []int,
	lastStateGiven, internal bool, rng *rand.Rand) (float64, error) {

	lnl := 0.0
	pos := trees.EndCoord

	iter.RBegin()

	if !lastStateGiven {
		last := fw.Col(pos - 1)

		idx, err := sampleIndex(last, rng)
		if err != nil {
			return 0, fmt.Errorf("final column at site %d: %w", pos-1, err)
		}

		path[pos-1-trees.StartCoord] = idx
		lnl = math.Log(last[idx])
	}

	for ; iter.More(); iter.Prev() {
		mat := iter.Matrices()
		pos -= mat.Blocklen
		rel := pos - trees.StartCoord

		err := sampleHmmPosterior(mat.Blocklen, mat.Tree, mat.States,
			mat.TransMat, fw.Cols[rel:rel+mat.Blocklen],
			path[rel:rel+mat.Blocklen], rng)
		if err != nil {
			return 0, fmt.Errorf("block at site %d: %w", pos, err)
		}

		if pos == trees.StartCoord {
			continue
		}

		if mat.Switch != nil {
			j, err := sampleHmmPosteriorStep(mat.Switch, fw.Col(pos-1),
				path[rel], rng)
			if err != nil {
				return 0, fmt.Errorf("switch at site %d: %w", pos-1, err)
			}

			path[rel-1] = j
			lnl += math.Log(fw.Col(pos-1)[j] * mat.Switch.Get(j, path[rel]))
		} else {
			// boundary without a recombination: one ordinary step across
			err := sampleHmmPosterior(2, mat.Tree, mat.States, mat.TransMat,
				fw.Cols[rel-1:rel+1], path[rel-1:rel+1], rng)
			if err != nil {
				return 0, fmt.Errorf("continuation at site %d: %w", pos-1, err)
			}
		}
	}

	return lnl, nil
}

// maxHmmPosterior maximizes path[0..blocklen-2] backward within one block
// in log space.
func maxHmmPosterior(blocklen int, tree *localtree.LocalTree,
	states []state.State, tm *trans.TransMatrix,
	cols [][]float64, path []int) {

	nstates := len(states)
	if nstates == 0 {
		for i := blocklen - 2; i >= 0; i-- {
			path[i] = 0
		}

		return
	}

	transRow := make([]float64, nstates)
	lastK := -1

	for i := blocklen - 2; i >= 0; i-- {
		k := path[i+1]

		if k != lastK {
			for j := 0; j < nstates; j++ {
				transRow[j] = tm.GetLog(tree, states, j, k)
			}
			lastK = k
		}

		maxj := 0
		maxprob := math.Log(cols[i][0]) + transRow[0]
		for j := 1; j < nstates; j++ {
			prob := math.Log(cols[i][j]) + transRow[j]
			if prob > maxprob {
				maxj = j
				maxprob = prob
			}
		}
		path[i] = maxj
	}
}

// maxHmmPosteriorStep maximizes the source state across a switch boundary.
func maxHmmPosteriorStep(sw *trans.TransMatrixSwitch, col1 []float64, state2 int) int {
	nstates1 := sw.NStates1
	if nstates1 < 1 {
		nstates1 = 1
	}

	maxj := 0
	maxprob := math.Log(col1[0]) + sw.GetLog(0, state2)
	for j := 1; j < nstates1; j++ {
		prob := math.Log(col1[j]) + sw.GetLog(j, state2)
		if prob > maxprob {
			maxj = j
			maxprob = prob
		}
	}

	return maxj
}

// MaxTraceback recovers the Viterbi path from the forward lattice in
// reverse block order, in log space. path is indexed relative to
// trees.StartCoord.
func MaxTraceback(trees *localtree.LocalTrees, m *model.ArgModel,
	iter MatrixIterator, fw *ForwardTable, path []int,
	lastStateGiven, internal bool) {

	pos := trees.EndCoord

	iter.RBegin()

	if !lastStateGiven {
		last := fw.Col(pos - 1)

		maxi := 0
		for i := 1; i < len(last); i++ {
			if last[i] > last[maxi] {
				maxi = i
			}
		}
		path[pos-1-trees.StartCoord] = maxi
	}

	for ; iter.More(); iter.Prev() {
		mat := iter.Matrices()
		pos -= mat.Blocklen
		rel := pos - trees.StartCoord

		maxHmmPosterior(mat.Blocklen, mat.Tree, mat.States, mat.TransMat,
			fw.Cols[rel:rel+mat.Blocklen], path[rel:rel+mat.Blocklen])

		if pos == trees.StartCoord {
			continue
		}

		if mat.Switch != nil {
			path[rel-1] = maxHmmPosteriorStep(mat.Switch, fw.Col(pos-1), path[rel])
		} else {
			maxHmmPosterior(2, mat.Tree, mat.States, mat.TransMat,
				fw.Cols[rel-1:rel+1], path[rel-1:rel+1])
		}
	}
}
