// Package thread orchestrates chromosome threading: it walks an ancestral
// recombination graph block by block, runs the forward pass and a
// traceback over the coalescence-state HMM, samples recombination
// positions consistent with the resulting trajectory, and splices the new
// lineage into the graph.
package thread

import (
	"github.com/bredelings/argweaver/pkg/emit"
	"github.com/bredelings/argweaver/pkg/hmm"
	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
	"github.com/bredelings/argweaver/pkg/state"
	"github.com/bredelings/argweaver/pkg/trans"
)

// MatrixIter is a bidirectional cursor over an ARG's blocks yielding the
// per-block matrices the HMM passes consume. All blocks are materialized
// up front; a yielded block's storage belongs to the iterator and should
// not be retained once the cursor advances.
type MatrixIter struct {
	blocks []*hmm.BlockMatrices
	idx    int
}

// NewMatrixIter builds the per-block matrices for threading. seqRows is
// indexed by tree leaf id with the threaded chromosome's row appended
// after the existing leaves (see BuildSeqRows); pass nil to skip emission
// computation for traceback-only use. internal selects subtree-regraft
// threading.
func NewMatrixIter(m *model.ArgModel, seqRows [][]byte,
	trees *localtree.LocalTrees, internal bool) *MatrixIter {

	ntimes := m.NTimes()
	it := &MatrixIter{blocks: make([]*hmm.BlockMatrices, 0, trees.NumTrees())}

	lineages := trans.NewLineageCounts(ntimes)

	var prevTree *localtree.LocalTree
	var prevStates []state.State
	var prevTm *trans.TransMatrix

	pos := trees.StartCoord
	for _, b := range trees.Blocks {
		tree := b.Tree

		var states []state.State
		if internal {
			states = state.CoalStatesInternal(tree, ntimes, nil)
		} else {
			states = state.CoalStates(tree, ntimes, nil)
		}

		minage := state.Minage(tree, internal)
		lineages.Count(tree, internal)
		tm := trans.CalcTransMatrix(m, tree, lineages, minage, internal)

		var sw *trans.TransMatrixSwitch
		if prevTree != nil && b.Spr != nil {
			sw = trans.CalcTransMatrixSwitch(m, prevTree, tree, *b.Spr,
				prevStates, states, prevTm, lineages, minage)
		}

		var emitTable [][]float64
		if seqRows != nil {
			emitTable = make([][]float64, b.Blocklen)
			nstates := len(states)
			if nstates == 0 {
				nstates = 1
			}
			for i := range emitTable {
				emitTable[i] = make([]float64, nstates)
			}

			rows := sliceRows(seqRows, pos-trees.StartCoord, pos-trees.StartCoord+b.Blocklen)
			if internal {
				emit.CalcEmissionsInternal(states, tree, rows, b.Blocklen, m, emitTable)
			} else {
				emit.CalcEmissions(states, tree, rows, b.Blocklen, m, emitTable)
			}
		}

		it.blocks = append(it.blocks, &hmm.BlockMatrices{
			Tree:       tree,
			Spr:        b.Spr,
			States:     states,
			TransMat:   tm,
			Switch:     sw,
			Emit:       emitTable,
			BlockStart: pos,
			Blocklen:   b.Blocklen,
		})

		prevTree, prevStates, prevTm = tree, states, tm
		pos += b.Blocklen
	}

	return it
}

// sliceRows windows every row onto [start, end).
func sliceRows(rows [][]byte, start, end int) [][]byte {
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = r[start:end]
	}

	return out
}

// Begin resets the cursor to the first block.
func (it *MatrixIter) Begin() {
	it.idx = 0
}

// RBegin resets the cursor to the last block for reverse iteration.
func (it *MatrixIter) RBegin() {
	it.idx = len(it.blocks) - 1
}

// More reports whether the cursor is on a valid block.
func (it *MatrixIter) More() bool {
	return it.idx >= 0 && it.idx < len(it.blocks)
}

// Next advances the cursor forward.
func (it *MatrixIter) Next() {
	it.idx++
}

// Prev advances the cursor backward.
func (it *MatrixIter) Prev() {
	it.idx--
}

// Matrices returns the current block's bundle.
func (it *MatrixIter) Matrices() *hmm.BlockMatrices {
	return it.blocks[it.idx]
}

// NumBlocks returns the number of blocks the iterator covers.
func (it *MatrixIter) NumBlocks() int {
	return len(it.blocks)
}

// BuildSeqRows arranges alignment rows by tree leaf id for external
// threading: leaf i carries the row the ARG's seqid map names, and the
// threaded chromosome's row comes last, where the grafted leaf will live.
func BuildSeqRows(sequences *seqs.Sequences, trees *localtree.LocalTrees,
	newChrom int) [][]byte {

	nleaves := trees.Front().Tree.NumLeaves()
	rows := make([][]byte, 0, nleaves+1)
	for leaf := 0; leaf < nleaves; leaf++ {
		rows = append(rows, sequences.Seqs[trees.Seqid(leaf)])
	}

	return append(rows, sequences.Seqs[newChrom])
}
