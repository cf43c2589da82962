package thread

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/rand"

	"github.com/bredelings/argweaver/pkg/hmm"
	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
	"github.com/bredelings/argweaver/pkg/state"
)

// SampleArgThread threads chromosome newChrom into the ARG by sampling a
// coalescence trajectory from the HMM posterior.
func SampleArgThread(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, newChrom int, rng *rand.Rand) error {

	fw := hmm.NewForwardTable(trees.StartCoord, trees.Length())
	path := make([]int, trees.Length())
	rows := BuildSeqRows(sequences, trees, newChrom)

	iter := NewMatrixIter(m, rows, trees, false)
	iter.Begin()
	nstates := iter.Matrices().NStates()

	start := time.Now()
	if err := hmm.ForwardAlg(trees, m, iter, fw, false, false, false); err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	slog.Debug("forward pass done",
		"states", nstates,
		"blocks", iter.NumBlocks(),
		"elapsed", time.Since(start))

	start = time.Now()
	if _, err := hmm.StochasticTraceback(trees, m, iter, fw, path, false, false, rng); err != nil {
		return fmt.Errorf("traceback: %w", err)
	}
	slog.Debug("traceback done", "elapsed", time.Since(start))

	start = time.Now()
	positions, recombs := SampleRecombinations(trees, m, iter, path, false, rng)
	AddArgThread(trees, m.NTimes(), path, newChrom, positions, recombs)
	slog.Debug("thread added", "recombs", len(recombs), "elapsed", time.Since(start))

	return nil
}

// MaxArgThread threads chromosome newChrom into the ARG along the Viterbi
// trajectory.
func MaxArgThread(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, newChrom int) error {

	fw := hmm.NewForwardTable(trees.StartCoord, trees.Length())
	path := make([]int, trees.Length())
	rows := BuildSeqRows(sequences, trees, newChrom)

	iter := NewMatrixIter(m, rows, trees, false)

	if err := hmm.ForwardAlg(trees, m, iter, fw, false, false, false); err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	hmm.MaxTraceback(trees, m, iter, fw, path, false, false)

	positions, recombs := MaxRecombinations(trees, m, iter, path, false)
	AddArgThread(trees, m.NTimes(), path, newChrom, positions, recombs)

	return nil
}

// pinStartState one-hots the first forward column at startState.
func pinStartState(trees *localtree.LocalTrees, iter *MatrixIter,
	fw *hmm.ForwardTable, startState state.State) error {

	iter.Begin()
	mat := iter.Matrices()

	j := state.Find(mat.States, startState)
	if j == -1 {
		return fmt.Errorf("start state (node %d, time %d): %w",
			startState.Node, startState.Time, hmm.ErrStateNotFound)
	}

	fw.NewBlock(mat.BlockStart, mat.BlockStart+mat.Blocklen, mat.NStates())
	col := fw.Col(trees.StartCoord)
	for i := range col {
		col[i] = 0
	}
	col[j] = 1

	return nil
}

// pinEndState seeds the traceback's final entry with endState.
func pinEndState(trees *localtree.LocalTrees, iter *MatrixIter,
	path []int, endState state.State) error {

	iter.RBegin()
	mat := iter.Matrices()

	j := state.Find(mat.States, endState)
	if j == -1 {
		return fmt.Errorf("end state (node %d, time %d): %w",
			endState.Node, endState.Time, hmm.ErrStateNotFound)
	}

	path[len(path)-1] = j

	return nil
}

// CondSampleArgThread threads chromosome newChrom conditioned on pinned
// start and end coalescence states; a null pin on either side means
// "sample it".
func CondSampleArgThread(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, newChrom int,
	startState, endState state.State, rng *rand.Rand) error {

	fw := hmm.NewForwardTable(trees.StartCoord, trees.Length())
	path := make([]int, trees.Length())
	rows := BuildSeqRows(sequences, trees, newChrom)

	iter := NewMatrixIter(m, rows, trees, false)

	priorGiven := false
	if !startState.IsNull() {
		if err := pinStartState(trees, iter, fw, startState); err != nil {
			return err
		}
		priorGiven = true
	}

	if err := hmm.ForwardAlg(trees, m, iter, fw, priorGiven, false, false); err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	lastStateGiven := false
	if !endState.IsNull() {
		if err := pinEndState(trees, iter, path, endState); err != nil {
			return err
		}
		lastStateGiven = true
	}

	if _, err := hmm.StochasticTraceback(trees, m, iter, fw, path, lastStateGiven, false, rng); err != nil {
		return fmt.Errorf("traceback: %w", err)
	}

	positions, recombs := SampleRecombinations(trees, m, iter, path, false, rng)
	AddArgThread(trees, m.NTimes(), path, newChrom, positions, recombs)

	return nil
}

// ResampleArgThread detaches chromosome chrom from the ARG and threads it
// back in.
func ResampleArgThread(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, chrom int, rng *rand.Rand) error {

	localtree.RemoveArgThread(trees, chrom)

	return SampleArgThread(m, sequences, trees, chrom, rng)
}

// SampleArgThreadInternal resamples the placement of the subtree hanging
// off each local tree's virtual root, regrafting it along a sampled
// trajectory. The ARG must already carry the detached-path structure.
func SampleArgThreadInternal(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, rng *rand.Rand) error {

	fw := hmm.NewForwardTable(trees.StartCoord, trees.Length())
	path := make([]int, trees.Length())

	iter := NewMatrixIter(m, sequences.Seqs, trees, true)

	if err := hmm.ForwardAlg(trees, m, iter, fw, false, true, false); err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	if _, err := hmm.StochasticTraceback(trees, m, iter, fw, path, false, true, rng); err != nil {
		return fmt.Errorf("traceback: %w", err)
	}

	positions, recombs := SampleRecombinations(trees, m, iter, path, true, rng)
	AddArgThreadPath(trees, m.NTimes(), path, positions, recombs)

	return nil
}

// CondSampleArgThreadInternal is SampleArgThreadInternal with optional
// pinned start and end states.
func CondSampleArgThreadInternal(m *model.ArgModel, sequences *seqs.Sequences,
	trees *localtree.LocalTrees, startState, endState state.State,
	rng *rand.Rand) error {

	fw := hmm.NewForwardTable(trees.StartCoord, trees.Length())
	path := make([]int, trees.Length())

	iter := NewMatrixIter(m, sequences.Seqs, trees, true)

	priorGiven := false
	iter.Begin()
	first := iter.Matrices()

	if len(first.States) == 0 {
		fw.NewBlock(first.BlockStart, first.BlockStart+first.Blocklen, 1)
		fw.Col(trees.StartCoord)[0] = 1
		priorGiven = true
	} else if !startState.IsNull() {
		if err := pinStartState(trees, iter, fw, startState); err != nil {
			return err
		}
		priorGiven = true
	}

	if err := hmm.ForwardAlg(trees, m, iter, fw, priorGiven, true, false); err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	lastStateGiven := false
	iter.RBegin()
	last := iter.Matrices()

	if len(last.States) == 0 {
		path[len(path)-1] = 0
		lastStateGiven = true
	} else if !endState.IsNull() {
		if err := pinEndState(trees, iter, path, endState); err != nil {
			return err
		}
		lastStateGiven = true
	}

	if _, err := hmm.StochasticTraceback(trees, m, iter, fw, path, lastStateGiven, true, rng); err != nil {
		return fmt.Errorf("traceback: %w", err)
	}

	positions, recombs := SampleRecombinations(trees, m, iter, path, true, rng)
	AddArgThreadPath(trees, m.NTimes(), path, positions, recombs)

	return nil
}
