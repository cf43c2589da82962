// Package hmm runs the hidden-Markov-model passes of the threading engine:
// a column-normalized forward pass over the block iterator, and the
// stochastic and Viterbi tracebacks that recover a coalescence-point
// trajectory from the forward lattice.
package hmm

import (
	"errors"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/state"
	"github.com/bredelings/argweaver/pkg/trans"
)

// Fatal error kinds surfaced by the forward and traceback passes.
var (
	// ErrDegenerateColumn reports a forward column with no probability
	// mass.
	ErrDegenerateColumn = errors.New("forward column has no mass")

	// ErrNaNTransition reports a NaN in a transition table, signalling
	// corrupted upstream parameters.
	ErrNaNTransition = errors.New("transition table entry is NaN")

	// ErrPathDeadEnd reports a traceback step with no admissible source
	// state, meaning the forward table and transition operator disagree.
	ErrPathDeadEnd = errors.New("traceback path dead end")

	// ErrStateNotFound reports a pinned conditioning state absent from a
	// block's state set.
	ErrStateNotFound = errors.New("conditioning state not found in block states")
)

// BlockMatrices bundles everything the HMM passes need for one genomic
// block. The storage is owned by the iterator and is only valid until the
// iterator advances.
type BlockMatrices struct {
	Tree     *localtree.LocalTree
	Spr      *localtree.Spr
	States   []state.State
	TransMat *trans.TransMatrix

	// Switch is nil on the first block and on boundaries without a
	// recombination.
	Switch *trans.TransMatrixSwitch

	// Emit holds one emission column per site of the block.
	Emit [][]float64

	BlockStart int
	Blocklen   int
}

// NStates returns the block's state-space size, never below 1: a fully
// specified internal-threading block still carries one degenerate state.
func (bm *BlockMatrices) NStates() int {
	if len(bm.States) == 0 {
		return 1
	}

	return len(bm.States)
}

// MatrixIterator is a cursor over the blocks of an ARG. Forward iteration
// is Begin/More/Next; reverse is RBegin/More/Prev. Matrices returns the
// current block and stays valid until the next advance.
type MatrixIterator interface {
	Begin()
	RBegin()
	More() bool
	Next()
	Prev()
	Matrices() *BlockMatrices
}

// ForwardTable holds one normalized probability column per genomic site.
type ForwardTable struct {
	StartCoord int
	Cols       [][]float64
}

// NewForwardTable allocates a table covering length sites from start.
func NewForwardTable(start, length int) *ForwardTable {
	return &ForwardTable{
		StartCoord: start,
		Cols:       make([][]float64, length),
	}
}

// NewBlock allocates columns of width nstates for positions [start, end).
func (f *ForwardTable) NewBlock(start, end, nstates int) {
	if nstates < 1 {
		nstates = 1
	}

	for pos := start; pos < end; pos++ {
		f.Cols[pos-f.StartCoord] = make([]float64, nstates)
	}
}

// Col returns the column at absolute position pos.
func (f *ForwardTable) Col(pos int) []float64 {
	return f.Cols[pos-f.StartCoord]
}
