// Package trans builds the transition operators of the threading HMM: the
// factored within-block transition matrix, the switch matrix applied at
// recombination breakpoints, and the coalescence-state prior.
package trans

import "github.com/bredelings/argweaver/pkg/localtree"

// LineageCounts tallies how many tree branches span each time interval.
type LineageCounts struct {
	Nbranches []int
}

// NewLineageCounts allocates counts for an ntimes-point grid.
func NewLineageCounts(ntimes int) *LineageCounts {
	return &LineageCounts{Nbranches: make([]int, ntimes)}
}

// Count fills the per-interval branch counts for tree. In internal mode
// the detached subtree's stub edge to the virtual root is ignored, as is
// the virtual root itself.
func (lc *LineageCounts) Count(tree *localtree.LocalTree, internal bool) {
	for i := range lc.Nbranches {
		lc.Nbranches[i] = 0
	}

	root := tree.Root
	subtreeRoot := localtree.NullNode
	if internal {
		subtreeRoot = tree.Nodes[root].Child[0]
	}

	for i := range tree.Nodes {
		if i == root || i == subtreeRoot {
			continue
		}

		parent := tree.Nodes[i].Parent
		top := tree.Nodes[parent].Age
		if parent == root && internal {
			// the maintree root's edge extends to the top of the grid
			top = len(lc.Nbranches) - 1
		}

		for t := tree.Nodes[i].Age; t < top && t < len(lc.Nbranches); t++ {
			lc.Nbranches[t]++
		}
	}
}
