package emit

import (
	"math"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
)

// LikelihoodTree returns the log-likelihood of the alignment rows over
// [start, end) under the tree, caching the invariant-site likelihood.
func LikelihoodTree(tree *localtree.LocalTree, m *model.ArgModel,
	seqRows [][]byte, start, end int) float64 {

	order := tree.Postorder(nil)
	muts := make([]float64, tree.NNodes())
	nomuts := make([]float64, tree.NNodes())
	branchProbs(tree, m, muts, nomuts)

	table := make([]lkRow, tree.NNodes())
	invariantLk := -1.0

	lnl := 0.0
	for i := start; i < end; i++ {
		invariant := seqs.IsInvariantSite(seqRows, i)

		var lk float64
		if invariant && invariantLk > 0 {
			lk = invariantLk
		} else {
			lk = likelihoodSiteInner(tree, seqRows, i, order, muts, nomuts, table)
			if invariant {
				invariantLk = lk
			}
		}

		lnl += math.Log(lk)
	}

	return lnl
}

const maxParsimonyCost = 100000

// ParsimonyCostSeq returns the unweighted parsimony cost of one alignment
// column on the tree.
func ParsimonyCostSeq(tree *localtree.LocalTree, seqRows [][]byte,
	pos int, postorder []int) int {

	if postorder == nil {
		postorder = tree.Postorder(nil)
	}

	costs := make([][4]int, tree.NNodes())
	for _, node := range postorder {
		if tree.Nodes[node].IsLeaf() {
			for a := 0; a < 4; a++ {
				costs[node][a] = maxParsimonyCost
			}

			if b := seqs.BaseIndex(seqRows[node][pos]); b >= 0 {
				costs[node][b] = 0
			} else {
				// ambiguous bases cost nothing anywhere
				costs[node] = [4]int{}
			}

			continue
		}

		left := costs[tree.Nodes[node].Child[0]]
		right := costs[tree.Nodes[node].Child[1]]

		for a := 0; a < 4; a++ {
			leftMin := maxParsimonyCost
			rightMin := maxParsimonyCost
			for b := 0; b < 4; b++ {
				sub := 0
				if a != b {
					sub = 1
				}

				if v := sub + left[b]; v < leftMin {
					leftMin = v
				}
				if v := sub + right[b]; v < rightMin {
					rightMin = v
				}
			}

			costs[node][a] = leftMin + rightMin
		}
	}

	rootMin := maxParsimonyCost
	for a := 0; a < 4; a++ {
		if costs[tree.Root][a] < rootMin {
			rootMin = costs[tree.Root][a]
		}
	}

	return rootMin
}

// CountNoncompat counts the alignment columns over [0, seqlen) that
// require more than one mutation on the tree.
func CountNoncompat(tree *localtree.LocalTree, seqRows [][]byte, seqlen int) int {
	postorder := tree.Postorder(nil)

	noncompat := 0
	for i := 0; i < seqlen; i++ {
		if ParsimonyCostSeq(tree, seqRows, i, postorder) > 1 {
			noncompat++
		}
	}

	return noncompat
}

// ParsimonyAncestralSeq reconstructs one parsimonious assignment of bases
// to every node at position pos, writing one character per node into
// ancestral.
func ParsimonyAncestralSeq(tree *localtree.LocalTree, seqRows [][]byte,
	pos int, ancestral []byte) {

	nnodes := tree.NNodes()
	sets := make([]byte, nnodes)
	postorder := tree.Postorder(nil)

	for _, node := range postorder {
		if tree.Nodes[node].IsLeaf() {
			c := seqRows[node][pos]
			if seqs.IsAmbiguous(c) {
				sets[node] = 1 | 2 | 4 | 8
			} else {
				sets[node] = byte(1) << seqs.BaseIndex(c)
			}

			continue
		}

		lset := sets[tree.Nodes[node].Child[0]]
		rset := sets[tree.Nodes[node].Child[1]]
		if lset&rset != 0 {
			sets[node] = lset & rset
		} else {
			sets[node] = lset | rset
		}
	}

	firstBase := func(s byte) byte {
		for b := 0; b < 4; b++ {
			if s&(byte(1)<<b) != 0 {
				return seqs.IndexBase(b)
			}
		}

		return 'N'
	}

	root := postorder[nnodes-1]
	ancestral[root] = firstBase(sets[root])

	// traceback in preorder, preferring the parent's base when allowed
	for i := nnodes - 2; i >= 0; i-- {
		node := postorder[i]
		s := sets[node]

		pchar := ancestral[tree.Nodes[node].Parent]
		if pb := seqs.BaseIndex(pchar); pb >= 0 && s&(byte(1)<<pb) != 0 {
			ancestral[node] = pchar
		} else {
			ancestral[node] = firstBase(s)
		}
	}
}
