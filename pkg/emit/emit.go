// Package emit computes per-site emission likelihoods for the threading
// HMM: the probability of the observed alignment column given the local
// tree augmented by a candidate coalescence of the new lineage, under the
// Jukes-Cantor substitution model.
//
// Two operating modes are provided. External threading grafts a new leaf
// onto the tree for every candidate state, reusing partial likelihoods
// along the unchanged part of the tree between successive states. Internal
// threading regrafts an existing subtree and factorizes the likelihood
// through complementary inner ("from below") and outer ("from above")
// tables so no per-state tree edits are needed.
package emit

import (
	"math"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
	"github.com/bredelings/argweaver/pkg/state"
)

// lkRow holds partial likelihoods for the four bases at one node.
type lkRow = [4]float64

// probBranch is the Jukes-Cantor transition probability over a branch of
// length t with mutation rate mu.
func probBranch(t, mu float64, mut bool) float64 {
	const f = 4.0 / 3.0
	if !mut {
		return 0.25 * (1 + 3*math.Exp(-f*mu*t))
	}

	return 0.25 * (1 - math.Exp(-f*mu*t))
}

// branchProbs fills per-node mutation and no-mutation probabilities and
// returns the floored total tree length. Branches hanging off a
// removed-root sentinel parent are skipped.
func branchProbs(tree *localtree.LocalTree, m *model.ArgModel, muts, nomuts []float64) float64 {
	mintime := m.Mintime()
	treelen := 0.0

	for i := range tree.Nodes {
		if i == tree.Root {
			continue
		}

		parentAge := tree.Nodes[tree.Nodes[i].Parent].Age
		if parentAge >= m.NTimes() {
			// edge into a removed-root sentinel
			continue
		}

		t := m.Times[parentAge] - m.Times[tree.Nodes[i].Age]
		if t < mintime {
			t = mintime
		}

		muts[i] = probBranch(t, m.Mu, true)
		nomuts[i] = probBranch(t, m.Mu, false)
		treelen += t
	}

	return treelen
}

// likelihoodSiteNodeInner computes one node's inner partial likelihood at
// one site.
func likelihoodSiteNodeInner(tree *localtree.LocalTree, node int,
	seqRows [][]byte, pos int, muts, nomuts []float64, inner []lkRow) {

	n := &tree.Nodes[node]
	if n.IsLeaf() {
		c := seqRows[node][pos]
		if seqs.IsAmbiguous(c) {
			inner[node] = lkRow{1, 1, 1, 1}
		} else {
			inner[node] = lkRow{}
			inner[node][seqs.BaseIndex(c)] = 1
		}

		return
	}

	c1 := n.Child[0]
	c2 := n.Child[1]

	for a := 0; a < 4; a++ {
		p1 := 0.0
		p2 := 0.0
		for b := 0; b < 4; b++ {
			if a == b {
				p1 += inner[c1][b] * nomuts[c1]
				p2 += inner[c2][b] * nomuts[c2]
			} else {
				p1 += inner[c1][b] * muts[c1]
				p2 += inner[c2][b] * muts[c2]
			}
		}

		inner[node][a] = p1 * p2
	}
}

// likelihoodSiteNodeOuter computes one node's outer partial likelihood at
// one site, given its sibling's inner values and its parent's outer
// values. root names the subtree whose outer pass is running (the
// maintree root during internal threading).
func likelihoodSiteNodeOuter(tree *localtree.LocalTree, root, node int,
	muts, nomuts []float64, outer, inner []lkRow) {

	if node == root {
		outer[node] = lkRow{1, 1, 1, 1}

		return
	}

	sib := tree.Sibling(node)
	parent := tree.Nodes[node].Parent

	if parent != root {
		for a := 0; a < 4; a++ {
			p1 := 0.0
			p2 := 0.0
			for b := 0; b < 4; b++ {
				if a == b {
					p1 += inner[sib][b] * nomuts[sib]
					p2 += outer[parent][b] * nomuts[parent]
				} else {
					p1 += inner[sib][b] * muts[sib]
					p2 += outer[parent][b] * muts[parent]
				}
			}

			outer[node][a] = p1 * p2
		}

		return
	}

	for a := 0; a < 4; a++ {
		p1 := 0.0
		for b := 0; b < 4; b++ {
			if a == b {
				p1 += inner[sib][b] * nomuts[sib]
			} else {
				p1 += inner[sib][b] * muts[sib]
			}
		}

		outer[node][a] = p1
	}
}

// likelihoodSiteInner runs the inner pass over order and returns the site
// likelihood summed over root bases.
func likelihoodSiteInner(tree *localtree.LocalTree, seqRows [][]byte, pos int,
	order []int, muts, nomuts []float64, inner []lkRow) float64 {

	for _, node := range order {
		likelihoodSiteNodeInner(tree, node, seqRows, pos, muts, nomuts, inner)
	}

	p := 0.0
	for a := 0; a < 4; a++ {
		p += inner[tree.Root][a] * 0.25
	}

	return p
}

// likelihoodSiteOuter runs the outer pass preorder from the maintree root.
func likelihoodSiteOuter(tree *localtree.LocalTree,
	muts, nomuts []float64, inner, outer []lkRow) {

	maintreeRoot := tree.Nodes[tree.Root].Child[1]
	for _, node := range tree.Preorder(maintreeRoot, nil) {
		likelihoodSiteNodeOuter(tree, maintreeRoot, node, muts, nomuts, outer, inner)
	}
}

// likelihoodSites fills emission column statei for every site. When
// prevNode >= 0, only the nodes whose partial likelihoods changed since
// the previous candidate state are recomputed: the walk up from newNode
// until it meets the previous dirty path, then the previous path itself.
// The per-site tables persist across calls for this reuse.
func likelihoodSites(tree *localtree.LocalTree, m *model.ArgModel,
	seqRows [][]byte, seqlen, statei int, invariant []bool,
	emit [][]float64, table [][]lkRow, prevNode, newNode int) {

	nnodes := tree.NNodes()

	var order []int
	if prevNode < 0 {
		order = tree.Postorder(nil)
	} else {
		dirty := make([]bool, nnodes)
		for j := prevNode; j != localtree.NullNode; j = tree.Nodes[j].Parent {
			dirty[j] = true
		}

		order = make([]int, 0, nnodes)
		for j := newNode; !dirty[j]; j = tree.Nodes[j].Parent {
			order = append(order, j)
		}
		for j := prevNode; j != localtree.NullNode; j = tree.Nodes[j].Parent {
			order = append(order, j)
		}
	}

	muts := make([]float64, nnodes)
	nomuts := make([]float64, nnodes)
	treelen := branchProbs(tree, m, muts, nomuts)

	if treelen < m.Mintime() {
		treelen = m.Mintime()
	}
	invariantLk := 0.25 * math.Exp(-m.Mu*treelen)

	for i := 0; i < seqlen; i++ {
		if invariant != nil && invariant[i] {
			emit[i][statei] = invariantLk
		} else {
			emit[i][statei] = likelihoodSiteInner(
				tree, seqRows, i, order, muts, nomuts, table[i])
		}
	}
}

// newTable allocates per-site rows of nnodes partial-likelihood vectors.
func newTable(seqlen, nnodes int) [][]lkRow {
	table := make([][]lkRow, seqlen)
	for i := range table {
		table[i] = make([]lkRow, nnodes)
	}

	return table
}

// CalcEmissions fills emit[site][state] for external threading: each
// candidate state grafts a new leaf carrying the threaded chromosome onto
// the tree. seqRows is indexed by leaf id; row NumLeaves() carries the new
// chromosome. Partial likelihoods are reused between successive states via
// the dirty-set walk.
func CalcEmissions(states []state.State, tree *localtree.LocalTree,
	seqRows [][]byte, seqlen int, m *model.ArgModel, emit [][]float64) {

	calcEmissionsExternal(states, tree, seqRows, seqlen, m, emit, false)
}

// CalcEmissionsSlow is the full-recompute reference variant of
// CalcEmissions.
func CalcEmissionsSlow(states []state.State, tree *localtree.LocalTree,
	seqRows [][]byte, seqlen int, m *model.ArgModel, emit [][]float64) {

	calcEmissionsExternal(states, tree, seqRows, seqlen, m, emit, true)
}

func calcEmissionsExternal(states []state.State, tree *localtree.LocalTree,
	seqRows [][]byte, seqlen int, m *model.ArgModel, emit [][]float64, slow bool) {

	nnodes := tree.NNodes()
	invariant := make([]bool, seqlen)
	seqs.FindInvariantSites(seqRows, seqlen, invariant)

	table := newTable(seqlen, nnodes+2)
	tree2 := tree.Clone()

	prevNode := -1
	for j, s := range states {
		tree2.AddThreadBranch(s.Node, s.Time)

		newNode := localtree.MapThreadNode(s.Node, nnodes)
		if slow {
			likelihoodSites(tree2, m, seqRows, seqlen, j, invariant, emit, table, -1, -1)
		} else {
			likelihoodSites(tree2, m, seqRows, seqlen, j, invariant, emit, table, prevNode, newNode)
		}

		tree2.RemoveThreadBranch()

		prevNode = localtree.MapThreadNode(tree2.Nodes[s.Node].Parent, nnodes)
	}
}
