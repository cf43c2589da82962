package emit

import (
	"math"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
	"github.com/bredelings/argweaver/pkg/state"
)

// calcInnerOuter fills per-site inner and outer tables for every variant
// site of the tree.
func calcInnerOuter(tree *localtree.LocalTree, m *model.ArgModel,
	seqRows [][]byte, seqlen int, invariant []bool, inner, outer [][]lkRow) {

	order := tree.Postorder(nil)
	muts := make([]float64, tree.NNodes())
	nomuts := make([]float64, tree.NNodes())
	branchProbs(tree, m, muts, nomuts)

	for i := 0; i < seqlen; i++ {
		if invariant[i] {
			continue
		}

		likelihoodSiteInner(tree, seqRows, i, order, muts, nomuts, inner[i])
		likelihoodSiteOuter(tree, muts, nomuts, inner[i], outer[i])
	}
}

// subtreeLen sums the floored branch lengths strictly below start.
func subtreeLen(tree *localtree.LocalTree, m *model.ArgModel, start int) float64 {
	mintime := m.Mintime()
	total := 0.0
	for _, node := range tree.Preorder(start, nil) {
		if node == start {
			continue
		}

		d := tree.Dist(node, m.Times)
		if d < mintime {
			d = mintime
		}
		total += d
	}

	return total
}

// CalcEmissionsInternal fills emit[site][state] for internal threading:
// each candidate state regrafts the subtree below the root's first child
// onto the maintree. The likelihood factorizes through the subtree's inner
// table, the attachment branch's inner table, and its outer table, so the
// tree is never edited.
func CalcEmissionsInternal(states []state.State, tree *localtree.LocalTree,
	seqRows [][]byte, seqlen int, m *model.ArgModel, emit [][]float64) {

	// fully specified local tree: nothing to place
	if len(states) == 0 {
		for i := 0; i < seqlen; i++ {
			emit[i][0] = 1
		}

		return
	}

	maintreeRoot := tree.Nodes[tree.Root].Child[1]
	subtreeRoot := tree.Nodes[tree.Root].Child[0]
	mintime := m.Mintime()
	ntimes := m.NTimes()

	invariant := make([]bool, seqlen)
	seqs.FindInvariantSites(seqRows, seqlen, invariant)

	inner := newTable(seqlen, tree.NNodes())
	outer := newTable(seqlen, tree.NNodes())
	calcInnerOuter(tree, m, seqRows, seqlen, invariant, inner, outer)

	maintreelen := subtreeLen(tree, m, maintreeRoot)
	subtreelen := subtreeLen(tree, m, subtreeRoot)

	for j, s := range states {
		node1 := subtreeRoot
		node2 := s.Node
		parent := tree.Nodes[node2].Parent

		time1 := m.Times[tree.Nodes[node1].Age]
		time2 := m.Times[tree.Nodes[node2].Age]
		parentAge := tree.Nodes[parent].Age
		if parentAge > ntimes-1 {
			parentAge = ntimes - 1
		}
		parentTime := m.Times[parentAge]
		coalTime := m.Times[s.Time]

		dist1 := math.Max(coalTime-time1, mintime)
		dist2 := math.Max(coalTime-time2, mintime)
		dist3 := math.Max(parentTime-coalTime, mintime)

		mut1 := probBranch(dist1, m.Mu, true)
		mut2 := probBranch(dist2, m.Mu, true)
		mut3 := probBranch(dist3, m.Mu, true)
		nomut1 := probBranch(dist1, m.Mu, false)
		nomut2 := probBranch(dist2, m.Mu, false)
		nomut3 := probBranch(dist3, m.Mu, false)

		treelen := maintreelen + subtreelen + math.Max(coalTime-time1, mintime)
		if node2 == maintreeRoot {
			treelen += math.Max(coalTime-m.Times[tree.Nodes[maintreeRoot].Age], mintime)
		}

		invariantLk := 0.25 * math.Exp(-m.Mu*math.Max(treelen, mintime))

		for i := 0; i < seqlen; i++ {
			if invariant[i] {
				emit[i][j] = invariantLk

				continue
			}

			in := inner[i]
			out := outer[i]

			v := 0.0
			for a := 0; a < 4; a++ {
				p1 := 0.0
				p2 := 0.0
				p3 := 0.0
				for b := 0; b < 4; b++ {
					if a == b {
						p1 += in[node1][b] * nomut1
						p2 += in[node2][b] * nomut2
						p3 += out[node2][b] * nomut3
					} else {
						p1 += in[node1][b] * mut1
						p2 += in[node2][b] * mut2
						p3 += out[node2][b] * mut3
					}
				}

				if node2 != maintreeRoot {
					v += p1 * p2 * p3 * 0.25
				} else {
					v += p1 * p2 * 0.25
				}
			}

			emit[i][j] = v
		}
	}
}

// CalcEmissionsInternalSlow is the reference variant of
// CalcEmissionsInternal: it physically regrafts the subtree for every
// candidate state and reruns the full pruning pass.
func CalcEmissionsInternalSlow(states []state.State, tree *localtree.LocalTree,
	seqRows [][]byte, seqlen int, m *model.ArgModel, emit [][]float64) {

	if len(states) == 0 {
		for i := 0; i < seqlen; i++ {
			emit[i][0] = 1
		}

		return
	}

	subtreeRoot := tree.Nodes[tree.Root].Child[0]
	subtreeRootAge := tree.Nodes[subtreeRoot].Age
	rootAge := tree.Nodes[tree.Root].Age

	invariant := make([]bool, seqlen)
	seqs.FindInvariantSites(seqRows, seqlen, invariant)
	table := newTable(seqlen, tree.NNodes())

	tree2 := tree.Clone()
	for j, s := range states {
		attach := localtree.Spr{
			RecombNode: subtreeRoot, RecombTime: subtreeRootAge,
			CoalNode: s.Node, CoalTime: s.Time,
		}
		tree2.ApplySpr(attach)

		likelihoodSites(tree2, m, seqRows, seqlen, j, invariant, emit, table, -1, -1)

		detach := localtree.Spr{
			RecombNode: subtreeRoot, RecombTime: subtreeRootAge,
			CoalNode: tree2.Root, CoalTime: rootAge,
		}
		tree2.ApplySpr(detach)
	}
}
