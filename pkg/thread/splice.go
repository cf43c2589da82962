package thread

import (
	"sort"

	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/state"
)

// AddArgThread splices a new chromosome's lineage into the ARG following
// the sampled state path and recombination points. Every local tree grows
// by the thread leaf and its coalescence node; blocks are split at the
// sampled recombination positions and annotated with the corresponding
// SPR events. path is indexed relative to trees.StartCoord.
func AddArgThread(trees *localtree.LocalTrees, ntimes int, path []int,
	newChrom int, positions []int, recombs []localtree.NodePoint) {

	nnodes := trees.NNodes()
	threadLeaf := (nnodes + 1) / 2

	if trees.Seqids == nil {
		trees.Seqids = make([]int, threadLeaf)
		for i := range trees.Seqids {
			trees.Seqids[i] = i
		}
	}
	trees.Seqids = append(trees.Seqids, newChrom)

	var blocks []*localtree.LocalTreeSpr
	recombIdx := 0
	pos := trees.StartCoord

	for _, b := range trees.Blocks {
		states := state.CoalStates(b.Tree, ntimes, nil)
		blockEnd := pos + b.Blocklen

		// segment boundaries: the block start plus every sampled
		// recombination position inside the block
		cuts := []int{pos}
		for recombIdx < len(positions) && positions[recombIdx] < blockEnd {
			if positions[recombIdx] > pos {
				cuts = append(cuts, positions[recombIdx])
			}
			recombIdx++
		}
		sort.Ints(cuts)

		firstRecomb := recombIdx - (len(cuts) - 1)

		for c, segStart := range cuts {
			segEnd := blockEnd
			if c+1 < len(cuts) {
				segEnd = cuts[c+1]
			}

			st := states[path[segStart-trees.StartCoord]]
			tree2 := b.Tree.Clone()
			tree2.AddThreadBranch(st.Node, st.Time)

			var spr *localtree.Spr
			switch {
			case len(blocks) == 0:
				// first block of the ARG carries no event

			case c == 0:
				// original block boundary: carry the original SPR into
				// the augmented node numbering
				if b.Spr != nil {
					spr = &localtree.Spr{
						RecombNode: localtree.MapThreadNode(b.Spr.RecombNode, nnodes),
						RecombTime: b.Spr.RecombTime,
						CoalNode:   localtree.MapThreadNode(b.Spr.CoalNode, nnodes),
						CoalTime:   b.Spr.CoalTime,
					}
				}

			default:
				// sampled recombination on the thread
				r := recombs[firstRecomb+c-1]
				recombNode := threadLeaf
				if r.Node != localtree.NullNode {
					recombNode = localtree.MapThreadNode(r.Node, nnodes)
				}

				spr = &localtree.Spr{
					RecombNode: recombNode,
					RecombTime: r.Time,
					CoalNode:   localtree.MapThreadNode(st.Node, nnodes),
					CoalTime:   st.Time,
				}
			}

			blocks = append(blocks, &localtree.LocalTreeSpr{
				Tree:     tree2,
				Spr:      spr,
				Blocklen: segEnd - segStart,
			})
		}

		pos = blockEnd
	}

	trees.Blocks = blocks
}

// AddArgThreadPath is the internal-threading variant of AddArgThread: the
// subtree hanging off each tree's virtual root is regrafted at the path's
// state, consuming the virtual root as the new coalescence node.
func AddArgThreadPath(trees *localtree.LocalTrees, ntimes int, path []int,
	positions []int, recombs []localtree.NodePoint) {

	var blocks []*localtree.LocalTreeSpr
	recombIdx := 0
	pos := trees.StartCoord

	for _, b := range trees.Blocks {
		states := state.CoalStatesInternal(b.Tree, ntimes, nil)
		blockEnd := pos + b.Blocklen
		subtreeRoot := b.Tree.Nodes[b.Tree.Root].Child[0]
		subtreeAge := b.Tree.Nodes[subtreeRoot].Age

		cuts := []int{pos}
		for recombIdx < len(positions) && positions[recombIdx] < blockEnd {
			if positions[recombIdx] > pos {
				cuts = append(cuts, positions[recombIdx])
			}
			recombIdx++
		}
		sort.Ints(cuts)

		firstRecomb := recombIdx - (len(cuts) - 1)

		for c, segStart := range cuts {
			segEnd := blockEnd
			if c+1 < len(cuts) {
				segEnd = cuts[c+1]
			}

			tree2 := b.Tree.Clone()

			var spr *localtree.Spr
			if len(states) > 0 {
				st := states[path[segStart-trees.StartCoord]]
				tree2.ApplySpr(localtree.Spr{
					RecombNode: subtreeRoot, RecombTime: subtreeAge,
					CoalNode: st.Node, CoalTime: st.Time,
				})

				switch {
				case len(blocks) == 0:

				case c == 0:
					if b.Spr != nil {
						s := *b.Spr
						spr = &s
					}

				default:
					r := recombs[firstRecomb+c-1]
					recombNode := subtreeRoot
					if r.Node != localtree.NullNode {
						recombNode = r.Node
					}

					spr = &localtree.Spr{
						RecombNode: recombNode,
						RecombTime: r.Time,
						CoalNode:   st.Node,
						CoalTime:   st.Time,
					}
				}
			} else if len(blocks) > 0 && b.Spr != nil {
				s := *b.Spr
				spr = &s
			}

			blocks = append(blocks, &localtree.LocalTreeSpr{
				Tree:     tree2,
				Spr:      spr,
				Blocklen: segEnd - segStart,
			})
		}

		pos = blockEnd
	}

	trees.Blocks = blocks
}
