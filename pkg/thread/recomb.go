package thread

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/bredelings/argweaver/pkg/hmm"
	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/state"
)

// recombCandidate is one admissible recombination point between two
// adjacent path states.
type recombCandidate struct {
	point  localtree.NodePoint
	weight float64
}

// recombCandidates lists the points a recombination between s1 and s2 can
// occupy: on the thread's own branch below both coalescence times, and on
// the shared tree branch when the thread stays put but changes time.
func recombCandidates(m *model.ArgModel, tree *localtree.LocalTree,
	s1, s2 state.State, minage int) []recombCandidate {

	top := s1.Time
	if s2.Time < top {
		top = s2.Time
	}

	times := m.Times
	ntimes := len(times)
	var out []recombCandidate

	// recombination opportunity scales with the grid interval around k
	weight := func(k int) float64 {
		lo := k - 1
		if lo < 0 {
			lo = 0
		}
		hi := k + 1
		if hi > ntimes-1 {
			hi = ntimes - 1
		}

		w := (times[hi] - times[lo]) / 2
		if w < m.Mintime() {
			w = m.Mintime()
		}

		return m.Rho * w
	}

	for k := minage; k <= top; k++ {
		out = append(out, recombCandidate{
			point:  localtree.NodePoint{Node: localtree.NullNode, Time: k},
			weight: weight(k),
		})
	}

	if s1.Node == s2.Node {
		lo := tree.Nodes[s1.Node].Age
		if lo < minage {
			lo = minage
		}

		for k := lo; k <= top; k++ {
			out = append(out, recombCandidate{
				point:  localtree.NodePoint{Node: s1.Node, Time: k},
				weight: weight(k),
			})
		}
	}

	return out
}

// SampleRecombinations walks the sampled state path and draws a
// recombination point for every within-block state change. The returned
// positions are absolute coordinates; each recombination sits between
// positions[i]-1 and positions[i].
func SampleRecombinations(trees *localtree.LocalTrees, m *model.ArgModel,
	iter hmm.MatrixIterator, path []int, internal bool,
	rng *rand.Rand) ([]int, []localtree.NodePoint) {

	return pickRecombinations(trees, m, iter, path, internal, rng)
}

// MaxRecombinations is the maximizing variant of SampleRecombinations: it
// places each recombination at its highest-weight candidate point.
func MaxRecombinations(trees *localtree.LocalTrees, m *model.ArgModel,
	iter hmm.MatrixIterator, path []int, internal bool) ([]int, []localtree.NodePoint) {

	return pickRecombinations(trees, m, iter, path, internal, nil)
}

func pickRecombinations(trees *localtree.LocalTrees, m *model.ArgModel,
	iter hmm.MatrixIterator, path []int, internal bool,
	rng *rand.Rand) ([]int, []localtree.NodePoint) {

	var positions []int
	var recombs []localtree.NodePoint

	for iter.Begin(); iter.More(); iter.Next() {
		mat := iter.Matrices()
		if len(mat.States) == 0 {
			continue
		}

		start := mat.BlockStart
		rel := start - trees.StartCoord
		minage := state.Minage(mat.Tree, internal)

		for i := 1; i < mat.Blocklen; i++ {
			j1 := path[rel+i-1]
			j2 := path[rel+i]
			if j1 == j2 {
				continue
			}

			s1 := mat.States[j1]
			s2 := mat.States[j2]

			cands := recombCandidates(m, mat.Tree, s1, s2, minage)
			pick := 0
			if rng != nil {
				weights := make([]float64, len(cands))
				for c, cand := range cands {
					weights[c] = cand.weight
				}

				w := sampleuv.NewWeighted(weights, rng)
				if idx, ok := w.Take(); ok {
					pick = idx
				}
			} else {
				for c, cand := range cands {
					if cand.weight > cands[pick].weight {
						pick = c
					}
				}
			}

			positions = append(positions, start+i)
			recombs = append(recombs, cands[pick].point)
		}
	}

	return positions, recombs
}
