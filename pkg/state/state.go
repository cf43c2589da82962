// Package state enumerates the coalescence states of the threading HMM: a
// state (node, time) means the new lineage coalesces onto the branch above
// node at that time-grid index. Enumeration keeps each branch's states
// contiguous and ascending in time, which the factored forward step relies
// on.
package state

import "github.com/bredelings/argweaver/pkg/localtree"

// State is one candidate coalescence point.
type State struct {
	Node int
	Time int
}

// NullState marks an unset conditioning state.
var NullState = State{Node: localtree.NullNode, Time: -1}

// IsNull reports whether s is the null conditioning state.
func (s State) IsNull() bool {
	return s.Node == localtree.NullNode
}

// CoalStates lists the admissible states for threading a new leaf into
// tree: every branch carries one state per time index from the branch's
// bottom age to its top age, the root branch extending to ntimes-1.
func CoalStates(tree *localtree.LocalTree, ntimes int, out []State) []State {
	out = out[:0]

	order := tree.Postorder(nil)
	for _, node := range order {
		top := ntimes - 1
		if node != tree.Root {
			top = tree.Nodes[tree.Nodes[node].Parent].Age
		}

		for t := tree.Nodes[node].Age; t <= top; t++ {
			out = append(out, State{Node: node, Time: t})
		}
	}

	return out
}

// CoalStatesInternal lists the admissible states for regrafting the
// subtree below the root's first child onto the maintree below the root's
// second child. Times below the subtree root's age are excluded, and the
// subtree itself carries no states.
func CoalStatesInternal(tree *localtree.LocalTree, ntimes int, out []State) []State {
	out = out[:0]

	root := tree.Root
	subtreeRoot := tree.Nodes[root].Child[0]
	maintreeRoot := tree.Nodes[root].Child[1]
	minage := tree.Nodes[subtreeRoot].Age

	// a fully specified tree has no free lineage to place: the removal
	// path did not pass through this block and the subtree root carries
	// the removed-root sentinel age
	if minage >= ntimes {
		return out
	}

	inSubtree := make([]bool, tree.NNodes())
	for _, node := range tree.Preorder(subtreeRoot, nil) {
		inSubtree[node] = true
	}

	order := tree.Postorder(nil)
	for _, node := range order {
		if node == root || inSubtree[node] {
			continue
		}

		top := ntimes - 1
		if node != maintreeRoot {
			top = tree.Nodes[tree.Nodes[node].Parent].Age
		}

		bottom := tree.Nodes[node].Age
		if bottom < minage {
			bottom = minage
		}

		for t := bottom; t <= top; t++ {
			out = append(out, State{Node: node, Time: t})
		}
	}

	return out
}

// Minage returns the minimum admissible coalescence time for the tree:
// zero for external threading, the subtree root's age for internal
// threading.
func Minage(tree *localtree.LocalTree, internal bool) int {
	if !internal {
		return 0
	}

	return tree.Nodes[tree.Nodes[tree.Root].Child[0]].Age
}

// Find returns the index of s in states, or -1.
func Find(states []State, s State) int {
	for i, q := range states {
		if q == s {
			return i
		}
	}

	return -1
}

// NodeStateLookup maps a branch to the index of its first state. Because
// enumeration keeps a branch's states contiguous and time-ascending, the
// state (node, time) lives at Index(node) + time - FirstTime(node).
type NodeStateLookup struct {
	index     []int
	firstTime []int
}

// NewNodeStateLookup indexes states for a tree with nnodes branches.
func NewNodeStateLookup(states []State, nnodes int) *NodeStateLookup {
	l := &NodeStateLookup{
		index:     make([]int, nnodes),
		firstTime: make([]int, nnodes),
	}
	for i := range l.index {
		l.index[i] = -1
	}

	for i, s := range states {
		if l.index[s.Node] == -1 {
			l.index[s.Node] = i
			l.firstTime[s.Node] = s.Time
		}
	}

	return l
}

// Lookup returns the state index of (node, time), or -1 when the branch
// carries no states.
func (l *NodeStateLookup) Lookup(node, time int) int {
	if l.index[node] == -1 {
		return -1
	}

	return l.index[node] + time - l.firstTime[node]
}
