package types

import (
	"encoding/binary"
	"math/bits"
	"strconv"
)

// NodeIndex addresses a node of a left-balanced binary tree. Leaves occupy
// the even indexes (leaf i sits at node 2i) and branches the odd ones.
// Parents, siblings and paths are derived from the index arithmetic below,
// so the tree structure carries no back-pointers.
type NodeIndex uint32

// LeafIndex addresses a leaf by its position, left to right.
type LeafIndex uint32

// String implements fmt.Stringer.
func (n NodeIndex) String() string { return strconv.FormatUint(uint64(n), 10) }

// String implements fmt.Stringer.
func (l LeafIndex) String() string { return strconv.FormatUint(uint64(l), 10) }

// Bytes returns the 4-byte little-endian encoding.
func (n NodeIndex) Bytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n))
	return b[:]
}

// Bytes returns the 4-byte little-endian encoding.
func (l LeafIndex) Bytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(l))
	return b[:]
}

// NodeIndexOf returns the node index of a leaf.
func (l LeafIndex) NodeIndexOf() NodeIndex { return NodeIndex(2 * l) }

// IsLeaf reports whether the node index addresses a leaf.
func (n NodeIndex) IsLeaf() bool { return n%2 == 0 }

// LeafIndexOf returns the leaf position of an even node index.
func (n NodeIndex) LeafIndexOf() LeafIndex { return LeafIndex(n / 2) }

// Level returns the height of a node above the leaves: 0 for leaves, and
// the number of trailing one-bits for branches.
func (n NodeIndex) Level() uint {
	if n%2 == 0 {
		return 0
	}
	return uint(bits.TrailingZeros32(^uint32(n)))
}

// NodeWidth returns the number of node indexes a tree with nLeaves leaves
// occupies.
func NodeWidth(nLeaves uint32) uint32 {
	if nLeaves == 0 {
		return 0
	}
	return 2*nLeaves - 1
}

// RootNode returns the index of the root of a tree with nLeaves leaves.
func RootNode(nLeaves uint32) NodeIndex {
	w := NodeWidth(nLeaves)
	return NodeIndex(uint32(1)<<(bits.Len32(w)-1) - 1)
}

// LeftChild returns the left child of a branch.
func (n NodeIndex) LeftChild() NodeIndex {
	k := n.Level()
	return n ^ (0x01 << (k - 1))
}

// RightChild returns the right child of a branch in a tree with nLeaves
// leaves. In a left-balanced tree the nominal right child may fall outside
// the tree; it is then replaced by its own left descendant until it fits.
func (n NodeIndex) RightChild(nLeaves uint32) NodeIndex {
	k := n.Level()
	r := n ^ (0x03 << (k - 1))
	for uint32(r) >= NodeWidth(nLeaves) {
		r = r.LeftChild()
	}
	return r
}

// parentStep returns the parent of a node inside a complete tree.
func (n NodeIndex) parentStep() NodeIndex {
	k := n.Level()
	b := (uint32(n) >> (k + 1)) & 0x01
	return NodeIndex((uint32(n) | (1 << k)) ^ (b << (k + 1)))
}

// Parent returns the parent of a node in a tree with nLeaves leaves, and
// false if the node is the root.
func (n NodeIndex) Parent(nLeaves uint32) (NodeIndex, bool) {
	if n == RootNode(nLeaves) {
		return 0, false
	}
	p := n.parentStep()
	for uint32(p) >= NodeWidth(nLeaves) {
		p = p.parentStep()
	}
	return p, true
}

// Sibling returns the other child of the node's parent, and false if the
// node is the root.
func (n NodeIndex) Sibling(nLeaves uint32) (NodeIndex, bool) {
	p, ok := n.Parent(nLeaves)
	if !ok {
		return 0, false
	}
	if n < p {
		return p.RightChild(nLeaves), true
	}
	return p.LeftChild(), true
}

// DirectPath returns the chain of branches from a leaf up to and including
// the root, in bottom-up order. A single-leaf tree has an empty path.
func DirectPath(leaf LeafIndex, nLeaves uint32) []NodeIndex {
	path := []NodeIndex{}
	n := leaf.NodeIndexOf()
	for {
		p, ok := n.Parent(nLeaves)
		if !ok {
			return path
		}
		path = append(path, p)
		n = p
	}
}

// Children returns the direct children of a branch in a tree with nLeaves
// leaves.
func (n NodeIndex) Children(nLeaves uint32) []NodeIndex {
	if n.IsLeaf() {
		return nil
	}
	return []NodeIndex{n.LeftChild(), n.RightChild(nLeaves)}
}
