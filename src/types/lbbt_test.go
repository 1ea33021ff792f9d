package types

import (
	"reflect"
	"testing"
)

func TestNodeWidth(t *testing.T) {
	widths := map[uint32]uint32{
		0: 0,
		1: 1,
		2: 3,
		3: 5,
		4: 7,
		5: 9,
		8: 15,
	}
	for n, exp := range widths {
		if w := NodeWidth(n); w != exp {
			t.Fatalf("NodeWidth(%d) should be %d, not %d", n, exp, w)
		}
	}
}

func TestRootNode(t *testing.T) {
	roots := map[uint32]NodeIndex{
		1: 0,
		2: 1,
		3: 3,
		4: 3,
		5: 7,
		8: 7,
	}
	for n, exp := range roots {
		if r := RootNode(n); r != exp {
			t.Fatalf("RootNode(%d) should be %d, not %d", n, exp, r)
		}
	}
}

func TestLevel(t *testing.T) {
	levels := map[NodeIndex]uint{
		0: 0,
		2: 0,
		8: 0,
		1: 1,
		5: 1,
		3: 2,
		7: 3,
	}
	for n, exp := range levels {
		if l := n.Level(); l != exp {
			t.Fatalf("Level(%d) should be %d, not %d", n, exp, l)
		}
	}
}

func TestDirectPath(t *testing.T) {
	testCases := []struct {
		leaf    LeafIndex
		nLeaves uint32
		path    []NodeIndex
	}{
		{0, 1, []NodeIndex{}},
		{0, 2, []NodeIndex{1}},
		{0, 4, []NodeIndex{1, 3}},
		{3, 4, []NodeIndex{5, 3}},
		{3, 5, []NodeIndex{5, 3, 7}},
		{4, 5, []NodeIndex{7}},
	}

	for _, tc := range testCases {
		path := DirectPath(tc.leaf, tc.nLeaves)
		if !reflect.DeepEqual(path, tc.path) {
			t.Fatalf("DirectPath(%d, %d) should be %v, not %v",
				tc.leaf, tc.nLeaves, tc.path, path)
		}
	}
}

func TestChildrenOfRoot(t *testing.T) {
	// in a 5-leaf tree the rightmost leaf hangs directly off the root
	children := RootNode(5).Children(5)
	if !reflect.DeepEqual(children, []NodeIndex{3, 8}) {
		t.Fatalf("root children of a 5-leaf tree should be [3 8], not %v", children)
	}
}

func TestParentChildConsistency(t *testing.T) {
	for nLeaves := uint32(1); nLeaves <= 8; nLeaves++ {
		root := RootNode(nLeaves)
		for n := NodeIndex(0); uint32(n) < NodeWidth(nLeaves); n++ {
			p, ok := n.Parent(nLeaves)
			if n == root {
				if ok {
					t.Fatalf("root %d of %d-leaf tree should have no parent", n, nLeaves)
				}
				continue
			}
			if !ok {
				t.Fatalf("node %d of %d-leaf tree should have a parent", n, nLeaves)
			}

			found := false
			for _, c := range p.Children(nLeaves) {
				if c == n {
					found = true
				}
			}
			if !found {
				t.Fatalf("node %d is not among the children %v of its parent %d (n=%d)",
					n, p.Children(nLeaves), p, nLeaves)
			}
		}
	}
}

func TestSibling(t *testing.T) {
	s, ok := NodeIndex(8).Sibling(5)
	if !ok || s != 3 {
		t.Fatalf("sibling of node 8 in a 5-leaf tree should be 3, not %d", s)
	}

	if _, ok := RootNode(5).Sibling(5); ok {
		t.Fatal("the root should have no sibling")
	}
}
