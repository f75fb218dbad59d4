// Package tree is a hierarchical key-path store: values live at leaves and
// every node can be listed with its children.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPath is returned for paths with empty or unsafe segments.
var ErrInvalidPath = errors.New("invalid tree path")

// Path addresses a node, root first.
type Path []string

// P builds a path from segments.
func P(segments ...string) Path { return Path(segments) }

// Child returns a new path with extra segments appended.
func (p Path) Child(segments ...string) Path {
	out := make(Path, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

// String joins the segments with slashes.
func (p Path) String() string { return strings.Join(p, "/") }

// Validate rejects empty segments and characters the remote store reserves.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, s := range p {
		if s == "" || strings.ContainsAny(s, "/.#$[]") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
		}
	}
	return nil
}

// Node is a snapshot of a subtree. Leaves carry a Value; branches carry
// Children sorted by key.
type Node struct {
	Key      string
	Value    string
	Children []*Node
}

// IsLeaf reports whether the node holds a value.
func (n *Node) IsLeaf() bool { return n != nil && len(n.Children) == 0 }

// Child returns the direct child named key, or nil.
func (n *Node) Child(key string) *Node {
	if n == nil {
		return nil
	}
	i := sort.Search(len(n.Children), func(i int) bool { return n.Children[i].Key >= key })
	if i < len(n.Children) && n.Children[i].Key == key {
		return n.Children[i]
	}
	return nil
}

// Len is the number of direct children.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.Children)
}

// Tree is implemented by every backend.
type Tree interface {
	// Set stores value at path, replacing whatever subtree was there.
	Set(ctx context.Context, path Path, value string) error
	// Get returns the subtree at path, or nil when nothing is stored.
	Get(ctx context.Context, path Path) (*Node, error)
	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}

// build assembles a snapshot rooted at root from leaf paths relative to it.
// A leaf with an empty relative path is the root value itself.
func build(root string, leaves map[string]string) *Node {
	if len(leaves) == 0 {
		return nil
	}
	if v, ok := leaves[""]; ok && len(leaves) == 1 {
		return &Node{Key: root, Value: v}
	}
	n := &Node{Key: root}
	for rel, v := range leaves {
		if rel == "" {
			continue
		}
		insert(n, strings.Split(rel, "/"), v)
	}
	sortNode(n)
	return n
}

func insert(n *Node, segs []string, value string) {
	for _, s := range segs {
		var next *Node
		for _, c := range n.Children {
			if c.Key == s {
				next = c
				break
			}
		}
		if next == nil {
			next = &Node{Key: s}
			n.Children = append(n.Children, next)
		}
		n = next
	}
	n.Value = value
}

func sortNode(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Key < n.Children[j].Key })
	for _, c := range n.Children {
		sortNode(c)
	}
}

func wrap(backend, op string, p Path, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("tree %s: %s %s: %w", backend, op, p.String(), err)
}
