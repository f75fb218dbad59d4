package tree

import (
	"context"
	"sort"
	"sync"
)

type memNode struct {
	value    string
	children map[string]*memNode
}

// Memory is an in-process tree for development and tests.
type Memory struct {
	mu   sync.RWMutex
	root *memNode
}

// NewMemory creates an empty tree.
func NewMemory() *Memory {
	return &Memory{root: &memNode{children: map[string]*memNode{}}}
}

// Set stores value at path.
func (m *Memory) Set(ctx context.Context, path Path, value string) error {
	if err := path.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.root
	for _, s := range path[:len(path)-1] {
		next, ok := n.children[s]
		if !ok || next.children == nil {
			next = &memNode{children: map[string]*memNode{}}
			n.children[s] = next
		}
		n = next
	}
	n.children[path[len(path)-1]] = &memNode{value: value}
	return nil
}

// Get returns a copy of the subtree at path.
func (m *Memory) Get(ctx context.Context, path Path) (*Node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.root
	for _, s := range path {
		if n.children == nil {
			return nil, nil
		}
		next, ok := n.children[s]
		if !ok {
			return nil, nil
		}
		n = next
	}
	return snapshot(path[len(path)-1], n), nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

func snapshot(key string, n *memNode) *Node {
	if n.children == nil {
		return &Node{Key: key, Value: n.value}
	}
	if len(n.children) == 0 {
		return nil
	}
	out := &Node{Key: key}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if c := snapshot(k, n.children[k]); c != nil {
			out.Children = append(out.Children, c)
		}
	}
	return out
}
