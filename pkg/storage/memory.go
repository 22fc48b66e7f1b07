// Package storage - in-memory engine.
//
// MemoryEngine keeps every node in a map. It implements the same Engine
// contract as BadgerEngine, with no batching: CreateNode is visible and
// "committed" immediately and Flush is a no-op.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	if err := engine.CreateNode(&storage.Node{
//		ID:     2000000031,
//		Labels: []string{"Property"},
//		Properties: map[string]any{"wikidataId": "P31"},
//	}); err != nil {
//		log.Fatal(err)
//	}
//
//	props, _ := engine.CountByLabel("Property")
//	fmt.Printf("Found %d properties\n", props)
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// normalizeLabel converts a label to lowercase for case-insensitive matching.
func normalizeLabel(label string) string {
	return strings.ToLower(label)
}

// MemoryEngine is a thread-safe in-memory node store.
type MemoryEngine struct {
	mu           sync.RWMutex
	nodes        map[NodeID]*Node
	nodesByLabel map[string]map[NodeID]struct{}
	closed       bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:        make(map[NodeID]*Node),
		nodesByLabel: make(map[string]map[NodeID]struct{}),
	}
}

// NodeExists reports whether a node with id is stored.
func (m *MemoryEngine) NodeExists(id NodeID) (bool, error) {
	if id == 0 {
		return false, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrStorageClosed
	}
	_, ok := m.nodes[id]
	return ok, nil
}

// CreateNode stores a copy of node. Returns ErrAlreadyExists for a known ID.
func (m *MemoryEngine) CreateNode(node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if _, exists := m.nodes[node.ID]; exists {
		return ErrAlreadyExists
	}

	// Deep copy to prevent external mutation
	stored := copyNode(node)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.nodes[node.ID] = stored

	for _, label := range node.Labels {
		normalLabel := normalizeLabel(label)
		if m.nodesByLabel[normalLabel] == nil {
			m.nodesByLabel[normalLabel] = make(map[NodeID]struct{})
		}
		m.nodesByLabel[normalLabel][node.ID] = struct{}{}
	}

	return nil
}

// GetNode retrieves a copy of the node with id.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	n, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(n), nil
}

// StreamNodes calls fn for every node in ID order.
func (m *MemoryEngine) StreamNodes(ctx context.Context, fn func(node *Node) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStorageClosed
	}
	ids := make([]NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	snapshot := make([]*Node, len(ids))
	for i, id := range ids {
		snapshot[i] = copyNode(m.nodes[id])
	}
	m.mu.RUnlock()

	for _, n := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			if errors.Is(err, ErrIterationStopped) {
				return nil
			}
			return err
		}
	}
	return nil
}

// NodeCount returns the number of stored nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// CountByLabel returns the number of nodes carrying label (case-insensitive).
func (m *MemoryEngine) CountByLabel(label string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodesByLabel[normalizeLabel(label)])), nil
}

// Flush is a no-op; MemoryEngine has no write batch.
func (m *MemoryEngine) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrStorageClosed
	}
	return nil
}

// Finalize ends the session. A second call returns ErrStorageClosed.
func (m *MemoryEngine) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	m.closed = true
	return nil
}

// Close releases the engine. Safe to call more than once.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
