// Package storage provides the node store used by the Wikidata importer.
//
// The storage layer follows the labeled property graph model: every node has a
// numeric ID, one or more labels and a flat property map. Two engines implement
// the BatchInserter contract:
//   - BadgerEngine: persistent, disk-backed, writes through a badger WriteBatch
//   - MemoryEngine: map-backed, used for tests and dry runs
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngine("./data/graph")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Finalize()
//
//	node := &storage.Node{
//		ID:     storage.NodeID(1000000042),
//		Labels: []string{"Item"},
//		Properties: map[string]any{
//			"wikidataId": "Q42",
//			"enLabel":    "Douglas Adams",
//		},
//	}
//	if err := engine.CreateNode(node); err != nil {
//		log.Fatal(err)
//	}
//
// Batch sessions defer durability: nodes created in the current batch become
// durable on Flush or Finalize. NodeExists and GetNode see pending nodes.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"time"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidData      = errors.New("invalid data")
	ErrStorageClosed    = errors.New("storage closed")
	ErrIterationStopped = errors.New("iteration stopped") // Sentinel to stop streaming early
)

// NodeID is the numeric key of a node. Zero is reserved and never a valid ID.
type NodeID uint64

// String renders the ID in decimal.
func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// bytes returns the big-endian encoding so that badger keys sort numerically.
func (id NodeID) bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func nodeIDFromBytes(b []byte) (NodeID, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return NodeID(binary.BigEndian.Uint64(b)), true
}

// Node represents a graph node (vertex) in the labeled property graph.
//
// Properties hold only JSON-serializable scalar values; the importer stores
// strings exclusively.
//
// Thread Safety:
//
//	Node structs are NOT thread-safe. The storage engine handles concurrency.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`

	CreatedAt time.Time `json:"-"`
}

func (n *Node) validate() error {
	if n == nil {
		return ErrInvalidData
	}
	if n.ID == 0 {
		return ErrInvalidID
	}
	return nil
}

// BatchInserter is the write contract of a bulk-loading session.
//
// NodeExists reports whether a node with the given ID was stored, including
// nodes pending in the current batch. CreateNode fails with ErrAlreadyExists
// for an existing ID and never overwrites. Finalize flushes pending writes and
// ends the session; further calls fail with ErrStorageClosed.
type BatchInserter interface {
	NodeExists(id NodeID) (bool, error)
	CreateNode(node *Node) error
	Finalize() error
}

// Engine is a BatchInserter that can also be read back, used by the export
// and stats commands and by tests.
type Engine interface {
	BatchInserter

	GetNode(id NodeID) (*Node, error)
	NodeCount() (int64, error)
	CountByLabel(label string) (int64, error)
	StreamNodes(ctx context.Context, fn func(node *Node) error) error
	Flush() error
	Close() error
}
