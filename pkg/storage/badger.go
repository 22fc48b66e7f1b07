// Package storage provides storage engine implementations for the importer.
//
// BadgerEngine provides persistent disk-based storage using BadgerDB.
// Writes go through a badger WriteBatch, which is the bulk-loading session the
// importer drives: nodes accumulate in the batch and are committed every
// BatchSize nodes, on Flush, and on Finalize.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixNode       = byte(0x01) // nodes:nodeID -> Node
	prefixLabelIndex = byte(0x03) // label:labelName:nodeID -> []byte{}
)

// DefaultBatchSize is the number of nodes staged before the write batch is
// committed.
const DefaultBatchSize = 10000

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Nodes: 0x01 + bigendian(nodeID) -> JSON(Node)
//   - Label Index: 0x03 + lower(label) + 0x00 + bigendian(nodeID) -> empty
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.CreateNode(&storage.Node{
//		ID:         1000000042,
//		Labels:     []string{"Item"},
//		Properties: map[string]any{"wikidataId": "Q42"},
//	})
type BadgerEngine struct {
	db        *badger.DB
	mu        sync.RWMutex
	wb        *badger.WriteBatch
	pending   map[NodeID]*Node
	batchSize int
	closed    bool

	// commit flushes a write batch; replaced in tests.
	commit func(*badger.WriteBatch) error
	// failed is set once a batch could not be committed. The engine then
	// keeps its pending nodes and refuses further writes.
	failed error
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger

	// LowMemory reduces memtable and cache sizes.
	LowMemory bool

	// EncryptionKey enables encryption at rest. Must be 16, 24 or 32 bytes.
	// See DeriveEncryptionKey.
	EncryptionKey []byte

	// BatchSize is the number of nodes staged per write batch.
	// Zero means DefaultBatchSize.
	BatchSize int
}

// NewBadgerEngine creates a new persistent storage engine with default settings.
//
// The directory is created if it doesn't exist.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Configuration Trade-offs:
//   - SyncWrites=true: Slower writes but maximum safety
//   - LowMemory=true: Less RAM but slightly slower
//   - InMemory=true: Fastest but data lost on shutdown
//   - EncryptionKey set: AES encryption of tables and value log
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, fmt.Errorf("badger: data directory required")
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// A nil logger silences badger
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20)    // 32MB block cache
	}

	if len(opts.EncryptionKey) > 0 {
		switch len(opts.EncryptionKey) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("badger: encryption key must be 16, 24 or 32 bytes, got %d", len(opts.EncryptionKey))
		}
		// badger requires an index cache when encryption is enabled
		badgerOpts = badgerOpts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &BadgerEngine{
		db:        db,
		wb:        db.NewWriteBatch(),
		pending:   make(map[NodeID]*Node),
		batchSize: batchSize,
		commit:    (*badger.WriteBatch).Flush,
	}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// nodeKey creates a key for storing a node.
func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, id.bytes()...)
}

// labelIndexKey creates a key for the label index.
// Format: prefix + label (lowercase) + 0x00 + nodeID
func labelIndexKey(label string, nodeID NodeID) []byte {
	key := labelIndexPrefix(label)
	return append(key, nodeID.bytes()...)
}

// labelIndexPrefix returns the prefix for scanning all nodes with a label.
// Labels are normalized to lowercase for case-insensitive matching.
func labelIndexPrefix(label string) []byte {
	normalizedLabel := strings.ToLower(label)
	key := make([]byte, 0, 1+len(normalizedLabel)+1+8)
	key = append(key, prefixLabelIndex)
	key = append(key, []byte(normalizedLabel)...)
	key = append(key, 0x00)
	return key
}

// ============================================================================
// Serialization helpers
// ============================================================================

// serializableNode is the JSON-serializable form of a Node.
type serializableNode struct {
	ID         uint64         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	CreatedAt  int64          `json:"createdAt"`
}

// encodeNode serializes a Node to JSON.
func encodeNode(n *Node) ([]byte, error) {
	return json.Marshal(serializableNode{
		ID:         uint64(n.ID),
		Labels:     n.Labels,
		Properties: n.Properties,
		CreatedAt:  n.CreatedAt.Unix(),
	})
}

// decodeNode deserializes a Node from JSON.
func decodeNode(data []byte) (*Node, error) {
	var sn serializableNode
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, err
	}

	return &Node{
		ID:         NodeID(sn.ID),
		Labels:     sn.Labels,
		Properties: sn.Properties,
		CreatedAt:  unixToTime(sn.CreatedAt),
	}, nil
}

// unixToTime converts Unix timestamp to time.Time.
func unixToTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// copyNode returns a copy whose label slice and property map are not shared.
func copyNode(n *Node) *Node {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return &Node{
		ID:         n.ID,
		Labels:     slices.Clone(n.Labels),
		Properties: props,
		CreatedAt:  n.CreatedAt,
	}
}

// ============================================================================
// Node Operations
// ============================================================================

// NodeExists reports whether the node is stored or pending in the current batch.
func (b *BadgerEngine) NodeExists(id NodeID) (bool, error) {
	if id == 0 {
		return false, ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrStorageClosed
	}
	return b.existsLocked(id)
}

func (b *BadgerEngine) existsLocked(id NodeID) (bool, error) {
	if _, ok := b.pending[id]; ok {
		return true, nil
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateNode stages a new node in the current write batch.
//
// Returns ErrAlreadyExists if the ID is stored or pending. The batch is
// committed once it holds BatchSize nodes.
func (b *BadgerEngine) CreateNode(node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	if b.failed != nil {
		return b.failed
	}

	exists, err := b.existsLocked(node.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}

	stored := copyNode(node)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := encodeNode(stored)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}

	if err := b.wb.Set(nodeKey(stored.ID), data); err != nil {
		return fmt.Errorf("failed to stage node %s: %w", stored.ID, err)
	}
	for _, label := range stored.Labels {
		if err := b.wb.Set(labelIndexKey(label, stored.ID), []byte{}); err != nil {
			return fmt.Errorf("failed to stage label %q for node %s: %w", label, stored.ID, err)
		}
	}
	b.pending[stored.ID] = stored

	if len(b.pending) >= b.batchSize {
		return b.flushLocked()
	}
	return nil
}

// GetNode retrieves a node by ID.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	if n, ok := b.pending[id]; ok {
		return copyNode(n), nil
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decErr error
			node, decErr = decodeNode(val)
			return decErr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// StreamNodes calls fn for every node, committed or pending, in ID order.
// Returning ErrIterationStopped from fn ends the stream without error.
//
// Badger may commit part of a write batch on its own when the batch outgrows
// a transaction, so a pending node can also be committed. It is visited once.
func (b *BadgerEngine) StreamNodes(ctx context.Context, fn func(node *Node) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	pending := b.pendingSnapshotLocked()
	b.mu.RUnlock()

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		next := 0
		prefix := []byte{prefixNode}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			id, ok := nodeIDFromBytes(it.Item().Key()[1:])
			if !ok {
				continue
			}
			for next < len(pending) && pending[next].ID < id {
				if err := fn(pending[next]); err != nil {
					return err
				}
				next++
			}
			if next < len(pending) && pending[next].ID == id {
				// the pending copy is emitted by the loop above or below
				continue
			}

			var node *Node
			err := it.Item().Value(func(val []byte) error {
				var decErr error
				node, decErr = decodeNode(val)
				return decErr
			})
			if err != nil {
				continue // Skip invalid nodes
			}
			if err := fn(node); err != nil {
				return err
			}
		}

		for ; next < len(pending); next++ {
			if err := fn(pending[next]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrIterationStopped) {
		return nil
	}
	return err
}

func (b *BadgerEngine) pendingSnapshotLocked() []*Node {
	nodes := make([]*Node, 0, len(b.pending))
	for _, n := range b.pending {
		nodes = append(nodes, copyNode(n))
	}
	slices.SortFunc(nodes, func(x, y *Node) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})
	return nodes
}

// ============================================================================
// Stats and Lifecycle
// ============================================================================

// NodeCount returns the total number of nodes, pending ones included.
func (b *BadgerEngine) NodeCount() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrStorageClosed
	}

	count, err := b.countPrefixLocked([]byte{prefixNode})
	return count + int64(len(b.pending)), err
}

// CountByLabel returns the number of nodes carrying label (case-insensitive).
func (b *BadgerEngine) CountByLabel(label string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrStorageClosed
	}

	count, err := b.countPrefixLocked(labelIndexPrefix(label))
	for _, n := range b.pending {
		if hasLabel(n, label) {
			count++
		}
	}
	return count, err
}

// countPrefixLocked counts committed keys under prefix whose trailing node ID
// is not pending, so nodes badger committed mid-batch are not counted twice.
func (b *BadgerEngine) countPrefixLocked(prefix []byte) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < 8 {
				continue
			}
			id, _ := nodeIDFromBytes(key[len(key)-8:])
			if _, ok := b.pending[id]; ok {
				continue
			}
			count++
		}
		return nil
	})
	return count, err
}

// Flush commits the current write batch and opens a new one.
func (b *BadgerEngine) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	return b.flushLocked()
}

// flushLocked commits the write batch. On failure the pending nodes stay
// visible and the engine stops accepting writes.
func (b *BadgerEngine) flushLocked() error {
	if b.failed != nil {
		return b.failed
	}
	if err := b.commit(b.wb); err != nil {
		b.failed = fmt.Errorf("failed to flush write batch: %w", err)
		return b.failed
	}
	b.wb = b.db.NewWriteBatch()
	b.pending = make(map[NodeID]*Node)
	return nil
}

// Finalize commits pending writes and closes the database, ending the batch
// session. A second call returns ErrStorageClosed.
func (b *BadgerEngine) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	return b.shutdownLocked()
}

// Close behaves like Finalize but is a no-op on a closed engine.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	return b.shutdownLocked()
}

func (b *BadgerEngine) shutdownLocked() error {
	b.closed = true

	flushErr := b.failed
	if flushErr == nil {
		if err := b.commit(b.wb); err != nil {
			flushErr = fmt.Errorf("failed to flush write batch: %w", err)
		}
	}
	b.pending = nil

	return errors.Join(flushErr, b.db.Close())
}

func hasLabel(n *Node, label string) bool {
	for _, l := range n.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
