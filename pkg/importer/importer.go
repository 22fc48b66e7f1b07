// Package importer loads Wikidata entity documents into a node store.
//
// An Importer owns two resources for its whole life: the store's batch
// session and the property dump file. Each Import call projects one document,
// encodes its node ID, inserts the node unless it already exists, and for
// properties appends a line to the dump. Close releases both resources.
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngine("./data/graph")
//	if err != nil {
//		log.Fatal(err)
//	}
//	im, err := importer.New(engine, importer.Config{
//		PropertyDumpPath: "./data/properties.jsonl",
//	})
//	if err != nil {
//		engine.Close()
//		log.Fatal(err)
//	}
//	defer im.Close()
//
//	res, err := im.Import([]byte(`{"id":"Q42","labels":{"en":{"value":"Douglas Adams"}}}`), wikidata.ClassItem)
//	// res.NodeID == 1000000042
//
// An Importer is not safe for concurrent use.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/orneryd/wdgraph/pkg/storage"
	"github.com/orneryd/wdgraph/pkg/wikidata"
)

var (
	// ErrParse reports a malformed document.
	ErrParse = wikidata.ErrParse
	// ErrKeyOverflow reports a natural key outside the key scheme.
	ErrKeyOverflow = wikidata.ErrKeyOverflow
	// ErrStore wraps failures of the underlying store.
	ErrStore = errors.New("store error")
	// ErrAlreadyClosed is returned by Import and Close after Close.
	ErrAlreadyClosed = errors.New("importer already closed")
)

// Config configures an Importer.
type Config struct {
	// PropertyDumpPath is created, or truncated, by New.
	PropertyDumpPath string
	// AliasSeparator joins aliases; empty means wikidata.DefaultAliasSeparator.
	AliasSeparator string
	// Keys is the node ID scheme; the zero value means wikidata.DefaultKeyScheme.
	Keys wikidata.KeyScheme
}

// Option customizes an Importer.
type Option func(*Importer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = logger
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(im *Importer) {
		im.meterProvider = mp
	}
}

// Result describes the outcome of one successful Import.
type Result struct {
	Key     wikidata.Key
	NodeID  storage.NodeID
	Created bool // false when the node already existed
	Dumped  bool // a property dump line was written
}

// Stats are running totals of successful imports.
type Stats struct {
	Documents int64
	Created   int64
	Existing  int64
	Dumped    int64
}

// Importer is the import orchestrator.
type Importer struct {
	store   storage.BatchInserter
	keys    wikidata.KeyScheme
	project wikidata.ProjectOptions

	dumpFile *os.File
	dump     *wikidata.PropertyDumpWriter

	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *importMetrics

	stats  Stats
	closed bool
}

// New creates an importer over store and creates a fresh property dump.
//
// On success the importer owns store and finalizes it in Close. On error
// ownership stays with the caller.
func New(store storage.BatchInserter, cfg Config, opts ...Option) (*Importer, error) {
	if store == nil {
		return nil, errors.New("importer: store is nil")
	}
	if cfg.PropertyDumpPath == "" {
		return nil, errors.New("importer: property dump path is empty")
	}

	keys := cfg.Keys
	if keys == (wikidata.KeyScheme{}) {
		keys = wikidata.DefaultKeyScheme
	}
	if err := keys.Validate(); err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}

	im := &Importer{
		store:   store,
		keys:    keys,
		project: wikidata.ProjectOptions{AliasSeparator: cfg.AliasSeparator},
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.logger == nil {
		im.logger = slog.Default()
	}
	if im.meterProvider == nil {
		im.meterProvider = otel.GetMeterProvider()
	}

	metrics, err := newImportMetrics(im.meterProvider.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	im.metrics = metrics

	if dir := filepath.Dir(cfg.PropertyDumpPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("importer: creating dump directory: %w", err)
		}
	}
	file, err := os.Create(cfg.PropertyDumpPath)
	if err != nil {
		return nil, fmt.Errorf("importer: creating property dump: %w", err)
	}
	im.dumpFile = file
	im.dump = wikidata.NewPropertyDumpWriter(file)

	im.logger.Debug("importer ready", "property_dump", cfg.PropertyDumpPath,
		"key_width", keys.Width, "item_prefix", keys.ItemPrefix, "property_prefix", keys.PropertyPrefix)
	return im, nil
}

// Import loads one raw entity document of the given class.
//
// Errors wrap ErrParse, ErrKeyOverflow or ErrStore. A node that already
// exists is left untouched; property documents are dumped either way.
func (im *Importer) Import(raw []byte, class wikidata.Class) (*Result, error) {
	if im.closed {
		return nil, ErrAlreadyClosed
	}

	res, err := im.importDocument(raw, class)
	im.metrics.record(context.Background(), class, res, err)
	if err != nil {
		return nil, err
	}

	im.stats.Documents++
	if res.Created {
		im.stats.Created++
	} else {
		im.stats.Existing++
	}
	if res.Dumped {
		im.stats.Dumped++
	}
	return res, nil
}

func (im *Importer) importDocument(raw []byte, class wikidata.Class) (*Result, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("%w: unknown entity class %d", ErrParse, int(class))
	}

	fields, err := wikidata.Project(raw, class, im.project)
	if err != nil {
		return nil, err
	}

	key, err := wikidata.ParseKey(fields.WikidataID, class)
	if err != nil {
		return nil, err
	}
	id, err := im.keys.Encode(key)
	if err != nil {
		return nil, err
	}

	res := &Result{Key: key, NodeID: id}

	exists, err := im.store.NodeExists(id)
	if err != nil {
		return nil, fmt.Errorf("%w: checking node %s (%s): %w", ErrStore, id, key, err)
	}
	if !exists {
		node := &storage.Node{
			ID:         id,
			Labels:     []string{class.Label()},
			Properties: fields.NodeRecord(),
		}
		if err := im.store.CreateNode(node); err != nil {
			return nil, fmt.Errorf("%w: creating node %s (%s): %w", ErrStore, id, key, err)
		}
		res.Created = true
	}

	if class == wikidata.ClassProperty {
		if err := im.dump.Write(fields.DumpRecord()); err != nil {
			return nil, err
		}
		res.Dumped = true
	}

	return res, nil
}

// Stats returns totals of successful imports so far.
func (im *Importer) Stats() Stats {
	return im.stats
}

// Close flushes and closes the property dump and finalizes the store. Both
// are attempted even if one fails. A second call returns ErrAlreadyClosed.
func (im *Importer) Close() error {
	if im.closed {
		return ErrAlreadyClosed
	}
	im.closed = true

	var errs []error
	if err := im.dump.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing property dump: %w", err))
	}
	if err := im.dumpFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing property dump: %w", err))
	}
	if err := im.store.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("%w: finalizing store: %w", ErrStore, err))
	}

	im.logger.Debug("importer closed",
		"documents", im.stats.Documents, "created", im.stats.Created,
		"existing", im.stats.Existing, "dumped", im.stats.Dumped)
	return errors.Join(errs...)
}

// failureReason names the error kind for metrics and logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrKeyOverflow):
		return "key_overflow"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "io"
	}
}
