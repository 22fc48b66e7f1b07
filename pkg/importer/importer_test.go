package importer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/orneryd/wdgraph/pkg/storage"
	"github.com/orneryd/wdgraph/pkg/wikidata"
)

const (
	q42 = `{"type":"item","id":"Q42","labels":{"en":{"language":"en","value":"Douglas Adams"}}}`
	p31 = `{"type":"property","id":"P31","datatype":"wikibase-item",` +
		`"labels":{"en":{"language":"en","value":"instance of"}},` +
		`"aliases":{"en":[{"language":"en","value":"is a"},{"language":"en","value":"is an"}]}}`
)

func newTestImporter(t *testing.T, store storage.BatchInserter, cfg Config) (*Importer, string) {
	t.Helper()
	if cfg.PropertyDumpPath == "" {
		cfg.PropertyDumpPath = filepath.Join(t.TempDir(), "props", "properties.jsonl")
	}
	im, err := New(store, cfg, WithMeterProvider(noop.NewMeterProvider()))
	require.NoError(t, err)
	return im, cfg.PropertyDumpPath
}

func readDump(t *testing.T, path string) []wikidata.PropertyDumpRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []wikidata.PropertyDumpRecord
	require.NoError(t, wikidata.ReadPropertyDump(f, func(r wikidata.PropertyDumpRecord) error {
		recs = append(recs, r)
		return nil
	}))
	return recs
}

func TestImport_Item(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, dump := newTestImporter(t, store, Config{})

	res, err := im.Import([]byte(q42), wikidata.ClassItem)
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID(1000000042), res.NodeID)
	assert.Equal(t, wikidata.Key{Class: wikidata.ClassItem, Natural: 42}, res.Key)
	assert.True(t, res.Created)
	assert.False(t, res.Dumped)

	node, err := store.GetNode(1000000042)
	require.NoError(t, err)
	assert.Equal(t, []string{"Item"}, node.Labels)
	assert.Equal(t, map[string]any{
		"wikidataId": "Q42",
		"enLabel":    "Douglas Adams",
	}, node.Properties)

	require.NoError(t, im.Close())
	assert.Empty(t, readDump(t, dump), "items are never dumped")
}

func TestImport_Property(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, dump := newTestImporter(t, store, Config{})

	res, err := im.Import([]byte(p31), wikidata.ClassProperty)
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID(2000000031), res.NodeID)
	assert.True(t, res.Created)
	assert.True(t, res.Dumped)

	node, err := store.GetNode(2000000031)
	require.NoError(t, err)
	assert.Equal(t, []string{"Property"}, node.Labels)
	assert.Equal(t, "wikibase-item", node.Properties["datatype"])
	assert.Equal(t, "is a;is an", node.Properties["enAliases"])
	assert.NotContains(t, node.Properties, "ruLabel")

	require.NoError(t, im.Close())

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t,
		`{"wikidataId":"P31","enLabel":"instance of","ruLabel":"","datatype":"wikibase-item",`+
			`"enDescription":"","ruDescription":"","enAliases":"is a;is an","ruAliases":""}`+"\n",
		string(data))
}

func TestImport_SharedNaturalKeyDoesNotCollide(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, _ := newTestImporter(t, store, Config{})
	defer im.Close()

	item, err := im.Import([]byte(`{"id":"Q31"}`), wikidata.ClassItem)
	require.NoError(t, err)
	prop, err := im.Import([]byte(`{"id":"P31"}`), wikidata.ClassProperty)
	require.NoError(t, err)

	assert.Equal(t, storage.NodeID(1000000031), item.NodeID)
	assert.Equal(t, storage.NodeID(2000000031), prop.NodeID)
	assert.True(t, prop.Created)
}

func TestImport_Idempotent(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, dump := newTestImporter(t, store, Config{})

	first, err := im.Import([]byte(q42), wikidata.ClassItem)
	require.NoError(t, err)
	assert.True(t, first.Created)

	// a second document with the same id must not overwrite the first
	second, err := im.Import([]byte(`{"id":"Q42","labels":{"en":{"value":"Someone else"}}}`), wikidata.ClassItem)
	require.NoError(t, err)
	assert.False(t, second.Created)

	node, err := store.GetNode(1000000042)
	require.NoError(t, err)
	assert.Equal(t, "Douglas Adams", node.Properties["enLabel"])

	// properties are dumped on every import, even when the node exists
	for i := 0; i < 2; i++ {
		res, err := im.Import([]byte(p31), wikidata.ClassProperty)
		require.NoError(t, err)
		assert.True(t, res.Dumped)
	}

	assert.Equal(t, Stats{Documents: 4, Created: 2, Existing: 2, Dumped: 2}, im.Stats())
	require.NoError(t, im.Close())
	assert.Len(t, readDump(t, dump), 2)

	count, err := store.NodeCount()
	require.ErrorIs(t, err, storage.ErrStorageClosed, "Close finalizes the store")
	assert.Zero(t, count)
}

func TestImport_Errors(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, _ := newTestImporter(t, store, Config{})
	defer im.Close()

	tests := []struct {
		name  string
		raw   string
		class wikidata.Class
		want  error
	}{
		{"invalid json", `{not json`, wikidata.ClassItem, ErrParse},
		{"missing id", `{"labels":{}}`, wikidata.ClassItem, ErrParse},
		{"non-numeric id", `{"id":"Qabc"}`, wikidata.ClassItem, ErrParse},
		{"leading zeros", `{"id":"Q007"}`, wikidata.ClassItem, ErrParse},
		{"class mismatch", `{"id":"P31"}`, wikidata.ClassItem, ErrParse},
		{"unknown class", `{"id":"Q1"}`, wikidata.Class(0), ErrParse},
		{"natural too large", `{"id":"Q1000000000"}`, wikidata.ClassItem, ErrKeyOverflow},
		{"beyond uint64", `{"id":"Q99999999999999999999"}`, wikidata.ClassItem, ErrKeyOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := im.Import([]byte(tt.raw), tt.class)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}

	count, err := store.NodeCount()
	require.NoError(t, err)
	assert.Zero(t, count, "failed imports write nothing")
	assert.Zero(t, im.Stats().Documents)
}

func TestImport_LargestNaturalFits(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, _ := newTestImporter(t, store, Config{})
	defer im.Close()

	res, err := im.Import([]byte(`{"id":"Q999999999"}`), wikidata.ClassItem)
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID(1999999999), res.NodeID)
}

func TestImport_CustomSchemeAndSeparator(t *testing.T) {
	store := storage.NewMemoryEngine()
	im, _ := newTestImporter(t, store, Config{
		AliasSeparator: " | ",
		Keys:           wikidata.KeyScheme{Width: 12, PrefixDigits: 2, ItemPrefix: 10, PropertyPrefix: 20},
	})
	defer im.Close()

	res, err := im.Import([]byte(p31), wikidata.ClassProperty)
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID(200000000031), res.NodeID)

	node, err := store.GetNode(res.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "is a | is an", node.Properties["enAliases"])
}

// failingStore fails the selected operation.
type failingStore struct {
	existsErr, createErr, finalizeErr error
	finalized                         int
}

func (f *failingStore) NodeExists(storage.NodeID) (bool, error) { return false, f.existsErr }
func (f *failingStore) CreateNode(*storage.Node) error         { return f.createErr }
func (f *failingStore) Finalize() error {
	f.finalized++
	return f.finalizeErr
}

func TestImport_StoreErrors(t *testing.T) {
	diskFull := errors.New("disk full")

	t.Run("exists", func(t *testing.T) {
		im, _ := newTestImporter(t, &failingStore{existsErr: diskFull}, Config{})
		defer im.Close()

		_, err := im.Import([]byte(q42), wikidata.ClassItem)
		assert.ErrorIs(t, err, ErrStore)
		assert.ErrorIs(t, err, diskFull)
	})

	t.Run("create", func(t *testing.T) {
		im, dump := newTestImporter(t, &failingStore{createErr: diskFull}, Config{})

		_, err := im.Import([]byte(p31), wikidata.ClassProperty)
		assert.ErrorIs(t, err, ErrStore)
		assert.ErrorIs(t, err, diskFull)

		require.NoError(t, im.Close())
		assert.Empty(t, readDump(t, dump), "no dump line after a failed insert")
	})
}

func TestClose(t *testing.T) {
	store := &failingStore{}
	im, dump := newTestImporter(t, store, Config{})

	_, err := im.Import([]byte(p31), wikidata.ClassProperty)
	require.NoError(t, err)

	require.NoError(t, im.Close())
	assert.Equal(t, 1, store.finalized)
	assert.Len(t, readDump(t, dump), 1, "Close flushes the dump")

	assert.ErrorIs(t, im.Close(), ErrAlreadyClosed)
	assert.Equal(t, 1, store.finalized)

	_, err = im.Import([]byte(q42), wikidata.ClassItem)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestClose_FinalizeError(t *testing.T) {
	store := &failingStore{finalizeErr: errors.New("sync failed")}
	im, dump := newTestImporter(t, store, Config{})

	_, err := im.Import([]byte(p31), wikidata.ClassProperty)
	require.NoError(t, err)

	err = im.Close()
	assert.ErrorIs(t, err, ErrStore)
	assert.Len(t, readDump(t, dump), 1, "dump is still flushed")
}

func TestNew(t *testing.T) {
	t.Run("truncates existing dump", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "properties.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0644))

		im, _ := newTestImporter(t, storage.NewMemoryEngine(), Config{PropertyDumpPath: path})
		require.NoError(t, im.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("invalid input", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "properties.jsonl")

		_, err := New(nil, Config{PropertyDumpPath: path})
		assert.Error(t, err)

		_, err = New(storage.NewMemoryEngine(), Config{})
		assert.Error(t, err)

		_, err = New(storage.NewMemoryEngine(), Config{
			PropertyDumpPath: path,
			Keys:             wikidata.KeyScheme{Width: 10, PrefixDigits: 1, ItemPrefix: 1, PropertyPrefix: 1},
		})
		assert.Error(t, err)
	})

	t.Run("unwritable dump", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0644))

		store := storage.NewMemoryEngine()
		_, err := New(store, Config{PropertyDumpPath: filepath.Join(blocker, "properties.jsonl")})
		assert.Error(t, err)

		// ownership stays with the caller
		require.NoError(t, store.Finalize())
	})
}

func TestImport_Badger(t *testing.T) {
	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{InMemory: true, BatchSize: 2})
	require.NoError(t, err)
	defer engine.Close()

	im, dump := newTestImporter(t, engine, Config{})

	docs := []struct {
		raw   string
		class wikidata.Class
	}{
		{q42, wikidata.ClassItem},
		{p31, wikidata.ClassProperty},
		{`{"id":"Q5","labels":{"ru":{"value":"человек"}}}`, wikidata.ClassItem},
		{q42, wikidata.ClassItem},
	}
	for _, d := range docs {
		_, err := im.Import([]byte(d.raw), d.class)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), im.Stats().Created)

	var ids []storage.NodeID
	require.NoError(t, engine.StreamNodes(testContext(t), func(n *storage.Node) error {
		ids = append(ids, n.ID)
		return nil
	}))
	assert.Equal(t, []storage.NodeID{1000000005, 1000000042, 2000000031}, ids)

	count, err := engine.CountByLabel("Item")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, im.Close())
	assert.ErrorIs(t, engine.Finalize(), storage.ErrStorageClosed)
	assert.Len(t, readDump(t, dump), 1)
}

func TestImport_BadgerReopen(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "properties.jsonl")

	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{DataDir: filepath.Join(dir, "graph"), BatchSize: 1})
	require.NoError(t, err)
	im, _ := newTestImporter(t, engine, Config{PropertyDumpPath: dump})
	_, err = im.Import([]byte(q42), wikidata.ClassItem)
	require.NoError(t, err)
	require.NoError(t, im.Close())
	require.NoError(t, engine.Close())

	engine, err = storage.NewBadgerEngine(filepath.Join(dir, "graph"))
	require.NoError(t, err)
	defer engine.Close()

	node, err := engine.GetNode(1000000042)
	require.NoError(t, err)
	assert.Equal(t, "Douglas Adams", node.Properties["enLabel"])

	// re-import into the persisted store leaves the node alone
	im, _ = newTestImporter(t, engine, Config{PropertyDumpPath: dump})
	res, err := im.Import([]byte(q42), wikidata.ClassItem)
	require.NoError(t, err)
	assert.False(t, res.Created)
	require.NoError(t, im.Close())
}

func TestRun(t *testing.T) {
	dumpText := strings.Join([]string{
		"[",
		q42 + ",",
		p31 + ",",
		`{"type":"lexeme","id":"L7"},`,
		`{"type":"item","id":"Q1000000000"},`,
		`{broken,`,
		q42,
		"]",
	}, "\n")

	t.Run("skip malformed", func(t *testing.T) {
		store := storage.NewMemoryEngine()
		im, _ := newTestImporter(t, store, Config{})
		defer im.Close()

		summary, err := Run(testContext(t), im, strings.NewReader(dumpText), RunOptions{SkipMalformed: true, ProgressInterval: 1})
		require.NoError(t, err)

		assert.Equal(t, int64(6), summary.Lines)
		assert.Equal(t, int64(1), summary.Unsupported)
		assert.Equal(t, int64(2), summary.Failed)
		assert.Equal(t, int64(3), summary.Documents)
		assert.Equal(t, int64(2), summary.Created)
		assert.Equal(t, int64(1), summary.Existing)
		assert.Equal(t, int64(1), summary.Dumped)
	})

	t.Run("abort on malformed", func(t *testing.T) {
		im, _ := newTestImporter(t, storage.NewMemoryEngine(), Config{})
		defer im.Close()

		summary, err := Run(testContext(t), im, strings.NewReader(dumpText), RunOptions{})
		assert.ErrorIs(t, err, ErrKeyOverflow)
		assert.Contains(t, err.Error(), "line 5")
		assert.Equal(t, int64(2), summary.Created)
	})

	t.Run("store errors abort", func(t *testing.T) {
		im, _ := newTestImporter(t, &failingStore{createErr: errors.New("boom")}, Config{})
		defer im.Close()

		_, err := Run(testContext(t), im, strings.NewReader(dumpText), RunOptions{SkipMalformed: true})
		assert.ErrorIs(t, err, ErrStore)
	})

	t.Run("limit", func(t *testing.T) {
		im, _ := newTestImporter(t, storage.NewMemoryEngine(), Config{})
		defer im.Close()

		summary, err := Run(testContext(t), im, bytes.NewBufferString(dumpText), RunOptions{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Documents)
	})
}

// testContext stands in for testing.T.Context (Go 1.24+): the returned
// context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
