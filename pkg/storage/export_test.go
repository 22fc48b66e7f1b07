package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportNodes_JSONLines(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	require.NoError(t, engine.CreateNode(&Node{
		ID:         1000000042,
		Labels:     []string{"Item"},
		Properties: map[string]any{"wikidataId": "Q42", "enLabel": "Douglas Adams"},
	}))
	require.NoError(t, engine.CreateNode(&Node{
		ID:         2000000031,
		Labels:     []string{"Property"},
		Properties: map[string]any{"wikidataId": "P31"},
	}))

	var buf bytes.Buffer
	n, err := ExportNodes(context.Background(), engine, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var lines []Neo4jNode
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line Neo4jNode
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "node", lines[0].Type)
	assert.Equal(t, "1000000042", lines[0].ID)
	assert.Equal(t, []string{"Item"}, lines[0].Labels)
	assert.Equal(t, "Douglas Adams", lines[0].Properties["enLabel"])
	assert.Equal(t, "2000000031", lines[1].ID)
}

func TestSaveNodesToFile(t *testing.T) {
	engine := setupTestBadgerEngine(t, 10)
	require.NoError(t, engine.CreateNode(itemNode(1000000001, "Q1")))

	path := filepath.Join(t.TempDir(), "nodes.jsonl")
	n, err := SaveNodesToFile(context.Background(), engine, path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"wikidataId":"Q1"`)
}
