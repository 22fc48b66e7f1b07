// Package storage - Neo4j JSON Lines export.
//
// ExportNodes writes every node of an engine in the line-per-record format of
// Neo4j's `apoc.export.json.all()`, so a loaded graph can be moved into Neo4j
// tooling or diffed between runs.
//
// Example output:
//
//	{"type":"node","id":"1000000042","labels":["Item"],"properties":{"enLabel":"Douglas Adams","wikidataId":"Q42"}}
//	{"type":"node","id":"2000000031","labels":["Property"],"properties":{"datatype":"wikibase-item","wikidataId":"P31"}}
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Neo4jNode is one node line of an APOC JSON export.
type Neo4jNode struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// ToNeo4jNode converts a node to its APOC export shape.
func ToNeo4jNode(n *Node) Neo4jNode {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return Neo4jNode{
		Type:       "node",
		ID:         n.ID.String(),
		Labels:     n.Labels,
		Properties: props,
	}
}

// ExportNodes streams all nodes of engine to w as JSON Lines and returns the
// number written.
func ExportNodes(ctx context.Context, engine Engine, w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	var written int64
	err := engine.StreamNodes(ctx, func(node *Node) error {
		if err := enc.Encode(ToNeo4jNode(node)); err != nil {
			return fmt.Errorf("encoding node %s: %w", node.ID, err)
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("flushing export: %w", err)
	}
	return written, nil
}

// SaveNodesToFile exports all nodes to path, replacing any existing file.
func SaveNodesToFile(ctx context.Context, engine Engine, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}

	written, err := ExportNodes(ctx, engine, file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing export file: %w", closeErr)
	}
	return written, err
}
