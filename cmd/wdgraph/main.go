// Package main provides the wdgraph CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("interrupted")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wdgraph",
		Short: "wdgraph - Wikidata to property graph importer",
		Long: `wdgraph loads Wikidata JSON dumps into an embedded graph store.

Every item (Q-id) and property (P-id) becomes one node carrying its English
and Russian labels, descriptions and aliases. Node IDs fold both namespaces
into one numeric space (Q42 -> 1000000042, P31 -> 2000000031). Properties are
also written to a JSON Lines property dump.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wdgraph v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [dump]",
		Short: "Import a Wikidata JSON dump (.json, .json.gz, .json.bz2)",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(importCmd)
	importCmd.Flags().String("prop-dump", "", "Property dump output path")
	importCmd.Flags().Bool("in-memory", false, "Dry run against an in-memory store")
	importCmd.Flags().Int("batch-size", 0, "Nodes per write batch")
	importCmd.Flags().Bool("strict", false, "Abort on the first malformed document")
	importCmd.Flags().Int64("limit", 0, "Stop after N documents")
	rootCmd.AddCommand(importCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export [output]",
		Short: "Export all nodes as Neo4j APOC JSON Lines (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	addStoreFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node counts",
		RunE:  runStats,
	}
	addStoreFlags(statsCmd)
	rootCmd.AddCommand(statsCmd)

	// Props command
	propsCmd := &cobra.Command{
		Use:   "props [P-id...]",
		Short: "Look up properties in the property dump",
		RunE:  runProps,
	}
	propsCmd.Flags().String("prop-dump", "", "Property dump path")
	rootCmd.AddCommand(propsCmd)

	return rootCmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "Graph data directory")
}
