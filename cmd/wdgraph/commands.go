package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/wdgraph/pkg/config"
	"github.com/orneryd/wdgraph/pkg/importer"
	"github.com/orneryd/wdgraph/pkg/logging"
	"github.com/orneryd/wdgraph/pkg/source"
	"github.com/orneryd/wdgraph/pkg/storage"
	"github.com/orneryd/wdgraph/pkg/wikidata"
)

// loadConfig reads --config and the environment, then applies command flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Store.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("prop-dump") {
		cfg.Import.PropertyDumpPath, _ = flags.GetString("prop-dump")
	}
	if flags.Changed("in-memory") {
		cfg.Store.InMemory, _ = flags.GetBool("in-memory")
	}
	if flags.Changed("batch-size") {
		cfg.Store.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("strict") {
		strict, _ := flags.GetBool("strict")
		cfg.Import.SkipMalformed = !strict
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and installs the logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	logger = logger.With("run_id", uuid.NewString(), "command", cmd.Name())
	logger.Debug("configuration loaded", "config", cfg.String())
	return cfg, logger, cleanup, nil
}

// openEngine opens the configured store. In-memory runs use MemoryEngine.
func openEngine(cfg *config.Config, logger *slog.Logger) (storage.Engine, error) {
	if cfg.Store.InMemory {
		logger.Info("using in-memory store")
		return storage.NewMemoryEngine(), nil
	}

	opts := storage.BadgerOptions{
		DataDir:    cfg.Store.DataDir,
		SyncWrites: cfg.Store.SyncWrites,
		LowMemory:  cfg.Store.LowMemory,
		BatchSize:  cfg.Store.BatchSize,
		Logger:     storage.NewBadgerLogger(logger),
	}

	if cfg.Store.EncryptionEnabled {
		salt, err := storage.LoadOrCreateSalt(cfg.Store.DataDir)
		if err != nil {
			return nil, err
		}
		key, err := storage.DeriveEncryptionKey(cfg.Store.EncryptionPassphrase, salt)
		if err != nil {
			return nil, err
		}
		opts.EncryptionKey = key
	}

	engine, err := storage.NewBadgerEngineWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Info("opened store", "data_dir", cfg.Store.DataDir, "encrypted", cfg.Store.EncryptionEnabled)
	return engine, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "wdgraph.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runImport(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	dump, err := source.Open(args[0])
	if err != nil {
		return err
	}
	defer dump.Close()

	engine, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	im, err := importer.New(engine, importer.Config{
		PropertyDumpPath: cfg.Import.PropertyDumpPath,
		AliasSeparator:   cfg.Import.AliasSeparator,
		Keys:             cfg.Keys,
	}, importer.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, im.Close())
	}()

	limit, _ := cmd.Flags().GetInt64("limit")
	logger.Info("import started", "dump", args[0], "property_dump", cfg.Import.PropertyDumpPath)

	summary, err := importer.Run(cmd.Context(), im, dump, importer.RunOptions{
		SkipMalformed:    cfg.Import.SkipMalformed,
		ProgressInterval: cfg.Import.ProgressInterval,
		Limit:            limit,
		Logger:           logger,
	})
	logger.Info("import finished",
		"documents", summary.Documents,
		"created", summary.Created,
		"existing", summary.Existing,
		"properties", summary.Dumped,
		"failed", summary.Failed,
		"unsupported", summary.Unsupported,
		"duration", summary.Duration.Round(time.Millisecond))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents (%d new nodes, %d properties) in %v\n",
		summary.Documents, summary.Created, summary.Dumped, summary.Duration.Round(time.Millisecond))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	var n int64
	if args[0] == "-" {
		n, err = storage.ExportNodes(cmd.Context(), engine, cmd.OutOrStdout())
	} else {
		n, err = storage.SaveNodesToFile(cmd.Context(), engine, args[0])
	}
	if err != nil {
		return err
	}
	logger.Info("export finished", "nodes", n, "output", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	total, err := engine.NodeCount()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Nodes:      %d\n", total)
	for _, class := range []wikidata.Class{wikidata.ClassItem, wikidata.ClassProperty} {
		count, err := engine.CountByLabel(class.Label())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-9s %d\n", class.Label()+":", count)
	}
	return nil
}

func runProps(cmd *cobra.Command, args []string) error {
	cfg, _, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Open(cfg.Import.PropertyDumpPath)
	if err != nil {
		return fmt.Errorf("opening property dump: %w", err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		var n int
		if err := wikidata.ReadPropertyDump(f, func(wikidata.PropertyDumpRecord) error {
			n++
			return nil
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d properties in %s\n", n, cfg.Import.PropertyDumpPath)
		return nil
	}

	props, err := wikidata.LoadPropertyDump(f)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, id := range args {
		rec, ok := props[id]
		if !ok {
			return fmt.Errorf("property %s not found", id)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
