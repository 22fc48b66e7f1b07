package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/orneryd/wdgraph/pkg/source"
)

// RunOptions controls Run.
type RunOptions struct {
	// SkipMalformed logs and counts ErrParse and ErrKeyOverflow documents
	// instead of aborting. Store and I/O errors always abort.
	SkipMalformed bool
	// ProgressInterval logs progress every N documents. Zero disables it.
	ProgressInterval int
	// Limit stops after N documents. Zero means no limit.
	Limit int64
	Logger *slog.Logger
}

// Summary reports the outcome of Run.
type Summary struct {
	Stats
	Lines       int64
	Failed      int64
	Unsupported int64
	Duration    time.Duration
}

var errLimitReached = errors.New("document limit reached")

// Run feeds every item and property of a dump into im.
//
// Run does not close im; the caller does, even when Run fails.
func Run(ctx context.Context, im *Importer, r io.Reader, opts RunOptions) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = im.logger
	}

	start := time.Now()
	scanner := source.NewScanner(r)
	var failed int64

	err := scanner.Scan(ctx, func(doc source.Document) error {
		if opts.Limit > 0 && scanner.Stats().Documents > opts.Limit {
			return errLimitReached
		}

		if _, err := im.Import(doc.Raw, doc.Class); err != nil {
			if opts.SkipMalformed && (errors.Is(err, ErrParse) || errors.Is(err, ErrKeyOverflow)) {
				failed++
				logger.Warn("skipping document", "line", doc.Line, "reason", failureReason(err), "error", err)
				return nil
			}
			return fmt.Errorf("line %d: %w", doc.Line, err)
		}

		if opts.ProgressInterval > 0 {
			if n := im.stats.Documents; n%int64(opts.ProgressInterval) == 0 {
				elapsed := time.Since(start)
				logger.Info("import progress",
					"documents", n,
					"created", im.stats.Created,
					"properties", im.stats.Dumped,
					"failed", failed,
					"rate", fmt.Sprintf("%.0f/s", float64(n)/elapsed.Seconds()))
			}
		}
		return nil
	})
	if errors.Is(err, errLimitReached) {
		err = nil
	}

	scanStats := scanner.Stats()
	summary := Summary{
		Stats:       im.Stats(),
		Lines:       scanStats.Lines,
		Failed:      failed,
		Unsupported: scanStats.Unsupported,
		Duration:    time.Since(start),
	}
	return summary, err
}
