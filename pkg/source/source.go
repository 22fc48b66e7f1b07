// Package source reads Wikidata JSON dumps.
//
// A full dump is one JSON array with one entity per line:
//
//	[
//	{"type":"item","id":"Q1",...},
//	{"type":"property","id":"P31",...}
//	]
//
// Open transparently decompresses .bz2 and .gz files. Scanner walks the lines,
// drops the array brackets and trailing commas, and hands each entity to a
// callback together with its Class. Lexemes and other entity types are
// skipped.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"

	"github.com/orneryd/wdgraph/pkg/wikidata"
)

// MaxLineSize bounds a single entity line. Large items exceed a megabyte.
const MaxLineSize = 8 << 20

// ErrLineTooLong is returned when an entity exceeds MaxLineSize.
var ErrLineTooLong = errors.New("dump line too long")

// Open opens a dump file, choosing the decompressor by extension.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".bz2"):
		zr, err := bzip2.NewReader(file, &bzip2.ReaderConfig{})
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening bzip2 stream: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, file}}, nil
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, file}}, nil
	default:
		return file, nil
	}
}

// stackedReader closes a decompressor and its underlying file together.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Document is one entity line of a dump.
//
// Class is zero when the line is not valid JSON; the importer reports such
// lines as parse errors.
type Document struct {
	Line  int64
	Raw   []byte
	Class wikidata.Class
}

// Stats counts what a Scanner has seen.
type Stats struct {
	Lines       int64 // non-blank lines, brackets excluded
	Documents   int64 // lines passed to the callback
	Unsupported int64 // entities of other types
}

// Scanner iterates the entity lines of a dump.
type Scanner struct {
	r     io.Reader
	stats Stats
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Stats returns the counts so far.
func (s *Scanner) Stats() Stats {
	return s.stats
}

type probe struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Scan calls fn for every item and property line. It stops early when ctx
// is cancelled or fn fails. Raw is only valid during the call.
func (s *Scanner) Scan(ctx context.Context, fn func(Document) error) error {
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var lineNo int64
	for sc.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		line := bytes.TrimSpace(sc.Bytes())
		line = bytes.TrimSuffix(line, []byte{','})
		if len(line) == 0 || bytes.Equal(line, []byte{'['}) || bytes.Equal(line, []byte{']'}) {
			continue
		}
		s.stats.Lines++

		class, ok := classify(line)
		if !ok {
			s.stats.Unsupported++
			continue
		}

		s.stats.Documents++
		if err := fn(Document{Line: lineNo, Raw: line, Class: class}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%w: after line %d", ErrLineTooLong, lineNo)
		}
		return fmt.Errorf("reading dump: %w", err)
	}
	return nil
}

// classify reports the class of a line. Invalid JSON yields (0, true) so
// the caller sees the malformed document.
func classify(line []byte) (wikidata.Class, bool) {
	var p probe
	if err := json.Unmarshal(line, &p); err != nil {
		return 0, true
	}
	if p.Type != "" {
		return wikidata.ClassFromType(p.Type)
	}
	// some older dumps omit "type"
	if len(p.ID) > 0 {
		switch p.ID[0] {
		case 'Q':
			return wikidata.ClassItem, true
		case 'P':
			return wikidata.ClassProperty, true
		}
	}
	return 0, false
}
