package wikidata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// PropertyDumpRecord is one line of the property dump. Field order is part of
// the format; no field is ever omitted.
type PropertyDumpRecord struct {
	WikidataID    string `json:"wikidataId"`
	EnLabel       string `json:"enLabel"`
	RuLabel       string `json:"ruLabel"`
	Datatype      string `json:"datatype"`
	EnDescription string `json:"enDescription"`
	RuDescription string `json:"ruDescription"`
	EnAliases     string `json:"enAliases"`
	RuAliases     string `json:"ruAliases"`
}

// PropertyDumpWriter appends records as JSON Lines. It buffers; call Flush
// before closing the underlying writer.
type PropertyDumpWriter struct {
	bw      *bufio.Writer
	enc     *json.Encoder
	written int64
}

// NewPropertyDumpWriter wraps w.
func NewPropertyDumpWriter(w io.Writer) *PropertyDumpWriter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &PropertyDumpWriter{bw: bw, enc: enc}
}

// Write appends one record followed by a newline.
func (w *PropertyDumpWriter) Write(rec PropertyDumpRecord) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("writing property %s: %w", rec.WikidataID, err)
	}
	w.written++
	return nil
}

// Written returns the number of records written.
func (w *PropertyDumpWriter) Written() int64 {
	return w.written
}

// Flush writes buffered records to the underlying writer.
func (w *PropertyDumpWriter) Flush() error {
	return w.bw.Flush()
}

// ReadPropertyDump calls fn for every record of a property dump. Blank lines
// are skipped; a malformed line fails with ErrParse naming its line number.
func ReadPropertyDump(r io.Reader, fn func(PropertyDumpRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		buf := scanner.Bytes()
		if len(buf) == 0 {
			continue
		}
		var rec PropertyDumpRecord
		if err := json.Unmarshal(buf, &rec); err != nil {
			return fmt.Errorf("%w: property dump line %d: %v", ErrParse, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LoadPropertyDump reads a whole dump into a map keyed by Wikidata id. Later
// lines win, so repeated runs appending the same property collapse to one entry.
func LoadPropertyDump(r io.Reader) (map[string]PropertyDumpRecord, error) {
	props := make(map[string]PropertyDumpRecord)
	err := ReadPropertyDump(r, func(rec PropertyDumpRecord) error {
		props[rec.WikidataID] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}
