package wikidata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Locales extracted from every document.
const (
	LocaleEN = "en"
	LocaleRU = "ru"
)

// DefaultAliasSeparator joins the aliases of one locale into a single value.
const DefaultAliasSeparator = ";"

// Node property names.
const (
	FieldWikidataID    = "wikidataId"
	FieldDatatype      = "datatype"
	FieldEnLabel       = "enLabel"
	FieldRuLabel       = "ruLabel"
	FieldEnDescription = "enDescription"
	FieldRuDescription = "ruDescription"
	FieldEnAliases     = "enAliases"
	FieldRuAliases     = "ruAliases"
)

// MonolingualText is a single localized string.
type MonolingualText struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// EntityDocument is the subset of a Wikidata entity JSON document the importer
// reads. Every member is optional except ID; claims and sitelinks are ignored.
type EntityDocument struct {
	ID           string                       `json:"id"`
	Type         string                       `json:"type,omitempty"`
	Datatype     string                       `json:"datatype,omitempty"`
	Labels       map[string]MonolingualText   `json:"labels,omitempty"`
	Descriptions map[string]MonolingualText   `json:"descriptions,omitempty"`
	Aliases      map[string][]MonolingualText `json:"aliases,omitempty"`
}

// ParseDocument decodes raw entity JSON. Syntax errors and a missing id are
// reported as ErrParse.
func ParseDocument(raw []byte) (*EntityDocument, error) {
	var doc EntityDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document has no id", ErrParse)
	}
	return &doc, nil
}

// ProjectOptions tunes field extraction.
type ProjectOptions struct {
	// AliasSeparator joins alias values. Empty means DefaultAliasSeparator.
	AliasSeparator string
}

func (o ProjectOptions) separator() string {
	if o.AliasSeparator == "" {
		return DefaultAliasSeparator
	}
	return o.AliasSeparator
}

// Fields are the extracted string values of one document. An empty string
// means the source field was absent or empty.
type Fields struct {
	WikidataID    string
	Datatype      string
	EnLabel       string
	RuLabel       string
	EnDescription string
	RuDescription string
	EnAliases     string
	RuAliases     string
}

// Project parses raw and extracts its fields for the given class. The
// datatype is only read for properties.
func Project(raw []byte, class Class, opts ProjectOptions) (Fields, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return Fields{}, err
	}
	return doc.Fields(class, opts), nil
}

// Fields extracts the en/ru values of the document.
func (d *EntityDocument) Fields(class Class, opts ProjectOptions) Fields {
	f := Fields{
		WikidataID:    d.ID,
		EnLabel:       d.Labels[LocaleEN].Value,
		RuLabel:       d.Labels[LocaleRU].Value,
		EnDescription: d.Descriptions[LocaleEN].Value,
		RuDescription: d.Descriptions[LocaleRU].Value,
		EnAliases:     JoinAliases(d.Aliases[LocaleEN], opts.separator()),
		RuAliases:     JoinAliases(d.Aliases[LocaleRU], opts.separator()),
	}
	if class == ClassProperty {
		f.Datatype = d.Datatype
	}
	return f
}

// JoinAliases concatenates all non-empty alias values with sep. An empty or
// nil sequence yields "".
func JoinAliases(aliases []MonolingualText, sep string) string {
	if len(aliases) == 0 {
		return ""
	}
	values := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a.Value != "" {
			values = append(values, a.Value)
		}
	}
	return strings.Join(values, sep)
}

// NodeRecord is the property map of a node. It always holds wikidataId; every
// other field is present only when non-empty.
type NodeRecord map[string]any

// NodeRecord builds the node property map.
func (f Fields) NodeRecord() NodeRecord {
	rec := NodeRecord{FieldWikidataID: f.WikidataID}
	for _, kv := range []struct {
		name, value string
	}{
		{FieldDatatype, f.Datatype},
		{FieldEnLabel, f.EnLabel},
		{FieldRuLabel, f.RuLabel},
		{FieldEnDescription, f.EnDescription},
		{FieldRuDescription, f.RuDescription},
		{FieldEnAliases, f.EnAliases},
		{FieldRuAliases, f.RuAliases},
	} {
		if kv.value != "" {
			rec[kv.name] = kv.value
		}
	}
	return rec
}

// DumpRecord builds the property dump line, every field present.
func (f Fields) DumpRecord() PropertyDumpRecord {
	return PropertyDumpRecord{
		WikidataID:    f.WikidataID,
		EnLabel:       f.EnLabel,
		RuLabel:       f.RuLabel,
		Datatype:      f.Datatype,
		EnDescription: f.EnDescription,
		RuDescription: f.RuDescription,
		EnAliases:     f.EnAliases,
		RuAliases:     f.RuAliases,
	}
}
