// Package wikidata projects Wikidata entity documents into graph nodes.
//
// Items (Q-ids) and properties (P-ids) have independent numbering, so Q31 and
// P31 share the natural key 31. A KeyScheme folds both namespaces into one
// numeric node ID space by reserving the leading decimal digits of a
// fixed-width number for a class prefix:
//
//	Q42 -> Key{Item, 42}     -> 1000000042
//	P31 -> Key{Property, 31} -> 2000000031
//
// The flat number is computed only by KeyScheme.Encode; everything else
// passes the tagged Key around.
package wikidata

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/orneryd/wdgraph/pkg/storage"
)

var (
	// ErrParse reports a malformed document or entity id.
	ErrParse = errors.New("parse error")
	// ErrKeyOverflow reports a natural key too large for the key scheme.
	ErrKeyOverflow = errors.New("key overflow")
)

// Class is the entity namespace of a document.
type Class int

const (
	ClassItem Class = iota + 1
	ClassProperty
)

// String returns the entity type name, matching the dump's "type" field.
func (c Class) String() string {
	switch c {
	case ClassItem:
		return "item"
	case ClassProperty:
		return "property"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Label is the graph label attached to nodes of the class.
func (c Class) Label() string {
	switch c {
	case ClassItem:
		return "Item"
	case ClassProperty:
		return "Property"
	default:
		return ""
	}
}

// IDPrefix is the leading character of the class's entity ids.
func (c Class) IDPrefix() byte {
	switch c {
	case ClassItem:
		return 'Q'
	case ClassProperty:
		return 'P'
	default:
		return 0
	}
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassItem || c == ClassProperty
}

// ClassFromType maps a document "type" field to a Class.
func ClassFromType(entityType string) (Class, bool) {
	switch entityType {
	case "item":
		return ClassItem, true
	case "property":
		return ClassProperty, true
	default:
		return 0, false
	}
}

// Key is the tagged natural key of an entity.
type Key struct {
	Class   Class
	Natural uint64
}

// String renders the key as a Wikidata id, e.g. "Q42".
func (k Key) String() string {
	return string(k.Class.IDPrefix()) + strconv.FormatUint(k.Natural, 10)
}

// ParseKey strips the leading type character from a Wikidata id and parses the
// remaining digits. The character must match class and the digits must be in
// canonical form, without leading zeros.
func ParseKey(id string, class Class) (Key, error) {
	if !class.Valid() {
		return Key{}, fmt.Errorf("%w: unknown entity class %d", ErrParse, int(class))
	}
	if len(id) < 2 {
		return Key{}, fmt.Errorf("%w: entity id %q too short", ErrParse, id)
	}
	if id[0] != class.IDPrefix() {
		return Key{}, fmt.Errorf("%w: entity id %q does not start with %c", ErrParse, id, class.IDPrefix())
	}

	digits := id[1:]
	if len(digits) > 1 && digits[0] == '0' {
		// Q7 and Q007 would otherwise share a node
		return Key{}, fmt.Errorf("%w: entity id %q has leading zeros", ErrParse, id)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Key{}, fmt.Errorf("%w: entity id %q has a non-numeric suffix", ErrParse, id)
		}
	}
	natural, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		// only range errors remain; report them as overflow rather than bad syntax
		return Key{}, fmt.Errorf("%w: entity id %q: %v", ErrKeyOverflow, id, err)
	}
	return Key{Class: class, Natural: natural}, nil
}

// maxWidth is the largest decimal width whose values always fit in a uint64.
const maxWidth = 19

// KeyScheme describes the fixed-width decimal prefix encoding.
type KeyScheme struct {
	// Width is the total number of decimal digits of an encoded ID.
	Width int `yaml:"width"`
	// PrefixDigits is the number of leading digits holding the class prefix.
	PrefixDigits int `yaml:"prefix_digits"`
	// ItemPrefix and PropertyPrefix must differ and fit in PrefixDigits.
	ItemPrefix     uint64 `yaml:"item_prefix"`
	PropertyPrefix uint64 `yaml:"property_prefix"`
}

// DefaultKeyScheme is the 10-digit scheme with a single prefix digit.
var DefaultKeyScheme = KeyScheme{
	Width:          10,
	PrefixDigits:   1,
	ItemPrefix:     1,
	PropertyPrefix: 2,
}

// Validate checks that the scheme yields disjoint, in-range IDs.
func (s KeyScheme) Validate() error {
	if s.Width <= 0 || s.Width > maxWidth {
		return fmt.Errorf("key width must be in 1..%d, got %d", maxWidth, s.Width)
	}
	if s.PrefixDigits <= 0 || s.PrefixDigits >= s.Width {
		return fmt.Errorf("prefix digits must be in 1..%d, got %d", s.Width-1, s.PrefixDigits)
	}
	limit := pow10(s.PrefixDigits)
	if s.ItemPrefix >= limit || s.PropertyPrefix >= limit {
		return fmt.Errorf("prefixes %d/%d do not fit in %d digit(s)", s.ItemPrefix, s.PropertyPrefix, s.PrefixDigits)
	}
	if s.ItemPrefix == 0 || s.PropertyPrefix == 0 {
		return fmt.Errorf("prefixes must be non-zero")
	}
	if s.ItemPrefix == s.PropertyPrefix {
		return fmt.Errorf("item and property prefixes must differ, both are %d", s.ItemPrefix)
	}
	return nil
}

// MaxNatural is the exclusive upper bound on natural keys.
func (s KeyScheme) MaxNatural() uint64 {
	return pow10(s.Width - s.PrefixDigits)
}

func (s KeyScheme) prefix(c Class) (uint64, error) {
	switch c {
	case ClassItem:
		return s.ItemPrefix, nil
	case ClassProperty:
		return s.PropertyPrefix, nil
	default:
		return 0, fmt.Errorf("%w: unknown entity class %d", ErrParse, int(c))
	}
}

// Encode computes prefix*10^(Width-PrefixDigits) + natural.
//
// Fails with ErrKeyOverflow if the natural key would reach into the prefix
// digits. The scheme must be valid.
func (s KeyScheme) Encode(k Key) (storage.NodeID, error) {
	prefix, err := s.prefix(k.Class)
	if err != nil {
		return 0, err
	}
	span := s.MaxNatural()
	if k.Natural >= span {
		return 0, fmt.Errorf("%w: %s does not fit below %d", ErrKeyOverflow, k, span)
	}
	return storage.NodeID(prefix*span + k.Natural), nil
}

// Decode inverts Encode.
func (s KeyScheme) Decode(id storage.NodeID) (Key, error) {
	span := s.MaxNatural()
	prefix := uint64(id) / span
	natural := uint64(id) % span

	switch {
	case uint64(id) >= pow10(s.Width):
		return Key{}, fmt.Errorf("%w: node id %s is wider than %d digits", ErrParse, id, s.Width)
	case prefix == s.ItemPrefix:
		return Key{Class: ClassItem, Natural: natural}, nil
	case prefix == s.PropertyPrefix:
		return Key{Class: ClassProperty, Natural: natural}, nil
	default:
		return Key{}, fmt.Errorf("%w: node id %s has unknown prefix %d", ErrParse, id, prefix)
	}
}

func pow10(n int) uint64 {
	p := uint64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
