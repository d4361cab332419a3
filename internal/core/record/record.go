// Package record holds the scraped item model: maintenance requests keyed by
// an integer id and work orders keyed by a prefixed order number.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which of the two item kinds a record describes.
type Kind string

const (
	KindRequest Kind = "request"
	KindOrder   Kind = "order"
)

// ParseKind accepts the singular or plural name of a kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request", "requests":
		return KindRequest, nil
	case "order", "orders":
		return KindOrder, nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// Record is a flat set of named fields for one item. The key is fixed at
// construction; every other field starts unset and may be set once.
//
// Records are built with New. Copies share their fields: a Set through one
// copy is visible through all of them. Use Clone for an independent record.
// The zero Record has no kind and accepts no fields.
type Record struct {
	kind   Kind
	key    string
	values map[string]any
}

// New creates an empty record of the given kind.
func New(kind Kind, key string) Record {
	return Record{kind: kind, key: key, values: map[string]any{}}
}

// NewRequest creates an empty request record.
func NewRequest(id int) Record { return New(KindRequest, strconv.Itoa(id)) }

// NewOrder creates an empty work order record.
func NewOrder(number string) Record { return New(KindOrder, number) }

// OrderNumber renders an integer order ordinal with its prefix (e.g. HM-463785).
func OrderNumber(prefix string, n int) string { return prefix + strconv.Itoa(n) }

// Key renders the integer ordinal n as the key of an item of this kind.
func (k Kind) Key(prefix string, n int) string {
	if k == KindOrder {
		return OrderNumber(prefix, n)
	}
	return strconv.Itoa(n)
}

func (r Record) Kind() Kind      { return r.kind }
func (r Record) Key() string     { return r.key }
func (r Record) Schema() *Schema { return SchemaFor(r.kind) }

// KeyValue returns the key converted to the key column's type.
func (r Record) KeyValue() (any, error) {
	if r.kind == KindRequest {
		id, err := strconv.Atoi(r.key)
		if err != nil {
			return nil, fmt.Errorf("request key %q is not an integer: %w", r.key, err)
		}
		return id, nil
	}
	return r.key, nil
}

// Set fills a field from its raw scraped text. It reports false when the
// field is unknown, already set, blank, or a date that does not parse.
func (r Record) Set(field, raw string) bool {
	if r.values == nil {
		return false
	}
	col, ok := r.Schema().Column(field)
	if !ok || col.Name == r.Schema().KeyColumn {
		return false
	}
	if _, done := r.values[field]; done {
		return false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if col.Type == Timestamp {
		t, err := ParseDate(raw)
		if err != nil {
			return false
		}
		r.values[field] = t
		return true
	}
	r.values[field] = raw
	return true
}

// Get returns the value of a field and whether it is set.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

func (r Record) IsSet(field string) bool {
	_, ok := r.values[field]
	return ok
}

// Clone returns a record with the same key and its own copy of the fields.
func (r Record) Clone() Record {
	c := New(r.kind, r.key)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Len is the number of set fields, excluding the key.
func (r Record) Len() int { return len(r.values) }

// Empty reports whether nothing beyond the key was scraped.
func (r Record) Empty() bool { return len(r.values) == 0 }

// SetFields lists set field names in schema column order.
func (r Record) SetFields() []string {
	if len(r.values) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.values))
	for _, c := range r.Schema().Columns {
		if _, ok := r.values[c.Name]; ok {
			out = append(out, c.Name)
		}
	}
	return out
}

var dateLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// ParseDate parses a portal date in any of its known formats.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
