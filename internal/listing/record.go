// Package listing defines the record model shared by the extractor,
// the processor, and the store: a flat field map whose values know how
// to render themselves as CSV cells and whether they carry information
// at all.
package listing

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Well-known field names.
const (
	FieldURL   = "url"
	FieldError = "error"
)

// Kind discriminates Value payloads.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is one field of a record.
type Value struct {
	kind Kind
	text string
	num  float64
	b    bool
	list []string
	m    map[string]string
}

// Null is the explicit absence of a value.
func Null() Value { return Value{kind: KindNull} }

// Text wraps a string value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps an ordered list of strings.
func List(items ...string) Value { return Value{kind: KindList, list: items} }

// Map wraps a string-keyed map.
func Map(m map[string]string) Value { return Value{kind: KindMap, m: m} }

// Kind returns the value's discriminator.
func (v Value) Kind() Kind { return v.kind }

// Strings returns the list payload, or nil for non-list values.
func (v Value) Strings() []string {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// emptyTextTokens are cell contents that mean "no value" regardless of
// case. Merges must never let them displace real data.
var emptyTextTokens = map[string]struct{}{
	"none":  {},
	"null":  {},
	"false": {},
}

// IsEmpty reports whether the value carries no information: null,
// blank or placeholder text, false, or an empty list. A present number
// is data even when zero; "0 suites" must survive merges.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindText:
		trimmed := strings.TrimSpace(v.text)
		if trimmed == "" {
			return true
		}
		_, placeholder := emptyTextTokens[strings.ToLower(trimmed)]
		return placeholder
	case KindNumber:
		return false
	case KindBool:
		return !v.b
	case KindList:
		return len(v.list) == 0
	case KindMap:
		return len(v.m) == 0
	default:
		return true
	}
}

// Cell renders the value as one CSV cell.
func (v Value) Cell() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ", ")
	case KindMap:
		encoded, err := json.Marshal(v.m)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return ""
	}
}

// Record is one listing's fields.
type Record map[string]Value

// positionalFieldRe matches the synthetic names given to cells loaded
// from headerless files. They never appear in a written header.
var positionalFieldRe = regexp.MustCompile(`^column_\d+$`)

// IsValidFieldName rejects blank and positional placeholder names.
func IsValidFieldName(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	return !positionalFieldRe.MatchString(name)
}

// URL returns the record's identity, or "" when absent or empty.
func (r Record) URL() string {
	v, ok := r[FieldURL]
	if !ok || v.IsEmpty() {
		return ""
	}
	return strings.TrimSpace(v.Cell())
}

// ErrorText returns the error field's text, or "" when absent.
func (r Record) ErrorText() string {
	v, ok := r[FieldError]
	if !ok {
		return ""
	}
	return v.Cell()
}

// Clone returns a shallow copy. Values are immutable by convention, so
// sharing them is safe.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for name, v := range r {
		out[name] = v
	}
	return out
}

// FieldNames returns the record's valid field names, sorted.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		if IsValidFieldName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FieldUnion returns the sorted union of valid field names across
// records.
func FieldUnion(records ...Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec {
			if IsValidFieldName(name) {
				seen[name] = struct{}{}
			}
		}
	}
	union := make([]string, 0, len(seen))
	for name := range seen {
		union = append(union, name)
	}
	sort.Strings(union)
	return union
}

// infraErrorMarkers identify failures of the fetch machinery itself.
// Records carrying only such an error describe our infrastructure, not
// the listing, and must never be persisted.
var infraErrorMarkers = []string{
	"browsertype.launch",
	"browser launch",
	"browser has been closed",
	"xserver",
	"xvfb",
	"display",
}

// maxPlausibleErrorLen bounds source-side error text; anything longer
// is a stack trace or page dump from our own tooling.
const maxPlausibleErrorLen = 500

// IsTechnicalFailure reports whether the record is a pure infrastructure
// failure marker: nothing but url and error, with error text matching
// an infra signature or implausibly long.
func (r Record) IsTechnicalFailure() bool {
	errVal, ok := r[FieldError]
	if !ok {
		return false
	}
	for name := range r {
		if name != FieldURL && name != FieldError {
			return false
		}
	}
	errText := errVal.Cell()
	lower := strings.ToLower(errText)
	for _, marker := range infraErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return len(errText) > maxPlausibleErrorLen
}
