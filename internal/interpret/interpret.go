// Package interpret turns free-form generative model output into typed records.
// Every component that consumes model text funnels through Interpret so that
// recovery semantics are uniform across the pipeline: first a structural JSON
// extraction, then field-by-field pattern recovery, then range clamping.
package interpret

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Range bounds a numeric field. Values outside the range are clamped, never rejected.
type Range struct {
	Min float64
	Max float64
}

// UnitRange is the common [0,1] bound for confidence-like fields.
var UnitRange = Range{Min: 0, Max: 1}

// Spec declares the shape of the record expected inside the model output.
// Anchor names a field whose presence identifies the object when the text
// contains more than one brace-delimited region. Numeric fields are required;
// text and list fields are recovered when present.
type Spec struct {
	Anchor  string
	Numeric map[string]Range
	Text    []string
	Lists   []string
}

// UnparseableError marks text from which no record could be recovered.
// It is the only error Interpret returns.
type UnparseableError struct {
	Note string
}

func (e *UnparseableError) Error() string {
	return "unparseable model output: " + e.Note
}

// Record is a typed view over the recovered fields.
type Record struct {
	values map[string]any
}

// Number returns the named numeric field. Values are already clamped.
func (r *Record) Number(name string) (float64, bool) {
	v, ok := r.values[name]
	if !ok {
		return 0, false
	}
	f, ok := coerceNumber(v)
	return f, ok
}

// Text returns the named text field.
func (r *Record) Text(name string) (string, bool) {
	v, ok := r.values[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// List returns the named field as a string list.
func (r *Record) List(name string) ([]string, bool) {
	v, ok := r.values[name]
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out, true
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Interpret recovers a record from model output. Stage one locates a fenced or
// anchor-bearing brace-delimited JSON object; stage two recovers any still
// missing field with tolerant per-field pattern matching. All declared numeric
// fields must be recoverable or an UnparseableError is returned.
func Interpret(text string, spec Spec) (*Record, error) {
	values := structuralExtract(text, spec.Anchor)
	if values == nil {
		values = map[string]any{}
	}

	var missing []string
	for name := range spec.Numeric {
		if _, ok := coerceValue(values[name]); !ok {
			if f, ok := scanNumber(text, name); ok {
				values[name] = f
			} else {
				missing = append(missing, name)
			}
		}
	}
	for _, name := range spec.Text {
		if _, ok := values[name].(string); !ok {
			if s, ok := scanText(text, name); ok {
				values[name] = s
			}
		}
	}

	if len(missing) > 0 {
		return nil, &UnparseableError{
			Note: fmt.Sprintf("required numeric fields not recoverable: %s", strings.Join(missing, ", ")),
		}
	}

	for name, r := range spec.Numeric {
		f, _ := coerceNumber(values[name])
		values[name] = clamp(f, r)
	}

	return &Record{values: values}, nil
}

// structuralExtract decodes the first fenced JSON block, or failing that the
// first brace-delimited object containing the anchor field.
func structuralExtract(text, anchor string) map[string]any {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if values := decodeObject(m[1]); values != nil {
			return values
		}
	}

	needle := `"` + anchor + `"`
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		candidate, ok := balancedObject(text[start:])
		if !ok {
			continue
		}
		if anchor != "" && !strings.Contains(candidate, needle) {
			continue
		}
		if values := decodeObject(candidate); values != nil {
			return values
		}
	}
	return nil
}

// balancedObject returns the shortest brace-balanced prefix of s, honoring
// string literals and escapes.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func decodeObject(s string) map[string]any {
	var values map[string]any
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	return values
}

// scanNumber recovers a numeric field from unstructured text, tolerating
// optional quoting around both key and value and integer or decimal numerals.
func scanNumber(text, name string) (float64, bool) {
	re := regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(name) + `"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)"?`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// scanText recovers a text field: a quoted value first, otherwise the rest of the line.
func scanText(text, name string) (string, bool) {
	quoted := regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(name) + `"?\s*[:=]\s*"([^"]*)"`)
	if m := quoted.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	bare := regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(name) + `"?\s*[:=]\s*([^\n]+)`)
	if m := bare.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), ",}"), true
	}
	return "", false
}

func coerceValue(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return coerceNumber(v)
}

// coerceNumber accepts the numeric shapes JSON decoding and pattern recovery produce.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func clamp(f float64, r Range) float64 {
	if f < r.Min {
		return r.Min
	}
	if f > r.Max {
		return r.Max
	}
	return f
}
