package schema

import (
	"fmt"
	"strings"
)

// LabelSet is the ordered, unique set of canonical field names for one
// source. It is derived exactly once per source; every record emitted for
// that source conforms to it (same arity, same name-to-position mapping).
type LabelSet struct {
	names []string
	index map[string]int
}

// NewLabelSet builds a LabelSet from raw names in order. Empty names become
// positional (field_<i>). Colliding names are disambiguated by suffixing an
// index: the second occurrence of "name" becomes "name_2", the third
// "name_3", and so on.
func NewLabelSet(raw []string) LabelSet {
	names := make([]string, 0, len(raw))
	index := make(map[string]int, len(raw))
	seen := make(map[string]int, len(raw))

	for i, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			name = positionalName(i)
		}
		base := name
		if n := seen[base]; n > 0 {
			name = fmt.Sprintf("%s_%d", base, n+1)
			// A source may already contain the suffixed form; keep bumping.
			for seen[name] > 0 {
				n++
				name = fmt.Sprintf("%s_%d", base, n+1)
			}
		}
		seen[base]++
		if name != base {
			seen[name]++
		}
		index[name] = len(names)
		names = append(names, name)
	}
	return LabelSet{names: names, index: index}
}

// Positional builds a LabelSet of n positional names (field_0 … field_n-1)
// for headerless sources.
func Positional(n int) LabelSet {
	raw := make([]string, n)
	for i := range raw {
		raw[i] = positionalName(i)
	}
	return NewLabelSet(raw)
}

func positionalName(i int) string {
	return fmt.Sprintf("field_%d", i)
}

// Len returns the label arity.
func (ls LabelSet) Len() int { return len(ls.names) }

// Names returns the labels in order. The returned slice is a copy.
func (ls LabelSet) Names() []string {
	out := make([]string, len(ls.names))
	copy(out, ls.names)
	return out
}

// Position returns the position of a label and whether it exists.
func (ls LabelSet) Position(name string) (int, bool) {
	i, ok := ls.index[name]
	return i, ok
}

// Has reports whether the label exists in the set.
func (ls LabelSet) Has(name string) bool {
	_, ok := ls.index[name]
	return ok
}

// Record maps canonical labels to cleaned values. Every record emitted by
// the formatter carries exactly its source's LabelSet as keys; absent
// values are empty strings, never missing keys.
type Record map[string]string

// Conform maps positional field values onto the label set. Missing trailing
// fields become empty values; extra fields beyond the label arity are
// dropped and counted.
func (ls LabelSet) Conform(fields []string) (Record, int) {
	rec := make(Record, len(ls.names))
	for i, name := range ls.names {
		if i < len(fields) {
			rec[name] = fields[i]
		} else {
			rec[name] = ""
		}
	}
	dropped := 0
	if len(fields) > len(ls.names) {
		dropped = len(fields) - len(ls.names)
	}
	return rec, dropped
}

// ConformMap fills a record built from named values: every label is present
// in the result, values for unknown names are dropped and counted.
func (ls LabelSet) ConformMap(values map[string]string) (Record, int) {
	rec := make(Record, len(ls.names))
	for _, name := range ls.names {
		rec[name] = values[name]
	}
	dropped := 0
	for name := range values {
		if !ls.Has(name) {
			dropped++
		}
	}
	return rec, dropped
}

// Project returns the record's values in label order. Missing keys project
// as empty strings, so a conforming record round-trips exactly.
func (ls LabelSet) Project(rec Record) []string {
	out := make([]string, len(ls.names))
	for i, name := range ls.names {
		out[i] = rec[name]
	}
	return out
}

// Widen returns a label set holding the standard vocabulary followed by any
// labels of ls that are not in it, in their original order. Used by sinks to
// blank-fill output for cross-source joining. The full_addr label is not part
// of the widened vocabulary: address expansion leaves it empty, so it appears
// in widened output only when the source's own labels still carry it.
func Widen(ls LabelSet) LabelSet {
	raw := make([]string, 0, len(standardLabels)+ls.Len())
	std := make(map[string]bool, len(standardLabels))
	for _, name := range standardLabels {
		if name == FullAddr {
			continue
		}
		raw = append(raw, name)
		std[name] = true
	}
	for _, name := range ls.names {
		if !std[name] {
			raw = append(raw, name)
		}
	}
	return NewLabelSet(raw)
}
