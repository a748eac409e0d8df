// Package clean implements the format-specific cleaning algorithms. Cleaners
// are pure transformations over one raw record; they perform no I/O and hold
// no per-source state, so one cleaner value is safely shared across workers.
package clean

import (
	"sort"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

// RawRecord is one unit of input prior to cleaning: a delimited row or a
// markup element group. Exactly one of Fields/Values is populated, matching
// the source's format algorithm.
type RawRecord struct {
	// Index is the record's position in source order, starting at zero.
	Index int

	// Fields holds positional values for delimited rows.
	Fields []string

	// Values holds named values for markup element groups. Elements absent
	// from the group have no key until a repair pass fills them.
	Values map[string]string
}

// Fingerprint returns a stable encoding of the record's structure. The
// formatter compares fingerprints across repair passes to detect stagnation.
func (r RawRecord) Fingerprint() string {
	var b strings.Builder
	if r.Values != nil {
		keys := make([]string, 0, len(r.Values))
		for k := range r.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(r.Values[k])
			b.WriteByte('\x1f')
		}
		return b.String()
	}
	for _, f := range r.Fields {
		b.WriteString(f)
		b.WriteByte('\x1f')
	}
	return b.String()
}

// OutcomeKind classifies a cleaning result.
type OutcomeKind int

const (
	// Accepted means the record cleaned fully; Outcome.Record is set.
	Accepted OutcomeKind = iota
	// Repaired means the cleaner adjusted the record and requests another
	// pass; Outcome.Repair is set.
	Repaired
	// Rejected means the record is structurally unusable; Outcome.Reason is set.
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Repaired:
		return "repaired"
	case Rejected:
		return "rejected"
	default:
		return "accepted"
	}
}

// Outcome is the result of one cleaning pass over one raw record.
type Outcome struct {
	Kind   OutcomeKind
	Record schema.Record
	Repair RawRecord
	Reason string

	// DroppedFields counts values discarded because the record carried more
	// fields than the label set.
	DroppedFields int
}

// Cleaner applies format-specific repair rules to one raw record.
type Cleaner interface {
	Clean(raw RawRecord) Outcome
}
