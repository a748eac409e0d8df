package clean

import (
	"fmt"

	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

// Delimited cleans rows from delimited-text sources. Rows whose arity is
// within Tolerance of the label arity are padded or truncated; rows beyond
// it, and entirely blank rows, are rejected. Rejection never aborts the
// surrounding source.
type Delimited struct {
	Labels schema.LabelSet

	// Tolerance is the maximum arity mismatch a row may carry and still be
	// repaired by padding or truncation. Zero means exact arity only;
	// negative disables the check entirely.
	Tolerance int
}

// NewDelimited builds the delimited cleaner with the default tolerance of 1.
func NewDelimited(labels schema.LabelSet) Delimited {
	return Delimited{Labels: labels, Tolerance: 1}
}

// Clean scrubs a delimited row and conforms it onto the label set.
func (c Delimited) Clean(raw RawRecord) Outcome {
	fields := make([]string, len(raw.Fields))
	blank := true
	for i, f := range raw.Fields {
		fields[i] = Scrub(f)
		if fields[i] != "" {
			blank = false
		}
	}
	if len(fields) == 0 || blank {
		return Outcome{Kind: Rejected, Reason: "blank row"}
	}

	arity := c.Labels.Len()
	if c.Tolerance >= 0 {
		diff := len(fields) - arity
		if diff < -c.Tolerance || diff > c.Tolerance {
			return Outcome{
				Kind:   Rejected,
				Reason: fmt.Sprintf("field count %d outside tolerance of %d labels", len(fields), arity),
			}
		}
	}

	rec, dropped := c.Labels.Conform(fields)
	return Outcome{Kind: Accepted, Record: rec, DroppedFields: dropped}
}
