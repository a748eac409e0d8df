package clean_test

import (
	"testing"

	"github.com/openregistry/regpipe/pkg/pipeline/clean"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

func TestScrub(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "collapse and trim", in: "  Main   St  ", want: "main st"},
		{name: "lowercase", in: "ACME Corp", want: "acme corp"},
		{name: "bom removed", in: "\uFEFF10002", want: "10002"},
		{name: "tabs and newlines", in: "a\t\nb", want: "a b"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clean.Scrub(tt.in); got != tt.want {
				t.Fatalf("Scrub(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScrub_Idempotent(t *testing.T) {
	in := "  ACME \uFEFF Corp  "
	once := clean.Scrub(in)
	twice := clean.Scrub(once)
	if once != twice {
		t.Fatalf("scrub not idempotent: %q vs %q", once, twice)
	}
}

func TestStripMarkup(t *testing.T) {
	if got := clean.StripMarkup("Main <b>St</b>"); got != "Main St" {
		t.Fatalf("got %q", got)
	}
	if got := clean.StripMarkup("no markup"); got != "no markup" {
		t.Fatalf("got %q", got)
	}
}

func TestDelimited_AcceptsAndScrubs(t *testing.T) {
	c := clean.NewDelimited(schema.NewLabelSet([]string{"name", "zip"}))

	out := c.Clean(clean.RawRecord{Fields: []string{" ACME ", "10001"}})
	if out.Kind != clean.Accepted {
		t.Fatalf("kind=%v reason=%q", out.Kind, out.Reason)
	}
	if out.Record["name"] != "acme" || out.Record["zip"] != "10001" {
		t.Fatalf("unexpected record: %#v", out.Record)
	}
}

func TestDelimited_RejectsBlankRow(t *testing.T) {
	c := clean.NewDelimited(schema.NewLabelSet([]string{"name", "zip"}))

	for _, fields := range [][]string{{}, {""}, {"", ""}, {"  ", "\t"}} {
		out := c.Clean(clean.RawRecord{Fields: fields})
		if out.Kind != clean.Rejected {
			t.Fatalf("fields=%#v kind=%v want=Rejected", fields, out.Kind)
		}
	}
}

func TestDelimited_Tolerance(t *testing.T) {
	c := clean.NewDelimited(schema.NewLabelSet([]string{"name", "zip", "city"}))

	// One short: padded.
	out := c.Clean(clean.RawRecord{Fields: []string{"acme", "10001"}})
	if out.Kind != clean.Accepted || out.Record["city"] != "" {
		t.Fatalf("short row: %#v", out)
	}

	// One long: extra dropped and counted.
	out = c.Clean(clean.RawRecord{Fields: []string{"acme", "10001", "nyc", "extra"}})
	if out.Kind != clean.Accepted || out.DroppedFields != 1 {
		t.Fatalf("long row: kind=%v dropped=%d", out.Kind, out.DroppedFields)
	}

	// Two past the arity in either direction: rejected.
	out = c.Clean(clean.RawRecord{Fields: []string{"acme"}})
	if out.Kind != clean.Rejected {
		t.Fatalf("too-short row accepted: %#v", out)
	}
	out = c.Clean(clean.RawRecord{Fields: []string{"a", "b", "c", "d", "e"}})
	if out.Kind != clean.Rejected {
		t.Fatalf("too-long row accepted: %#v", out)
	}
}

func TestDelimited_BOMInValueStripped(t *testing.T) {
	c := clean.NewDelimited(schema.NewLabelSet([]string{"name", "zip"}))
	out := c.Clean(clean.RawRecord{Fields: []string{"B", "\uFEFF10002"}})
	if out.Kind != clean.Accepted || out.Record["zip"] != "10002" {
		t.Fatalf("unexpected: %#v", out)
	}
}

func TestDelimited_CleanIsIdempotent(t *testing.T) {
	c := clean.NewDelimited(schema.NewLabelSet([]string{"name", "zip"}))
	first := c.Clean(clean.RawRecord{Fields: []string{" ACME ", "\uFEFF10001"}})
	if first.Kind != clean.Accepted {
		t.Fatalf("first pass: %#v", first)
	}
	second := c.Clean(clean.RawRecord{Fields: []string{first.Record["name"], first.Record["zip"]}})
	if second.Kind != clean.Accepted {
		t.Fatalf("second pass: %#v", second)
	}
	for k := range first.Record {
		if first.Record[k] != second.Record[k] {
			t.Fatalf("not idempotent at %q: %q vs %q", k, first.Record[k], second.Record[k])
		}
	}
}

func TestMarkup_MissingElementRepairsThenAccepts(t *testing.T) {
	c := clean.NewMarkup(schema.NewLabelSet([]string{"name", "zip"}))

	out := c.Clean(clean.RawRecord{Values: map[string]string{"name": "ACME"}})
	if out.Kind != clean.Repaired {
		t.Fatalf("first pass kind=%v want=Repaired", out.Kind)
	}
	if v, ok := out.Repair.Values["zip"]; !ok || v != "" {
		t.Fatalf("repair must fill gap with empty value: %#v", out.Repair.Values)
	}

	second := c.Clean(out.Repair)
	if second.Kind != clean.Accepted {
		t.Fatalf("second pass kind=%v reason=%q", second.Kind, second.Reason)
	}
	if second.Record["name"] != "acme" || second.Record["zip"] != "" {
		t.Fatalf("unexpected record: %#v", second.Record)
	}
	if len(second.Record) != 2 {
		t.Fatalf("key set must equal label set: %#v", second.Record)
	}
}

func TestMarkup_MissingRequiredStagnates(t *testing.T) {
	c := clean.Markup{
		Labels:   schema.NewLabelSet([]string{"name", "zip"}),
		Required: []string{"zip"},
	}

	raw := clean.RawRecord{Values: map[string]string{"name": "acme"}}
	first := c.Clean(raw)
	if first.Kind != clean.Repaired {
		t.Fatalf("first pass kind=%v want=Repaired", first.Kind)
	}
	second := c.Clean(first.Repair)
	if second.Kind != clean.Repaired {
		t.Fatalf("second pass kind=%v want=Repaired", second.Kind)
	}
	if first.Repair.Fingerprint() != second.Repair.Fingerprint() {
		t.Fatalf("expected identical structure across passes:\n%q\n%q",
			first.Repair.Fingerprint(), second.Repair.Fingerprint())
	}
}

func TestMarkup_StripsInlineMarkup(t *testing.T) {
	c := clean.NewMarkup(schema.NewLabelSet([]string{"road"}))
	out := c.Clean(clean.RawRecord{Values: map[string]string{"road": "Main <b>St</b>"}})
	if out.Kind != clean.Accepted || out.Record["road"] != "main st" {
		t.Fatalf("unexpected: %#v", out)
	}
}

func TestMarkup_RejectsEmptyGroup(t *testing.T) {
	c := clean.NewMarkup(schema.NewLabelSet([]string{"name", "zip"}))

	out := c.Clean(clean.RawRecord{Values: map[string]string{}})
	if out.Kind != clean.Repaired {
		t.Fatalf("first pass kind=%v want=Repaired", out.Kind)
	}
	second := c.Clean(out.Repair)
	if second.Kind != clean.Rejected {
		t.Fatalf("second pass kind=%v want=Rejected", second.Kind)
	}
}

func TestFingerprint_OrderInsensitiveForValues(t *testing.T) {
	a := clean.RawRecord{Values: map[string]string{"x": "1", "y": "2"}}
	b := clean.RawRecord{Values: map[string]string{"y": "2", "x": "1"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ for identical structure")
	}
	c := clean.RawRecord{Fields: []string{"1", "2"}}
	d := clean.RawRecord{Fields: []string{"2", "1"}}
	if c.Fingerprint() == d.Fingerprint() {
		t.Fatalf("field order must be significant")
	}
}
