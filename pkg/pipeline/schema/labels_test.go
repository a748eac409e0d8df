package schema_test

import (
	"testing"

	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

func TestNewLabelSet_Dedup(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "unique", in: []string{"name", "zip"}, want: []string{"name", "zip"}},
		{name: "collision", in: []string{"name", "name"}, want: []string{"name", "name_2"}},
		{name: "triple collision", in: []string{"a", "a", "a"}, want: []string{"a", "a_2", "a_3"}},
		{name: "collision with existing suffix", in: []string{"a", "a_2", "a"}, want: []string{"a", "a_2", "a_3"}},
		{name: "empty becomes positional", in: []string{"name", ""}, want: []string{"name", "field_1"}},
		{name: "whitespace trimmed", in: []string{" name ", "zip"}, want: []string{"name", "zip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := schema.NewLabelSet(tt.in)
			got := ls.Names()
			if len(got) != len(tt.want) {
				t.Fatalf("names=%v want=%v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("names[%d]=%q want=%q (all=%v)", i, got[i], tt.want[i], got)
				}
			}
		})
	}
}

func TestLabelSet_PositionMapping(t *testing.T) {
	ls := schema.NewLabelSet([]string{"name", "zip", "name"})
	if ls.Len() != 3 {
		t.Fatalf("len=%d want=3", ls.Len())
	}
	if i, ok := ls.Position("zip"); !ok || i != 1 {
		t.Fatalf("Position(zip)=%d,%v want=1,true", i, ok)
	}
	if i, ok := ls.Position("name_2"); !ok || i != 2 {
		t.Fatalf("Position(name_2)=%d,%v want=2,true", i, ok)
	}
	if _, ok := ls.Position("missing"); ok {
		t.Fatalf("Position(missing) must not exist")
	}
}

func TestConform_PadsAndTruncates(t *testing.T) {
	ls := schema.NewLabelSet([]string{"name", "zip", "city"})

	rec, dropped := ls.Conform([]string{"acme", "10001"})
	if dropped != 0 {
		t.Fatalf("dropped=%d want=0", dropped)
	}
	if rec["name"] != "acme" || rec["zip"] != "10001" || rec["city"] != "" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if len(rec) != 3 {
		t.Fatalf("record must carry every label, got %d keys", len(rec))
	}

	rec, dropped = ls.Conform([]string{"acme", "10001", "nyc", "extra", "more"})
	if dropped != 2 {
		t.Fatalf("dropped=%d want=2", dropped)
	}
	if len(rec) != 3 || rec["city"] != "nyc" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}

func TestConformMap_KeySetEqualsLabels(t *testing.T) {
	ls := schema.NewLabelSet([]string{"name", "zip"})
	rec, dropped := ls.ConformMap(map[string]string{"name": "acme", "unknown": "x"})
	if dropped != 1 {
		t.Fatalf("dropped=%d want=1", dropped)
	}
	if len(rec) != 2 || rec["name"] != "acme" || rec["zip"] != "" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}

func TestProject_RoundTrips(t *testing.T) {
	ls := schema.NewLabelSet([]string{"name", "zip"})
	rec, _ := ls.Conform([]string{"acme", "10001"})
	got := ls.Project(rec)
	if len(got) != 2 || got[0] != "acme" || got[1] != "10001" {
		t.Fatalf("unexpected projection: %#v", got)
	}
}

func TestWiden_StandardFirstThenExtras(t *testing.T) {
	ls := schema.NewLabelSet([]string{"bus_name", "custom_col"})
	wide := schema.Widen(ls)

	var std []string
	for _, name := range schema.StandardLabels() {
		if name != schema.FullAddr {
			std = append(std, name)
		}
	}
	names := wide.Names()
	if len(names) != len(std)+1 {
		t.Fatalf("widened len=%d want=%d", len(names), len(std)+1)
	}
	for i := range std {
		if names[i] != std[i] {
			t.Fatalf("names[%d]=%q want=%q", i, names[i], std[i])
		}
	}
	if names[len(names)-1] != "custom_col" {
		t.Fatalf("last label=%q want=custom_col", names[len(names)-1])
	}
	if wide.Has(schema.FullAddr) {
		t.Fatalf("widened set must not invent a full_addr column")
	}
}

func TestWiden_KeepsMappedFullAddr(t *testing.T) {
	ls := schema.NewLabelSet([]string{"bus_name", "full_addr"})
	wide := schema.Widen(ls)
	if !wide.Has(schema.FullAddr) {
		t.Fatalf("source-mapped full_addr must survive widening")
	}
	names := wide.Names()
	if names[len(names)-1] != schema.FullAddr {
		t.Fatalf("full_addr should trail the standard block, got %v", names[len(names)-5:])
	}
}

func TestStandardVocabulary(t *testing.T) {
	if !schema.IsStandardLabel("bus_name") || schema.IsStandardLabel("nope") {
		t.Fatalf("IsStandardLabel misclassifies")
	}
	if !schema.IsAddressLabel("postcode") || schema.IsAddressLabel("bus_name") {
		t.Fatalf("IsAddressLabel misclassifies")
	}
	if !schema.IsForceLabel("country") || schema.IsForceLabel("postcode") {
		t.Fatalf("IsForceLabel misclassifies")
	}

	addr := schema.AddressLabels()
	want := []string{"unit", "house_number", "road", "city", "prov", "country", "postcode"}
	if len(addr) != len(want) {
		t.Fatalf("address labels=%v", addr)
	}
	for i := range want {
		if addr[i] != want[i] {
			t.Fatalf("address order: got %v want %v", addr, want)
		}
	}
}
