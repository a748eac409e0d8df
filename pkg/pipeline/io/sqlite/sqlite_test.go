package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/openregistry/regpipe/pkg/pipeline/encoding"
	"github.com/openregistry/regpipe/pkg/pipeline/format"
	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/io/sqlite"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

func sampleResult(sourceID string) *formatter.Result {
	labels := schema.NewLabelSet([]string{"bus_name", "city", "inspection_zone"})
	return &formatter.Result{
		Labels: labels,
		Records: []schema.Record{
			{"bus_name": "acme widgets", "city": "dartmouth", "inspection_zone": "7"},
			{"bus_name": "beta corp", "city": "halifax", "inspection_zone": ""},
		},
		Summary: formatter.Summary{
			SourceID: sourceID,
			Accepted: 2,
			Rejected: 1,
			Encoding: encoding.UTF8,
			Format:   format.DelimitedText,
		},
	}
}

func queryStrings(t *testing.T, path, q string, args ...any) [][]string {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(q, args...)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatalf("scan: %v", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestSink_WriteAndReadBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Write(ctx, sampleResult("ns-registry")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := queryStrings(t, path,
		`SELECT bus_name, city, inspection_zone FROM records WHERE source_id=? ORDER BY pos`,
		"ns-registry")
	if len(got) != 2 {
		t.Fatalf("rows=%d want=2", len(got))
	}
	if got[0][0] != "acme widgets" || got[0][1] != "dartmouth" || got[0][2] != "7" {
		t.Fatalf("row=%v", got[0])
	}
	if got[1][2] != "" {
		t.Fatalf("blank value must round-trip empty, got %q", got[1][2])
	}

	runs := queryStrings(t, path, `SELECT accepted, rejected, format FROM runs WHERE source_id=?`, "ns-registry")
	if len(runs) != 1 || runs[0][0] != "2" || runs[0][1] != "1" || runs[0][2] != "delimited" {
		t.Fatalf("runs=%v", runs)
	}
}

func TestSink_RewriteReplacesSourceRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	res := sampleResult("ns-registry")
	if err := s.Write(ctx, res); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	res.Records = res.Records[:1]
	if err := s.Write(ctx, res); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := queryStrings(t, path, `SELECT COUNT(*) FROM records WHERE source_id=?`, "ns-registry")
	if got[0][0] != "1" {
		t.Fatalf("rewrite must replace rows, count=%s", got[0][0])
	}
}

func TestSink_ReopenKeepsExtraColumns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Write(ctx, sampleResult("ns-registry")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh process appending another source must see the earlier extra
	// column and add only its own.
	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	other := &formatter.Result{
		Labels: schema.NewLabelSet([]string{"bus_name", "licence_class"}),
		Records: []schema.Record{
			{"bus_name": "gamma ltd", "licence_class": "b"},
		},
		Summary: formatter.Summary{SourceID: "on-licences", Accepted: 1},
	}
	if err := s.Write(ctx, other); err != nil {
		t.Fatalf("Write after reopen failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := queryStrings(t, path,
		`SELECT source_id, bus_name, inspection_zone, licence_class FROM records ORDER BY source_id, pos`)
	if len(got) != 3 {
		t.Fatalf("rows=%d want=3", len(got))
	}
	// Rows keep blanks for columns owned by other sources.
	if got[0][0] != "ns-registry" || got[0][3] != "" {
		t.Fatalf("row=%v", got[0])
	}
	if got[2][0] != "on-licences" || got[2][1] != "gamma ltd" || got[2][3] != "b" {
		t.Fatalf("row=%v", got[2])
	}
}
