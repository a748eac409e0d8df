// Package sqlite writes cleaned source output into one SQLite database so
// multiple sources land in a single joinable table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

// Sink stores records in a `records` table keyed by (source_id, pos) and
// per-source run tallies in a `runs` table. Rewriting a source replaces its
// rows, so repeated runs converge on the same database regardless of task
// completion order.
type Sink struct {
	db *sql.DB

	mu   sync.Mutex
	cols map[string]bool
}

// Open opens or creates the database at path with WAL mode enabled.
func Open(ctx context.Context, path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Sink{db: db, cols: make(map[string]bool)}
	if err := s.loadColumns(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS records (\n")
	b.WriteString("\tsource_id TEXT NOT NULL,\n")
	b.WriteString("\tpos INTEGER NOT NULL,\n")
	for _, name := range schema.Widen(schema.LabelSet{}).Names() {
		fmt.Fprintf(&b, "\t%s TEXT,\n", quoteIdent(name))
	}
	b.WriteString("\tPRIMARY KEY(source_id, pos)\n);\n")
	b.WriteString(`
CREATE TABLE IF NOT EXISTS runs (
	source_id TEXT PRIMARY KEY,
	accepted INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	repaired INTEGER NOT NULL,
	dropped_fields INTEGER NOT NULL,
	parse_failures INTEGER NOT NULL,
	encoding TEXT,
	format TEXT,
	finished_at TEXT NOT NULL
);
`)
	if _, err := db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// loadColumns reads the live column set; a database from an earlier run may
// already carry extra source-specific columns.
func (s *Sink) loadColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(records)")
	if err != nil {
		return fmt.Errorf("inspect records table: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect records table: %w", err)
		}
		s.cols[name] = true
	}
	return rows.Err()
}

// Write replaces one source's rows and its run tally.
func (s *Sink) Write(ctx context.Context, res *formatter.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := schema.Widen(res.Labels)
	if err := s.ensureColumns(ctx, labels); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := res.Summary.SourceID
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE source_id=?", id); err != nil {
		return fmt.Errorf("clear %s: %w", id, err)
	}

	names := labels.Names()
	cols := make([]string, 0, len(names)+2)
	cols = append(cols, "source_id", "pos")
	for _, name := range names {
		cols = append(cols, quoteIdent(name))
	}
	q := fmt.Sprintf(
		"INSERT INTO records (%s) VALUES (%s)",
		strings.Join(cols, ", "),
		placeholders(len(cols)),
	)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range res.Records {
		args := make([]any, 0, len(cols))
		args = append(args, id, i)
		for _, v := range labels.Project(rec) {
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d of %s: %w", i, id, err)
		}
	}

	sum := res.Summary
	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (source_id, accepted, rejected, repaired, dropped_fields, parse_failures, encoding, format, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET
	accepted=excluded.accepted,
	rejected=excluded.rejected,
	repaired=excluded.repaired,
	dropped_fields=excluded.dropped_fields,
	parse_failures=excluded.parse_failures,
	encoding=excluded.encoding,
	format=excluded.format,
	finished_at=excluded.finished_at`,
		id, sum.Accepted, sum.Rejected, sum.Repaired, sum.DroppedFields, sum.ParseFailures,
		string(sum.Encoding), sum.Format.String(), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record run %s: %w", id, err)
	}

	return tx.Commit()
}

// ensureColumns widens the records table when a source carries labels the
// table has not seen yet.
func (s *Sink) ensureColumns(ctx context.Context, labels schema.LabelSet) error {
	for _, name := range labels.Names() {
		if s.cols[name] {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE records ADD COLUMN %s TEXT", quoteIdent(name))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		s.cols[name] = true
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
