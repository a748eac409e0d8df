// Package parquet writes cleaned source output as parquet files, one file
// per source.
package parquet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

// Sink writes each source's records to <dir>/<source-id>.parquet. Every
// column is an optional UTF-8 byte array; values are the cleaned strings.
type Sink struct {
	dir       string
	blankFill bool
}

// NewSink builds a sink rooted at dir. With blankFill the output is widened
// to the standard label superset.
func NewSink(dir string, blankFill bool) *Sink {
	return &Sink{dir: dir, blankFill: blankFill}
}

func (s *Sink) Write(ctx context.Context, res *formatter.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	labels := res.Labels
	if s.blankFill {
		labels = schema.Widen(labels)
	}
	cols := columnNames(labels)

	id := res.Summary.SourceID
	if id == "" {
		id = "source"
	}
	final := filepath.Join(s.dir, id+".parquet")
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	werr := s.writeFile(f, labels, cols, res.Records)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", final, werr)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", final, err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }

func (s *Sink) writeFile(f *os.File, labels schema.LabelSet, cols []string, records []schema.Record) error {
	pf := writerfile.NewWriterFile(f)
	pw, err := writer.NewJSONWriter(schemaJSON(cols), pf, 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	names := labels.Names()
	for _, rec := range records {
		row := make(map[string]string, len(cols))
		for i, col := range cols {
			row[col] = rec[names[i]]
		}
		b, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			return err
		}
		if err := pw.Write(string(b)); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}

// schemaJSON builds the writer schema: every column an optional UTF-8 string.
func schemaJSON(cols []string) string {
	type field struct {
		Tag string `json:"Tag"`
	}
	fields := make([]field, 0, len(cols))
	for _, col := range cols {
		fields = append(fields, field{
			Tag: fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", col),
		})
	}
	out := struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// columnNames maps labels onto parquet-safe column names, position for
// position. Labels may contain characters the schema tag syntax cannot
// carry; sanitized collisions pick up a numeric suffix.
func columnNames(labels schema.LabelSet) []string {
	names := labels.Names()
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		col := sanitize(name)
		for n := 2; seen[col]; n++ {
			col = fmt.Sprintf("%s_%d", sanitize(name), n)
		}
		seen[col] = true
		out[i] = col
	}
	return out
}

func sanitize(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			b[i] = '_'
		}
	}
	if len(b) == 0 || (b[0] >= '0' && b[0] <= '9') {
		return "c_" + string(b)
	}
	return string(b)
}
