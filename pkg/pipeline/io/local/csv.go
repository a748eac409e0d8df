// Package local writes cleaned source output to local CSV files, one file
// per source.
package local

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
)

// CSVSink writes each source's records to <dir>/<source-id>.csv. Files are
// written to a temporary path and renamed into place, so a crashed run
// never leaves a half-written output behind.
type CSVSink struct {
	dir       string
	blankFill bool
}

// NewCSVSink builds a sink rooted at dir. With blankFill the output is
// widened to the standard label superset so files from different sources
// share one column layout.
func NewCSVSink(dir string, blankFill bool) *CSVSink {
	return &CSVSink{dir: dir, blankFill: blankFill}
}

func (s *CSVSink) Write(ctx context.Context, res *formatter.Result) error {
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

	final := filepath.Join(s.dir, fileName(res.Summary.SourceID))
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	werr := w.Write(labels.Names())
	for _, rec := range res.Records {
		if werr != nil {
			break
		}
		// Project fills labels the record never carried with blanks.
		werr = w.Write(labels.Project(rec))
	}
	if werr == nil {
		w.Flush()
		werr = w.Error()
	}
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

func (s *CSVSink) Close() error { return nil }

func fileName(sourceID string) string {
	if sourceID == "" {
		sourceID = "source"
	}
	return sourceID + ".csv"
}
