// Package report renders run outcomes as stable per-source summary rows.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/redact"
)

// Row statuses. A partial row means the task hit its time budget and the
// records accepted before the deadline were kept.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Row is the stable report schema contract. One row summarizes one
// source's run.
type Row struct {
	SourceID      string `json:"source_id"`
	Status        string `json:"status"`
	Format        string `json:"format,omitempty"`
	Encoding      string `json:"encoding,omitempty"`
	Accepted      int    `json:"accepted"`
	Rejected      int    `json:"rejected"`
	Repaired      int    `json:"repaired"`
	DroppedFields int    `json:"dropped_fields"`
	ParseFailures int    `json:"parse_failures"`
	DurationMS    int64  `json:"duration_ms"`
	Notes         string `json:"notes,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"source_id",
		"status",
		"format",
		"encoding",
		"accepted",
		"rejected",
		"repaired",
		"dropped_fields",
		"parse_failures",
		"duration_ms",
		"notes",
		"error",
	}
}

// FromResult builds the report row for one source. err may be nil (clean
// run), a timeout carrying res as partial output, or any other failure
// with res nil.
//
// Errors are recorded per-row and redacted; they never carry secrets into
// report files.
func FromResult(sourceID string, res *formatter.Result, err error, elapsed time.Duration) Row {
	row := Row{
		SourceID:   sourceID,
		Status:     StatusOK,
		DurationMS: elapsed.Milliseconds(),
	}
	if res != nil {
		row.Format = res.Summary.Format.String()
		row.Encoding = string(res.Summary.Encoding)
		row.Accepted = res.Summary.Accepted
		row.Rejected = res.Summary.Rejected
		row.Repaired = res.Summary.Repaired
		row.DroppedFields = res.Summary.DroppedFields
		row.ParseFailures = res.Summary.ParseFailures
		row.Notes = strings.Join(res.Summary.Notes, "; ")
	}
	if err != nil {
		row.Error = redact.Secrets(err.Error())
		var te *core.TimeoutError
		if errors.As(err, &te) && res != nil {
			row.Status = StatusPartial
		} else {
			row.Status = StatusError
		}
	}
	return row
}

func (r Row) fields() []string {
	return []string{
		r.SourceID,
		r.Status,
		r.Format,
		r.Encoding,
		strconv.Itoa(r.Accepted),
		strconv.Itoa(r.Rejected),
		strconv.Itoa(r.Repaired),
		strconv.Itoa(r.DroppedFields),
		strconv.Itoa(r.ParseFailures),
		strconv.FormatInt(r.DurationMS, 10),
		r.Notes,
		r.Error,
	}
}

// WriteCSV writes the header and all rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.fields()); err != nil {
			return fmt.Errorf("write report row %s: %w", row.SourceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Totals counts rows by status.
func Totals(rows []Row) (ok, partial, failed int) {
	for _, row := range rows {
		switch row.Status {
		case StatusOK:
			ok++
		case StatusPartial:
			partial++
		default:
			failed++
		}
	}
	return ok, partial, failed
}
