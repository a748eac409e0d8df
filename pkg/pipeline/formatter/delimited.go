package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/openregistry/regpipe/pkg/pipeline/clean"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

var utf8BOMText = []byte("\uFEFF")

// delimitedReader streams rows from a delimited-text source. The label
// set comes from the descriptor's declared column names, from the first
// non-blank row (the header), or positionally from the first data row's
// arity, in that order of preference.
type delimitedReader struct {
	r       *csv.Reader
	labels  schema.LabelSet
	pending []string
	hasPend bool
	index   int
	file    string
}

func newDelimitedReader(text []byte, desc *source.Descriptor) (*delimitedReader, error) {
	// The leading mark is stripped exactly once per source; re-running
	// on already-clean input is a no-op.
	text = bytes.TrimPrefix(text, utf8BOMText)

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = delimiterFor(desc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	dr := &delimitedReader{r: r, file: desc.File}

	if !desc.NoHeader {
		header, err := dr.nextNonBlank()
		if err == io.EOF {
			header = nil
		} else if err != nil {
			return nil, &core.IOError{Op: fmt.Sprintf("read %s header", desc.File), Err: err}
		}
		if len(desc.Labels) == 0 {
			dr.labels = schema.NewLabelSet(header)
			return dr, nil
		}
		// Declared labels override whatever the header row said.
		dr.labels = schema.NewLabelSet(desc.Labels)
		return dr, nil
	}

	if len(desc.Labels) > 0 {
		dr.labels = schema.NewLabelSet(desc.Labels)
		return dr, nil
	}

	// Headerless with nothing declared: name columns by position from
	// the first data row, then replay that row as data.
	row, err := dr.nextNonBlank()
	if err == io.EOF {
		dr.labels = schema.Positional(0)
		return dr, nil
	}
	if err != nil {
		return nil, &core.IOError{Op: fmt.Sprintf("read %s", desc.File), Err: err}
	}
	dr.labels = schema.Positional(len(row))
	dr.pending = row
	dr.hasPend = true
	return dr, nil
}

func (dr *delimitedReader) Labels() schema.LabelSet { return dr.labels }

func (dr *delimitedReader) Next() (clean.RawRecord, error) {
	if dr.hasPend {
		dr.hasPend = false
		rec := clean.RawRecord{Index: dr.index, Fields: dr.pending}
		dr.index++
		return rec, nil
	}
	row, err := dr.r.Read()
	if err == io.EOF {
		return clean.RawRecord{}, io.EOF
	}
	if err != nil {
		return clean.RawRecord{}, &core.IOError{Op: fmt.Sprintf("read %s", dr.file), Err: err}
	}
	rec := clean.RawRecord{Index: dr.index, Fields: row}
	dr.index++
	return rec, nil
}

// nextNonBlank returns the next row with at least one non-empty cell.
// Rows of empty cells before the header carry no label information.
func (dr *delimitedReader) nextNonBlank() ([]string, error) {
	for {
		row, err := dr.r.Read()
		if err != nil {
			return nil, err
		}
		for _, cell := range row {
			if clean.Scrub(cell) != "" {
				return row, nil
			}
		}
	}
}

func delimiterFor(desc *source.Descriptor) rune {
	if desc.Delimiter != "" {
		return []rune(desc.Delimiter)[0]
	}
	if desc.Format == "tsv" {
		return '\t'
	}
	return ','
}
