package formatter

import (
	"context"
	"errors"
	"io"

	"github.com/openregistry/regpipe/pkg/pipeline/clean"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/format"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

// recordSource yields one source's raw records in input order. Labels
// is derived once at construction and never re-derived mid-stream. Next
// returns io.EOF at end of stream; any other error aborts the task.
type recordSource interface {
	Labels() schema.LabelSet
	Next() (clean.RawRecord, error)
}

// Run executes the parse-clean-format loop for one source. raw must be
// the decompressed, preprocessed bytes. On a per-task timeout the
// partial Result accumulated so far is returned together with a
// core.TimeoutError; every other error means the task failed.
func (f *Formatter) Run(ctx context.Context, desc *source.Descriptor, raw []byte) (*Result, error) {
	res := &Result{Summary: Summary{SourceID: desc.ID}}

	text, enc, err := f.decode(desc, raw, &res.Summary)
	if err != nil {
		return nil, err
	}
	res.Summary.Encoding = enc

	alg, err := f.selectFormat(desc, text, &res.Summary)
	if err != nil {
		return nil, err
	}
	res.Summary.Format = alg

	var (
		src     recordSource
		cleaner clean.Cleaner
	)
	switch alg {
	case format.Markup:
		if desc.Group == "" {
			return nil, errors.New("markup sources need a group element")
		}
		mr, err := newMarkupReader(text, desc)
		if err != nil {
			return nil, err
		}
		src = mr
		cleaner = clean.Markup{Labels: mr.Labels(), Required: requiredColumns(desc)}
	default:
		dr, err := newDelimitedReader(text, desc)
		if err != nil {
			return nil, err
		}
		src = dr
		cleaner = clean.Delimited{Labels: dr.Labels(), Tolerance: f.cfg.Tolerance}
	}

	plan, err := buildProjection(desc, src.Labels(), f.cfg.Parser)
	if err != nil {
		return nil, err
	}
	res.Labels = plan.labels

	if err := f.loop(ctx, src, cleaner, plan, res); err != nil {
		var te *core.TimeoutError
		if errors.As(err, &te) {
			return res, err
		}
		return nil, err
	}
	return res, nil
}

// loop drives records through the cleaner until the stream ends. The
// context is checked at record boundaries only; cancellation mid-source
// yields the records accepted so far.
func (f *Formatter) loop(ctx context.Context, src recordSource, cleaner clean.Cleaner, plan *projection, res *Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return &core.TimeoutError{Err: err}
		}
		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		f.process(ctx, raw, cleaner, plan, res)
	}
}

// requiredColumns translates the descriptor's required standard labels
// into the source columns that carry them; those are what the cleaner
// can observe missing.
func requiredColumns(desc *source.Descriptor) []string {
	var out []string
	for _, label := range desc.Required {
		if cols, ok := desc.Fields[label]; ok {
			out = append(out, cols...)
			continue
		}
		if cols, ok := desc.Address[label]; ok {
			out = append(out, cols...)
		}
	}
	return out
}

// process runs the per-record state machine: clean, then either accept,
// reject, or feed the repaired record back into the cleaner. Repair
// passes stop at the retry bound, or earlier when a repair reproduces
// the previous pass byte for byte (stagnation).
func (f *Formatter) process(ctx context.Context, raw clean.RawRecord, cleaner clean.Cleaner, plan *projection, res *Result) {
	var lastFP string
	hasLast := false
	repairs := 0
	for {
		out := cleaner.Clean(raw)
		switch out.Kind {
		case clean.Accepted:
			res.Summary.Accepted++
			res.Summary.DroppedFields += out.DroppedFields
			if repairs > 0 {
				res.Summary.Repaired++
			}
			res.Records = append(res.Records, plan.project(ctx, out.Record, &res.Summary))
			return
		case clean.Repaired:
			fp := out.Repair.Fingerprint()
			if hasLast && fp == lastFP {
				res.Summary.Rejected++
				return
			}
			if repairs >= f.cfg.RetryBound {
				res.Summary.Rejected++
				return
			}
			lastFP, hasLast = fp, true
			repairs++
			raw = out.Repair
		default:
			res.Summary.Rejected++
			return
		}
	}
}

