// Package formatter runs the parse-clean-format loop for one source: it
// decodes the raw bytes, selects a cleaning algorithm, extracts the
// source's labels, cleans every record through a bounded repair loop,
// and projects the survivors onto the standard label vocabulary.
package formatter

import (
	"errors"
	"fmt"

	"github.com/openregistry/regpipe/pkg/pipeline/addr"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/encoding"
	"github.com/openregistry/regpipe/pkg/pipeline/format"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

// Config tunes one Formatter. The zero value is usable: every knob has a
// working default.
type Config struct {
	// RetryBound caps repair passes per record. Zero means the default
	// of 1: clean once, repair once, clean again, then finalize.
	// Negative disables repair passes entirely.
	RetryBound int

	// Tolerance is the delimited arity tolerance. Zero means the
	// default of 1; negative disables the arity check.
	Tolerance int

	// Parser splits mapped full_addr columns into address components.
	// Nil passes full_addr through as a single column.
	Parser addr.Parser

	// Cache memoizes sniffed encodings across sources. Optional.
	Cache *encoding.Cache
}

type Formatter struct {
	cfg Config
}

func New(cfg Config) *Formatter {
	if cfg.RetryBound == 0 {
		cfg.RetryBound = 1
	}
	if cfg.RetryBound < 0 {
		cfg.RetryBound = 0
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 1
	}
	return &Formatter{cfg: cfg}
}

// Summary tallies one source's run.
type Summary struct {
	SourceID      string
	Accepted      int
	Rejected      int
	Repaired      int
	DroppedFields int
	ParseFailures int
	Encoding      encoding.Name
	Format        format.Algorithm

	// Notes carry non-fatal advisories (ambiguous format, undetermined
	// encoding) for the caller's logs.
	Notes []string
}

// Result is one source's canonical output: records in input order, all
// conforming exactly to Labels.
type Result struct {
	Labels  schema.LabelSet
	Records []schema.Record
	Summary Summary
}

// selectFormat resolves the cleaning algorithm: an explicit declaration
// wins, otherwise a bounded prefix scan decides.
func (f *Formatter) selectFormat(desc *source.Descriptor, text []byte, sum *Summary) (format.Algorithm, error) {
	if desc.Format != "" {
		alg, ok := format.Normalize(desc.Format)
		if !ok {
			return 0, fmt.Errorf("unsupported format %q", desc.Format)
		}
		return alg, nil
	}
	alg, err := format.Detect(text)
	if errors.Is(err, core.ErrFormatAmbiguous) {
		sum.Notes = append(sum.Notes, fmt.Sprintf("%s, %s assumed", core.ErrFormatAmbiguous, alg))
	}
	return alg, nil
}

// decode converts the source bytes to UTF-8. A declared encoding is
// authoritative and its violation is a task error; otherwise UTF-8 is
// assumed and the sniffer runs lazily on the first failure, with the
// result cached per source.
func (f *Formatter) decode(desc *source.Descriptor, raw []byte, sum *Summary) ([]byte, encoding.Name, error) {
	if desc.Encoding != "" {
		enc, _ := encoding.Normalize(desc.Encoding)
		text, err := encoding.Decode(raw, enc)
		if err != nil {
			return nil, enc, &core.IOError{Op: "decode " + desc.File, Err: err}
		}
		return text, enc, nil
	}

	if f.cfg.Cache != nil {
		if enc, ok := f.cfg.Cache.Get(desc.ID); ok {
			if text, err := encoding.Decode(raw, enc); err == nil {
				return text, enc, nil
			}
			// The cached guess no longer fits this content; re-sniff.
		}
	}

	if text, err := encoding.Decode(raw, encoding.UTF8); err == nil {
		f.remember(desc.ID, encoding.UTF8)
		return text, encoding.UTF8, nil
	}

	sample := raw
	if len(sample) > sniffProbeSize {
		sample = sample[:sniffProbeSize]
	}
	enc, conf := encoding.Sniff(sample)
	if conf == 0 {
		sum.Notes = append(sum.Notes, fmt.Sprintf("%s, %s fallback applied", core.ErrEncodingUndetermined, enc))
	}
	text, err := encoding.Decode(raw, enc)
	if err != nil {
		// The sample matched a candidate the full content violates.
		// The superset fallback decodes any byte.
		enc = encoding.Fallback
		sum.Notes = append(sum.Notes, fmt.Sprintf("%s, %s fallback applied", core.ErrEncodingUndetermined, enc))
		if text, err = encoding.Decode(raw, enc); err != nil {
			return nil, enc, &core.IOError{Op: "decode " + desc.File, Err: err}
		}
	}
	f.remember(desc.ID, enc)
	return text, enc, nil
}

// sniffProbeSize bounds how many bytes the lazy sniffer inspects.
const sniffProbeSize = 64 << 10

func (f *Formatter) remember(id string, enc encoding.Name) {
	if f.cfg.Cache != nil && id != "" {
		f.cfg.Cache.Put(id, enc)
	}
}
