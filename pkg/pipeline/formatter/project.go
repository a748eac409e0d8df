package formatter

import (
	"context"
	"fmt"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/addr"
	"github.com/openregistry/regpipe/pkg/pipeline/clean"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

type stepKind int

const (
	stepConcat stepKind = iota
	stepFullAddr
	stepForce
)

type projStep struct {
	kind    stepKind
	label   string
	sources []string
	comps   []string // address labels a full_addr step fills
	value   string   // force constant, already scrubbed
}

// projection maps cleaned records (keyed by source labels) onto the
// standard vocabulary, in canonical label order. A mapped full_addr
// column expands in place into the address component labels plus a
// trailing full_addr that keeps the raw value when parsing fails.
type projection struct {
	labels schema.LabelSet
	steps  []projStep
	parser addr.Parser
}

func buildProjection(desc *source.Descriptor, src schema.LabelSet, parser addr.Parser) (*projection, error) {
	p := &projection{parser: parser}
	var out []string

	resolve := func(group, label string, cols source.Columns) error {
		for _, c := range cols {
			if !src.Has(c) {
				return fmt.Errorf("%s: column %q mapped to %q not found among source labels", group, c, label)
			}
		}
		return nil
	}

	for _, label := range schema.StandardLabels() {
		if cols, ok := desc.Fields[label]; ok {
			if err := resolve("fields", label, cols); err != nil {
				return nil, err
			}
			if label == schema.FullAddr && parser != nil {
				st := projStep{kind: stepFullAddr, sources: cols}
				for _, l := range schema.AddressLabels() {
					// A forced component wins over the parsed one.
					if _, forced := desc.Force[l]; forced {
						continue
					}
					st.comps = append(st.comps, l)
				}
				p.steps = append(p.steps, st)
				out = append(out, st.comps...)
				out = append(out, schema.FullAddr)
				continue
			}
			p.steps = append(p.steps, projStep{kind: stepConcat, label: label, sources: cols})
			out = append(out, label)
			continue
		}
		if cols, ok := desc.Address[label]; ok {
			if err := resolve("address", label, cols); err != nil {
				return nil, err
			}
			p.steps = append(p.steps, projStep{kind: stepConcat, label: label, sources: cols})
			out = append(out, label)
			continue
		}
		if v, ok := desc.Force[label]; ok {
			p.steps = append(p.steps, projStep{kind: stepForce, label: label, value: clean.Scrub(v)})
			out = append(out, label)
		}
	}

	p.labels = schema.NewLabelSet(out)
	return p, nil
}

// project builds one canonical record. Its key set always equals the
// projection's label set; a full_addr parse failure degrades to keeping
// the raw value under full_addr with its components empty.
func (p *projection) project(ctx context.Context, rec schema.Record, sum *Summary) schema.Record {
	out := make(schema.Record, p.labels.Len())
	for _, st := range p.steps {
		switch st.kind {
		case stepForce:
			out[st.label] = st.value
		case stepFullAddr:
			full := clean.Scrub(concat(rec, st.sources))
			if full == "" {
				for _, l := range st.comps {
					out[l] = ""
				}
				out[schema.FullAddr] = ""
				continue
			}
			comps, err := p.parser.Parse(ctx, full)
			if err != nil {
				sum.ParseFailures++
				for _, l := range st.comps {
					out[l] = ""
				}
				out[schema.FullAddr] = full
				continue
			}
			for _, l := range st.comps {
				out[l] = clean.Scrub(comps[l])
			}
			out[schema.FullAddr] = ""
		default:
			out[st.label] = clean.Scrub(concat(rec, st.sources))
		}
	}
	return out
}

func concat(rec schema.Record, sources []string) string {
	if len(sources) == 1 {
		return rec[sources[0]]
	}
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, rec[s])
	}
	return strings.Join(parts, " ")
}
