// Package source defines the descriptor for one input source of address
// data: where the bytes live, how they are shaped, and how source
// columns map onto the standard label vocabulary. Descriptors arrive as
// a YAML catalog or as registry metadata JSON.
package source

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/openregistry/regpipe/pkg/pipeline/encoding"
	"github.com/openregistry/regpipe/pkg/pipeline/format"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"gopkg.in/yaml.v3"
)

// Columns is a field mapping target: one source column, or several whose
// values are concatenated with single spaces.
type Columns []string

func (c *Columns) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = Columns{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*c = Columns(ss)
		return nil
	}
	return fmt.Errorf("line %d: column mapping must be a string or a list", value.Line)
}

// Descriptor describes one source of address data. Fields and Address
// map standard labels onto source column names; Force pins labels to
// constants injected into every record.
type Descriptor struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	File        string `yaml:"file"`
	URL         string `yaml:"url"`
	Compression string `yaml:"compression"`

	Format    string `yaml:"format"`
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`

	// NoHeader marks a delimited source whose first row is data, not
	// column names. Labels then names the columns in order; when it is
	// empty too, positional names are generated.
	NoHeader bool     `yaml:"no_header"`
	Labels   []string `yaml:"labels"`

	// Group is the record-delimiting element of a markup source.
	Group string `yaml:"group"`

	// Preprocess is an argv run once against the raw bytes before
	// format detection.
	Preprocess []string `yaml:"preprocess"`

	// Required lists mapped labels that must be present in every markup
	// record group for the record to be acceptable.
	Required []string `yaml:"required"`

	Fields  map[string]Columns `yaml:"fields"`
	Address map[string]Columns `yaml:"address"`
	Force   map[string]string  `yaml:"force"`
}

// Algorithm returns the cleaning algorithm the declared format selects.
// With no declared format it returns the delimited-text default; run-time
// structure detection may override it.
func (d *Descriptor) Algorithm() format.Algorithm {
	alg, _ := format.Normalize(d.Format)
	return alg
}

// MapsFullAddr reports whether the descriptor maps an unsplit address
// column.
func (d *Descriptor) MapsFullAddr() bool {
	_, ok := d.Fields[schema.FullAddr]
	return ok
}

// Validate normalizes the descriptor in place and checks it against the
// standard vocabulary rules. A descriptor that passes is safe to hand to
// the formatter.
func (d *Descriptor) Validate() error {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	d.File = strings.TrimSpace(d.File)
	d.URL = strings.TrimSpace(d.URL)
	d.Format = strings.ToLower(strings.TrimSpace(d.Format))
	d.Encoding = strings.TrimSpace(d.Encoding)
	d.Compression = strings.ToLower(strings.TrimSpace(d.Compression))
	d.Group = strings.TrimSpace(d.Group)

	if d.File == "" && d.URL == "" {
		return fmt.Errorf("a file or url is required")
	}
	if d.File == "" {
		d.File = filepath.Base(d.URL)
	}
	if d.ID == "" {
		d.ID = strings.TrimSuffix(filepath.Base(d.File), filepath.Ext(d.File))
	}

	if d.Format != "" {
		alg, ok := format.Normalize(d.Format)
		if !ok {
			return fmt.Errorf("unsupported format %q", d.Format)
		}
		if alg == format.Markup && d.Group == "" {
			return fmt.Errorf("markup sources need a group element")
		}
	}
	if d.Delimiter != "" && utf8.RuneCountInString(d.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", d.Delimiter)
	}
	if d.Encoding != "" {
		enc, ok := encoding.Normalize(d.Encoding)
		if !ok {
			return fmt.Errorf("unsupported encoding %q", d.Encoding)
		}
		d.Encoding = string(enc)
	}
	switch d.Compression {
	case "", "gzip", "zip":
	default:
		return fmt.Errorf("unsupported compression %q", d.Compression)
	}

	if len(d.Fields) == 0 && len(d.Address) == 0 {
		return fmt.Errorf("no field mappings declared")
	}
	for label := range d.Fields {
		if schema.IsAddressLabel(label) {
			return fmt.Errorf("fields: address component %q must be mapped under address", label)
		}
		if !schema.IsStandardLabel(label) {
			return unknownLabelErr("fields", label, schema.StandardLabels())
		}
	}
	if d.MapsFullAddr() && len(d.Address) > 0 {
		return fmt.Errorf("cannot map both full_addr and address components")
	}
	for label := range d.Address {
		if !schema.IsAddressLabel(label) {
			return unknownLabelErr("address", label, schema.AddressLabels())
		}
	}
	for label := range d.Force {
		if !schema.IsForceLabel(label) {
			return unknownLabelErr("force", label, schema.ForceLabels())
		}
		if _, ok := d.Address[label]; ok {
			return fmt.Errorf("label %q appears in both force and address", label)
		}
		if _, ok := d.Fields[label]; ok {
			return fmt.Errorf("label %q appears in both force and fields", label)
		}
	}
	for _, label := range d.Required {
		if _, ok := d.Fields[label]; ok {
			continue
		}
		if _, ok := d.Address[label]; ok {
			continue
		}
		return fmt.Errorf("required label %q is not mapped", label)
	}
	return nil
}

// MappedLabels returns the standard labels this descriptor maps, in
// canonical vocabulary order regardless of which group maps them.
func (d *Descriptor) MappedLabels() []string {
	var out []string
	for _, label := range schema.StandardLabels() {
		if _, ok := d.Fields[label]; ok {
			out = append(out, label)
			continue
		}
		if _, ok := d.Address[label]; ok {
			out = append(out, label)
		}
	}
	return out
}

func unknownLabelErr(group, label string, vocab []string) error {
	if sug := closest(label, vocab); sug != "" {
		return fmt.Errorf("%s: unknown label %q (closest standard label is %q)", group, label, sug)
	}
	return fmt.Errorf("%s: unknown label %q", group, label)
}

// closest returns the vocabulary entry nearest to s, or "" when nothing
// is within edit distance 3.
func closest(s string, vocab []string) string {
	best, bestDist := "", 4
	for _, v := range vocab {
		if d := levenshtein.Distance(strings.ToLower(s), v, nil); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}
