package formatter

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/clean"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

// markupReader streams element groups from a markup source. A record is
// one occurrence of the descriptor's group element; its direct children
// become the record's values. Labels come from the descriptor's declared
// element names, else from the elements its mapping references, else
// from the first group encountered.
type markupReader struct {
	dec     *xml.Decoder
	group   string
	labels  schema.LabelSet
	pending map[string]string
	hasPend bool
	index   int
	file    string
}

func newMarkupReader(text []byte, desc *source.Descriptor) (*markupReader, error) {
	mr := &markupReader{
		dec:   newGroupDecoder(text),
		group: desc.Group,
		file:  desc.File,
	}

	if len(desc.Labels) > 0 {
		mr.labels = schema.NewLabelSet(desc.Labels)
		return mr, nil
	}
	if cols := mappedColumns(desc); len(cols) > 0 {
		mr.labels = schema.NewLabelSet(cols)
		return mr, nil
	}

	// No declared element schema: the first well-formed group names the
	// labels, then replays as the first record.
	values, order, err := mr.nextGroup()
	if err == io.EOF {
		mr.labels = schema.NewLabelSet(nil)
		return mr, nil
	}
	if err != nil {
		return nil, err
	}
	mr.labels = schema.NewLabelSet(order)
	mr.pending = values
	mr.hasPend = true
	return mr, nil
}

// mappedColumns lists the source elements the descriptor's mapping
// references, in canonical label order, first mention winning.
func mappedColumns(desc *source.Descriptor) []string {
	var out []string
	seen := map[string]bool{}
	add := func(cols source.Columns) {
		for _, c := range cols {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	for _, label := range schema.StandardLabels() {
		if cols, ok := desc.Fields[label]; ok {
			add(cols)
			continue
		}
		if cols, ok := desc.Address[label]; ok {
			add(cols)
		}
	}
	return out
}

func newGroupDecoder(text []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(text))
	// The bytes were already transcoded to UTF-8; a prolog claiming
	// another charset must not make the decoder bail.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return dec
}

func (mr *markupReader) Labels() schema.LabelSet { return mr.labels }

func (mr *markupReader) Next() (clean.RawRecord, error) {
	if mr.hasPend {
		mr.hasPend = false
		rec := clean.RawRecord{Index: mr.index, Values: mr.pending}
		mr.index++
		return rec, nil
	}
	values, _, err := mr.nextGroup()
	if err != nil {
		return clean.RawRecord{}, err
	}
	rec := clean.RawRecord{Index: mr.index, Values: values}
	mr.index++
	return rec, nil
}

// nextGroup scans forward to the next group element and collects its
// direct children. order lists child names by first appearance; repeated
// children concatenate their text with a space.
func (mr *markupReader) nextGroup() (map[string]string, []string, error) {
	for {
		tok, err := mr.dec.Token()
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		if err != nil {
			return nil, nil, &core.IOError{Op: fmt.Sprintf("parse %s", mr.file), Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != mr.group {
			continue
		}
		return mr.readGroup(start)
	}
}

func (mr *markupReader) readGroup(group xml.StartElement) (map[string]string, []string, error) {
	values := map[string]string{}
	var order []string
	for {
		tok, err := mr.dec.Token()
		if err != nil {
			return nil, nil, &core.IOError{Op: fmt.Sprintf("parse %s", mr.file), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, err := mr.readElementText()
			if err != nil {
				return nil, nil, err
			}
			name := t.Name.Local
			if prev, ok := values[name]; ok {
				values[name] = strings.TrimSpace(prev + " " + text)
			} else {
				values[name] = text
				order = append(order, name)
			}
		case xml.EndElement:
			if t.Name.Local == mr.group {
				return values, order, nil
			}
		}
	}
}

// readElementText consumes one child element, returning its flattened
// text. Nested elements contribute their text too, so wrapper tags
// inside a field do not hide its value.
func (mr *markupReader) readElementText() (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := mr.dec.Token()
		if err != nil {
			return "", &core.IOError{Op: fmt.Sprintf("parse %s", mr.file), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String(), nil
}
