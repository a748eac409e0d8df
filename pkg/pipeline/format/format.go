package format

import (
	"bytes"

	"github.com/openregistry/regpipe/pkg/pipeline/core"
)

// Algorithm selects the cleaning/parsing strategy for one source. It is
// chosen exactly once per source and never changes mid-stream.
type Algorithm int

const (
	DelimitedText Algorithm = iota
	Markup
)

func (a Algorithm) String() string {
	switch a {
	case Markup:
		return "markup"
	default:
		return "delimited"
	}
}

// Normalize maps a declared format string onto an Algorithm.
func Normalize(s string) (Algorithm, bool) {
	switch s {
	case "csv", "delimited", "tsv":
		return DelimitedText, true
	case "xml", "markup":
		return Markup, true
	}
	return DelimitedText, false
}

// DefaultProbeSize bounds how much of a source Detect inspects. Detection
// never reads beyond the probe window regardless of source size.
const DefaultProbeSize = 4096

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var rowDelimiters = []byte{',', ';', '\t', '|'}

// Detect chooses an Algorithm from a source prefix. A markup root element
// selects Markup; delimiter-separated rows select DelimitedText. Detection
// always yields a value: ambiguous or empty input defaults to DelimitedText
// with core.ErrFormatAmbiguous as an advisory error.
func Detect(sample []byte) (Algorithm, error) {
	if len(sample) > DefaultProbeSize {
		sample = sample[:DefaultProbeSize]
	}
	sample = bytes.TrimPrefix(sample, utf8BOM)
	sample = bytes.TrimLeft(sample, " \t\r\n")
	if len(sample) == 0 {
		return DelimitedText, core.ErrFormatAmbiguous
	}

	if sample[0] == '<' {
		if bytes.HasPrefix(sample, []byte("<?xml")) || bytes.HasPrefix(sample, []byte("<!")) {
			return Markup, nil
		}
		if len(sample) > 1 && isTagStart(sample[1]) {
			return Markup, nil
		}
	}

	firstLine := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		firstLine = sample[:i]
	}
	for _, d := range rowDelimiters {
		if bytes.IndexByte(firstLine, d) >= 0 {
			return DelimitedText, nil
		}
	}
	// Rows without a delimiter still look like a single-column table.
	if bytes.IndexByte(sample, '\n') >= 0 {
		return DelimitedText, nil
	}
	return DelimitedText, core.ErrFormatAmbiguous
}

func isTagStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
