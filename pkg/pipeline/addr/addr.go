// Package addr splits free-form address strings into the canonical
// address component labels used by the cleaning engine.
//
// Two strategies are provided: a rule-based parser for Canadian and US
// civic address shapes (no network, no API key) and a Gemini-backed
// parser in the gemini subpackage for sources whose addresses are too
// irregular for rules.
package addr

import "context"

// Component labels produced by a Parser, in canonical column order.
const (
	Unit        = "unit"
	HouseNumber = "house_number"
	Road        = "road"
	City        = "city"
	Prov        = "prov"
	Country     = "country"
	Postcode    = "postcode"
)

// Components maps address component labels to extracted values.
// Components that could not be identified are absent from the map.
type Components map[string]string

// Parser is implemented by address-parsing strategies. Parse splits a
// free-form address into components. It returns an error only when the
// strategy cannot attempt a split at all; callers keep the raw value in
// that case rather than dropping the record.
type Parser interface {
	Parse(ctx context.Context, fullAddr string) (Components, error)
}
