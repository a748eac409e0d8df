package addr

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Rule is a dependency-free Parser for Canadian and US civic address
// shapes such as "12-171 Main St, Dartmouth, NS, B2Y 4S5". It is
// deliberately conservative: text it cannot classify lands in road or
// city rather than being guessed into a narrower component.
type Rule struct{}

// NewRule returns the rule-based parsing strategy.
func NewRule() *Rule { return &Rule{} }

var (
	// A leading N-M token follows the Canada Post unit-civic
	// convention: unit first, civic number second.
	unitHouseRe  = regexp.MustCompile(`(?i)^(\d+[a-z]?)-(\d+[a-z]?)$`)
	houseRe      = regexp.MustCompile(`(?i)^\d+[a-z]?$`)
	unitPrefixRe = regexp.MustCompile(`(?i)^(?:unit|apt\.?|suite|ste\.?|#)\s*([0-9a-z-]+)$`)
	postcodeCARe = regexp.MustCompile(`(?i)\b[a-z]\d[a-z]\s?\d[a-z]\d$`)
	postcodeUSRe = regexp.MustCompile(`\b\d{5}(?:-\d{4})?$`)
)

var provinceCodes = map[string]bool{
	"ab": true, "bc": true, "mb": true, "nb": true, "nl": true,
	"ns": true, "nt": true, "nu": true, "on": true, "pe": true,
	"qc": true, "sk": true, "yt": true,
}

var provinceNames = map[string]bool{
	"alberta": true, "british columbia": true, "manitoba": true,
	"new brunswick": true, "newfoundland": true,
	"newfoundland and labrador": true, "northwest territories": true,
	"nova scotia": true, "nunavut": true, "ontario": true,
	"prince edward island": true, "quebec": true, "saskatchewan": true,
	"yukon": true,
}

var countryNames = map[string]bool{
	"canada": true, "usa": true, "u.s.a.": true,
	"united states": true, "united states of america": true,
}

// streetTypes marks the token that ends a street name when an address
// has no comma structure; everything after it is read as the city.
var streetTypes = map[string]bool{
	"st": true, "street": true, "ave": true, "avenue": true, "av": true,
	"rd": true, "road": true, "dr": true, "drive": true,
	"blvd": true, "boulevard": true, "cres": true, "crescent": true,
	"ct": true, "crt": true, "court": true, "pl": true, "place": true,
	"way": true, "hwy": true, "highway": true, "ln": true, "lane": true,
	"terr": true, "terrace": true, "trail": true, "pkwy": true,
	"parkway": true, "sq": true, "square": true, "cir": true,
	"circle": true, "row": true, "gate": true,
}

var directions = map[string]bool{
	"n": true, "s": true, "e": true, "w": true,
	"ne": true, "nw": true, "se": true, "sw": true,
	"north": true, "south": true, "east": true, "west": true,
}

// Parse splits fullAddr on comma boundaries when present and falls back
// to token scanning otherwise. It errors only on blank input; values
// are returned exactly as they appear in the input.
func (p *Rule) Parse(_ context.Context, fullAddr string) (Components, error) {
	s := strings.TrimSpace(fullAddr)
	if s == "" {
		return nil, errors.New("empty address")
	}

	comps := Components{}
	segs := splitSegments(s)
	switch {
	case len(segs) == 0:
		return comps, nil
	case len(segs) == 1:
		parseTokens(segs[0], comps)
		return comps, nil
	}

	street := segs[0]
	rest := segs[1:]
	if m := unitPrefixRe.FindStringSubmatch(street); m != nil {
		comps[Unit] = m[1]
		street = rest[0]
		rest = rest[1:]
	}
	parseStreet(street, comps)

	// Classify the trailing segments back to front so the postcode and
	// province are peeled off before city candidates are considered.
	var leftovers []string
	for i := len(rest) - 1; i >= 0; i-- {
		seg := rest[i]
		if comps[Postcode] == "" {
			if loc := postcodeCARe.FindStringIndex(seg); loc != nil {
				comps[Postcode] = seg[loc[0]:loc[1]]
				seg = strings.TrimSpace(seg[:loc[0]])
			} else if loc := postcodeUSRe.FindStringIndex(seg); loc != nil {
				comps[Postcode] = seg[loc[0]:loc[1]]
				seg = strings.TrimSpace(seg[:loc[0]])
			}
		}
		if seg == "" {
			continue
		}
		low := strings.ToLower(seg)
		switch {
		case countryNames[low] && comps[Country] == "":
			comps[Country] = seg
		case (provinceCodes[low] || provinceNames[low]) && comps[Prov] == "":
			comps[Prov] = seg
		default:
			leftovers = append(leftovers, seg)
		}
	}
	// Leftovers were collected back to front; the first in reading
	// order is the city. Deeper qualifiers (counties, districts) are
	// dropped rather than misfiled.
	if len(leftovers) > 0 {
		comps[City] = leftovers[len(leftovers)-1]
	}
	return comps, nil
}

func splitSegments(s string) []string {
	var segs []string
	for _, seg := range strings.Split(s, ",") {
		if seg = strings.TrimSpace(seg); seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// parseStreet reads the civic portion: optional unit, optional house
// number, remainder is the road.
func parseStreet(seg string, comps Components) {
	toks := strings.Fields(seg)
	if len(toks) == 0 {
		return
	}
	switch {
	case unitHouseRe.MatchString(toks[0]):
		m := unitHouseRe.FindStringSubmatch(toks[0])
		comps[Unit] = m[1]
		comps[HouseNumber] = m[2]
		toks = toks[1:]
	case len(toks) >= 3 && toks[1] == "-" && houseRe.MatchString(toks[0]) && houseRe.MatchString(toks[2]):
		comps[Unit] = toks[0]
		comps[HouseNumber] = toks[2]
		toks = toks[3:]
	case houseRe.MatchString(toks[0]):
		comps[HouseNumber] = toks[0]
		toks = toks[1:]
	}
	if len(toks) > 0 {
		comps[Road] = strings.Join(toks, " ")
	}
}

// parseTokens handles addresses with no comma structure by peeling
// known shapes off the tail (postcode, country, province), then the
// head (unit, house number), and splitting road from city at the last
// street-type token.
func parseTokens(s string, comps Components) {
	toks := strings.Fields(s)

	// A Canadian postcode may arrive as one compact token or split
	// across the final two. The whole token(s) must match so a token
	// that merely ends in a postcode shape is left alone.
	n := len(toks)
	switch {
	case n >= 1 && (fullMatch(postcodeCARe, toks[n-1]) || fullMatch(postcodeUSRe, toks[n-1])):
		comps[Postcode] = toks[n-1]
		toks = toks[:n-1]
	case n >= 2 && fullMatch(postcodeCARe, toks[n-2]+" "+toks[n-1]):
		comps[Postcode] = toks[n-2] + " " + toks[n-1]
		toks = toks[:n-2]
	}

	toks = takeTail(toks, countryNames, Country, comps, 4)
	toks = takeTail(toks, provinceNames, Prov, comps, 3)
	if n := len(toks); comps[Prov] == "" && n >= 1 && provinceCodes[strings.ToLower(toks[n-1])] {
		comps[Prov] = toks[n-1]
		toks = toks[:n-1]
	}

	switch {
	case len(toks) > 0 && unitHouseRe.MatchString(toks[0]):
		m := unitHouseRe.FindStringSubmatch(toks[0])
		comps[Unit] = m[1]
		comps[HouseNumber] = m[2]
		toks = toks[1:]
	case len(toks) > 0 && houseRe.MatchString(toks[0]):
		comps[HouseNumber] = toks[0]
		toks = toks[1:]
	}

	cut := -1
	for i, t := range toks {
		if streetTypes[strings.ToLower(t)] {
			cut = i
		}
	}
	if cut >= 0 && cut+1 < len(toks) && directions[strings.ToLower(toks[cut+1])] {
		cut++
	}
	if cut < 0 {
		if len(toks) > 0 {
			comps[Road] = strings.Join(toks, " ")
		}
		return
	}
	comps[Road] = strings.Join(toks[:cut+1], " ")
	if cut+1 < len(toks) {
		comps[City] = strings.Join(toks[cut+1:], " ")
	}
}

func fullMatch(re *regexp.Regexp, s string) bool {
	return re.FindString(s) == s && s != ""
}

// takeTail pops the longest trailing token run (up to width tokens)
// found in vocab and records it under label.
func takeTail(toks []string, vocab map[string]bool, label string, comps Components, width int) []string {
	if comps[label] != "" {
		return toks
	}
	for w := width; w >= 1; w-- {
		if len(toks) < w {
			continue
		}
		tail := strings.Join(toks[len(toks)-w:], " ")
		if vocab[strings.ToLower(tail)] {
			comps[label] = tail
			return toks[:len(toks)-w]
		}
	}
	return toks
}
