package clean

import "github.com/openregistry/regpipe/pkg/pipeline/schema"

// Markup cleans element groups from markup sources. Absent non-required
// elements never cause rejection: the first pass fills their gaps with empty
// values and requests a repair pass, so the repaired record accepts on the
// next pass. Absent required elements cannot be filled; the cleaner returns
// the record unchanged and the loop's stagnation rule rejects it.
type Markup struct {
	Labels schema.LabelSet

	// Required lists labels whose elements must be present in the source.
	// Empty means every element is optional.
	Required []string
}

// NewMarkup builds the markup cleaner with no required elements.
func NewMarkup(labels schema.LabelSet) Markup {
	return Markup{Labels: labels}
}

// Clean scrubs an element group, strips inline markup fragments, and either
// accepts the record or requests a repair pass for missing structure.
func (c Markup) Clean(raw RawRecord) Outcome {
	values := make(map[string]string, c.Labels.Len())
	for k, v := range raw.Values {
		values[k] = Scrub(StripMarkup(v))
	}

	var missing []string
	missingRequired := false
	for _, name := range c.Labels.Names() {
		if _, ok := values[name]; ok {
			continue
		}
		if c.isRequired(name) {
			missingRequired = true
			continue
		}
		missing = append(missing, name)
	}

	if missingRequired {
		// Required structure cannot be invented. Hand the record back
		// unchanged; two identical passes trip the stagnation rule.
		return Outcome{Kind: Repaired, Repair: RawRecord{Index: raw.Index, Values: values}}
	}
	if len(missing) > 0 {
		repaired := make(map[string]string, len(values)+len(missing))
		for k, v := range values {
			repaired[k] = v
		}
		for _, name := range missing {
			repaired[name] = ""
		}
		return Outcome{Kind: Repaired, Repair: RawRecord{Index: raw.Index, Values: repaired}}
	}

	rec, dropped := c.Labels.ConformMap(values)
	empty := true
	for _, v := range rec {
		if v != "" {
			empty = false
			break
		}
	}
	if empty {
		return Outcome{Kind: Rejected, Reason: "empty element group"}
	}
	return Outcome{Kind: Accepted, Record: rec, DroppedFields: dropped}
}

func (c Markup) isRequired(name string) bool {
	for _, r := range c.Required {
		if r == name {
			return true
		}
	}
	return false
}
