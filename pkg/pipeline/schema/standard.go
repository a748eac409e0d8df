package schema

// The standard vocabulary for business registry sources. Descriptors map
// source columns onto these names so downstream joining sees one schema.
var standardLabels = []string{
	"bus_name", "trade_name", "bus_type", "bus_no", "bus_desc",
	"lic_type", "lic_no", "bus_start_date", "bus_cease_date", "active",
	"full_addr",
	"house_number", "road", "postcode", "unit", "city", "prov", "country",
	"phone", "fax", "email", "website", "tollfree",
	"comdist", "region",
	"longitude",
	"latitude",
	"no_employed", "no_seasonal_emp", "no_full_emp", "no_part_emp", "emp_range",
	"home_bus", "munic_bus", "nonres_bus",
	"exports", "exp_cn_1", "exp_cn_2", "exp_cn_3",
	"naics_2", "naics_3", "naics_4", "naics_5", "naics_6",
	"naics_desc",
	"qc_cae_1", "qc_cae_desc_1", "qc_cae_2", "qc_cae_desc_2",
	"facebook", "twitter", "linkedin", "youtube", "instagram",
}

// FullAddr is the label for an unsplit address column. Mapping it is
// mutually exclusive with mapping individual address components.
const FullAddr = "full_addr"

// Address component labels, ordered to the Canada Post mailing standard.
var addressLabels = []string{"unit", "house_number", "road", "city", "prov", "country", "postcode"}

// Labels whose values a descriptor may force to a constant.
var forceLabels = []string{"city", "prov", "country"}

// StandardLabels returns the full standard vocabulary in canonical order.
// The returned slice is a copy.
func StandardLabels() []string {
	out := make([]string, len(standardLabels))
	copy(out, standardLabels)
	return out
}

// AddressLabels returns the address component labels in mailing order.
// The returned slice is a copy.
func AddressLabels() []string {
	out := make([]string, len(addressLabels))
	copy(out, addressLabels)
	return out
}

// ForceLabels returns the labels a descriptor's force group may set.
// The returned slice is a copy.
func ForceLabels() []string {
	out := make([]string, len(forceLabels))
	copy(out, forceLabels)
	return out
}

// IsStandardLabel reports whether name belongs to the standard vocabulary.
func IsStandardLabel(name string) bool {
	for _, l := range standardLabels {
		if l == name {
			return true
		}
	}
	return false
}

// IsAddressLabel reports whether name is an address component label.
func IsAddressLabel(name string) bool {
	for _, l := range addressLabels {
		if l == name {
			return true
		}
	}
	return false
}

// IsForceLabel reports whether name may appear in a descriptor force group.
func IsForceLabel(name string) bool {
	for _, l := range forceLabels {
		if l == name {
			return true
		}
	}
	return false
}
