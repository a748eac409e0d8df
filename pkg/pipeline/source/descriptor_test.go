package source_test

import (
	"strings"
	"testing"

	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

func validDescriptor() source.Descriptor {
	return source.Descriptor{
		File:   "ns_registry.csv",
		Format: "CSV",
		Fields: map[string]source.Columns{
			"bus_name":  {"BUSNAME"},
			"full_addr": {"ADDR1", "ADDR2"},
		},
		Force: map[string]string{"prov": "ns", "country": "canada"},
	}
}

func TestDescriptor_Validate_Normalizes(t *testing.T) {
	t.Parallel()

	d := validDescriptor()
	d.Encoding = "latin1"
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if d.ID != "ns_registry" {
		t.Fatalf("derived id=%q want=ns_registry", d.ID)
	}
	if d.Format != "csv" {
		t.Fatalf("format=%q want=csv", d.Format)
	}
	if d.Encoding != "cp1252" {
		t.Fatalf("encoding=%q want=cp1252", d.Encoding)
	}
	if !d.MapsFullAddr() {
		t.Fatalf("MapsFullAddr=false want=true")
	}
}

func TestDescriptor_Validate_FormatOptional(t *testing.T) {
	t.Parallel()

	// Format may be omitted entirely; structure detection resolves it
	// at run time.
	d := validDescriptor()
	d.Format = ""
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestDescriptor_Validate_DerivesFileFromURL(t *testing.T) {
	t.Parallel()

	d := validDescriptor()
	d.File = ""
	d.URL = "https://example.org/data/registry.csv"
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if d.File != "registry.csv" {
		t.Fatalf("file=%q want=registry.csv", d.File)
	}
	if d.ID != "registry" {
		t.Fatalf("id=%q want=registry", d.ID)
	}
}

func TestDescriptor_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*source.Descriptor)
		wantErr string
	}{
		{
			name:    "unknown_format",
			mutate:  func(d *source.Descriptor) { d.Format = "excel" },
			wantErr: `unsupported format "excel"`,
		},
		{
			name:    "missing_file_and_url",
			mutate:  func(d *source.Descriptor) { d.File = "" },
			wantErr: "file or url",
		},
		{
			name: "markup_needs_group",
			mutate: func(d *source.Descriptor) {
				d.Format = "xml"
				d.Group = ""
			},
			wantErr: "group element",
		},
		{
			name: "full_addr_and_address",
			mutate: func(d *source.Descriptor) {
				d.Address = map[string]source.Columns{"city": {"CITY"}}
				delete(d.Force, "country")
				delete(d.Force, "prov")
			},
			wantErr: "cannot map both",
		},
		{
			name: "unknown_field_label_suggests",
			mutate: func(d *source.Descriptor) {
				d.Fields["bus_nam"] = source.Columns{"X"}
			},
			wantErr: `closest standard label is "bus_name"`,
		},
		{
			name: "address_component_in_fields",
			mutate: func(d *source.Descriptor) {
				d.Fields["road"] = source.Columns{"STREET"}
			},
			wantErr: "mapped under address",
		},
		{
			name: "unknown_address_label_suggests",
			mutate: func(d *source.Descriptor) {
				delete(d.Fields, "full_addr")
				d.Address = map[string]source.Columns{"citty": {"CITY"}}
				delete(d.Force, "country")
				delete(d.Force, "prov")
			},
			wantErr: `closest standard label is "city"`,
		},
		{
			name: "force_label_not_forceable",
			mutate: func(d *source.Descriptor) {
				d.Force["postcode"] = "b2y 4s5"
			},
			wantErr: `force: unknown label "postcode"`,
		},
		{
			name: "force_overlaps_address",
			mutate: func(d *source.Descriptor) {
				delete(d.Fields, "full_addr")
				d.Address = map[string]source.Columns{"prov": {"PROVINCE"}}
				d.Force = map[string]string{"prov": "ns"}
			},
			wantErr: "both force and address",
		},
		{
			name: "required_unmapped",
			mutate: func(d *source.Descriptor) {
				d.Required = []string{"phone"}
			},
			wantErr: `required label "phone" is not mapped`,
		},
		{
			name:    "multichar_delimiter",
			mutate:  func(d *source.Descriptor) { d.Delimiter = "||" },
			wantErr: "single character",
		},
		{
			name:    "unknown_encoding",
			mutate:  func(d *source.Descriptor) { d.Encoding = "latin9" },
			wantErr: `unsupported encoding "latin9"`,
		},
		{
			name:    "unknown_compression",
			mutate:  func(d *source.Descriptor) { d.Compression = "rar" },
			wantErr: `unsupported compression "rar"`,
		},
		{
			name: "no_mappings",
			mutate: func(d *source.Descriptor) {
				d.Fields = nil
				d.Force = nil
			},
			wantErr: "no field mappings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if err == nil {
				t.Fatalf("Validate passed, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptor_MappedLabels_CanonicalOrder(t *testing.T) {
	t.Parallel()

	d := source.Descriptor{
		File:   "x.csv",
		Format: "csv",
		Fields: map[string]source.Columns{
			"phone":    {"TEL"},
			"bus_name": {"NAME"},
		},
		Address: map[string]source.Columns{
			"city": {"CITY"},
			"road": {"STREET"},
		},
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	got := d.MappedLabels()
	want := []string{"bus_name", "road", "city", "phone"}
	if len(got) != len(want) {
		t.Fatalf("MappedLabels=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MappedLabels=%v want=%v", got, want)
		}
	}
}
