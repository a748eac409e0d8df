package source_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

const catalogYAML = `
sources:
  - id: ns-registry
    name: Nova Scotia registry
    file: ns_registry.csv
    format: csv
    encoding: cp1252
    fields:
      bus_name: BUSNAME
      full_addr: [ADDR1, ADDR2]
    force:
      prov: ns
      country: canada
  - id: on-licences
    url: https://example.org/on_licences.xml.gz
    format: xml
    group: licence
    required: [bus_name]
    fields:
      bus_name: name
      lic_no: number
    address:
      road: street
      city: city
`

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	cat, err := source.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if len(cat.Sources) != 2 {
		t.Fatalf("sources len=%d want=2", len(cat.Sources))
	}

	ns, ok := cat.Get("ns-registry")
	if !ok {
		t.Fatalf("Get(ns-registry) missing")
	}
	if got := ns.Fields["full_addr"]; len(got) != 2 || got[0] != "ADDR1" || got[1] != "ADDR2" {
		t.Fatalf("full_addr columns=%v want=[ADDR1 ADDR2]", got)
	}
	if got := ns.Fields["bus_name"]; len(got) != 1 || got[0] != "BUSNAME" {
		t.Fatalf("bus_name columns=%v want=[BUSNAME]", got)
	}

	on, ok := cat.Get("on-licences")
	if !ok {
		t.Fatalf("Get(on-licences) missing")
	}
	if on.File != "on_licences.xml.gz" {
		t.Fatalf("derived file=%q want=on_licences.xml.gz", on.File)
	}
	if _, ok := cat.Get("absent"); ok {
		t.Fatalf("Get(absent) unexpectedly found a source")
	}
}

func TestParseCatalog_DuplicateID(t *testing.T) {
	t.Parallel()

	doc := `
sources:
  - id: a
    file: a.csv
    format: csv
    fields: {bus_name: NAME}
  - id: a
    file: b.csv
    format: csv
    fields: {bus_name: NAME}
`
	if _, err := source.ParseCatalog([]byte(doc)); err == nil || !strings.Contains(err.Error(), "duplicate source id") {
		t.Fatalf("err=%v want duplicate source id", err)
	}
}

func TestParseCatalog_InvalidDescriptorNamesSource(t *testing.T) {
	t.Parallel()

	doc := `
sources:
  - id: broken
    file: x.csv
    format: dbf
    fields: {bus_name: NAME}
`
	_, err := source.ParseCatalog([]byte(doc))
	if err == nil {
		t.Fatalf("ParseCatalog passed, want error")
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("error %q should name the source and the failure", err)
	}
}

func TestParseCatalog_ColumnsRejectMapping(t *testing.T) {
	t.Parallel()

	doc := `
sources:
  - id: bad
    file: x.csv
    format: csv
    fields:
      bus_name: {col: NAME}
`
	if _, err := source.ParseCatalog([]byte(doc)); err == nil || !strings.Contains(err.Error(), "string or a list") {
		t.Fatalf("err=%v want column mapping type error", err)
	}
}

func TestLoadCatalog_MissingFileAndRoundTrip(t *testing.T) {
	t.Parallel()

	if _, err := source.LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("LoadCatalog passed on a missing file")
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := source.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if len(cat.Sources) != 2 {
		t.Fatalf("sources len=%d want=2", len(cat.Sources))
	}
}
