//go:build gemini_e2e

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openregistry/regpipe/internal/app"
	"github.com/openregistry/regpipe/pkg/pipeline/addr/gemini"
	"github.com/openregistry/regpipe/pkg/pipeline/io/local"
)

func TestRunLocal_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		t.Fatalf("GEMINI_MODEL is required for gemini_e2e tests")
	}
	baseURL := os.Getenv("GEMINI_BASE_URL")

	ctx := context.Background()

	baseDir := t.TempDir()
	if artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR"); artifactDir != "" {
		if err := os.MkdirAll(artifactDir, 0755); err != nil {
			t.Fatalf("create GEMINI_E2E_ARTIFACT_DIR: %v", err)
		}
		baseDir = artifactDir
	}

	parser, err := gemini.New(ctx, gemini.Config{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
	})
	if err != nil {
		t.Fatalf("create gemini parser: %v", err)
	}

	// Synthetic address only (public repo); this validates API and
	// response-schema assumptions, not parse quality.
	writeFile(t, filepath.Join(baseDir, "catalog.yml"), `sources:
  - id: full-addr
    file: full-addr.csv
    format: csv
    fields:
      bus_name: name
      full_addr: address
`)
	writeFile(t, filepath.Join(baseDir, "full-addr.csv"),
		"name,address\nAcme Widgets,\"202-1668 Barrington St, Halifax, NS B3J 2A2\"\n")

	outDir := filepath.Join(baseDir, "out")
	sink := local.NewCSVSink(outDir, false)
	err = app.RunLocal(ctx, filepath.Join(baseDir, "catalog.yml"), filepath.Join(outDir, "report.csv"), sink, app.Options{
		Workers:     1,
		MaxRetries:  2,
		TaskTimeout: 60 * time.Second,
		FailFast:    true,
		Parser:      parser,
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}

	out := readCSVFile(t, filepath.Join(outDir, "full-addr.csv"))
	if len(out) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(out))
	}
	wantHeader := []string{"bus_name", "unit", "house_number", "road", "city", "prov", "country", "postcode", "full_addr"}
	for i := range wantHeader {
		if out[0][i] != wantHeader[i] {
			t.Fatalf("header[%d]: want %q got %q", i, wantHeader[i], out[0][i])
		}
	}
	row := out[1]
	if row[0] != "acme widgets" {
		t.Fatalf("unexpected bus_name: %#v", row)
	}
	if row[8] != "" {
		t.Fatalf("full_addr must be cleared after a successful parse: %#v", row)
	}
	filled := 0
	for _, comp := range row[1:8] {
		if comp != "" {
			filled++
		}
	}
	if filled == 0 {
		t.Fatalf("expected at least one parsed address component, got %#v", row)
	}

	// A live parse that errored would count as a parse failure, not a reject.
	rep := readCSVFile(t, filepath.Join(outDir, "report.csv"))
	if len(rep) != 2 {
		t.Fatalf("expected report header + 1 row, got %d", len(rep))
	}
	if rep[1][1] != "ok" || rep[1][8] != "0" {
		t.Fatalf("expected clean ok run with zero parse failures, got %#v", rep[1])
	}
}
