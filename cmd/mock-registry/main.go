package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/openregistry/regpipe/pkg/mockregistry"
)

func main() {
	addr := defaultString("MOCK_REGISTRY_ADDR", ":8080")
	inputDir := defaultString("MOCK_REGISTRY_INPUT_DIR", "/data/sources")
	uploadDir := defaultString("MOCK_REGISTRY_UPLOAD_DIR", "/data/uploads")
	token := defaultString("MOCK_REGISTRY_TOKEN", "")

	fs := flag.NewFlagSet("mock-registry", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&inputDir, "input-dir", inputDir, "Directory containing <id>.json metadata and <id>.<ext> archives")
	fs.StringVar(&uploadDir, "upload-dir", uploadDir, "Directory to persist committed batches")
	fs.StringVar(&token, "token", token, "Require this bearer token on every request; empty disables auth (env: MOCK_REGISTRY_TOKEN)")
	_ = fs.Parse(os.Args[1:])

	srv := mockregistry.New(inputDir, uploadDir)
	if token != "" {
		srv.RequireBearerToken(token)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-registry listening on %s (input=%s upload=%s)\n", addr, inputDir, uploadDir)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
