// Package fetch downloads raw source archives and decompresses them.
package fetch

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/openregistry/regpipe/pkg/pipeline/core"
)

// httpClient is shared across downloads. Archives can be large, so the cap is
// generous; the per-task context enforces the real deadline.
var httpClient = &http.Client{Timeout: 10 * time.Minute}

// Download fetches the raw bytes behind a source URL.
//
// Rate limiting and server-side failures come back wrapped in
// core.TransientError so the worker pool retries them with backoff.
func Download(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("source url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return nil, &core.TransientError{Err: fmt.Errorf("download %s: status=%d", rawURL, resp.StatusCode)}
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("download %s: status=%d", rawURL, resp.StatusCode)
	}
	return b, nil
}

func classifyNetErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	return err
}

// Decompress returns an archive's payload bytes. A declared compression
// ("gzip", "zip" or empty) wins; with no declaration the magic bytes decide
// and unrecognized input passes through unchanged.
//
// member names the zip entry to extract; entries are matched by full path or
// base name. An empty member, or a member that names the archive itself, is
// acceptable only for single-entry archives.
func Decompress(b []byte, compression, member string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(compression)) {
	case "gzip":
		return gunzip(b)
	case "zip":
		return unzip(b, member)
	case "":
		if isGzip(b) {
			return gunzip(b)
		}
		if isZip(b) {
			return unzip(b, member)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func isZip(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04"))
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return out, nil
}

func unzip(b []byte, member string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	member = strings.TrimSpace(member)
	// A member carrying an archive extension names the archive, not an entry.
	if strings.HasSuffix(member, ".zip") || strings.HasSuffix(member, ".gz") {
		member = ""
	}

	var pick *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if member != "" && f.Name != member && path.Base(f.Name) != member {
			continue
		}
		if pick != nil {
			return nil, fmt.Errorf("zip has multiple entries; name the member to extract")
		}
		pick = f
	}
	if pick == nil {
		if member != "" {
			return nil, fmt.Errorf("zip member %q not found", member)
		}
		return nil, fmt.Errorf("zip has no file entries")
	}

	rc, err := pick.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip member %s: %w", pick.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read zip member %s: %w", pick.Name, err)
	}
	return out, nil
}
