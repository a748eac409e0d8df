// Package registry is an HTTP client for source registries: services that
// hold raw source archives and their descriptor metadata, and accept cleaned
// output back under a batch/commit flow.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/openregistry/regpipe/pkg/pipeline/source"
)

// Client is a minimal HTTP client for the registry endpoints used by this module.
//
// Note: This is intentionally minimal to support local harness + smoke tests.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// NewClient constructs a client for a registry base URL.
//
// registryURL should look like "https://registry.example.org/api". A bare
// hostname is accepted and defaults to https.
//
// defaultCAPath is optional and, when provided, will be used as the trust store for TLS.
func NewClient(registryURL, token, defaultCAPath string) (*Client, error) {
	base, err := parseBaseURL(registryURL, "registry")
	if err != nil {
		return nil, err
	}

	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    hc,
	}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read REGISTRY_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse REGISTRY_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// SourceInfo identifies one source the registry can serve.
type SourceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listSourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// ListSources lists the sources known to the registry.
func (c *Client) ListSources(ctx context.Context) ([]SourceInfo, error) {
	u := c.resolve("v1/sources")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("listSources", resp, b)
	}

	var out listSourcesResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse list sources response: %w", err)
	}
	return out.Sources, nil
}

// GetSourceMetadata fetches the registry's metadata document for a source and
// translates it into a validated descriptor.
func (c *Client) GetSourceMetadata(ctx context.Context, sourceID string) (source.Descriptor, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return source.Descriptor{}, fmt.Errorf("source id is required")
	}

	u := c.resolve(fmt.Sprintf("v1/sources/%s/metadata", url.PathEscape(sourceID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return source.Descriptor{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return source.Descriptor{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return source.Descriptor{}, err
	}
	if resp.StatusCode/100 != 2 {
		return source.Descriptor{}, newHTTPError("getSourceMetadata", resp, b)
	}

	d, err := source.DescriptorFromMetadataJSON(b)
	if err != nil {
		return source.Descriptor{}, fmt.Errorf("source %s: %w", sourceID, err)
	}
	return d, nil
}

// DownloadArchive downloads the raw archive bytes for a source.
//
// The returned bytes may be gzip- or zip-compressed; callers are expected to
// sniff and decompress (see internal/fetch).
func (c *Client) DownloadArchive(ctx context.Context, sourceID string) ([]byte, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}

	u := c.resolve(fmt.Sprintf("v1/sources/%s/archive", url.PathEscape(sourceID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("downloadArchive", resp, b)
	}
	return b, nil
}

type createBatchRequest struct {
	Mode string `json:"mode"`
}

type createBatchResponse struct {
	ID string `json:"id"`

	// Legacy: some registries return batchId.
	BatchID string `json:"batchId"`
}

// CreateBatch opens an upload batch for a source and returns the batch id.
//
// Committed batches replace the source's published clean output, so re-running
// a clean is idempotent from the registry's point of view.
func (c *Client) CreateBatch(ctx context.Context, sourceID string) (string, error) {
	body := createBatchRequest{Mode: "replace"}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	u := c.resolve(fmt.Sprintf("v1/sources/%s/batches", url.PathEscape(sourceID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", newHTTPError("createBatch", resp, rb)
	}

	var out createBatchResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return "", fmt.Errorf("parse create batch response: %w", err)
	}

	batchID := strings.TrimSpace(out.ID)
	if batchID == "" {
		batchID = strings.TrimSpace(out.BatchID)
	}
	if batchID == "" {
		return "", fmt.Errorf("create batch response missing id")
	}
	return batchID, nil
}

// Batch describes one upload batch for a source.
type Batch struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	CreatedTime string  `json:"createdTime"`
	ClosedTime  *string `json:"closedTime,omitempty"`
}

type listBatchesResponse struct {
	Data          []Batch `json:"data"`
	NextPageToken string  `json:"nextPageToken"`
}

// ListBatches lists upload batches for a source, newest first.
func (c *Client) ListBatches(ctx context.Context, sourceID string, pageSize int, pageToken string) ([]Batch, string, error) {
	u := c.resolve(fmt.Sprintf("v1/sources/%s/batches", url.PathEscape(sourceID)))
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if strings.TrimSpace(pageToken) != "" {
		q.Set("pageToken", strings.TrimSpace(pageToken))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", newHTTPError("listBatches", resp, rb)
	}

	var out listBatchesResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return nil, "", fmt.Errorf("parse list batches response: %w", err)
	}
	return out.Data, strings.TrimSpace(out.NextPageToken), nil
}

// FindLatestOpenBatch returns the id of the most recent OPEN batch for the source.
//
// Registries return batches in reverse chronological order, so the first OPEN is the most recent.
func (c *Client) FindLatestOpenBatch(ctx context.Context, sourceID string) (string, bool, error) {
	pageToken := ""
	for i := 0; i < 5; i++ {
		batches, next, err := c.ListBatches(ctx, sourceID, 100, pageToken)
		if err != nil {
			return "", false, err
		}
		for _, b := range batches {
			if strings.EqualFold(strings.TrimSpace(b.Status), "OPEN") && strings.TrimSpace(b.ID) != "" {
				return strings.TrimSpace(b.ID), true, nil
			}
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return "", false, nil
}

// UploadClean uploads one cleaned output file into a batch.
func (c *Client) UploadClean(ctx context.Context, sourceID, batchID, filePath string, contentType string, b []byte) error {
	escaped := escapeURLPath(filePath)
	u := c.resolve(fmt.Sprintf(
		"v1/sources/%s/batches/%s/files/%s",
		url.PathEscape(sourceID),
		url.PathEscape(batchID),
		escaped,
	))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError("uploadClean", resp, rb)
	}
	return nil
}

// CommitBatch commits a batch, replacing the source's published clean output.
func (c *Client) CommitBatch(ctx context.Context, sourceID, batchID string) error {
	u := c.resolve(fmt.Sprintf(
		"v1/sources/%s/batches/%s/commit",
		url.PathEscape(sourceID),
		url.PathEscape(batchID),
	))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError("commitBatch", resp, rb)
	}
	return nil
}

// File is one cleaned output file to publish.
type File struct {
	Path        string
	ContentType string
	Bytes       []byte
}

// Publish uploads the given files under a single batch and commits it.
// Returns the committed batch id.
func (c *Client) Publish(ctx context.Context, sourceID string, files []File) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("publish: no files")
	}

	batchID, err := c.CreateBatch(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	for _, f := range files {
		if err := c.UploadClean(ctx, sourceID, batchID, f.Path, f.ContentType, f.Bytes); err != nil {
			return "", fmt.Errorf("upload %s: %w", f.Path, err)
		}
	}
	if err := c.CommitBatch(ctx, sourceID, batchID); err != nil {
		return "", fmt.Errorf("commit batch: %w", err)
	}
	return batchID, nil
}

// ReadClean reads a published clean file back from the registry.
func (c *Client) ReadClean(ctx context.Context, sourceID, filePath string) ([]byte, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}

	u := c.resolve(fmt.Sprintf(
		"v1/sources/%s/clean/%s",
		url.PathEscape(sourceID),
		escapeURLPath(filePath),
	))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("readClean", resp, b)
	}
	return b, nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}

func escapeURLPath(p string) string {
	// Preserve "/" separators while escaping each segment.
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." {
		return ""
	}
	parts := strings.Split(cleaned, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
