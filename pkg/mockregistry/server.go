// Package mockregistry implements an in-memory source registry for
// integration tests and local harness use.
package mockregistry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a source batch.
type Upload struct {
	SourceID string
	BatchID  string
	FilePath string
	Bytes    []byte
}

// Server implements a minimal registry API surface.
//
// Sources come from two places: AddSource registrations (tests) and the input
// directory (local harness), where <id>.json holds metadata and <id>.<ext>
// holds the raw archive.
type Server struct {
	inputDir  string
	uploadDir string

	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	sources map[string]sourceEntry

	expectedAuthorization string

	nextBatch int
	batches   map[string]batchState

	// clean stores the last committed clean files per source id.
	// This allows read-after-write flows via the same clean endpoint.
	clean map[string]map[string][]byte
}

type sourceEntry struct {
	metadata []byte
	archive  []byte
}

type batchState struct {
	sourceID    string
	committed   bool
	createdTime string
	closedTime  string

	// files are staged uploads for the batch keyed by file path.
	files map[string][]byte
}

// New constructs a new mock server.
func New(inputDir, uploadDir string) *Server {
	return &Server{
		inputDir:  inputDir,
		uploadDir: uploadDir,
		sources:   make(map[string]sourceEntry),
		nextBatch: 1,
		batches:   make(map[string]batchState),
		clean:     make(map[string]map[string][]byte),
	}
}

// AddSource registers an in-memory source with its metadata document and raw
// archive bytes. It replaces any prior registration for the same id.
func (s *Server) AddSource(id string, metadata, archive []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[id] = sourceEntry{
		metadata: append([]byte(nil), metadata...),
		archive:  append([]byte(nil), archive...),
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sources", s.handleListSources)
	mux.HandleFunc("/api/v1/sources/", s.handleSources)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

// writeError emits the JSON error envelope registry clients parse.
func writeError(w http.ResponseWriter, status int, name string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": name,
		"code":  fmt.Sprintf("REG-%d", status),
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}

	ids := make(map[string]bool)
	s.mu.Lock()
	for id := range s.sources {
		ids[id] = true
	}
	s.mu.Unlock()

	if entries, err := os.ReadDir(s.inputDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasSuffix(name, ".json") {
				ids[strings.TrimSuffix(name, ".json")] = true
			}
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	type sourceInfo struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := struct {
		Sources []sourceInfo `json:"sources"`
	}{Sources: make([]sourceInfo, 0, len(sorted))}
	for _, id := range sorted {
		out.Sources = append(out.Sources, sourceInfo{ID: id, Name: id})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	// /api/v1/sources/{id}/metadata
	// /api/v1/sources/{id}/archive
	// /api/v1/sources/{id}/batches
	// /api/v1/sources/{id}/batches/{batch}/files/{path...}
	// /api/v1/sources/{id}/batches/{batch}/commit
	// /api/v1/sources/{id}/clean/{path...}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sources/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NotFound")
		return
	}
	id := parts[0]
	if !isSafeToken(id) {
		writeError(w, http.StatusBadRequest, "InvalidSourceID")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "metadata":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
				return
			}
			s.serveMetadata(w, id)
			return
		case "archive":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
				return
			}
			s.serveArchive(w, id)
			return
		case "batches":
			switch r.Method {
			case http.MethodPost:
				s.handleCreateBatch(w, id)
			case http.MethodGet:
				s.handleListBatches(w, id)
			default:
				writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
			}
			return
		}
	}

	if len(parts) >= 3 && parts[1] == "clean" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
			return
		}
		filePath := strings.Join(parts[2:], "/")
		if !isSafeFilePath(filePath) {
			writeError(w, http.StatusBadRequest, "InvalidFilePath")
			return
		}
		s.serveClean(w, id, filePath)
		return
	}

	if len(parts) == 4 && parts[1] == "batches" && parts[3] == "commit" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
			return
		}
		batchID := parts[2]
		if !isSafeToken(batchID) {
			writeError(w, http.StatusBadRequest, "InvalidBatchID")
			return
		}
		s.handleCommit(w, id, batchID)
		return
	}

	if len(parts) >= 5 && parts[1] == "batches" && parts[3] == "files" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
			return
		}
		batchID := parts[2]
		if !isSafeToken(batchID) {
			writeError(w, http.StatusBadRequest, "InvalidBatchID")
			return
		}
		filePath := strings.Join(parts[4:], "/")
		if !isSafeFilePath(filePath) {
			writeError(w, http.StatusBadRequest, "InvalidFilePath")
			return
		}
		s.handleUpload(w, r, id, batchID, filePath)
		return
	}

	writeError(w, http.StatusNotFound, "NotFound")
}

func (s *Server) serveMetadata(w http.ResponseWriter, id string) {
	s.mu.Lock()
	entry, ok := s.sources[id]
	s.mu.Unlock()
	if ok && len(entry.metadata) > 0 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(entry.metadata)
		return
	}

	b, err := os.ReadFile(filepath.Join(s.inputDir, id+".json"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SourceNotFound")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// archiveExts is the probe order for on-disk archives in the input directory.
var archiveExts = []string{".csv", ".tsv", ".txt", ".xml", ".csv.gz", ".xml.gz", ".gz", ".zip"}

func (s *Server) serveArchive(w http.ResponseWriter, id string) {
	s.mu.Lock()
	entry, ok := s.sources[id]
	s.mu.Unlock()
	if ok && len(entry.archive) > 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(entry.archive)
		return
	}

	for _, ext := range archiveExts {
		b, err := os.ReadFile(filepath.Join(s.inputDir, id+ext))
		if err != nil {
			continue
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(b)
		return
	}
	writeError(w, http.StatusNotFound, "SourceNotFound")
}

func (s *Server) serveClean(w http.ResponseWriter, id, filePath string) {
	s.mu.Lock()
	files, ok := s.clean[id]
	var b []byte
	if ok {
		b = files[filePath]
	}
	s.mu.Unlock()
	if len(b) > 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(b)
		return
	}

	// If the server restarted, allow committed clean files to be reloaded from disk.
	p := filepath.Join(s.uploadDir, id, "_clean", filepath.FromSlash(filePath))
	disk, err := os.ReadFile(p)
	if err != nil || len(disk) == 0 {
		writeError(w, http.StatusNotFound, "CleanFileNotFound")
		return
	}
	s.mu.Lock()
	if s.clean[id] == nil {
		s.clean[id] = make(map[string][]byte)
	}
	s.clean[id][filePath] = disk
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(disk)
}

type createBatchResp struct {
	ID string `json:"id"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, sourceID string) {
	s.mu.Lock()
	batchID := fmt.Sprintf("batch-%06d", s.nextBatch)
	s.nextBatch++
	s.batches[batchID] = batchState{
		sourceID:    sourceID,
		createdTime: time.Now().UTC().Format(time.RFC3339),
		files:       make(map[string][]byte),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(createBatchResp{ID: batchID})
}

type batchInfo struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	CreatedTime string  `json:"createdTime"`
	ClosedTime  *string `json:"closedTime,omitempty"`
}

func (s *Server) handleListBatches(w http.ResponseWriter, sourceID string) {
	s.mu.Lock()
	var out []batchInfo
	for id, b := range s.batches {
		if b.sourceID != sourceID {
			continue
		}
		info := batchInfo{ID: id, Status: "OPEN", CreatedTime: b.createdTime}
		if b.committed {
			info.Status = "COMMITTED"
			closed := b.closedTime
			info.ClosedTime = &closed
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	// Batch ids are zero-padded, so lexicographic descending is newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Data          []batchInfo `json:"data"`
		NextPageToken string      `json:"nextPageToken"`
	}{Data: out})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sourceID, batchID, filePath string) {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	s.mu.Unlock()
	if !ok || batch.sourceID != sourceID {
		writeError(w, http.StatusNotFound, "BatchNotFound")
		return
	}
	if batch.committed {
		writeError(w, http.StatusConflict, "BatchAlreadyCommitted")
		return
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ReadBody")
		return
	}

	dst := filepath.Join(s.uploadDir, sourceID, batchID, filepath.FromSlash(filePath))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		writeError(w, http.StatusInternalServerError, "MkdirUploadDir")
		return
	}
	if err := os.WriteFile(dst, b, 0644); err != nil {
		writeError(w, http.StatusInternalServerError, "WriteUpload")
		return
	}

	s.mu.Lock()
	// Re-check state to avoid accepting uploads after commit in racy scenarios.
	batch, ok = s.batches[batchID]
	if !ok || batch.sourceID != sourceID {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "BatchNotFound")
		return
	}
	if batch.committed {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "BatchAlreadyCommitted")
		return
	}
	if batch.files == nil {
		batch.files = make(map[string][]byte)
	}
	batch.files[filePath] = b
	s.batches[batchID] = batch

	s.uploads = append(s.uploads, Upload{
		SourceID: sourceID,
		BatchID:  batchID,
		FilePath: filePath,
		Bytes:    b,
	})
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCommit(w http.ResponseWriter, sourceID, batchID string) {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	if !ok || batch.sourceID != sourceID {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "BatchNotFound")
		return
	}
	if batch.committed {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "BatchAlreadyCommitted")
		return
	}
	if len(batch.files) == 0 {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "EmptyBatch")
		return
	}

	files := make(map[string][]byte, len(batch.files))
	for p, b := range batch.files {
		files[p] = append([]byte(nil), b...)
	}
	s.mu.Unlock()

	// Persist committed clean files so downstream consumers can read them
	// via the clean endpoint even after a restart.
	for p, b := range files {
		dst := filepath.Join(s.uploadDir, sourceID, "_clean", filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			writeError(w, http.StatusInternalServerError, "MkdirCleanDir")
			return
		}
		if err := os.WriteFile(dst, b, 0644); err != nil {
			writeError(w, http.StatusInternalServerError, "WriteCleanFile")
			return
		}
	}

	s.mu.Lock()
	// Re-check state after filesystem writes.
	batch, ok = s.batches[batchID]
	if !ok || batch.sourceID != sourceID {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "BatchNotFound")
		return
	}
	if batch.committed {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "BatchAlreadyCommitted")
		return
	}
	batch.committed = true
	batch.closedTime = time.Now().UTC().Format(time.RFC3339)
	s.batches[batchID] = batch
	// Committed batches replace the source's clean output wholesale.
	s.clean[sourceID] = files
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"committed"}`))
}

func isSafeToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func isSafeFilePath(p string) bool {
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
