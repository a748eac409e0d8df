package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/redact"
)

// errorEnvelope is the JSON error shape used by registry APIs.
// Registries may include additional fields; we intentionally ignore them.
type errorEnvelope struct {
	Code      string `json:"code"`
	Name      string `json:"error"`
	RequestID string `json:"requestId"`
}

// HTTPError is a sanitized summary of a non-2xx registry API response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Name       string
	Code       string
	RequestID  string

	// Snippet is a redacted, truncated hint for non-envelope responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "registry http error"
	}
	parts := []string{
		fmt.Sprintf("registry api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Name) != "" {
		parts = append(parts, "error="+strings.TrimSpace(e.Name))
	}
	if strings.TrimSpace(e.Code) != "" {
		parts = append(parts, "code="+strings.TrimSpace(e.Code))
	}
	if strings.TrimSpace(e.RequestID) != "" {
		parts = append(parts, "request="+strings.TrimSpace(e.RequestID))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{
		Op:         op,
		StatusCode: 0,
		Status:     "",
	}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse the error envelope.
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.Name = strings.TrimSpace(env.Name)
		h.Code = strings.TrimSpace(env.Code)
		h.RequestID = strings.TrimSpace(env.RequestID)
		if h.Name != "" || h.Code != "" || h.RequestID != "" {
			return h
		}
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
