// Package poll long-polls a registry job broker for clean jobs and posts
// results back. It backs the serve subcommand.
package poll

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/openregistry/regpipe/pkg/pipeline/redact"
)

type cleanJobEnvelope struct {
	CleanJobV1 Job `json:"cleanJobV1"`
}

// Job represents one clean job handed out by a registry job broker.
type Job struct {
	JobID    string          `json:"jobId"`
	SourceID string          `json:"sourceId"`
	Params   json.RawMessage `json:"params"`

	// AuthToken, when set, scopes registry access for this job only.
	AuthToken string `json:"authToken"`
}

// Config controls job-broker polling.
type Config struct {
	GetJobURI       string
	PostResultURI   string
	BrokerAuthToken string
	DefaultCAPath   string
}

// LoadConfigFromEnv reads broker polling config. Returns ok=false when the
// broker URIs are not set, meaning serve mode is not configured.
func LoadConfigFromEnv() (Config, bool, error) {
	getJob, err := normalizeLocalhostURI(strings.TrimSpace(os.Getenv("GET_JOB_URI")))
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid GET_JOB_URI: %w", err)
	}
	postRes, err := normalizeLocalhostURI(strings.TrimSpace(os.Getenv("POST_RESULT_URI")))
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid POST_RESULT_URI: %w", err)
	}
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}

	brokerTok, err := readValueOrFile(strings.TrimSpace(os.Getenv("BROKER_AUTH_TOKEN")), "BROKER_AUTH_TOKEN")
	if err != nil {
		return Config{}, false, err
	}
	if strings.TrimSpace(brokerTok) == "" {
		return Config{}, false, fmt.Errorf("BROKER_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	return Config{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		BrokerAuthToken: brokerTok,
		DefaultCAPath:   strings.TrimSpace(os.Getenv("BROKER_CA_PATH")),
	}, true, nil
}

func normalizeLocalhostURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	// Brokers commonly run as localhost sidecars. Go may resolve "localhost" to
	// ::1 first, but sidecars often bind only to IPv4 loopback. Force IPv4 to
	// avoid flapping with connection refused.
	host := strings.TrimSpace(u.Hostname())
	if host == "localhost" || host == "::1" {
		port := strings.TrimSpace(u.Port())
		if port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// RunLoop polls the job broker and acknowledges jobs until ctx is canceled.
//
// handleJob runs one clean job and returns the result payload to post back.
// A handleJob error is reported to the broker, not returned; only ctx
// cancellation ends the loop.
func RunLoop(ctx context.Context, cfg Config, handleJob func(context.Context, Job) ([]byte, error)) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	hc, err := newHTTPClient(cfg.DefaultCAPath)
	if err != nil {
		return err
	}

	logger.Printf("job broker polling enabled; GET_JOB_URI=%s", cfg.GetJobURI)

	sleep := 500 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := getNextJob(ctx, hc, cfg.GetJobURI, cfg.BrokerAuthToken)
		if err != nil {
			logger.Printf("job broker: get job failed: %s", redact.Secrets(err.Error()))
			time.Sleep(sleep)
			if sleep < 5*time.Second {
				sleep *= 2
			}
			continue
		}
		sleep = 500 * time.Millisecond
		if !ok {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			logger.Printf("job broker: received job without jobId; skipping")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		logger.Printf("job broker: received jobId=%s sourceId=%s", jobID, strings.TrimSpace(job.SourceID))
		result, jobErr := handleJob(ctx, job)
		if jobErr != nil {
			logger.Printf("job broker: jobId=%s failed: %s", jobID, redact.Secrets(jobErr.Error()))
			if len(result) == 0 {
				result = []byte(redact.Secrets(jobErr.Error()))
			}
		} else if len(result) == 0 {
			result = []byte("ok")
		}

		if err := postResult(ctx, hc, cfg.PostResultURI, cfg.BrokerAuthToken, jobID, result); err != nil {
			logger.Printf("job broker: post result failed for jobId=%s: %s", jobID, redact.Secrets(err.Error()))
			for i := 0; i < 5; i++ {
				time.Sleep(time.Duration(i+1) * time.Second)
				if err := postResult(ctx, hc, cfg.PostResultURI, cfg.BrokerAuthToken, jobID, result); err == nil {
					break
				}
			}
		}
	}
}

func newHTTPClient(caPath string) (*http.Client, error) {
	if strings.TrimSpace(caPath) == "" {
		return &http.Client{Timeout: 30 * time.Second}, nil
	}
	b, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read BROKER_CA_PATH: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(b); !ok {
		return nil, fmt.Errorf("parse BROKER_CA_PATH PEM: no certs found")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

func getNextJob(ctx context.Context, hc *http.Client, getJobURI, brokerAuthToken string) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getJobURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Broker-Auth-Token", brokerAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var env cleanJobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w (body=%s)", err, strings.TrimSpace(string(b)))
	}
	return env.CleanJobV1, true, nil
}

func postResult(ctx context.Context, hc *http.Client, postResultURI, brokerAuthToken, jobID string, result []byte) error {
	base := strings.TrimRight(strings.TrimSpace(postResultURI), "/")
	u := base + "/" + path.Clean("/"+jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Broker-Auth-Token", brokerAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func readValueOrFile(v string, varName string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if strings.Contains(v, "\n") || strings.Contains(v, "\r") {
		return strings.TrimSpace(v), nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", varName, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}
