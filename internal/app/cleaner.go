// Package app orchestrates clean runs: catalog-driven local runs that
// write to sinks, and registry-driven runs that publish cleaned output
// back under a batch/commit flow.
package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openregistry/regpipe/internal/fetch"
	"github.com/openregistry/regpipe/internal/preproc"
	"github.com/openregistry/regpipe/internal/report"
	"github.com/openregistry/regpipe/pkg/pipeline/addr"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/encoding"
	"github.com/openregistry/regpipe/pkg/pipeline/formatter"
	"github.com/openregistry/regpipe/pkg/pipeline/schema"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
	"github.com/openregistry/regpipe/pkg/pipeline/worker"
	"github.com/openregistry/regpipe/pkg/registry"
	"github.com/openregistry/regpipe/pkg/registry/poll"
)

const encodingCacheSize = 128

// Options carries the run knobs shared by every mode.
type Options struct {
	Workers      int
	MaxRetries   int
	TaskTimeout  time.Duration
	RateLimitRPS float64
	FailFast     bool

	// RetryBound and Tolerance tune the per-record repair loop; zero
	// values take the formatter defaults.
	RetryBound int
	Tolerance  int

	// Parser splits mapped full_addr columns; nil passes them through.
	Parser addr.Parser

	// BlankFill widens output to the standard label superset so files
	// from different sources share one column layout.
	BlankFill bool
}

func (o Options) workerOptions() worker.Options {
	policy := worker.FailurePolicyPartialOutput
	if o.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	return worker.Options{
		Workers:           o.Workers,
		MaxRetries:        o.MaxRetries,
		TaskTimeout:       o.TaskTimeout,
		RateLimitRPS:      o.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

func (o Options) formatter() *formatter.Formatter {
	return formatter.New(formatter.Config{
		RetryBound: o.RetryBound,
		Tolerance:  o.Tolerance,
		Parser:     o.Parser,
		Cache:      encoding.NewCache(encodingCacheSize),
	})
}

// Sink consumes cleaned source results. Write is called once per source
// from a single goroutine, in completion order.
type Sink interface {
	Write(ctx context.Context, res *formatter.Result) error
	Close() error
}

// outcome carries one task's result and its wall-clock cost. res stays
// nil when the source failed before producing output; batchID is set
// only after a successful registry publish.
type outcome struct {
	res     *formatter.Result
	batchID string
	elapsed time.Duration
}

func newRunLogf() (string, func(string, ...any)) {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	runID := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
	logf := func(format string, args ...any) {
		prefix := make([]any, 0, len(args)+1)
		prefix = append(prefix, runID)
		prefix = append(prefix, args...)
		logger.Printf("run=%s "+format, prefix...)
	}
	return runID, logf
}

// RunLocal cleans every catalog source into sink and writes the run
// report to reportPath (skipped when empty). Relative source files
// resolve against the catalog's directory.
func RunLocal(ctx context.Context, catalogPath, reportPath string, sink Sink, opts Options) error {
	_, logf := newRunLogf()
	runStart := time.Now()

	cat, err := source.LoadCatalog(catalogPath)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(catalogPath)
	logf(
		"local run start: catalog=%s sources=%d workers=%d maxRetries=%d timeout=%s rateLimitRPS=%g failFast=%t",
		catalogPath,
		len(cat.Sources),
		opts.Workers,
		opts.MaxRetries,
		opts.TaskTimeout,
		opts.RateLimitRPS,
		opts.FailFast,
	)

	f := opts.formatter()
	descs := make([]*source.Descriptor, len(cat.Sources))
	for i := range cat.Sources {
		descs[i] = &cat.Sources[i]
	}

	task := func(ctx context.Context, d *source.Descriptor) (*outcome, error) {
		start := time.Now()
		out := &outcome{}
		defer func() { out.elapsed = time.Since(start) }()
		res, err := cleanLocalSource(ctx, f, baseDir, d)
		out.res = res
		return out, err
	}
	onResult := func(r worker.Result[*source.Descriptor, *outcome]) error {
		return consumeResult(ctx, sink, logf, r.Input.ID, r.Output, r.Err)
	}

	results, err := worker.ProcessAllWithCallback(ctx, descs, task, onResult, opts.workerOptions())
	if err != nil {
		return err
	}

	rows := make([]report.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, report.FromResult(r.Input.ID, r.Output.res, r.Err, r.Output.elapsed))
	}
	if reportPath != "" {
		if err := writeReportFile(reportPath, rows); err != nil {
			return err
		}
		logf("report written: path=%s rows=%d", reportPath, len(rows))
	}

	ok, partial, failed := report.Totals(rows)
	logf(
		"local run complete: sources=%d ok=%d partial=%d failed=%d totalDuration=%s",
		len(rows),
		ok,
		partial,
		failed,
		time.Since(runStart).Round(time.Millisecond),
	)
	if ok == 0 && partial == 0 && len(rows) > 0 {
		return fmt.Errorf("all %d sources failed", len(rows))
	}
	return nil
}

// consumeResult writes one completed source to the sink and logs its
// outcome. Timed-out sources keep their partial records; anything else
// that failed produces no output.
func consumeResult(ctx context.Context, sink Sink, logf func(string, ...any), id string, out *outcome, taskErr error) error {
	if out == nil {
		// The run was canceled before this task started.
		out = &outcome{}
	}
	row := report.FromResult(id, out.res, taskErr, out.elapsed)
	switch row.Status {
	case report.StatusOK:
		if err := sink.Write(ctx, out.res); err != nil {
			return fmt.Errorf("write %s: %w", id, err)
		}
		logf(
			"source cleaned: id=%s format=%s encoding=%s accepted=%d rejected=%d repaired=%d droppedFields=%d parseFailures=%d in %s",
			id,
			row.Format,
			row.Encoding,
			row.Accepted,
			row.Rejected,
			row.Repaired,
			row.DroppedFields,
			row.ParseFailures,
			out.elapsed.Round(time.Millisecond),
		)
	case report.StatusPartial:
		if err := sink.Write(ctx, out.res); err != nil {
			return fmt.Errorf("write %s: %w", id, err)
		}
		logf("source timed out with partial output: id=%s accepted=%d error=%q", id, row.Accepted, row.Error)
	default:
		logf("source failed: id=%s error=%q", id, row.Error)
	}
	return nil
}

// RunRegistry cleans sources held by a registry and publishes each
// source's output back as a committed batch. The source set is the
// registry's full listing unless env.Sources narrows it. Timed-out
// sources are reported partial and not published; a truncated file must
// never replace a source's previous clean output.
func RunRegistry(ctx context.Context, env registry.Env, opts Options) error {
	_, logf := newRunLogf()
	runStart := time.Now()

	client, err := registry.NewClient(env.Services.API, env.Token, env.DefaultCAPath)
	if err != nil {
		return err
	}

	ids := env.Sources
	if len(ids) == 0 {
		listStart := time.Now()
		infos, err := client.ListSources(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
		logf("listed %d sources in %s", len(ids), time.Since(listStart).Round(time.Millisecond))
	} else {
		logf("sources pinned by REGISTRY_SOURCES: %d", len(ids))
	}
	logf(
		"registry run start: registry=%s sources=%d workers=%d maxRetries=%d timeout=%s rateLimitRPS=%g failFast=%t blankFill=%t",
		env.Services.API,
		len(ids),
		opts.Workers,
		opts.MaxRetries,
		opts.TaskTimeout,
		opts.RateLimitRPS,
		opts.FailFast,
		opts.BlankFill,
	)

	f := opts.formatter()
	task := func(ctx context.Context, id string) (*outcome, error) {
		return cleanAndPublish(ctx, client, f, id, opts.BlankFill)
	}
	onResult := func(r worker.Result[string, *outcome]) error {
		out := r.Output
		if out == nil {
			out = &outcome{}
		}
		row := report.FromResult(r.Input, out.res, r.Err, out.elapsed)
		switch row.Status {
		case report.StatusOK:
			logf(
				"source published: id=%s batch=%s accepted=%d rejected=%d repaired=%d in %s",
				r.Input,
				out.batchID,
				row.Accepted,
				row.Rejected,
				row.Repaired,
				out.elapsed.Round(time.Millisecond),
			)
		case report.StatusPartial:
			logf("source timed out, not published: id=%s accepted=%d error=%q", r.Input, row.Accepted, row.Error)
		default:
			logf("source failed: id=%s error=%q", r.Input, row.Error)
		}
		return nil
	}

	results, err := worker.ProcessAllWithCallback(ctx, ids, task, onResult, opts.workerOptions())
	if err != nil {
		return err
	}

	rows := make([]report.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, report.FromResult(r.Input, r.Output.res, r.Err, r.Output.elapsed))
	}
	ok, partial, failed := report.Totals(rows)
	logf(
		"registry run complete: sources=%d ok=%d partial=%d failed=%d totalDuration=%s",
		len(rows),
		ok,
		partial,
		failed,
		time.Since(runStart).Round(time.Millisecond),
	)
	if ok == 0 && len(rows) > 0 {
		return fmt.Errorf("all %d sources failed", len(rows))
	}
	return nil
}

// jobResult is the payload posted back to the broker for a finished job.
type jobResult struct {
	SourceID string `json:"sourceId"`
	BatchID  string `json:"batchId"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
}

// RunCleanJob cleans one registry source on behalf of a broker job and
// publishes the output. The returned payload is the broker result body.
// A job-scoped auth token takes precedence over the environment token.
func RunCleanJob(ctx context.Context, env registry.Env, job poll.Job, opts Options) (string, error) {
	token := env.Token
	if job.AuthToken != "" {
		token = job.AuthToken
	}
	client, err := registry.NewClient(env.Services.API, token, env.DefaultCAPath)
	if err != nil {
		return "", err
	}

	out, err := cleanAndPublish(ctx, client, opts.formatter(), job.SourceID, opts.BlankFill)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(jobResult{
		SourceID: job.SourceID,
		BatchID:  out.batchID,
		Accepted: out.res.Summary.Accepted,
		Rejected: out.res.Summary.Rejected,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// cleanAndPublish runs the full path for one registry source: metadata,
// archive, clean, then a batch carrying the cleaned CSV and its report
// row.
func cleanAndPublish(ctx context.Context, client *registry.Client, f *formatter.Formatter, id string, blankFill bool) (*outcome, error) {
	start := time.Now()
	out := &outcome{}
	defer func() { out.elapsed = time.Since(start) }()

	desc, err := client.GetSourceMetadata(ctx, id)
	if err != nil {
		return out, classifyRegistryErr(err)
	}
	raw, err := client.DownloadArchive(ctx, id)
	if err != nil {
		return out, classifyRegistryErr(err)
	}
	res, err := cleanBytes(ctx, f, &desc, raw)
	out.res = res
	if err != nil {
		return out, err
	}

	cleanCSV, err := marshalCSV(res, blankFill)
	if err != nil {
		return out, err
	}
	rowJSON, err := json.Marshal(report.FromResult(id, res, nil, time.Since(start)))
	if err != nil {
		return out, err
	}
	batchID, err := client.Publish(ctx, id, []registry.File{
		{Path: id + ".csv", ContentType: "text/csv", Bytes: cleanCSV},
		{Path: id + ".report.json", ContentType: "application/json", Bytes: rowJSON},
	})
	if err != nil {
		return out, classifyRegistryErr(err)
	}
	out.batchID = batchID
	return out, nil
}

// cleanLocalSource loads one catalog source's bytes, from disk or over
// HTTP, and runs the clean loop.
func cleanLocalSource(ctx context.Context, f *formatter.Formatter, baseDir string, d *source.Descriptor) (*formatter.Result, error) {
	var raw []byte
	var err error
	if d.URL != "" {
		raw, err = fetch.Download(ctx, d.URL)
	} else {
		raw, err = os.ReadFile(filepath.Join(baseDir, d.File))
		if err != nil {
			err = &core.IOError{Op: "read " + d.File, Err: err}
		}
	}
	if err != nil {
		return nil, err
	}
	return cleanBytes(ctx, f, d, raw)
}

// cleanBytes decompresses, preprocesses and formats one source's raw
// bytes.
func cleanBytes(ctx context.Context, f *formatter.Formatter, d *source.Descriptor, raw []byte) (*formatter.Result, error) {
	data, err := fetch.Decompress(raw, d.Compression, d.File)
	if err != nil {
		return nil, err
	}
	data, err = preproc.Run(ctx, d.Preprocess, data)
	if err != nil {
		return nil, err
	}
	return f.Run(ctx, d, data)
}

// marshalCSV renders cleaned records, optionally widened to the
// standard label superset.
func marshalCSV(res *formatter.Result, blankFill bool) ([]byte, error) {
	labels := res.Labels
	if blankFill {
		labels = schema.Widen(labels)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(labels.Names()); err != nil {
		return nil, err
	}
	for _, rec := range res.Records {
		if err := w.Write(labels.Project(rec)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// classifyRegistryErr marks retryable registry failures so the pool's
// backoff applies: throttling and server-side errors are transient,
// other 4xx responses are not.
func classifyRegistryErr(err error) error {
	if err == nil {
		return nil
	}
	var he *registry.HTTPError
	if errors.As(err, &he) && (he.StatusCode == http.StatusTooManyRequests || he.StatusCode/100 == 5) {
		return &core.TransientError{Err: err}
	}
	return err
}

func writeReportFile(path string, rows []report.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	if err := report.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
