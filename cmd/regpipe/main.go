package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/openregistry/regpipe/internal/app"
	"github.com/openregistry/regpipe/internal/version"
	"github.com/openregistry/regpipe/pkg/pipeline/addr"
	"github.com/openregistry/regpipe/pkg/pipeline/addr/gemini"
	"github.com/openregistry/regpipe/pkg/pipeline/io/local"
	"github.com/openregistry/regpipe/pkg/pipeline/io/parquet"
	"github.com/openregistry/regpipe/pkg/pipeline/io/sqlite"
	"github.com/openregistry/regpipe/pkg/pipeline/redact"
	"github.com/openregistry/regpipe/pkg/pipeline/source"
	"github.com/openregistry/regpipe/pkg/registry"
	"github.com/openregistry/regpipe/pkg/registry/poll"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "run":
		os.Exit(runLocal(ctx, os.Args[2:]))
	case "registry":
		os.Exit(runRegistry(ctx, os.Args[2:]))
	case "serve":
		os.Exit(runServe(ctx, os.Args[2:]))
	case "catalog":
		os.Exit(runCatalog(os.Args[2:]))
	case "version":
		fmt.Println(version.Current)
		return
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runLocal(ctx context.Context, args []string) int {
	optsEnv, err := loadOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	catalogPath := fs.String("catalog", envString("CATALOG", ""), "Catalog YAML path (env: CATALOG)")
	outDir := fs.String("out", envString("OUTPUT_DIR", "out"), "Output directory (env: OUTPUT_DIR)")
	sinkKind := fs.String("sink", envString("SINK", "csv"), "Output sink: csv, sqlite or parquet (env: SINK)")
	reportName := fs.String("report", "report.csv", "Report file name inside the output directory; empty disables")
	workers := fs.Int("workers", optsEnv.Workers, "Number of concurrent source workers (env: WORKERS)")
	maxRetries := fs.Int("max-retries", optsEnv.MaxRetries, "Max retries per source for transient failures (env: MAX_RETRIES)")
	taskTimeout := fs.Duration("task-timeout", optsEnv.TaskTimeout, "Per-source wall-clock budget (env: TASK_TIMEOUT)")
	rateLimitRPS := fs.Float64("rate-limit-rps", optsEnv.RateLimitRPS, "Global task-start rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	failFast := fs.Bool("fail-fast", optsEnv.FailFast, "Cancel the run on the first source failure (env: FAIL_FAST)")
	blankFill := fs.Bool("blank-fill", optsEnv.BlankFill, "Widen output to the standard label superset (env: BLANK_FILL)")
	parserKind := fs.String("parser", envString("PARSER", "rule"), "full_addr parser: none, rule or gemini (env: PARSER)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *catalogPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires -catalog")
		return 2
	}

	parser, err := newParser(ctx, *parserKind)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "parser config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	sink, err := newSink(ctx, *sinkKind, *outDir, *blankFill)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sink config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	reportPath := ""
	if *reportName != "" {
		reportPath = filepath.Join(*outDir, *reportName)
	}
	runErr := app.RunLocal(ctx, *catalogPath, reportPath, sink, app.Options{
		Workers:      *workers,
		MaxRetries:   *maxRetries,
		TaskTimeout:  *taskTimeout,
		RateLimitRPS: *rateLimitRPS,
		FailFast:     *failFast,
		Parser:       parser,
		BlankFill:    *blankFill,
	})
	if cerr := sink.Close(); runErr == nil {
		runErr = cerr
	}
	if runErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", redact.Secrets(runErr.Error()))
		return 1
	}
	return 0
}

func runRegistry(ctx context.Context, args []string) int {
	optsEnv, err := loadOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("registry", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	sources := fs.String("sources", "", "Comma-separated source ids; empty cleans the registry's full listing (env: REGISTRY_SOURCES)")
	workers := fs.Int("workers", optsEnv.Workers, "Number of concurrent source workers (env: WORKERS)")
	maxRetries := fs.Int("max-retries", optsEnv.MaxRetries, "Max retries per source for transient failures (env: MAX_RETRIES)")
	taskTimeout := fs.Duration("task-timeout", optsEnv.TaskTimeout, "Per-source wall-clock budget (env: TASK_TIMEOUT)")
	rateLimitRPS := fs.Float64("rate-limit-rps", optsEnv.RateLimitRPS, "Global task-start rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	failFast := fs.Bool("fail-fast", optsEnv.FailFast, "Cancel the run on the first source failure (env: FAIL_FAST)")
	blankFill := fs.Bool("blank-fill", optsEnv.BlankFill, "Widen published output to the standard label superset (env: BLANK_FILL)")
	parserKind := fs.String("parser", envString("PARSER", "rule"), "full_addr parser: none, rule or gemini (env: PARSER)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	env, err := registry.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "registry env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if *sources != "" {
		env.Sources = splitCSV(*sources)
	}

	parser, err := newParser(ctx, *parserKind)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "parser config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	if err := app.RunRegistry(ctx, env, app.Options{
		Workers:      *workers,
		MaxRetries:   *maxRetries,
		TaskTimeout:  *taskTimeout,
		RateLimitRPS: *rateLimitRPS,
		FailFast:     *failFast,
		Parser:       parser,
		BlankFill:    *blankFill,
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "registry run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	blankFill := fs.Bool("blank-fill", false, "Widen published output to the standard label superset (env: BLANK_FILL)")
	parserKind := fs.String("parser", envString("PARSER", "rule"), "full_addr parser: none, rule or gemini (env: PARSER)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok, err := poll.LoadConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "broker config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if !ok {
		_, _ = fmt.Fprintln(os.Stderr, "serve requires GET_JOB_URI and POST_RESULT_URI")
		return 2
	}
	env, err := registry.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "registry env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	parser, err := newParser(ctx, *parserKind)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "parser config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	opts := app.Options{Parser: parser, BlankFill: *blankFill}
	err = poll.RunLoop(ctx, cfg, func(ctx context.Context, job poll.Job) ([]byte, error) {
		payload, err := app.RunCleanJob(ctx, env, job, opts)
		if err != nil {
			return nil, err
		}
		return []byte(payload), nil
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "serve stopped: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runCatalog(args []string) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(os.Stderr, "catalog requires a subcommand: validate or show")
		return 2
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("catalog "+sub, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	path := fs.Arg(0)
	if path == "" {
		_, _ = fmt.Fprintf(os.Stderr, "catalog %s requires a catalog path\n", sub)
		return 2
	}

	switch sub {
	case "validate":
		cat, err := source.LoadCatalog(path)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "catalog invalid: %v\n", err)
			return 1
		}
		fmt.Printf("catalog ok: %d sources\n", len(cat.Sources))
		return 0
	case "show":
		cat, err := source.LoadCatalog(path)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "catalog invalid: %v\n", err)
			return 1
		}
		for i := range cat.Sources {
			d := &cat.Sources[i]
			where := d.File
			if d.URL != "" {
				where = d.URL
			}
			format := d.Format
			if format == "" {
				format = "auto"
			}
			fmt.Printf("%s\tformat=%s\tmappings=%d\t%s\n", d.ID, format, len(d.Fields)+len(d.Address), where)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown catalog subcommand: %s\n", sub)
		return 2
	}
}

func newParser(ctx context.Context, kind string) (addr.Parser, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "none":
		return nil, nil
	case "", "rule":
		return addr.NewRule(), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:   strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
			BaseURL: strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
		})
	}
	return nil, fmt.Errorf("unknown parser %q (want none, rule or gemini)", kind)
}

func newSink(ctx context.Context, kind, outDir string, blankFill bool) (app.Sink, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "csv":
		return local.NewCSVSink(outDir, blankFill), nil
	case "sqlite":
		return sqlite.Open(ctx, filepath.Join(outDir, "clean.db"))
	case "parquet":
		return parquet.NewSink(outDir, blankFill), nil
	}
	return nil, fmt.Errorf("unknown sink %q (want csv, sqlite or parquet)", kind)
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `regpipe: parse, clean and format address-data sources into labeled tabular output

Usage:
  regpipe <command> [flags]

Commands:
  run       Clean local catalog sources into an output directory
  registry  Clean a registry's sources and publish batches back
  serve     Poll a job broker for clean jobs (long-running)
  catalog   validate or show a catalog file
  version   Print the version

Examples:
  regpipe run -catalog sources.yml -out out -sink sqlite
  regpipe catalog validate sources.yml

Environment (registry/serve):
  REGISTRY_URL                Registry base URL (or REGISTRY_SERVICE_DISCOVERY)
  REGISTRY_SERVICE_DISCOVERY  File path to a service discovery YAML
  REGISTRY_TOKEN              File path containing a bearer token
  REGISTRY_CA_PATH            Optional PEM bundle to trust for TLS
  REGISTRY_SOURCES            Optional comma-separated source subset
  GET_JOB_URI                 Broker get-job endpoint (serve)
  POST_RESULT_URI             Broker post-result endpoint (serve)
  BROKER_AUTH_TOKEN           Broker token, value or file path (serve)

Environment (Gemini parser):
  GEMINI_API_KEY   Gemini API key (required for -parser gemini)
  GEMINI_MODEL     Gemini model name (required for -parser gemini)
  GEMINI_BASE_URL  Optional base URL override (proxies/testing)

`)
}

func loadOptionsFromEnv() (app.Options, error) {
	workers, err := envInt("WORKERS", 10)
	if err != nil {
		return app.Options{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 2)
	if err != nil {
		return app.Options{}, err
	}
	taskTimeout, err := envDuration("TASK_TIMEOUT", 2*time.Minute)
	if err != nil {
		return app.Options{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return app.Options{}, err
	}
	failFast, err := envBool("FAIL_FAST")
	if err != nil {
		return app.Options{}, err
	}
	blankFill, err := envBool("BLANK_FILL")
	if err != nil {
		return app.Options{}, err
	}

	return app.Options{
		Workers:      workers,
		MaxRetries:   maxRetries,
		TaskTimeout:  taskTimeout,
		RateLimitRPS: rateLimitRPS,
		FailFast:     failFast,
		BlankFill:    blankFill,
	}, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func envString(varName string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
