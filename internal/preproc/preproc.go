// Package preproc runs a source's preprocessing command: an argv invoked once
// per task with the raw bytes on stdin and the rewritten bytes expected on
// stdout. The command is opaque to the pipeline; it either produces output or
// fails the task.
package preproc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/redact"
)

// Run executes argv with in on stdin and returns its stdout. An empty argv is
// a no-op. Any failure (unrunnable command, non-zero exit, context cancel)
// comes back as a core.PreprocessingError that aborts the owning task.
func Run(ctx context.Context, argv []string, in []byte) ([]byte, error) {
	if len(argv) == 0 {
		return in, nil
	}
	name := strings.TrimSpace(argv[0])
	if name == "" {
		return nil, &core.PreprocessingError{Cmd: strings.Join(argv, " "), Err: fmt.Errorf("empty command")}
	}

	cmd := exec.CommandContext(ctx, name, argv[1:]...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := summarizeStderr(stderr.Bytes()); msg != "" {
			err = fmt.Errorf("%v (stderr: %s)", err, msg)
		}
		return nil, &core.PreprocessingError{Cmd: strings.Join(argv, " "), Err: err}
	}
	return stdout.Bytes(), nil
}

// summarizeStderr keeps a small, single-line, redacted hint of the command's
// stderr for the task report.
func summarizeStderr(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	const max = 256
	trunc := len(b) > max
	if trunc {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if trunc {
		return s + "..."
	}
	return s
}
