package template

import (
	"context"
	"testing"

	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"github.com/openregistry/regpipe/pkg/pipeline/worker"
	"github.com/openregistry/regpipe/test/template/processor"
)

func TestTemplateCompilesWithPipelineKit(t *testing.T) {
	t.Parallel()

	p := processor.Processor{}
	runner := core.ProcessFunc[string, processor.Result](p.Process)

	out, err := worker.ProcessAll(context.Background(), []string{"  Acme  Widgets  Ltd. "}, runner.Process, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(out) != 1 || out[0].Output.Output != "acme widgets ltd." {
		t.Fatalf("unexpected output: %#v", out)
	}
}
