package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/devsecflow/secpipe/pkg/invoker"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/pipeline"
	"github.com/devsecflow/secpipe/pkg/report"
)

// deployScanTarget provisions the ephemeral container/network pair the
// dynamic scan probes. The release is registered on the run context the
// moment provisioning succeeds, so teardown happens on every exit path.
func (d *Dependencies) deployScanTarget(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	cfg := d.Config.Deploy
	if cfg.Image == "" {
		cfg.Image = d.Config.ImageTag
	}

	resource, err := d.Guard.Provision(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to provision scan target: %w", err)
	}

	rc.Defer("scan_target", resource.Release)
	rc.AppURL = resource.URL

	return nil, nil
}

// dast runs the baseline dynamic scan against the deployed target and
// stores the HTML report. Alerts surface as a non-zero exit, absorbed as
// a soft failure.
func (d *Dependencies) dast(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	if rc.AppURL == "" {
		return nil, errors.New("no scan target deployed")
	}

	name := d.stageArtifact("dast", report.DASTReportName)

	argv := append([]string{
		"zap-baseline.py", "-t", rc.AppURL, "-r", name,
	}, d.stageArgs("dast")...)

	result, err := d.Invoker.Invoke(ctx, invoker.Command{
		Argv: argv,
		// The scanner writes its report relative to the working directory.
		Dir:     d.Store.Dir(),
		Timeout: d.stageTimeout("dast"),
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	output := &pipeline.StageOutput{
		ExitCode:  &result.ExitCode,
		Artifacts: []models.ArtifactRef{d.Store.Ref(name)},
	}

	if result.TimedOut {
		return output, fmt.Errorf("dynamic scan timed out after %s", d.stageTimeout("dast"))
	}

	if result.ExitCode != 0 {
		return output, fmt.Errorf("zap-baseline.py exited %d", result.ExitCode)
	}

	return output, nil
}
