package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devsecflow/secpipe/pkg/config"
	"github.com/devsecflow/secpipe/pkg/invoker"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/pipeline"
	"github.com/devsecflow/secpipe/pkg/report"
)

// prepare verifies every prerequisite of the enabled stages before any of
// them runs. A missing source tree, tool, or Dockerfile halts the pipeline.
func (d *Dependencies) prepare(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	if _, err := os.Stat(d.Config.SourceDir); err != nil {
		return nil, pipeline.Fatal(fmt.Errorf("source directory %s not accessible: %w", d.Config.SourceDir, err))
	}

	for toggle, tool := range requiredTools {
		if !rc.Run.Toggles[toggle] {
			continue
		}

		if err := invoker.LookTool(tool); err != nil {
			return nil, pipeline.Fatal(err)
		}
	}

	if rc.Run.Toggles[config.ToggleImageBuild] {
		dockerfile := filepath.Join(d.Config.SourceDir, "Dockerfile")
		if _, err := os.Stat(dockerfile); err != nil {
			return nil, pipeline.Fatal(fmt.Errorf("dockerfile missing at %s: %w", dockerfile, err))
		}
	}

	d.Logger.InfoContext(ctx, "Prerequisites verified", "source_dir", d.Config.SourceDir)

	return nil, nil
}

// sast runs the static analyzer over the source tree and stores its HTML
// report. Findings surface as a non-zero exit, absorbed as a soft failure.
func (d *Dependencies) sast(ctx context.Context, _ *pipeline.RunContext) (*pipeline.StageOutput, error) {
	name := d.stageArtifact("sast", report.SASTReportName)

	argv := append([]string{
		"bandit", "-r", ".", "-f", "html", "-o", d.Store.Path(name),
	}, d.stageArgs("sast")...)

	return d.runTool(ctx, "sast", argv, name)
}

// dependencyScan checks the pinned dependencies for known vulnerabilities
// and stores the textual report from the tool's output.
func (d *Dependencies) dependencyScan(ctx context.Context, _ *pipeline.RunContext) (*pipeline.StageOutput, error) {
	argv := append([]string{
		"safety", "check", "-r", "requirements.txt", "--output", "text",
	}, d.stageArgs("dependency_scan")...)

	result, err := d.Invoker.Invoke(ctx, invoker.Command{
		Argv:    argv,
		Dir:     d.Config.SourceDir,
		Timeout: d.stageTimeout("dependency_scan"),
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	ref, saveErr := d.Store.Save(d.stageArtifact("dependency_scan", report.DependencyReportName), result.Stdout)
	if saveErr != nil {
		return &pipeline.StageOutput{ExitCode: &result.ExitCode}, saveErr
	}

	output := &pipeline.StageOutput{
		ExitCode:  &result.ExitCode,
		Artifacts: []models.ArtifactRef{ref},
	}

	if result.ExitCode != 0 {
		return output, fmt.Errorf("safety exited %d", result.ExitCode)
	}

	return output, nil
}

// setupEnv installs the application's pinned dependencies so the test run
// sees the same environment the image will.
func (d *Dependencies) setupEnv(ctx context.Context, _ *pipeline.RunContext) (*pipeline.StageOutput, error) {
	requirements := filepath.Join(d.Config.SourceDir, "requirements.txt")
	if _, err := os.Stat(requirements); err != nil {
		return nil, pipeline.Fatal(fmt.Errorf("requirements file missing at %s: %w", requirements, err))
	}

	argv := append([]string{"pip", "install", "-r", "requirements.txt"}, d.stageArgs("setup_env")...)

	return d.runTool(ctx, "setup_env", argv, "")
}

// unitTests runs the test suite with its HTML report written into the
// artifact store and persists the runner's console log alongside it. The
// log is what status derivation and the summary read; the HTML report is
// presentation only. Failing tests soft-fail the stage; the derived FAIL
// status lands in the correlated version record instead.
func (d *Dependencies) unitTests(ctx context.Context, _ *pipeline.RunContext) (*pipeline.StageOutput, error) {
	htmlName := d.stageArtifact("unit_tests", report.UnitTestReportName)

	argv := append([]string{
		"pytest", "--html=" + d.Store.Path(htmlName), "--self-contained-html",
	}, d.stageArgs("unit_tests")...)

	result, err := d.Invoker.Invoke(ctx, invoker.Command{
		Argv:    argv,
		Dir:     d.Config.SourceDir,
		Timeout: d.stageTimeout("unit_tests"),
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	logRef, saveErr := d.Store.Save(report.UnitTestLogName, result.Stdout)
	if saveErr != nil {
		return &pipeline.StageOutput{ExitCode: &result.ExitCode}, saveErr
	}

	output := &pipeline.StageOutput{
		ExitCode:  &result.ExitCode,
		Artifacts: []models.ArtifactRef{logRef, d.Store.Ref(htmlName)},
	}

	if result.TimedOut {
		return output, fmt.Errorf("pytest timed out after %s", d.stageTimeout("unit_tests"))
	}

	if result.ExitCode != 0 {
		return output, fmt.Errorf("pytest exited %d", result.ExitCode)
	}

	return output, nil
}

// imageBuild builds the scan image. Declared fatal in the stage table: a
// build that cannot produce the image leaves nothing to deploy or scan.
func (d *Dependencies) imageBuild(ctx context.Context, _ *pipeline.RunContext) (*pipeline.StageOutput, error) {
	argv := append([]string{"docker", "build", "-t", d.Config.ImageTag, "."}, d.stageArgs("image_build")...)

	return d.runTool(ctx, "image_build", argv, "")
}

// runTool invokes one external tool in the source directory and reports
// its exit code, referencing artifactName when the tool wrote one.
func (d *Dependencies) runTool(ctx context.Context, stage string, argv []string, artifactName string) (*pipeline.StageOutput, error) {
	result, err := d.Invoker.Invoke(ctx, invoker.Command{
		Argv:    argv,
		Dir:     d.Config.SourceDir,
		Timeout: d.stageTimeout(stage),
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	output := &pipeline.StageOutput{ExitCode: &result.ExitCode}
	if artifactName != "" {
		output.Artifacts = []models.ArtifactRef{d.Store.Ref(artifactName)}
	}

	if result.TimedOut {
		return output, fmt.Errorf("%s timed out after %s", argv[0], d.stageTimeout(stage))
	}

	if result.ExitCode != 0 {
		return output, fmt.Errorf("%s exited %d", argv[0], result.ExitCode)
	}

	return output, nil
}

// classifyInvokeError escalates missing tools to a hard failure; anything
// else stays soft.
func classifyInvokeError(err error) error {
	if errors.Is(err, invoker.ErrToolNotFound) {
		return pipeline.Fatal(err)
	}

	return err
}
