// Package stages defines the DevSecOps stage table: the ordered list of
// stage descriptors the executor drives, each binding an external tool or
// collaborator into the run.
package stages

import (
	"log/slog"
	"time"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/config"
	"github.com/devsecflow/secpipe/pkg/confluence"
	"github.com/devsecflow/secpipe/pkg/correlate"
	"github.com/devsecflow/secpipe/pkg/deploy"
	"github.com/devsecflow/secpipe/pkg/invoker"
	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/notify"
	"github.com/devsecflow/secpipe/pkg/pipeline"
	"github.com/devsecflow/secpipe/pkg/report"
)

// Stage names without a toggle. Everything else is named by its toggle.
const (
	StagePrepare = "prepare"
	StageReport  = "report"
)

// Tools required per toggleable stage, verified up front by prepare.
var requiredTools = map[string]string{
	config.ToggleSAST:           "bandit",
	config.ToggleDependencyScan: "safety",
	config.ToggleSetupEnv:       "pip",
	config.ToggleUnitTests:      "pytest",
	config.ToggleImageBuild:     "docker",
	config.ToggleDAST:           "zap-baseline.py",
}

// Dependencies carries every collaborator the stage actions need. All
// fields except the optional publishing and mail clients must be set.
type Dependencies struct {
	Config     *config.Config
	Invoker    *invoker.Invoker
	Store      *artifact.Store
	Correlator *correlate.Correlator
	Generator  *report.Generator
	Confluence *confluence.Client
	Mailer     *notify.Mailer
	Guard      *deploy.Guard
	Logger     *slog.Logger
}

// Build assembles the stage table in execution order. Only the image build
// is declared fatal; prepare escalates missing prerequisites itself, and
// every scanner failure is absorbed as a soft failure.
func Build(deps *Dependencies) []pipeline.StageDescriptor {
	deps.Logger = log.WithModule(deps.Logger, "stages")

	return []pipeline.StageDescriptor{
		{Name: StagePrepare, Action: deps.prepare},
		{Name: config.ToggleSAST, Toggle: config.ToggleSAST, Action: deps.sast},
		{Name: config.ToggleDependencyScan, Toggle: config.ToggleDependencyScan, Action: deps.dependencyScan},
		{Name: config.ToggleSetupEnv, Toggle: config.ToggleSetupEnv, Action: deps.setupEnv},
		{Name: config.ToggleUnitTests, Toggle: config.ToggleUnitTests, Action: deps.unitTests},
		{Name: config.ToggleImageBuild, Toggle: config.ToggleImageBuild, Fatal: true, Action: deps.imageBuild},
		{Name: config.ToggleDeployDAST, Toggle: config.ToggleDeployDAST, Action: deps.deployScanTarget},
		{Name: config.ToggleDAST, Toggle: config.ToggleDAST, Action: deps.dast},
		{Name: StageReport, Action: deps.buildReport},
		{Name: config.TogglePublish, Toggle: config.TogglePublish, Action: deps.publish},
		{Name: config.ToggleNotify, Toggle: config.ToggleNotify, Action: deps.sendNotification},
	}
}

// stageArgs returns the extra tool arguments configured for a stage.
func (d *Dependencies) stageArgs(stage string) []string {
	settings, ok := d.Config.StageSettings[stage]
	if !ok {
		return nil
	}

	raw, ok := settings["args"].([]any)
	if !ok {
		return nil
	}

	args := make([]string, 0, len(raw))

	for _, value := range raw {
		if s, ok := value.(string); ok {
			args = append(args, s)
		}
	}

	return args
}

// stageArtifact returns the artifact name override configured for a stage,
// or the canonical default.
func (d *Dependencies) stageArtifact(stage, fallback string) string {
	settings, ok := d.Config.StageSettings[stage]
	if !ok {
		return fallback
	}

	name, ok := settings["artifact"].(string)
	if !ok || name == "" {
		return fallback
	}

	return name
}

// stageTimeout returns the stage-local timeout override, or the global one.
func (d *Dependencies) stageTimeout(stage string) time.Duration {
	settings, ok := d.Config.StageSettings[stage]
	if !ok {
		return d.Config.StageTimeout
	}

	raw, ok := settings["timeout"].(string)
	if !ok {
		return d.Config.StageTimeout
	}

	timeout, err := time.ParseDuration(raw)
	if err != nil || timeout <= 0 {
		d.Logger.Warn("Ignoring invalid stage timeout", "stage", stage, "value", raw)

		return d.Config.StageTimeout
	}

	return timeout
}
