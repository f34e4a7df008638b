package config

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// stageSettingsSchema constrains what a per-stage override block may carry:
// extra tool arguments, a stage-local timeout, and an artifact name override.
var stageSettingsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"args": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"timeout":  map[string]any{"type": "string"},
		"artifact": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

// ValidateStageSettings checks one stage's override block against the schema.
func ValidateStageSettings(stage string, settings map[string]any) error {
	if !KnownToggle(stage) && stage != "prepare" && stage != "report" {
		return fmt.Errorf("stage_settings references unknown stage %q", stage)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(stageSettingsSchema),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("failed to validate settings for stage %s: %w", stage, err)
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return fmt.Errorf("invalid settings for stage %s: %s", stage, first.String())
	}

	return nil
}
