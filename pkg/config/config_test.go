package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const minimalConfig = `
source_dir: ./app
image_tag: myapp:latest
toggles:
  deploy_dast: false
  dast: false
  publish: false
  notify: false
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "report", cfg.ArtifactDir)
	assert.Equal(t, "file://report", cfg.DatabaseURL)
	assert.Equal(t, 15*time.Minute, cfg.StageTimeout)

	// Unspecified toggles default to enabled.
	assert.True(t, cfg.Toggles[ToggleSAST])
	assert.True(t, cfg.Toggles[ToggleUnitTests])
	assert.False(t, cfg.Toggles[ToggleDAST])
	assert.Len(t, cfg.Toggles, len(ToggleNames()))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "toggles: [not\na map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_UnknownToggleRejected(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"  fuzzing: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown toggle "fuzzing"`)
}

func TestLoad_DisabledStageNeedsNoCredentials(t *testing.T) {
	// notify and publish are off, so no SMTP or confluence blocks needed.
	_, err := Load(writeConfig(t, minimalConfig))
	assert.NoError(t, err)
}

func TestLoad_EnabledNotifyRequiresSMTP(t *testing.T) {
	content := `
source_dir: ./app
image_tag: myapp:latest
toggles:
  deploy_dast: false
  dast: false
  publish: false
`

	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid smtp configuration")
}

func TestLoad_EnabledPublishRequiresConfluence(t *testing.T) {
	content := `
source_dir: ./app
image_tag: myapp:latest
toggles:
  deploy_dast: false
  dast: false
  notify: false
confluence:
  base_url: https://docs.example.com
  username: bot@example.com
  api_token: secret
  space_key: SEC
`

	_, err := Load(writeConfig(t, content))
	assert.NoError(t, err)
}

func TestLoad_StageSettings(t *testing.T) {
	valid := minimalConfig + `
stage_settings:
  sast:
    args: ["-lll"]
    timeout: 5m
`

	cfg, err := Load(writeConfig(t, valid))
	require.NoError(t, err)
	require.Contains(t, cfg.StageSettings, "sast")

	invalid := minimalConfig + `
stage_settings:
  sast:
    binary: /usr/local/bin/bandit
`

	_, err = Load(writeConfig(t, invalid))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings for stage sast")
}

func TestLoad_UnknownStageSettingsRejected(t *testing.T) {
	content := minimalConfig + `
stage_settings:
  fuzzing:
    args: ["-x"]
`

	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestMergeToggles(t *testing.T) {
	merged := MergeToggles(map[string]bool{ToggleSAST: false})

	assert.False(t, merged[ToggleSAST])
	assert.True(t, merged[ToggleNotify])
	assert.Len(t, merged, len(ToggleNames()))
}
