package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsecflow/secpipe/pkg/models"
)

func TestSubject(t *testing.T) {
	record := models.VersionRecord{Version: 7, Status: models.StatusFail}
	assert.Equal(t, "DevSecOps Test & Security Report v7 (FAIL)", Subject(record))
}

func TestBuildBody(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	run := &models.PipelineRun{
		ID: "run-1",
		Results: []models.StageResult{
			{Name: "sast", Enabled: true, Outcome: models.StageOK},
			{Name: "dependency_scan", Enabled: true, Outcome: models.StageSoftFailed},
			{Name: "dast", Enabled: false, Outcome: models.StageSkipped},
		},
		StartedAt:  start,
		FinishedAt: start.Add(94 * time.Second),
	}

	record := models.VersionRecord{Version: 7, Status: models.StatusPass}
	link := models.PublishedLink{URL: "https://docs.example.com/pages/12345/Test+Result+Report+v7+(PASS)"}

	body, err := BuildBody(run, record, link, "Test Result Report")
	require.NoError(t, err)

	assert.Contains(t, body, "Test Result Report v7 (PASS)")
	assert.Contains(t, body, "https://docs.example.com/pages/12345/Test+Result+Report+v7+(PASS)")
	assert.NotContains(t, body, "direct page not found")

	// Every stage is listed, skipped ones included.
	assert.Contains(t, body, "sast")
	assert.Contains(t, body, "dependency_scan")
	assert.Contains(t, body, "dast")
	assert.Contains(t, body, "skipped")
	assert.Contains(t, body, "1m34s")
}

func TestBuildBody_FallbackLinkIsAnnotated(t *testing.T) {
	run := &models.PipelineRun{ID: "run-2"}
	record := models.VersionRecord{Version: 8, Status: models.StatusUnknown}
	link := models.PublishedLink{URL: "https://docs.example.com/spaces/SEC", Fallback: true}

	body, err := BuildBody(run, record, link, "Test Result Report")
	require.NoError(t, err)

	assert.Contains(t, body, "https://docs.example.com/spaces/SEC")
	assert.Contains(t, body, "direct page not found")
}
