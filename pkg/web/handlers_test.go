package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/persistence/file"
	"github.com/devsecflow/secpipe/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	app := web.NewApp(persist)

	return app, persist
}

func seedRun(t *testing.T, persist *file.Persistence, id string, startedAt time.Time) {
	t.Helper()

	run := &models.PipelineRun{
		ID:        id,
		Toggles:   map[string]bool{"sast": true},
		Outcome:   models.RunSuccess,
		StartedAt: startedAt,
	}

	require.NoError(t, persist.SaveRun(context.Background(), run))
}

func TestHealth(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetRuns(t *testing.T) {
	app, persist := setupTestApp(t)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	seedRun(t, persist, "run-old", base)
	seedRun(t, persist, "run-new", base.Add(time.Hour))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs  []models.PipelineRun `json:"runs"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.Equal(t, 2, body.Count)
	assert.Equal(t, "run-new", body.Runs[0].ID, "newest run comes first")
}

func TestGetRuns_Limit(t *testing.T) {
	app, persist := setupTestApp(t)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		seedRun(t, persist, id, base.Add(time.Duration(i)*time.Minute))
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs?limit=2", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
}

func TestGetRuns_InvalidLimit(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	app, persist := setupTestApp(t)
	seedRun(t, persist, "run-1", time.Now().UTC())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run models.PipelineRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, "run-1", run.ID)
}

func TestGetRun_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs/absent", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetLatestVersion(t *testing.T) {
	app, persist := setupTestApp(t)

	ctx := context.Background()
	require.NoError(t, persist.SaveVersion(ctx, models.VersionRecord{Version: 1, Status: models.StatusPass}))
	require.NoError(t, persist.SaveVersion(ctx, models.VersionRecord{Version: 2, Status: models.StatusFail}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/version", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record models.VersionRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	assert.Equal(t, 2, record.Version)
}

func TestGetLatestVersion_Empty(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/version", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
