package deploy

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestResource_ReleaseIsIdempotent(t *testing.T) {
	resource := &Resource{URL: "http://127.0.0.1:32780"}

	require.NoError(t, resource.Release(context.Background()))
	require.NoError(t, resource.Release(context.Background()))
}

func TestGuard_ProvisionAndRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	guard := NewGuard(testLogger())
	ctx := context.Background()

	resource, err := guard.Provision(ctx, Config{
		Image:          "nginx:alpine",
		Port:           80,
		HealthPath:     "/",
		StartupTimeout: 90 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resource.Release(ctx)
	})

	resp, err := http.Get(resource.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, resource.Release(ctx))
	require.NoError(t, resource.Release(ctx), "second release must be a no-op")
}
