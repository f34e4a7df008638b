// Package deploy provisions the ephemeral network/container pair the
// dynamic scan runs against and guarantees its teardown.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/devsecflow/secpipe/pkg/log"
)

// Config describes the application container to provision for scanning.
type Config struct {
	Image          string `yaml:"image"           validate:"required"`
	ContainerName  string `yaml:"container_name"`
	Port           int    `yaml:"port"            validate:"gt=0,lte=65535"`
	HealthPath     string `yaml:"health_path"`
	StartupSeconds int    `yaml:"startup_seconds" validate:"gte=0"`

	StartupTimeout time.Duration `yaml:"-"`
}

// Resource is one provisioned container/network pair. URL is the reachable
// base URL of the application. Release is safe to call more than once; only
// the first call tears anything down.
type Resource struct {
	URL string

	container testcontainers.Container
	network   *testcontainers.DockerNetwork
	logger    *slog.Logger

	releaseOnce sync.Once
	releaseErr  error
}

// Guard provisions scan targets. Readiness is an active HTTP probe against
// the health path, not a fixed delay.
type Guard struct {
	logger *slog.Logger
}

func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: log.WithModule(logger, "deploy")}
}

// Provision creates a dedicated network and starts the container on it,
// waiting until the health endpoint answers. Anything already created is
// released best-effort when a later step fails.
func (g *Guard) Provision(ctx context.Context, cfg Config) (*Resource, error) {
	if cfg.StartupTimeout <= 0 {
		if cfg.StartupSeconds > 0 {
			cfg.StartupTimeout = time.Duration(cfg.StartupSeconds) * time.Second
		} else {
			cfg.StartupTimeout = 60 * time.Second
		}
	}

	if cfg.HealthPath == "" {
		cfg.HealthPath = "/"
	}

	net, err := network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan network: %w", err)
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", cfg.Port))

	request := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		Name:         cfg.ContainerName,
		ExposedPorts: []string{string(port)},
		Networks:     []string{net.Name},
		WaitingFor: wait.ForHTTP(cfg.HealthPath).
			WithPort(port).
			WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: request,
		Started:          true,
	})
	if err != nil {
		if removeErr := net.Remove(context.WithoutCancel(ctx)); removeErr != nil {
			g.logger.ErrorContext(ctx, "Failed to remove scan network after container failure",
				"network", net.Name, "error", removeErr)
		}

		return nil, fmt.Errorf("failed to start scan target %s: %w", cfg.Image, err)
	}

	host, err := container.Host(ctx)
	if err == nil {
		var mapped nat.Port

		mapped, err = container.MappedPort(ctx, port)
		if err == nil {
			resource := &Resource{
				URL:       fmt.Sprintf("http://%s:%s", host, mapped.Port()),
				container: container,
				network:   net,
				logger:    g.logger,
			}

			g.logger.InfoContext(ctx, "Scan target ready",
				"image", cfg.Image, "url", resource.URL, "network", net.Name)

			return resource, nil
		}
	}

	partial := &Resource{container: container, network: net, logger: g.logger}
	if releaseErr := partial.Release(context.WithoutCancel(ctx)); releaseErr != nil {
		g.logger.ErrorContext(ctx, "Failed to release partially provisioned scan target", "error", releaseErr)
	}

	return nil, fmt.Errorf("failed to resolve scan target address: %w", err)
}

// Release tears the pair down, container first. Later calls return the
// first call's result.
func (r *Resource) Release(ctx context.Context) error {
	r.releaseOnce.Do(func() {
		var errs []error

		if r.container != nil {
			if err := r.container.Terminate(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to terminate container: %w", err))
			}
		}

		if r.network != nil {
			if err := r.network.Remove(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove network: %w", err))
			}
		}

		r.releaseErr = errors.Join(errs...)

		if r.logger != nil && r.releaseErr == nil {
			r.logger.InfoContext(ctx, "Scan target released")
		}
	})

	return r.releaseErr
}
