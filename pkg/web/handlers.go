// Package web exposes the run history and version state over a small REST
// API, for dashboards and operators inspecting past pipeline runs.
package web

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/devsecflow/secpipe/pkg/persistence"
)

type APIHandlers struct {
	persist persistence.Persistence
}

func NewAPIHandlers(persist persistence.Persistence) *APIHandlers {
	return &APIHandlers{persist: persist}
}

// Register mounts the API routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/runs", h.GetRuns)
	app.Get("/runs/:id", h.GetRun)
	app.Get("/version", h.GetLatestVersion)
}

func (h *APIHandlers) Health(c fiber.Ctx) error {
	if err := h.persist.HealthCheck(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	limit := 50

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	runs, err := h.persist.Runs(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	// Newest first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	if len(runs) > limit {
		runs = runs[:limit]
	}

	return c.JSON(fiber.Map{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "run id is required")
	}

	run, err := h.persist.RunByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetLatestVersion(c fiber.Ctx) error {
	versions, err := h.persist.Versions(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	if len(versions) == 0 {
		return notFound(c, "no versions recorded yet")
	}

	latest := versions[0]
	for _, record := range versions[1:] {
		if record.Version > latest.Version {
			latest = record
		}
	}

	return c.JSON(latest)
}

// NewApp builds the fiber application with the API mounted.
func NewApp(persist persistence.Persistence) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "secpipe"})

	NewAPIHandlers(persist).Register(app)

	return app
}
