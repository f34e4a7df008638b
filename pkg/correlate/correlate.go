// Package correlate derives the monotonically increasing report version and
// the PASS/FAIL status for the current run, binding them into the
// VersionRecord that the publisher and notifier consume.
package correlate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/persistence"
)

// DefaultReportBaseName matches the artifact layout consumed by downstream
// tooling: test_result_report_v<N>.<ext>.
const DefaultReportBaseName = "test_result_report"

// failureToken is the textual marker scanned for in test output. This is a
// heuristic over the runner's human-readable output, not a structured parse:
// any output containing the token (any case) is treated as a failing run.
var failureToken = []byte("failed")

// Correlator computes the VersionRecord once per run and persists it. The
// first Correlate call computes and stores; later calls within the same run
// return the same record.
type Correlator struct {
	store    persistence.VersionStore
	baseName string
	logger   *slog.Logger

	record *models.VersionRecord
}

func NewCorrelator(store persistence.VersionStore, baseName string, logger *slog.Logger) *Correlator {
	if baseName == "" {
		baseName = DefaultReportBaseName
	}

	return &Correlator{
		store:    store,
		baseName: baseName,
		logger:   logger.With("module", "correlate"),
	}
}

// Correlate assigns the next version (max prior + 1, or 1 for an empty
// store), derives the status from the captured test output, persists the
// record, and returns it.
func (c *Correlator) Correlate(ctx context.Context, testOutput []byte) (models.VersionRecord, error) {
	if c.record != nil {
		return *c.record, nil
	}

	prior, err := c.store.Versions(ctx)
	if err != nil {
		return models.VersionRecord{}, fmt.Errorf("failed to read prior versions: %w", err)
	}

	next := 1
	for _, existing := range prior {
		if existing.Version >= next {
			next = existing.Version + 1
		}
	}

	record := models.VersionRecord{
		Version:   next,
		Status:    DeriveStatus(testOutput),
		Timestamp: time.Now().UTC(),
	}

	if err := c.store.SaveVersion(ctx, record); err != nil {
		return models.VersionRecord{}, fmt.Errorf("failed to persist version %d: %w", next, err)
	}

	c.record = &record

	c.logger.InfoContext(ctx, "Correlated run", "version", record.Version, "status", record.Status)

	return record, nil
}

// Record returns the record computed by Correlate, if any.
func (c *Correlator) Record() *models.VersionRecord {
	return c.record
}

// ReportName renders the deterministic artifact name for this correlator's
// base name, e.g. test_result_report_v7.html.
func (c *Correlator) ReportName(version int, kind models.ArtifactKind) string {
	return ReportName(c.baseName, version, kind)
}

// DeriveStatus scans test output case-insensitively for the failure token.
// Missing or empty output yields UNKNOWN.
func DeriveStatus(testOutput []byte) models.Status {
	if len(bytes.TrimSpace(testOutput)) == 0 {
		return models.StatusUnknown
	}

	if bytes.Contains(bytes.ToLower(testOutput), failureToken) {
		return models.StatusFail
	}

	return models.StatusPass
}

// ReportName renders `<base>_v<version>.<ext>` for an artifact kind.
func ReportName(baseName string, version int, kind models.ArtifactKind) string {
	ext := "txt"

	switch kind {
	case models.ArtifactHTML:
		ext = "html"
	case models.ArtifactPDF:
		ext = "pdf"
	case models.ArtifactText:
	}

	return fmt.Sprintf("%s_v%d.%s", baseName, version, ext)
}
