package models

import (
	"fmt"
	"time"
)

// Status is the PASS/FAIL status derived for a run from the captured test
// output. UNKNOWN means no test output was available.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

// VersionRecord stamps a run with its monotonically increasing version and
// derived status. Written once per run and persisted for the next run to read.
type VersionRecord struct {
	Version   int       `json:"version" validate:"gt=0"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Title renders the deterministic page title used to correlate the published
// report, e.g. "Test Result Report v7 (PASS)".
func (v VersionRecord) Title(prefix string) string {
	return fmt.Sprintf("%s v%d (%s)", prefix, v.Version, v.Status)
}

// PublishedLink is the best-effort resolved report URL. Fallback marks the
// space-root URL used when title resolution found nothing or was ambiguous.
type PublishedLink struct {
	URL      string `json:"url"`
	Fallback bool   `json:"fallback"`
}
