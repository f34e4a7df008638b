// Package file provides file-based persistence rooted at the report
// directory: version.txt holds the current report version and runs/ holds one
// JSON document per finalized pipeline run.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/persistence"
)

const (
	versionFileName = "version.txt"
	runsDirName     = "runs"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
}

// NewPersistence creates a file store rooted at root (usually the report
// directory). Accepts a file:// prefix like database URLs do.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.TrimPrefix(root, "file://")}
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); err != nil {
		return fmt.Errorf("store root %s not accessible: %w", p.root, err)
	}

	return nil
}

// Versions returns the current version record, or an empty history when
// version.txt is absent or unparseable. A garbled version file is treated the
// same as a missing one so a fresh counter starts at 1.
func (p *Persistence) Versions(_ context.Context) ([]models.VersionRecord, error) {
	data, err := os.ReadFile(filepath.Join(p.root, versionFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewStoreError("Versions", "", err)
	}

	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || version < 1 {
		return nil, nil
	}

	return []models.VersionRecord{{Version: version, Timestamp: time.Time{}}}, nil
}

// SaveVersion persists the record as the current version. The version must be
// strictly greater than everything already stored.
func (p *Persistence) SaveVersion(ctx context.Context, record models.VersionRecord) error {
	prior, err := p.Versions(ctx)
	if err != nil {
		return err
	}

	for _, existing := range prior {
		if record.Version <= existing.Version {
			return persistence.NewStoreError("SaveVersion", strconv.Itoa(record.Version), persistence.ErrVersionNotMonotonic)
		}
	}

	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return persistence.NewStoreError("SaveVersion", strconv.Itoa(record.Version), err)
	}

	path := filepath.Join(p.root, versionFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(record.Version)), 0o644); err != nil {
		return persistence.NewStoreError("SaveVersion", strconv.Itoa(record.Version), err)
	}

	return nil
}

// SaveRun archives a finalized run as runs/<id>.json.
func (p *Persistence) SaveRun(_ context.Context, run *models.PipelineRun) error {
	dir := filepath.Join(p.root, runsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	if err := os.WriteFile(filepath.Join(dir, run.ID+".json"), data, 0o644); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

// Runs loads every archived run, ordered by start time.
func (p *Persistence) Runs(ctx context.Context) ([]*models.PipelineRun, error) {
	dir := filepath.Join(p.root, runsDirName)

	names, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, persistence.NewStoreError("Runs", "", err)
	}

	runs := make([]*models.PipelineRun, 0, len(names))

	for _, name := range names {
		run, err := p.RunByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	return runs, nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.PipelineRun, error) {
	data, err := os.ReadFile(filepath.Join(p.root, runsDirName, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewStoreError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewStoreError("RunByID", id, err)
	}

	var run models.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, persistence.NewStoreError("RunByID", id, err)
	}

	return &run, nil
}
