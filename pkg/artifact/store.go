// Package artifact persists named report files for one pipeline run and
// exposes them for later archival, publishing, and notification.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/devsecflow/secpipe/pkg/models"
)

// ErrArtifactNotFound indicates a named artifact does not exist in the store.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store is a directory abstraction over the report directory. One run is
// assumed to own the directory exclusively; exclusivity is the caller's
// responsibility.
type Store struct {
	dir string
}

// NewStore opens the store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the absolute-ish root of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path resolves a name inside the store without checking existence.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes data under name and returns its reference.
func (s *Store) Save(name string, data []byte) (models.ArtifactRef, error) {
	path := s.Path(name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("failed to write artifact %s: %w", name, err)
	}

	return models.ArtifactRef{Name: name, Kind: models.KindForName(name), Path: path, Exists: true}, nil
}

// Read returns the content of a named artifact.
func (s *Store) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}

		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}

	return data, nil
}

// ReadIfExists returns the content of a named artifact, or nil when it is
// absent. Used for best-effort summary extraction where missing reports are
// normal.
func (s *Store) ReadIfExists(name string) []byte {
	data, err := s.Read(name)
	if err != nil {
		return nil
	}

	return data
}

// Ref builds a reference for name, with the existence flag resolved.
func (s *Store) Ref(name string) models.ArtifactRef {
	path := s.Path(name)
	_, err := os.Stat(path)

	return models.ArtifactRef{
		Name:   name,
		Kind:   models.KindForName(name),
		Path:   path,
		Exists: err == nil,
	}
}

// Glob returns references for every existing file matching any of the
// patterns, sorted by name. Patterns use filepath.Match syntax.
func (s *Store) Glob(patterns ...string) ([]models.ArtifactRef, error) {
	seen := make(map[string]struct{})
	refs := make([]models.ArtifactRef, 0)

	for _, pattern := range patterns {
		matches, err := fs.Glob(os.DirFS(s.dir), pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid artifact pattern %q: %w", pattern, err)
		}

		for _, name := range matches {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}

			refs = append(refs, models.ArtifactRef{
				Name:   name,
				Kind:   models.KindForName(name),
				Path:   s.Path(name),
				Exists: true,
			})
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	return refs, nil
}
