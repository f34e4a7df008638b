package models

import (
	"path/filepath"
	"strings"
)

// ArtifactKind tags the report format of an artifact.
type ArtifactKind string

const (
	ArtifactHTML ArtifactKind = "html"
	ArtifactPDF  ArtifactKind = "pdf"
	ArtifactText ArtifactKind = "text"
)

// ArtifactRef points at a named report file inside the artifact directory.
type ArtifactRef struct {
	Name   string       `json:"name"`
	Kind   ArtifactKind `json:"kind"`
	Path   string       `json:"path"`
	Exists bool         `json:"exists"`
}

// KindForName derives the artifact kind from the file extension. Anything
// that is not html or pdf is treated as text.
func KindForName(name string) ArtifactKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return ArtifactHTML
	case ".pdf":
		return ArtifactPDF
	default:
		return ArtifactText
	}
}
