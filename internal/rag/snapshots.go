package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/qamind/qamind/internal/models"
)

// Snapshots is the vector store's persistence collaborator. File-based JSON,
// a key-value store, or a database all satisfy the same contract.
type Snapshots interface {
	Load(projectID string) ([]models.EmbeddingRecord, error)
	Save(projectID string, records []models.EmbeddingRecord) error
	Delete(projectID string) error
}

// FileSnapshots persists one JSON file per project under a base directory.
type FileSnapshots struct {
	dir string
}

// NewFileSnapshots creates the base directory if needed.
func NewFileSnapshots(dir string) (*FileSnapshots, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &FileSnapshots{dir: dir}, nil
}

// Load reads a project's records. A missing snapshot yields an empty slice.
func (f *FileSnapshots) Load(projectID string) ([]models.EmbeddingRecord, error) {
	data, err := os.ReadFile(f.path(projectID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", projectID, err)
	}
	var records []models.EmbeddingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", projectID, err)
	}
	return records, nil
}

// Save writes the full record set atomically (write temp file, then rename).
func (f *FileSnapshots) Save(projectID string, records []models.EmbeddingRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", projectID, err)
	}
	tmp := f.path(projectID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", projectID, err)
	}
	if err := os.Rename(tmp, f.path(projectID)); err != nil {
		return fmt.Errorf("committing snapshot for %s: %w", projectID, err)
	}
	return nil
}

// Delete removes the project's snapshot. Missing files are not an error.
func (f *FileSnapshots) Delete(projectID string) error {
	err := os.Remove(f.path(projectID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileSnapshots) path(projectID string) string {
	// Project IDs come from callers and must not escape the base directory.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(projectID)
	return filepath.Join(f.dir, safe+".json")
}
