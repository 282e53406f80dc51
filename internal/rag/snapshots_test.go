package rag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamind/qamind/internal/models"
)

func TestFileSnapshots_SaveLoadRoundTrip(t *testing.T) {
	snaps, err := NewFileSnapshots(t.TempDir())
	require.NoError(t, err)

	records := []models.EmbeddingRecord{
		{
			Chunk:     models.Chunk{Text: "chunk one", DocumentName: "doc.md", Index: 0},
			Vector:    []float64{0.1, 0.2, 0.3},
			ProjectID: "p1",
		},
	}
	require.NoError(t, snaps.Save("p1", records))

	loaded, err := snaps.Load("p1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "chunk one", loaded[0].Chunk.Text)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, loaded[0].Vector)
}

func TestFileSnapshots_MissingProjectLoadsEmpty(t *testing.T) {
	snaps, err := NewFileSnapshots(t.TempDir())
	require.NoError(t, err)

	loaded, err := snaps.Load("never-saved")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileSnapshots_SaveOverwrites(t *testing.T) {
	snaps, err := NewFileSnapshots(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, snaps.Save("p1", []models.EmbeddingRecord{{ProjectID: "p1"}}))
	require.NoError(t, snaps.Save("p1", []models.EmbeddingRecord{{ProjectID: "p1"}, {ProjectID: "p1"}}))

	loaded, err := snaps.Load("p1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestFileSnapshots_Delete(t *testing.T) {
	snaps, err := NewFileSnapshots(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, snaps.Save("p1", []models.EmbeddingRecord{{ProjectID: "p1"}}))
	require.NoError(t, snaps.Delete("p1"))

	loaded, err := snaps.Load("p1")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Deleting again is not an error.
	require.NoError(t, snaps.Delete("p1"))
}

func TestFileSnapshots_ProjectIDCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	snaps, err := NewFileSnapshots(dir)
	require.NoError(t, err)

	require.NoError(t, snaps.Save("../evil/project", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	_, err = os.Stat(filepath.Join(dir, "..", "evil"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSnapshots_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	snaps, err := NewFileSnapshots(dir)
	require.NoError(t, err)
	require.NoError(t, snaps.Save("p1", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
