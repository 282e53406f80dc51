package rag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamind/qamind/internal/models"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float64{1, 0}, []float64{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)
}

func TestCosineSimilarity_ScaleInvariant(t *testing.T) {
	a := []float64{0.3, 0.7, 0.2}
	b := []float64{0.6, 1.4, 0.4}
	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarity_ZeroNormIsZero(t *testing.T) {
	sim, err := CosineSimilarity([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3})
	var dim *DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 2, dim.Want)
	assert.Equal(t, 3, dim.Got)
}

// record builds an embedding whose similarity to the unit query (1,0) equals
// cos(theta) for the given angle.
func recordAt(name string, theta float64) models.EmbeddingRecord {
	return models.EmbeddingRecord{
		Chunk:  models.Chunk{Text: name, DocumentName: name},
		Vector: []float64{math.Cos(theta), math.Sin(theta)},
	}
}

func TestVectorStore_SearchThresholdAndTopK(t *testing.T) {
	store := NewVectorStore()
	// Similarities to the query (1,0): 0.9, 0.6, 0.5, 0.3, 0.1.
	sims := []float64{0.9, 0.6, 0.5, 0.3, 0.1}
	records := make([]models.EmbeddingRecord, len(sims))
	for i, s := range sims {
		records[i] = recordAt(string(rune('a'+i)), math.Acos(s))
	}
	require.NoError(t, store.Add("p1", records))

	hits, err := store.Search("p1", []float64{1, 0}, 3, 0.4)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.InDelta(t, 0.9, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 0.6, hits[1].Similarity, 1e-9)
	assert.InDelta(t, 0.5, hits[2].Similarity, 1e-9)
}

func TestVectorStore_SearchThresholdFiltersAll(t *testing.T) {
	store := NewVectorStore()
	require.NoError(t, store.Add("p1", []models.EmbeddingRecord{recordAt("a", math.Acos(0.2))}))

	hits, err := store.Search("p1", []float64{1, 0}, 5, 0.4)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Best-effort retrieval ignores the threshold.
	hits, err = store.SearchAll("p1", []float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.2, hits[0].Similarity, 1e-9)
}

func TestVectorStore_SearchEmptyProject(t *testing.T) {
	store := NewVectorStore()
	hits, err := store.Search("nothing", []float64{1, 0}, 5, 0.4)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorStore_AddRejectsMixedDimensions(t *testing.T) {
	store := NewVectorStore()
	require.NoError(t, store.Add("p1", []models.EmbeddingRecord{
		{Vector: []float64{1, 2, 3}},
	}))
	err := store.Add("p1", []models.EmbeddingRecord{
		{Vector: []float64{1, 2}},
	})
	var dim *DimensionMismatchError
	assert.ErrorAs(t, err, &dim)
}

func TestVectorStore_SearchDimensionMismatch(t *testing.T) {
	store := NewVectorStore()
	require.NoError(t, store.Add("p1", []models.EmbeddingRecord{{Vector: []float64{1, 0}}}))
	_, err := store.Search("p1", []float64{1, 0, 0}, 5, 0)
	var dim *DimensionMismatchError
	assert.ErrorAs(t, err, &dim)
}

func TestVectorStore_ProjectsAreIsolated(t *testing.T) {
	store := NewVectorStore()
	require.NoError(t, store.Add("p1", []models.EmbeddingRecord{recordAt("a", 0)}))
	require.NoError(t, store.Add("p2", []models.EmbeddingRecord{recordAt("b", 0), recordAt("c", 0)}))

	assert.Equal(t, 1, store.Count("p1"))
	assert.Equal(t, 2, store.Count("p2"))

	store.DeleteProject("p1")
	assert.Equal(t, 0, store.Count("p1"))
	assert.Equal(t, 2, store.Count("p2"))
}

func TestVectorStore_RecordsAndReplace(t *testing.T) {
	store := NewVectorStore()
	require.NoError(t, store.Add("p1", []models.EmbeddingRecord{recordAt("a", 0)}))

	snapshot := store.Records("p1")
	require.Len(t, snapshot, 1)

	store.Replace("p1", []models.EmbeddingRecord{recordAt("x", 0), recordAt("y", 0)})
	assert.Equal(t, 2, store.Count("p1"))

	// The earlier snapshot is a copy, unaffected by Replace.
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "a", snapshot[0].Chunk.Text)
}
