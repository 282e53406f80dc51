package rag

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/qamind/qamind/internal/models"
)

// DimensionMismatchError reports an attempt to compare or store vectors of
// different dimensions. All embeddings for one project must share one
// model's output dimension.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|). A zero-norm vector yields 0,
// not an error; mismatched dimensions fail.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// collection is one project's embeddings. Writers block readers of the same
// project; different projects are fully independent.
type collection struct {
	mu      sync.RWMutex
	records []models.EmbeddingRecord
}

// VectorStore holds per-project embedding collections and answers
// brute-force cosine similarity queries. The O(n) scan is deliberate: a
// project's chunk count stays in the low thousands, and an ANN index could
// be substituted behind the same interface if that ever changes.
type VectorStore struct {
	mu          sync.Mutex
	collections map[string]*collection
}

// NewVectorStore creates an empty store.
func NewVectorStore() *VectorStore {
	return &VectorStore{collections: make(map[string]*collection)}
}

// Add appends embedding records to the project's collection, enforcing a
// single vector dimension per project.
func (s *VectorStore) Add(projectID string, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	col := s.collection(projectID)
	col.mu.Lock()
	defer col.mu.Unlock()

	dim := 0
	if len(col.records) > 0 {
		dim = len(col.records[0].Vector)
	}
	for _, rec := range records {
		if dim == 0 {
			dim = len(rec.Vector)
		}
		if len(rec.Vector) != dim {
			return &DimensionMismatchError{Want: dim, Got: len(rec.Vector)}
		}
	}
	col.records = append(col.records, records...)
	return nil
}

// Search returns up to topK chunks with similarity >= minSimilarity, sorted
// descending by similarity.
func (s *VectorStore) Search(projectID string, query []float64, topK int, minSimilarity float64) ([]models.ScoredChunk, error) {
	return s.search(projectID, query, topK, minSimilarity, true)
}

// SearchAll bypasses the similarity threshold for best-effort retrieval,
// used for degraded-mode answering when no chunk clears the quality bar.
func (s *VectorStore) SearchAll(projectID string, query []float64, topK int) ([]models.ScoredChunk, error) {
	return s.search(projectID, query, topK, 0, false)
}

func (s *VectorStore) search(projectID string, query []float64, topK int, minSimilarity float64, applyThreshold bool) ([]models.ScoredChunk, error) {
	col := s.collection(projectID)
	col.mu.RLock()
	defer col.mu.RUnlock()

	scored := make([]models.ScoredChunk, 0, len(col.records))
	for _, rec := range col.records {
		sim, err := CosineSimilarity(query, rec.Vector)
		if err != nil {
			return nil, err
		}
		if applyThreshold && sim < minSimilarity {
			continue
		}
		scored = append(scored, models.ScoredChunk{Chunk: rec.Chunk, Similarity: sim})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Records returns a copy of the project's embedding records, used when
// persisting a snapshot.
func (s *VectorStore) Records(projectID string) []models.EmbeddingRecord {
	col := s.collection(projectID)
	col.mu.RLock()
	defer col.mu.RUnlock()
	out := make([]models.EmbeddingRecord, len(col.records))
	copy(out, col.records)
	return out
}

// Replace swaps in a full set of records for a project, used when loading a
// snapshot.
func (s *VectorStore) Replace(projectID string, records []models.EmbeddingRecord) {
	col := s.collection(projectID)
	col.mu.Lock()
	col.records = records
	col.mu.Unlock()
}

// DeleteProject removes the project's entire collection atomically.
func (s *VectorStore) DeleteProject(projectID string) {
	s.mu.Lock()
	delete(s.collections, projectID)
	s.mu.Unlock()
}

// Count returns the number of stored records for a project.
func (s *VectorStore) Count(projectID string) int {
	col := s.collection(projectID)
	col.mu.RLock()
	defer col.mu.RUnlock()
	return len(col.records)
}

func (s *VectorStore) collection(projectID string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[projectID]
	if !ok {
		col = &collection{}
		s.collections[projectID] = col
	}
	return col
}
