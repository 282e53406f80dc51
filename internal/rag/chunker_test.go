package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_EmptyAndBlankInput(t *testing.T) {
	c := NewChunker(nil)
	assert.Empty(t, c.Chunk("", ChunkMeta{}))
	assert.Empty(t, c.Chunk("   \n\t  ", ChunkMeta{}))
}

func TestChunker_ShortDocumentIsOneChunk(t *testing.T) {
	c := NewChunker(nil)
	text := "A short requirements note."
	chunks := c.Chunk(text, ChunkMeta{DocumentName: "note.md", ProjectID: "p1"})

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(text), chunks[0].CharEnd)
	assert.Equal(t, "note.md", chunks[0].DocumentName)
	assert.Equal(t, "p1", chunks[0].ProjectID)
}

func TestChunker_SingleCharacter(t *testing.T) {
	c := NewChunker(nil)
	chunks := c.Chunk("x", ChunkMeta{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "x", chunks[0].Text)
}

// A 2000-character document with the default parameters lands on about three
// chunks: none oversized, consecutive chunks overlapping, and the whole
// document covered.
func TestChunker_TwoThousandCharScenario(t *testing.T) {
	c := NewChunker(nil)
	var b strings.Builder
	for b.Len() < 2000 {
		b.WriteString("The system shall respond to every query within two seconds. ")
	}
	text := b.String()[:2000]

	chunks := c.Chunk(text, ChunkMeta{DocumentName: "reqs.txt"})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.LessOrEqual(t, len(chunks), 4)

	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.CharLength, 1000, "chunk %d oversized", i)
		assert.Equal(t, ch.Text, text[ch.CharStart:ch.CharEnd])
		if i > 0 {
			prev := chunks[i-1]
			overlap := prev.CharEnd - ch.CharStart
			assert.Greater(t, overlap, 0, "chunks %d and %d do not overlap", i-1, i)
			assert.LessOrEqual(t, overlap, 160, "overlap between %d and %d too large", i-1, i)
		}
	}

	// Full coverage: first chunk starts at 0, last ends at the document end,
	// and no gap exists between consecutive chunks.
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(text), chunks[len(chunks)-1].CharEnd)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].CharStart, chunks[i-1].CharEnd)
	}
}

func TestChunker_Deterministic(t *testing.T) {
	c := NewChunker(nil)
	text := strings.Repeat("Sentence one. Sentence two. Sentence three.\n\n", 50)

	a := c.Chunk(text, ChunkMeta{})
	b := c.Chunk(text, ChunkMeta{})
	assert.Equal(t, a, b)
}

func TestChunker_PrefersParagraphBoundaries(t *testing.T) {
	c := NewChunker(&ChunkerConfig{TargetSize: 100, Overlap: 10, MinSize: 20, BoundaryWindow: 40})
	para := strings.Repeat("word ", 18) // ~90 chars
	text := para + "\n\n" + para + "\n\n" + para

	chunks := c.Chunk(text, ChunkMeta{})
	require.Greater(t, len(chunks), 1)
	// First cut lands just after the paragraph break.
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"),
		"expected paragraph-break cut, got %q", chunks[0].Text[len(chunks[0].Text)-10:])
}

func TestChunker_HardCutWithoutBoundaries(t *testing.T) {
	c := NewChunker(&ChunkerConfig{TargetSize: 100, Overlap: 10, MinSize: 20, BoundaryWindow: 20})
	text := strings.Repeat("x", 500) // no whitespace at all

	chunks := c.Chunk(text, ChunkMeta{})
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.CharLength, 120)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].CharEnd)
}

func TestChunker_OverlapClampGuaranteesProgress(t *testing.T) {
	// Overlap larger than 20% of the target must not stall the cursor.
	c := NewChunker(&ChunkerConfig{TargetSize: 100, Overlap: 90, MinSize: 20, BoundaryWindow: 20})
	text := strings.Repeat("some words here. ", 100)

	chunks := c.Chunk(text, ChunkMeta{})
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].CharStart, chunks[i-1].CharStart)
	}
}

func TestChunker_SectionDetection(t *testing.T) {
	tests := []struct {
		text    string
		section string
	}{
		{"# Login Flow\nUsers sign in with email.", "Login Flow"},
		{"## API Errors\nCodes and meanings.", "API Errors"},
		{"3.2 Payment Processing\nDetails follow.", "3.2 Payment Processing"},
		{"SECURITY REQUIREMENTS\nAll traffic uses TLS.", "SECURITY REQUIREMENTS"},
		{"Just ordinary prose without any heading at all.", ""},
	}
	c := NewChunker(nil)
	for _, tt := range tests {
		chunks := c.Chunk(tt.text, ChunkMeta{})
		require.Len(t, chunks, 1, tt.text)
		assert.Equal(t, tt.section, chunks[0].Section, tt.text)
	}
}

func TestChunker_IndexesAreSequential(t *testing.T) {
	c := NewChunker(nil)
	text := strings.Repeat("A sentence for the index test. ", 200)
	chunks := c.Chunk(text, ChunkMeta{})
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}
