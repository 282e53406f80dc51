// Package rag provides the retrieval core: natural-boundary document
// chunking, the per-project vector store with cosine similarity search, and
// the embedding client.
package rag

import (
	"strings"
	"unicode"

	"github.com/qamind/qamind/internal/models"
)

// ChunkerConfig controls document splitting.
type ChunkerConfig struct {
	// TargetSize is the desired chunk length in characters.
	TargetSize int
	// Overlap is how many characters consecutive chunks share. Clamped to
	// 20% of TargetSize to guarantee forward progress.
	Overlap int
	// MinSize is the smallest chunk emitted, except for the final remainder
	// of a document.
	MinSize int
	// BoundaryWindow is how far around the target cut point to search for a
	// natural boundary.
	BoundaryWindow int
}

// DefaultChunkerConfig returns the standard splitting parameters.
func DefaultChunkerConfig() *ChunkerConfig {
	return &ChunkerConfig{
		TargetSize:     800,
		Overlap:        100,
		MinSize:        200,
		BoundaryWindow: 200,
	}
}

// ChunkMeta tags every chunk produced from one document.
type ChunkMeta struct {
	DocumentName string
	ProjectID    string
}

// Chunker splits documents into bounded, semantically coherent chunks at
// natural boundaries: paragraph breaks first, then sentence ends, then
// single newlines, falling back to a hard cut.
type Chunker struct {
	config *ChunkerConfig
}

// NewChunker creates a chunker.
func NewChunker(config *ChunkerConfig) *Chunker {
	if config == nil {
		config = DefaultChunkerConfig()
	}
	return &Chunker{config: config}
}

// Chunk splits text into chunks carrying absolute character offsets. It never
// returns empty chunks and never produces a chunk under MinSize unless it is
// the final remainder of the document. An empty input yields an empty slice.
func (c *Chunker) Chunk(text string, meta ChunkMeta) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	overlap := c.config.Overlap
	if max := c.config.TargetSize / 5; overlap > max {
		overlap = max
	}

	var chunks []models.Chunk
	cursor := 0
	for cursor < len(text) {
		remaining := len(text) - cursor
		var end int
		switch {
		case remaining <= c.config.MinSize:
			// Final remainder: emit whole even if under MinSize.
			end = len(text)
		case cursor+c.config.TargetSize >= len(text):
			end = len(text)
		default:
			end = c.findBoundary(text, cursor, cursor+c.config.TargetSize)
		}

		piece := text[cursor:end]
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, models.Chunk{
				Text:         piece,
				Index:        len(chunks),
				CharStart:    cursor,
				CharEnd:      end,
				CharLength:   end - cursor,
				Section:      detectSection(piece),
				DocumentName: meta.DocumentName,
				ProjectID:    meta.ProjectID,
			})
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		// Guarantee forward progress regardless of boundary placement.
		if next <= cursor {
			next = cursor + 1
		}
		cursor = next
	}
	return chunks
}

// findBoundary searches a window around the candidate end offset for the
// highest-priority natural boundary and returns the adjusted end.
func (c *Chunker) findBoundary(text string, start, candidate int) int {
	lo := candidate - c.config.BoundaryWindow
	if lo <= start {
		lo = start + 1
	}
	hi := candidate + c.config.BoundaryWindow
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]

	// Paragraph break first.
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return lo + idx + 2
	}
	// Sentence terminator followed by whitespace.
	for i := len(window) - 2; i >= 0; i-- {
		ch := window[i]
		if (ch == '.' || ch == '!' || ch == '?') && isSpace(window[i+1]) {
			return lo + i + 1
		}
	}
	// Single newline.
	if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
		return lo + idx + 1
	}
	return candidate
}

// detectSection inspects the first few lines of a chunk for a heading:
// markdown (#...), numbered (1.2 Title), or a short ALL-CAPS line. The label
// is a retrieval-quality hint only.
func detectSection(piece string) string {
	lines := strings.SplitN(piece, "\n", 5)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if isNumberedHeading(line) {
			return line
		}
		if len(line) <= 60 && isAllCaps(line) {
			return line
		}
	}
	return ""
}

func isNumberedHeading(line string) bool {
	if len(line) > 80 {
		return false
	}
	i := 0
	digits := 0
	for i < len(line) && (unicode.IsDigit(rune(line[i])) || line[i] == '.') {
		if unicode.IsDigit(rune(line[i])) {
			digits++
		}
		i++
	}
	return digits > 0 && i < len(line) && line[i] == ' '
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 3
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
