// Package conversation keeps a bounded per-project log of user/assistant
// turns. Capacity is fixed; the oldest turns are evicted first, so memory
// stays predictable under many concurrent projects.
package conversation

import (
	"sync"

	"github.com/qamind/qamind/internal/models"
)

// DefaultCapacity is the number of turns retained per project.
const DefaultCapacity = 20

// ring is a fixed-capacity FIFO of turns.
type ring struct {
	turns []models.ConversationTurn
	start int
	count int
}

func (r *ring) append(turn models.ConversationTurn, capacity int) {
	if r.turns == nil {
		r.turns = make([]models.ConversationTurn, capacity)
	}
	idx := (r.start + r.count) % len(r.turns)
	r.turns[idx] = turn
	if r.count < len(r.turns) {
		r.count++
	} else {
		// Full: the slot just written replaced the oldest turn.
		r.start = (r.start + 1) % len(r.turns)
	}
}

func (r *ring) recent(n int) []models.ConversationTurn {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]models.ConversationTurn, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.turns[(r.start+i)%len(r.turns)])
	}
	return out
}

// History is an in-memory conversation store.
type History struct {
	mu       sync.RWMutex
	capacity int
	projects map[string]*ring
}

// NewHistory creates a store retaining capacity turns per project
// (DefaultCapacity when <= 0).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		capacity: capacity,
		projects: make(map[string]*ring),
	}
}

// Append records a turn, evicting the oldest once at capacity.
func (h *History) Append(projectID string, turn models.ConversationTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.projects[projectID]
	if !ok {
		r = &ring{}
		h.projects[projectID] = r
	}
	r.append(turn, h.capacity)
}

// Recent returns up to n most recent turns, oldest first. n <= 0 returns all
// retained turns.
func (h *History) Recent(projectID string, n int) []models.ConversationTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.projects[projectID]
	if !ok {
		return nil
	}
	return r.recent(n)
}

// Clear empties a project's history without removing the project entry.
func (h *History) Clear(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.projects[projectID]; ok {
		*r = ring{}
	}
}

// Delete removes a project's history entirely.
func (h *History) Delete(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.projects, projectID)
}

// Len returns how many turns are retained for a project.
func (h *History) Len(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.projects[projectID]; ok {
		return r.count
	}
	return 0
}
