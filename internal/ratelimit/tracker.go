// Package ratelimit tracks per-provider call rates over a sliding window and
// advises the gateway on provider ordering. It is advisory only: it never
// blocks a call.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State describes a provider's current call-rate pressure.
type State string

const (
	// StateOK means the provider is under all thresholds.
	StateOK State = "ok"
	// StateWarning means the provider crossed the auto-switch threshold and
	// should be deprioritized in gateway ordering.
	StateWarning State = "warning"
	// StateHigh means the provider crossed the warning threshold.
	StateHigh State = "high"
)

// ResetPolicy controls how the deprioritize flag clears.
type ResetPolicy string

const (
	// ResetSticky keeps the flag until an operator calls Reset or the
	// process restarts.
	ResetSticky ResetPolicy = "sticky"
	// ResetAuto clears the flag once the measured rate has stayed under the
	// switch threshold for AutoResetAfter.
	ResetAuto ResetPolicy = "auto"
)

// Config holds tracker thresholds and the reset policy.
type Config struct {
	// Window is the sliding window for per-minute counts.
	Window time.Duration
	// WarnThreshold is the calls-per-window count that triggers a warning log.
	WarnThreshold int
	// SwitchThreshold is the stricter count that marks the provider for
	// deprioritization.
	SwitchThreshold int
	// WarnInterval de-duplicates warning logs per provider.
	WarnInterval time.Duration
	// ResetPolicy selects sticky or automatic flag reset.
	ResetPolicy ResetPolicy
	// AutoResetAfter is the quiet period required before an automatic reset.
	AutoResetAfter time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Window:          time.Minute,
		WarnThreshold:   50,
		SwitchThreshold: 40,
		WarnInterval:    time.Minute,
		ResetPolicy:     ResetAuto,
		AutoResetAfter:  5 * time.Minute,
	}
}

// Status is a point-in-time view of one provider's call rate.
type Status struct {
	Provider        string `json:"provider"`
	CallsLastMinute int    `json:"calls_last_minute"`
	CallsLastHour   int    `json:"calls_last_hour"`
	Headroom        int    `json:"headroom"`
	State           State  `json:"state"`
	Deprioritized   bool   `json:"deprioritized"`
}

type window struct {
	calls         []time.Time
	lastWarned    time.Time
	deprioritized bool
	lastOverLimit time.Time
}

// Tracker counts provider calls in a sliding window.
type Tracker struct {
	mu        sync.Mutex
	config    *Config
	logger    *logrus.Logger
	providers map[string]*window
	now       func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(config *Config, logger *logrus.Logger) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		config:    config,
		logger:    logger,
		providers: make(map[string]*window),
		now:       time.Now,
	}
}

// Record counts one call against the provider's window. Crossing the warning
// threshold logs once per WarnInterval; crossing the switch threshold marks
// the provider deprioritized.
func (t *Tracker) Record(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.window(provider)
	w.calls = append(w.calls, now)
	t.prune(w, now)

	perMinute := t.countSince(w, now.Add(-t.config.Window))
	if perMinute >= t.config.SwitchThreshold {
		w.lastOverLimit = now
		if !w.deprioritized {
			w.deprioritized = true
			t.logger.WithFields(logrus.Fields{
				"provider": provider,
				"calls":    perMinute,
				"window":   t.config.Window,
			}).Warn("Provider crossed auto-switch threshold, deprioritizing")
		}
	}
	if perMinute >= t.config.WarnThreshold && now.Sub(w.lastWarned) >= t.config.WarnInterval {
		w.lastWarned = now
		t.logger.WithFields(logrus.Fields{
			"provider": provider,
			"calls":    perMinute,
			"window":   t.config.Window,
		}).Warn("Provider call rate is high")
	}
}

// Status returns the provider's current rate view.
func (t *Tracker) Status(provider string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.window(provider)
	t.prune(w, now)

	perMinute := t.countSince(w, now.Add(-t.config.Window))
	perHour := len(w.calls)

	state := StateOK
	switch {
	case perMinute >= t.config.WarnThreshold:
		state = StateHigh
	case perMinute >= t.config.SwitchThreshold:
		state = StateWarning
	}

	headroom := t.config.WarnThreshold - perMinute
	if headroom < 0 {
		headroom = 0
	}
	return Status{
		Provider:        provider,
		CallsLastMinute: perMinute,
		CallsLastHour:   perHour,
		Headroom:        headroom,
		State:           state,
		Deprioritized:   t.isDeprioritized(w, now),
	}
}

// Deprioritized reports whether the gateway should move this provider to the
// back of its try order.
func (t *Tracker) Deprioritized(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isDeprioritized(t.window(provider), t.now())
}

// Reset clears the deprioritize flag for a provider.
func (t *Tracker) Reset(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window(provider)
	w.deprioritized = false
	w.lastOverLimit = time.Time{}
}

func (t *Tracker) isDeprioritized(w *window, now time.Time) bool {
	if !w.deprioritized {
		return false
	}
	if t.config.ResetPolicy == ResetAuto && now.Sub(w.lastOverLimit) >= t.config.AutoResetAfter {
		w.deprioritized = false
		return false
	}
	return true
}

func (t *Tracker) window(provider string) *window {
	w, ok := t.providers[provider]
	if !ok {
		w = &window{}
		t.providers[provider] = w
	}
	return w
}

// prune drops timestamps older than one hour, the longest horizon reported.
func (t *Tracker) prune(w *window, now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(w.calls) && w.calls[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.calls = append(w.calls[:0], w.calls[idx:]...)
	}
}

func (t *Tracker) countSince(w *window, cutoff time.Time) int {
	count := 0
	for i := len(w.calls) - 1; i >= 0; i-- {
		if w.calls[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}
