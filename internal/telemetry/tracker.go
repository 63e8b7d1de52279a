// Package telemetry keeps the last temperature reading received from the
// broker and formats it for display.
package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// Unavailable is displayed when no reading has been received yet.
const Unavailable = "Indisponible"

// Reading is one telemetry sample.
type Reading struct {
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

// Tracker holds the most recent reading. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	last    Reading
	present bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record replaces the last reading.
func (t *Tracker) Record(value float64, at time.Time) {
	t.mu.Lock()
	t.last = Reading{Value: value, ReceivedAt: at}
	t.present = true
	t.mu.Unlock()
}

// Last returns the last reading and whether one was ever received.
func (t *Tracker) Last() (Reading, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.present
}

// Display renders the last reading as "21.50°C", or Unavailable.
func (t *Tracker) Display() string {
	r, ok := t.Last()
	if !ok {
		return Unavailable
	}
	return FormatCelsius(r.Value)
}

// FormatCelsius renders a temperature with two decimals.
func FormatCelsius(v float64) string {
	return fmt.Sprintf("%.2f°C", v)
}
