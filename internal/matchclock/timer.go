// Package matchclock holds the per-match game clock. The authoritative values
// are Offset, StartedAt and IsRunning; everything a viewer displays is derived
// from them with the viewer's own clock.
package matchclock

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matchday/livescore/internal/match"
)

var (
	ErrAlreadyRunning = fmt.Errorf("timer is already running: %w", match.ErrStateConflict)
	ErrNotRunning     = fmt.Errorf("timer is not running: %w", match.ErrStateConflict)
	ErrInvalidHalf    = match.Invalid("half must be 1, 2, HT or FT")
)

type Half string

const (
	FirstHalf  Half = "1"
	SecondHalf Half = "2"
	HalfTime   Half = "HT"
	FullTime   Half = "FT"
)

func ParseHalf(raw string) (Half, error) {
	switch h := Half(strings.ToUpper(strings.TrimSpace(raw))); h {
	case FirstHalf, SecondHalf, HalfTime, FullTime:
		return h, nil
	default:
		return "", ErrInvalidHalf
	}
}

// MarshalJSON writes the playing halves as numbers and the breaks as strings,
// which is the shape every existing client reads.
func (h Half) MarshalJSON() ([]byte, error) {
	switch h {
	case FirstHalf, SecondHalf:
		return []byte(h), nil
	case HalfTime, FullTime:
		return json.Marshal(string(h))
	default:
		return nil, ErrInvalidHalf
	}
}

func (h *Half) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	parsed, err := ParseHalf(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Timer is the per-match clock value. Offset is whole seconds accumulated over
// all finished running intervals.
type Timer struct {
	IsRunning    bool       `json:"is_running"`
	StartedAt    *time.Time `json:"started_at"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	Offset       int64      `json:"offset"`
	CurrentHalf  Half       `json:"current_half"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
}

// New is the clock of a freshly created match.
func New() Timer {
	return Timer{CurrentHalf: FirstHalf}
}

// Elapsed is the game time in seconds at instant now.
func (t Timer) Elapsed(now time.Time) int64 {
	if !t.IsRunning || t.StartedAt == nil {
		return t.Offset
	}
	return t.Offset + runningSeconds(*t.StartedAt, now)
}

// Minute is the game-clock minute at instant now.
func (t Timer) Minute(now time.Time) int {
	return int(t.Elapsed(now) / 60)
}

func (t Timer) Start(now time.Time) (Timer, error) {
	if t.IsRunning {
		return t, ErrAlreadyRunning
	}
	next := t
	started := now.UTC()
	next.IsRunning = true
	next.StartedAt = &started
	next.PausedAt = nil
	next.stamp(now)
	return next, nil
}

func (t Timer) Pause(now time.Time) (Timer, error) {
	if !t.IsRunning {
		return t, ErrNotRunning
	}
	next := t.stopped(now)
	paused := now.UTC()
	next.PausedAt = &paused
	next.stamp(now)
	return next, nil
}

func (t Timer) Reset(now time.Time) Timer {
	next := Timer{CurrentHalf: t.CurrentHalf, LastSyncedAt: t.LastSyncedAt}
	if next.CurrentHalf == "" {
		next.CurrentHalf = FirstHalf
	}
	next.stamp(now)
	return next
}

// ChangeHalf always stops the clock. A running interval is folded into Offset
// first so the change does not lose game time.
func (t Timer) ChangeHalf(h Half, now time.Time) (Timer, error) {
	if _, err := ParseHalf(string(h)); err != nil {
		return t, err
	}
	next := t
	if t.IsRunning {
		next = t.stopped(now)
		paused := now.UTC()
		next.PausedAt = &paused
	}
	next.CurrentHalf = h
	next.stamp(now)
	return next, nil
}

// Validate checks the structural invariants of a stored or patched timer.
func (t Timer) Validate() error {
	if t.IsRunning && t.StartedAt == nil {
		return match.Invalid("a running timer needs started_at")
	}
	if t.Offset < 0 {
		return match.Invalid("offset must be non-negative")
	}
	if _, err := ParseHalf(string(t.CurrentHalf)); err != nil {
		return match.Invalid("%s", err.Error())
	}
	return nil
}

func (t Timer) stopped(now time.Time) Timer {
	next := t
	if t.StartedAt != nil {
		next.Offset = t.Offset + runningSeconds(*t.StartedAt, now)
	}
	next.IsRunning = false
	next.StartedAt = nil
	return next
}

// stamp keeps LastSyncedAt monotonic even when writers' clocks disagree.
func (t *Timer) stamp(now time.Time) {
	now = now.UTC()
	if now.After(t.LastSyncedAt) {
		t.LastSyncedAt = now
	}
}

// runningSeconds floors to whole seconds and clamps observers whose clock is
// behind the writer that started the interval.
func runningSeconds(startedAt, now time.Time) int64 {
	d := now.Sub(startedAt)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
