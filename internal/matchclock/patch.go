package matchclock

import "time"

// Patch is a partial timer write. Nil fields are left untouched; whatever is
// set wins over the stored value.
type Patch struct {
	IsRunning   *bool      `json:"is_running,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Offset      *int64     `json:"offset,omitempty"`
	CurrentHalf *Half      `json:"current_half,omitempty"`
}

func (p Patch) Empty() bool {
	return p.IsRunning == nil && p.StartedAt == nil && p.Offset == nil && p.CurrentHalf == nil
}

// Apply merges p onto t. A patch that stops a running clock without supplying
// an offset folds the running interval in, and one that starts the clock
// without started_at starts it at now.
func (t Timer) Apply(p Patch, now time.Time) (Timer, error) {
	next := t
	if p.Offset != nil {
		next.Offset = *p.Offset
	}
	if p.CurrentHalf != nil {
		next.CurrentHalf = *p.CurrentHalf
	}
	if p.StartedAt != nil {
		started := p.StartedAt.UTC()
		next.StartedAt = &started
	}
	if p.IsRunning != nil {
		switch {
		case *p.IsRunning && !t.IsRunning:
			next.IsRunning = true
			if p.StartedAt == nil {
				started := now.UTC()
				next.StartedAt = &started
			}
			next.PausedAt = nil
		case !*p.IsRunning && t.IsRunning:
			if p.Offset == nil {
				next = next.stopped(now)
			}
			next.IsRunning = false
			next.StartedAt = nil
			paused := now.UTC()
			next.PausedAt = &paused
		}
	}
	if !next.IsRunning {
		next.StartedAt = nil
	}
	if err := next.Validate(); err != nil {
		return t, err
	}
	next.stamp(now)
	return next, nil
}
