package contracts

import (
	"time"

	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
	"github.com/matchday/livescore/internal/scoring"
)

type ChangeKind string

const (
	ChangeEventAppended ChangeKind = "event.appended"
	ChangeEventRemoved  ChangeKind = "event.removed"
	ChangeTimerUpdated  ChangeKind = "timer.updated"
)

// ChangeNotice is published by match-api after every authoritative write and
// consumed by match-streamer and tally-sink. It carries the post-write view so
// viewers can patch without a read, but consumers that persist state must
// re-read the ledger instead of trusting notice order.
type ChangeNotice struct {
	NoticeID    string            `json:"notice_id"`
	MatchID     string            `json:"match_id"`
	Kind        ChangeKind        `json:"kind"`
	EventID     string            `json:"event_id,omitempty"`
	Event       *match.Event      `json:"event,omitempty"`
	Timer       *matchclock.Timer `json:"timer,omitempty"`
	Tally       *scoring.Tally    `json:"tally,omitempty"`
	ActorUserID string            `json:"actor_user_id"`
	ActorName   string            `json:"actor_name"`
	OccurredAt  time.Time         `json:"occurred_at"`
	ShardID     int               `json:"shard_id"`
}
