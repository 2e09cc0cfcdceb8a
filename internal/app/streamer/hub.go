package streamer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/notify"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDebounce = 75 * time.Millisecond
	DefaultMaxWait  = 4 * DefaultDebounce
	DefaultBuffer   = 64

	snapshotTimeout = 3 * time.Second
)

// SnapshotFunc reads the authoritative view of a match.
type SnapshotFunc func(ctx context.Context, matchID string) (matchsync.Snapshot, error)

// Update is one message for a viewer: either a relayed notice or a refreshed snapshot.
type Update struct {
	Notice   *contracts.ChangeNotice
	Seq      uint64
	Snapshot *matchsync.Snapshot
}

func (u Update) kind() string {
	if u.Snapshot != nil {
		return "snapshot"
	}
	return "notice"
}

// Hub multiplexes one upstream notice subscription per match to any number of
// viewers. Slow viewers drop updates instead of stalling the others; the
// debounced snapshot that follows every burst brings them back in line.
// MaxWait bounds how long a steady stream of notices can hold that snapshot back.
type Hub struct {
	Source   notify.Source
	Snapshot SnapshotFunc
	Debounce time.Duration
	MaxWait  time.Duration
	Buffer   int
	Clock    clockwork.Clock

	mu      sync.Mutex
	byMatch map[string]*matchStream
}

func NewHub(source notify.Source, snapshot SnapshotFunc) *Hub {
	return &Hub{
		Source:   source,
		Snapshot: snapshot,
		Debounce: DefaultDebounce,
		MaxWait:  DefaultMaxWait,
		Buffer:   DefaultBuffer,
		Clock:    clockwork.NewRealClock(),
		byMatch:  map[string]*matchStream{},
	}
}

// Subscription is one viewer's feed. C is closed once Cancel has run.
type Subscription struct {
	ID      string
	MatchID string
	C       <-chan Update

	once   sync.Once
	cancel func()
}

// Cancel detaches this viewer only. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type matchStream struct {
	matchID string
	hub     *Hub

	mu          sync.Mutex
	stop        func()
	subscribers map[string]chan Update
	pendingSeq  uint64
	pendingAt   time.Time
	refresh     clockwork.Timer
}

func (h *Hub) Subscribe(matchID string) (*Subscription, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, fmt.Errorf("match_id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byMatch == nil {
		h.byMatch = map[string]*matchStream{}
	}

	stream, ok := h.byMatch[matchID]
	if !ok {
		stream = &matchStream{
			matchID:     matchID,
			hub:         h,
			subscribers: map[string]chan Update{},
		}
		stop, err := h.Source.Subscribe(matchID, stream.handle)
		if err != nil {
			return nil, fmt.Errorf("subscribe to match %s: %w", matchID, err)
		}
		stream.stop = stop
		h.byMatch[matchID] = stream
		log.Debug().Str("match_id", matchID).Msg("upstream subscription opened")
	}

	buffer := h.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.NewString()
	ch := make(chan Update, buffer)
	stream.mu.Lock()
	stream.subscribers[id] = ch
	stream.mu.Unlock()
	activeViewers.Inc()

	return &Subscription{
		ID:      id,
		MatchID: matchID,
		C:       ch,
		cancel:  func() { h.unsubscribe(stream, id) },
	}, nil
}

// Viewers reports how many subscriptions are open for matchID.
func (h *Hub) Viewers(matchID string) int {
	h.mu.Lock()
	stream, ok := h.byMatch[strings.TrimSpace(matchID)]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subscribers)
}

func (h *Hub) unsubscribe(stream *matchStream, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream.mu.Lock()
	ch, ok := stream.subscribers[id]
	if ok {
		delete(stream.subscribers, id)
		close(ch)
	}
	empty := len(stream.subscribers) == 0
	var (
		stop    func()
		refresh clockwork.Timer
	)
	if empty {
		stop, refresh = stream.stop, stream.refresh
		stream.stop, stream.refresh = nil, nil
		stream.pendingSeq = 0
	}
	stream.mu.Unlock()

	if !ok {
		return
	}
	activeViewers.Dec()
	if !empty {
		return
	}
	if current, found := h.byMatch[stream.matchID]; found && current == stream {
		delete(h.byMatch, stream.matchID)
	}
	if refresh != nil {
		refresh.Stop()
	}
	if stop != nil {
		stop()
	}
	log.Debug().Str("match_id", stream.matchID).Msg("upstream subscription closed")
}

func (s *matchStream) handle(msg notify.Message) {
	notice := msg.Notice
	s.broadcast(Update{Notice: &notice, Seq: msg.Seq})
	s.scheduleSnapshot(msg.Seq)
}

// broadcast sends under the lock so a concurrent Cancel never closes a channel
// mid-send. Sends never block.
func (s *matchStream) broadcast(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			droppedTotal.WithLabelValues(u.kind()).Inc()
		}
	}
}

func (s *matchStream) scheduleSnapshot(seq uint64) {
	if s.hub.Snapshot == nil {
		return
	}
	debounce := s.hub.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	maxWait := s.hub.MaxWait
	if maxWait <= 0 {
		maxWait = 4 * debounce
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}
	if seq > s.pendingSeq {
		s.pendingSeq = seq
	}
	now := s.hub.clock().Now()
	if s.refresh == nil {
		s.pendingAt = now
		s.refresh = s.hub.clock().AfterFunc(debounce, s.runSnapshotRefresh)
		return
	}
	// The refresh never moves past pendingAt+maxWait.
	remaining := s.pendingAt.Add(maxWait).Sub(now)
	if remaining <= 0 {
		return
	}
	s.refresh.Reset(min(debounce, remaining))
}

func (s *matchStream) runSnapshotRefresh() {
	s.mu.Lock()
	targetSeq := s.pendingSeq
	s.pendingSeq = 0
	s.pendingAt = time.Time{}
	s.refresh = nil
	hasSubscribers := len(s.subscribers) > 0
	s.mu.Unlock()

	if !hasSubscribers {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	snap, err := s.hub.Snapshot(ctx, s.matchID)
	if err != nil {
		log.Warn().Err(err).Str("match_id", s.matchID).Msg("snapshot refresh failed")
		return
	}
	s.broadcast(Update{Snapshot: &snap, Seq: targetSeq})
}

func (h *Hub) clock() clockwork.Clock {
	if h.Clock == nil {
		return clockwork.NewRealClock()
	}
	return h.Clock
}
