package notify

import (
	"context"
	"sync"

	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/sharding"
)

// LocalBus delivers notices in-process. It backs the single-binary mode that
// runs on the in-memory store without NATS. Sequences start at 1.
type LocalBus struct {
	mu       sync.Mutex
	seq      uint64
	nextID   uint64
	handlers map[string]map[uint64]func(Message)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: map[string]map[uint64]func(Message){}}
}

// Publish delivers synchronously to every subscriber of the notice's match.
func (b *LocalBus) Publish(_ context.Context, notice contracts.ChangeNotice) error {
	if _, err := Encode(notice); err != nil {
		return err
	}
	if notice.ShardID == 0 {
		notice.ShardID = sharding.ShardOf(notice.MatchID)
	}

	b.mu.Lock()
	b.seq++
	msg := Message{Notice: notice, Seq: b.seq}
	handlers := make([]func(Message), 0, len(b.handlers[notice.MatchID]))
	for _, h := range b.handlers[notice.MatchID] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(matchID string, handle func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]map[uint64]func(Message){}
	}
	b.nextID++
	id := b.nextID
	if b.handlers[matchID] == nil {
		b.handlers[matchID] = map[uint64]func(Message){}
	}
	b.handlers[matchID][id] = handle

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[matchID], id)
			if len(b.handlers[matchID]) == 0 {
				delete(b.handlers, matchID)
			}
		})
	}, nil
}
