// Package notify carries match change notices over NATS JetStream. Notices are
// hints that something changed; the ledger stays authoritative.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/sharding"
	"github.com/nats-io/nats.go"
)

var ErrInvalidNotice = errors.New("invalid change notice")

// Publisher writes notices to the match's sharded subject. The notice id is
// used as the JetStream message id so a retried publish is deduplicated.
type Publisher struct {
	JS nats.JetStreamContext
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{JS: js}
}

func (p *Publisher) Publish(ctx context.Context, notice contracts.ChangeNotice) error {
	if p == nil || p.JS == nil {
		return fmt.Errorf("jetstream is not configured")
	}
	payload, err := Encode(notice)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if notice.NoticeID != "" {
		opts = append(opts, nats.MsgId(notice.NoticeID))
	}
	_, err = p.JS.Publish(sharding.MatchSubject(notice.MatchID), payload, opts...)
	return err
}

func Encode(notice contracts.ChangeNotice) ([]byte, error) {
	if notice.MatchID == "" {
		return nil, fmt.Errorf("%w: match_id is required", ErrInvalidNotice)
	}
	if notice.ShardID == 0 {
		notice.ShardID = sharding.ShardOf(notice.MatchID)
	}
	return json.Marshal(notice)
}

func Decode(payload []byte) (contracts.ChangeNotice, error) {
	var notice contracts.ChangeNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return contracts.ChangeNotice{}, fmt.Errorf("%w: %v", ErrInvalidNotice, err)
	}
	if notice.MatchID == "" {
		return contracts.ChangeNotice{}, fmt.Errorf("%w: match_id is required", ErrInvalidNotice)
	}
	return notice, nil
}

// Message is one delivered notice plus its stream sequence (0 when unknown).
type Message struct {
	Notice contracts.ChangeNotice
	Seq    uint64
}

// Source opens an upstream feed of notices for a single match. The returned
// stop function releases it.
type Source interface {
	Subscribe(matchID string, handle func(Message)) (stop func(), err error)
}

// NATSSource subscribes with an ephemeral JetStream consumer that only
// delivers notices published after the subscription starts.
type NATSSource struct {
	JS nats.JetStreamContext
}

func (s NATSSource) Subscribe(matchID string, handle func(Message)) (func(), error) {
	if s.JS == nil {
		return nil, fmt.Errorf("jetstream is not configured")
	}
	sub, err := s.JS.Subscribe(sharding.MatchSubject(matchID), func(msg *nats.Msg) {
		notice, err := Decode(msg.Data)
		if err != nil {
			return
		}
		var seq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			seq = meta.Sequence.Stream
		}
		handle(Message{Notice: notice, Seq: seq})
	}, nats.DeliverNew())
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
