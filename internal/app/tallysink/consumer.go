package tallysink

import (
	"context"
	"time"

	"github.com/matchday/livescore/internal/messaging"
	"github.com/matchday/livescore/internal/sharding"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const handleTimeout = 3 * time.Second

// Consume joins the tally-sink queue group on every match subject. Deliveries
// are acked only after the projection is stored.
func (s *Service) Consume(ctx context.Context, js nats.JetStreamContext) (*nats.Subscription, error) {
	return js.QueueSubscribe(sharding.AllMatchSubjects, messaging.TallySinkDurable, func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, err := msg.Metadata(); err == nil {
			eventSeq = meta.Sequence.Stream
		}

		handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		err := s.Handle(handleCtx, msg.Data, eventSeq)
		switch DispositionFor(err) {
		case Ack:
			_ = msg.Ack()
		case Term:
			log.Warn().Err(err).Uint64("seq", eventSeq).Msg("discarding notice")
			deliveriesTotal.WithLabelValues("term").Inc()
			_ = msg.Term()
		default:
			log.Error().Err(err).Uint64("seq", eventSeq).Msg("tally projection failed")
			deliveriesTotal.WithLabelValues("nak").Inc()
			_ = msg.Nak()
		}
	}, nats.ManualAck(), nats.AckWait(30*time.Second), nats.BindStream(messaging.MatchEventsStream))
}
