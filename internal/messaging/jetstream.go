package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	MatchEventsStream = "MATCH_EVENTS"
	// TallySinkDurable is the durable queue consumer name used by tally-sink.
	TallySinkDurable = "tally-sink"
)

// EnsureStreams creates (or validates) the stream that carries match change
// notices on app.event.>.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(MatchEventsStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      MatchEventsStream,
		Subjects:  []string{"app.event.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	return err
}
