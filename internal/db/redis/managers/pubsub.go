package managers

import (
	"context"
	"sync"

	r "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// subscriptionBuffer is the depth of a subscription's decode buffer. The
// consumer owns per-subscriber backpressure; this buffer only smooths decode
// bursts between the Redis reader and the consumer loop.
const subscriptionBuffer = 256

// Subscription is a single-consumer stream of one room's events. The consumer
// must drain Events until it closes; events published while the buffer is
// full are delivered when the consumer catches up, in publish order.
type Subscription struct {
	roomID uuid.UUID
	pubsub *r.PubSub
	events chan *models.EventEnvelope
	logger *utils.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe opens a subscription on the room's update channel and starts
// decoding events. Each call returns an independent subscription with its own
// Redis connection.
func (m *RoomSessionManager) Subscribe(ctx context.Context, roomID uuid.UUID) (*Subscription, error) {
	pubsub := m.client.Subscribe(ctx, RoomUpdatesChannel(roomID))

	// Force the subscribe round trip so a dead backend fails here, not on
	// the first missed event.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		m.logger.Error("Failed to subscribe to room channel", err, "roomId", roomID)
		return nil, err
	}

	sub := &Subscription{
		roomID: roomID,
		pubsub: pubsub,
		events: make(chan *models.EventEnvelope, subscriptionBuffer),
		logger: m.logger.Named("subscription"),
		done:   make(chan struct{}),
	}
	go sub.listen()

	m.logger.Debug("Subscribed to room channel", "roomId", roomID)
	return sub, nil
}

// Events returns the stream of decoded events. The channel closes after
// Close, or when the underlying connection is lost.
func (s *Subscription) Events() <-chan *models.EventEnvelope {
	return s.events
}

// RoomID returns the room this subscription is scoped to.
func (s *Subscription) RoomID() uuid.UUID {
	return s.roomID
}

// Close tears down the Redis subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// listen decodes raw payloads into events until the subscription closes.
func (s *Subscription) listen() {
	defer close(s.events)

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			envelope, err := models.DecodeRoomEvent([]byte(msg.Payload))
			if err != nil {
				// A payload this consumer cannot decode means publisher and
				// subscriber disagree on the wire format.
				s.logger.Error("Dropping undecodable room event", err, "roomId", s.roomID)
				continue
			}
			select {
			case s.events <- envelope:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
