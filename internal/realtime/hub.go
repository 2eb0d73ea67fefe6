// Package realtime fans stored messages out to open streams over Redis pub/sub,
// so every API instance sees messages written on any other.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// AdminChannel receives every message.
const AdminChannel = "messages:admin"

// UserChannel receives the messages of one client's conversations.
func UserChannel(userID utils.SixID) string {
	return "messages:user:" + userID.String()
}

type Hub struct {
	rdb *redis.Client
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{rdb: rdb}
}

// Publish sends msg to its client's channel and to the staff channel.
func (h *Hub) Publish(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	pipe := h.rdb.Pipeline()
	pipe.Publish(ctx, UserChannel(msg.UserID), payload)
	pipe.Publish(ctx, AdminChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	return nil
}

// Subscription delivers messages until Close is called or its context ends.
type Subscription struct {
	C      <-chan *models.Message
	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
}

// Subscribe opens a stream for a user, or for all messages when admin is set.
func (h *Hub) Subscribe(ctx context.Context, userID utils.SixID, admin bool) (*Subscription, error) {
	channel := UserChannel(userID)
	if admin {
		channel = AdminChannel
	}
	pubsub := h.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan *models.Message, 16)
	sub := &Subscription{C: out, pubsub: pubsub, done: make(chan struct{})}
	metrics.RealtimeSubscribers.Inc()

	go func() {
		defer close(out)
		defer metrics.RealtimeSubscribers.Dec()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg models.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					logger.Warnf("Dropping undecodable message on %s: %v", channel, err)
					continue
				}
				select {
				case out <- &msg:
				case <-sub.done:
					return
				case <-ctx.Done():
					sub.Close()
					return
				}
			}
		}
	}()
	return sub, nil
}

// Messages is C, for callers that take a feed interface.
func (s *Subscription) Messages() <-chan *models.Message {
	return s.C
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
	})
}
