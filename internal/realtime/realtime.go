// Package realtime is the change feed clients use to invalidate cached
// views.  Changes are fanned out through Redis pub/sub on channels named
// realtime:{topic} so every server instance can stream them over SSE.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "realtime:"

// ErrUnavailable is returned by Subscribe when Redis is not configured.
var ErrUnavailable = errors.New("realtime feed unavailable")

// Change describes one mutation.  Clients refetch the entity rather than
// trusting a payload.
type Change struct {
	Topic  string    `json:"topic"`
	Entity string    `json:"entity"`
	ID     uint64    `json:"id"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

func HallTopic(id uint64) string     { return "hall:" + strconv.FormatUint(id, 10) }
func BookingTopic(id uint64) string  { return "booking:" + strconv.FormatUint(id, 10) }
func MerchantTopic(id uint64) string { return "merchant:" + strconv.FormatUint(id, 10) }

// ParseTopic splits "kind:id" and validates the kind.
func ParseTopic(topic string) (kind string, id uint64, err error) {
	kind, raw, ok := strings.Cut(strings.TrimSpace(topic), ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid topic %q", topic)
	}
	switch kind {
	case "hall", "booking", "merchant":
	default:
		return "", 0, fmt.Errorf("unknown topic kind %q", kind)
	}
	id, err = strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return "", 0, fmt.Errorf("invalid topic id in %q", topic)
	}
	return kind, id, nil
}

// Hub publishes and subscribes to changes.  A nil Redis client turns
// Publish into a no-op.
type Hub struct {
	rdb *redis.Client
	log *zap.Logger
	now func() time.Time
}

func NewHub(rdb *redis.Client, log *zap.Logger) *Hub {
	return &Hub{rdb: rdb, log: log, now: time.Now}
}

// Publish emits one change per topic.  Failures are logged only; clients
// also poll, so a lost change delays a refresh but loses no data.
func (h *Hub) Publish(ctx context.Context, entity string, id uint64, action string, topics ...string) {
	if h == nil || h.rdb == nil {
		return
	}
	at := h.now().UTC()
	for _, topic := range topics {
		payload, err := json.Marshal(Change{Topic: topic, Entity: entity, ID: id, Action: action, At: at})
		if err != nil {
			continue
		}
		if err := h.rdb.Publish(ctx, channelPrefix+topic, string(payload)).Err(); err != nil {
			h.log.Warn("realtime: publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Subscription is a live feed for a set of topics.
type Subscription struct {
	C      <-chan Change
	pubsub *redis.PubSub
}

// Close stops the subscription.
func (s *Subscription) Close() error { return s.pubsub.Close() }

// Subscribe listens on the given topics until ctx is done or Close is
// called.  Malformed messages are skipped.
func (h *Hub) Subscribe(ctx context.Context, topics []string) (*Subscription, error) {
	if h == nil || h.rdb == nil {
		return nil, ErrUnavailable
	}
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = channelPrefix + t
	}
	ps := h.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &Subscription{C: out, pubsub: ps}, nil
}
