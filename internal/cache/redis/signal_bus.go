package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// journalMaxLen caps each journal stream via XADD MAXLEN ~.
const journalMaxLen int64 = 10000

// journalField is the stream entry field holding the encoded event.
const journalField = "event"

// SignalBus implements domain.SignalBus. Lifecycle events go out over
// Pub/Sub for live websocket clients and are journaled to a Redis stream so
// the events endpoint can page through recent history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends an encoded event to subscribers of channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on one named channel. The returned channel is closed
// when ctx is cancelled or the subscription drops.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)

	// Wait for the confirmation so a bad connection fails here, not later.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend journals an encoded event, trimming the stream to roughly
// journalMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: journalMaxLen,
		Approx: true,
		Values: map[string]any{journalField: payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead pages through a journal: up to count entries strictly after
// lastID, oldest first. "" and "0" start from the beginning. A malformed
// lastID is ErrValidation.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start, err := rangeStart(lastID)
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}
	msgs, err := sb.rdb.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}
	return journalEntries(msgs), nil
}

// rangeStart turns a cursor into an XRANGE start bound. Any entry id after
// the cursor is wanted, so the bound is exclusive.
func rangeStart(lastID string) (string, error) {
	if lastID == "" || lastID == "0" || lastID == "0-0" {
		return "-", nil
	}
	ms, seq, hasSeq := strings.Cut(lastID, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return "", domain.Invalidf("invalid stream id %q", lastID)
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return "", domain.Invalidf("invalid stream id %q", lastID)
		}
	}
	return "(" + lastID, nil
}

// journalEntries keeps entries carrying an event field and drops the rest.
func journalEntries(msgs []redis.XMessage) []domain.StreamMessage {
	var out []domain.StreamMessage
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values[journalField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return out
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
