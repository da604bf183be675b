package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Emitter hands structured events to the external notification sink.
// Delivery is at-most-once from the engine's point of view.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

type streamEmitter struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamEmitter publishes events onto a Redis Stream consumed by the
// mail/notification worker. The stream is capped so an absent consumer
// cannot grow it without bound.
func NewStreamEmitter(client *redis.Client, stream string) Emitter {
	return &streamEmitter{
		client: client,
		stream: stream,
		maxLen: 10000,
	}
}

func (e *streamEmitter) Emit(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	emitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = e.client.XAdd(emitCtx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       eventType,
			"payload":    data,
			"emitted_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s to %s: %w", eventType, e.stream, err)
	}

	return nil
}
