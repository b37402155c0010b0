package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gosuda/custos/internal/domain"
)

// PubSub publishes written actions and streams them back to subscribers.
type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// ActionEvent is the feed payload for one written action.
type ActionEvent struct {
	ID          uuid.UUID           `json:"id"`
	Agent       domain.AgentRef     `json:"agent"`
	Protected   domain.ProtectedRef `json:"protected"`
	Kind        domain.ActionKind   `json:"kind"`
	Attributes  domain.Snapshot     `json:"protected_attributes"`
	PerformedAt time.Time           `json:"performed_at"`
	CreatedAt   time.Time           `json:"created_at"`
}

func NewActionEvent(a *domain.Action) ActionEvent {
	return ActionEvent{
		ID:          a.ID,
		Agent:       a.Agent,
		Protected:   a.Protected,
		Kind:        a.Kind,
		Attributes:  a.Snapshot,
		PerformedAt: a.PerformedAt,
		CreatedAt:   a.CreatedAt,
	}
}

// PublishAction sends a to the global action channel and to the channel of
// its protected type in one round trip.
func (ps *PubSub) PublishAction(ctx context.Context, a *domain.Action) error {
	payload, err := json.Marshal(NewActionEvent(a))
	if err != nil {
		return fmt.Errorf("redis.PubSub.PublishAction: marshal: %w", err)
	}

	pipe := ps.client.Pipeline()
	pipe.Publish(ctx, ActionChannel(""), payload)
	pipe.Publish(ctx, ActionChannel(a.Protected.Type), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.PubSub.PublishAction: %w", err)
	}
	return nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
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

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// ActionChannel returns the channel carrying actions on records of
// protectedType, or every action when protectedType is empty.
func ActionChannel(protectedType string) string {
	if protectedType == "" {
		return "actions"
	}
	return "actions:" + protectedType
}
