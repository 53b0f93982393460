package port

import (
	"context"

	"stockstream/internal/domain/model"
)

// Subscriber is a push target. Deliver must return quickly: transports
// buffer and write on their own goroutine.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, update model.PriceUpdate) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	Name string
	Fn   func(ctx context.Context, update model.PriceUpdate) error
}

func (s SubscriberFunc) ID() string { return s.Name }

func (s SubscriberFunc) Deliver(ctx context.Context, update model.PriceUpdate) error {
	return s.Fn(ctx, update)
}
