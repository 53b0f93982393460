package port

import (
	"context"
	"time"

	"stockstream/internal/domain/model"
)

type ArchivePort interface {
	SaveAggregatedPrices(ctx context.Context, prices []model.AggregatedPrice) error
	LatestAggregates(ctx context.Context, symbol string, since time.Time) ([]model.AggregatedPrice, error)
	Ping(ctx context.Context) error
	Close() error
}

// Pinger is anything the health endpoint can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
