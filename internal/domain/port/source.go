package port

import (
	"context"

	"stockstream/internal/domain/model"
)

// SourcePort is an upstream feed of price updates.
// Errors wrapping model.ErrSourceFatal end ingestion, anything else is logged.
type SourcePort interface {
	Connect(ctx context.Context) error
	ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error)
	Close() error
	Name() string
}
