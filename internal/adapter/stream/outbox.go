package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"stockstream/internal/domain/model"
)

const (
	DefaultBufferSize = 64

	EventStockPrice = "stock-price"
	EventInfo       = "info"
)

var (
	// ErrSlowSubscriber means the connection's buffer stayed full until the delivery deadline.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	ErrClosed         = errors.New("subscriber closed")
)

type frame struct {
	event  string
	data   []byte
	update *model.PriceUpdate
}

// outbox is the bounded queue between fanout and a connection's writer goroutine.
type outbox struct {
	frames  chan frame
	initial []frame
	// expect holds snapshot entries that were applied but not yet queued
	// when the snapshot was taken; the first live frame equal to one is a repeat.
	expect map[string]model.PriceUpdate
	done   chan struct{}
	once   sync.Once
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &outbox{
		frames: make(chan frame, size),
		done:   make(chan struct{}),
	}
}

func (o *outbox) push(ctx context.Context, f frame) error {
	select {
	case <-o.done:
		return ErrClosed
	default:
	}

	select {
	case o.frames <- f:
		return nil
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSlowSubscriber, ctx.Err())
	}
}

// prime installs the initial frames. The connection is already registered,
// so live frames may be queued; those the snapshot already covers are dropped.
// Must run before the writer starts.
func (o *outbox) prime(initial []frame, snapshot []model.PriceUpdate) {
	var queued []frame
drain:
	for {
		select {
		case f := <-o.frames:
			queued = append(queued, f)
		default:
			break drain
		}
	}

	for _, u := range snapshot {
		at := -1
		for i, f := range queued {
			if f.update != nil && *f.update == u {
				at = i
				break
			}
		}
		if at < 0 {
			// u may still be on its way; anything queued for the symbol with
			// an earlier stamp would arrive after a newer price.
			if o.expect == nil {
				o.expect = make(map[string]model.PriceUpdate)
			}
			o.expect[u.Symbol] = u
		}
		var kept []frame
		for i, f := range queued {
			if f.update != nil && f.update.Symbol == u.Symbol {
				if at >= 0 && i <= at {
					continue
				}
				if at < 0 && f.update.Timestamp.Before(u.Timestamp.Time) {
					continue
				}
			}
			kept = append(kept, f)
		}
		queued = kept
	}
	o.initial = append(initial, queued...)
}

// keep reports whether the writer should send a live frame.
func (o *outbox) keep(f frame) bool {
	if f.update == nil || len(o.expect) == 0 {
		return true
	}
	want, ok := o.expect[f.update.Symbol]
	if !ok {
		return true
	}
	delete(o.expect, f.update.Symbol)
	return *f.update != want
}

// takeInitial hands the snapshot frames to the writer exactly once.
func (o *outbox) takeInitial() []frame {
	f := o.initial
	o.initial = nil
	return f
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
}

func (o *outbox) closed() <-chan struct{} { return o.done }
