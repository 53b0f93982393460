package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stockstream/internal/domain/model"
)

// SSEClient is one Server-Sent Events connection.
type SSEClient struct {
	id        string
	out       *outbox
	keepAlive time.Duration
}

func NewSSEClient(id string, bufferSize int, keepAlive time.Duration) *SSEClient {
	return &SSEClient{id: id, out: newOutbox(bufferSize), keepAlive: keepAlive}
}

func (c *SSEClient) ID() string { return c.id }

func (c *SSEClient) Deliver(ctx context.Context, u model.PriceUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}
	return c.out.push(ctx, frame{event: EventStockPrice, data: data, update: &u})
}

// Prime sets what is written before any live update: the snapshot, or the
// info message when there is nothing to show yet. Call after the client is
// attached and before Serve.
func (c *SSEClient) Prime(snapshot []model.PriceUpdate, info string) error {
	if len(snapshot) == 0 {
		c.out.prime([]frame{{event: EventInfo, data: []byte(info)}}, nil)
		return nil
	}
	frames := make([]frame, 0, len(snapshot))
	for _, u := range snapshot {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		frames = append(frames, frame{event: EventStockPrice, data: data})
	}
	c.out.prime(frames, snapshot)
	return nil
}

func (c *SSEClient) Close() { c.out.close() }

// Serve writes the event stream until ctx is done, the client is closed or a write fails.
func (c *SSEClient) Serve(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}
	defer c.out.close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, f := range c.out.takeInitial() {
		if err := writeEvent(w, f); err != nil {
			return err
		}
	}
	flusher.Flush()

	var keepAlive <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.out.closed():
			return nil
		case f := <-c.out.frames:
			if !c.out.keep(f) {
				continue
			}
			if err := writeEvent(w, f); err != nil {
				return err
			}
			flusher.Flush()
		case <-keepAlive:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, f frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
	return err
}
