package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

const maxMessageSize = 512

// Envelope is the JSON shape of every WebSocket text frame.
type Envelope struct {
	Type    string             `json:"type"`
	Data    *model.PriceUpdate `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
}

// WSClient is one WebSocket connection. Clients only listen; anything they
// send is read and dropped so control frames keep flowing.
type WSClient struct {
	id     string
	conn   *websocket.Conn
	out    *outbox
	logger *zap.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewWSClient(id string, conn *websocket.Conn, bufferSize int, logger *zap.Logger) *WSClient {
	return &WSClient{
		id:         id,
		conn:       conn,
		out:        newOutbox(bufferSize),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *WSClient) ID() string { return c.id }

func (c *WSClient) Deliver(ctx context.Context, u model.PriceUpdate) error {
	data, err := json.Marshal(Envelope{Type: EventStockPrice, Data: &u})
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}
	return c.out.push(ctx, frame{event: EventStockPrice, data: data, update: &u})
}

func (c *WSClient) Prime(snapshot []model.PriceUpdate, info string) error {
	if len(snapshot) == 0 {
		data, err := json.Marshal(Envelope{Type: EventInfo, Message: info})
		if err != nil {
			return err
		}
		c.out.prime([]frame{{event: EventInfo, data: data}}, nil)
		return nil
	}
	frames := make([]frame, 0, len(snapshot))
	for i := range snapshot {
		data, err := json.Marshal(Envelope{Type: EventStockPrice, Data: &snapshot[i]})
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		frames = append(frames, frame{event: EventStockPrice, data: data})
	}
	c.out.prime(frames, snapshot)
	return nil
}

func (c *WSClient) Close() { c.out.close() }

// Run pumps frames until the peer goes away, ctx ends or Close is called.
func (c *WSClient) Run(ctx context.Context) {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(ctx)
	}()

	c.readPump()
	c.out.close()
	<-writeDone
}

func (c *WSClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *WSClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, f := range c.out.takeInitial() {
		if err := c.write(websocket.TextMessage, f.data); err != nil {
			return
		}
	}

	for {
		select {
		case f := <-c.out.frames:
			if !c.out.keep(f) {
				continue
			}
			if err := c.write(websocket.TextMessage, f.data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.out.closed():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *WSClient) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(messageType, data)
}
