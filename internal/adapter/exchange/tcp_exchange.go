package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

// TCPExchange reads newline-delimited price records from a TCP feed.
// A line is either a JSON record or CSV: symbol,price[,change,changePercent[,timestamp]].
type TCPExchange struct {
	name   string
	host   string
	port   int
	conn   net.Conn
	log    *zap.Logger
	cancel context.CancelFunc
	now    func() time.Time
	mu     sync.RWMutex
}

func NewTCPExchange(name, host string, port int, log *zap.Logger) *TCPExchange {
	return &TCPExchange{
		name: name,
		host: host,
		port: port,
		log:  log,
		now:  time.Now,
	}
}

func (t *TCPExchange) Name() string {
	return t.name
}

func (t *TCPExchange) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	t.log.Info("connecting to TCP exchange", zap.String("exchange", t.name), zap.String("addr", addr))

	dialer := net.Dialer{
		Timeout: 5 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s at %s: %w", t.name, addr, err)
	}

	if t.conn != nil {
		t.conn.Close()
	}

	t.conn = conn
	t.log.Info("connected to TCP exchange", zap.String("exchange", t.name), zap.String("addr", addr))
	return nil
}

func (t *TCPExchange) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	currentConn := t.conn
	t.mu.Unlock()

	if currentConn == nil {
		cancel()
		errCh <- model.NewSourceFatal(t.name, errors.New("not connected"))
		close(out)
		close(errCh)
		return out, errCh
	}

	// ReadString не смотрит на контекст, поэтому закрываем соединение при отмене
	go func() {
		<-readCtx.Done()
		currentConn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errCh)
		defer cancel()

		reader := bufio.NewReader(currentConn)
		lineCount := 0

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if readCtx.Err() != nil {
					t.log.Info("read prices stopped", zap.String("exchange", t.name), zap.Int("lines_read", lineCount))
					return
				}
				t.log.Error("error reading from TCP exchange", zap.String("exchange", t.name), zap.Error(err))
				select {
				case errCh <- model.NewSourceFatal(t.name, fmt.Errorf("read error: %w", err)):
				case <-readCtx.Done():
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			update, err := t.parseLine(line)
			if err != nil {
				select {
				case errCh <- fmt.Errorf("%s: %w", t.name, err):
				case <-readCtx.Done():
					return
				}
				continue
			}

			lineCount++
			select {
			case out <- update:
			case <-readCtx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func (t *TCPExchange) parseLine(line string) (model.PriceUpdate, error) {
	if strings.HasPrefix(line, "{") {
		u, err := model.DecodePriceUpdate([]byte(line))
		if err != nil {
			return model.PriceUpdate{}, err
		}
		if u.Timestamp.IsZero() {
			u.Timestamp = model.NewTimestamp(t.now())
		}
		return u, nil
	}
	return t.parseCSV(line)
}

func (t *TCPExchange) parseCSV(line string) (model.PriceUpdate, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 && len(parts) != 4 && len(parts) != 5 {
		return model.PriceUpdate{}, &model.ValidationError{Field: "record", Reason: "unrecognized line " + strconv.Quote(truncate(line, 50))}
	}

	nums := make([]float64, 3)
	for i := 1; i < len(parts) && i <= 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return model.PriceUpdate{}, &model.ValidationError{Field: "record", Reason: fmt.Sprintf("bad number %q", parts[i])}
		}
		nums[i-1] = v
	}

	ts := t.now()
	if len(parts) == 5 {
		parsed, err := model.ParseTimestamp(strings.TrimSpace(parts[4]))
		if err != nil {
			return model.PriceUpdate{}, &model.ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		ts = parsed.Time
	}

	return model.NewPriceUpdate(parts[0], nums[0], nums[1], nums[2], ts), nil
}

func (t *TCPExchange) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}

	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close %s: %w", t.name, err)
		}
		t.log.Info("TCP exchange closed", zap.String("exchange", t.name))
	}

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
