package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdate is a single stock tick. Treat it as a value: it is copied into
// the store and handed to every subscriber, nobody mutates it afterwards.
type PriceUpdate struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     Timestamp `json:"timestamp"`
}

// NewPriceUpdate normalizes the symbol, rounds the numeric fields to two
// decimals and truncates the timestamp to the second.
func NewPriceUpdate(symbol string, price, change, changePercent float64, ts time.Time) PriceUpdate {
	return PriceUpdate{
		Symbol:        NormalizeSymbol(symbol),
		Price:         Round2(price),
		Change:        Round2(change),
		ChangePercent: Round2(changePercent),
		Timestamp:     NewTimestamp(ts),
	}
}

// DecodePriceUpdate parses one JSON record as produced upstream.
func DecodePriceUpdate(data []byte) (PriceUpdate, error) {
	var raw PriceUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return PriceUpdate{}, &ValidationError{Field: "record", Reason: fmt.Sprintf("malformed json: %v", err)}
	}
	return NewPriceUpdate(raw.Symbol, raw.Price, raw.Change, raw.ChangePercent, raw.Timestamp.Time), nil
}

func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Round2 rounds half away from zero to two decimal places. Non-finite values
// are returned unchanged so Validate can reject them.
func Round2(v float64) float64 {
	if !isFinite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func (p PriceUpdate) Validate() error {
	switch {
	case p.Symbol == "":
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	case strings.ContainsAny(p.Symbol, " \t\r\n"):
		return &ValidationError{Field: "symbol", Reason: "must not contain whitespace"}
	case !isFinite(p.Price):
		return &ValidationError{Field: "price", Reason: "must be finite"}
	case p.Price <= 0:
		return &ValidationError{Field: "price", Reason: "must be positive"}
	case !isFinite(p.Change):
		return &ValidationError{Field: "change", Reason: "must be finite"}
	case !isFinite(p.ChangePercent):
		return &ValidationError{Field: "changePercent", Reason: "must be finite"}
	case p.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Reason: "missing"}
	}
	return nil
}

func (p PriceUpdate) String() string {
	return fmt.Sprintf("PriceUpdate{symbol=%s, price=%.2f, change=%.2f, changePercent=%.2f%%, timestamp=%s}",
		p.Symbol, p.Price, p.Change, p.ChangePercent, p.Timestamp)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
