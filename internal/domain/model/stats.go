package model

import "time"

// Statistics summarizes what the price store currently holds.
type Statistics struct {
	SymbolCount         int      `json:"totalSymbols"`
	TotalStoredMessages int      `json:"totalMessages"`
	Symbols             []string `json:"symbols"`
}

// SubscriberCounts summarizes live subscriptions.
type SubscriberCounts struct {
	Global    int            `json:"allStocksConnections"`
	PerSymbol map[string]int `json:"symbolConnections"`
	Total     int            `json:"totalConnections"`
}

// AggregatedPrice is one symbol's summary over an aggregation window.
type AggregatedPrice struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	AveragePrice float64   `json:"average_price"`
	MinPrice     float64   `json:"min_price"`
	MaxPrice     float64   `json:"max_price"`
	Count        int       `json:"count"`
}

// HistoryCursor marks how far a reader has consumed a symbol's history.
// Seq counts updates in arrival order; Generation changes when the store is cleared.
type HistoryCursor struct {
	Generation uint64
	Seq        uint64
}
