package memory

import (
	"sort"
	"sync"
	"time"

	"stockstream/internal/domain/model"
)

const DefaultHistorySize = 1000

// Store keeps the latest update and a bounded history per symbol.
// Apply is expected from a single ingestion goroutine; reads may come from anywhere.
type Store struct {
	mu          sync.RWMutex
	historySize int
	current     map[string]model.PriceUpdate
	history     map[string]*ring
	generation  uint64
}

func NewStore(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{
		historySize: historySize,
		current:     make(map[string]model.PriceUpdate),
		history:     make(map[string]*ring),
	}
}

// Apply validates u and records it. Nothing is stored when validation fails.
func (s *Store) Apply(u model.PriceUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current[u.Symbol] = u
	h, ok := s.history[u.Symbol]
	if !ok {
		h = newRing(s.historySize)
		s.history[u.Symbol] = h
	}
	h.push(u)
	return nil
}

func (s *Store) Current(symbol string) (model.PriceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.current[symbol]
	return u, ok
}

func (s *Store) AllCurrent() map[string]model.PriceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.PriceUpdate, len(s.current))
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

// RecentHistory returns up to limit of the newest updates in arrival order.
func (s *Store) RecentHistory(symbol string, limit int) []model.PriceUpdate {
	if limit <= 0 {
		return []model.PriceUpdate{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[symbol]
	if !ok {
		return []model.PriceUpdate{}
	}
	return h.tail(limit)
}

// HistoryInRange returns updates with from < timestamp < to. Both bounds are exclusive.
func (s *Store) HistoryInRange(symbol string, from, to time.Time) []model.PriceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.PriceUpdate{}
	h, ok := s.history[symbol]
	if !ok {
		return out
	}
	for i := 0; i < h.len(); i++ {
		u := h.at(i)
		if u.Timestamp.After(from) && u.Timestamp.Before(to) {
			out = append(out, u)
		}
	}
	return out
}

// HistorySince returns the retained updates for symbol that arrived after
// cursor, oldest first, together with the cursor for the next call.
// A cursor from before the last Clear is treated as the start of history.
func (s *Store) HistorySince(symbol string, cursor model.HistoryCursor) ([]model.PriceUpdate, model.HistoryCursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := model.HistoryCursor{Generation: s.generation}
	h, ok := s.history[symbol]
	if !ok {
		return []model.PriceUpdate{}, next
	}
	seq := cursor.Seq
	if cursor.Generation != s.generation {
		seq = 0
	}
	next.Seq = h.pushed
	return h.since(seq), next
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbolsLocked()
}

func (s *Store) symbolsLocked() []string {
	out := make([]string, 0, len(s.current))
	for sym := range s.current {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Statistics() model.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, h := range s.history {
		total += h.len()
	}
	return model.Statistics{
		SymbolCount:         len(s.current),
		TotalStoredMessages: total,
		Symbols:             s.symbolsLocked(),
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = make(map[string]model.PriceUpdate)
	s.history = make(map[string]*ring)
	s.generation++
}
