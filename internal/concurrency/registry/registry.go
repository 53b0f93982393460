package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"stockstream/internal/domain/model"
	"stockstream/internal/domain/port"
)

// Handle связывает подписчика с его областью (все символы или один).
type Handle struct {
	id    string
	scope model.Scope
	sub   port.Subscriber
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Scope() model.Scope { return h.scope }

func (h *Handle) Subscriber() port.Subscriber { return h.sub }

func (h *Handle) Deliver(ctx context.Context, u model.PriceUpdate) error {
	return h.sub.Deliver(ctx, u)
}

// Registry хранит глобальных подписчиков и подписчиков по символу.
// Пустые множества по символу удаляются сразу.
type Registry struct {
	mu       sync.RWMutex
	global   map[string]*Handle
	bySymbol map[string]map[string]*Handle
}

func New() *Registry {
	return &Registry{
		global:   make(map[string]*Handle),
		bySymbol: make(map[string]map[string]*Handle),
	}
}

func (r *Registry) AttachGlobal(sub port.Subscriber) *Handle {
	h := &Handle{id: uuid.NewString(), scope: model.ScopeAll, sub: sub}
	r.mu.Lock()
	r.global[h.id] = h
	r.mu.Unlock()
	return h
}

func (r *Registry) AttachSymbol(symbol string, sub port.Subscriber) *Handle {
	h := &Handle{id: uuid.NewString(), scope: model.ScopeSymbol(symbol), sub: sub}
	r.mu.Lock()
	set, ok := r.bySymbol[h.scope.Symbol]
	if !ok {
		set = make(map[string]*Handle)
		r.bySymbol[h.scope.Symbol] = set
	}
	set[h.id] = h
	r.mu.Unlock()
	return h
}

// Detach можно вызывать повторно и с nil.
func (r *Registry) Detach(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.scope.IsAll() {
		delete(r.global, h.id)
		return
	}
	set, ok := r.bySymbol[h.scope.Symbol]
	if !ok {
		return
	}
	delete(set, h.id)
	if len(set) == 0 {
		delete(r.bySymbol, h.scope.Symbol)
	}
}

// Matching возвращает снимок: глобальные подписчики плюс подписчики символа.
func (r *Registry) Matching(symbol string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySymbol[symbol]
	out := make([]*Handle, 0, len(r.global)+len(set))
	for _, h := range r.global {
		out = append(out, h)
	}
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (r *Registry) Counts() model.SubscriberCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	per := make(map[string]int, len(r.bySymbol))
	total := len(r.global)
	for sym, set := range r.bySymbol {
		per[sym] = len(set)
		total += len(set)
	}
	return model.SubscriberCounts{Global: len(r.global), PerSymbol: per, Total: total}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.global)
	for _, set := range r.bySymbol {
		n += len(set)
	}
	return n
}

// Contains reports whether h is still attached.
func (r *Registry) Contains(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h.scope.IsAll() {
		_, ok := r.global[h.id]
		return ok
	}
	_, ok := r.bySymbol[h.scope.Symbol][h.id]
	return ok
}
