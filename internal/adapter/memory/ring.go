package memory

import "stockstream/internal/domain/model"

// ring is a fixed-capacity FIFO. Once full, push overwrites the oldest slot.
type ring struct {
	buf    []model.PriceUpdate
	start  int
	size   int
	pushed uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.PriceUpdate, capacity)}
}

func (r *ring) push(u model.PriceUpdate) {
	if len(r.buf) == 0 {
		return
	}
	r.pushed++
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = u
		r.size++
		return
	}
	r.buf[r.start] = u
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.size }

// at returns the i-th oldest element.
func (r *ring) at(i int) model.PriceUpdate {
	return r.buf[(r.start+i)%len(r.buf)]
}

// tail copies the newest n elements, oldest first.
func (r *ring) tail(n int) []model.PriceUpdate {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []model.PriceUpdate{}
	}
	out := make([]model.PriceUpdate, n)
	offset := r.size - n
	for i := range out {
		out[i] = r.at(offset + i)
	}
	return out
}

// since copies what was pushed after the first seq pushes and is still retained.
func (r *ring) since(seq uint64) []model.PriceUpdate {
	if seq >= r.pushed {
		return []model.PriceUpdate{}
	}
	n := r.pushed - seq
	if n > uint64(r.size) {
		n = uint64(r.size)
	}
	return r.tail(int(n))
}
