package segment

// Ring is a fixed-capacity ring buffer. Once full, pushes overwrite the
// oldest element. The zero value is not usable; call NewRing.
type Ring[T any] struct {
	buf      []T
	head     int
	size     int
	capacity int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	idx := (r.head + r.size) % r.capacity
	r.buf[idx] = v
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return r.size }

// Items returns the buffered elements, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
	}
	return out
}

// Reset drops all buffered elements.
func (r *Ring[T]) Reset() {
	r.head = 0
	r.size = 0
}
