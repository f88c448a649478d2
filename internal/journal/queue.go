package journal

import "sync"

// queue is a FIFO ring buffer that doubles its capacity when 70% full, up
// to a fixed maximum. Push fails once the maximum is reached.
type queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int
	closed   bool

	// ready has a pending signal while items are queued.
	ready chan struct{}

	resizeCount int
}

func newQueue[T any](initialCapacity, maxCapacity int) *queue[T] {
	if maxCapacity < 1 {
		maxCapacity = 1
	}
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if initialCapacity > maxCapacity {
		initialCapacity = maxCapacity
	}
	return &queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		max:      maxCapacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item. It returns false when the queue is full or closed.
func (q *queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.count >= q.max {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && q.capacity < q.max {
		q.grow()
	}
	if q.count == q.capacity {
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (q *queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = q.buf[q.head]
		q.buf[q.head] = zero // Clear reference for GC
		q.head = (q.head + 1) % q.capacity
		q.count--
	}

	if q.count > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return result
}

// Ready is signalled when items are available.
func (q *queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes. Queued items can still be drained.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// grow doubles the capacity, bounded by max. Caller holds q.mu.
func (q *queue[T]) grow() {
	newCapacity := q.capacity * 2
	if newCapacity > q.max {
		newCapacity = q.max
	}
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
