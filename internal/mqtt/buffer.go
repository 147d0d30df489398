package mqtt

// outgoing is a formatted message held back while the broker is unreachable.
type outgoing struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a bounded FIFO that keeps the newest entries. Not safe for
// concurrent use; RealPublisher guards it with its own mutex.
type backlog[T any] struct {
	items   []T
	start   int // index of the oldest entry
	size    int
	dropped int // entries overwritten since the last take
}

func newBacklog[T any](capacity int) *backlog[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog[T]{items: make([]T, capacity)}
}

// put appends v. When full the oldest entry is overwritten and put reports
// true if this is the first loss since the backlog was last emptied.
func (b *backlog[T]) put(v T) bool {
	n := len(b.items)
	if b.size < n {
		b.items[(b.start+b.size)%n] = v
		b.size++
		return false
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % n
	b.dropped++
	return b.dropped == 1
}

// take removes and returns every entry, oldest first.
func (b *backlog[T]) take() []T {
	if b.size == 0 {
		return nil
	}
	n := len(b.items)
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.start+i)%n])
	}
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start, b.size, b.dropped = 0, 0, 0
	return out
}

func (b *backlog[T]) len() int { return b.size }

func (b *backlog[T]) cap() int { return len(b.items) }
