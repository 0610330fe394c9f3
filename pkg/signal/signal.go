// Package signal implements a typed FIFO observer list with persistent,
// one-shot, and channel-returning subscriptions.
package signal

// Conn is a handle to one subscription. Disconnecting unlinks it in O(1) and
// is safe from inside an emit of the same signal.
type Conn[T any] struct {
	fn         func(T)
	once       bool
	seq        uint64
	prev, next *Conn[T]
	sig        *Signal[T]
}

// Disconnect removes the subscription. It is idempotent.
func (c *Conn[T]) Disconnect() {
	s := c.sig
	if s == nil {
		return
	}
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		s.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		s.tail = c.prev
	}
	// next is kept so an emit that already captured c can step past it.
	c.prev, c.sig = nil, nil
}

// Signal is a doubly linked list of subscriptions, emitted in FIFO order by
// connection time. The zero value is ready to use. Not goroutine-safe; the
// owner serializes access.
type Signal[T any] struct {
	head, tail *Conn[T]
	seq        uint64
}

// Connect registers a persistent callback.
func (s *Signal[T]) Connect(fn func(T)) *Conn[T] {
	return s.link(fn, false)
}

// Once registers a callback that disconnects itself after its first call.
func (s *Signal[T]) Once(fn func(T)) *Conn[T] {
	return s.link(fn, true)
}

// OnceChan returns a buffered channel that receives the first emitted value.
// Registration happens now, strictly before any later emission.
func (s *Signal[T]) OnceChan() <-chan T {
	ch := make(chan T, 1)
	s.link(func(v T) { ch <- v }, true)
	return ch
}

func (s *Signal[T]) link(fn func(T), once bool) *Conn[T] {
	s.seq++
	c := &Conn[T]{fn: fn, once: once, seq: s.seq, sig: s, prev: s.tail}
	if s.tail != nil {
		s.tail.next = c
	} else {
		s.head = c
	}
	s.tail = c
	return c
}

// Emit invokes every current subscription with v. The next pointer is read
// before the callback runs, so a callback may disconnect any subscription,
// including its own; a subscription disconnected before its turn is skipped.
// Subscriptions added during the emit do not fire until the next one.
func (s *Signal[T]) Emit(v T) {
	cutoff := s.seq
	for c := s.head; c != nil; {
		if c.seq > cutoff {
			break
		}
		next := c.next
		if c.sig == nil {
			c = next
			continue
		}
		if c.once {
			c.Disconnect()
		}
		c.fn(v)
		c = next
	}
}
