package weaveflow

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// EventStream is a pull-based sequence of events produced by one node
// execution. The engine drains it with Next; production is lazy, so a
// node that streams model output only does work as the consumer pulls.
//
// A stream ends when Next returns false. Err reports a failure that
// terminated the stream early; a nil Err means the node ran to
// completion (which may still be a NodeFailed event).
type EventStream struct {
	next    func() (event.Event, bool)
	abandon func()
	err     error
	done    bool
}

// NewStream builds a stream around a generator function. The generator
// is called once per pull and returns false when exhausted.
func NewStream(next func() (event.Event, bool)) *EventStream {
	return &EventStream{next: next}
}

// StreamOf builds a stream over a fixed set of events. Handy for nodes
// that compute their whole result eagerly.
func StreamOf(events ...event.Event) *EventStream {
	i := 0
	return NewStream(func() (event.Event, bool) {
		if i >= len(events) {
			return nil, false
		}
		ev := events[i]
		i++
		return ev, true
	})
}

// ErrStream builds a stream that fails immediately with err.
func ErrStream(err error) *EventStream {
	s := StreamOf()
	s.err = err
	s.done = true
	return s
}

// GoStream runs producer in its own goroutine and exposes its events as
// a stream. The producer must return once emit reports false, which
// happens when the consumer stops pulling or closes the stream.
func GoStream(producer func(emit func(event.Event) bool) error) *EventStream {
	ch := make(chan event.Event)
	stop := make(chan struct{})
	errc := make(chan error, 1)

	go func() {
		defer close(ch)
		emit := func(ev event.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-stop:
				return false
			}
		}
		errc <- producer(emit)
	}()

	var stopped bool
	halt := func() {
		if !stopped {
			stopped = true
			close(stop)
		}
	}

	s := NewStream(nil)
	s.next = func() (event.Event, bool) {
		ev, ok := <-ch
		if !ok {
			halt()
			if err := <-errc; err != nil {
				s.err = err
			}
			return nil, false
		}
		return ev, true
	}
	s.abandon = func() {
		halt()
		for range ch {
		}
		if err := <-errc; err != nil {
			s.err = err
		}
	}
	return s
}

// Next pulls the next event. It returns false when the stream is
// exhausted or has failed; check Err afterwards.
func (s *EventStream) Next() (event.Event, bool) {
	if s.done {
		return nil, false
	}
	ev, ok := s.next()
	if !ok {
		s.done = true
		return nil, false
	}
	return ev, true
}

// Close releases a stream that will not be pulled to exhaustion. For a
// goroutine-backed stream it signals the producer to stop and waits for
// it to exit, so an abandoned stream never leaks its goroutine. Closing
// an exhausted stream is a no-op, as is a further Next.
func (s *EventStream) Close() {
	if s.done {
		return
	}
	s.done = true
	if s.abandon != nil {
		s.abandon()
	}
}

// Err returns the error that terminated the stream, if any. Only valid
// after Next has returned false.
func (s *EventStream) Err() error {
	return s.err
}

// Fail marks the stream as failed. Intended for generator functions
// that need to surface an error mid-stream; the generator should return
// false from the same pull.
func (s *EventStream) Fail(err error) {
	s.err = err
}

// Drain pulls every remaining event into a slice. Used by nodes that
// wrap a sub-engine and by tests.
func (s *EventStream) Drain() ([]event.Event, error) {
	var out []event.Event
	for {
		ev, ok := s.Next()
		if !ok {
			return out, s.Err()
		}
		out = append(out, ev)
	}
}
