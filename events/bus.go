package events

import (
	"context"
	"sync"
	"time"
)

// Bus broadcasts one run's events to any number of observers. Publish never
// blocks: each subscriber owns an unbounded queue drained by its own
// goroutine, so a slow consumer lags without stalling the executor or its
// peers.
type Bus struct {
	threadID string
	runID    string

	mu     sync.Mutex
	seq    int
	closed bool
	subs   []*subscriber
	wg     sync.WaitGroup
}

// NewBus creates a Bus whose events are stamped with threadID and runID.
func NewBus(threadID, runID string) *Bus {
	return &Bus{threadID: threadID, runID: runID}
}

// Publish stamps e and enqueues it for every subscriber. Events published
// after Close are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	e.Seq = b.seq
	e.ThreadID = b.threadID
	e.RunID = b.runID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, s := range b.subs {
		s.push(e.clone())
	}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed after the bus closes and the queue drains, or when
// ctx is done.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)
	b.add(ctx, func(done <-chan struct{}, e Event) bool {
		select {
		case out <- e:
			return true
		case <-done:
			return false
		}
	}, func() { close(out) })
	return out
}

// Observe calls fn for every event published from now on, sequentially on
// a dedicated goroutine.
func (b *Bus) Observe(fn func(Event)) {
	b.add(context.Background(), func(_ <-chan struct{}, e Event) bool {
		fn(e)
		return true
	}, nil)
}

func (b *Bus) add(ctx context.Context, deliver func(<-chan struct{}, Event) bool, finish func()) {
	s := &subscriber{signal: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if finish != nil {
			finish()
		}
		return
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		if finish != nil {
			defer finish()
		}
		s.run(ctx.Done(), deliver)
	}()
}

// Close stops accepting events. Subscribers still receive everything that
// was published before Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.close()
	}
}

// Wait blocks until every subscriber has drained after Close.
func (b *Bus) Wait() {
	b.wg.Wait()
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	signal chan struct{}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(done <-chan struct{}, deliver func(<-chan struct{}, Event) bool) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-done:
				s.drop()
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if !deliver(done, e) {
			s.drop()
			return
		}
	}
}

// drop discards the queue once the consumer has gone away.
func (s *subscriber) drop() {
	s.mu.Lock()
	s.queue = nil
	s.closed = true
	s.mu.Unlock()
}
