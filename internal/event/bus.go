package event

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

// Bus fans typed lifecycle events out to any number of subscribers. The
// engine serializes each channel's publishes (the pipeline publishes under
// its own lock), so per-channel order is preserved; cross-channel order is
// unspecified.
//
// A slow subscriber never blocks producers: each subscription owns a bounded
// queue drained by its own goroutine, and when the queue passes the
// high-water mark consecutive coalescable events for the same channel are
// merged (the newer one wins). Terminal events are never dropped.
type Bus struct {
	subs   []*subscription
	nextID int
	closed bool
	logger *zap.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// Observer receives events. Handle is called sequentially per subscription.
type Observer interface {
	Handle(ev *domain.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev *domain.Event)

// Handle implements Observer.
func (f ObserverFunc) Handle(ev *domain.Event) { f(ev) }

type subscription struct {
	id        int
	observer  Observer
	queue     []*domain.Event
	mu        sync.Mutex
	wake      chan struct{}
	done      chan struct{}
	buffer    int
	highWater int
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers an observer and starts its delivery goroutine.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(observer Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	sub := &subscription{
		id:        b.nextID,
		observer:  observer,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		buffer:    constants.EventBusConfig.SubscriberBuffer,
		highWater: constants.EventBusConfig.HighWaterMark,
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go b.deliver(sub)
	return func() { b.unsubscribe(sub.id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			close(sub.done)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues the event for every subscriber and returns immediately.
func (b *Bus) Publish(ev *domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(ev, b.logger)
	}
}

// enqueue appends the event, coalescing under backpressure.
func (s *subscription) enqueue(ev *domain.Event, logger *zap.Logger) {
	s.mu.Lock()
	if len(s.queue) >= s.highWater && ev.Coalescable() {
		// Replace the newest queued coalescable event of the same channel.
		for i := len(s.queue) - 1; i >= 0; i-- {
			q := s.queue[i]
			if q.ChannelID == ev.ChannelID && q.Coalescable() {
				s.queue[i] = ev
				s.mu.Unlock()
				s.signal()
				return
			}
		}
	}
	if len(s.queue) >= s.buffer && ev.Coalescable() {
		// Queue is full of non-coalescable events; drop the progress update
		// rather than stall the producer. Terminal events always append.
		s.mu.Unlock()
		logger.Debug("event bus: dropped progress event under backpressure",
			zap.String("channel_id", ev.ChannelID))
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliver drains the subscription queue in order.
func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		var ev *domain.Event
		if len(sub.queue) > 0 {
			ev = sub.queue[0]
			sub.queue = sub.queue[1:]
		}
		sub.mu.Unlock()

		if ev != nil {
			sub.observer.Handle(ev)
			continue
		}

		select {
		case <-sub.wake:
		case <-sub.done:
			// Drain what is left before exiting.
			sub.mu.Lock()
			rest := sub.queue
			sub.queue = nil
			sub.mu.Unlock()
			for _, ev := range rest {
				sub.observer.Handle(ev)
			}
			return
		}
	}
}

// Close stops all subscriptions after their queues drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}
