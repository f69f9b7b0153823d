// Package events is the in-process publish/subscribe fabric for market,
// leaderboard and kline-tick events. Each subscriber owns a bounded queue;
// publishers never block and overflow drops the subscriber's oldest event.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Topic names. Kline topics are parameterized per (symbol, interval).
const (
	TopicLeaderboardUpdate = "leaderboard:update"
	TopicLeaderboardError  = "leaderboard:error"
	TopicPricesUpdate      = "prices:update"
)

// KlineTopic builds the per-(symbol, interval) kline update topic.
func KlineTopic(symbol, interval string) string {
	return fmt.Sprintf("klines:update:%s:%s", symbol, interval)
}

// Event is one published message.
type Event struct {
	Topic     string      `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription is a handle on a subscriber's queue for one topic.
type Subscription struct {
	bus    *Bus
	topic  string
	id     uint64
	ch     chan Event
	mu     sync.Mutex
	closed bool

	overflow atomic.Uint64
}

// Events returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflow returns how many events were dropped because this subscriber
// fell behind. The counter is non-decreasing.
func (s *Subscription) Overflow() uint64 { return s.overflow.Load() }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// push enqueues an event. On overflow the subscriber's oldest queued event
// is dropped so the newest is always delivered; the publisher never blocks.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.overflow.Add(1)
		default:
		}
	}
}

// Bus routes events from publishers to per-topic subscriber queues.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription

	// one delivery worker per subscription keeps per-subscriber FIFO order
	wg sync.WaitGroup
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]*Subscription)}
}

// DefaultQueueSize bounds a subscriber queue when the caller passes 0.
const DefaultQueueSize = 64

// Subscribe registers a queue of the given capacity for topic.
func (b *Bus) Subscribe(topic string, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		bus:   b,
		topic: topic,
		id:    b.nextID,
		ch:    make(chan Event, queueSize),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

// SubscribeFunc registers a callback subscriber. The callback runs on a
// dedicated goroutine so delivery stays FIFO for this subscriber. The returned
// cancel func is synchronous: no callback fires after it returns.
func (b *Bus) SubscribeFunc(topic string, queueSize int, fn func(Event)) (cancel func()) {
	sub := b.Subscribe(topic, queueSize)
	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		for ev := range sub.ch {
			fn(ev)
		}
	}()
	return func() {
		b.Unsubscribe(sub)
		<-done
	}
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if m, ok := b.subs[sub.topic]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()
}

// Publish delivers ev to every subscriber of its topic. Never blocks.
func (b *Bus) Publish(topic string, data interface{}) {
	ev := Event{Topic: topic, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close unsubscribes everything and waits for callback workers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	all := make([]*Subscription, 0)
	for _, m := range b.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
	b.wg.Wait()
}
