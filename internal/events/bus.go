package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBotCreated      EventType = "BOT_CREATED"
	EventBotSelected     EventType = "BOT_SELECTED"
	EventBotDeleted      EventType = "BOT_DELETED"
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
	EventBotPaused       EventType = "BOT_PAUSED"
	EventBotResumed      EventType = "BOT_RESUMED"
	EventStrategyUpdated EventType = "STRATEGY_UPDATED"
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventDesyncRepaired  EventType = "DESYNC_REPAIRED"
	EventStatusUpdate    EventType = "STATUS_UPDATE"
)

// Event represents a system event
type Event struct {
	Type      EventType   `json:"type"`
	BotID     string      `json:"bot_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Publisher is the sending side of the bus.
type Publisher interface {
	Publish(event Event)
}

// subscriberQueue is the buffered channel each subscriber consumes in order
const subscriberQueue = 1024

type subscription struct {
	fn    Subscriber
	queue chan Event
	done  chan struct{}
}

func newSubscription(fn Subscriber) *subscription {
	s := &subscription{
		fn:    fn,
		queue: make(chan Event, subscriberQueue),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// run delivers events one at a time, so a subscriber sees them in publish order
func (s *subscription) run() {
	defer close(s.done)
	for e := range s.queue {
		s.fn(e)
	}
}

// EventBus manages event publishing and subscriptions. Publish never blocks:
// each subscriber has its own queue and goroutine, and events that do not fit
// a full queue are dropped and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*subscription
	allSubs     []*subscription // Subscribers to all events
	closed      bool
	dropped     atomic.Uint64
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]*subscription),
		allSubs:     make([]*subscription, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}

	eb.subscribers[eventType] = append(eb.subscribers[eventType], newSubscription(subscriber))
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}

	eb.allSubs = append(eb.allSubs, newSubscription(subscriber))
}

// Publish queues an event for every matching subscriber
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		eb.enqueue(sub, event)
	}
	for _, sub := range eb.allSubs {
		eb.enqueue(sub, event)
	}
}

func (eb *EventBus) enqueue(sub *subscription, event Event) {
	select {
	case sub.queue <- event:
	default:
		eb.dropped.Add(1) // 慢订阅者不能拖住交易路径
	}
}

// Dropped returns how many deliveries were discarded because a queue was full
func (eb *EventBus) Dropped() uint64 { return eb.dropped.Load() }

// Close stops accepting events and waits until every queued event is delivered
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	subs := append([]*subscription(nil), eb.allSubs...)
	for _, list := range eb.subscribers {
		subs = append(subs, list...)
	}
	eb.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
	}
	for _, sub := range subs {
		<-sub.done
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
