package events

import "sync"

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventChannelOpened EventType = "CHANNEL_OPENED"
	EventChannelClosed EventType = "CHANNEL_CLOSED"
	EventChannelError  EventType = "CHANNEL_ERROR"
	EventNotice        EventType = "NOTICE"
	EventChatReceived  EventType = "CHAT_RECEIVED"

	allEvents EventType = "*"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	GameID  string // Optional, can be empty for non-game events
	Payload interface{}
}

// OpenedPayload accompanies EventChannelOpened
type OpenedPayload struct {
	ConnectionID string
	Reconnect    bool
}

// ErrorPayload accompanies EventChannelError
type ErrorPayload struct {
	Err error
}

// Notice levels
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// NoticePayload is a user-visible message for the presentation layer
type NoticePayload struct {
	Level string
	Text  string
}

// Handler is a function that processes events
type Handler func(event Event)

// subscription delivers events to one handler on its own goroutine, in the
// order they were published
type subscription struct {
	id      uint64
	handler Handler

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

func newSubscription(id uint64, handler Handler) *subscription {
	s := &subscription{
		id:      id,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()

	return s
}

func (s *subscription) push(event Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(event)
		}
	}
}

// deliver keeps the subscription alive when a handler panics
func (s *subscription) deliver(event Event) {
	defer func() { _ = recover() }()

	s.handler(event)
}

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	next        uint64
	subscribers map[EventType][]*subscription
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]*subscription),
	}
}

// Subscribe registers a handler for a specific event type and returns a
// function that removes it again
func (p *Publisher) Subscribe(eventType EventType, handler Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	id := p.next
	p.subscribers[eventType] = append(p.subscribers[eventType], newSubscription(id, handler))

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(eventType, id) })
	}
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) func() {
	return p.Subscribe(allEvents, handler)
}

func (p *Publisher) remove(eventType EventType, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			p.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(s.done)
			return
		}
	}
}

// Publish broadcasts an event to all subscribers including "all events" handlers
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Handlers run on their subscription's goroutine, never on the publisher's
	for _, s := range p.subscribers[event.Type] {
		s.push(event)
	}
	for _, s := range p.subscribers[allEvents] {
		s.push(event)
	}
}

// Notify publishes a notice for a game
func (p *Publisher) Notify(gameID, level, text string) {
	p.Publish(Event{
		Type:    EventNotice,
		GameID:  gameID,
		Payload: NoticePayload{Level: level, Text: text},
	})
}
