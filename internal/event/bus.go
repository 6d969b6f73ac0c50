package event

import (
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/Iron-Ham/council/internal/logging"
)

// Handler receives published events on the publisher's goroutine.
type Handler func(Event)

// Wildcard matches every event type.
const Wildcard = "*"

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// matches reports whether the pattern selects eventType. A pattern is an
// exact type, Wildcard, or a category such as "debate.*".
func (s subscription) matches(eventType string) bool {
	switch {
	case s.pattern == Wildcard:
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(s.pattern, "*"))
	default:
		return s.pattern == eventType
	}
}

// exact subscriptions run before category and wildcard ones.
func (s subscription) exact() bool {
	return s.pattern != Wildcard && !strings.HasSuffix(s.pattern, ".*")
}

// Bus is a synchronous pub-sub bus. Each session owns one; the fan-out,
// debate, alliance and private components publish to it and the server
// and terminal UI subscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *logging.Logger
}

func NewBus() *Bus {
	return &Bus{logger: logging.NopLogger()}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(logger *logging.Logger) {
	if logger == nil {
		return
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe registers handler for events selected by pattern and returns
// an id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := "sub-" + strconv.FormatUint(b.nextID, 10)
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	return id
}

func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe reports whether id was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// Copy so a Publish iterating the old slice is unaffected.
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish calls every matching handler: exact subscriptions first, then
// categories and wildcards, each in registration order. A panicking
// handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	eventType := e.EventType()

	b.mu.RLock()
	var first, rest []Handler
	for _, s := range b.subs {
		if !s.matches(eventType) {
			continue
		}
		if s.exact() {
			first = append(first, s.handler)
		} else {
			rest = append(rest, s.handler)
		}
	}
	logger := b.logger
	b.mu.RUnlock()

	for _, h := range append(first, rest...) {
		deliver(logger, h, e)
	}
}

func deliver(logger *logging.Logger, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(e)
}

func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
