// Package transcript holds the append-only group conversation.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/persona"
)

// Kind distinguishes who wrote a message.
type Kind string

const (
	KindUser   Kind = "user"
	KindAgent  Kind = "agent"
	KindSystem Kind = "system"
)

// ContextWindow is the number of recent messages shared with private chats.
const ContextWindow = 15

// Message is one entry in the group transcript. Content is set once.
type Message struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Content    string     `json:"content"`
	Persona    persona.ID `json:"personaId,omitempty"`
	ReplyingTo persona.ID `json:"replyingToPersonaId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Streaming  bool       `json:"streaming"`
}

// Transcript is safe for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	bus      *event.Bus
	now      func() time.Time
}

// New creates an empty transcript. bus may be nil; now defaults to time.Now.
func New(bus *event.Bus, now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{bus: bus, now: now}
}

// AppendUser appends the user's question.
func (t *Transcript) AppendUser(content string) Message {
	return t.append(Message{Kind: KindUser, Content: content})
}

// AppendAgent appends a finished persona reply. replyingTo may be empty.
func (t *Transcript) AppendAgent(p, replyingTo persona.ID, content string) Message {
	return t.append(Message{Kind: KindAgent, Persona: p, ReplyingTo: replyingTo, Content: content})
}

// AppendSystem appends a narration line.
func (t *Transcript) AppendSystem(content string) Message {
	return t.append(Message{Kind: KindSystem, Content: content})
}

func (t *Transcript) append(m Message) Message {
	m.ID = uuid.NewString()
	t.mu.Lock()
	m.Timestamp = t.now()
	t.messages = append(t.messages, m)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(event.NewMessageAppendedEvent(m.ID, string(m.Kind), string(m.Persona), string(m.ReplyingTo), m.Content))
	}
	return m
}

// Messages returns a copy of every message in append order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Message(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Recent returns up to n of the latest messages.
func (t *Transcript) Recent(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(len(t.messages)-n, 0)
	return append([]Message(nil), t.messages[start:]...)
}

// Since returns the messages appended after the first n.
func (t *Transcript) Since(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n >= len(t.messages) {
		return nil
	}
	return append([]Message(nil), t.messages[max(n, 0):]...)
}

// Reset drops every message.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

// Exchanges filters msgs down to agent replies that name a target.
func Exchanges(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Kind == KindAgent && m.ReplyingTo != "" {
			out = append(out, m)
		}
	}
	return out
}

// Speaker returns the display label for a message's author.
func Speaker(m Message) string {
	switch m.Kind {
	case KindUser:
		return "User"
	case KindSystem:
		return "System"
	default:
		return persona.Name(m.Persona)
	}
}

// Format renders the user and persona messages in msgs, separated by
// blank lines, as "Name (replying to Other): text". System lines are skipped.
func Format(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Kind == KindSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if m.ReplyingTo != "" {
			fmt.Fprintf(&b, "%s (replying to %s): %s", Speaker(m), persona.Name(m.ReplyingTo), m.Content)
		} else {
			fmt.Fprintf(&b, "%s: %s", Speaker(m), m.Content)
		}
	}
	return b.String()
}

// FormatRecent formats the last ContextWindow messages for a private chat.
func (t *Transcript) FormatRecent() string {
	return Format(t.Recent(ContextWindow))
}
