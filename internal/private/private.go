// Package private manages the one-to-one chat each persona keeps with the
// user, separate from the group transcript.
package private

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/alliance"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/persona"
)

// Role identifies the author of a private message.
type Role string

const (
	RoleUser    Role = "user"
	RolePersona Role = "persona"
)

// Message is one entry in a private conversation.
type Message struct {
	ID        string     `json:"id"`
	Persona   persona.ID `json:"personaId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Proactive bool       `json:"proactive,omitempty"`
	Alliance  bool       `json:"alliance,omitempty"`
}

// Conversation is the state of one persona's private channel.
type Conversation struct {
	Persona      persona.ID `json:"personaId"`
	Messages     []Message  `json:"messages"`
	Unread       int        `json:"unread"`
	Typing       bool       `json:"typing"`
	LastActivity time.Time  `json:"lastActivity"`
}

// GroupContext supplies the recent group discussion as text.
type GroupContext interface {
	FormatRecent() string
}

// Config wires a Manager.
type Config struct {
	Responder agent.Responder
	Group     GroupContext
	Bus       *event.Bus
	Logger    *logging.Logger
	Now       func() time.Time
}

// Manager owns every private conversation. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	convs    map[persona.ID]*Conversation
	active   persona.ID
	inflight map[persona.ID]context.CancelFunc
	// gens invalidates in-flight replies when a conversation is cleared.
	gens map[persona.ID]uint64
}

// NewManager creates a conversation for every persona.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.WithPhase("private"),
		convs:    make(map[persona.ID]*Conversation),
		inflight: make(map[persona.ID]context.CancelFunc),
		gens:     make(map[persona.ID]uint64),
	}
	for _, id := range persona.IDs() {
		m.convs[id] = &Conversation{Persona: id}
	}
	return m
}

// Open makes p the active conversation and marks it read.
func (m *Manager) Open(p persona.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[p]
	if !ok {
		return errors.Wrapf(errors.ErrUnknownPersona, "open %q", p)
	}
	m.active = p
	c.Unread = 0
	return nil
}

// CloseActive leaves the active conversation.
func (m *Manager) CloseActive() {
	m.mu.Lock()
	m.active = ""
	m.mu.Unlock()
}

// Active returns the open conversation, if any.
func (m *Manager) Active() persona.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Send posts the user's text to p and waits for the reply.
func (m *Manager) Send(ctx context.Context, p persona.ID, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, errors.ErrEmptyMessage
	}

	m.mu.Lock()
	c, ok := m.convs[p]
	if !ok {
		m.mu.Unlock()
		return Message{}, errors.Wrapf(errors.ErrUnknownPersona, "send to %q", p)
	}
	if _, busy := m.inflight[p]; busy {
		m.mu.Unlock()
		return Message{}, errors.ErrChannelBusy
	}
	history := toPrior(c.Messages)
	userMsg := m.appendLocked(c, Message{Role: RoleUser, Content: text})
	callCtx, gen := m.beginLocked(ctx, c)
	m.mu.Unlock()

	m.publish(userMsg, 0)
	metrics.PrivateMessage(string(p), "user")

	req := agent.Request{
		Persona: p,
		History: append(history, agent.PriorMessage{Role: "user", Content: text}),
		Mode:    agent.ModePrivate,
	}
	if m.cfg.Group != nil {
		req.GroupChatContext = m.cfg.Group.FormatRecent()
	}
	return m.respond(callCtx, p, gen, req, "reply")
}

// TriggerProactive has p reach out unprompted about the group discussion.
func (m *Manager) TriggerProactive(ctx context.Context, p persona.ID, groupDiscussion, reason string) (Message, error) {
	return m.unprompted(ctx, p, agent.Request{
		Proactive: &agent.ProactiveContext{GroupDiscussion: groupDiscussion, TriggerReason: reason},
	}, "proactive")
}

// DeliverAlliance has the trigger's sender gossip to the user. It has the
// signature of an alliance.DeliverFunc.
func (m *Manager) DeliverAlliance(ctx context.Context, t alliance.Trigger) error {
	req := agent.Request{
		Alliance: &agent.AllianceContext{
			AboutPersonaID: string(t.About),
			TriggerType:    string(t.Type),
			Context:        t.Context,
			DebateSnippet:  t.Snippet,
		},
	}
	if m.cfg.Group != nil {
		req.GroupChatContext = m.cfg.Group.FormatRecent()
	}
	_, err := m.unprompted(ctx, t.From, req, "alliance")
	return err
}

func (m *Manager) unprompted(ctx context.Context, p persona.ID, req agent.Request, origin string) (Message, error) {
	m.mu.Lock()
	c, ok := m.convs[p]
	if !ok {
		m.mu.Unlock()
		return Message{}, errors.Wrapf(errors.ErrUnknownPersona, "%s message from %q", origin, p)
	}
	if _, busy := m.inflight[p]; busy {
		m.mu.Unlock()
		return Message{}, errors.ErrChannelBusy
	}
	req.Persona = p
	req.History = toPrior(c.Messages)
	req.Mode = agent.ModePrivate
	callCtx, gen := m.beginLocked(ctx, c)
	m.mu.Unlock()

	return m.respond(callCtx, p, gen, req, origin)
}

func (m *Manager) beginLocked(ctx context.Context, c *Conversation) (context.Context, uint64) {
	callCtx, cancel := context.WithCancel(ctx)
	m.inflight[c.Persona] = cancel
	c.Typing = true
	return callCtx, m.gens[c.Persona]
}

func (m *Manager) respond(ctx context.Context, p persona.ID, gen uint64, req agent.Request, origin string) (Message, error) {
	reply, err := m.cfg.Responder.Respond(ctx, req)

	m.mu.Lock()
	if gen != m.gens[p] {
		m.mu.Unlock()
		return Message{}, errors.ErrCanceled
	}
	c := m.convs[p]
	if cancel, ok := m.inflight[p]; ok {
		cancel()
		delete(m.inflight, p)
	}
	c.Typing = false
	if err != nil {
		m.mu.Unlock()
		m.logger.Debug("private reply canceled", "persona", string(p), "origin", origin)
		return Message{}, err
	}
	msg := m.appendLocked(c, Message{
		Role:      RolePersona,
		Content:   reply.Content,
		Proactive: req.Proactive != nil,
		Alliance:  req.Alliance != nil,
	})
	if m.active != p {
		c.Unread++
	}
	unread := c.Unread
	m.mu.Unlock()

	m.publish(msg, unread)
	metrics.PrivateMessage(string(p), origin)
	m.logger.Debug("private reply", "persona", string(p), "origin", origin, "placeholder", reply.Placeholder)
	return msg, nil
}

func (m *Manager) appendLocked(c *Conversation, msg Message) Message {
	msg.ID = uuid.NewString()
	msg.Persona = c.Persona
	msg.Timestamp = m.cfg.Now()
	c.Messages = append(c.Messages, msg)
	c.LastActivity = msg.Timestamp
	return msg
}

func (m *Manager) publish(msg Message, unread int) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(event.NewPrivateMessageEvent(string(msg.Persona), msg.ID, string(msg.Role), msg.Content, unread))
	}
}

func toPrior(msgs []Message) []agent.PriorMessage {
	out := make([]agent.PriorMessage, len(msgs))
	for i, msg := range msgs {
		role := "assistant"
		if msg.Role == RoleUser {
			role = "user"
		}
		out[i] = agent.PriorMessage{Role: role, Content: msg.Content}
	}
	return out
}

// Conversation returns a copy of p's conversation.
func (m *Manager) Conversation(p persona.ID) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[p]
	if !ok {
		return Conversation{}, false
	}
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return out, true
}

// Clear empties p's conversation and abandons any reply in flight.
func (m *Manager) Clear(p persona.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(p)
}

// ClearAll resets every conversation and closes the active one.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range persona.IDs() {
		m.clearLocked(id)
	}
	m.active = ""
}

func (m *Manager) clearLocked(p persona.ID) {
	if _, ok := m.convs[p]; !ok {
		return
	}
	if cancel, ok := m.inflight[p]; ok {
		cancel()
		delete(m.inflight, p)
	}
	m.gens[p]++
	m.convs[p] = &Conversation{Persona: p}
}

// TotalUnread sums unread replies across all conversations.
func (m *Manager) TotalUnread() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.convs {
		total += c.Unread
	}
	return total
}

// UnreadCounts returns the unread count per persona.
func (m *Manager) UnreadCounts() map[persona.ID]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[persona.ID]int, len(m.convs))
	for id, c := range m.convs {
		out[id] = c.Unread
	}
	return out
}

// Busy reports which personas have a reply in flight.
func (m *Manager) Busy() []persona.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.inflight))
}
