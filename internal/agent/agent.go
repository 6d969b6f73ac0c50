// Package agent calls the persona backend for one reply, turning the
// streamed frames into a finished message plus memory-activity events.
package agent

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/stream"
	"github.com/Iron-Ham/council/internal/transport"
)

var tracer = otel.Tracer("council.agent")

// Default backend paths.
const (
	DefaultChatPath    = "/api/chat"
	DefaultPrivatePath = "/api/private-chat"
)

// Memory tool names and the activities they map to.
const (
	ToolSearchMemories = "search_memories"
	ToolCreateMemory   = "create_memory"

	ActivitySearching = "searching"
	ActivitySaving    = "saving"
)

// Mode selects the group or private endpoint and pacing.
type Mode string

const (
	ModeGroup   Mode = "group"
	ModePrivate Mode = "private"
)

// PriorMessage is one turn of history sent to the backend.
type PriorMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ProactiveContext explains why a persona is reaching out unprompted.
type ProactiveContext struct {
	GroupDiscussion string `json:"groupDiscussion"`
	TriggerReason   string `json:"triggerReason"`
}

// AllianceContext describes the gossip a persona is delivering privately.
type AllianceContext struct {
	AboutPersonaID string `json:"aboutPersonaId"`
	TriggerType    string `json:"triggerType"`
	Context        string `json:"context"`
	DebateSnippet  string `json:"debateSnippet,omitempty"`
}

// Request is one reply to generate.
type Request struct {
	Persona persona.ID
	// Prompt overrides the persona's default framing, e.g. a debate reason.
	Prompt  string
	ReplyTo persona.ID
	History []PriorMessage
	Mode    Mode

	Proactive        *ProactiveContext
	Alliance         *AllianceContext
	GroupChatContext string
}

// Reply is a finished message.
type Reply struct {
	Persona     persona.ID
	Content     string
	ReplyTo     persona.ID
	Placeholder bool
}

// Responder produces one persona reply.
//
// Respond returns a non-nil error only when ctx ends before the reply is
// finished; the returned Reply then holds whatever content had arrived
// and must not be shown. Backend failures are not errors: they yield a
// placeholder Reply.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Config wires a Client.
type Config struct {
	Streamer    transport.Streamer
	Scheduler   *clock.Scheduler
	Pacer       *pacing.Pacer
	Bus         *event.Bus
	Logger      *logging.Logger
	ChatPath    string
	PrivatePath string
	UserID      string
}

// Client is the HTTP-backed Responder.
type Client struct {
	streamer    transport.Streamer
	sched       *clock.Scheduler
	pacer       *pacing.Pacer
	bus         *event.Bus
	logger      *logging.Logger
	chatPath    string
	privatePath string
	userID      string
}

// New creates a Client. Nil collaborators get inert defaults.
func New(cfg Config) *Client {
	c := &Client{
		streamer:    cfg.Streamer,
		sched:       cfg.Scheduler,
		pacer:       cfg.Pacer,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		chatPath:    cfg.ChatPath,
		privatePath: cfg.PrivatePath,
		userID:      cfg.UserID,
	}
	if c.sched == nil {
		c.sched = clock.NewScheduler(nil)
	}
	if c.pacer == nil {
		c.pacer = pacing.Off()
	}
	if c.bus == nil {
		c.bus = event.NewBus()
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	if c.chatPath == "" {
		c.chatPath = DefaultChatPath
	}
	if c.privatePath == "" {
		c.privatePath = DefaultPrivatePath
	}
	return c
}

type wireRequest struct {
	PersonaID            string            `json:"personaId"`
	PriorMessages        []PriorMessage    `json:"priorMessages"`
	PromptOverride       string            `json:"promptOverride,omitempty"`
	ReplyTargetPersonaID string            `json:"replyTargetPersonaId,omitempty"`
	ProactiveContext     *ProactiveContext `json:"proactiveContext,omitempty"`
	AllianceContext      *AllianceContext  `json:"allianceContext,omitempty"`
	GroupChatContext     string            `json:"groupChatContext,omitempty"`
	UserID               string            `json:"userId,omitempty"`
}

// Respond implements Responder.
func (c *Client) Respond(ctx context.Context, req Request) (Reply, error) {
	p, ok := persona.Get(req.Persona)
	if !ok {
		return Reply{}, errors.Wrapf(errors.ErrUnknownPersona, "respond as %q", req.Persona)
	}
	if req.Mode == "" {
		req.Mode = ModeGroup
	}

	channel := event.ChannelGroup
	path := c.chatPath
	delay := p.Pacing.PostResponse
	if req.Mode == ModePrivate {
		channel = event.ChannelPrivate
		path = c.privatePath
		delay = p.Pacing.PrivatePostResponse
	}
	defer c.bus.Publish(event.NewTypingStoppedEvent(string(p.ID), channel))

	logger := c.logger.WithPersona(string(p.ID)).With("mode", string(req.Mode))
	ctx, span := tracer.Start(ctx, "agent.respond", trace.WithAttributes(
		attribute.String("persona", string(p.ID)),
		attribute.String("mode", string(req.Mode)),
		attribute.Bool("reply_to", req.ReplyTo != ""),
	))
	defer span.End()

	body := wireRequest{
		PersonaID:            string(p.ID),
		PriorMessages:        req.History,
		PromptOverride:       req.Prompt,
		ReplyTargetPersonaID: string(req.ReplyTo),
		ProactiveContext:     req.Proactive,
		AllianceContext:      req.Alliance,
		GroupChatContext:     req.GroupChatContext,
		UserID:               c.userID,
	}
	if body.PriorMessages == nil {
		body.PriorMessages = []PriorMessage{}
	}

	var content strings.Builder
	open := make(map[string]bool)
	started := time.Now()
	err := c.streamer.Stream(ctx, path, body, func(ev stream.Event) {
		switch ev := ev.(type) {
		case stream.TextDelta:
			content.WriteString(ev.Text)
		case stream.ToolCall:
			activity := activityFor(ev.Name)
			if activity == "" {
				logger.Debug("ignoring tool call", "tool", ev.Name)
				return
			}
			open[ev.ID] = true
			c.bus.Publish(event.NewMemoryActivityStartedEvent(string(p.ID), ev.ID, activity))
		case stream.ToolResult:
			if open[ev.ID] {
				delete(open, ev.ID)
				c.bus.Publish(event.NewMemoryActivityFinishedEvent(string(p.ID), ev.ID))
			}
		}
	})
	streamed := time.Since(started)
	for id := range open {
		c.bus.Publish(event.NewMemoryActivityFinishedEvent(string(p.ID), id))
	}

	reply := Reply{Persona: p.ID, ReplyTo: req.ReplyTo}
	if ctxErr := ctx.Err(); ctxErr != nil {
		reply.Content = content.String()
		metrics.AgentCall(string(p.ID), string(req.Mode), metrics.OutcomeCanceled, streamed)
		return reply, ctxErr
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		logger.Warn("persona call failed, substituting placeholder", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reply.Content = persona.Placeholder(p.ID)
		reply.Placeholder = true
		outcome = metrics.OutcomePlaceholder
	} else {
		reply.Content = content.String()
	}

	if err := c.sched.Sleep(ctx, c.pacer.Delay(delay)); err != nil {
		metrics.AgentCall(string(p.ID), string(req.Mode), metrics.OutcomeCanceled, streamed)
		if errors.Is(err, clock.ErrClosed) {
			err = errors.Join(errors.ErrCanceled, err)
		}
		return reply, err
	}

	metrics.AgentCall(string(p.ID), string(req.Mode), outcome, streamed)
	logger.Debug("persona replied",
		"chars", len(reply.Content),
		"placeholder", reply.Placeholder,
		"stream_ms", streamed.Milliseconds())
	return reply, nil
}

func activityFor(tool string) string {
	switch tool {
	case ToolSearchMemories:
		return ActivitySearching
	case ToolCreateMemory:
		return ActivitySaving
	default:
		return ""
	}
}
