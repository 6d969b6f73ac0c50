// Package coordinator asks the coordinator backend whether personas
// disagree and who should respond to whom next.
package coordinator

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/stream"
	"github.com/Iron-Ham/council/internal/transport"
)

var tracer = otel.Tracer("council.coordinator")

// DefaultPath is the coordinator endpoint.
const DefaultPath = "/api/coordinator"

// Request modes.
const (
	ModeInitial  = "initial"
	ModeReaction = "reaction"
)

// Checker produces verdicts. Both methods return a non-nil error only on
// cancellation; every other failure yields the zero Verdict.
type Checker interface {
	InitialVerdict(ctx context.Context, question string, answers map[persona.ID]string) (Verdict, error)
	ReactionCheck(ctx context.Context, utterance string, speaker, target persona.ID) (Verdict, error)
}

// Client is the HTTP-backed Checker.
type Client struct {
	streamer transport.Streamer
	path     string
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPath overrides the coordinator endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

// WithBus publishes a VerdictEvent for every call.
func WithBus(bus *event.Bus) Option {
	return func(c *Client) {
		c.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client over streamer.
func New(streamer transport.Streamer, opts ...Option) *Client {
	c := &Client{
		streamer: streamer,
		path:     DefaultPath,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPhase("coordinator")
	return c
}

type wireRequest struct {
	Mode             string            `json:"mode"`
	Question         string            `json:"question,omitempty"`
	AllAnswers       map[string]string `json:"allAnswers,omitempty"`
	SpeakerUtterance string            `json:"speakerUtterance,omitempty"`
	SpeakerPersonaID string            `json:"speakerPersonaId,omitempty"`
	TargetPersonaID  string            `json:"targetPersonaId,omitempty"`
}

// InitialVerdict implements Checker.
func (c *Client) InitialVerdict(ctx context.Context, question string, answers map[persona.ID]string) (Verdict, error) {
	all := make(map[string]string, len(answers))
	for id, text := range answers {
		all[string(id)] = text
	}
	return c.call(ctx, wireRequest{
		Mode:       ModeInitial,
		Question:   question,
		AllAnswers: all,
	}, 0, "")
}

// ReactionCheck implements Checker. The verdict carries at most one
// instruction and never one for the speaker.
func (c *Client) ReactionCheck(ctx context.Context, utterance string, speaker, target persona.ID) (Verdict, error) {
	return c.call(ctx, wireRequest{
		Mode:             ModeReaction,
		SpeakerUtterance: utterance,
		SpeakerPersonaID: string(speaker),
		TargetPersonaID:  string(target),
	}, 1, speaker)
}

func (c *Client) call(ctx context.Context, req wireRequest, limit int, exclude persona.ID) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "coordinator."+req.Mode, trace.WithAttributes(
		attribute.String("mode", req.Mode),
	))
	defer span.End()

	var text strings.Builder
	err := c.streamer.Stream(ctx, c.path, req, func(ev stream.Event) {
		if td, ok := ev.(stream.TextDelta); ok {
			text.WriteString(td.Text)
		}
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Verdict{}, ctxErr
	}
	if err != nil {
		c.logger.Warn("coordinator call failed, treating as no action", "mode", req.Mode, "error", err)
		span.RecordError(err)
		metrics.Verdict(req.Mode, "failed")
		c.publish(req.Mode, Verdict{})
		return Verdict{}, nil
	}

	v, err := ParseVerdict(text.String())
	if err != nil {
		c.logger.Warn("unparseable coordinator output", "mode", req.Mode, "error", err, "chars", text.Len())
		metrics.Verdict(req.Mode, "failed")
		c.publish(req.Mode, Verdict{})
		return Verdict{}, nil
	}

	v, dropped := v.sanitize(limit, exclude)
	if dropped > 0 {
		c.logger.Debug("dropped debate instructions", "mode", req.Mode, "dropped", dropped)
		metrics.DroppedInstructions(dropped)
	}

	span.SetAttributes(
		attribute.Bool("has_disagreement", v.HasDisagreement),
		attribute.Int("debates", len(v.Debates)),
		attribute.Bool("should_pause", v.ShouldPause),
	)
	metrics.Verdict(req.Mode, resultLabel(v))
	c.publish(req.Mode, v)
	return v, nil
}

func (c *Client) publish(mode string, v Verdict) {
	if c.bus != nil {
		c.bus.Publish(event.NewVerdictEvent(mode, v.HasDisagreement, len(v.Debates), v.ShouldPause))
	}
}

func resultLabel(v Verdict) string {
	switch {
	case v.ShouldPause:
		return "pause"
	case v.HasDisagreement || len(v.Debates) > 0:
		return "disagreement"
	default:
		return "agreement"
	}
}

// Static is a Checker that returns canned verdicts, for offline runs and tests.
type Static struct {
	Initial  Verdict
	Reaction func(utterance string, speaker, target persona.ID) Verdict
}

// InitialVerdict implements Checker.
func (s Static) InitialVerdict(ctx context.Context, _ string, _ map[persona.ID]string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	v, _ := s.Initial.sanitize(0, "")
	return v, nil
}

// ReactionCheck implements Checker.
func (s Static) ReactionCheck(ctx context.Context, utterance string, speaker, target persona.ID) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if s.Reaction == nil {
		return Verdict{}, nil
	}
	v, _ := s.Reaction(utterance, speaker, target).sanitize(1, speaker)
	return v, nil
}

var _ Checker = (*Client)(nil)
var _ Checker = Static{}

