// Package fanout asks every persona the user's question at once, then
// hands the answers to the coordinator and, on disagreement, to a debate.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/coordinator"
	"github.com/Iron-Ham/council/internal/debate"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

var tracer = otel.Tracer("council.fanout")

// DefaultReadingPause separates the last answer from the coordinator call.
const DefaultReadingPause = 1500 * time.Millisecond

// DebateStarter runs a debate to its first pause or conclusion.
type DebateStarter interface {
	Start(ctx context.Context, question string, instructions []coordinator.Instruction) (debate.Outcome, error)
}

// Config wires a Dispatcher.
type Config struct {
	Responder    agent.Responder
	Checker      coordinator.Checker
	Debate       DebateStarter
	Transcript   *transcript.Transcript
	Scheduler    *clock.Scheduler
	Pacer        *pacing.Pacer
	Bus          *event.Bus
	Logger       *logging.Logger
	ReadingPause time.Duration
}

// Dispatcher runs the initial round.
type Dispatcher struct {
	cfg    Config
	logger *logging.Logger
}

// Result summarizes one dispatch.
type Result struct {
	Answers map[persona.ID]string `json:"answers"`
	Verdict coordinator.Verdict   `json:"verdict"`
	// Debate is set when the verdict started a debate.
	Debate *debate.Outcome `json:"debate,omitempty"`
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.NewScheduler(nil)
	}
	if cfg.Pacer == nil {
		cfg.Pacer = pacing.Off()
	}
	if cfg.Transcript == nil {
		cfg.Transcript = transcript.New(cfg.Bus, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.ReadingPause < 0 {
		cfg.ReadingPause = 0
	}
	return &Dispatcher{cfg: cfg, logger: cfg.Logger.WithPhase("fanout")}
}

// Dispatch asks all five personas concurrently. Each answer is appended to
// the transcript as soon as it is ready. Individual failures arrive as
// placeholders; only cancellation stops the round, in which case the
// answers collected so far are returned with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, question string) (Result, error) {
	ctx, span := tracer.Start(ctx, "fanout.dispatch", trace.WithAttributes(
		attribute.Int("question_chars", len(question)),
	))
	defer span.End()

	res := Result{Answers: make(map[persona.ID]string, len(persona.IDs()))}
	var mu sync.Mutex
	history := []agent.PriorMessage{{Role: "user", Content: question}}

	started := time.Now()
	g := new(errgroup.Group)
	for _, p := range persona.All() {
		typing := d.cfg.Scheduler.Schedule(d.cfg.Pacer.Delay(p.Pacing.TypingVisible), func() {
			d.publish(event.NewTypingStartedEvent(string(p.ID), "", event.ChannelGroup))
		})

		g.Go(func() error {
			defer typing.Cancel()
			if err := d.sleep(ctx, d.cfg.Pacer.Delay(p.Pacing.Start)); err != nil {
				return err
			}
			reply, err := d.cfg.Responder.Respond(ctx, agent.Request{
				Persona: p.ID,
				History: history,
				Mode:    agent.ModeGroup,
			})
			if err != nil {
				return err
			}
			// A reply that lands after End must not follow the gavel.
			if err := ctx.Err(); err != nil {
				return err
			}
			typing.Cancel()
			d.cfg.Transcript.AppendAgent(p.ID, "", reply.Content)

			mu.Lock()
			res.Answers[p.ID] = reply.Content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Info("fan-out canceled", "answers", len(res.Answers), "error", err)
		return res, err
	}
	d.logger.Info("all personas answered", "elapsed_ms", time.Since(started).Milliseconds())

	if err := d.sleep(ctx, d.cfg.Pacer.Fixed(d.cfg.ReadingPause)); err != nil {
		return res, err
	}

	verdict, err := d.cfg.Checker.InitialVerdict(ctx, question, res.Answers)
	if err != nil {
		return res, err
	}
	res.Verdict = verdict
	span.SetAttributes(attribute.Bool("disagreement", verdict.HasDisagreement))

	if !verdict.HasDisagreement || len(verdict.Debates) == 0 || d.cfg.Debate == nil {
		d.logger.Debug("no debate", "has_disagreement", verdict.HasDisagreement, "instructions", len(verdict.Debates))
		return res, nil
	}

	out, err := d.cfg.Debate.Start(ctx, question, verdict.Debates)
	res.Debate = &out
	return res, err
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if err := d.cfg.Scheduler.Sleep(ctx, dur); err != nil {
		if errors.Is(err, clock.ErrClosed) {
			return errors.Join(errors.ErrCanceled, err)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) publish(e event.Event) {
	if d.cfg.Bus != nil {
		d.cfg.Bus.Publish(e)
	}
}
