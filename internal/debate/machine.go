package debate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/coordinator"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

var tracer = otel.Tracer("council.debate")

// Config wires a Machine.
type Config struct {
	Responder  agent.Responder
	Checker    coordinator.Checker
	Transcript *transcript.Transcript
	Scheduler  *clock.Scheduler
	Pacer      *pacing.Pacer
	Bus        *event.Bus
	Logger     *logging.Logger

	// Budget is the number of exchanges before an automatic pause.
	Budget int
	// InterRoundPause separates consecutive exchanges.
	InterRoundPause time.Duration
	// OnConclude runs once for each debate that runs out of instructions.
	OnConclude func()
}

// Machine executes Transition's effects.
type Machine struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	snap     Snapshot
	question string
	gen      uint64
	cancel   context.CancelFunc

	// commitMu orders transcript writes against End so a reply can never
	// land after the gavel.
	commitMu sync.Mutex
}

// NewMachine creates an idle Machine.
func NewMachine(cfg Config) *Machine {
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
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.InterRoundPause < 0 {
		cfg.InterRoundPause = 0
	}
	return &Machine{
		cfg:    cfg,
		logger: cfg.Logger.WithPhase("debate"),
		snap:   Snapshot{State: Idle, Budget: cfg.Budget},
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Queue = append([]coordinator.Instruction(nil), s.Queue...)
	return s
}

// Start runs a new debate for question and blocks until it pauses,
// concludes or is ended. It fails with ErrDebateInProgress unless the
// machine is idle. An empty instruction list is a no-op, and so is a
// context that is already done.
func (m *Machine) Start(ctx context.Context, question string, instructions []coordinator.Instruction) (Outcome, error) {
	m.mu.Lock()
	// Checked under mu: callers cancel ctx before they call End or Gavel.
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return Outcome{State: Idle}, err
	}
	if m.snap.State != Idle {
		out := m.outcome()
		m.mu.Unlock()
		return out, errors.ErrDebateInProgress
	}
	next, effects := Transition(m.snap, Start{Instructions: instructions})
	if len(effects) == 0 {
		m.mu.Unlock()
		return Outcome{State: Idle}, nil
	}
	m.question = question
	runCtx, gen := m.beginLocked(ctx, next)
	m.mu.Unlock()

	metrics.DebateTransition("start")
	m.publish(event.NewDebateStartedEvent(len(instructions)))
	m.logger.Info("debate started", "instructions", len(instructions))
	return m.drive(runCtx, gen, effects)
}

// Continue resumes a paused debate with a fresh round budget.
func (m *Machine) Continue(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	switch m.snap.State {
	case Idle:
		m.mu.Unlock()
		return Outcome{State: Idle}, errors.ErrNoDebate
	case Running:
		out := m.outcome()
		m.mu.Unlock()
		return out, errors.ErrDebateInProgress
	}
	next, effects := Transition(m.snap, Continue{})
	runCtx, gen := m.beginLocked(ctx, next)
	m.mu.Unlock()

	metrics.DebateTransition("continue")
	m.logger.Info("debate continued", "queue_depth", len(next.Queue))
	return m.drive(runCtx, gen, effects)
}

// RequestPause pauses the debate once the current exchange finishes.
func (m *Machine) RequestPause(reason string) {
	m.mu.Lock()
	m.snap, _ = Transition(m.snap, RequestPause{Reason: reason})
	m.mu.Unlock()
}

// End force-stops the debate, cancels the in-flight exchange and appends
// the gavel message. It reports whether there was anything to end.
func (m *Machine) End() bool {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	next, effects := Transition(m.snap, End{})
	if len(effects) == 0 {
		m.mu.Unlock()
		return false
	}
	m.snap = next
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, eff := range effects {
		switch eff := eff.(type) {
		case CancelInFlight:
			if cancel != nil {
				cancel()
			}
		case AppendSystem:
			m.cfg.Transcript.AppendSystem(eff.Text)
		}
	}
	metrics.DebateTransition("end")
	m.publish(event.NewDebateEndedEvent())
	m.logger.Info("debate ended by user")
	return true
}

// Gavel appends the gavel message when there is no debate for End to stop,
// such as an ask whose fan-out was cut short. Anything the machine still
// holds is dropped first.
func (m *Machine) Gavel() {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	m.snap = Snapshot{State: Idle, Budget: m.cfg.Budget}
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	m.cfg.Transcript.AppendSystem(GavelMessage)
	metrics.DebateTransition("end")
	m.publish(event.NewDebateEndedEvent())
	m.logger.Info("round ended by user before a debate began")
}

// Reset silently abandons any debate without a gavel message.
func (m *Machine) Reset() {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	m.snap = Snapshot{State: Idle, Budget: m.cfg.Budget}
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Machine) beginLocked(ctx context.Context, next Snapshot) (context.Context, uint64) {
	if m.cancel != nil {
		m.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.snap = next
	m.gen++
	m.cancel = cancel
	return runCtx, m.gen
}

// apply feeds ev to Transition if gen is still current.
func (m *Machine) apply(gen uint64, ev Event) ([]Effect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil, false
	}
	var effects []Effect
	m.snap, effects = Transition(m.snap, ev)
	metrics.DebateTransition(ev.debateEvent())
	return effects, true
}

func (m *Machine) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// outcome must be called with mu held.
func (m *Machine) outcome() Outcome {
	return Outcome{
		State:       m.snap.State,
		Rounds:      m.snap.Round,
		QueueDepth:  len(m.snap.Queue),
		PauseReason: m.snap.PauseReason,
	}
}

// finish releases the run context if gen still owns it.
func (m *Machine) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// abandon resets state after the caller's context ended without End.
func (m *Machine) abandon(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.snap = Snapshot{State: Idle, Budget: m.cfg.Budget}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Machine) ended() Outcome {
	return Outcome{State: Idle, Ended: true}
}

func (m *Machine) drive(ctx context.Context, gen uint64, effects []Effect) (Outcome, error) {
	var utterance string
	for len(effects) > 0 {
		eff := effects[0]
		effects = effects[1:]

		switch eff := eff.(type) {
		case RunExchange:
			reply, err := m.runExchange(ctx, gen, eff)
			if err != nil {
				return m.stopped(gen, err)
			}
			utterance = reply
			next, ok := m.apply(gen, ExchangeDone{})
			if !ok {
				return m.ended(), nil
			}
			effects = append(effects, next...)

		case CheckReaction:
			v, err := m.cfg.Checker.ReactionCheck(ctx, utterance, eff.Instruction.Responder, eff.Instruction.Target)
			if err != nil {
				return m.stopped(gen, err)
			}
			next, ok := m.apply(gen, ReactionResult{Verdict: v})
			if !ok {
				return m.ended(), nil
			}
			effects = append(effects, next...)

		case PausedEffect:
			m.finish(gen)
			m.mu.Lock()
			out := m.outcome()
			m.mu.Unlock()
			m.publish(event.NewDebatePausedEvent(eff.Reason, out.Rounds, eff.QueueDepth))
			m.logger.Info("debate paused", "reason", eff.Reason, "queue_depth", eff.QueueDepth)
			return out, nil

		case Concluded:
			m.finish(gen)
			m.publish(event.NewDebateConcludedEvent(eff.Rounds))
			m.logger.Info("debate concluded", "rounds", eff.Rounds)
			if m.cfg.OnConclude != nil {
				m.cfg.OnConclude()
			}
			return Outcome{State: Idle, Rounds: eff.Rounds, Concluded: true}, nil
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome(), nil
}

// stopped handles a cancelled exchange or reaction check.
func (m *Machine) stopped(gen uint64, err error) (Outcome, error) {
	if !m.current(gen) {
		return m.ended(), nil
	}
	m.abandon(gen)
	return Outcome{State: Idle}, err
}

func (m *Machine) runExchange(ctx context.Context, gen uint64, ex RunExchange) (string, error) {
	in := ex.Instruction
	p, _ := persona.Get(in.Responder)

	ctx, span := tracer.Start(ctx, "debate.exchange", trace.WithAttributes(
		attribute.Int("round", ex.Round),
		attribute.String("responder", string(in.Responder)),
		attribute.String("target", string(in.Target)),
	))
	defer span.End()

	if ex.PauseFirst {
		if err := m.sleep(ctx, m.cfg.Pacer.Fixed(m.cfg.InterRoundPause)); err != nil {
			return "", err
		}
	}
	if err := m.sleep(ctx, m.cfg.Pacer.Delay(p.Pacing.Reading)); err != nil {
		return "", err
	}

	metrics.DebateRound()
	m.publish(event.NewDebateRoundEvent(ex.Round, string(in.Responder), string(in.Target)))
	m.publish(event.NewTypingStartedEvent(string(in.Responder), string(in.Target), event.ChannelGroup))

	var history []agent.PriorMessage
	m.mu.Lock()
	if m.question != "" {
		history = []agent.PriorMessage{{Role: "user", Content: m.question}}
	}
	m.mu.Unlock()

	reply, err := m.cfg.Responder.Respond(ctx, agent.Request{
		Persona: in.Responder,
		Prompt:  in.Reason,
		ReplyTo: in.Target,
		History: history,
		Mode:    agent.ModeGroup,
	})
	if err != nil {
		return "", err
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	if !m.current(gen) {
		return "", errors.ErrCanceled
	}
	m.cfg.Transcript.AppendAgent(in.Responder, in.Target, reply.Content)
	m.logger.Debug("debate exchange",
		"round", ex.Round,
		"responder", string(in.Responder),
		"target", string(in.Target),
		"placeholder", reply.Placeholder)
	return reply.Content, nil
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	if err := m.cfg.Scheduler.Sleep(ctx, d); err != nil {
		if errors.Is(err, clock.ErrClosed) {
			return errors.Join(errors.ErrCanceled, err)
		}
		return err
	}
	return nil
}

func (m *Machine) publish(e event.Event) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(e)
	}
}
