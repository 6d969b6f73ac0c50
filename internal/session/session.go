// Package session ties one user's council together: the group transcript,
// the fan-out, the debate machine, the alliance queue and the private
// channels all share a single scheduler and a single teardown context.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/alliance"
	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/coordinator"
	"github.com/Iron-Ham/council/internal/debate"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/fanout"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/private"
	"github.com/Iron-Ham/council/internal/transcript"
	"github.com/Iron-Ham/council/internal/transport"
)

// Config holds everything needed to build a Session.
type Config struct {
	// Streamer talks to the backend. It may be nil when both Responder
	// and Checker are supplied.
	Streamer        transport.Streamer
	ChatPath        string
	PrivatePath     string
	CoordinatorPath string
	UserID          string

	// Responder and Checker replace the HTTP clients when set.
	Responder agent.Responder
	Checker   coordinator.Checker

	// Clock drives every delay. Nil means the real clock.
	Clock clock.Clock
	// Seed seeds pacing and alliance randomness. Zero picks a random seed.
	Seed        uint64
	PacingScale float64

	ReadingPause    time.Duration
	InterRoundPause time.Duration
	RoundBudget     int

	AllianceEnabled bool
	Alliance        alliance.Config
	Probabilities   alliance.Probabilities

	Logger *logging.Logger
}

// DefaultConfig returns production timings with the given streamer.
func DefaultConfig(streamer transport.Streamer) Config {
	return Config{
		Streamer:        streamer,
		PacingScale:     1,
		ReadingPause:    fanout.DefaultReadingPause,
		InterRoundPause: debate.DefaultInterRound,
		RoundBudget:     debate.DefaultBudget,
		AllianceEnabled: true,
		Alliance:        alliance.DefaultConfig(),
		Probabilities:   alliance.DefaultProbabilities(),
	}
}

// Session is one user's council. It is safe for concurrent use.
type Session struct {
	id      string
	created time.Time
	logger  *logging.Logger

	bus        *event.Bus
	sched      *clock.Scheduler
	transcript *transcript.Transcript
	machine    *debate.Machine
	dispatcher *fanout.Dispatcher
	analyzer   *alliance.Analyzer
	queue      *alliance.Queue
	private    *private.Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	asking    bool
	askEnded  bool
	askCancel context.CancelFunc
	closed    bool
}

// New builds a session with the given id.
func New(id string, cfg Config) (*Session, error) {
	if cfg.Streamer == nil && (cfg.Responder == nil || cfg.Checker == nil) {
		return nil, errors.NewValidationError("a streamer is required unless both responder and checker are set").
			WithField("streamer")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	s := &Session{
		id:     id,
		logger: cfg.Logger.WithSession(id),
		bus:    event.NewBus(),
		sched:  clock.NewScheduler(cfg.Clock),
	}
	s.created = s.sched.Now()
	s.bus.SetLogger(s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	src := pacing.NewSource(cfg.Seed)
	pacer := pacing.NewPacer(src, cfg.PacingScale)
	s.transcript = transcript.New(s.bus, s.sched.Now)

	responder := cfg.Responder
	if responder == nil {
		responder = agent.New(agent.Config{
			Streamer:    cfg.Streamer,
			Scheduler:   s.sched,
			Pacer:       pacer,
			Bus:         s.bus,
			Logger:      s.logger,
			ChatPath:    cfg.ChatPath,
			PrivatePath: cfg.PrivatePath,
			UserID:      cfg.UserID,
		})
	}
	checker := cfg.Checker
	if checker == nil {
		opts := []coordinator.Option{coordinator.WithBus(s.bus), coordinator.WithLogger(s.logger)}
		if cfg.CoordinatorPath != "" {
			opts = append(opts, coordinator.WithPath(cfg.CoordinatorPath))
		}
		checker = coordinator.New(cfg.Streamer, opts...)
	}

	s.private = private.NewManager(private.Config{
		Responder: responder,
		Group:     s.transcript,
		Bus:       s.bus,
		Logger:    s.logger,
		Now:       s.sched.Now,
	})

	if cfg.AllianceEnabled {
		s.analyzer = alliance.NewAnalyzer(src, cfg.Probabilities, s.logger)
		s.queue = alliance.NewQueue(cfg.Alliance, s.private.DeliverAlliance,
			alliance.WithScheduler(s.sched),
			alliance.WithSource(src),
			alliance.WithBus(s.bus),
			alliance.WithLogger(s.logger),
		)
	}

	s.machine = debate.NewMachine(debate.Config{
		Responder:       responder,
		Checker:         checker,
		Transcript:      s.transcript,
		Scheduler:       s.sched,
		Pacer:           pacer,
		Bus:             s.bus,
		Logger:          s.logger,
		Budget:          cfg.RoundBudget,
		InterRoundPause: cfg.InterRoundPause,
		OnConclude:      s.analyze,
	})
	s.dispatcher = fanout.New(fanout.Config{
		Responder:    responder,
		Checker:      checker,
		Debate:       s.machine,
		Transcript:   s.transcript,
		Scheduler:    s.sched,
		Pacer:        pacer,
		Bus:          s.bus,
		Logger:       s.logger,
		ReadingPause: cfg.ReadingPause,
	})

	metrics.SessionOpened()
	s.logger.Info("session opened", "alliance", cfg.AllianceEnabled)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *event.Bus { return s.bus }

// Transcript returns the group transcript.
func (s *Session) Transcript() *transcript.Transcript { return s.transcript }

// Private returns the private channel manager.
func (s *Session) Private() *private.Manager { return s.private }

// Alliance returns the alliance queue, or nil when alliances are disabled.
func (s *Session) Alliance() *alliance.Queue { return s.queue }

// Ask posts a question to the whole council and blocks until the fan-out
// and any debate it starts have settled. Any previous debate is dropped
// without a gavel.
func (s *Session) Ask(ctx context.Context, question string) (fanout.Result, error) {
	runCtx, question, finish, err := s.beginAsk(ctx, question)
	if err != nil {
		return fanout.Result{}, err
	}
	defer finish()
	return s.runAsk(runCtx, question)
}

// AskAsync validates the question and claims the session like Ask, then
// runs the round in the background. done, if set, receives the result
// after the session is free again.
func (s *Session) AskAsync(ctx context.Context, question string, done func(fanout.Result, error)) error {
	runCtx, question, finish, err := s.beginAsk(ctx, question)
	if err != nil {
		return err
	}
	go func() {
		res, err := s.runAsk(runCtx, question)
		finish()
		if err != nil && !errors.IsCanceled(err) {
			s.logger.Error("background ask failed", "error", err)
		}
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

func (s *Session) beginAsk(ctx context.Context, question string) (context.Context, string, func(), error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, "", nil, errors.NewValidationError("question cannot be empty").
			WithField("question").
			WithCause(errors.ErrEmptyMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("ask"); err != nil {
		return nil, "", nil, err
	}
	if s.asking {
		return nil, "", nil, errors.NewSessionError("ask rejected", errors.ErrSessionBusy).WithSessionID(s.id)
	}
	runCtx, release := s.link(ctx)
	s.asking = true
	s.askEnded = false
	s.askCancel = release

	// Under mu so End always sees the question before it can gavel.
	s.machine.Reset()
	s.transcript.AppendUser(question)

	finish := func() {
		release()
		s.mu.Lock()
		s.asking = false
		s.askCancel = nil
		s.mu.Unlock()
	}
	return runCtx, question, finish, nil
}

func (s *Session) runAsk(ctx context.Context, question string) (fanout.Result, error) {
	s.logger.Info("question asked", "chars", len(question))
	return s.dispatcher.Dispatch(ctx, question)
}

// Continue resumes a paused debate.
func (s *Session) Continue(ctx context.Context) (debate.Outcome, error) {
	s.mu.Lock()
	if err := s.checkLocked("continue"); err != nil {
		s.mu.Unlock()
		return debate.Outcome{}, err
	}
	runCtx, release := s.link(ctx)
	s.mu.Unlock()
	defer release()

	return s.machine.Continue(runCtx)
}

// RequestPause asks the running debate to pause after the current exchange.
func (s *Session) RequestPause(reason string) {
	s.machine.RequestPause(reason)
}

// End gavels the council. During an ask it also cancels the fan-out and
// any debate the ask started, so the gavel appears once whichever phase
// the ask was in. It reports whether there was anything to end.
func (s *Session) End() bool {
	s.mu.Lock()
	live := s.asking && !s.askEnded
	cancelAsk := s.askCancel
	if live {
		s.askEnded = true
	}
	s.mu.Unlock()

	if !live {
		return s.machine.End()
	}
	cancelAsk()
	if !s.machine.End() {
		s.machine.Gavel()
	}
	s.logger.Info("ask ended by user")
	return true
}

// OpenPrivate makes p the active private conversation.
func (s *Session) OpenPrivate(p persona.ID) error {
	return s.private.Open(p)
}

// SendPrivate sends text to p's private channel and waits for the reply.
func (s *Session) SendPrivate(ctx context.Context, p persona.ID, text string) (private.Message, error) {
	s.mu.Lock()
	if err := s.checkLocked("private message"); err != nil {
		s.mu.Unlock()
		return private.Message{}, err
	}
	runCtx, release := s.link(ctx)
	s.mu.Unlock()
	defer release()

	return s.private.Send(runCtx, p, text)
}

// Nudge has p message the user privately about the group discussion
// without being asked.
func (s *Session) Nudge(ctx context.Context, p persona.ID, reason string) (private.Message, error) {
	s.mu.Lock()
	if err := s.checkLocked("nudge"); err != nil {
		s.mu.Unlock()
		return private.Message{}, err
	}
	runCtx, release := s.link(ctx)
	s.mu.Unlock()
	defer release()

	if strings.TrimSpace(reason) == "" {
		reason = DefaultNudgeReason
	}
	return s.private.TriggerProactive(runCtx, p, s.transcript.FormatRecent(), reason)
}

// DefaultNudgeReason is sent when Nudge is given no reason.
const DefaultNudgeReason = "the user wants to hear what you really think"

// CancelGossip drops p's pending alliance delivery. It reports false when
// nothing from p was pending or alliances are off.
func (s *Session) CancelGossip(p persona.ID) bool {
	if s.queue == nil {
		return false
	}
	ok := s.queue.Cancel(p)
	if ok {
		s.logger.Info("gossip canceled", "from", p)
	}
	return ok
}

// Clear abandons every in-flight call and empties the transcript, the
// private channels and the alliance queue.
func (s *Session) Clear() {
	s.mu.Lock()
	if s.askCancel != nil {
		s.askCancel()
	}
	s.mu.Unlock()

	s.machine.Reset()
	if s.queue != nil {
		s.queue.Clear()
	}
	s.private.ClearAll()
	s.transcript.Reset()
	s.logger.Info("session cleared")
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.machine.Reset()
	if s.queue != nil {
		s.queue.Close()
	}
	s.sched.Close()
	metrics.SessionClosed()
	s.logger.Info("session closed")
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	ID         string               `json:"id"`
	CreatedAt  time.Time            `json:"createdAt"`
	Asking     bool                 `json:"asking"`
	Transcript []transcript.Message `json:"transcript"`
	Debate     debate.Snapshot      `json:"debate"`
	Alliance   *AllianceStatus      `json:"alliance,omitempty"`
	Unread     map[persona.ID]int   `json:"unread"`
	Busy       []persona.ID         `json:"busy,omitempty"`
}

// AllianceStatus summarizes the alliance queue.
type AllianceStatus struct {
	RemainingQuota int                       `json:"remainingQuota"`
	Pending        []alliance.QueuedDelivery `json:"pending"`
	History        []alliance.DeliveryRecord `json:"history"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	asking := s.asking
	s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		CreatedAt:  s.created,
		Asking:     asking,
		Transcript: s.transcript.Messages(),
		Debate:     s.machine.Snapshot(),
		Unread:     s.private.UnreadCounts(),
		Busy:       s.private.Busy(),
	}
	if s.queue != nil {
		snap.Alliance = &AllianceStatus{
			RemainingQuota: s.queue.RemainingDailyQuota(),
			Pending:        s.queue.Pending(),
			History:        s.queue.History(),
		}
	}
	return snap
}

// analyze runs once per concluded debate.
func (s *Session) analyze() {
	if s.queue == nil {
		return
	}
	triggers := s.analyzer.Analyze(s.transcript.Messages())
	admitted := s.queue.AddTriggers(triggers)
	s.logger.Info("post-debate analysis", "candidates", len(triggers), "admitted", admitted)
}

// link derives a context that ends with either ctx or the session.
// The caller must call release.
func (s *Session) link(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) checkLocked(op string) error {
	if s.closed {
		return errors.NewSessionError(op+" rejected", errors.ErrSessionClosed).WithSessionID(s.id)
	}
	return nil
}
