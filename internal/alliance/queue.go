package alliance

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
)

// Gate rejections.
var (
	ErrDailyLimit      = errors.New("daily gossip limit reached")
	ErrGlobalCooldown  = errors.New("global gossip cooldown active")
	ErrPersonaCooldown = errors.New("persona gossip cooldown active")
	ErrAlreadyPending  = errors.New("persona already has gossip pending")
	ErrQueueClosed     = errors.New("alliance queue closed")
)

// Config holds the rate limits and delivery delay window.
type Config struct {
	DailyLimit          int
	SamePersonaCooldown time.Duration
	GlobalCooldown      time.Duration
	DeliveryDelayMin    time.Duration
	DeliveryDelayMax    time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		DailyLimit:          5,
		SamePersonaCooldown: 30 * time.Minute,
		GlobalCooldown:      10 * time.Minute,
		DeliveryDelayMin:    2 * time.Minute,
		DeliveryDelayMax:    5 * time.Minute,
	}
}

// DeliverFunc sends one trigger to the user.
type DeliverFunc func(ctx context.Context, t Trigger) error

// QueuedDelivery is a trigger waiting for its timer.
type QueuedDelivery struct {
	Trigger     Trigger   `json:"trigger"`
	ScheduledAt time.Time `json:"scheduledAt"`

	handle clock.Handle
}

// DeliveryRecord is an entry in the append-only delivery history.
type DeliveryRecord struct {
	From        persona.ID `json:"fromPersonaId"`
	DeliveredAt time.Time  `json:"deliveredAt"`
}

// Queue schedules triggers for delayed delivery. Deliveries are
// serialized, and each successful one is recorded before the next timer
// is evaluated.
type Queue struct {
	cfg     Config
	sched   *clock.Scheduler
	src     pacing.Source
	deliver DeliverFunc
	bus     *event.Bus
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []*QueuedDelivery
	history []DeliveryRecord
	closed  bool

	fireMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithScheduler sets the scheduler timers are registered with.
func WithScheduler(s *clock.Scheduler) Option {
	return func(q *Queue) { q.sched = s }
}

// WithSource sets the random source for delivery delays.
func WithSource(src pacing.Source) Option {
	return func(q *Queue) { q.src = src }
}

// WithBus publishes scheduling and delivery events.
func WithBus(bus *event.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// NewQueue creates a Queue that calls deliver when a timer fires.
func NewQueue(cfg Config, deliver DeliverFunc, opts ...Option) *Queue {
	q := &Queue{cfg: cfg, deliver: deliver}
	for _, opt := range opts {
		opt(q)
	}
	if q.sched == nil {
		q.sched = clock.NewScheduler(nil)
	}
	if q.src == nil {
		q.src = pacing.NewSource(0)
	}
	if q.logger == nil {
		q.logger = logging.NopLogger()
	}
	q.logger = q.logger.WithPhase("alliance")
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Schedule admits t if it passes every gate and arms its timer.
func (q *Queue) Schedule(t Trigger) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if err := q.gateLocked(t.From, true); err != nil {
		q.mu.Unlock()
		q.reject(t, err, false)
		return err
	}

	delay := pacing.Range{Min: q.cfg.DeliveryDelayMin, Max: q.cfg.DeliveryDelayMax}.Draw(q.src)
	item := &QueuedDelivery{Trigger: t, ScheduledAt: q.sched.Now().Add(delay)}
	q.pending = append(q.pending, item)
	item.handle = q.sched.Schedule(delay, func() { q.fire(item) })
	q.mu.Unlock()

	metrics.AllianceGate("schedule", "admitted")
	q.publish(event.NewAllianceScheduledEvent(string(t.From), string(t.About), string(t.Type), item.ScheduledAt))
	q.logger.Info("gossip scheduled",
		"from", string(t.From),
		"about", string(t.About),
		"trigger", string(t.Type),
		"delay_s", int(delay.Seconds()))
	return nil
}

// AddTriggers schedules each trigger in order and returns how many were admitted.
func (q *Queue) AddTriggers(triggers []Trigger) int {
	admitted := 0
	for _, t := range triggers {
		if q.Schedule(t) == nil {
			admitted++
		}
	}
	if len(triggers) > 0 {
		q.logger.Debug("triggers added", "admitted", admitted, "offered", len(triggers))
	}
	return admitted
}

// gateLocked checks the limits in order: daily, global, persona, and at
// schedule time also pending uniqueness.
func (q *Queue) gateLocked(from persona.ID, scheduling bool) error {
	now := q.sched.Now()
	used := q.usedTodayLocked()

	var last, lastFrom time.Time
	for _, r := range q.history {
		if r.DeliveredAt.After(last) {
			last = r.DeliveredAt
		}
		if r.From == from && r.DeliveredAt.After(lastFrom) {
			lastFrom = r.DeliveredAt
		}
	}

	switch {
	case used >= q.cfg.DailyLimit:
		return ErrDailyLimit
	case !last.IsZero() && now.Sub(last) < q.cfg.GlobalCooldown:
		return ErrGlobalCooldown
	case !lastFrom.IsZero() && now.Sub(lastFrom) < q.cfg.SamePersonaCooldown:
		return ErrPersonaCooldown
	}
	if scheduling {
		for _, p := range q.pending {
			if p.Trigger.From == from {
				return ErrAlreadyPending
			}
		}
	}
	return nil
}

// usedTodayLocked counts deliveries since local midnight plus pending items.
func (q *Queue) usedTodayLocked() int {
	now := q.sched.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	used := len(q.pending)
	for _, r := range q.history {
		if !r.DeliveredAt.Before(midnight) {
			used++
		}
	}
	return used
}

func (q *Queue) fire(item *QueuedDelivery) {
	q.fireMu.Lock()
	defer q.fireMu.Unlock()

	q.mu.Lock()
	if q.closed || !q.removeLocked(item) {
		q.mu.Unlock()
		return
	}
	err := q.gateLocked(item.Trigger.From, false)
	q.mu.Unlock()
	if err != nil {
		q.reject(item.Trigger, err, true)
		return
	}

	if err := q.deliver(q.ctx, item.Trigger); err != nil {
		q.logger.Error("gossip delivery failed", "from", string(item.Trigger.From), "error", err)
		metrics.AllianceGate("fire", "error")
		return
	}

	q.mu.Lock()
	now := q.sched.Now()
	if n := len(q.history); n > 0 && now.Before(q.history[n-1].DeliveredAt) {
		now = q.history[n-1].DeliveredAt
	}
	q.history = append(q.history, DeliveryRecord{From: item.Trigger.From, DeliveredAt: now})
	q.mu.Unlock()

	metrics.AllianceDelivered()
	q.publish(event.NewAllianceDeliveredEvent(string(item.Trigger.From), string(item.Trigger.About)))
	q.logger.Info("gossip delivered", "from", string(item.Trigger.From), "about", string(item.Trigger.About))
}

func (q *Queue) reject(t Trigger, err error, atFire bool) {
	stage := "schedule"
	if atFire {
		stage = "fire"
	}
	metrics.AllianceGate(stage, reasonLabel(err))
	q.publish(event.NewAllianceRejectedEvent(string(t.From), err.Error(), atFire))
	q.logger.Debug("gossip rejected", "from", string(t.From), "stage", stage, "reason", err.Error())
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrDailyLimit):
		return "daily_limit"
	case errors.Is(err, ErrGlobalCooldown):
		return "global_cooldown"
	case errors.Is(err, ErrPersonaCooldown):
		return "persona_cooldown"
	case errors.Is(err, ErrAlreadyPending):
		return "already_pending"
	default:
		return "other"
	}
}

func (q *Queue) removeLocked(item *QueuedDelivery) bool {
	i := slices.Index(q.pending, item)
	if i < 0 {
		return false
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return true
}

// Cancel drops the pending delivery from a persona.
func (q *Queue) Cancel(from persona.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		if p.Trigger.From == from {
			p.handle.Cancel()
			q.removeLocked(p)
			return true
		}
	}
	return false
}

// Clear drops every pending delivery. History is kept.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	for _, p := range q.pending {
		p.handle.Cancel()
	}
	q.pending = nil
	return n
}

// Close clears the queue, cancels any delivery in progress and rejects
// further scheduling.
func (q *Queue) Close() {
	q.Clear()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
}

// Pending returns the queued deliveries ordered by scheduled time.
func (q *Queue) Pending() []QueuedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedDelivery, len(q.pending))
	for i, p := range q.pending {
		out[i] = QueuedDelivery{Trigger: p.Trigger, ScheduledAt: p.ScheduledAt}
	}
	slices.SortStableFunc(out, func(a, b QueuedDelivery) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	return out
}

// History returns every delivery recorded so far.
func (q *Queue) History() []DeliveryRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.history)
}

// RemainingDailyQuota returns how many more triggers can be admitted
// today. Pending deliveries count against the quota.
func (q *Queue) RemainingDailyQuota() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return max(q.cfg.DailyLimit-q.usedTodayLocked(), 0)
}

// NextDeliveryTime returns the earliest scheduled delivery.
func (q *Queue) NextDeliveryTime() (time.Time, bool) {
	pending := q.Pending()
	if len(pending) == 0 {
		return time.Time{}, false
	}
	return pending[0].ScheduledAt, true
}

func (q *Queue) publish(e event.Event) {
	if q.bus != nil {
		q.bus.Publish(e)
	}
}
