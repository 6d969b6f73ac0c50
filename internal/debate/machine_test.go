package debate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/coordinator"
	cerrors "github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

type scriptedResponder struct {
	mu    sync.Mutex
	calls []agent.Request
}

func (r *scriptedResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	return agent.Reply{
		Persona: req.Persona,
		ReplyTo: req.ReplyTo,
		Content: fmt.Sprintf("%s answers %s", req.Persona, req.ReplyTo),
	}, nil
}

func (r *scriptedResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type blockingResponder struct {
	started chan struct{}
	once    sync.Once
}

func (r *blockingResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return agent.Reply{Persona: req.Persona, Content: "too late"}, ctx.Err()
}

func TestMachine_RunsToConclusion(t *testing.T) {
	tr := transcript.New(nil, nil)
	resp := &scriptedResponder{}
	var concluded atomic.Int32

	m := NewMachine(Config{
		Responder:  resp,
		Checker:    coordinator.Static{},
		Transcript: tr,
		OnConclude: func() { concluded.Add(1) },
	})

	out, err := m.Start(context.Background(), "Is it rude to text at dinner?", []coordinator.Instruction{
		ins(persona.BaNguyen, persona.NanaRuth),
		ins(persona.BibiAmara, persona.GrandmaEdith),
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !out.Concluded || out.State != Idle || out.Rounds != 2 {
		t.Errorf("Outcome = %+v", out)
	}
	if concluded.Load() != 1 {
		t.Errorf("OnConclude called %d times, want 1", concluded.Load())
	}

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Persona != persona.BaNguyen || msgs[0].ReplyingTo != persona.NanaRuth {
		t.Errorf("first exchange = %+v", msgs[0])
	}

	first := resp.calls[0]
	if first.Prompt != ins(persona.BaNguyen, persona.NanaRuth).Reason || first.ReplyTo != persona.NanaRuth {
		t.Errorf("request = %+v", first)
	}
	if len(first.History) != 1 || first.History[0].Content != "Is it rude to text at dinner?" {
		t.Errorf("history = %+v", first.History)
	}
}

func TestMachine_BudgetPauseAndContinue(t *testing.T) {
	tr := transcript.New(nil, nil)
	resp := &scriptedResponder{}

	bus := event.NewBus()
	var paused []event.DebatePausedEvent
	bus.Subscribe("debate.paused", func(e event.Event) {
		paused = append(paused, e.(event.DebatePausedEvent))
	})

	var concluded atomic.Int32
	m := NewMachine(Config{
		Responder:  resp,
		Checker:    coordinator.Static{},
		Transcript: tr,
		Bus:        bus,
		Budget:     2,
		OnConclude: func() { concluded.Add(1) },
	})

	out, err := m.Start(context.Background(), "q", []coordinator.Instruction{
		ins(persona.BaNguyen, persona.NanaRuth),
		ins(persona.NanaRuth, persona.BaNguyen),
		ins(persona.GrandmaEdith, persona.BibiAmara),
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if out.State != Paused || out.PauseReason != BudgetPauseReason || out.Rounds != 2 || out.QueueDepth != 1 {
		t.Errorf("Outcome = %+v", out)
	}
	if resp.count() != 2 {
		t.Errorf("responder calls = %d, want 2", resp.count())
	}
	if len(paused) != 1 || paused[0].QueueDepth != 1 {
		t.Errorf("paused events = %+v", paused)
	}

	if _, err := m.Start(context.Background(), "q", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)}); !errors.Is(err, cerrors.ErrDebateInProgress) {
		t.Errorf("Start while paused error = %v, want ErrDebateInProgress", err)
	}

	out, err = m.Continue(context.Background())
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if !out.Concluded || out.Rounds != 1 {
		t.Errorf("Outcome after Continue = %+v", out)
	}
	if resp.count() != 3 {
		t.Errorf("responder calls = %d, want 3", resp.count())
	}
	if concluded.Load() != 1 {
		t.Errorf("OnConclude called %d times, want 1", concluded.Load())
	}
}

func TestMachine_ReactionFollowUps(t *testing.T) {
	resp := &scriptedResponder{}
	// Every reply provokes the target to answer back.
	checker := coordinator.Static{Reaction: func(_ string, speaker, target persona.ID) coordinator.Verdict {
		return coordinator.Verdict{HasDisagreement: true, Debates: []coordinator.Instruction{ins(target, speaker)}}
	}}
	m := NewMachine(Config{Responder: resp, Checker: checker, Budget: 3})

	out, err := m.Start(context.Background(), "q", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if out.State != Paused || out.Rounds != 3 {
		t.Errorf("Outcome = %+v", out)
	}
	want := []persona.ID{persona.BaNguyen, persona.NanaRuth, persona.BaNguyen}
	for i, id := range want {
		if resp.calls[i].Persona != id {
			t.Errorf("call %d persona = %q, want %q", i, resp.calls[i].Persona, id)
		}
	}
}

func TestMachine_ReactionPause(t *testing.T) {
	checker := coordinator.Static{Reaction: func(string, persona.ID, persona.ID) coordinator.Verdict {
		return coordinator.Verdict{ShouldPause: true, PauseReason: "Ask the user."}
	}}
	m := NewMachine(Config{Responder: &scriptedResponder{}, Checker: checker})

	out, err := m.Start(context.Background(), "q", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if out.State != Paused || out.PauseReason != "Ask the user." {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestMachine_EndDuringExchange(t *testing.T) {
	tr := transcript.New(nil, nil)
	resp := &blockingResponder{started: make(chan struct{})}
	var concluded atomic.Int32
	m := NewMachine(Config{
		Responder:  resp,
		Checker:    coordinator.Static{},
		Transcript: tr,
		OnConclude: func() { concluded.Add(1) },
	})

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := m.Start(context.Background(), "q", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)})
		done <- result{out, err}
	}()

	select {
	case <-resp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("responder was never called")
	}

	if !m.End() {
		t.Fatal("End() = false, want true")
	}

	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after End")
	}
	if r.err != nil || !r.out.Ended {
		t.Errorf("Start() = %+v, %v", r.out, r.err)
	}

	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Kind != transcript.KindSystem || msgs[0].Content != GavelMessage {
		t.Errorf("transcript = %+v", msgs)
	}
	if m.End() {
		t.Error("second End() = true, want false")
	}
	if len(tr.Messages()) != 1 {
		t.Error("second End appended another message")
	}
	if concluded.Load() != 0 {
		t.Error("OnConclude ran for an ended debate")
	}
	if m.Snapshot().State != Idle {
		t.Errorf("state = %q, want idle", m.Snapshot().State)
	}
}

func TestMachine_ParentCanceled(t *testing.T) {
	resp := &blockingResponder{started: make(chan struct{})}
	m := NewMachine(Config{Responder: resp, Checker: coordinator.Static{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, "q", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)})
		done <- err
	}()
	<-resp.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if m.Snapshot().State != Idle {
		t.Errorf("state = %q, want idle", m.Snapshot().State)
	}
}

func TestMachine_ContinueWithoutDebate(t *testing.T) {
	m := NewMachine(Config{Responder: &scriptedResponder{}, Checker: coordinator.Static{}})
	if _, err := m.Continue(context.Background()); !errors.Is(err, cerrors.ErrNoDebate) {
		t.Errorf("Continue() error = %v, want ErrNoDebate", err)
	}
	if m.End() {
		t.Error("End() on idle machine = true")
	}
}

func TestMachine_StartEmpty(t *testing.T) {
	resp := &scriptedResponder{}
	m := NewMachine(Config{Responder: resp, Checker: coordinator.Static{}})
	out, err := m.Start(context.Background(), "q", nil)
	if err != nil || out.State != Idle || out.Concluded {
		t.Errorf("Start(nil) = %+v, %v", out, err)
	}
	if resp.count() != 0 {
		t.Error("responder called for empty debate")
	}
}

func TestMachine_StartAfterCancel(t *testing.T) {
	tr := transcript.New(nil, nil)
	resp := &scriptedResponder{}
	m := NewMachine(Config{Responder: resp, Checker: coordinator.Static{}, Transcript: tr})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := m.Start(ctx, "Tea or coffee?", []coordinator.Instruction{ins(persona.BaNguyen, persona.NanaRuth)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
	if out.State != Idle || m.Snapshot().State != Idle {
		t.Errorf("state = %s/%s, want idle", out.State, m.Snapshot().State)
	}
	if resp.count() != 0 || tr.Len() != 0 {
		t.Errorf("calls=%d messages=%d, want nothing", resp.count(), tr.Len())
	}
}

func TestMachine_Gavel(t *testing.T) {
	tr := transcript.New(nil, nil)
	m := NewMachine(Config{Responder: &scriptedResponder{}, Checker: coordinator.Static{}, Transcript: tr})

	m.Gavel()
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Kind != transcript.KindSystem || msgs[0].Content != GavelMessage {
		t.Errorf("transcript = %+v", msgs)
	}
	if m.End() {
		t.Error("End() after Gavel = true, want false")
	}
}
