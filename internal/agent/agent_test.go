package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/council/internal/clock"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/stream"
	"github.com/Iron-Ham/council/internal/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func newRecordingBus() (*event.Bus, *recorder) {
	bus := event.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	return bus, rec
}

func frames(events ...stream.Event) transport.Func {
	return func(ctx context.Context, path string, body any, fn func(stream.Event)) error {
		for _, ev := range events {
			fn(ev)
		}
		return nil
	}
}

func TestRespond_AccumulatesText(t *testing.T) {
	bus, rec := newRecordingBus()
	c := New(Config{
		Streamer: frames(
			stream.TextDelta{Text: "Eat "},
			stream.ToolCall{ID: "c1", Name: ToolSearchMemories},
			stream.TextDelta{Text: "your soup."},
			stream.ToolResult{ID: "c1"},
		),
		Bus: bus,
	})

	reply, err := c.Respond(context.Background(), Request{Persona: persona.NanaRuth})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Content != "Eat your soup." {
		t.Errorf("Content = %q", reply.Content)
	}
	if reply.Placeholder {
		t.Error("Placeholder = true, want false")
	}

	want := []string{"memory.started", "memory.finished", "typing.stopped"}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	started := rec.events[0].(event.MemoryActivityStartedEvent)
	if started.Activity != ActivitySearching || started.Persona != string(persona.NanaRuth) {
		t.Errorf("started = %+v", started)
	}
}

func TestRespond_ActivityMapping(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{ToolSearchMemories, ActivitySearching},
		{ToolCreateMemory, ActivitySaving},
		{"weather_lookup", ""},
	}
	for _, tt := range tests {
		if got := activityFor(tt.tool); got != tt.want {
			t.Errorf("activityFor(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestRespond_FailureYieldsPlaceholder(t *testing.T) {
	bus, rec := newRecordingBus()
	c := New(Config{
		Streamer: transport.Func(func(ctx context.Context, path string, body any, fn func(stream.Event)) error {
			fn(stream.TextDelta{Text: "half a thou"})
			return errors.NewBackendError("boom", nil).WithStatus(500)
		}),
		Bus: bus,
	})

	reply, err := c.Respond(context.Background(), Request{Persona: persona.GrandmaEdith})
	if err != nil {
		t.Fatalf("Respond() error = %v, want nil", err)
	}
	if !reply.Placeholder {
		t.Error("Placeholder = false, want true")
	}
	if reply.Content != "*Grandma Edith is having technical difficulties*" {
		t.Errorf("Content = %q", reply.Content)
	}
	if got := rec.types(); len(got) != 1 || got[0] != "typing.stopped" {
		t.Errorf("events = %v", got)
	}
}

func TestRespond_CanceledReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{
		Streamer: transport.Func(func(ctx context.Context, path string, body any, fn func(stream.Event)) error {
			fn(stream.TextDelta{Text: "Well, back in"})
			cancel()
			return ctx.Err()
		}),
	})

	reply, err := c.Respond(ctx, Request{Persona: persona.BaNguyen})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Respond() error = %v, want context.Canceled", err)
	}
	if reply.Content != "Well, back in" {
		t.Errorf("Content = %q", reply.Content)
	}
	if reply.Placeholder {
		t.Error("canceled reply must not be a placeholder")
	}
}

func TestRespond_UnknownPersona(t *testing.T) {
	c := New(Config{Streamer: frames()})
	if _, err := c.Respond(context.Background(), Request{Persona: "grandpa-joe"}); !errors.Is(err, errors.ErrUnknownPersona) {
		t.Errorf("Respond() error = %v, want ErrUnknownPersona", err)
	}
}

func TestRespond_WireRequest(t *testing.T) {
	var gotPath string
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got)
		_, _ = io.WriteString(w, stream.EncodeText("Psst."))
	}))
	defer server.Close()

	c := New(Config{Streamer: transport.NewClient(server.URL), UserID: "anon-1"})
	reply, err := c.Respond(context.Background(), Request{
		Persona: persona.BibiAmara,
		Mode:    ModePrivate,
		History: []PriorMessage{{Role: "user", Content: "hi"}},
		Alliance: &AllianceContext{
			AboutPersonaID: string(persona.AbuelaCarmen),
			TriggerType:    "outnumbered",
			Context:        "Your ally Abuela Carmen was ganged up on",
		},
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Content != "Psst." {
		t.Errorf("Content = %q", reply.Content)
	}
	if gotPath != DefaultPrivatePath {
		t.Errorf("path = %q, want %q", gotPath, DefaultPrivatePath)
	}
	if got["personaId"] != "bibi-amara" || got["userId"] != "anon-1" {
		t.Errorf("body = %v", got)
	}
	alliance, ok := got["allianceContext"].(map[string]any)
	if !ok || alliance["aboutPersonaId"] != "abuela-carmen" {
		t.Errorf("allianceContext = %v", got["allianceContext"])
	}
	if _, present := got["proactiveContext"]; present {
		t.Error("proactiveContext should be omitted")
	}
}

func TestRespond_GroupPathAndReplyTarget(t *testing.T) {
	var gotPath string
	var body any
	c := New(Config{
		Streamer: transport.Func(func(ctx context.Context, path string, b any, fn func(stream.Event)) error {
			gotPath, body = path, b
			fn(stream.TextDelta{Text: "Nonsense, Ruth."})
			return nil
		}),
	})

	reply, err := c.Respond(context.Background(), Request{
		Persona: persona.GrandmaEdith,
		Prompt:  "Edith thinks Ruth is too soft",
		ReplyTo: persona.NanaRuth,
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if gotPath != DefaultChatPath {
		t.Errorf("path = %q", gotPath)
	}
	wire := body.(wireRequest)
	if wire.ReplyTargetPersonaID != "nana-ruth" || wire.PromptOverride == "" {
		t.Errorf("wire = %+v", wire)
	}
	if reply.ReplyTo != persona.NanaRuth {
		t.Errorf("ReplyTo = %q", reply.ReplyTo)
	}
}

func TestRespond_CancelDuringPostDelay(t *testing.T) {
	sched := clock.NewScheduler(clock.NewFake(time.Now()))
	defer sched.Close()

	c := New(Config{
		Streamer:  frames(stream.TextDelta{Text: "done"}),
		Scheduler: sched,
		Pacer:     pacing.NewPacer(pacing.NewSource(3), 1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		reply Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := c.Respond(ctx, Request{Persona: persona.NanaRuth})
		done <- result{reply, err}
	}()

	for sched.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	res := <-done
	if !errors.IsCanceled(res.err) {
		t.Errorf("Respond() error = %v, want cancellation", res.err)
	}
	if res.reply.Content != "done" {
		t.Errorf("Content = %q, want accumulated text", res.reply.Content)
	}
}
