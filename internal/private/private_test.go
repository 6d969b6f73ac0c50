package private

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/alliance"
	cerrors "github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

type captureResponder struct {
	mu    sync.Mutex
	reqs  []agent.Request
	reply string
}

func (r *captureResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return agent.Reply{Persona: req.Persona, Content: r.reply}, nil
}

func (r *captureResponder) last() agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

type gateResponder struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gateResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	r.entered <- struct{}{}
	select {
	case <-r.release:
		return agent.Reply{Persona: req.Persona, Content: "finally"}, nil
	case <-ctx.Done():
		return agent.Reply{}, ctx.Err()
	}
}

func TestSend(t *testing.T) {
	group := transcript.New(nil, nil)
	group.AppendUser("Is it okay to skip Thanksgiving?")
	group.AppendAgent(persona.GrandmaEdith, "", "Absolutely not.")

	resp := &captureResponder{reply: "Come here, mija."}
	m := NewManager(Config{Responder: resp, Group: group})

	if _, err := m.Send(context.Background(), persona.AbuelaCarmen, "Hola abuela"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg, err := m.Send(context.Background(), persona.AbuelaCarmen, "Are you there?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Role != RolePersona || msg.Content != "Come here, mija." {
		t.Errorf("reply = %+v", msg)
	}

	req := resp.last()
	if req.Mode != agent.ModePrivate || req.Persona != persona.AbuelaCarmen {
		t.Errorf("request = %+v", req)
	}
	wantRoles := []string{"user", "assistant", "user"}
	if len(req.History) != len(wantRoles) {
		t.Fatalf("history = %+v", req.History)
	}
	for i, role := range wantRoles {
		if req.History[i].Role != role {
			t.Errorf("history[%d].Role = %q, want %q", i, req.History[i].Role, role)
		}
	}
	if req.History[2].Content != "Are you there?" {
		t.Errorf("last history entry = %q", req.History[2].Content)
	}
	want := "User: Is it okay to skip Thanksgiving?\n\nGrandma Edith: Absolutely not."
	if req.GroupChatContext != want {
		t.Errorf("GroupChatContext = %q, want %q", req.GroupChatContext, want)
	}

	conv, _ := m.Conversation(persona.AbuelaCarmen)
	if len(conv.Messages) != 4 || conv.Typing {
		t.Errorf("conversation = %+v", conv)
	}
	if conv.Unread != 2 {
		t.Errorf("Unread = %d, want 2 (conversation not open)", conv.Unread)
	}
}

func TestSend_Validation(t *testing.T) {
	m := NewManager(Config{Responder: &captureResponder{}})
	if _, err := m.Send(context.Background(), persona.NanaRuth, "  "); !errors.Is(err, cerrors.ErrEmptyMessage) {
		t.Errorf("blank = %v, want ErrEmptyMessage", err)
	}
	if _, err := m.Send(context.Background(), "grandpa", "hi"); !errors.Is(err, cerrors.ErrUnknownPersona) {
		t.Errorf("unknown = %v, want ErrUnknownPersona", err)
	}
	if err := m.Open("grandpa"); !errors.Is(err, cerrors.ErrUnknownPersona) {
		t.Errorf("Open unknown = %v", err)
	}
}

func TestUnreadTracking(t *testing.T) {
	m := NewManager(Config{Responder: &captureResponder{reply: "hello"}})

	if err := m.Open(persona.BaNguyen); err != nil {
		t.Fatal(err)
	}
	m.Send(context.Background(), persona.BaNguyen, "hi")
	m.Send(context.Background(), persona.BibiAmara, "hi")
	m.Send(context.Background(), persona.BibiAmara, "hello?")

	counts := m.UnreadCounts()
	if counts[persona.BaNguyen] != 0 || counts[persona.BibiAmara] != 2 {
		t.Errorf("UnreadCounts() = %v", counts)
	}
	if m.TotalUnread() != 2 {
		t.Errorf("TotalUnread() = %d, want 2", m.TotalUnread())
	}

	m.Open(persona.BibiAmara)
	if m.TotalUnread() != 0 {
		t.Errorf("TotalUnread() after Open = %d", m.TotalUnread())
	}
	if m.Active() != persona.BibiAmara {
		t.Errorf("Active() = %q", m.Active())
	}
	m.CloseActive()
	m.Send(context.Background(), persona.BibiAmara, "bye")
	if m.TotalUnread() != 1 {
		t.Errorf("TotalUnread() after CloseActive = %d, want 1", m.TotalUnread())
	}
}

func TestSend_BusyChannel(t *testing.T) {
	resp := &gateResponder{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(Config{Responder: resp})

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), persona.NanaRuth, "first")
		done <- err
	}()
	<-resp.entered

	conv, _ := m.Conversation(persona.NanaRuth)
	if !conv.Typing {
		t.Error("Typing = false while a reply is in flight")
	}
	if _, err := m.Send(context.Background(), persona.NanaRuth, "second"); !errors.Is(err, cerrors.ErrChannelBusy) {
		t.Errorf("concurrent Send = %v, want ErrChannelBusy", err)
	}
	if busy := m.Busy(); len(busy) != 1 || busy[0] != persona.NanaRuth {
		t.Errorf("Busy() = %v", busy)
	}

	close(resp.release)
	if err := <-done; err != nil {
		t.Fatalf("first Send error = %v", err)
	}
	conv, _ = m.Conversation(persona.NanaRuth)
	if conv.Typing || len(conv.Messages) != 2 {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestClearDiscardsInflightReply(t *testing.T) {
	resp := &gateResponder{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(Config{Responder: resp})

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), persona.GrandmaEdith, "hello")
		done <- err
	}()
	<-resp.entered

	m.ClearAll()

	select {
	case err := <-done:
		if !errors.Is(err, cerrors.ErrCanceled) {
			t.Errorf("Send error = %v, want ErrCanceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after ClearAll")
	}
	conv, _ := m.Conversation(persona.GrandmaEdith)
	if len(conv.Messages) != 0 || conv.Typing {
		t.Errorf("conversation after ClearAll = %+v", conv)
	}
}

func TestTriggerProactive(t *testing.T) {
	group := transcript.New(nil, nil)
	group.AppendUser("q")
	resp := &captureResponder{reply: "I was thinking about what you said."}
	m := NewManager(Config{Responder: resp, Group: group})

	msg, err := m.TriggerProactive(context.Background(), persona.BaNguyen, "money talk", "worried")
	if err != nil {
		t.Fatalf("TriggerProactive() error = %v", err)
	}
	if !msg.Proactive || msg.Alliance {
		t.Errorf("message = %+v", msg)
	}
	req := resp.last()
	if req.Proactive == nil || req.Proactive.TriggerReason != "worried" {
		t.Errorf("Proactive = %+v", req.Proactive)
	}
	if req.GroupChatContext != "" {
		t.Error("proactive messages should not carry group context")
	}
	conv, _ := m.Conversation(persona.BaNguyen)
	if len(conv.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (no user message)", len(conv.Messages))
	}
}

func TestDeliverAlliance(t *testing.T) {
	resp := &captureResponder{reply: "Between us..."}
	m := NewManager(Config{Responder: resp})

	err := m.DeliverAlliance(context.Background(), alliance.Trigger{
		Type:    alliance.Outnumbered,
		From:    persona.NanaRuth,
		About:   persona.BaNguyen,
		Context: "Your ally Bà Nguyen was ganged up on",
		Snippet: "Bà, you are wrong",
	})
	if err != nil {
		t.Fatalf("DeliverAlliance() error = %v", err)
	}

	req := resp.last()
	if req.Persona != persona.NanaRuth || req.Alliance == nil {
		t.Fatalf("request = %+v", req)
	}
	if req.Alliance.AboutPersonaID != "ba-nguyen" || req.Alliance.TriggerType != "outnumbered" || req.Alliance.DebateSnippet != "Bà, you are wrong" {
		t.Errorf("Alliance = %+v", req.Alliance)
	}
	conv, _ := m.Conversation(persona.NanaRuth)
	if len(conv.Messages) != 1 || !conv.Messages[0].Alliance || conv.Unread != 1 {
		t.Errorf("conversation = %+v", conv)
	}

	var _ alliance.DeliverFunc = m.DeliverAlliance
}
