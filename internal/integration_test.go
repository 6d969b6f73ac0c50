// Package internal contains integration tests that run the council packages
// together against a fake streaming backend.
package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/server"
	"github.com/Iron-Ham/council/internal/session"
	"github.com/Iron-Ham/council/internal/transcript"
	"github.com/Iron-Ham/council/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBackend serves the persona and coordinator endpoints with canned
// streams. The first verdict starts a debate where Bibi Amara answers
// Nana Ruth; every reaction check ends it.
type fakeBackend struct {
	mu       sync.Mutex
	modes    []string
	replies  []string
	unauthed atomic.Int32
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", b.persona)
	mux.HandleFunc("/api/private-chat", b.persona)
	mux.HandleFunc("/api/coordinator", b.coordinator)
	return mux
}

func (b *fakeBackend) authorize(r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-key" || r.Header.Get("X-Council-User") != "user-1" {
		b.unauthed.Add(1)
	}
}

func (b *fakeBackend) persona(w http.ResponseWriter, r *http.Request) {
	b.authorize(r)
	var req struct {
		PersonaID            string `json:"personaId"`
		ReplyTargetPersonaID string `json:"replyTargetPersonaId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.replies = append(b.replies, req.PersonaID+">"+req.ReplyTargetPersonaID)
	b.mu.Unlock()

	text := persona.Name(persona.ID(req.PersonaID)) + " says tea first"
	if req.ReplyTargetPersonaID != "" {
		text = "No, " + persona.Name(persona.ID(req.ReplyTargetPersonaID)) + ", coffee"
	}
	quoted, _ := json.Marshal(text)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "9:{\"toolCallId\":\"c1\",\"toolName\":\"search_memories\"}\n")
	fmt.Fprintf(w, "a:{\"toolCallId\":\"c1\",\"result\":[]}\n")
	fmt.Fprintf(w, "0:%s\n", quoted)
}

func (b *fakeBackend) coordinator(w http.ResponseWriter, r *http.Request) {
	b.authorize(r)
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.modes = append(b.modes, req.Mode)
	b.mu.Unlock()

	verdict := `{"hasDisagreement":false,"debates":[],"shouldPause":false}`
	if req.Mode == "initial" {
		verdict = `{"hasDisagreement":true,"debates":[{"responderId":"bibi-amara","targetId":"nana-ruth","reason":"tea versus coffee"}],"shouldPause":false}`
	}
	quoted, _ := json.Marshal("Verdict: " + verdict)
	fmt.Fprintf(w, "0:%s\n", quoted)
}

func (b *fakeBackend) seen() (modes, replies []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.modes...), append([]string(nil), b.replies...)
}

func newCouncil(t *testing.T) (*fakeBackend, session.Config) {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client := transport.NewClient(srv.URL,
		transport.WithAPIKey("test-key"),
		transport.WithUserID("user-1"),
		transport.WithTimeout(5*time.Second),
	)
	cfg := session.DefaultConfig(client)
	cfg.PacingScale = 0
	cfg.ReadingPause = 0
	cfg.InterRoundPause = 0
	cfg.AllianceEnabled = false
	cfg.Seed = 7
	return backend, cfg
}

func hasReply(msgs []transcript.Message, from, to persona.ID) bool {
	for _, m := range msgs {
		if m.Kind == transcript.KindAgent && m.Persona == from && m.ReplyingTo == to {
			return true
		}
	}
	return false
}

// TestAskAndDebate runs a question through fan-out and a one-round debate
// over the HTTP transport.
func TestAskAndDebate(t *testing.T) {
	backend, cfg := newCouncil(t)
	sess, err := session.New("integration", cfg)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := sess.Ask(ctx, "Tea or coffee?")
	require.NoError(t, err)
	assert.Len(t, res.Answers, len(persona.All()))

	msgs := sess.Transcript().Messages()
	require.GreaterOrEqual(t, len(msgs), 7)
	assert.Equal(t, transcript.KindUser, msgs[0].Kind)
	assert.Equal(t, "Tea or coffee?", msgs[0].Content)
	assert.True(t, hasReply(msgs, persona.BibiAmara, persona.NanaRuth), "expected Bibi Amara to answer Nana Ruth")

	snap := sess.Snapshot()
	assert.False(t, snap.Asking)
	assert.Equal(t, "idle", string(snap.Debate.State))

	modes, replies := backend.seen()
	require.NotEmpty(t, modes)
	assert.Equal(t, "initial", modes[0])
	assert.Contains(t, modes, "reaction")
	assert.Contains(t, replies, "bibi-amara>nana-ruth")
	assert.Zero(t, backend.unauthed.Load(), "every request should carry the API key and user")
}

// TestServerEndToEnd drives the same flow through the REST API.
func TestServerEndToEnd(t *testing.T) {
	_, cfg := newCouncil(t)
	mgr := session.NewManager(cfg)
	srv := server.New(mgr, nil)
	t.Cleanup(srv.Close)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	resp, err := http.Post(api.URL+"/v1/sessions", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)

	base := api.URL + "/v1/sessions/" + created.ID
	body, _ := json.Marshal(map[string]string{"question": "Tea or coffee?"})
	resp, err = http.Post(base+"/questions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var snap session.Snapshot
	require.Eventually(t, func() bool {
		r, err := http.Get(base)
		if err != nil {
			return false
		}
		defer func() { _ = r.Body.Close() }()
		snap = session.Snapshot{}
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			return false
		}
		return !snap.Asking && len(snap.Transcript) >= 7
	}, 10*time.Second, 20*time.Millisecond)

	assert.True(t, hasReply(snap.Transcript, persona.BibiAmara, persona.NanaRuth))
	assert.Equal(t, "idle", string(snap.Debate.State))

	body, _ = json.Marshal(map[string]string{"message": "Which one do you really drink?"})
	resp, err = http.Post(base+"/private/nana-ruth", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
