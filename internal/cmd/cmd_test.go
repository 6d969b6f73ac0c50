package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/council/internal/agent"
	"github.com/Iron-Ham/council/internal/config"
	"github.com/Iron-Ham/council/internal/coordinator"
	"github.com/Iron-Ham/council/internal/debate"
	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/session"
	"github.com/Iron-Ham/council/internal/transport"
)

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "council" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "council")
	}

	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range []string{"serve", "ask", "personas", "config", "logs"} {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		kind    commandKind
		text    string
		persona persona.ID
		wantErr bool
	}{
		{line: "Should I wear a coat?", kind: cmdQuestion, text: "Should I wear a coat?"},
		{line: "  padded question  ", kind: cmdQuestion, text: "padded question"},
		{line: "/continue", kind: cmdContinue},
		{line: "/C", kind: cmdContinue},
		{line: "/end", kind: cmdEnd},
		{line: "/quota", kind: cmdQuota},
		{line: "/help", kind: cmdHelp},
		{line: "/exit", kind: cmdQuit},
		{line: "/dm @nana-ruth are you mad at Edith?", kind: cmdDM, persona: persona.NanaRuth, text: "are you mad at Edith?"},
		{line: "/dm carmen hola", kind: cmdDM, persona: persona.AbuelaCarmen, text: "hola"},
		{line: "/dm @BIBI-AMARA hi", kind: cmdDM, persona: persona.BibiAmara, text: "hi"},
		{line: "/nudge @ba-nguyen", kind: cmdNudge, persona: persona.BaNguyen},
		{line: "/cancel edith", kind: cmdCancel, persona: persona.GrandmaEdith},
		{line: "/dm grandpa hi", wantErr: true},
		{line: "/cancel", wantErr: true},
		{line: "/dm", wantErr: true},
		{line: "/dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.kind != tt.kind || got.text != tt.text || got.persona != tt.persona {
				t.Errorf("parseCommand() = %+v, want kind=%d text=%q persona=%q", got, tt.kind, tt.text, tt.persona)
			}
		})
	}
}

func TestResolvePersona_Unknown(t *testing.T) {
	_, err := resolvePersona("grandpa-joe")
	if !errors.Is(err, errors.ErrUnknownPersona) {
		t.Errorf("error = %v, want ErrUnknownPersona", err)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.ChatPath = "/v2/chat"
	cfg.Backend.UserID = "user-7"
	cfg.Pacing.Scale = 0.5
	cfg.Pacing.Seed = 42
	cfg.Debate.RoundBudget = 3
	cfg.Alliance.Enabled = false
	cfg.Alliance.DeliveryDelayMinSeconds = 30
	cfg.Alliance.HarshProbability = 0.9

	sc := sessionConfig(cfg, newStreamer(cfg.Backend), nil)

	if sc.Streamer == nil {
		t.Fatal("Streamer not set")
	}
	if _, ok := sc.Streamer.(*transport.Client); !ok {
		t.Errorf("Streamer = %T, want *transport.Client", sc.Streamer)
	}
	if sc.ChatPath != "/v2/chat" || sc.UserID != "user-7" {
		t.Errorf("backend fields = %q, %q", sc.ChatPath, sc.UserID)
	}
	if sc.PacingScale != 0.5 || sc.Seed != 42 {
		t.Errorf("pacing = %v, %v", sc.PacingScale, sc.Seed)
	}
	if sc.ReadingPause != 1500*time.Millisecond {
		t.Errorf("ReadingPause = %v", sc.ReadingPause)
	}
	if sc.RoundBudget != 3 || sc.InterRoundPause != 1200*time.Millisecond {
		t.Errorf("debate = %d, %v", sc.RoundBudget, sc.InterRoundPause)
	}
	if sc.AllianceEnabled {
		t.Error("AllianceEnabled should follow alliance.enabled")
	}
	if sc.Alliance.DeliveryDelayMin != 30*time.Second || sc.Alliance.SamePersonaCooldown != 30*time.Minute {
		t.Errorf("alliance = %+v", sc.Alliance)
	}
	if sc.Probabilities.Harsh != 0.9 || sc.Probabilities.PostDebate != 0.4 {
		t.Errorf("probabilities = %+v", sc.Probabilities)
	}
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		key, value string
		want       any
		wantErr    bool
	}{
		{"debate.round_budget", "3", 3, false},
		{"debate.round_budget", "three", nil, true},
		{"alliance.daily_limit", "-1", nil, true},
		{"alliance.enabled", "false", false, false},
		{"alliance.enabled", "nope", nil, true},
		{"pacing.scale", "0.25", 0.25, false},
		{"backend.base_url", "https://example.com", "https://example.com", false},
		{"tui.theme", "dark", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseSetting(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSetting() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseSetting() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestSettableKeysMatchDefaults(t *testing.T) {
	// A typo in settableKeys would write a key nothing reads.
	var buf bytes.Buffer
	printConfig(&buf, config.Default())
	shown := buf.String()
	for key := range settableKeys {
		leaf := key[strings.LastIndex(key, ".")+1:]
		if !strings.Contains(shown, "  "+leaf+":") {
			t.Errorf("key %q is settable but not shown by config show", key)
		}
	}
}

func TestPrintPersonas(t *testing.T) {
	var buf bytes.Buffer
	printPersonas(&buf)
	out := buf.String()

	for _, p := range persona.All() {
		if !strings.Contains(out, p.Name) {
			t.Errorf("output missing %s", p.Name)
		}
		if !strings.Contains(out, "@"+string(p.ID)) {
			t.Errorf("output missing handle for %s", p.ID)
		}
	}
	if !strings.Contains(out, "ally") || !strings.Contains(out, "frenemy") {
		t.Errorf("output missing relationships:\n%s", out)
	}
}

func TestBuildFilter(t *testing.T) {
	t.Cleanup(func() { logsLevel, logsSince, logsGrep = "", "", "" })
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	logsLevel, logsSince, logsGrep = "warn", "30m", "fail(ed)?"
	f, err := buildFilter(now)
	if err != nil {
		t.Fatalf("buildFilter() error = %v", err)
	}
	if f.MinLevel != "WARN" {
		t.Errorf("MinLevel = %q, want WARN", f.MinLevel)
	}
	if !f.Since.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("Since = %v", f.Since)
	}
	if f.Pattern == nil || !f.Pattern.MatchString("delivery failed") {
		t.Error("Pattern not compiled")
	}

	logsLevel, logsSince, logsGrep = "loud", "", ""
	if _, err := buildFilter(now); err == nil {
		t.Error("expected an error for an invalid level")
	}
	logsLevel, logsSince = "", "yesterday"
	if _, err := buildFilter(now); err == nil {
		t.Error("expected an error for an invalid duration")
	}
	logsSince, logsGrep = "", "("
	if _, err := buildFilter(now); err == nil {
		t.Error("expected an error for an invalid pattern")
	}
}

type echoResponder struct{}

func (echoResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	return agent.Reply{Persona: req.Persona, Content: "says " + string(req.Mode)}, ctx.Err()
}

// chatDriver feeds typed lines and session events through a chatModel the
// way the bubbletea program would.
type chatDriver struct {
	model  chatModel
	events chan event.Event
}

func newChatDriver(t *testing.T, sess *session.Session) *chatDriver {
	t.Helper()
	d := &chatDriver{model: newChatModel(context.Background(), sess), events: make(chan event.Event, 512)}
	id := sess.Bus().SubscribeAll(func(e event.Event) { d.events <- e })
	t.Cleanup(func() { sess.Bus().Unsubscribe(id) })
	return d
}

func (d *chatDriver) update(msg tea.Msg) tea.Cmd {
	m, cmd := d.model.Update(msg)
	d.model = m.(chatModel)
	return cmd
}

// enter types line, presses enter and returns the command the model wants run.
func (d *chatDriver) enter(line string) tea.Cmd {
	d.model.input.SetValue(line)
	return d.update(tea.KeyMsg{Type: tea.KeyEnter})
}

// run executes cmd in the foreground and delivers its result and any
// session events it caused.
func (d *chatDriver) run(cmd tea.Cmd) {
	if cmd != nil {
		if msg := cmd(); msg != nil {
			d.update(msg)
		}
	}
	d.drain()
}

func (d *chatDriver) drain() {
	for {
		select {
		case e := <-d.events:
			d.update(busEventMsg{event: e})
		default:
			return
		}
	}
}

func (d *chatDriver) output() string {
	return strings.Join(d.model.lines, "\n")
}

func TestChatModel(t *testing.T) {
	sess, err := session.New("test", session.Config{
		Responder: echoResponder{},
		Checker:   coordinator.Static{},
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	defer sess.Close()

	d := newChatDriver(t, sess)
	for _, line := range []string{
		"Is cereal a soup?",
		"   ",
		"/dm carmen secret question",
		"/nudge ruth",
		"/cancel edith",
		"/quota",
		"/dance",
	} {
		d.run(d.enter(line))
	}

	got := d.output()
	for _, want := range []string{
		"Is cereal a soup?",
		"Nana Ruth",
		"Bibi Amara",
		"private from",
		"secret question",
		"says private",
		"no gossip pending from Grandma Edith",
		"gossip is turned off",
		"unknown command",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if d.model.talking != "" {
		t.Errorf("talking = %q after the ask finished", d.model.talking)
	}
	if n := len(sess.Transcript().Messages()); n != 6 {
		t.Errorf("transcript has %d messages, want 6", n)
	}
	if conv, _ := sess.Private().Conversation(persona.NanaRuth); len(conv.Messages) != 1 {
		t.Errorf("Nana Ruth private messages = %d, want 1 nudge", len(conv.Messages))
	}

	cmd := d.enter("/quit")
	if cmd == nil || !d.model.quitting {
		t.Fatal("/quit did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit should return tea.Quit")
	}
	if d.model.View() != "" {
		t.Error("View() should be empty once quitting")
	}
}

// stallingResponder answers the fan-out, then holds every debate reply
// until its context ends.
type stallingResponder struct {
	debating chan struct{}
	once     sync.Once
}

func (r *stallingResponder) Respond(ctx context.Context, req agent.Request) (agent.Reply, error) {
	if req.ReplyTo == "" {
		return agent.Reply{Persona: req.Persona, Content: "absolutely not"}, ctx.Err()
	}
	r.once.Do(func() { close(r.debating) })
	<-ctx.Done()
	return agent.Reply{}, ctx.Err()
}

func TestChatModel_EndDuringDebate(t *testing.T) {
	resp := &stallingResponder{debating: make(chan struct{})}
	sess, err := session.New("test", session.Config{
		Responder: resp,
		Checker: coordinator.Static{Initial: coordinator.Verdict{
			HasDisagreement: true,
			Debates: []coordinator.Instruction{
				{Responder: persona.BaNguyen, Target: persona.NanaRuth, Reason: "too soft"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	defer sess.Close()

	d := newChatDriver(t, sess)
	ask := d.enter("should I?")
	if ask == nil || d.model.talking == "" {
		t.Fatal("a question should start a background ask")
	}
	asked := make(chan tea.Msg, 1)
	go func() { asked <- ask() }()

	select {
	case <-resp.debating:
	case <-time.After(2 * time.Second):
		t.Fatal("debate never started")
	}
	if st := sess.Snapshot().Debate.State; st != debate.Running {
		t.Fatalf("debate state = %s, want running", st)
	}

	// A second question is refused while the council is still talking.
	if cmd := d.enter("and another thing"); cmd != nil {
		t.Error("a question during a debate should not start another ask")
	}

	d.run(d.enter("/end"))
	select {
	case msg := <-asked:
		d.update(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("ask still running after /end")
	}
	d.drain()

	if st := sess.Snapshot().Debate.State; st != debate.Idle {
		t.Errorf("debate state = %s after /end, want idle", st)
	}
	if d.model.talking != "" {
		t.Errorf("talking = %q after /end", d.model.talking)
	}
	out := d.output()
	if !strings.Contains(out, "gaveled to order") {
		t.Errorf("gavel not shown:\n%s", out)
	}
	if !strings.Contains(out, "still talking") {
		t.Errorf("second question was not refused:\n%s", out)
	}
	if strings.Contains(out, "nothing to end") {
		t.Error("/end reported nothing to end during a debate")
	}
}
