package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/event"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/session"
	"github.com/Iron-Ham/council/internal/transcript"
)

const askHelp = `Start an interactive council session. Type a question and all five
grandmas answer; if they disagree they debate until the round budget runs
out or the argument settles.

Commands:
  /continue              resume a paused debate
  /end                   end the debate now, even mid-answer
  /dm <persona> <text>   send a private message (e.g. /dm @nana-ruth how are you?)
  /nudge <persona>       ask a grandma to message you privately
  /cancel <persona>      drop a grandma's pending gossip
  /quota                 show how much gossip is still allowed today
  /help                  show this help
  /quit                  leave`

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Chat with the council in the terminal",
	Long:  askHelp,
	Args:  cobra.NoArgs,
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	sess, err := session.New("terminal", sessionConfig(cfg, newStreamer(cfg.Backend), logger))
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runChat(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

// runChat drives the chat UI until the user quits or ctx ends. Session
// events reach the model through the program, so the input line stays
// live while the council is talking.
func runChat(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(newChatModel(ctx, sess),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	sub := sess.Bus().SubscribeAll(func(e event.Event) {
		p.Send(busEventMsg{event: e})
	})
	defer sess.Bus().Unsubscribe(sub)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

type commandKind int

const (
	cmdQuestion commandKind = iota
	cmdContinue
	cmdEnd
	cmdDM
	cmdNudge
	cmdCancel
	cmdQuota
	cmdHelp
	cmdQuit
)

// personaCommands take a persona as their first argument.
var personaCommands = map[string]commandKind{
	"/dm":     cmdDM,
	"/nudge":  cmdNudge,
	"/cancel": cmdCancel,
}

type command struct {
	kind    commandKind
	text    string
	persona persona.ID
}

// parseCommand interprets one input line. Lines that do not start with
// "/" are questions.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdQuestion, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/continue", "/c":
		return command{kind: cmdContinue}, nil
	case "/end":
		return command{kind: cmdEnd}, nil
	case "/quota":
		return command{kind: cmdQuota}, nil
	case "/help", "/?":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit", "/q":
		return command{kind: cmdQuit}, nil
	case "/dm", "/nudge", "/cancel":
		target, text, _ := strings.Cut(rest, " ")
		p, err := resolvePersona(target)
		if err != nil {
			return command{}, err
		}
		return command{kind: personaCommands[strings.ToLower(name)], persona: p, text: strings.TrimSpace(text)}, nil
	default:
		return command{}, errors.NewValidationError("unknown command").WithValue(name)
	}
}

// resolvePersona accepts "@nana-ruth", "nana-ruth" or an unambiguous
// fragment of a name such as "carmen".
func resolvePersona(target string) (persona.ID, error) {
	if ids := persona.ParseMentions(target); len(ids) == 1 {
		return ids[0], nil
	}
	target = strings.TrimPrefix(target, "@")
	if target == "" {
		return "", errors.NewValidationError("who should get the message?").WithCause(errors.ErrUnknownPersona)
	}
	matches := persona.Match(target)
	switch len(matches) {
	case 0:
		return "", errors.NewValidationError("no such grandma").WithValue(target).WithCause(errors.ErrUnknownPersona)
	case 1:
		return matches[0].ID, nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = string(m.ID)
		}
		return "", errors.NewValidationError("ambiguous grandma: " + strings.Join(names, ", ")).
			WithValue(target).WithCause(errors.ErrUnknownPersona)
	}
}

// Messages

type busEventMsg struct{ event event.Event }

// doneMsg reports a finished background session call.
type doneMsg struct {
	op  string
	err error
}

type endedMsg struct{ ended bool }

// chatModel is the bubbletea model behind `council ask`. Every session
// call that can block runs as a tea.Cmd.
type chatModel struct {
	ctx   context.Context
	sess  *session.Session
	input textinput.Model

	lines  []string
	height int
	// talking is set while an ask or continue is running.
	talking  string
	quitting bool
}

func newChatModel(ctx context.Context, sess *session.Session) chatModel {
	ti := textinput.New()
	ti.Placeholder = "ask the council, or /help"
	ti.Prompt = "› "
	ti.CharLimit = 2000
	ti.Focus()

	m := chatModel{ctx: ctx, sess: sess, input: ti}
	m.print(headerStyle.Render("The council is in session.") + systemStyle.Render("  /help for commands"))
	return m
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) print(s string) {
	m.lines = append(m.lines, strings.Split(s, "\n")...)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case busEventMsg:
		if s := renderEvent(msg.event); s != "" {
			m.print(s)
		}
		return m, nil

	case doneMsg:
		if msg.op == "ask" || msg.op == "continue" {
			m.talking = ""
		}
		if msg.err != nil && !errors.IsCanceled(msg.err) {
			m.print(errorStyle.Render(msg.err.Error()))
		}
		return m, nil

	case endedMsg:
		if !msg.ended {
			m.print(systemStyle.Render("(nothing to end)"))
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			return m.submit(line)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one entered line.
func (m chatModel) submit(line string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	c, err := parseCommand(line)
	if err != nil {
		m.print(errorStyle.Render(err.Error()))
		return m, nil
	}

	sess, ctx := m.sess, m.ctx
	switch c.kind {
	case cmdQuestion, cmdContinue:
		if m.talking != "" {
			m.print(systemStyle.Render("(the council is still talking: /end to stop them)"))
			return m, nil
		}
		if c.kind == cmdQuestion {
			m.print(userStyle.Render("you") + "\n" + c.text + "\n")
			m.talking = "ask"
			return m, func() tea.Msg {
				_, err := sess.Ask(ctx, c.text)
				return doneMsg{op: "ask", err: err}
			}
		}
		m.talking = "continue"
		return m, func() tea.Msg {
			_, err := sess.Continue(ctx)
			return doneMsg{op: "continue", err: err}
		}
	case cmdEnd:
		return m, func() tea.Msg { return endedMsg{ended: sess.End()} }
	case cmdDM:
		m.print(userStyle.Render("you → ") + personaLabel(c.persona) + "\n" + c.text + "\n")
		return m, func() tea.Msg {
			_, err := sess.SendPrivate(ctx, c.persona, c.text)
			return doneMsg{op: "dm", err: err}
		}
	case cmdNudge:
		m.print(systemStyle.Render("(nudging " + persona.Name(c.persona) + ")"))
		return m, func() tea.Msg {
			_, err := sess.Nudge(ctx, c.persona, c.text)
			return doneMsg{op: "nudge", err: err}
		}
	case cmdCancel:
		if sess.CancelGossip(c.persona) {
			m.print(systemStyle.Render("(" + persona.Name(c.persona) + " will keep it to herself)"))
		} else {
			m.print(systemStyle.Render("(no gossip pending from " + persona.Name(c.persona) + ")"))
		}
	case cmdQuota:
		m.print(quota(sess))
	case cmdHelp:
		m.print(askHelp)
	case cmdQuit:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m chatModel) View() string {
	if m.quitting {
		return ""
	}
	lines := m.lines
	// Room for the status and input lines.
	if keep := m.height - 2; m.height > 0 && len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if m.talking != "" {
		b.WriteString(systemStyle.Render("(the council is talking… /end to stop)"))
	}
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	return b.String()
}

// renderEvent formats the events the chat shows. Others render as "".
func renderEvent(e event.Event) string {
	switch e := e.(type) {
	case event.MessageAppendedEvent:
		switch transcript.Kind(e.Kind) {
		case transcript.KindAgent:
			label := personaLabel(persona.ID(e.Persona))
			if e.ReplyingTo != "" {
				label += systemStyle.Render(" → " + persona.Name(persona.ID(e.ReplyingTo)))
			}
			return label + "\n" + e.Content + "\n"
		case transcript.KindSystem:
			return systemStyle.Render(e.Content) + "\n"
		}
	case event.DebatePausedEvent:
		return systemStyle.Render(fmt.Sprintf("(debate paused after round %d: /continue or /end)", e.Round))
	case event.PrivateMessageEvent:
		if e.Role != "persona" {
			return ""
		}
		return privateStyle.Render("✉ private from ") + personaLabel(persona.ID(e.Persona)) + "\n" +
			privateStyle.Render(e.Content) + "\n"
	}
	return ""
}

func quota(sess *session.Session) string {
	q := sess.Alliance()
	if q == nil {
		return systemStyle.Render("private gossip is turned off")
	}
	s := fmt.Sprintf("%d gossip messages left today, %d pending", q.RemainingDailyQuota(), len(q.Pending()))
	if next, ok := q.NextDeliveryTime(); ok {
		s += fmt.Sprintf(", next at %s", next.Format(time.Kitchen))
	}
	return systemStyle.Render(s)
}
