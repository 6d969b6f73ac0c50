package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/council/internal/config"
	"github.com/Iron-Ham/council/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View council logs",
	Long: `View and filter council.log from the configured logging.dir.

Examples:
  # Last 50 entries
  council logs

  # Everything one session did during debates
  council logs -s 3f2a --phase debate -n 0

  # Follow warnings as they are written
  council logs -f --level warn

  # Export the last hour as CSV
  council logs --since 1h --format csv > council.csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsDir     string
	logsSession string
	logsPersona string
	logsPhase   string
	logsTail    int
	logsFollow  bool
	logsLevel   string
	logsSince   string
	logsGrep    string
	logsFormat  string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "log directory (default: logging.dir)")
	logsCmd.Flags().StringVarP(&logsSession, "session", "s", "", "session ID or prefix")
	logsCmd.Flags().StringVarP(&logsPersona, "persona", "p", "", "persona ID")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "phase (fanout, debate, alliance, private, http)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "filter entries matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "", "write plain output as json, text or csv")
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#7AA2F7")),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E0AF68")),
	logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
}

var contextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))

// formatEntry renders an entry for the terminal.
func formatEntry(e logging.Entry) string {
	var sb strings.Builder
	sb.WriteString(systemStyle.Render("[" + e.Time.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	level := strings.ToUpper(e.Level)
	if style, ok := levelStyles[level]; ok {
		sb.WriteString(style.Render("[" + level + "]"))
	} else {
		sb.WriteString("[" + level + "]")
	}
	sb.WriteString(" " + e.Message)

	for _, kv := range [][2]string{{"session", e.SessionID}, {"persona", e.Persona}, {"phase", e.Phase}} {
		if kv[1] != "" {
			sb.WriteString(" " + contextStyle.Render(kv[0]+"="+kv[1]))
		}
	}
	for k, v := range e.Attrs {
		sb.WriteString(fmt.Sprintf(" %s%v", contextStyle.Render(k+"="), v))
	}
	return sb.String()
}

// buildFilter turns the flags into a logging.Filter.
func buildFilter(now time.Time) (logging.Filter, error) {
	f := logging.Filter{
		SessionID: logsSession,
		Persona:   logsPersona,
		Phase:     logsPhase,
	}
	if logsLevel != "" {
		if !logging.IsValidLevel(logsLevel) {
			return f, fmt.Errorf("invalid level %q (valid: %s)", logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		f.MinLevel = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.Since = now.Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.Pattern = re
	}
	return f, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		dir = config.Get().Logging.Dir
	}
	if dir == "" {
		return fmt.Errorf("logging.dir is not set; logs go to stderr")
	}

	filter, err := buildFilter(time.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if logsFollow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return followLogs(ctx, out, filepath.Join(dir, logging.LogFileName), filter)
	}

	entries, err := logging.ReadLogs(dir)
	if err != nil {
		return err
	}
	entries = logging.Tail(logging.FilterEntries(entries, filter), logsTail)

	if logsFormat != "" {
		return logging.Export(out, entries, logsFormat)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(out, formatEntry(e))
	}
	return nil
}

// followLogs prints entries appended to path until ctx ends.
func followLogs(ctx context.Context, out io.Writer, path string, filter logging.Filter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", path)
	reader := bufio.NewReader(file)
	var partial string
	drain := func() error {
		for {
			chunk, err := reader.ReadString('\n')
			if err == io.EOF {
				partial += chunk
				return nil
			}
			if err != nil {
				return fmt.Errorf("error reading log file: %w", err)
			}
			line := strings.TrimSpace(partial + chunk)
			partial = ""
			if line == "" {
				continue
			}
			e, perr := logging.ParseEntry(line)
			if perr != nil {
				fmt.Fprintln(out, line)
				continue
			}
			if filter.Match(e) {
				fmt.Fprintln(out, formatEntry(e))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
