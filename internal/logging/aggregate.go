package logging

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of council.log.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Persona   string         `json:"persona,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero fields match everything; set fields are
// combined with AND.
type Filter struct {
	// MinLevel keeps entries at or above this level.
	MinLevel  string
	Since     time.Time
	SessionID string
	Persona   string
	Phase     string
	// Pattern is matched against the message and the rendered attrs.
	Pattern *regexp.Regexp
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var reservedKeys = map[string]bool{
	"time":       true,
	"level":      true,
	"msg":        true,
	"session_id": true,
	"persona":    true,
	"phase":      true,
}

// ReadLogs parses {dir}/council.log, skipping lines that are not JSON.
// Entries come back in time order.
func ReadLogs(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s in %s: %w", LogFileName, dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseLogs(f)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

// ParseLogs reads JSON log lines from r in order.
func ParseLogs(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if e, err := ParseEntry(line); err == nil {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return entries, nil
}

// ParseEntry decodes one JSON log line.
func ParseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid log line: %w", err)
	}

	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}
	e := Entry{
		Level:     str("level"),
		Message:   str("msg"),
		SessionID: str("session_id"),
		Persona:   str("persona"),
		Phase:     str("phase"),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("time")); err == nil {
		e.Time = t
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		e.Attrs[k] = v
	}
	return e, nil
}

// Match reports whether e passes every set criterion of f.
func (f Filter) Match(e Entry) bool {
	if f.MinLevel != "" {
		want, ok1 := levelRank[strings.ToUpper(f.MinLevel)]
		got, ok2 := levelRank[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if f.SessionID != "" && !strings.HasPrefix(e.SessionID, f.SessionID) {
		return false
	}
	if f.Persona != "" && e.Persona != f.Persona {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Message) && !f.Pattern.MatchString(attrsString(e.Attrs)) {
		return false
	}
	return true
}

// FilterEntries returns the entries that match f.
func FilterEntries(entries []Entry, f Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Tail returns the last n entries, or all of them when n <= 0.
func Tail(entries []Entry, n int) []Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// Export writes entries to w as "json", "text" or "csv".
func Export(w io.Writer, entries []Entry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		for _, e := range entries {
			if _, err := io.WriteString(w, FormatText(e)+"\n"); err != nil {
				return err
			}
		}
		return nil
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q (supported: json, text, csv)", format)
	}
}

// FormatText renders e on one line:
//
//	[2006-01-02 15:04:05.000] INFO question asked (session=..., phase=...) {"chars":12}
func FormatText(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

	var ctx []string
	if e.SessionID != "" {
		ctx = append(ctx, "session="+e.SessionID)
	}
	if e.Persona != "" {
		ctx = append(ctx, "persona="+e.Persona)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if s := attrsString(e.Attrs); s != "" {
		b.WriteString(" " + s)
	}
	return b.String()
}

func exportCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "level", "msg", "session_id", "persona", "phase", "attrs"}); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			e.Time.Format(time.RFC3339Nano),
			e.Level,
			e.Message,
			e.SessionID,
			e.Persona,
			e.Phase,
			attrsString(e.Attrs),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func attrsString(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(b)
}
