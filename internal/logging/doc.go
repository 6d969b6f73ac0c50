// Package logging provides structured logging for council sessions.
//
// It wraps log/slog with a JSON handler and carries context attributes
// (session, persona, phase) down to child loggers. The level is shared by
// a logger and all of its children, so a config reload can change it at
// runtime with [Logger.SetLevel].
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/council", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessLogger := logger.WithSession(id).WithPhase("debate")
//	sessLogger.Info("round complete", "round", 2)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"round complete","session_id":"...","phase":"debate","round":2}
//
// An empty directory sends logs to stderr. Tests use [NopLogger] or
// [NewWriterLogger] over a buffer.
//
// # Reading Logs Back
//
// [ReadLogs] parses council.log, [Filter] narrows the entries and
// [Export] renders them as json, text or csv:
//
//	entries, err := logging.ReadLogs(dir)
//	if err != nil {
//	    return err
//	}
//	warn := logging.FilterEntries(entries, logging.Filter{MinLevel: "WARN", Phase: "alliance"})
//	_ = logging.Export(os.Stdout, warn, "text")
//
// # Configuration
//
//	logging:
//	  level: info
//	  dir: ~/.local/state/council
package logging
