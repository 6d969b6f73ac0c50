// Package debate drives the follow-up exchanges that run after the
// initial fan-out when the coordinator finds disagreement.
//
// # State Machine
//
// A debate is always in one of three states:
//
//   - Idle: no debate, or the last one concluded or was ended
//   - Running: exactly one exchange is in flight
//   - Paused: waiting for the user to continue or end
//
// The rules live in [Transition], a pure function from a [Snapshot] and an
// [Event] to the next Snapshot plus the [Effect] values the caller must
// perform. [Machine] performs those effects: it waits the persona's reading
// delay, asks the responder, appends the reply, asks the coordinator for a
// reaction and feeds the results back into Transition.
//
// # Usage
//
//	m := debate.NewMachine(debate.Config{
//		Responder:  agentClient,
//		Checker:    coordinatorClient,
//		Transcript: tr,
//	})
//	out, err := m.Start(ctx, question, verdict.Debates)
//	if out.State == debate.Paused {
//		out, err = m.Continue(ctx)
//	}
//
// # Thread Safety
//
// Machine is safe for concurrent use. End may be called from any goroutine
// while Start or Continue is blocked; replies that arrive after End are
// discarded.
package debate
