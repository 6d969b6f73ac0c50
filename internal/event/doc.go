// Package event provides a pub-sub event bus for decoupled communication
// between council components.
//
// The fan-out dispatcher, debate machine, alliance queue and private
// channels publish what they do; the HTTP layer and the terminal client
// subscribe and render. Publishers never know who is listening.
//
// # Event Categories
//
// Transcript:
//   - [MessageAppendedEvent]: a message was added to the group transcript
//
// Presence:
//   - [TypingStartedEvent], [TypingStoppedEvent]
//   - [MemoryActivityStartedEvent], [MemoryActivityFinishedEvent]
//
// Coordinator and debate:
//   - [VerdictEvent]
//   - [DebateStartedEvent], [DebateRoundEvent], [DebatePausedEvent],
//     [DebateConcludedEvent], [DebateEndedEvent]
//
// Alliance:
//   - [AllianceScheduledEvent], [AllianceRejectedEvent], [AllianceDeliveredEvent]
//
// Private channels:
//   - [PrivateMessageEvent]
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and a panicking handler does not stop delivery to
// the others.
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - message.appended
//   - typing.started, typing.stopped, memory.started, memory.finished
//   - coordinator.verdict
//   - debate.started, debate.round, debate.paused, debate.concluded, debate.ended
//   - alliance.scheduled, alliance.rejected, alliance.delivered
//   - private.message
package event
