package debate

import (
	"time"

	"github.com/Iron-Ham/council/internal/coordinator"
)

// State is the debate's lifecycle state.
type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Paused  State = "paused"
)

// Defaults used when a Snapshot or Config leaves them unset.
const (
	DefaultBudget      = 5
	DefaultInterRound  = 1200 * time.Millisecond
	BudgetPauseReason  = "The council has been at it for a while. Let them keep going?"
	DefaultPauseReason = "The grandmas are catching their breath."
	GavelMessage       = "🔨 The council has been gaveled to order."
)

// Snapshot is the complete debate state.
type Snapshot struct {
	State       State                     `json:"state"`
	Queue       []coordinator.Instruction `json:"queue"`
	Current     coordinator.Instruction   `json:"current"`
	Round       int                       `json:"round"`
	Budget      int                       `json:"budget"`
	PauseReason string                    `json:"pauseReason,omitempty"`
	// PauseRequested holds a pause asked for mid-exchange; it takes effect
	// when the exchange finishes.
	PauseRequested string `json:"pauseRequested,omitempty"`
}

// Event is an input to Transition.
type Event interface{ debateEvent() string }

// Start begins a debate with the coordinator's instructions.
type Start struct{ Instructions []coordinator.Instruction }

// Continue resumes a paused debate.
type Continue struct{}

// ExchangeDone reports that the current exchange's reply was appended.
type ExchangeDone struct{}

// ReactionResult carries the coordinator's reaction to the last reply.
type ReactionResult struct{ Verdict coordinator.Verdict }

// RequestPause asks the debate to pause after the current exchange.
type RequestPause struct{ Reason string }

// End force-stops the debate.
type End struct{}

func (Start) debateEvent() string          { return "start" }
func (Continue) debateEvent() string       { return "continue" }
func (ExchangeDone) debateEvent() string   { return "exchange_done" }
func (ReactionResult) debateEvent() string { return "reaction" }
func (RequestPause) debateEvent() string   { return "request_pause" }
func (End) debateEvent() string            { return "end" }

// Effect is an instruction to the driver.
type Effect interface{ debateEffect() }

// RunExchange asks the driver to produce the responder's reply.
// PauseFirst requests the inter-round pause before the reading delay.
type RunExchange struct {
	Instruction coordinator.Instruction
	Round       int
	PauseFirst  bool
}

// CheckReaction asks the driver to run a reaction check on the reply.
type CheckReaction struct {
	Instruction coordinator.Instruction
	Round       int
}

// PausedEffect reports that the debate is waiting for the user.
type PausedEffect struct {
	Reason     string
	QueueDepth int
}

// Concluded reports that the queue ran dry.
type Concluded struct{ Rounds int }

// CancelInFlight asks the driver to cancel the outstanding exchange.
type CancelInFlight struct{}

// AppendSystem asks the driver to append a system message.
type AppendSystem struct{ Text string }

func (RunExchange) debateEffect()    {}
func (CheckReaction) debateEffect()  {}
func (PausedEffect) debateEffect()   {}
func (Concluded) debateEffect()      {}
func (CancelInFlight) debateEffect() {}
func (AppendSystem) debateEffect()   {}

// Outcome is what Start and Continue report once the machine settles.
type Outcome struct {
	State       State  `json:"state"`
	Rounds      int    `json:"rounds"`
	QueueDepth  int    `json:"queueDepth"`
	PauseReason string `json:"pauseReason,omitempty"`
	Concluded   bool   `json:"concluded"`
	Ended       bool   `json:"ended"`
}
