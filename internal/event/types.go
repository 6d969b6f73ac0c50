package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "typing.started", "debate.paused")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Channel names where typing and messages happen.
const (
	ChannelGroup   = "group"
	ChannelPrivate = "private"
)

// -----------------------------------------------------------------------------
// Transcript Events
// -----------------------------------------------------------------------------

// MessageAppendedEvent is emitted when a message is appended to the group transcript.
type MessageAppendedEvent struct {
	baseEvent
	MessageID  string `json:"messageId"`
	Kind       string `json:"kind"`
	Persona    string `json:"personaId,omitempty"`
	ReplyingTo string `json:"replyingTo,omitempty"`
	Content    string `json:"content"`
}

// NewMessageAppendedEvent creates a MessageAppendedEvent.
func NewMessageAppendedEvent(messageID, kind, persona, replyingTo, content string) MessageAppendedEvent {
	return MessageAppendedEvent{
		baseEvent:  newBaseEvent("message.appended"),
		MessageID:  messageID,
		Kind:       kind,
		Persona:    persona,
		ReplyingTo: replyingTo,
		Content:    content,
	}
}

// -----------------------------------------------------------------------------
// Presence Events
// -----------------------------------------------------------------------------

// TypingStartedEvent is emitted when a persona becomes visibly busy.
type TypingStartedEvent struct {
	baseEvent
	Persona    string `json:"personaId"`
	ReplyingTo string `json:"replyingTo,omitempty"`
	Channel    string `json:"channel"`
}

// NewTypingStartedEvent creates a TypingStartedEvent.
func NewTypingStartedEvent(persona, replyingTo, channel string) TypingStartedEvent {
	return TypingStartedEvent{
		baseEvent:  newBaseEvent("typing.started"),
		Persona:    persona,
		ReplyingTo: replyingTo,
		Channel:    channel,
	}
}

// TypingStoppedEvent is emitted on every exit path of a persona call.
type TypingStoppedEvent struct {
	baseEvent
	Persona string `json:"personaId"`
	Channel string `json:"channel"`
}

// NewTypingStoppedEvent creates a TypingStoppedEvent.
func NewTypingStoppedEvent(persona, channel string) TypingStoppedEvent {
	return TypingStoppedEvent{
		baseEvent: newBaseEvent("typing.stopped"),
		Persona:   persona,
		Channel:   channel,
	}
}

// MemoryActivityStartedEvent is emitted when a persona's stream reports a tool call.
type MemoryActivityStartedEvent struct {
	baseEvent
	Persona    string `json:"personaId"`
	ToolCallID string `json:"toolCallId"`
	Activity   string `json:"activity"`
}

// NewMemoryActivityStartedEvent creates a MemoryActivityStartedEvent.
func NewMemoryActivityStartedEvent(persona, toolCallID, activity string) MemoryActivityStartedEvent {
	return MemoryActivityStartedEvent{
		baseEvent:  newBaseEvent("memory.started"),
		Persona:    persona,
		ToolCallID: toolCallID,
		Activity:   activity,
	}
}

// MemoryActivityFinishedEvent is emitted when a tool result arrives.
type MemoryActivityFinishedEvent struct {
	baseEvent
	Persona    string `json:"personaId"`
	ToolCallID string `json:"toolCallId"`
}

// NewMemoryActivityFinishedEvent creates a MemoryActivityFinishedEvent.
func NewMemoryActivityFinishedEvent(persona, toolCallID string) MemoryActivityFinishedEvent {
	return MemoryActivityFinishedEvent{
		baseEvent:  newBaseEvent("memory.finished"),
		Persona:    persona,
		ToolCallID: toolCallID,
	}
}

// -----------------------------------------------------------------------------
// Coordinator and Debate Events
// -----------------------------------------------------------------------------

// VerdictEvent is emitted after every coordinator call.
type VerdictEvent struct {
	baseEvent
	Mode            string `json:"mode"`
	HasDisagreement bool   `json:"hasDisagreement"`
	Debates         int    `json:"debates"`
	ShouldPause     bool   `json:"shouldPause"`
}

// NewVerdictEvent creates a VerdictEvent.
func NewVerdictEvent(mode string, hasDisagreement bool, debates int, shouldPause bool) VerdictEvent {
	return VerdictEvent{
		baseEvent:       newBaseEvent("coordinator.verdict"),
		Mode:            mode,
		HasDisagreement: hasDisagreement,
		Debates:         debates,
		ShouldPause:     shouldPause,
	}
}

// DebateStartedEvent is emitted when a debate leaves the idle state.
type DebateStartedEvent struct {
	baseEvent
	QueueDepth int `json:"queueDepth"`
}

// NewDebateStartedEvent creates a DebateStartedEvent.
func NewDebateStartedEvent(queueDepth int) DebateStartedEvent {
	return DebateStartedEvent{
		baseEvent:  newBaseEvent("debate.started"),
		QueueDepth: queueDepth,
	}
}

// DebateRoundEvent is emitted when an exchange begins.
type DebateRoundEvent struct {
	baseEvent
	Round     int    `json:"round"`
	Responder string `json:"responderId"`
	Target    string `json:"targetId"`
}

// NewDebateRoundEvent creates a DebateRoundEvent.
func NewDebateRoundEvent(round int, responder, target string) DebateRoundEvent {
	return DebateRoundEvent{
		baseEvent: newBaseEvent("debate.round"),
		Round:     round,
		Responder: responder,
		Target:    target,
	}
}

// DebatePausedEvent is emitted when the debate waits for the user.
type DebatePausedEvent struct {
	baseEvent
	Reason     string `json:"reason"`
	Round      int    `json:"round"`
	QueueDepth int    `json:"queueDepth"`
}

// NewDebatePausedEvent creates a DebatePausedEvent.
func NewDebatePausedEvent(reason string, round, queueDepth int) DebatePausedEvent {
	return DebatePausedEvent{
		baseEvent:  newBaseEvent("debate.paused"),
		Reason:     reason,
		Round:      round,
		QueueDepth: queueDepth,
	}
}

// DebateConcludedEvent is emitted when the debate runs out of instructions.
type DebateConcludedEvent struct {
	baseEvent
	Rounds int `json:"rounds"`
}

// NewDebateConcludedEvent creates a DebateConcludedEvent.
func NewDebateConcludedEvent(rounds int) DebateConcludedEvent {
	return DebateConcludedEvent{
		baseEvent: newBaseEvent("debate.concluded"),
		Rounds:    rounds,
	}
}

// DebateEndedEvent is emitted when the user force-ends a debate.
type DebateEndedEvent struct {
	baseEvent
}

// NewDebateEndedEvent creates a DebateEndedEvent.
func NewDebateEndedEvent() DebateEndedEvent {
	return DebateEndedEvent{baseEvent: newBaseEvent("debate.ended")}
}

// -----------------------------------------------------------------------------
// Alliance Events
// -----------------------------------------------------------------------------

// AllianceScheduledEvent is emitted when a trigger passes the schedule-time gates.
type AllianceScheduledEvent struct {
	baseEvent
	From        string    `json:"fromPersonaId"`
	About       string    `json:"aboutPersonaId"`
	TriggerType string    `json:"triggerType"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NewAllianceScheduledEvent creates an AllianceScheduledEvent.
func NewAllianceScheduledEvent(from, about, triggerType string, at time.Time) AllianceScheduledEvent {
	return AllianceScheduledEvent{
		baseEvent:   newBaseEvent("alliance.scheduled"),
		From:        from,
		About:       about,
		TriggerType: triggerType,
		ScheduledAt: at,
	}
}

// AllianceRejectedEvent is emitted when a trigger fails a gate, either at
// schedule time or when its timer fires.
type AllianceRejectedEvent struct {
	baseEvent
	From   string `json:"fromPersonaId"`
	Reason string `json:"reason"`
	AtFire bool   `json:"atFire"`
}

// NewAllianceRejectedEvent creates an AllianceRejectedEvent.
func NewAllianceRejectedEvent(from, reason string, atFire bool) AllianceRejectedEvent {
	return AllianceRejectedEvent{
		baseEvent: newBaseEvent("alliance.rejected"),
		From:      from,
		Reason:    reason,
		AtFire:    atFire,
	}
}

// AllianceDeliveredEvent is emitted after a successful delivery is recorded.
type AllianceDeliveredEvent struct {
	baseEvent
	From  string `json:"fromPersonaId"`
	About string `json:"aboutPersonaId"`
}

// NewAllianceDeliveredEvent creates an AllianceDeliveredEvent.
func NewAllianceDeliveredEvent(from, about string) AllianceDeliveredEvent {
	return AllianceDeliveredEvent{
		baseEvent: newBaseEvent("alliance.delivered"),
		From:      from,
		About:     about,
	}
}

// -----------------------------------------------------------------------------
// Private Channel Events
// -----------------------------------------------------------------------------

// PrivateMessageEvent is emitted when a message lands in a private channel.
type PrivateMessageEvent struct {
	baseEvent
	Persona   string `json:"personaId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Unread    int    `json:"unread"`
}

// NewPrivateMessageEvent creates a PrivateMessageEvent.
func NewPrivateMessageEvent(persona, messageID, role, content string, unread int) PrivateMessageEvent {
	return PrivateMessageEvent{
		baseEvent: newBaseEvent("private.message"),
		Persona:   persona,
		MessageID: messageID,
		Role:      role,
		Content:   content,
		Unread:    unread,
	}
}
