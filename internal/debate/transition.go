package debate

import (
	"slices"

	"github.com/Iron-Ham/council/internal/coordinator"
)

// Transition applies ev to s. It never mutates s and performs no I/O;
// events that make no sense in the current state return s unchanged with
// no effects.
func Transition(s Snapshot, ev Event) (Snapshot, []Effect) {
	s.Queue = slices.Clone(s.Queue)
	if s.Budget <= 0 {
		s.Budget = DefaultBudget
	}

	switch ev := ev.(type) {
	case Start:
		if s.State != Idle || len(ev.Instructions) == 0 {
			return s, nil
		}
		s = Snapshot{
			State:  Running,
			Queue:  slices.Clone(ev.Instructions),
			Budget: s.Budget,
		}
		return advance(s)

	case Continue:
		if s.State != Paused {
			return s, nil
		}
		s.State = Running
		s.Round = 0
		s.PauseReason = ""
		return advance(s)

	case ExchangeDone:
		if s.State != Running {
			return s, nil
		}
		if s.Round >= s.Budget {
			return pause(s, BudgetPauseReason)
		}
		if s.PauseRequested != "" {
			return pause(s, s.PauseRequested)
		}
		return s, []Effect{CheckReaction{Instruction: s.Current, Round: s.Round}}

	case ReactionResult:
		if s.State != Running {
			return s, nil
		}
		next, ok := ev.Verdict.Next()
		if ok && next.Valid() {
			s.Queue = append(s.Queue, next)
		}
		if ev.Verdict.ShouldPause {
			reason := ev.Verdict.PauseReason
			if reason == "" {
				reason = DefaultPauseReason
			}
			return pause(s, reason)
		}
		return advance(s)

	case RequestPause:
		if s.State != Running {
			return s, nil
		}
		s.PauseRequested = ev.Reason
		if s.PauseRequested == "" {
			s.PauseRequested = DefaultPauseReason
		}
		return s, nil

	case End:
		if s.State == Idle {
			return s, nil
		}
		return Snapshot{State: Idle, Budget: s.Budget}, []Effect{
			CancelInFlight{},
			AppendSystem{Text: GavelMessage},
		}
	}
	return s, nil
}

// advance pops instructions until a valid one is found and runs it, or
// concludes when the queue is empty.
func advance(s Snapshot) (Snapshot, []Effect) {
	for len(s.Queue) > 0 {
		head := s.Queue[0]
		s.Queue = s.Queue[1:]
		if !head.Valid() {
			continue
		}
		s.Round++
		s.Current = head
		return s, []Effect{RunExchange{
			Instruction: head,
			Round:       s.Round,
			PauseFirst:  s.Round > 1,
		}}
	}
	rounds := s.Round
	return Snapshot{State: Idle, Budget: s.Budget}, []Effect{Concluded{Rounds: rounds}}
}

func pause(s Snapshot, reason string) (Snapshot, []Effect) {
	s.State = Paused
	s.PauseReason = reason
	s.PauseRequested = ""
	s.Current = coordinator.Instruction{}
	return s, []Effect{PausedEffect{Reason: reason, QueueDepth: len(s.Queue)}}
}
