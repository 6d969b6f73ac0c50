// Package alliance finds gossip opportunities in a finished debate and
// delivers them privately after a delay, subject to rate limits.
package alliance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

// TriggerType names the detector that produced a trigger.
type TriggerType string

const (
	PostDebate     TriggerType = "post-debate"
	Outnumbered    TriggerType = "outnumbered"
	HarshCriticism TriggerType = "harsh-criticism"
	Random         TriggerType = "random"
)

// snippetRunes bounds the debate excerpt carried by a trigger.
const snippetRunes = 100

// Trigger is one gossip opportunity: From wants to talk to the user about About.
type Trigger struct {
	Type    TriggerType `json:"triggerType"`
	From    persona.ID  `json:"fromPersonaId"`
	About   persona.ID  `json:"aboutPersonaId"`
	Context string      `json:"context"`
	Snippet string      `json:"debateSnippet,omitempty"`
}

var harshPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)fool|foolish`),
	regexp.MustCompile(`(?i)wrong`),
	regexp.MustCompile(`(?i)nonsense|ridiculous`),
	regexp.MustCompile(`(?i)naive|simplistic`),
	regexp.MustCompile(`(?i)weak|weakness`),
	regexp.MustCompile(`(?i)empty|soulless`),
	regexp.MustCompile(`(?i)pathetic|sad`),
	regexp.MustCompile(`(?i)bless your heart`),
	regexp.MustCompile(`(?i)survived.*without`),
}

// IsHarsh reports whether text reads as cutting criticism.
func IsHarsh(text string) bool {
	for _, re := range harshPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes])
}

// DetectPostDebate returns a trigger for every persona whose ally was the
// target of at least one exchange.
func DetectPostDebate(msgs []transcript.Message) []Trigger {
	exchanges := transcript.Exchanges(msgs)
	firstAttack := make(map[persona.ID]string)
	for _, m := range exchanges {
		if _, ok := firstAttack[m.ReplyingTo]; !ok {
			firstAttack[m.ReplyingTo] = snippet(m.Content)
		}
	}

	var out []Trigger
	for _, from := range persona.IDs() {
		for _, ally := range persona.Allies(from) {
			snip, attacked := firstAttack[ally]
			if !attacked {
				continue
			}
			out = append(out, Trigger{
				Type:    PostDebate,
				From:    from,
				About:   ally,
				Context: fmt.Sprintf("Your ally %s was criticized in the debate", persona.Name(ally)),
				Snippet: snip,
			})
		}
	}
	return out
}

// DetectOutnumbered returns a trigger for every ally of a persona that
// two or more distinct personas replied to.
func DetectOutnumbered(msgs []transcript.Message) []Trigger {
	exchanges := transcript.Exchanges(msgs)
	if len(exchanges) < 2 {
		return nil
	}

	attackers := make(map[persona.ID][]persona.ID)
	for _, m := range exchanges {
		seen := false
		for _, a := range attackers[m.ReplyingTo] {
			if a == m.Persona {
				seen = true
				break
			}
		}
		if !seen {
			attackers[m.ReplyingTo] = append(attackers[m.ReplyingTo], m.Persona)
		}
	}

	var out []Trigger
	for _, from := range persona.IDs() {
		for _, ally := range persona.Allies(from) {
			by := attackers[ally]
			if len(by) < 2 {
				continue
			}
			names := make([]string, len(by))
			for i, id := range by {
				names[i] = persona.Name(id)
			}
			out = append(out, Trigger{
				Type:  Outnumbered,
				From:  from,
				About: ally,
				Context: fmt.Sprintf("Your ally %s was ganged up on by %s",
					persona.Name(ally), strings.Join(names, " and ")),
			})
		}
	}
	return out
}

// DetectHarshCriticism returns a trigger for every persona whose rival
// received a harsh reply.
func DetectHarshCriticism(msgs []transcript.Message) []Trigger {
	roasted := make(map[persona.ID]string)
	for _, m := range transcript.Exchanges(msgs) {
		if _, ok := roasted[m.ReplyingTo]; ok {
			continue
		}
		if IsHarsh(m.Content) {
			roasted[m.ReplyingTo] = snippet(m.Content)
		}
	}

	var out []Trigger
	for _, from := range persona.IDs() {
		for _, rival := range persona.Rivals(from) {
			snip, ok := roasted[rival]
			if !ok {
				continue
			}
			out = append(out, Trigger{
				Type:    HarshCriticism,
				From:    from,
				About:   rival,
				Context: fmt.Sprintf("%s got a taste of their own medicine", persona.Name(rival)),
				Snippet: snip,
			})
		}
	}
	return out
}

// DetectRandom returns, with probability p, a trigger from a random
// persona about one of its allies.
func DetectRandom(src pacing.Source, p float64) (Trigger, bool) {
	if src.Float64() >= p {
		return Trigger{}, false
	}
	ids := persona.IDs()
	from := ids[src.IntN(len(ids))]
	allies := persona.Allies(from)
	if len(allies) == 0 {
		return Trigger{}, false
	}
	about := allies[src.IntN(len(allies))]
	return Trigger{
		Type:    Random,
		From:    from,
		About:   about,
		Context: fmt.Sprintf("Just thinking about %s...", persona.Name(about)),
	}, true
}
