// Package persona defines the fixed council of five personas: their ids,
// display data, pacing profiles and social relationships.
package persona

import (
	"regexp"
	"strings"

	"github.com/Iron-Ham/council/internal/pacing"
)

// ID identifies a persona. The set is closed.
type ID string

// The five council members, in roster order.
const (
	NanaRuth     ID = "nana-ruth"
	AbuelaCarmen ID = "abuela-carmen"
	BaNguyen     ID = "ba-nguyen"
	GrandmaEdith ID = "grandma-edith"
	BibiAmara    ID = "bibi-amara"
)

// Profile holds the delay windows a persona waits through.
type Profile struct {
	// TypingVisible is the delay before the typing indicator appears.
	TypingVisible pacing.Range
	// Start is the thinking delay before the first response call.
	Start pacing.Range
	// PostResponse is the pause after a group reply completes.
	PostResponse pacing.Range
	// Reading is the pause before a debate exchange.
	Reading pacing.Range
	// PrivatePostResponse is the pause after a private reply completes.
	PrivatePostResponse pacing.Range
}

// RelationshipKind classifies how one persona feels about another.
type RelationshipKind string

const (
	Ally      RelationshipKind = "ally"
	Irritated RelationshipKind = "irritated"
	Frenemy   RelationshipKind = "frenemy"
)

// Relationship is one directed edge of the social graph.
type Relationship struct {
	Target ID
	Kind   RelationshipKind
}

// Persona is the immutable description of a council member.
type Persona struct {
	ID            ID
	Name          string
	Emoji         string
	Pacing        Profile
	Relationships []Relationship
}

var roster = []Persona{
	{
		ID:    NanaRuth,
		Name:  "Nana Ruth",
		Emoji: "👓",
		Pacing: Profile{
			TypingVisible:       pacing.Ms(200, 500),
			Start:               pacing.Ms(500, 1200),
			PostResponse:        pacing.Ms(200, 600),
			Reading:             pacing.Ms(300, 700),
			PrivatePostResponse: pacing.Ms(400, 1200),
		},
		Relationships: []Relationship{{BaNguyen, Ally}, {GrandmaEdith, Frenemy}},
	},
	{
		ID:    AbuelaCarmen,
		Name:  "Abuela Carmen",
		Emoji: "🌶️",
		Pacing: Profile{
			TypingVisible:       pacing.Ms(100, 300),
			Start:               pacing.Ms(300, 800),
			PostResponse:        pacing.Ms(100, 400),
			Reading:             pacing.Ms(200, 500),
			PrivatePostResponse: pacing.Ms(250, 800),
		},
		Relationships: []Relationship{{BibiAmara, Ally}, {GrandmaEdith, Irritated}},
	},
	{
		ID:    BaNguyen,
		Name:  "Bà Nguyen",
		Emoji: "🪷",
		Pacing: Profile{
			TypingVisible:       pacing.Ms(400, 900),
			Start:               pacing.Ms(700, 1500),
			PostResponse:        pacing.Ms(300, 800),
			Reading:             pacing.Ms(400, 900),
			PrivatePostResponse: pacing.Ms(600, 1600),
		},
		Relationships: []Relationship{{NanaRuth, Ally}, {AbuelaCarmen, Irritated}},
	},
	{
		ID:    GrandmaEdith,
		Name:  "Grandma Edith",
		Emoji: "⛪",
		Pacing: Profile{
			TypingVisible:       pacing.Ms(300, 700),
			Start:               pacing.Ms(400, 1000),
			PostResponse:        pacing.Ms(150, 500),
			Reading:             pacing.Ms(250, 600),
			PrivatePostResponse: pacing.Ms(350, 1000),
		},
		Relationships: []Relationship{{NanaRuth, Ally}, {BibiAmara, Frenemy}},
	},
	{
		ID:    BibiAmara,
		Name:  "Bibi Amara",
		Emoji: "👑",
		Pacing: Profile{
			TypingVisible:       pacing.Ms(600, 1200),
			Start:               pacing.Ms(800, 2000),
			PostResponse:        pacing.Ms(400, 1000),
			Reading:             pacing.Ms(500, 1100),
			PrivatePostResponse: pacing.Ms(800, 2000),
		},
		Relationships: []Relationship{{AbuelaCarmen, Ally}, {NanaRuth, Frenemy}},
	},
}

var byID = func() map[ID]Persona {
	m := make(map[ID]Persona, len(roster))
	for _, p := range roster {
		m[p.ID] = p
	}
	return m
}()

// IDs returns the five ids in roster order.
func IDs() []ID {
	ids := make([]ID, len(roster))
	for i, p := range roster {
		ids[i] = p.ID
	}
	return ids
}

// All returns the roster in order. The returned slice is a copy.
func All() []Persona {
	out := make([]Persona, len(roster))
	copy(out, roster)
	return out
}

// Valid reports whether id names a council member.
func Valid(id ID) bool {
	_, ok := byID[id]
	return ok
}

// Get returns the persona for id.
func Get(id ID) (Persona, bool) {
	p, ok := byID[id]
	return p, ok
}

// Name returns the display name for id, or the raw id when unknown.
func Name(id ID) string {
	if p, ok := byID[id]; ok {
		return p.Name
	}
	return string(id)
}

// Placeholder is the reply substituted when a persona's backend call fails.
func Placeholder(id ID) string {
	return "*" + Name(id) + " is having technical difficulties*"
}

// Allies returns the ids id considers allies.
func Allies(id ID) []ID {
	return related(id, func(k RelationshipKind) bool { return k == Ally })
}

// Rivals returns the ids id is irritated by or has a frenemy bond with.
func Rivals(id ID) []ID {
	return related(id, func(k RelationshipKind) bool { return k == Irritated || k == Frenemy })
}

// Relation returns how from feels about to.
func Relation(from, to ID) (RelationshipKind, bool) {
	for _, r := range byID[from].Relationships {
		if r.Target == to {
			return r.Kind, true
		}
	}
	return "", false
}

func related(id ID, keep func(RelationshipKind) bool) []ID {
	var out []ID
	for _, r := range byID[id].Relationships {
		if keep(r.Kind) {
			out = append(out, r.Target)
		}
	}
	return out
}

var mentionPattern = func() *regexp.Regexp {
	parts := make([]string, len(roster))
	for i, p := range roster {
		parts[i] = regexp.QuoteMeta(string(p.ID))
	}
	return regexp.MustCompile(`(?i)@(` + strings.Join(parts, "|") + `)`)
}()

// ParseMentions returns the unique persona ids @-mentioned in text, in
// order of first appearance. Matching is case-insensitive.
func ParseMentions(text string) []ID {
	var out []ID
	seen := make(map[ID]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id := ID(strings.ToLower(m[1]))
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Match returns personas whose id or display name contains partial,
// case-insensitively. An empty partial matches everyone.
func Match(partial string) []Persona {
	partial = strings.ToLower(partial)
	var out []Persona
	for _, p := range roster {
		if strings.Contains(string(p.ID), partial) || strings.Contains(strings.ToLower(p.Name), partial) {
			out = append(out, p)
		}
	}
	return out
}
