package coordinator

import (
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/persona"
)

// Instruction asks Responder to rebut Target for Reason.
type Instruction struct {
	Responder persona.ID `json:"responderId"`
	Target    persona.ID `json:"targetId"`
	Reason    string     `json:"reason"`
}

// Valid reports whether both ids are council members and differ.
func (i Instruction) Valid() bool {
	return persona.Valid(i.Responder) && persona.Valid(i.Target) && i.Responder != i.Target
}

// Verdict is the coordinator's reading of a set of answers or an utterance.
// The zero Verdict means no disagreement and no pause.
type Verdict struct {
	HasDisagreement bool          `json:"hasDisagreement"`
	Debates         []Instruction `json:"debates"`
	ShouldPause     bool          `json:"shouldPause"`
	PauseReason     string        `json:"pauseReason"`
}

// Next returns the first instruction, if any.
func (v Verdict) Next() (Instruction, bool) {
	if len(v.Debates) == 0 {
		return Instruction{}, false
	}
	return v.Debates[0], true
}

// ParseVerdict extracts the first balanced JSON object from text and
// decodes it. On failure it returns the zero Verdict and an error wrapping
// ErrMalformedVerdict; callers treat that as "no action".
func ParseVerdict(text string) (Verdict, error) {
	obj, ok := ExtractObject(text)
	if !ok {
		return Verdict{}, errors.Wrap(errors.ErrMalformedVerdict, "no JSON object in coordinator output")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return Verdict{}, errors.Join(errors.ErrMalformedVerdict, err)
	}
	return v, nil
}

// ExtractObject returns the first balanced {...} in text. Braces inside
// JSON strings, including escaped quotes, do not count toward balance.
// Surrounding prose and markdown fences are ignored.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// sanitize drops invalid instructions, those whose responder is exclude,
// and everything beyond limit (0 means unlimited). It returns the number
// of dropped entries.
func (v Verdict) sanitize(limit int, exclude persona.ID) (Verdict, int) {
	kept := make([]Instruction, 0, len(v.Debates))
	dropped := 0
	for _, in := range v.Debates {
		if !in.Valid() || (exclude != "" && in.Responder == exclude) {
			dropped++
			continue
		}
		if limit > 0 && len(kept) == limit {
			dropped++
			continue
		}
		kept = append(kept, in)
	}
	v.Debates = kept
	return v, dropped
}
