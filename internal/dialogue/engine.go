// Package dialogue resolves visitor utterances against a keyword table.
//
// Resolution is pure: the same state, utterance and table always give the
// same Outcome. Side effects such as escalation belong to the caller.
package dialogue

import (
	"strings"
	"unicode/utf8"

	"supportchat/internal/models"
)

// Outcome is the result of resolving one turn
type Outcome struct {
	NextState models.SessionState
	Reply     string
	// Matched is false for UNKNOWN resolutions, closed sessions and every
	// turn served by a degraded table.
	Matched bool
	// RuleID is set when a keyword rule answered
	RuleID int64
	// Key is the reserved key or rule type that produced the reply
	Key string
	// Invalid marks a blank identity answer that was re-prompted
	Invalid bool
}

// Unknown reports whether the turn needs human assistance
func (o Outcome) Unknown() bool {
	return o.Key == models.ResponseKeyUnknown
}

// Resolve decides the next state and reply for one utterance
func Resolve(state models.SessionState, utterance string, table *Table) Outcome {
	if table == nil {
		table = DegradedTable("")
	}

	switch state {
	case models.StateGreeting:
		return reserved(table, models.StateAwaitID, models.ResponseKeyGreeting, false)

	case models.StateAwaitID:
		if strings.TrimSpace(utterance) == "" {
			return reserved(table, models.StateAwaitID, models.ResponseKeyGreeting, true)
		}
		return reserved(table, models.StateAwaitSecret, models.ResponseKeyPasswordPrompt, false)

	case models.StateAwaitSecret:
		if strings.TrimSpace(utterance) == "" {
			return reserved(table, models.StateAwaitSecret, models.ResponseKeyPasswordPrompt, true)
		}
		return reserved(table, models.StateActive, models.ResponseKeyGreeting, false)

	case models.StateActive:
		return match(table, utterance)

	default:
		return Outcome{NextState: models.StateClosed}
	}
}

func reserved(table *Table, next models.SessionState, key string, invalid bool) Outcome {
	if table.Degraded() {
		key = models.ResponseKeyUnknown
	}
	return Outcome{
		NextState: next,
		Reply:     table.Reply(key),
		Matched:   !table.Degraded(),
		Key:       key,
		Invalid:   invalid,
	}
}

func match(table *Table, utterance string) Outcome {
	unknown := Outcome{
		NextState: models.StateActive,
		Reply:     table.Reply(models.ResponseKeyUnknown),
		Key:       models.ResponseKeyUnknown,
	}
	if table.Degraded() {
		return unknown
	}

	text := normalize(utterance)
	if text == "" {
		return unknown
	}

	var best *compiledRule
	bestLen := 0
	for i := range table.rules {
		r := &table.rules[i]
		if best != nil && r.priority < best.priority {
			// rules are sorted by priority, nothing below can win
			break
		}
		l := longestHit(r.keywords, text)
		if l == 0 {
			continue
		}
		if best == nil || l > bestLen || (l == bestLen && r.id < best.id) {
			best = r
			bestLen = l
		}
	}

	if best == nil {
		return unknown
	}
	return Outcome{
		NextState: models.StateActive,
		Reply:     best.text,
		Matched:   true,
		RuleID:    best.id,
		Key:       best.key,
	}
}

// longestHit returns the rune length of the longest keyword contained in text
func longestHit(keywords []string, text string) int {
	longest := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			if n := utf8.RuneCountInString(k); n > longest {
				longest = n
			}
		}
	}
	return longest
}
