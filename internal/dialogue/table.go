package dialogue

import (
	"sort"
	"strings"
	"time"

	"supportchat/internal/models"
)

// Built-in copy for reserved keys missing from a loaded table
const (
	DefaultGreeting       = "Welcome! Please enter your Game ID to get started."
	DefaultPasswordPrompt = "Thank you. Please enter your game password."
	DefaultNewCustomer    = "Thanks! It looks like you are new here. An admin will contact you shortly to finish setting up your account."
	DefaultUnknown        = "I'm sorry, I couldn't process that request. Let me connect you with an admin."
)

var builtinReplies = map[string]string{
	models.ResponseKeyGreeting:       DefaultGreeting,
	models.ResponseKeyPasswordPrompt: DefaultPasswordPrompt,
	models.ResponseKeyNewCustomer:    DefaultNewCustomer,
	models.ResponseKeyUnknown:        DefaultUnknown,
}

type compiledRule struct {
	id       int64
	key      string
	keywords []string
	text     string
	priority int
}

// Table is an immutable, normalized keyword table
type Table struct {
	rules    []compiledRule
	reserved map[string]string
	degraded bool
	apology  string
	source   string
	loadedAt time.Time
}

// NewTable builds a table from raw rules. Inactive rules are dropped,
// keywords are lowercased and trimmed, and reserved keys that no rule
// provides fall back to the built-in copy.
func NewTable(rules []models.ResponseRule) *Table {
	t := &Table{
		reserved: make(map[string]string, len(builtinReplies)),
		loadedAt: time.Now(),
	}

	reservedRank := make(map[string]compiledRule)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		c := compiledRule{
			id:       r.ID,
			key:      strings.TrimSpace(r.Key),
			keywords: normalizeKeywords(r.Keywords),
			text:     r.Text,
			priority: r.Priority,
		}

		if models.IsReservedKey(c.key) {
			prev, seen := reservedRank[c.key]
			if !seen || c.priority > prev.priority || (c.priority == prev.priority && c.id < prev.id) {
				reservedRank[c.key] = c
			}
			continue
		}
		if len(c.keywords) == 0 {
			continue
		}
		t.rules = append(t.rules, c)
	}

	for key, text := range builtinReplies {
		t.reserved[key] = text
	}
	for key, c := range reservedRank {
		if strings.TrimSpace(c.text) != "" {
			t.reserved[key] = c.text
		}
	}

	sort.SliceStable(t.rules, func(i, j int) bool {
		if t.rules[i].priority != t.rules[j].priority {
			return t.rules[i].priority > t.rules[j].priority
		}
		return t.rules[i].id < t.rules[j].id
	})

	return t
}

// DegradedTable is installed when the rule source cannot be loaded. Every
// reply is the apology and nothing matches.
func DegradedTable(apology string) *Table {
	if strings.TrimSpace(apology) == "" {
		apology = DefaultUnknown
	}
	t := &Table{
		reserved: make(map[string]string, len(builtinReplies)),
		degraded: true,
		apology:  apology,
		source:   "degraded",
		loadedAt: time.Now(),
	}
	for key := range builtinReplies {
		t.reserved[key] = apology
	}
	return t
}

// WithSource labels the table with where it came from
func (t *Table) WithSource(source string) *Table {
	t.source = source
	return t
}

// Reply returns the text for a reserved key
func (t *Table) Reply(key string) string {
	if t.degraded {
		return t.apology
	}
	if text, ok := t.reserved[key]; ok {
		return text
	}
	return builtinReplies[models.ResponseKeyUnknown]
}

// Len is the number of matchable keyword rules
func (t *Table) Len() int { return len(t.rules) }

// Degraded reports whether this is the fallback table
func (t *Table) Degraded() bool { return t.degraded }

// Source names the origin of the table
func (t *Table) Source() string { return t.source }

// LoadedAt is when the table was built
func (t *Table) LoadedAt() time.Time { return t.loadedAt }

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = normalize(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
