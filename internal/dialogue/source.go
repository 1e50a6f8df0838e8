package dialogue

import (
	"context"
	"fmt"
	"os"

	"supportchat/internal/models"
	"supportchat/internal/security"

	"gopkg.in/yaml.v3"
)

// Source supplies raw rules for a table
type Source interface {
	LoadRules(ctx context.Context) ([]models.ResponseRule, error)
	Name() string
}

// RuleStore is the part of the durable store that holds chatbot responses
type RuleStore interface {
	LoadResponseRules(ctx context.Context) ([]models.ResponseRule, error)
}

// StoreSource reads the active rules from the database
type StoreSource struct {
	Store RuleStore
}

func (s StoreSource) LoadRules(ctx context.Context) ([]models.ResponseRule, error) {
	return s.Store.LoadResponseRules(ctx)
}

func (s StoreSource) Name() string { return "database" }

// FileSource reads rules from a YAML file
type FileSource struct {
	Path string
}

func (f FileSource) LoadRules(_ context.Context) ([]models.ResponseRule, error) {
	return LoadFile(f.Path)
}

func (f FileSource) Name() string { return "file:" + f.Path }

type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID       int64    `yaml:"id"`
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
	Text     string   `yaml:"text"`
	Priority int      `yaml:"priority"`
	Active   *bool    `yaml:"active"`
}

// LoadFile parses a YAML rule file. Rules are active unless marked
// otherwise; a missing id is replaced by the rule's 1-based position.
func LoadFile(path string) ([]models.ResponseRule, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid rules path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var parsed ruleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if len(parsed.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}

	seen := make(map[int64]struct{}, len(parsed.Rules))
	rules := make([]models.ResponseRule, 0, len(parsed.Rules))
	for i, fr := range parsed.Rules {
		id := fr.ID
		if id == 0 {
			id = int64(i + 1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("rules file %s: duplicate rule id %d", path, id)
		}
		seen[id] = struct{}{}

		if fr.Text == "" {
			return nil, fmt.Errorf("rules file %s: rule %d has no text", path, id)
		}

		active := true
		if fr.Active != nil {
			active = *fr.Active
		}
		rules = append(rules, models.ResponseRule{
			ID:       id,
			Key:      fr.Key,
			Keywords: fr.Keywords,
			Text:     fr.Text,
			Priority: fr.Priority,
			IsActive: active,
		})
	}
	return rules, nil
}
