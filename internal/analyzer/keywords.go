// ABOUTME: Built-in skill category keyword and phrase tables for message analysis
// ABOUTME: Categories can be extended or overridden from configuration

package analyzer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SkillPattern holds the match vocabulary for one skill category.
// Keywords are single terms worth a small confidence boost each;
// phrases are multi-word expressions worth more because they are
// more specific.
type SkillPattern struct {
	Keywords []string `yaml:"keywords"`
	Phrases  []string `yaml:"phrases"`
}

// SkillTable maps category names to their match patterns
type SkillTable map[string]SkillPattern

// DefaultSkillTable returns the built-in category vocabulary
func DefaultSkillTable() SkillTable {
	return SkillTable{
		"billing": {
			Keywords: []string{
				"bill", "billing", "charge", "payment", "invoice", "refund",
				"money", "cost", "price", "fee", "subscription", "plan",
				"credit card", "card", "decline", "debit", "bank",
				"transaction", "receipt",
			},
			Phrases: []string{
				"billing issue", "payment problem", "refund request",
				"wrong charge", "unexpected fee", "billing error",
			},
		},
		"refunds": {
			Keywords: []string{
				"refund", "money back", "return", "cancel", "cancellation",
				"dispute", "chargeback", "reimburse", "compensation",
			},
			Phrases: []string{
				"want my money back", "request a refund", "cancel my order",
				"return my purchase", "dispute this charge",
			},
		},
		"authentication": {
			Keywords: []string{
				"login", "password", "access", "account", "username",
				"signin", "sign in", "authenticate", "verification", "verify",
				"locked out", "forgot", "reset", "2fa", "two factor",
			},
			Phrases: []string{
				"can't login", "forgot password", "account locked",
				"login problem", "access denied", "verification code",
			},
		},
		"technical": {
			Keywords: []string{
				"bug", "error", "crash", "broken", "not working", "issue",
				"problem", "glitch", "malfunction", "loading", "slow",
				"decline", "api", "integration", "sync", "connection",
			},
			Phrases: []string{
				"technical issue", "something is broken", "not working properly",
				"app crashed", "page won't load", "connection error",
			},
		},
		"account": {
			Keywords: []string{
				"account", "profile", "settings", "preferences", "data",
				"information", "details", "update", "change", "modify",
			},
			Phrases: []string{
				"update my account", "change my information", "account settings",
				"profile update", "personal information",
			},
		},
		"sales": {
			Keywords: []string{
				"buy", "purchase", "order", "product", "service", "demo",
				"trial", "upgrade", "downgrade", "features", "pricing",
			},
			Phrases: []string{
				"want to buy", "interested in", "pricing information",
				"product demo", "upgrade my plan",
			},
		},
		"general": {
			Keywords: []string{
				"help", "support", "question", "how to", "information",
				"guide", "tutorial", "documentation",
			},
			Phrases: []string{
				"need help", "have a question", "how do i", "can you help",
			},
		},
	}
}

// LoadSkillTable reads category overrides from a YAML file and merges
// them over the built-in vocabulary. An empty path returns the default
// table unchanged.
func LoadSkillTable(path string) (SkillTable, error) {
	table := DefaultSkillTable()
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyword table: %w", err)
	}
	var overrides SkillTable
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing keyword table: %w", err)
	}
	return table.Merge(overrides), nil
}

// Merge overlays custom patterns onto the table. A category present in
// overrides replaces the built-in entry entirely; new categories are added.
func (t SkillTable) Merge(overrides SkillTable) SkillTable {
	out := make(SkillTable, len(t)+len(overrides))
	for name, pattern := range t {
		out[name] = pattern
	}
	for name, pattern := range overrides {
		out[name] = pattern
	}
	return out
}
