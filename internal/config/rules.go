package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Rules overrides the built-in field variant dictionaries and keyword denylist.
//
// Example RULES_FILE:
//
//	field_variants:
//	  total: ["total", "amount due", "balance due"]
//	  shipping: ["shipping", "delivery"]
//	denylist: ["edited", "photoshop", "tampered"]
//
// Categories left out of field_variants keep their built-in variants. An
// empty denylist keeps the built-in list.
type Rules struct {
	FieldVariants map[string][]string `yaml:"field_variants"`
	Denylist      []string            `yaml:"denylist"`
}

var knownFields = map[string]bool{
	"invoice":  true,
	"date":     true,
	"total":    true,
	"tax":      true,
	"subtotal": true,
	"shipping": true,
}

// ReadRules loads and normalizes a rules file.
func ReadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules decodes rules YAML. Variants and keywords are lower-cased and
// blank entries dropped.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.UnmarshalStrict(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	normalized := make(map[string][]string, len(rules.FieldVariants))
	for field, variants := range rules.FieldVariants {
		key := strings.ToLower(strings.TrimSpace(field))
		if !knownFields[key] {
			return nil, fmt.Errorf("parse rules: unknown field category %q", field)
		}
		cleaned := normalizeTerms(variants)
		if len(cleaned) == 0 {
			return nil, fmt.Errorf("parse rules: field category %q has no variants", field)
		}
		normalized[key] = cleaned
	}
	rules.FieldVariants = normalized
	rules.Denylist = normalizeTerms(rules.Denylist)

	return &rules, nil
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
