package checks

import (
	"strings"

	"invoiceguard/internal/config"
	"invoiceguard/internal/ocr"
)

// DefaultDenylist returns the built-in tamper vocabulary in scan order.
func DefaultDenylist() []string {
	return []string{"edited", "fake", "photoshop", "clone", "altered", "tampered", "falsified"}
}

// KeywordResult is the outcome of a keyword integrity check. Matched is in
// denylist order and is empty iff Passed.
type KeywordResult struct {
	Passed  bool
	Matched []string
}

// KeywordChecker flags transcripts that mention manipulation outright, such
// as an editor watermark rendered into the page.
type KeywordChecker struct {
	denylist []string
}

// NewKeywordChecker builds a checker over denylist. An empty list selects
// the built-in denylist.
func NewKeywordChecker(denylist []string) *KeywordChecker {
	terms := make([]string, 0, len(denylist))
	for _, term := range denylist {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 {
		terms = DefaultDenylist()
	}
	return &KeywordChecker{denylist: terms}
}

// NewKeywordCheckerFromRules uses the rules file denylist when one is set.
func NewKeywordCheckerFromRules(rules *config.Rules) *KeywordChecker {
	if rules == nil {
		return NewKeywordChecker(nil)
	}
	return NewKeywordChecker(rules.Denylist)
}

// Denylist returns a copy of the terms scanned for.
func (c *KeywordChecker) Denylist() []string {
	return append([]string(nil), c.denylist...)
}

// Check scans the transcript for every denylist term.
func (c *KeywordChecker) Check(t ocr.Transcript) KeywordResult {
	text := t.Lower()

	var matched []string
	for _, term := range c.denylist {
		if strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}
	return KeywordResult{Passed: len(matched) == 0, Matched: matched}
}
