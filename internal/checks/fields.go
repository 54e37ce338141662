// Package checks holds the text-level tamper checks run over an OCR transcript:
// field presence and keyword integrity. Both are pure functions of the
// transcript and never fail.
package checks

import (
	"fmt"
	"strings"

	"invoiceguard/internal/config"
	"invoiceguard/internal/ocr"
)

// Field is an invoice field category.
type Field string

const (
	FieldInvoice  Field = "invoice"
	FieldDate     Field = "date"
	FieldTotal    Field = "total"
	FieldTax      Field = "tax"
	FieldSubtotal Field = "subtotal"
	FieldShipping Field = "shipping"
)

// AllFields lists every category in canonical order. Results report matched
// and missing categories in this order.
var AllFields = []Field{FieldInvoice, FieldDate, FieldTotal, FieldTax, FieldSubtotal, FieldShipping}

// DefaultMinMatches is the number of categories a genuine invoice must show.
const DefaultMinMatches = 4

// DefaultFieldVariants returns the built-in lower-case variants per category.
// The caller owns the returned map.
func DefaultFieldVariants() map[Field][]string {
	return map[Field][]string{
		FieldInvoice:  {"invoice", "order number", "order #"},
		FieldDate:     {"date", "placed on", "paid on", "order placed"},
		FieldTotal:    {"total", "grand total", "order total", "total amount", "amount due", "balance due"},
		FieldTax:      {"tax", "estimated tax", "sales tax"},
		FieldSubtotal: {"subtotal", "item(s) subtotal", "item price"},
		FieldShipping: {"shipping", "handling", "shipping & handling"},
	}
}

// FieldResult is the outcome of a field presence check. Matched and Missing
// partition AllFields.
type FieldResult struct {
	Passed  bool
	Matched []Field
	Missing []Field
}

// MissingNames returns the missing categories as plain strings.
func (r FieldResult) MissingNames() []string {
	names := make([]string, len(r.Missing))
	for i, f := range r.Missing {
		names[i] = string(f)
	}
	return names
}

// FieldChecker decides whether a transcript plausibly belongs to an invoice.
type FieldChecker struct {
	variants   map[Field][]string
	minMatches int
}

// NewFieldChecker builds a checker. Categories absent from variants fall back
// to the built-in variants; a nil map means all defaults.
func NewFieldChecker(variants map[Field][]string, minMatches int) (*FieldChecker, error) {
	if minMatches < 0 || minMatches > len(AllFields) {
		return nil, fmt.Errorf("checks: minimum field matches %d outside 0-%d", minMatches, len(AllFields))
	}

	merged := DefaultFieldVariants()
	for field, list := range variants {
		if _, ok := merged[field]; !ok {
			return nil, fmt.Errorf("checks: unknown field category %q", field)
		}
		lowered := make([]string, 0, len(list))
		for _, v := range list {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				lowered = append(lowered, v)
			}
		}
		if len(lowered) == 0 {
			return nil, fmt.Errorf("checks: field category %q has no variants", field)
		}
		merged[field] = lowered
	}

	return &FieldChecker{variants: merged, minMatches: minMatches}, nil
}

// NewFieldCheckerFromRules applies the optional rules file on top of the defaults.
func NewFieldCheckerFromRules(rules *config.Rules, minMatches int) (*FieldChecker, error) {
	var variants map[Field][]string
	if rules != nil && len(rules.FieldVariants) > 0 {
		variants = make(map[Field][]string, len(rules.FieldVariants))
		for name, list := range rules.FieldVariants {
			variants[Field(name)] = list
		}
	}
	return NewFieldChecker(variants, minMatches)
}

// MinMatches returns the configured pass threshold.
func (c *FieldChecker) MinMatches() int { return c.minMatches }

// Check matches each category by case-insensitive substring search over the
// transcript. There is no word-boundary requirement.
func (c *FieldChecker) Check(t ocr.Transcript) FieldResult {
	text := t.Lower()

	var result FieldResult
	for _, field := range AllFields {
		if containsAny(text, c.variants[field]) {
			result.Matched = append(result.Matched, field)
		} else {
			result.Missing = append(result.Missing, field)
		}
	}
	result.Passed = len(result.Matched) >= c.minMatches
	return result
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
