// Package match decides whether a defect report belongs to a test case and
// scores how alike two defect descriptions are.
package match

import "github.com/joescharf/qasync/internal/models"

// Result is the outcome of resolving one (defect, test case) pair. Rule
// names the first rule that accepted the pair.
type Result struct {
	Matched bool
	Rule    string
}

// Resolver applies an ordered rule chain. The zero value is not usable; use
// NewResolver.
type Resolver struct {
	rules []Rule
}

// NewResolver returns a Resolver over rules, or over DefaultRules when none
// are given.
func NewResolver(rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Resolver{rules: rules}
}

// Rules returns the names of the rules in evaluation order.
func (r *Resolver) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Resolve evaluates the chain and stops at the first rule that accepts the
// pair. A defect without a ticket code never matches.
func (r *Resolver) Resolve(d *models.Defect, tc *models.TestCase) Result {
	if d == nil || tc == nil || d.ExternalTicketID == "" {
		return Result{}
	}
	for _, rule := range r.rules {
		if rule.Match(d, tc) {
			return Result{Matched: true, Rule: rule.Name}
		}
	}
	return Result{}
}

// Matches reports whether any rule accepts the pair.
func (r *Resolver) Matches(d *models.Defect, tc *models.TestCase) bool {
	return r.Resolve(d, tc).Matched
}

// Explain evaluates every rule independently, for diagnostics.
func (r *Resolver) Explain(d *models.Defect, tc *models.TestCase) map[string]bool {
	out := make(map[string]bool, len(r.rules))
	for _, rule := range r.rules {
		out[rule.Name] = d != nil && tc != nil && d.ExternalTicketID != "" && rule.Match(d, tc)
	}
	return out
}
