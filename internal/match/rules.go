package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/qasync/internal/ident"
	"github.com/joescharf/qasync/internal/models"
)

// Rule names, in default evaluation order.
const (
	RuleExact              = "exact"
	RuleComposite          = "composite"
	RuleSuffixContains     = "suffix-contains"
	RuleProjectContains    = "project-contains"
	RuleNormalizedContains = "normalized-contains"
	RuleTicketNumber       = "ticket-number"
)

// Predicate reports whether a defect belongs to a test case under one rule.
// Predicates must be pure and total.
type Predicate func(d *models.Defect, tc *models.TestCase) bool

// Rule is a named matching predicate.
type Rule struct {
	Name  string
	Match Predicate
}

var defaultRules = []Rule{
	{Name: RuleExact, Match: matchExact},
	{Name: RuleComposite, Match: matchComposite},
	{Name: RuleSuffixContains, Match: matchSuffixContains},
	{Name: RuleProjectContains, Match: matchProjectContains},
	{Name: RuleNormalizedContains, Match: matchNormalizedContains},
	{Name: RuleTicketNumber, Match: matchTicketNumber},
}

// DefaultRules returns the full rule chain in evaluation order.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// DefaultRuleNames returns the names of DefaultRules.
func DefaultRuleNames() []string {
	names := make([]string, len(defaultRules))
	for i, r := range defaultRules {
		names[i] = r.Name
	}
	return names
}

// RulesByName builds a rule chain from configured names, keeping the order
// given. Unknown or repeated names are an error.
func RulesByName(names []string) ([]Rule, error) {
	if len(names) == 0 {
		return DefaultRules(), nil
	}
	byName := make(map[string]Rule, len(defaultRules))
	for _, r := range defaultRules {
		byName[r.Name] = r
	}
	seen := make(map[string]bool, len(names))
	rules := make([]Rule, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(strings.ToLower(raw))
		r, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown match rule %q (known: %s)", raw, strings.Join(DefaultRuleNames(), ", "))
		}
		if seen[name] {
			return nil, fmt.Errorf("match rule %q listed twice", raw)
		}
		seen[name] = true
		rules = append(rules, r)
	}
	return rules, nil
}

func matchExact(d *models.Defect, tc *models.TestCase) bool {
	return tc.CodeRef != "" && tc.CodeRef == d.ExternalTicketID
}

func matchComposite(d *models.Defect, tc *models.TestCase) bool {
	if tc.ProjectID == "" || tc.CodeRef == "" {
		return false
	}
	return d.ExternalTicketID == tc.ProjectID+"-"+tc.CodeRef
}

func matchSuffixContains(d *models.Defect, tc *models.TestCase) bool {
	return tc.CodeRef != "" && strings.Contains(d.ExternalTicketID, tc.CodeRef)
}

func matchProjectContains(d *models.Defect, tc *models.TestCase) bool {
	return tc.ProjectID != "" && strings.Contains(d.ExternalTicketID, tc.ProjectID)
}

func matchNormalizedContains(d *models.Defect, tc *models.TestCase) bool {
	ticket := ident.Normalize(d.ExternalTicketID)
	if ticket == "" {
		return false
	}
	if code := ident.Normalize(tc.CodeRef); code != "" && strings.Contains(ticket, code) {
		return true
	}
	if project := ident.Normalize(tc.ProjectID); project != "" && strings.Contains(ticket, project) {
		return true
	}
	return false
}

// projectTicket matches "<project>-T<digits>" and captures the project part.
var projectTicket = regexp.MustCompile(`(?i)^\s*(.+?)\s*-\s*T\s*0*(\d+)\s*$`)

// matchTicketNumber handles project-level tickets that encode a sub-case
// number: "KOIN-261-T3" belongs to test case "T003" of project KOIN-261
// even though padding defeats the substring rules.
func matchTicketNumber(d *models.Defect, tc *models.TestCase) bool {
	m := projectTicket.FindStringSubmatch(d.ExternalTicketID)
	if m == nil {
		return false
	}
	project := ident.Normalize(m[1])
	if project == "" || project != ident.Normalize(tc.ProjectID) {
		return false
	}
	ticketNum, ok := ident.TrailingNumber(m[2])
	if !ok {
		return false
	}
	codeNum, ok := ident.TrailingNumber(strings.TrimSpace(tc.CodeRef))
	if !ok {
		return false
	}
	return ticketNum == codeNum
}
