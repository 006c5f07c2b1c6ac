// Package checklist scores phase artifacts against a weighted, data-driven
// rulebook. Evaluation depends only on (phase, content): it never looks at
// earlier reviews, scores or issues.
package checklist

import (
	"fmt"
	"math"
	"strings"

	"phasegate/internal/config"
	"phasegate/internal/domain"
)

// Checker decides whether content satisfies one criterion.
type Checker interface {
	Check(content string) bool
}

// Criterion is one row of a phase checklist.
type Criterion struct {
	Name      string
	Weight    float64
	Threshold float64
	Partial   float64
	Severity  domain.Severity
	Message   string
	Checker   Checker
}

// Evaluator holds an ordered checklist per phase.
type Evaluator struct {
	rules map[domain.Phase][]Criterion
}

// New builds an evaluator from explicit rules.
func New(rules map[domain.Phase][]Criterion) *Evaluator {
	copied := make(map[domain.Phase][]Criterion, len(rules))
	for p, list := range rules {
		copied[p] = append([]Criterion(nil), list...)
	}
	return &Evaluator{rules: copied}
}

// FromConfig builds the evaluator described by cfg's phase criteria.
func FromConfig(cfg *config.Config) (*Evaluator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config nil")
	}
	rules := make(map[domain.Phase][]Criterion, len(cfg.Phases))
	for phase, pc := range cfg.Phases {
		for _, cc := range pc.Criteria {
			if cc.Threshold == nil {
				return nil, &config.ConfigError{Field: fmt.Sprintf("phases.%s.criteria.%s.threshold", phase, cc.Name), Reason: "is required"}
			}
			rules[phase] = append(rules[phase], Criterion{
				Name:      cc.Name,
				Weight:    cc.Weight,
				Threshold: *cc.Threshold,
				Partial:   cc.Partial,
				Severity:  cc.Severity,
				Message:   cc.Message,
				Checker:   checkerFor(cc.Check),
			})
		}
	}
	return &Evaluator{rules: rules}, nil
}

// Criteria returns the checklist of a phase.
func (e *Evaluator) Criteria(phase domain.Phase) []Criterion {
	return append([]Criterion(nil), e.rules[phase]...)
}

// Evaluate scores content for phase. Identical inputs always yield identical output.
func (e *Evaluator) Evaluate(phase domain.Phase, content string) domain.Evaluation {
	ev := domain.Evaluation{
		Phase:        phase,
		Issues:       []domain.Issue{},
		Breakdown:    []domain.CriterionScore{},
		Improvements: []string{},
	}
	criteria := e.rules[phase]
	if strings.TrimSpace(content) == "" {
		for _, c := range criteria {
			ev.Breakdown = append(ev.Breakdown, domain.CriterionScore{Name: c.Name, Weight: c.Weight, Threshold: c.Threshold})
		}
		issue := domain.Issue{
			Severity:    domain.SeverityCritical,
			Category:    domain.CategoryContentUnavailable,
			Description: "artifact content is empty or unavailable",
		}
		ev.Issues = append(ev.Issues, issue)
		ev.Improvements = append(ev.Improvements, improvement(issue))
		return ev
	}

	total := 0.0
	for _, c := range criteria {
		sub := c.Partial
		if c.Checker != nil && c.Checker.Check(content) {
			sub = c.Weight
		}
		sub = clamp(sub, 0, c.Weight)
		passed := sub >= c.Threshold
		ev.Breakdown = append(ev.Breakdown, domain.CriterionScore{
			Name:      c.Name,
			Weight:    c.Weight,
			Score:     sub,
			Threshold: c.Threshold,
			Passed:    passed,
		})
		total += sub
		if !passed {
			issue := domain.Issue{Severity: c.Severity, Category: c.Name, Description: c.Message}
			ev.Issues = append(ev.Issues, issue)
			ev.Improvements = append(ev.Improvements, improvement(issue))
		}
	}
	ev.Score = Round(clamp(total, 0, 100))
	return ev
}

// Round rounds a score to one decimal place.
func Round(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func improvement(issue domain.Issue) string {
	switch issue.Severity {
	case domain.SeverityCritical:
		return "rollback required: " + issue.Description
	case domain.SeverityMajor:
		return "must fix: " + issue.Description
	default:
		return issue.Description
	}
}

// NoImprovementNeeded is returned by NextImprovement when there is nothing to fix.
const NoImprovementNeeded = "no improvement needed"

// NextImprovement picks the single most important fix: the first CRITICAL issue,
// else the first MAJOR, else the first MINOR.
func NextImprovement(issues []domain.Issue) string {
	var best *domain.Issue
	for i := range issues {
		if best == nil || issues[i].Severity.Rank() > best.Severity.Rank() {
			best = &issues[i]
		}
	}
	if best == nil {
		return NoImprovementNeeded
	}
	switch best.Severity {
	case domain.SeverityCritical:
		return "critical: " + best.Description
	case domain.SeverityMajor:
		return "major: " + best.Description
	}
	return best.Description
}
