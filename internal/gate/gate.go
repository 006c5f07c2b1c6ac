// Package gate turns a review outcome into a phase transition verdict.
package gate

import (
	"fmt"
	"strings"

	"phasegate/internal/config"
	"phasegate/internal/domain"
)

// Input is everything the gate looks at. Decide does no I/O.
type Input struct {
	Phase     domain.Phase
	Config    config.PhaseConfig
	Score     float64
	Issues    []domain.Issue
	Iteration int
	// RollbackCounts holds how many times each phase has been rolled back into.
	RollbackCounts map[domain.Phase]int
	Blocked        []domain.BlockedIssue
	// PassScore overrides the configured pass score when positive.
	PassScore float64
}

// Decide evaluates the rules in order; the first match wins.
func Decide(in Input) domain.Verdict {
	if target, cond, ok := MatchTrigger(in.Config, in.Issues); ok {
		if in.RollbackCounts[target] < in.Config.MaxRollbacks {
			return domain.Verdict{
				Kind:   domain.VerdictRollback,
				Target: target,
				Reason: fmt.Sprintf("critical issue matched rollback trigger %q", cond),
			}
		}
		return domain.Verdict{
			Kind:   domain.VerdictForceAdvance,
			Reason: fmt.Sprintf("rollback budget exhausted for %s (trigger %q)", target, cond),
		}
	}
	pass := in.Config.Pass()
	if in.PassScore > 0 {
		pass = in.PassScore
	}
	if in.Score >= pass && !HasUnresolvedBlocking(in.Blocked, in.Phase) {
		return domain.Verdict{Kind: domain.VerdictPass, Reason: fmt.Sprintf("score %.1f >= %.1f", in.Score, pass)}
	}
	if in.Iteration >= in.Config.MaxIterations {
		return domain.Verdict{
			Kind:   domain.VerdictForceAdvance,
			Reason: fmt.Sprintf("iteration budget exhausted (%d/%d)", in.Iteration, in.Config.MaxIterations),
		}
	}
	return domain.Verdict{Kind: domain.VerdictContinue, Reason: continueReason(in, pass)}
}

// MatchTrigger finds the first CRITICAL issue matching a rollback trigger.
// Conditions are tried in sorted order; a condition matches an issue whose
// category equals it or whose description contains it, ignoring case.
func MatchTrigger(pc config.PhaseConfig, issues []domain.Issue) (domain.Phase, string, bool) {
	conds := pc.TriggerConditions()
	for _, cond := range conds {
		needle := strings.ToLower(cond)
		for _, issue := range issues {
			if issue.Severity != domain.SeverityCritical {
				continue
			}
			if issue.Category == cond || strings.Contains(strings.ToLower(issue.Description), needle) {
				return pc.RollbackTriggers[cond], cond, true
			}
		}
	}
	return "", "", false
}

// HasUnresolvedBlocking reports whether phase has unresolved MAJOR or CRITICAL entries.
func HasUnresolvedBlocking(blocked []domain.BlockedIssue, phase domain.Phase) bool {
	for _, b := range blocked {
		if b.Phase == phase && !b.Resolved && b.Severity.Blocking() {
			return true
		}
	}
	return false
}

func continueReason(in Input, pass float64) string {
	if in.Score < pass {
		return fmt.Sprintf("score %.1f below %.1f", in.Score, pass)
	}
	return "blocking issues unresolved"
}
