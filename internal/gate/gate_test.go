package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"phasegate/internal/config"
	"phasegate/internal/domain"
	"phasegate/internal/gate"
)

func phaseConfig(t *testing.T, p domain.Phase) config.PhaseConfig {
	t.Helper()
	pc, err := config.Default("proj-1").Phase(p)
	if err != nil {
		t.Fatalf("phase config: %v", err)
	}
	return pc
}

func TestScenarioAPass(t *testing.T) {
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     82,
		Iteration: 1,
		Issues:    []domain.Issue{{Severity: domain.SeverityMinor, Category: "interface_definition"}},
	})
	assert.Equal(t, domain.VerdictPass, v.Kind)
}

func TestScenarioBContinue(t *testing.T) {
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     60,
		Iteration: 1,
	})
	assert.Equal(t, domain.VerdictContinue, v.Kind)
	assert.Contains(t, v.Reason, "below")
}

func TestScenarioCForceAdvance(t *testing.T) {
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     60,
		Iteration: 5,
	})
	assert.Equal(t, domain.VerdictForceAdvance, v.Kind)
	assert.Contains(t, v.Reason, "iteration budget exhausted")
}

func TestScenarioDRollback(t *testing.T) {
	pc := phaseConfig(t, domain.PhaseDevelopment)
	v := gate.Decide(gate.Input{
		Phase:          domain.PhaseDevelopment,
		Config:         pc,
		Score:          55,
		Iteration:      1,
		RollbackCounts: map[domain.Phase]int{},
		Issues: []domain.Issue{{
			Severity:    domain.SeverityCritical,
			Category:    "review",
			Description: "Algorithm logic flaw in pricing",
		}},
	})
	assert.Equal(t, domain.VerdictRollback, v.Kind)
	assert.Equal(t, domain.PhaseDetailDesign, v.Target)
}

func TestRollbackPreemptsPassingScore(t *testing.T) {
	pc := phaseConfig(t, domain.PhaseDevelopment)
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseDevelopment,
		Config:    pc,
		Score:     99,
		Iteration: 1,
		Issues:    []domain.Issue{{Severity: domain.SeverityCritical, Category: "functional_completeness"}},
	})
	assert.Equal(t, domain.VerdictRollback, v.Kind)
	assert.Equal(t, domain.PhaseDetailDesign, v.Target)
}

func TestRollbackBudgetExhaustedForcesAdvance(t *testing.T) {
	pc := phaseConfig(t, domain.PhaseDevelopment)
	in := gate.Input{
		Phase:          domain.PhaseDevelopment,
		Config:         pc,
		Score:          40,
		Iteration:      1,
		RollbackCounts: map[domain.Phase]int{domain.PhaseDetailDesign: 2},
		Issues:         []domain.Issue{{Severity: domain.SeverityCritical, Category: "functional_completeness"}},
	}
	v := gate.Decide(in)
	assert.Equal(t, domain.VerdictForceAdvance, v.Kind)
	assert.Contains(t, v.Reason, "rollback budget exhausted")

	in.RollbackCounts[domain.PhaseDetailDesign] = 1
	assert.Equal(t, domain.VerdictRollback, gate.Decide(in).Kind)
}

func TestNonMatchingCriticalDoesNotRollback(t *testing.T) {
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     0,
		Iteration: 1,
		Issues:    []domain.Issue{{Severity: domain.SeverityCritical, Category: domain.CategoryContentUnavailable}},
	})
	assert.Equal(t, domain.VerdictContinue, v.Kind)
}

func TestMajorTriggerTextIsIgnored(t *testing.T) {
	v := gate.Decide(gate.Input{
		Phase:     domain.PhaseDevelopment,
		Config:    phaseConfig(t, domain.PhaseDevelopment),
		Score:     90,
		Iteration: 1,
		Issues:    []domain.Issue{{Severity: domain.SeverityMajor, Description: "algorithm logic flaw"}},
	})
	assert.Equal(t, domain.VerdictPass, v.Kind)
}

func TestUnresolvedBlockedIssuesPreventPass(t *testing.T) {
	blocked := []domain.BlockedIssue{
		{Phase: domain.PhaseBasicDesign, Category: "database_design", Severity: domain.SeverityMajor},
	}
	in := gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     85,
		Iteration: 2,
		Blocked:   blocked,
	}
	v := gate.Decide(in)
	assert.Equal(t, domain.VerdictContinue, v.Kind)
	assert.Equal(t, "blocking issues unresolved", v.Reason)

	in.Blocked[0].Resolved = true
	assert.Equal(t, domain.VerdictPass, gate.Decide(in).Kind)

	in.Blocked = []domain.BlockedIssue{
		{Phase: domain.PhaseBasicDesign, Category: "interface_definition", Severity: domain.SeverityMinor},
		{Phase: domain.PhaseDetailDesign, Category: "class_design", Severity: domain.SeverityMajor},
	}
	assert.Equal(t, domain.VerdictPass, gate.Decide(in).Kind)
}

func TestPassScoreOverride(t *testing.T) {
	in := gate.Input{
		Phase:     domain.PhaseBasicDesign,
		Config:    phaseConfig(t, domain.PhaseBasicDesign),
		Score:     85,
		Iteration: 1,
		PassScore: 90,
	}
	assert.Equal(t, domain.VerdictContinue, gate.Decide(in).Kind)
	in.Score = 90
	assert.Equal(t, domain.VerdictPass, gate.Decide(in).Kind)
}

func TestIterationCeilingHolds(t *testing.T) {
	pc := phaseConfig(t, domain.PhaseUnitTest)
	for it := 1; it <= pc.MaxIterations; it++ {
		v := gate.Decide(gate.Input{Phase: domain.PhaseUnitTest, Config: pc, Score: 10, Iteration: it})
		if it < pc.MaxIterations {
			assert.Equal(t, domain.VerdictContinue, v.Kind, "iteration %d", it)
		} else {
			assert.Equal(t, domain.VerdictForceAdvance, v.Kind, "iteration %d", it)
		}
	}
}
