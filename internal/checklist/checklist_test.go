package checklist_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasegate/internal/checklist"
	"phasegate/internal/config"
	"phasegate/internal/domain"
)

func newEvaluator(t *testing.T) *checklist.Evaluator {
	t.Helper()
	ev, err := checklist.FromConfig(config.Default("proj-1"))
	require.NoError(t, err)
	return ev
}

func categories(issues []domain.Issue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Category)
	}
	return out
}

func TestBasicDesignFullScore(t *testing.T) {
	ev := newEvaluator(t)
	content := `Business process: users place orders.
Database: orders table with id and status columns.
Architecture: layered system with an api module.
Interface: REST API for external clients.`
	res := ev.Evaluate(domain.PhaseBasicDesign, content)
	assert.Equal(t, 100.0, res.Score)
	assert.Empty(t, res.Issues)
	require.Len(t, res.Breakdown, 4)
	for _, b := range res.Breakdown {
		assert.True(t, b.Passed, b.Name)
		assert.Equal(t, b.Weight, b.Score, b.Name)
	}
}

func TestBasicDesignPartialScoreEmitsIssues(t *testing.T) {
	ev := newEvaluator(t)
	res := ev.Evaluate(domain.PhaseBasicDesign, "Business logic for checkout.")
	assert.Equal(t, 70.0, res.Score)
	assert.Equal(t, []string{"database_design", "architecture", "interface_definition"}, categories(res.Issues))
	assert.Equal(t, domain.SeverityMajor, res.Issues[0].Severity)
	assert.Equal(t, domain.SeverityMajor, res.Issues[1].Severity)
	assert.Equal(t, domain.SeverityMinor, res.Issues[2].Severity)
	assert.Equal(t, []string{
		"must fix: database design is missing",
		"must fix: system architecture is unclear",
		"consider adding interface definitions",
	}, res.Improvements)
}

func TestEmptyContentIsCritical(t *testing.T) {
	ev := newEvaluator(t)
	for _, content := range []string{"", "   \n\t"} {
		res := ev.Evaluate(domain.PhaseDetailDesign, content)
		assert.Equal(t, 0.0, res.Score)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, domain.SeverityCritical, res.Issues[0].Severity)
		assert.Equal(t, domain.CategoryContentUnavailable, res.Issues[0].Category)
		assert.Len(t, res.Breakdown, 4)
	}
}

func TestDevelopmentWithoutCodeIsCritical(t *testing.T) {
	ev := newEvaluator(t)
	res := ev.Evaluate(domain.PhaseDevelopment, "we will write it later")
	assert.Equal(t, 55.0, res.Score)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, "functional_completeness", res.Issues[0].Category)
	assert.Equal(t, domain.SeverityCritical, res.Issues[0].Severity)
	assert.Equal(t, "rollback required: core functionality is not implemented", res.Improvements[0])
}

func TestDevelopmentFullScore(t *testing.T) {
	ev := newEvaluator(t)
	var b strings.Builder
	b.WriteString("package orders\n\n// performance: single pass\n")
	b.WriteString("func Place(o Order) error {\n")
	for i := 0; i < 20; i++ {
		b.WriteString("\t// step\n")
	}
	b.WriteString("\treturn nil\n}\n")
	res := ev.Evaluate(domain.PhaseDevelopment, b.String())
	assert.Equal(t, 100.0, res.Score)
	assert.Empty(t, res.Issues)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	ev := newEvaluator(t)
	content := "Integration across module boundaries; stability soak for 24h."
	first := ev.Evaluate(domain.PhaseIntegrationTest, content)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ev.Evaluate(domain.PhaseIntegrationTest, content))
	}
	assert.Equal(t, 85.0, first.Score)
	assert.Equal(t, []string{"performance"}, categories(first.Issues))
}

func TestKeywordMatchingIsCaseInsensitive(t *testing.T) {
	ev := newEvaluator(t)
	res := ev.Evaluate(domain.PhaseUnitTest, "COVERAGE 92%, Edge cases, EXCEPTION paths")
	assert.Equal(t, 100.0, res.Score)
}

func TestCustomRulesRoundToOneDecimal(t *testing.T) {
	ev := checklist.New(map[domain.Phase][]checklist.Criterion{
		domain.PhaseBasicDesign: {
			{Name: "a", Weight: 33.33, Threshold: 33.33, Partial: 11.11, Severity: domain.SeverityMinor, Message: "a", Checker: checklist.KeywordChecker{AnyOf: []string{"alpha"}}},
			{Name: "b", Weight: 33.33, Threshold: 20, Partial: 22.27, Severity: domain.SeverityMajor, Message: "b", Checker: checklist.KeywordChecker{AnyOf: []string{"beta"}}},
			{Name: "c", Weight: 33.34, Threshold: 33.34, Partial: 0, Severity: domain.SeverityMajor, Message: "c", Checker: checklist.LineChecker{Min: 3}},
		},
	})
	res := ev.Evaluate(domain.PhaseBasicDesign, "alpha")
	// 33.33 + 22.27 + 0
	assert.Equal(t, 55.6, res.Score)
	assert.Equal(t, []string{"c"}, categories(res.Issues))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 82.3, checklist.Round(82.25))
	assert.Equal(t, 66.7, checklist.Round(66.666))
	assert.Equal(t, 0.0, checklist.Round(0.04))
}

func TestNextImprovementPrecedence(t *testing.T) {
	assert.Equal(t, checklist.NoImprovementNeeded, checklist.NextImprovement(nil))
	issues := []domain.Issue{
		{Severity: domain.SeverityMinor, Description: "minor one"},
		{Severity: domain.SeverityMajor, Description: "major one"},
		{Severity: domain.SeverityMajor, Description: "major two"},
	}
	assert.Equal(t, "major: major one", checklist.NextImprovement(issues))
	issues = append(issues, domain.Issue{Severity: domain.SeverityCritical, Description: "critical one"})
	assert.Equal(t, "critical: critical one", checklist.NextImprovement(issues))
	assert.Equal(t, "minor one", checklist.NextImprovement(issues[:1]))
}
