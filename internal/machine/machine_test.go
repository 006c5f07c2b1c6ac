package machine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasegate/internal/domain"
	"phasegate/internal/machine"
)

const ts = "2024-01-01T00:00:00Z"

func fresh() domain.ProjectState {
	return domain.NewProjectState("proj-1", ts)
}

func TestBeginIterationCountsAttempts(t *testing.T) {
	s, err := machine.BeginIteration(fresh())
	require.NoError(t, err)
	s, err = machine.BeginIteration(s)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, 2, s.Attempts[domain.PhaseBasicDesign])
}

func TestFunctionsDoNotMutateInput(t *testing.T) {
	orig := fresh()
	_, err := machine.BeginIteration(orig)
	require.NoError(t, err)
	assert.Equal(t, 0, orig.Iteration)
	assert.Empty(t, orig.Attempts)
}

func TestAdvanceResetsIteration(t *testing.T) {
	s, _ := machine.BeginIteration(fresh())
	s, _ = machine.BeginIteration(s)
	s, err := machine.Advance(s, ts)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDetailDesign, s.Phase)
	assert.Equal(t, 0, s.Iteration)
	require.Len(t, s.Transitions, 1)
	assert.Equal(t, domain.TransitionAdvance, s.Transitions[0].Kind)
}

func TestForceAdvanceRecordsReason(t *testing.T) {
	s, err := machine.ForceAdvance(fresh(), "iteration budget exhausted", ts)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDetailDesign, s.Phase)
	require.Len(t, s.Transitions, 1)
	assert.Equal(t, domain.TransitionForceAdvance, s.Transitions[0].Kind)
	assert.Equal(t, "iteration budget exhausted", s.Transitions[0].Reason)
}

func TestScenarioDRollbackState(t *testing.T) {
	s := fresh()
	var err error
	for _, p := range []domain.Phase{domain.PhaseBasicDesign, domain.PhaseDetailDesign} {
		s, err = machine.BeginIteration(s)
		require.NoError(t, err)
		s, err = machine.Advance(s, ts)
		require.NoError(t, err, p)
	}
	s, _ = machine.BeginIteration(s)
	s, _ = machine.BeginIteration(s)
	require.Equal(t, domain.PhaseDevelopment, s.Phase)

	s, err = machine.Apply(s, domain.Verdict{Kind: domain.VerdictRollback, Target: domain.PhaseDetailDesign, Reason: "algorithm logic flaw"}, ts)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDetailDesign, s.Phase)
	assert.Equal(t, 1, s.RollbackCounts[domain.PhaseDetailDesign])
	assert.Equal(t, 0, s.Iteration)
	assert.True(t, s.FromRollback)
	assert.Equal(t, 1, s.Attempts[domain.PhaseDetailDesign], "attempts survive rollback")

	s, _ = machine.BeginIteration(s)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, 2, s.Attempts[domain.PhaseDetailDesign])

	s, err = machine.Advance(s, ts)
	require.NoError(t, err)
	assert.False(t, s.FromRollback)
}

func TestRollbackMustTargetEarlierPhase(t *testing.T) {
	s := fresh()
	_, err := machine.Rollback(s, domain.PhaseBasicDesign, "", ts)
	assert.ErrorIs(t, err, machine.ErrInvalidTransition)
	_, err = machine.Rollback(s, domain.PhaseUnitTest, "", ts)
	assert.ErrorIs(t, err, machine.ErrInvalidTransition)
}

func TestCompletionIsTerminal(t *testing.T) {
	s := fresh()
	var err error
	for range domain.Phases() {
		s, err = machine.Apply(s, domain.Verdict{Kind: domain.VerdictPass}, ts)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, domain.PhaseCompleted, s.Phase)
	require.NoError(t, s.Validate())

	for _, v := range []domain.Verdict{
		{Kind: domain.VerdictPass},
		{Kind: domain.VerdictContinue},
		{Kind: domain.VerdictForceAdvance},
		{Kind: domain.VerdictRollback, Target: domain.PhaseBasicDesign},
	} {
		_, err := machine.Apply(s, v, ts)
		assert.ErrorIs(t, err, machine.ErrTerminal, v.Kind)
	}
	_, err = machine.BeginIteration(s)
	assert.ErrorIs(t, err, machine.ErrTerminal)
}

func TestRecordScoreAndMode(t *testing.T) {
	s, _ := machine.BeginIteration(fresh())
	s = machine.RecordScore(s, 72.5, ts)
	require.Len(t, s.ScoreHistory, 1)
	assert.Equal(t, domain.ScoreEntry{Phase: domain.PhaseBasicDesign, Iteration: 1, Attempt: 1, Score: 72.5, At: ts}, s.ScoreHistory[0])

	s, err := machine.SetMode(s, domain.ModeReviewer, ts)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeReviewer, s.Mode)
	_, err = machine.SetMode(s, "tester", ts)
	assert.Error(t, err)
}
