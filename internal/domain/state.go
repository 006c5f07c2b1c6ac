package domain

import (
	"fmt"
	"math"
)

type ScoreEntry struct {
	Phase     Phase   `json:"phase"`
	Iteration int     `json:"iteration"`
	Attempt   int     `json:"attempt"`
	Score     float64 `json:"score"`
	At        string  `json:"at" format:"date-time"`
}

type TransitionKind string

const (
	TransitionAdvance      TransitionKind = "advance"
	TransitionForceAdvance TransitionKind = "force_advance"
	TransitionRollback     TransitionKind = "rollback"
	TransitionComplete     TransitionKind = "complete"
)

type Transition struct {
	From   Phase          `json:"from"`
	To     Phase          `json:"to"`
	Kind   TransitionKind `json:"kind"`
	Reason string         `json:"reason,omitempty"`
	At     string         `json:"at" format:"date-time"`
}

// ProjectState is the single mutable record of a project's lifecycle position.
// It is passed by value; the engine persists every new value as a checkpoint.
type ProjectState struct {
	ProjectID      string        `json:"project_id"`
	Phase          Phase         `json:"phase"`
	Mode           Mode          `json:"mode"`
	Iteration      int           `json:"iteration"`
	Attempts       map[Phase]int `json:"attempts"`
	ScoreHistory   []ScoreEntry  `json:"score_history"`
	RollbackCounts map[Phase]int `json:"rollback_counts"`
	FromRollback   bool          `json:"from_rollback"`
	Status         string        `json:"status"`
	Transitions    []Transition  `json:"transitions"`
	Recovered      bool          `json:"recovered,omitempty"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

// NewProjectState returns the initial state: first phase, developer mode, no history.
func NewProjectState(projectID, now string) ProjectState {
	return ProjectState{
		ProjectID:      projectID,
		Phase:          PhaseBasicDesign,
		Mode:           ModeDeveloper,
		Attempts:       map[Phase]int{},
		RollbackCounts: map[Phase]int{},
		Status:         StatusInProgress,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing maps or slices.
func (s ProjectState) Clone() ProjectState {
	out := s
	out.Attempts = make(map[Phase]int, len(s.Attempts))
	for k, v := range s.Attempts {
		out.Attempts[k] = v
	}
	out.RollbackCounts = make(map[Phase]int, len(s.RollbackCounts))
	for k, v := range s.RollbackCounts {
		out.RollbackCounts[k] = v
	}
	out.ScoreHistory = append([]ScoreEntry(nil), s.ScoreHistory...)
	out.Transitions = append([]Transition(nil), s.Transitions...)
	return out
}

func (s ProjectState) Completed() bool { return s.Status == StatusCompleted }

// LatestScore returns the most recent score recorded for any phase.
func (s ProjectState) LatestScore() (float64, bool) {
	if len(s.ScoreHistory) == 0 {
		return 0, false
	}
	return s.ScoreHistory[len(s.ScoreHistory)-1].Score, true
}

// LatestPhaseScore returns the most recent score recorded for phase.
func (s ProjectState) LatestPhaseScore(phase Phase) (float64, bool) {
	for i := len(s.ScoreHistory) - 1; i >= 0; i-- {
		if s.ScoreHistory[i].Phase == phase {
			return s.ScoreHistory[i].Score, true
		}
	}
	return 0, false
}

func (s ProjectState) TotalRollbacks() int {
	total := 0
	for _, n := range s.RollbackCounts {
		total += n
	}
	return total
}

// Validate checks structural invariants of a loaded state.
func (s ProjectState) Validate() error {
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrStateCorrupt, fmt.Sprintf(format, args...))
	}
	if s.ProjectID == "" {
		return corrupt("missing project id")
	}
	switch s.Status {
	case StatusInProgress:
		if !s.Phase.Valid() {
			return corrupt("invalid phase %q", s.Phase)
		}
	case StatusCompleted:
		if s.Phase != PhaseCompleted {
			return corrupt("completed state has phase %q", s.Phase)
		}
	default:
		return corrupt("invalid status %q", s.Status)
	}
	if !s.Mode.Valid() {
		return corrupt("invalid mode %q", s.Mode)
	}
	if s.Iteration < 0 {
		return corrupt("negative iteration %d", s.Iteration)
	}
	for p, n := range s.Attempts {
		if !p.Valid() || n < 0 {
			return corrupt("invalid attempts entry %s=%d", p, n)
		}
	}
	for p, n := range s.RollbackCounts {
		if !p.Valid() || n < 0 {
			return corrupt("invalid rollback entry %s=%d", p, n)
		}
	}
	for _, e := range s.ScoreHistory {
		if math.IsNaN(e.Score) || e.Score < 0 || e.Score > 100 {
			return corrupt("score %v out of range", e.Score)
		}
	}
	return nil
}

// View projects the state onto the status report.
func (s ProjectState) View() Status {
	st := Status{
		ProjectID:      s.ProjectID,
		CurrentPhase:   s.Phase,
		Iteration:      s.Iteration,
		Mode:           s.Mode,
		Status:         s.Status,
		ScoreHistory:   s.ScoreHistory,
		RollbackCount:  s.TotalRollbacks(),
		RollbackCounts: s.RollbackCounts,
		FromRollback:   s.FromRollback,
		Recovered:      s.Recovered,
		Transitions:    s.Transitions,
		Attempts:       s.Attempts,
	}
	if st.ScoreHistory == nil {
		st.ScoreHistory = []ScoreEntry{}
	}
	if score, ok := s.LatestScore(); ok {
		st.LatestScore = &score
	}
	return st
}
