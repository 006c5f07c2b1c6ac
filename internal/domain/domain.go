package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Phase string

const (
	PhaseBasicDesign     Phase = "BASIC_DESIGN"
	PhaseDetailDesign    Phase = "DETAIL_DESIGN"
	PhaseDevelopment     Phase = "DEVELOPMENT"
	PhaseUnitTest        Phase = "UNIT_TEST"
	PhaseIntegrationTest Phase = "INTEGRATION_TEST"

	// PhaseCompleted marks a project past its final phase.
	PhaseCompleted Phase = "COMPLETED"
)

var orderedPhases = []Phase{
	PhaseBasicDesign,
	PhaseDetailDesign,
	PhaseDevelopment,
	PhaseUnitTest,
	PhaseIntegrationTest,
}

// Phases returns the lifecycle phases in order.
func Phases() []Phase {
	out := make([]Phase, len(orderedPhases))
	copy(out, orderedPhases)
	return out
}

// Index returns the position of p in the lifecycle, or -1.
func (p Phase) Index() int {
	for i, candidate := range orderedPhases {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool { return p.Index() >= 0 }

// Next returns the following phase; ok is false for the final phase.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(orderedPhases) {
		return "", false
	}
	return orderedPhases[i+1], true
}

// Before reports whether p comes strictly earlier than other.
func (p Phase) Before(other Phase) bool {
	return p.Valid() && other.Valid() && p.Index() < other.Index()
}

var phaseAliases = map[string]Phase{
	"basic":       PhaseBasicDesign,
	"detail":      PhaseDetailDesign,
	"dev":         PhaseDevelopment,
	"unit":        PhaseUnitTest,
	"integration": PhaseIntegrationTest,
}

// ParsePhase accepts canonical names in any case and the short aliases.
func ParsePhase(s string) (Phase, error) {
	key := strings.TrimSpace(s)
	if p, ok := phaseAliases[strings.ToLower(key)]; ok {
		return p, nil
	}
	p := Phase(strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
	if !p.Valid() {
		return "", fmt.Errorf("invalid phase %q", s)
	}
	return p, nil
}

type Mode string

const (
	ModeDeveloper Mode = "developer"
	ModeReviewer  Mode = "reviewer"
)

func (m Mode) Valid() bool { return m == ModeDeveloper || m == ModeReviewer }

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
)

func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityMajor || s == SeverityMinor
}

// Blocking reports whether the severity prevents a phase from passing.
func (s Severity) Blocking() bool { return s == SeverityCritical || s == SeverityMajor }

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// ParseSeverity is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// CategoryContentUnavailable is the issue category emitted for empty artifacts.
const CategoryContentUnavailable = "content_unavailable"

var ErrStateCorrupt = errors.New("project state corrupt")

type Project struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Issue struct {
	Phase       Phase    `json:"phase,omitempty"`
	Iteration   int      `json:"iteration,omitempty"`
	Severity    Severity `json:"severity" enum:"CRITICAL,MAJOR,MINOR"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Timestamp   string   `json:"timestamp,omitempty" format:"date-time"`
}

type CriterionScore struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

type Evaluation struct {
	Phase        Phase            `json:"phase"`
	Score        float64          `json:"score"`
	Issues       []Issue          `json:"issues"`
	Breakdown    []CriterionScore `json:"breakdown"`
	Improvements []string         `json:"improvements"`
}

type Snapshot struct {
	ProjectID string           `json:"project_id"`
	Phase     Phase            `json:"phase"`
	Iteration int              `json:"iteration"`
	Score     float64          `json:"score"`
	Issues    []Issue          `json:"issues"`
	Breakdown []CriterionScore `json:"breakdown"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type BlockedIssue struct {
	Phase       Phase    `json:"phase"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Iteration   int      `json:"iteration"`
	Resolved    bool     `json:"resolved"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type VerdictKind string

const (
	VerdictPass         VerdictKind = "PASS"
	VerdictContinue     VerdictKind = "CONTINUE"
	VerdictForceAdvance VerdictKind = "FORCE_ADVANCE"
	VerdictRollback     VerdictKind = "ROLLBACK"
)

type Verdict struct {
	Kind   VerdictKind `json:"kind" enum:"PASS,CONTINUE,FORCE_ADVANCE,ROLLBACK"`
	Target Phase       `json:"target,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

func (v Verdict) String() string {
	if v.Kind == VerdictRollback {
		return fmt.Sprintf("%s(%s)", v.Kind, v.Target)
	}
	return string(v.Kind)
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type Artifact struct {
	Phase     Phase  `json:"phase"`
	Iteration int    `json:"iteration"`
	Content   string `json:"content"`
	Source    string `json:"source,omitempty"`
}

// ProduceRequest is handed to the producer for one developer step.
type ProduceRequest struct {
	ProjectID       string         `json:"project_id"`
	Phase           Phase          `json:"phase"`
	Iteration       int            `json:"iteration"`
	Attempt         int            `json:"attempt"`
	FromRollback    bool           `json:"from_rollback"`
	NextImprovement string         `json:"next_improvement,omitempty"`
	Blocked         []BlockedIssue `json:"blocked,omitempty"`
	Description     string         `json:"description,omitempty"`
}

type PhaseStats struct {
	Snapshots int `json:"snapshots"`
	Total     int `json:"total"`
	Critical  int `json:"critical"`
	Major     int `json:"major"`
	Minor     int `json:"minor"`
}

type Statistics struct {
	Total      int                  `json:"total"`
	BySeverity map[Severity]int     `json:"by_severity"`
	ByPhase    map[Phase]PhaseStats `json:"by_phase"`
}

type Status struct {
	ProjectID         string        `json:"project_id"`
	CurrentPhase      Phase         `json:"current_phase"`
	Iteration         int           `json:"iteration"`
	Mode              Mode          `json:"mode"`
	Status            string        `json:"status"`
	ScoreHistory      []ScoreEntry  `json:"score_history"`
	LatestScore       *float64      `json:"latest_score,omitempty"`
	BlockedIssueCount int           `json:"blocked_issue_count"`
	RollbackCount     int           `json:"rollback_count"`
	RollbackCounts    map[Phase]int `json:"rollback_counts,omitempty"`
	FromRollback      bool          `json:"from_rollback"`
	Recovered         bool          `json:"recovered,omitempty"`
	NextImprovement   string        `json:"next_improvement,omitempty"`
	Transitions       []Transition  `json:"transitions,omitempty"`
	Attempts          map[Phase]int `json:"attempts,omitempty"`
}

type Run struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Policy     string `json:"policy"`
	ParamsJSON string `json:"params_json"`
	Status     string `json:"status"`
	Summary    string `json:"summary_json,omitempty"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty" format:"date-time"`
}

const (
	RunRunning              = "RUNNING"
	RunCompleted            = "COMPLETED"
	RunMaxIterationsReached = "MAX_ITERATIONS_REACHED"
	RunPhaseCapReached      = "PHASE_CAP_REACHED"
	RunCanceled             = "CANCELED"
	RunError                = "ERROR"
)

type PhaseResult struct {
	Phase      Phase       `json:"phase"`
	Score      float64     `json:"score"`
	Iterations int         `json:"iterations"`
	Verdict    VerdictKind `json:"verdict"`
}

type RunSummary struct {
	RunID           string        `json:"run_id"`
	Policy          string        `json:"policy"`
	Status          string        `json:"status"`
	PhasesCompleted []PhaseResult `json:"phases_completed"`
	TotalIterations int           `json:"total_iterations"`
	FinalScore      *float64      `json:"final_score,omitempty"`
	Error           string        `json:"error,omitempty"`
}
