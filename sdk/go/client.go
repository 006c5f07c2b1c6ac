package phasegatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal phasegate HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	// ActorID is sent as X-Actor-Id; servers running without auth record it in the event log.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   30 * time.Second,
	}
}

// Issue is a single review finding.
type Issue struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Verdict is the gate decision for a review.
type Verdict struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Evaluation is a checklist score (partial).
type Evaluation struct {
	Phase        string   `json:"phase"`
	Score        float64  `json:"score"`
	Issues       []Issue  `json:"issues"`
	Improvements []string `json:"improvements"`
}

// Status is the lifecycle position of a project (partial).
type Status struct {
	ProjectID         string   `json:"project_id"`
	CurrentPhase      string   `json:"current_phase"`
	Iteration         int      `json:"iteration"`
	Mode              string   `json:"mode"`
	Status            string   `json:"status"`
	LatestScore       *float64 `json:"latest_score,omitempty"`
	BlockedIssueCount int      `json:"blocked_issue_count"`
	RollbackCount     int      `json:"rollback_count"`
	NextImprovement   string   `json:"next_improvement,omitempty"`
}

// ReviewResult is the outcome of one reviewer step (partial).
type ReviewResult struct {
	Phase           string     `json:"phase"`
	Iteration       int        `json:"iteration"`
	Attempt         int        `json:"attempt"`
	Evaluation      Evaluation `json:"evaluation"`
	Verdict         Verdict    `json:"verdict"`
	Held            bool       `json:"held"`
	NextImprovement string     `json:"next_improvement"`
	State           Status     `json:"state"`
}

// ReviewOptions are the optional fields of a review request.
type ReviewOptions struct {
	Phase      string  `json:"phase,omitempty"`
	Source     string  `json:"source,omitempty"`
	PassScore  float64 `json:"pass_score,omitempty"`
	HoldOnPass bool    `json:"hold_on_pass,omitempty"`
}

// RunParams selects the workflow policy of a run.
type RunParams struct {
	Policy             string  `json:"policy,omitempty"`
	TargetScore        float64 `json:"target_score,omitempty"`
	ExtraIterations    int     `json:"extra_iterations,omitempty"`
	MaxPhases          int     `json:"max_phases,omitempty"`
	MaxTotalIterations int     `json:"max_total_iterations,omitempty"`
}

type PhaseResult struct {
	Phase      string  `json:"phase"`
	Score      float64 `json:"score"`
	Iterations int     `json:"iterations"`
	Verdict    string  `json:"verdict"`
}

// RunSummary reports how a workflow run ended.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Policy          string        `json:"policy"`
	Status          string        `json:"status"`
	PhasesCompleted []PhaseResult `json:"phases_completed"`
	TotalIterations int           `json:"total_iterations"`
	FinalScore      *float64      `json:"final_score,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	// Code is the error code of the JSON error envelope, when present.
	Code string
	Body string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Status returns the project's lifecycle position.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, c.projectPath("status"), nil, &resp)
	return resp, err
}

// Evaluate scores content without recording it. An empty phase means the current phase.
func (c *Client) Evaluate(ctx context.Context, phase, content string) (Evaluation, error) {
	body := map[string]any{"phase": phase, "content": content}
	var resp Evaluation
	err := c.do(ctx, http.MethodPost, c.projectPath("evaluate"), body, &resp)
	return resp, err
}

// Decide previews the gate verdict for a score and issues.
func (c *Client) Decide(ctx context.Context, phase string, score float64, issues []Issue) (Verdict, error) {
	body := map[string]any{"phase": phase, "score": score, "issues": issues}
	var resp struct {
		Verdict Verdict `json:"verdict"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("decide"), body, &resp)
	return resp.Verdict, err
}

// Review submits content for the current phase and applies the verdict.
func (c *Client) Review(ctx context.Context, content string, opts ReviewOptions) (ReviewResult, error) {
	body := struct {
		ReviewOptions
		Content string `json:"content"`
	}{opts, content}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, c.projectPath("reviews"), body, &resp)
	return resp, err
}

// Run drives the project with the server's configured producer.
func (c *Client) Run(ctx context.Context, params RunParams) (RunSummary, error) {
	var resp RunSummary
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), params, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Report returns the project report as markdown.
func (c *Client) Report(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, c.projectPath("report")+"?format=markdown", nil, &buf)
	return buf.String(), err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
