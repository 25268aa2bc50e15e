package stagelinesdk

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

// Client is a minimal Stageline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// RunRequest describes a change request to submit.
type RunRequest struct {
	Description        string         `json:"description"`
	Category           string         `json:"category,omitempty"`
	ThresholdOverrides map[string]int `json:"threshold_overrides,omitempty"`
	SkipStages         []string       `json:"skip_stages,omitempty"`
	MaxRetries         *int           `json:"max_retries,omitempty"`
}

// Report is the workflow outcome (partial model).
type Report struct {
	RunID           string             `json:"run_id"`
	ProjectID       string             `json:"project_id"`
	IterationID     string             `json:"iteration_id"`
	Category        string             `json:"category"`
	FinalPhase      string             `json:"final_phase"`
	PhaseScores     map[string]float64 `json:"phase_scores"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	Completion      float64            `json:"completion"`
}

// Run summarizes a stored workflow run.
type Run struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Phase       string `json:"phase"`
	Category    string `json:"category"`
	IterationID string `json:"iteration_id"`
	Description string `json:"description"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
}

// Artifact is a stored work product revision.
type Artifact struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	IterationID string `json:"iteration_id"`
	Stage       string `json:"stage"`
	LogicalPath string `json:"logical_path"`
	Kind        string `json:"kind"`
	Revision    int    `json:"revision"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
}

// Issue is a tracked open question or defect.
type Issue struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event is a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// EventPage wraps an event listing with its cursor.
type EventPage struct {
	Events []Event `json:"events"`
	Cursor int64   `json:"cursor"`
}

// SubmitRun runs the workflow for a change request and returns the report.
// The run executes synchronously; check Report.FinalPhase for the outcome.
func (c *Client) SubmitRun(ctx context.Context, req RunRequest) (Report, error) {
	var resp struct {
		Report Report `json:"report"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), req, &resp)
	return resp.Report, err
}

// GetReport fetches the stored report for a finished run.
func (c *Client) GetReport(ctx context.Context, runID string) (Report, error) {
	var resp struct {
		Report Report `json:"report"`
	}
	endpoint := fmt.Sprintf("v0/runs/%s/report", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Report, err
}

// Runs lists the project's runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	var resp struct {
		Runs []Run `json:"runs"`
	}
	endpoint := c.projectPath("runs")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Runs, err
}

// Artifacts lists the project's latest artifact revisions.
func (c *Client) Artifacts(ctx context.Context, latestOnly bool) ([]Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	endpoint := c.projectPath("artifacts")
	if latestOnly {
		endpoint += "?latest=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Artifacts, err
}

// ArtifactHistory returns every revision of one logical path, oldest first.
func (c *Client) ArtifactHistory(ctx context.Context, logicalPath string) ([]Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	endpoint := c.projectPath("artifacts/history") + "?path=" + url.QueryEscape(logicalPath)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Artifacts, err
}

// OpenIssue records a new open issue.
func (c *Client) OpenIssue(ctx context.Context, title string) (Issue, error) {
	var resp struct {
		Issue Issue `json:"issue"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("issues"), map[string]any{"title": title}, &resp)
	return resp.Issue, err
}

// CloseIssue marks an issue closed.
func (c *Client) CloseIssue(ctx context.Context, issueID string) (Issue, error) {
	var resp struct {
		Issue Issue `json:"issue"`
	}
	endpoint := fmt.Sprintf("v0/issues/%s/close", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Issue, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Events, err
}

// EventsPage returns events after the given cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, after int64) (EventPage, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if after > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%safter=%d", endpoint, sep, after)
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
