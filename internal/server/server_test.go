package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("stageline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), "stageline", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	// Seed one iteration with an artifact so keyword classification is in
	// play instead of the empty-project fast path.
	it, err := e.Tracker.StartIteration(context.Background(), "stageline", domain.CategoryNewProject, "bootstrap-run")
	if err != nil {
		t.Fatalf("seed iteration: %v", err)
	}
	if _, err := e.Tracker.RecordArtifact(context.Background(), "stageline", it.ID, "requirements-analysis",
		"requirements/initial.md", domain.KindRequirements, "initial requirements"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestRunLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/stageline/runs", map[string]any{
		"description": "the login is broken after the last deploy",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit run status %d: %s", res.StatusCode, string(data))
	}
	var submitted ReportResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if submitted.Report.Category != domain.CategoryBugFix {
		t.Fatalf("category = %s, want bug_fix", submitted.Report.Category)
	}
	if submitted.Report.FinalPhase != domain.PhaseCompleted {
		t.Fatalf("final phase = %s: %s", submitted.Report.FinalPhase, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+submitted.Report.RunID+"/report", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get report status %d: %s", res.StatusCode, string(data))
	}
	var fetched ReportResponse
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal fetched report: %v", err)
	}
	if fetched.Report.RunID != submitted.Report.RunID {
		t.Fatalf("report run id = %s, want %s", fetched.Report.RunID, submitted.Report.RunID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/runs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list runs status %d: %s", res.StatusCode, string(data))
	}
	var runs RunListResponse
	_ = json.Unmarshal(data, &runs)
	if len(runs.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs.Runs))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/artifacts?latest=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list artifacts status %d: %s", res.StatusCode, string(data))
	}
	var artifacts ArtifactListResponse
	_ = json.Unmarshal(data, &artifacts)
	if len(artifacts.Artifacts) == 0 {
		t.Fatal("expected artifacts from the run")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint %d: %s", res.StatusCode, string(data))
	}
	var status ProjectStatusResponse
	_ = json.Unmarshal(data, &status)
	if status.LastRun == nil || status.LastRun.ID != submitted.Report.RunID {
		t.Fatalf("status last run = %+v", status.LastRun)
	}
	if status.Context.ArtifactCount == 0 {
		t.Fatal("status artifact count is zero")
	}
}

func TestAmbiguousRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/stageline/runs", map[string]any{
		"description": "   ",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "ambiguous_request" {
		t.Fatalf("code = %s, want ambiguous_request", envelope.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// No credentials at all: the middleware rejects before routing.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}

	// Health stays open.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}

	// A stored API key authenticates.
	key := "test-api-key-123"
	record := domain.APIKey{
		ID:      "key-1",
		ActorID: "svc-bot",
		KeyHash: repo.HashAPIKey(key),
	}
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, record); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	req.Header.Set("X-Api-Key", key)
	res, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status = %d, want 200", res.StatusCode)
	}
}

func TestConfigImportExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/config", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	var exported ConfigYAMLResponse
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if exported.YAML == "" {
		t.Fatal("exported config is empty")
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/stageline/config", ImportConfigRequest{
		YAML: exported.YAML,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}

	// Config for the wrong project id is rejected.
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/other/config", ImportConfigRequest{
		YAML: exported.YAML,
	}, nil)
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusNotFound {
		t.Fatalf("mismatched import status %d: %s", res.StatusCode, string(data))
	}
}

func TestIssueLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/stageline/issues", CreateIssueRequest{
		Title: "flaky export job",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue status %d: %s", res.StatusCode, string(data))
	}
	var created IssueResponse
	_ = json.Unmarshal(data, &created)
	if created.Issue.Status != "open" {
		t.Fatalf("issue status = %s, want open", created.Issue.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+created.Issue.ID+"/close", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close issue status %d: %s", res.StatusCode, string(data))
	}
	var closed IssueResponse
	_ = json.Unmarshal(data, &closed)
	if closed.Issue.Status != "closed" {
		t.Fatalf("issue status = %s, want closed", closed.Issue.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/issues?status=closed", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list issues status %d: %s", res.StatusCode, string(data))
	}
	var issues IssueListResponse
	_ = json.Unmarshal(data, &issues)
	if len(issues.Issues) != 1 {
		t.Fatalf("closed issues = %d, want 1", len(issues.Issues))
	}
}

func TestEventCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/events?limit=100", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var first EventListResponse
	_ = json.Unmarshal(data, &first)
	if len(first.Events) == 0 {
		t.Fatal("expected project.init event")
	}

	// Nothing new after the cursor yet.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/stageline/events?after="+jsonNumber(first.Cursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events after cursor status %d: %s", res.StatusCode, string(data))
	}
	var second EventListResponse
	_ = json.Unmarshal(data, &second)
	if len(second.Events) != 0 {
		t.Fatalf("events after cursor = %d, want 0", len(second.Events))
	}
}

func jsonNumber(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
