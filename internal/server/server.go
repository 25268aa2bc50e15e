package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stageline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Stageline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerConfigs(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerIterations(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, domain.ErrClassificationAmbiguous) {
		return newAPIError(http.StatusBadRequest, "ambiguous_request", err.Error(), nil)
	}
	var ie config.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusUnprocessableEntity, "invariant_violation", err.Error(), map[string]any{"gate": ie.Gate})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "does not match"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*struct {
		Body ProjectResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project id required", nil)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProject(ctx, input.Body.ID, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse
		}{Body: ProjectResponse{Project: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectListResponse
	}, error) {
		projects, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse
		}{Body: ProjectListResponse{Projects: projects}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse
		}{Body: ProjectResponse{Project: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectStatusResponse
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectStatusResponse{ProjectID: p.ID, Status: p.Status}
		runs, err := e.Repo.ListRuns(ctx, repo.RunFilters{ProjectID: p.ID, Limit: 1})
		if err != nil {
			return nil, handleError(err)
		}
		if len(runs) > 0 {
			s := runSummary(runs[0])
			resp.LastRun = &s
		}
		artifacts, err := e.Repo.ListArtifacts(ctx, repo.ArtifactFilters{ProjectID: p.ID, LatestOnly: true})
		if err != nil {
			return nil, handleError(err)
		}
		resp.Context.ArtifactCount = len(artifacts)
		issues, err := e.Repo.ListIssues(ctx, p.ID, "open")
		if err != nil {
			return nil, handleError(err)
		}
		resp.Context.OpenIssueCount = len(issues)
		iterations, err := e.Repo.ListIterations(ctx, p.ID, 1)
		if err != nil {
			return nil, handleError(err)
		}
		if len(iterations) > 0 {
			id := iterations[0].ID
			resp.Context.IterationID = &id
		}
		return &struct {
			Body ProjectStatusResponse
		}{Body: resp}, nil
	})
}

func registerConfigs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-config",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/config",
		Summary:     "Import project config",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      ImportConfigRequest
	}) (*struct {
		Body ConfigYAMLResponse
	}, error) {
		if err := e.Repo.UpsertProjectConfig(ctx, input.ProjectID, []byte(input.Body.YAML)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigYAMLResponse
		}{Body: ConfigYAMLResponse{YAML: input.Body.YAML}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Export project config",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ConfigYAMLResponse
	}, error) {
		raw, err := e.Repo.GetProjectConfigYAML(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigYAMLResponse
		}{Body: ConfigYAMLResponse{YAML: raw}}, nil
	})
}

func runSummary(row repo.RunRow) RunSummary {
	return RunSummary{
		ID:          row.ID,
		Phase:       string(row.Phase),
		Category:    string(row.Category),
		IterationID: row.IterationID,
		Description: row.Description,
		StartedAt:   row.StartedAt,
		FinishedAt:  row.FinishedAt,
	}
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-run",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/runs",
		Summary:       "Submit a change request",
		Description:   "Runs the workflow synchronously and returns the report. A failed run still returns its report; the final_phase field carries the outcome.",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      SubmitRunRequest
	}) (*struct {
		Body ReportResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := engine.RunRequest{
			ProjectID:   input.ProjectID,
			Description: input.Body.Description,
			SkipStages:  input.Body.SkipStages,
			MaxRetries:  input.Body.MaxRetries,
			ActorID:     actorID,
		}
		if input.Body.Category != nil {
			req.OverrideCategory = domain.RequestCategory(*input.Body.Category)
		}
		if len(input.Body.ThresholdOverrides) > 0 {
			req.ThresholdOverrides = map[domain.Phase]int{}
			for phase, v := range input.Body.ThresholdOverrides {
				req.ThresholdOverrides[domain.Phase(phase)] = v
			}
		}
		report, err := e.Execute(ctx, req)
		if err != nil && !isRunOutcome(err) {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse
		}{Body: ReportResponse{Report: report}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs",
		Summary:     "List runs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `query:"phase"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body RunListResponse
	}, error) {
		rows, err := e.Repo.ListRuns(ctx, repo.RunFilters{ProjectID: input.ProjectID, Phase: input.Phase, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		resp := RunListResponse{}
		for _, row := range rows {
			resp.Runs = append(resp.Runs, runSummary(row))
		}
		return &struct {
			Body RunListResponse
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get run",
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunSummary
	}, error) {
		row, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		s := runSummary(row)
		return &struct {
			Body RunSummary
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-report",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/report",
		Summary:     "Get run report",
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body ReportResponse
	}, error) {
		report, err := e.Repo.GetRunReport(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse
		}{Body: ReportResponse{Report: report}}, nil
	})
}

// isRunOutcome reports whether err describes how the run terminated rather
// than an API failure. The report is still returned for these.
func isRunOutcome(err error) bool {
	return errors.Is(err, domain.ErrRetryExhausted) ||
		errors.Is(err, domain.ErrCriticalOverride) ||
		errors.Is(err, domain.ErrCancelled)
}

func registerIterations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-iterations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/iterations",
		Summary:     "List iterations",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body IterationListResponse
	}, error) {
		iterations, err := e.Repo.ListIterations(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IterationListResponse
		}{Body: IterationListResponse{Iterations: iterations}}, nil
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/artifacts",
		Summary:     "List artifacts",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Iteration string `query:"iteration"`
		Stage     string `query:"stage"`
		Kind      string `query:"kind"`
		Latest    bool   `query:"latest"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body ArtifactListResponse
	}, error) {
		artifacts, err := e.Repo.ListArtifacts(ctx, repo.ArtifactFilters{
			ProjectID:   input.ProjectID,
			IterationID: input.Iteration,
			Stage:       input.Stage,
			Kind:        input.Kind,
			LatestOnly:  input.Latest,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactListResponse
		}{Body: ArtifactListResponse{Artifacts: artifacts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "artifact-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/artifacts/history",
		Summary:     "Artifact revision history",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Path      string `query:"path" required:"true"`
	}) (*struct {
		Body ArtifactListResponse
	}, error) {
		artifacts, err := e.Repo.ArtifactHistory(ctx, input.ProjectID, input.Path)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactListResponse
		}{Body: ArtifactListResponse{Artifacts: artifacts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}",
		Summary:     "Get artifact",
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*struct {
		Body ArtifactResponse
	}, error) {
		a, err := e.Repo.GetArtifact(ctx, input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse
		}{Body: ArtifactResponse{Artifact: a}}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues",
		Summary:       "Open issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateIssueRequest
	}) (*struct {
		Body IssueResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateIssue(ctx, input.ProjectID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse
		}{Body: IssueResponse{Issue: issue}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"open,closed"`
	}) (*struct {
		Body IssueListResponse
	}, error) {
		issues, err := e.Repo.ListIssues(ctx, input.ProjectID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueListResponse
		}{Body: IssueListResponse{Issues: issues}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/close",
		Summary:     "Close issue",
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body IssueResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CloseIssue(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse
		}{Body: IssueResponse{Issue: issue}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		After     int64  `query:"after"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body EventListResponse
	}, error) {
		evts, err := e.Repo.EventsAfter(ctx, input.Limit, input.After, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Events: evts, Cursor: input.After}
		if len(evts) > 0 {
			resp.Cursor = evts[len(evts)-1].ID
		}
		return &struct {
			Body EventListResponse
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*struct {
		Body APIKeyResponse
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id required", nil)
		}
		key := uuid.NewString()
		name := ""
		if input.Body.Name != nil {
			name = *input.Body.Name
		}
		record := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    name,
			KeyHash: repo.HashAPIKey(key),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, record); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse
		}{Body: APIKeyResponse{ID: record.ID, ActorID: record.ActorID, Name: name, Key: key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body APIKeyListResponse
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyListResponse
		}{Body: APIKeyListResponse{Keys: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-apikey",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Delete API key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stageline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
