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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hiregate/internal/boundary"
	"hiregate/internal/domain"
	"hiregate/internal/intake"
	"hiregate/internal/interview"
	"hiregate/internal/logger"
	"hiregate/internal/pipeline"
	"hiregate/internal/repo"
	"hiregate/internal/signals"
)

// Config for the HTTP API handler.
type Config struct {
	Gateway   boundary.Gateway
	Intake    intake.Service
	Interview interview.Service
	Repo      repo.Repo
	BasePath  string
	Auth      AuthConfig
	Log       logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"token_expired"`
	Message string         `json:"message" example:"access token expired"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the hiregate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/internal"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if basePath == "" || basePath == "/public" || basePath == "/rounds" {
		return nil, fmt.Errorf("base path %q collides with a fixed route", cfg.BasePath)
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNoOpLogger()
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = cfg.Log
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
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("hiregate API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", promhttp.Handler())
	registerDocs(router, basePath)
	registerHealth(api)
	registerPublic(api, cfg.Gateway, cfg.Log)
	registerCore(group, cfg.Gateway)
	registerReads(group, cfg.Gateway, cfg.Repo)
	registerIntake(group, cfg.Intake)
	registerRounds(api, group, cfg.Interview)
	registerDevAuth(group, cfg.Auth)
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
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, domain.ErrAuthorization):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, domain.ErrExpired):
		return newAPIError(http.StatusGone, "token_expired", msg, nil)
	case errors.Is(err, domain.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusGone:
		return "token_expired"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	devLoginPath := path.Join(basePath, "auth/dev/login")
	for route, item := range oas.Paths {
		public := route == "/health" || route == devLoginPath || strings.HasPrefix(route, "/public/")
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public {
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
    <title>hiregate API Docs</title>
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
      Internal endpoints need Authorization: Bearer &lt;service token&gt;.
    </p>
  </body>
</html>`, specURL)
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

// registerPublic exposes the candidate status projection. Only the projection
// or one of the two token errors ever leaves this endpoint.
func registerPublic(api huma.API, gw boundary.Gateway, log logger.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "public-application-status",
		Method:      http.MethodGet,
		Path:        "/public/applications/{token}",
		Summary:     "Candidate application status",
		Errors:      []int{http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body PublicStatusResponse `json:"body"`
	}, error) {
		p, err := gw.PublicStatus(ctx, input.Token)
		switch {
		case errors.Is(err, domain.ErrExpired):
			return nil, newAPIError(http.StatusGone, "token_expired", "access token expired", nil)
		case errors.Is(err, domain.ErrNotFound):
			return nil, newAPIError(http.StatusNotFound, "not_found", "application not found", nil)
		case err != nil:
			log.WithError(err).Error("public status lookup failed", nil)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
		}
		return &struct {
			Body PublicStatusResponse `json:"body"`
		}{Body: p}, nil
	})
}

func registerCore(api huma.API, gw boundary.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "attach",
		Method:      http.MethodPost,
		Path:        "/pipelines/attach",
		Summary:     "Attach an application to a pipeline",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AttachRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := gw.Attach(ctx, input.Body.ApplicationID, input.Body.PipelineID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "emit-signal",
		Method:      http.MethodPost,
		Path:        "/signals",
		Summary:     "Record an evaluation signal and recompute the gate",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body EmitSignalRequest `json:"body"`
	}) (*struct {
		Body pipeline.GateState `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		gs, err := gw.EmitSignal(ctx, signals.RecordInput{
			ApplicationID: input.Body.ApplicationID,
			StageID:       input.Body.StageID,
			SourceID:      input.Body.SourceID,
			Disposition:   domain.Disposition(input.Body.Disposition),
			ActorID:       input.Body.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pipeline.GateState `json:"body"`
		}{Body: gs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-gate",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/evaluate",
		Summary:     "Recompute the current stage gate",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body pipeline.GateState `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		gs, err := gw.Recompute(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pipeline.GateState `json:"body"`
		}{Body: gs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-resolution",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/resolution",
		Summary:     "Apply a reviewer gate resolution",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ApplicationID string            `path:"application_id"`
		Body          ResolutionRequest `json:"body"`
	}) (*struct {
		Body domain.ApplicationPipelineState `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		actor := input.Body.ActorID
		if p, ok := principalFromContext(ctx); ok && actor == "" {
			actor = p.Subject
		}
		st, err := gw.ApplyResolution(ctx, input.ApplicationID, domain.Resolution(input.Body.Resolution), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApplicationPipelineState `json:"body"`
		}{Body: st}, nil
	})
}

func registerReads(api huma.API, gw boundary.Gateway, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/state",
		Summary:     "Current pipeline state",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body domain.ApplicationPipelineState `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		st, err := gw.State(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApplicationPipelineState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signals",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/signals",
		Summary:     "Signal history in emission order",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
		StageID       string `query:"stage_id"`
	}) (*struct {
		Body signalList `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := gw.Signals(ctx, input.ApplicationID, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Signal{}
		}
		return &struct {
			Body signalList `json:"body"`
		}{Body: signalList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/transitions",
		Summary:     "Committed pipeline transitions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body transitionList `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := gw.Transitions(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Transition{}
		}
		return &struct {
			Body transitionList `json:"body"`
		}{Body: transitionList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/actions",
		Summary:     "Side effects recorded for an application",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
		Status        string `query:"status" enum:"pending,in_flight,done,failed,dead"`
	}) (*struct {
		Body actionList `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := gw.Actions(ctx, input.ApplicationID, domain.ActionStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ActionRecord{}
		}
		return &struct {
			Body actionList `json:"body"`
		}{Body: actionList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		ctx, herr := serviceContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if _, err := boundary.Authorize(ctx, boundary.OpReadState); err != nil {
			return nil, handleError(err)
		}
		items, err := r.LatestEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventList{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerIntake(api huma.API, svc intake.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "create-job",
		Method:      http.MethodPost,
		Path:        "/jobs",
		Summary:     "Create a job bound to a pipeline",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		p, herr := requireService(ctx, boundary.ServiceIntake)
		if herr != nil {
			return nil, herr
		}
		job, err := svc.CreateJob(ctx, intake.CreateJobInput{Title: input.Body.Title, PipelineID: input.Body.PipelineID, ActorID: p.Subject})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-application",
		Method:      http.MethodPost,
		Path:        "/applications",
		Summary:     "Create an application and issue its candidate token",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateApplicationRequest `json:"body"`
	}) (*struct {
		Body intake.Created `json:"body"`
	}, error) {
		p, herr := requireService(ctx, boundary.ServiceIntake)
		if herr != nil {
			return nil, herr
		}
		created, err := svc.CreateApplication(ctx, intake.CreateApplicationInput{JobID: input.Body.JobID, CandidateID: input.Body.CandidateID, ActorID: p.Subject})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body intake.Created `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/withdraw",
		Summary:     "Withdraw an application",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if _, herr := requireService(ctx, boundary.ServiceIntake); herr != nil {
			return nil, herr
		}
		app, err := svc.Withdraw(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})
}

func registerRounds(root, api huma.API, svc interview.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "create-round",
		Method:      http.MethodPost,
		Path:        "/rounds",
		Summary:     "Plan an interview round",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateRoundRequest `json:"body"`
	}) (*struct {
		Body domain.Round `json:"body"`
	}, error) {
		p, herr := requireService(ctx, boundary.ServiceInterview)
		if herr != nil {
			return nil, herr
		}
		round, err := svc.CreateRound(ctx, interview.CreateRoundInput{
			ApplicationID:  input.Body.ApplicationID,
			StageID:        input.Body.StageID,
			EvaluationKind: input.Body.EvaluationKind,
			Interviewers:   input.Body.Interviewers,
			ActorID:        p.Subject,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Round `json:"body"`
		}{Body: round}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-round",
		Method:      http.MethodGet,
		Path:        "/rounds/{round_id}",
		Summary:     "Interview round with its feedback",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoundID string `path:"round_id"`
	}) (*struct {
		Body RoundResponse `json:"body"`
	}, error) {
		if _, herr := requireService(ctx, boundary.ServiceInterview); herr != nil {
			return nil, herr
		}
		round, err := svc.Round(ctx, input.RoundID)
		if err != nil {
			return nil, handleError(err)
		}
		fb, err := svc.Feedback(ctx, input.RoundID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoundResponse `json:"body"`
		}{Body: RoundResponse{Round: round, Feedback: append([]domain.Feedback{}, fb...)}}, nil
	})

	// Interviewers submit directly; the submitter is the authenticated subject.
	huma.Register(root, huma.Operation{
		OperationID: "submit-feedback",
		Method:      http.MethodPost,
		Path:        "/rounds/{round_id}/feedback",
		Summary:     "Submit interview feedback",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoundID string          `path:"round_id"`
		Body    FeedbackRequest `json:"body"`
	}) (*struct {
		Body interview.FeedbackResult `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		res, err := svc.SubmitFeedback(ctx, interview.SubmitFeedbackInput{
			RoundID:     input.RoundID,
			SubmittedBy: p.Subject,
			Decision:    domain.Decision(input.Body.Decision),
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body interview.FeedbackResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.AllowActorHeader {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a service token for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		token, err := SignToken(authCfg.JWTSecret, subject, serviceOf(input.Body.Service, subject), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	_ = json.Unmarshal([]byte(evt.Payload), &payload)
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
