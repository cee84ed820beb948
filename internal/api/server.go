// Package api exposes the resolution engine, the disclosure stages, the
// review workflow and telemetry over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/disclosure"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/review"
	"github.com/sells-group/teardown/internal/store"
)

// Resolver answers full identifications.
type Resolver interface {
	Resolve(ctx context.Context, req model.IdentificationRequest) *model.Response
}

// Stages runs progressive disclosure.
type Stages interface {
	IdentifyDevice(ctx context.Context, req model.IdentificationRequest) (*disclosure.DeviceStage, error)
	ListComponents(ctx context.Context, req disclosure.StageRequest) (*disclosure.ComponentsStage, error)
	ComponentDetail(ctx context.Context, req disclosure.StageRequest) (*disclosure.DetailStage, error)
}

// Reviews is the submission workflow.
type Reviews interface {
	Submit(ctx context.Context, in review.SubmitInput) (*model.Submission, error)
	Get(ctx context.Context, id string) (*model.Submission, error)
	List(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
	Approve(ctx context.Context, id, reviewer, notes string) (*model.Submission, bool, error)
	Reject(ctx context.Context, id, reviewer, reason string) (*model.Submission, error)
	RequestInfo(ctx context.Context, id, reviewer, notes string) (*model.Submission, error)
	Resubmit(ctx context.Context, id string, result model.Result) (*model.Submission, error)
}

// ScanLogs reads telemetry rows.
type ScanLogs interface {
	ListScanLogs(ctx context.Context, filter store.ScanLogFilter) ([]model.ScanLog, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. Nil collaborators disable their
// routes.
type Deps struct {
	Resolver Resolver
	Stages   Stages
	Reviews  Reviews
	ScanLogs ScanLogs
	Health   Pinger
	// Breakers reports circuit breaker states for /health.
	Breakers func() map[string]string
	// AllowedOrigins configures CORS. Empty allows any origin.
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies. Zero means 32 MiB.
	MaxBodyBytes int64
	Now          func() time.Time
}

// Server routes HTTP requests.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 32 << 20
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, log: zap.L().With(zap.String("component", "api"))}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Resolver != nil {
			r.Post("/identify", s.identify)
		}
		if s.deps.Stages != nil {
			r.Post("/identify/device", s.identifyDevice)
			r.Post("/identify/components", s.listComponents)
			r.Post("/identify/components/detail", s.componentDetail)
		}
		if s.deps.Reviews != nil {
			r.Route("/submissions", func(r chi.Router) {
				r.Post("/", s.submit)
				r.Get("/", s.listSubmissions)
				r.Get("/{id}", s.getSubmission)
				r.Post("/{id}/approve", s.approveSubmission)
				r.Post("/{id}/reject", s.rejectSubmission)
				r.Post("/{id}/request-info", s.requestInfo)
				r.Post("/{id}/resubmit", s.resubmit)
			})
		}
		if s.deps.ScanLogs != nil {
			r.Get("/stats/rollup", s.rollup)
			r.Get("/stats/ledger", s.ledger)
		}
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			body["status"] = "degraded"
			body["store"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.Breakers != nil {
		body["breakers"] = s.deps.Breakers()
	}
	respondJSON(w, status, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

type errorBody struct {
	Error     string          `json:"error"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}
