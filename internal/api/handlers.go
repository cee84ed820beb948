package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/disclosure"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/review"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/telemetry"
	"github.com/sells-group/teardown/internal/vision"
)

const maxStatsHours = 24 * 90

// StatusFor maps a failure kind to the HTTP status of an identify response.
// A parse failure is still a well-formed answer.
func StatusFor(kind model.ErrorKind) int {
	switch kind {
	case model.ErrorNone, model.ErrorParseFailure:
		return http.StatusOK
	case model.ErrorInvalidRequest:
		return http.StatusBadRequest
	case model.ErrorRateLimited:
		return http.StatusTooManyRequests
	case model.ErrorProviderExhausted:
		return http.StatusPaymentRequired
	case model.ErrorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	var req model.IdentificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Provider != "" && !req.Provider.Valid() {
		respondError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	resp := s.deps.Resolver.Resolve(r.Context(), req)
	respondJSON(w, StatusFor(resp.ErrorKind), resp)
}

func (s *Server) identifyDevice(w http.ResponseWriter, r *http.Request) {
	var req model.IdentificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Provider != "" && !req.Provider.Valid() {
		respondError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	out, err := s.deps.Stages.IdentifyDevice(r.Context(), req)
	if err != nil {
		s.stageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	var req disclosure.StageRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.deps.Stages.ListComponents(r.Context(), req)
	if err != nil {
		s.stageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) componentDetail(w http.ResponseWriter, r *http.Request) {
	var req disclosure.StageRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.deps.Stages.ComponentDetail(r.Context(), req)
	if err != nil {
		s.stageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) stageError(w http.ResponseWriter, err error) {
	switch {
	case disclosure.IsGated(err):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fingerprint.ErrInvalidImage):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: model.ErrorInvalidRequest.UserMessage(), ErrorKind: model.ErrorInvalidRequest})
	default:
		kind := vision.KindOf(err)
		status := StatusFor(kind)
		if kind == model.ErrorParseFailure {
			status = http.StatusBadGateway
		}
		s.log.Warn("stage failed", zap.String("error_kind", string(kind)), zap.Error(err))
		respondJSON(w, status, errorBody{Error: kind.UserMessage(), ErrorKind: kind})
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var in review.SubmitInput
	if !s.decode(w, r, &in) {
		return
	}
	sub, err := s.deps.Reviews.Submit(r.Context(), in)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SubmissionFilter{
		Status: model.SubmissionStatus(q.Get("status")),
		UserID: q.Get("user_id"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	subs, err := s.deps.Reviews.List(r.Context(), filter)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	respondJSON(w, http.StatusOK, subs)
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Reviews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type reviewRequest struct {
	Reviewer string       `json:"reviewer"`
	Notes    string       `json:"notes,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Result   model.Result `json:"raw_result"`
}

func (s *Server) approveSubmission(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewer is required")
		return
	}
	sub, created, err := s.deps.Reviews.Approve(r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Notes)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"submission": sub, "device_created": created})
}

func (s *Server) rejectSubmission(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewer is required")
		return
	}
	sub, err := s.deps.Reviews.Reject(r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Reason)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) requestInfo(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewer is required")
		return
	}
	sub, err := s.deps.Reviews.RequestInfo(r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Notes)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) resubmit(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.deps.Reviews.Resubmit(r.Context(), chi.URLParam(r, "id"), req.Result)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) reviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "submission not found")
	case errors.Is(err, model.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrInvalidSubmission):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("review request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) rollup(w http.ResponseWriter, r *http.Request) {
	bucket, err := telemetry.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, ok := s.window(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"bucket":  bucket,
		"buckets": telemetry.Rollup(logs, bucket),
		"summary": telemetry.Summarize(logs),
	})
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	logs, ok := s.window(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, telemetry.Ledger(logs))
}

// window loads the scan logs for the ?hours= lookback, 24 by default.
func (s *Server) window(w http.ResponseWriter, r *http.Request) ([]model.ScanLog, bool) {
	hours, err := intParam(r.URL.Query().Get("hours"), 24)
	if err != nil || hours <= 0 || hours > maxStatsHours {
		respondError(w, http.StatusBadRequest, "hours must be between 1 and 2160")
		return nil, false
	}
	logs, err := s.deps.ScanLogs.ListScanLogs(r.Context(), store.ScanLogFilter{
		Since: s.deps.Now().UTC().Add(-time.Duration(hours) * time.Hour),
	})
	if err != nil {
		s.log.Error("list scan logs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return logs, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
