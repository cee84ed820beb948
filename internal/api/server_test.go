package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/teardown/internal/disclosure"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/review"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/vision"
)

type fakeResolver struct {
	resp *model.Response
	got  model.IdentificationRequest
}

func (f *fakeResolver) Resolve(_ context.Context, req model.IdentificationRequest) *model.Response {
	f.got = req
	return f.resp
}

type fakeStages struct {
	device     *disclosure.DeviceStage
	components *disclosure.ComponentsStage
	detail     *disclosure.DetailStage
	err        error
}

func (f *fakeStages) IdentifyDevice(context.Context, model.IdentificationRequest) (*disclosure.DeviceStage, error) {
	return f.device, f.err
}

func (f *fakeStages) ListComponents(context.Context, disclosure.StageRequest) (*disclosure.ComponentsStage, error) {
	return f.components, f.err
}

func (f *fakeStages) ComponentDetail(context.Context, disclosure.StageRequest) (*disclosure.DetailStage, error) {
	return f.detail, f.err
}

type fakeReviews struct {
	sub      *model.Submission
	subs     []model.Submission
	err      error
	filter   store.SubmissionFilter
	reviewer string
}

func (f *fakeReviews) Submit(context.Context, review.SubmitInput) (*model.Submission, error) {
	return f.sub, f.err
}

func (f *fakeReviews) Get(context.Context, string) (*model.Submission, error) { return f.sub, f.err }

func (f *fakeReviews) List(_ context.Context, filter store.SubmissionFilter) ([]model.Submission, error) {
	f.filter = filter
	return f.subs, f.err
}

func (f *fakeReviews) Approve(_ context.Context, _, reviewer, _ string) (*model.Submission, bool, error) {
	f.reviewer = reviewer
	return f.sub, true, f.err
}

func (f *fakeReviews) Reject(_ context.Context, _, reviewer, _ string) (*model.Submission, error) {
	f.reviewer = reviewer
	return f.sub, f.err
}

func (f *fakeReviews) RequestInfo(_ context.Context, _, reviewer, _ string) (*model.Submission, error) {
	f.reviewer = reviewer
	return f.sub, f.err
}

func (f *fakeReviews) Resubmit(context.Context, string, model.Result) (*model.Submission, error) {
	return f.sub, f.err
}

type fakeLogs struct {
	logs   []model.ScanLog
	filter store.ScanLogFilter
}

func (f *fakeLogs) ListScanLogs(_ context.Context, filter store.ScanLogFilter) ([]model.ScanLog, error) {
	f.filter = filter
	return f.logs, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var apiNow = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.ErrorNone, http.StatusOK},
		{model.ErrorParseFailure, http.StatusOK},
		{model.ErrorInvalidRequest, http.StatusBadRequest},
		{model.ErrorRateLimited, http.StatusTooManyRequests},
		{model.ErrorProviderExhausted, http.StatusPaymentRequired},
		{model.ErrorTimeout, http.StatusGatewayTimeout},
		{model.ErrorNetwork, http.StatusBadGateway},
		{model.ErrorProvider, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name   string
		kind   model.ErrorKind
		status int
	}{
		{"success", model.ErrorNone, http.StatusOK},
		{"parse failure", model.ErrorParseFailure, http.StatusOK},
		{"rate limited", model.ErrorRateLimited, http.StatusTooManyRequests},
		{"exhausted", model.ErrorProviderExhausted, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{resp: &model.Response{Result: model.EmptyResult(tt.kind.UserMessage()), Tier: model.TierAI, ErrorKind: tt.kind}}
			h := New(Deps{Resolver: res}).Handler()

			rec := do(t, h, http.MethodPost, "/v1/identify", model.IdentificationRequest{
				Images: []model.Image{{Base64: "abc"}}, Hint: "router", UserID: "u1",
			})
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, []any{}, body["items"])
			assert.Equal(t, "router", res.got.Hint)
		})
	}
}

func TestIdentify_BadRequests(t *testing.T) {
	h := New(Deps{Resolver: &fakeResolver{}}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/identify", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/identify", map[string]any{"images": []any{}, "provider": "bard"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStages(t *testing.T) {
	id := model.DeviceIdentity{DeviceName: "Router", Brand: "Netgear", Model: "R7000"}
	stages := &fakeStages{
		device:     &disclosure.DeviceStage{Fingerprint: "fp", Identity: id, Tier: model.TierAI},
		components: &disclosure.ComponentsStage{Identity: id, Components: []model.ComponentSummary{{Name: "SoC"}}, Tier: model.TierCache},
		detail:     &disclosure.DetailStage{Identity: id, Component: model.Item{ComponentName: "SoC"}, Tier: model.TierAI},
	}
	h := New(Deps{Stages: stages}).Handler()

	rec := do(t, h, http.MethodPost, "/v1/identify/device", model.IdentificationRequest{Images: []model.Image{{Base64: "x"}}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fingerprint":"fp"`)

	rec = do(t, h, http.MethodPost, "/v1/identify/components", disclosure.StageRequest{Fingerprint: "fp", Identity: id})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"SoC"`)

	rec = do(t, h, http.MethodPost, "/v1/identify/components/detail", disclosure.StageRequest{Fingerprint: "fp", Component: "SoC"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"component_name":"SoC"`)
}

func TestStages_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   model.ErrorKind
	}{
		{"gated", eris.Wrap(disclosure.ErrStageGated, "no list"), http.StatusConflict, ""},
		{"bad image", eris.Wrap(fingerprint.ErrInvalidImage, "empty"), http.StatusBadRequest, model.ErrorInvalidRequest},
		{"rate limited", &vision.ProviderError{Provider: model.ProviderOpenAI, Kind: model.ErrorRateLimited}, http.StatusTooManyRequests, model.ErrorRateLimited},
		{"parse failure", &vision.ParseFailure{Raw: "??", Reason: "no json"}, http.StatusBadGateway, model.ErrorParseFailure},
		{"timeout", &vision.ProviderError{Provider: model.ProviderGemini, Kind: model.ErrorTimeout}, http.StatusGatewayTimeout, model.ErrorTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Deps{Stages: &fakeStages{err: tt.err}}).Handler()
			rec := do(t, h, http.MethodPost, "/v1/identify/components/detail", disclosure.StageRequest{Component: "x"})
			assert.Equal(t, tt.status, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.kind, body.ErrorKind)
		})
	}
}

func TestSubmissions(t *testing.T) {
	sub := &model.Submission{ID: "s1", Status: model.SubmissionPending, Type: model.SubmissionNewDevice}
	reviews := &fakeReviews{sub: sub, subs: []model.Submission{*sub}}
	h := New(Deps{Reviews: reviews}).Handler()

	rec := do(t, h, http.MethodPost, "/v1/submissions", review.SubmitInput{Type: model.SubmissionNewDevice})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/submissions?status=pending&limit=5&offset=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.SubmissionPending, reviews.filter.Status)
	assert.Equal(t, 5, reviews.filter.Limit)
	assert.Equal(t, 10, reviews.filter.Offset)

	rec = do(t, h, http.MethodGet, "/v1/submissions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/submissions/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"s1"`)

	rec = do(t, h, http.MethodPost, "/v1/submissions/s1/approve", map[string]string{"reviewer": "rev1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"device_created":true`)
	assert.Equal(t, "rev1", reviews.reviewer)

	rec = do(t, h, http.MethodPost, "/v1/submissions/s1/reject", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/submissions/s1/reject", map[string]string{"reviewer": "rev2", "reason": "dup"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rev2", reviews.reviewer)

	rec = do(t, h, http.MethodPost, "/v1/submissions/s1/request-info", map[string]string{"reviewer": "rev3"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/submissions/s1/resubmit", map[string]any{"raw_result": model.EmptyResult("")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmissions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", eris.Wrap(store.ErrNotFound, "get"), http.StatusNotFound},
		{"transition", eris.Wrap(model.ErrInvalidTransition, "approve from rejected"), http.StatusConflict},
		{"invalid", eris.Wrap(review.ErrInvalidSubmission, "no device"), http.StatusBadRequest},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Deps{Reviews: &fakeReviews{err: tt.err}}).Handler()
			rec := do(t, h, http.MethodPost, "/v1/submissions/s1/approve", map[string]string{"reviewer": "rev"})
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestStats(t *testing.T) {
	logs := &fakeLogs{logs: []model.ScanLog{
		{Tier: model.TierCache, Success: true, UserID: "u1", CreatedAt: apiNow.Add(-time.Hour)},
		{Tier: model.TierAI, Provider: model.ProviderOpenAI, Success: true, CostUSD: 0.02, UserID: "u1", CreatedAt: apiNow.Add(-30 * time.Minute)},
	}}
	h := New(Deps{ScanLogs: logs, Now: func() time.Time { return apiNow }}).Handler()

	rec := do(t, h, http.MethodGet, "/v1/stats/rollup?bucket=day&hours=48", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apiNow.Add(-48*time.Hour), logs.filter.Since)
	var body struct {
		Bucket  string           `json:"bucket"`
		Buckets []map[string]any `json:"buckets"`
		Summary map[string]any   `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "day", body.Bucket)
	assert.Len(t, body.Buckets, 1)
	assert.InDelta(t, 0.5, body.Summary["cache_hit_rate"], 1e-9)

	rec = do(t, h, http.MethodGet, "/v1/stats/rollup?bucket=week", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/stats/ledger?hours=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/stats/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apiNow.Add(-24*time.Hour), logs.filter.Since)
	assert.Contains(t, rec.Body.String(), `"key":"u1"`)
}

func TestHealth(t *testing.T) {
	h := New(Deps{Health: fakePinger{}, Breakers: func() map[string]string { return map[string]string{"openai": "closed"} }}).Handler()
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"openai":"closed"`)

	h = New(Deps{Health: fakePinger{err: errors.New("down")}}).Handler()
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestRoutesDisabledWithoutDeps(t *testing.T) {
	h := New(Deps{}).Handler()
	rec := do(t, h, http.MethodPost, "/v1/identify", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	h := New(Deps{AllowedOrigins: []string{"https://app.example.com"}}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
