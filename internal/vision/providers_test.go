package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/pkg/anthropic"
	"github.com/sells-group/teardown/pkg/openai"
)

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o-2024-08-06","choices":[{"index":0,"message":{"role":"assistant","content":"{\"parent_object\":\"Toaster\",\"items\":[]}"}}],
			"usage":{"prompt_tokens":1200,"completion_tokens":40}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(openai.NewClient("k", openai.WithBaseURL(srv.URL)), "gpt-4o")
	comp, err := p.Complete(context.Background(), Prompt{System: "sys", Text: "what?", Images: testImages, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"parent_object":"Toaster","items":[]}`, comp.Text)
	assert.Equal(t, "gpt-4o", comp.Model)
	assert.Equal(t, int64(1200), comp.InputTokens)
	assert.Equal(t, int64(40), comp.OutputTokens)

	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, "json_object", body["response_format"].(map[string]any)["type"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	user := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, user, 2)
	url := user[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, testImages[0].DataURI(), url)
}

func TestOpenAI_CompleteClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   model.ErrorKind
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached for gpt-4o"}}`, model.ErrorRateLimited},
		{http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","code":"insufficient_quota"}}`, model.ErrorProviderExhausted},
		{http.StatusInternalServerError, `{"error":"boom"}`, model.ErrorProvider},
		{http.StatusGatewayTimeout, ``, model.ErrorTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewOpenAI(openai.NewClient("k", openai.WithBaseURL(srv.URL)), "gpt-4o")
			_, err := p.Complete(context.Background(), Prompt{Text: "x"})
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestClaude_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": `{"parent_object":"Drone","items":[]}`}},
			"usage":       map[string]any{"input_tokens": 1000, "output_tokens": 80, "cache_read_input_tokens": 500},
		})
	}))
	defer srv.Close()

	p := NewClaude(anthropic.NewClient("k", option.WithBaseURL(srv.URL)), "claude-sonnet-4-5-20250929")
	comp, err := p.Complete(context.Background(), Prompt{System: SystemPrompt, Text: "what?", Images: testImages, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"parent_object":"Drone","items":[]}`, comp.Text)
	assert.Equal(t, int64(1500), comp.InputTokens)
	assert.Equal(t, int64(80), comp.OutputTokens)
	assert.Equal(t, model.ProviderClaude, p.Name())

	msgs := body["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]any)["type"])
	source := content[0].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, testImages[0].Base64(), source["data"])
}

func TestClaude_CompleteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`))
	}))
	defer srv.Close()

	p := NewClaude(anthropic.NewClient("k", option.WithBaseURL(srv.URL)), "claude-sonnet-4-5-20250929")
	_, err := p.Complete(context.Background(), Prompt{Text: "x", MaxTokens: 10})
	assert.Equal(t, model.ErrorRateLimited, KindOf(err))
}

func TestGemini_Complete(t *testing.T) {
	var gotSystem string
	var gotParts []genai.Part
	g := &Gemini{model: "gemini-2.0-flash"}
	g.generate = func(_ context.Context, system string, maxTokens int64, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		gotSystem = system
		gotParts = parts
		assert.Equal(t, int64(256), maxTokens)
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"parent_object":`), genai.Text(`"Fan","items":[]}`)}},
			}},
			UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 300, CandidatesTokenCount: 25},
		}, nil
	}

	comp, err := g.Complete(context.Background(), Prompt{System: "sys", Text: "what?", Images: testImages, MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, `{"parent_object":"Fan","items":[]}`, comp.Text)
	assert.Equal(t, int64(300), comp.InputTokens)
	assert.Equal(t, int64(25), comp.OutputTokens)
	assert.Equal(t, "sys", gotSystem)

	require.Len(t, gotParts, 2)
	blob, ok := gotParts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.Equal(t, genai.Text("what?"), gotParts[1])
	assert.NoError(t, g.Close())
}

func TestGemini_CompleteClassifiesAPIError(t *testing.T) {
	g := &Gemini{model: "gemini-2.0-flash"}
	g.generate = func(context.Context, string, int64, []genai.Part) (*genai.GenerateContentResponse, error) {
		return nil, &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Resource has been exhausted (e.g. check quota)."}
	}
	_, err := g.Complete(context.Background(), Prompt{Text: "x"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, model.ProviderGemini, pe.Provider)
}

func TestGemini_EmptyCandidates(t *testing.T) {
	g := &Gemini{model: "gemini-2.0-flash"}
	g.generate = func(context.Context, string, int64, []genai.Part) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}
	comp, err := g.Complete(context.Background(), Prompt{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, comp.Text)
	assert.Zero(t, comp.InputTokens)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "gemini-2.0-flash")
	assert.Error(t, err)
}
