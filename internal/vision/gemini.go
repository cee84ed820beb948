package vision

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/teardown/internal/model"
)

type generateFunc func(ctx context.Context, system string, maxTokens int64, parts []genai.Part) (*genai.GenerateContentResponse, error)

// Gemini adapts the Google generative AI SDK to VisionProvider.
type Gemini struct {
	client   *genai.Client
	model    string
	generate generateFunc
}

// NewGemini creates a Gemini provider. Close releases the underlying client.
func NewGemini(ctx context.Context, apiKey, modelID string) (*Gemini, error) {
	if apiKey == "" {
		return nil, eris.New("vision: gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "vision: create gemini client")
	}
	g := &Gemini{client: client, model: modelID}
	g.generate = g.sdkGenerate
	return g, nil
}

// Close closes the client connection.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Name implements VisionProvider.
func (g *Gemini) Name() model.ProviderName { return model.ProviderGemini }

// Model implements VisionProvider.
func (g *Gemini) Model() string { return g.model }

// Complete implements VisionProvider.
func (g *Gemini) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	parts := make([]genai.Part, 0, len(p.Images)+1)
	for _, img := range p.Images {
		parts = append(parts, genai.ImageData(strings.TrimPrefix(img.MimeType, "image/"), img.Data))
	}
	parts = append(parts, genai.Text(p.Text))

	resp, err := g.generate(ctx, p.System, p.MaxTokens, parts)
	if err != nil {
		return nil, Classify(model.ProviderGemini, geminiStatus(err), err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text.WriteString(string(txt))
			}
		}
	}
	out := &Completion{Text: text.String(), Model: g.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (g *Gemini) sdkGenerate(ctx context.Context, system string, maxTokens int64, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(g.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	m.ResponseMIMEType = "application/json"
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}
	return m.GenerateContent(ctx, parts...)
}

// geminiStatus extracts an HTTP status from SDK errors, or 0.
func geminiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() > 0 {
		return coded.HTTPCode()
	}
	return 0
}
