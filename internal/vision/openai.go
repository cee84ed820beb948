package vision

import (
	"context"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/pkg/openai"
)

// OpenAI adapts the chat completions API to VisionProvider.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider for the given model.
func NewOpenAI(client openai.Client, modelID string) *OpenAI {
	return &OpenAI{client: client, model: modelID}
}

// Name implements VisionProvider.
func (o *OpenAI) Name() model.ProviderName { return model.ProviderOpenAI }

// Model implements VisionProvider.
func (o *OpenAI) Model() string { return o.model }

// Complete implements VisionProvider.
func (o *OpenAI) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	user := make([]openai.ContentPart, 0, len(p.Images)+1)
	for _, img := range p.Images {
		user = append(user, openai.ImagePart(img.DataURI()))
	}
	user = append(user, openai.TextPart(p.Text))

	resp, err := o.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          o.model,
		MaxTokens:      p.MaxTokens,
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
		Messages: []openai.Message{
			{Role: "system", Content: []openai.ContentPart{openai.TextPart(p.System)}},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, Classify(model.ProviderOpenAI, openai.StatusCode(err), err)
	}

	return &Completion{
		Text:         resp.Text(),
		Model:        o.model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
