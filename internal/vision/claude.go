package vision

import (
	"context"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/pkg/anthropic"
)

// Claude adapts the Anthropic messages API to VisionProvider.
type Claude struct {
	client anthropic.Client
	model  string
}

// NewClaude creates a Claude provider for the given model.
func NewClaude(client anthropic.Client, modelID string) *Claude {
	return &Claude{client: client, model: modelID}
}

// Name implements VisionProvider.
func (c *Claude) Name() model.ProviderName { return model.ProviderClaude }

// Model implements VisionProvider.
func (c *Claude) Model() string { return c.model }

// Complete implements VisionProvider.
func (c *Claude) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	images := make([]anthropic.Image, len(p.Images))
	for i, img := range p.Images {
		images[i] = anthropic.Image{MediaType: img.MimeType, Data: img.Base64()}
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: p.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(p.System),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: p.Text,
			Images:  images,
		}},
	})
	if err != nil {
		return nil, Classify(model.ProviderClaude, anthropic.StatusCode(err), err)
	}

	return &Completion{
		Text:         resp.Text(),
		Model:        c.model,
		InputTokens:  resp.Usage.BilledInput(),
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
