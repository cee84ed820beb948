// Package vision is the paid resolution tier: it sends photos to a hosted
// vision model and turns the reply into a validated result.
package vision

import (
	"context"

	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
)

// Prompt is one request to a vision model.
type Prompt struct {
	System    string
	Text      string
	Images    []fingerprint.Normalized
	MaxTokens int64
}

// Completion is the raw model reply plus token accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// VisionProvider is a hosted vision model. Implementations return
// *ProviderError for failed calls.
type VisionProvider interface {
	Name() model.ProviderName
	Model() string
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}
