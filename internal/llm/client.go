package llm

import (
	"context"

	"agentdeck/internal/capability"
)

// Client is the minimum surface every vendor client provides. Credentials
// are opaque strings passed per call (API key, or endpoint URL for local
// providers) because they differ per user; clients themselves are stateless
// and shared.
type Client interface {
	Name() capability.ProviderID
	GenerateContent(ctx context.Context, credential string, req Request) (Result, error)
}

// Streamer is implemented by clients that support streaming generation.
// The returned channel is finite and non-restartable: it delivers zero or
// more chunks, possibly one trailing error chunk, then closes.
type Streamer interface {
	GenerateContentStream(ctx context.Context, credential string, req Request) (<-chan StreamChunk, error)
}

// Searcher is implemented by clients with native search-grounded
// generation.
type Searcher interface {
	GenerateContentWithSearch(ctx context.Context, credential string, req Request) (Result, error)
}

// ImageGenerator is implemented by clients that can create images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, credential string, prompt string, opts ImageOptions) (Result, error)
}

// ImageEditor is implemented by clients that can edit an existing image.
type ImageEditor interface {
	EditImage(ctx context.Context, credential string, prompt string, image ImagePart, opts ImageOptions) (Result, error)
}

// ModelLister is implemented by clients that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context, credential string) ([]ModelInfo, error)
}
