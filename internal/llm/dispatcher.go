package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"agentdeck/internal/capability"
)

// Outbound throttle per provider. Vendor-side limits are stricter for some
// accounts; this only guards against tight request loops.
const (
	providerRate  = rate.Limit(5)
	providerBurst = 10
)

// Endpoint configures one provider's client.
type Endpoint struct {
	ID         capability.ProviderID
	BaseURL    string
	ImageModel string
	Local      bool
}

// defaultEndpoints fills in any provider the catalog does not mention, so
// the dispatch table always covers the full enum.
var defaultEndpoints = map[capability.ProviderID]Endpoint{
	capability.ProviderGemini:     {ID: capability.ProviderGemini, BaseURL: "https://generativelanguage.googleapis.com"},
	capability.ProviderOpenAI:     {ID: capability.ProviderOpenAI, BaseURL: "https://api.openai.com/v1"},
	capability.ProviderAnthropic:  {ID: capability.ProviderAnthropic, BaseURL: "https://api.anthropic.com"},
	capability.ProviderMistral:    {ID: capability.ProviderMistral, BaseURL: "https://api.mistral.ai/v1"},
	capability.ProviderGroq:       {ID: capability.ProviderGroq, BaseURL: "https://api.groq.com/openai/v1"},
	capability.ProviderDeepSeek:   {ID: capability.ProviderDeepSeek, BaseURL: "https://api.deepseek.com/v1"},
	capability.ProviderXAI:        {ID: capability.ProviderXAI, BaseURL: "https://api.x.ai/v1"},
	capability.ProviderOpenRouter: {ID: capability.ProviderOpenRouter, BaseURL: "https://openrouter.ai/api/v1"},
	capability.ProviderCohere:     {ID: capability.ProviderCohere, BaseURL: "https://api.cohere.com"},
	capability.ProviderOllama:     {ID: capability.ProviderOllama, BaseURL: "http://localhost:11434/v1", Local: true},
}

// Dispatcher routes uniform operations to vendor clients through a static
// table. Operations a resolved client lacks come back as structured
// unsupported results; vendor failures come back as error-string results.
// Nothing here panics into the caller and nothing retries.
type Dispatcher struct {
	clients  map[capability.ProviderID]Client
	limiters map[capability.ProviderID]*rate.Limiter
	mu       sync.RWMutex
}

// NewDispatcher builds the dispatch table from catalog endpoints, filling
// gaps from defaults so every provider enum value resolves.
func NewDispatcher(endpoints []Endpoint) *Dispatcher {
	d := &Dispatcher{
		clients:  make(map[capability.ProviderID]Client, len(defaultEndpoints)),
		limiters: make(map[capability.ProviderID]*rate.Limiter, len(defaultEndpoints)),
	}

	merged := make(map[capability.ProviderID]Endpoint, len(defaultEndpoints))
	for id, ep := range defaultEndpoints {
		merged[id] = ep
	}
	for _, ep := range endpoints {
		if !capability.ValidProvider(ep.ID) {
			continue
		}
		def := merged[ep.ID]
		if ep.BaseURL == "" {
			ep.BaseURL = def.BaseURL
		}
		if ep.ImageModel == "" {
			ep.ImageModel = def.ImageModel
		}
		merged[ep.ID] = ep
	}

	for id, ep := range merged {
		d.clients[id] = buildClient(ep)
		d.limiters[id] = rate.NewLimiter(providerRate, providerBurst)
	}
	return d
}

func buildClient(ep Endpoint) Client {
	switch ep.ID {
	case capability.ProviderGemini:
		return NewGeminiClient(ep.BaseURL, ep.ImageModel)
	case capability.ProviderOpenAI:
		return NewOpenAIClient(ep.BaseURL, ep.ImageModel)
	case capability.ProviderXAI:
		return NewXAIClient(ep.BaseURL)
	case capability.ProviderAnthropic:
		return NewAnthropicClient(ep.BaseURL)
	case capability.ProviderCohere:
		return NewCohereClient(ep.BaseURL)
	default:
		return NewOpenAICompatClient(ep.ID, ep.BaseURL, ep.Local)
	}
}

// Register swaps in a client, replacing the built one. Tests use this to
// install stand-ins; the catalog reload path uses it to apply new base URLs.
func (d *Dispatcher) Register(client Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[client.Name()] = client
	if _, ok := d.limiters[client.Name()]; !ok {
		d.limiters[client.Name()] = rate.NewLimiter(providerRate, providerBurst)
	}
}

// ApplyEndpoints rebuilds the clients for the given endpoints, filling
// missing fields from defaults. Providers not mentioned keep their current
// client. Called on catalog hot reload.
func (d *Dispatcher) ApplyEndpoints(endpoints []Endpoint) {
	for _, ep := range endpoints {
		if !capability.ValidProvider(ep.ID) {
			continue
		}
		if def, ok := defaultEndpoints[ep.ID]; ok {
			if ep.BaseURL == "" {
				ep.BaseURL = def.BaseURL
			}
			if ep.ImageModel == "" {
				ep.ImageModel = def.ImageModel
			}
		}
		d.Register(buildClient(ep))
	}
}

// Supports reports whether the resolved client implements op. Callers use
// this to pick a degraded path up front instead of matching on the
// unsupported-operation error text.
func (d *Dispatcher) Supports(provider capability.ProviderID, op string) bool {
	client := d.Resolve(provider)
	switch op {
	case OpGenerateContent:
		return true
	case OpGenerateContentStream:
		_, ok := client.(Streamer)
		return ok
	case OpGenerateContentWithSearch:
		_, ok := client.(Searcher)
		return ok
	case OpGenerateImage:
		_, ok := client.(ImageGenerator)
		return ok
	case OpEditImage:
		_, ok := client.(ImageEditor)
		return ok
	case OpListModels:
		_, ok := client.(ModelLister)
		return ok
	}
	return false
}

// Resolve returns the client for id, falling back to the default provider
// when id is unknown. Lookup never fails: the default is always registered.
func (d *Dispatcher) Resolve(id capability.ProviderID) Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.clients[id]; ok {
		return c
	}
	return d.clients[capability.DefaultProvider]
}

func (d *Dispatcher) wait(ctx context.Context, id capability.ProviderID) error {
	d.mu.RLock()
	limiter := d.limiters[id]
	d.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (d *Dispatcher) GenerateContent(ctx context.Context, provider capability.ProviderID, credential string, req Request) Result {
	client := d.Resolve(provider)
	if err := d.wait(ctx, client.Name()); err != nil {
		return Result{Err: err.Error()}
	}
	res, err := client.GenerateContent(ctx, credential, req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return res
}

// GenerateContentStream returns a finite chunk sequence. Pre-flight
// failures (unsupported operation, limiter, request build) surface as a
// single error chunk, so callers always get a consumable channel.
func (d *Dispatcher) GenerateContentStream(ctx context.Context, provider capability.ProviderID, credential string, req Request) <-chan StreamChunk {
	client := d.Resolve(provider)
	streamer, ok := client.(Streamer)
	if !ok {
		return errorStream(fmt.Sprintf("%s is not supported by %s", OpGenerateContentStream, client.Name()))
	}
	if err := d.wait(ctx, client.Name()); err != nil {
		return errorStream(err.Error())
	}
	ch, err := streamer.GenerateContentStream(ctx, credential, req)
	if err != nil {
		return errorStream(err.Error())
	}
	return ch
}

func (d *Dispatcher) GenerateContentWithSearch(ctx context.Context, provider capability.ProviderID, credential string, req Request) Result {
	client := d.Resolve(provider)
	searcher, ok := client.(Searcher)
	if !ok {
		return Unsupported(OpGenerateContentWithSearch, client.Name())
	}
	if err := d.wait(ctx, client.Name()); err != nil {
		return Result{Err: err.Error()}
	}
	res, err := searcher.GenerateContentWithSearch(ctx, credential, req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return res
}

func (d *Dispatcher) GenerateImage(ctx context.Context, provider capability.ProviderID, credential string, prompt string, opts ImageOptions) Result {
	client := d.Resolve(provider)
	generator, ok := client.(ImageGenerator)
	if !ok {
		return Unsupported(OpGenerateImage, client.Name())
	}
	if err := d.wait(ctx, client.Name()); err != nil {
		return Result{Err: err.Error()}
	}
	res, err := generator.GenerateImage(ctx, credential, prompt, opts)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return res
}

func (d *Dispatcher) EditImage(ctx context.Context, provider capability.ProviderID, credential string, prompt string, image ImagePart, opts ImageOptions) Result {
	client := d.Resolve(provider)
	editor, ok := client.(ImageEditor)
	if !ok {
		return Unsupported(OpEditImage, client.Name())
	}
	if err := d.wait(ctx, client.Name()); err != nil {
		return Result{Err: err.Error()}
	}
	res, err := editor.EditImage(ctx, credential, prompt, image, opts)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return res
}

func (d *Dispatcher) ListModels(ctx context.Context, provider capability.ProviderID, credential string) ModelsResult {
	client := d.Resolve(provider)
	lister, ok := client.(ModelLister)
	if !ok {
		return ModelsResult{Err: fmt.Sprintf("%s is not supported by %s", OpListModels, client.Name())}
	}
	if err := d.wait(ctx, client.Name()); err != nil {
		return ModelsResult{Err: err.Error()}
	}
	models, err := lister.ListModels(ctx, credential)
	if err != nil {
		return ModelsResult{Err: err.Error()}
	}
	return ModelsResult{Models: models}
}

func errorStream(msg string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Err: msg}
	close(ch)
	return ch
}
