package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agentdeck/internal/capability"
)

// fakeClient implements only the base Client interface.
type fakeClient struct {
	name   capability.ProviderID
	result Result
	err    error
	calls  int
}

func (f *fakeClient) Name() capability.ProviderID { return f.name }

func (f *fakeClient) GenerateContent(ctx context.Context, credential string, req Request) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func TestResolveKnownProviders(t *testing.T) {
	d := NewDispatcher(nil)
	for _, id := range capability.AllProviders {
		client := d.Resolve(id)
		if client == nil {
			t.Fatalf("Resolve(%q) returned nil", id)
		}
		if client.Name() != id {
			t.Errorf("Resolve(%q) returned client %q", id, client.Name())
		}
	}
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	d := NewDispatcher(nil)
	client := d.Resolve(capability.ProviderID("no-such-vendor"))
	if client == nil {
		t.Fatal("Resolve returned nil for unknown provider")
	}
	if client.Name() != capability.DefaultProvider {
		t.Errorf("fallback resolved to %q, want %q", client.Name(), capability.DefaultProvider)
	}
}

func TestUnsupportedOperationErrorShape(t *testing.T) {
	d := NewDispatcher(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() Result
		want string
	}{
		{
			name: "editImage on anthropic",
			run: func() Result {
				return d.EditImage(ctx, capability.ProviderAnthropic, "key", "make it blue", ImagePart{MIME: "image/png", Data: "aGk="}, ImageOptions{})
			},
			want: "editImage is not supported by anthropic",
		},
		{
			name: "generateImage on cohere",
			run: func() Result {
				return d.GenerateImage(ctx, capability.ProviderCohere, "key", "a cat", ImageOptions{})
			},
			want: "generateImage is not supported by cohere",
		},
		{
			name: "search on mistral",
			run: func() Result {
				return d.GenerateContentWithSearch(ctx, capability.ProviderMistral, "key", Request{Model: "mistral-small"})
			},
			want: "generateContentWithSearch is not supported by mistral",
		},
	}

	for _, tc := range cases {
		got := tc.run()
		if got.Err != tc.want {
			t.Errorf("%s: error = %q, want %q", tc.name, got.Err, tc.want)
		}
		if got.Text != "" || got.Image != nil {
			t.Errorf("%s: unsupported result carries a payload", tc.name)
		}
	}
}

func TestUnsupportedStreamYieldsErrorChunk(t *testing.T) {
	d := NewDispatcher(nil)
	fake := &fakeClient{name: capability.ProviderDeepSeek}
	d.Register(fake)

	ch := d.GenerateContentStream(context.Background(), capability.ProviderDeepSeek, "key", Request{Model: "m"})

	select {
	case chunk, ok := <-ch:
		if !ok {
			t.Fatal("stream closed without an error chunk")
		}
		want := "generateContentStream is not supported by deepseek"
		if chunk.Err != want {
			t.Errorf("chunk error = %q, want %q", chunk.Err, want)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not deliver synchronously")
	}

	if _, ok := <-ch; ok {
		t.Error("stream delivered more than one chunk after the error marker")
	}
}

func TestVendorFailureBecomesResultError(t *testing.T) {
	d := NewDispatcher(nil)
	fake := &fakeClient{name: capability.ProviderGroq, err: errors.New("API returned status 401: bad key")}
	d.Register(fake)

	res := d.GenerateContent(context.Background(), capability.ProviderGroq, "key", Request{Model: "m"})
	if res.Err == "" {
		t.Fatal("vendor failure did not surface in Result.Err")
	}
	if !strings.Contains(res.Err, "401") {
		t.Errorf("error lost vendor detail: %q", res.Err)
	}
	if fake.calls != 1 {
		t.Errorf("client called %d times, want 1 (no retries)", fake.calls)
	}
}

func TestRegisterOverridesClient(t *testing.T) {
	d := NewDispatcher(nil)
	fake := &fakeClient{name: capability.ProviderOpenAI, result: Result{Text: "hello"}}
	d.Register(fake)

	res := d.GenerateContent(context.Background(), capability.ProviderOpenAI, "key", Request{Model: "m"})
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want %q", res.Text, "hello")
	}
}

func TestCatalogEndpointOverride(t *testing.T) {
	d := NewDispatcher([]Endpoint{
		{ID: capability.ProviderOpenAI, BaseURL: "http://localhost:9999/v1"},
		{ID: capability.ProviderID("bogus"), BaseURL: "http://nope"},
	})

	client, ok := d.Resolve(capability.ProviderOpenAI).(*OpenAIClient)
	if !ok {
		t.Fatal("openai did not resolve to an OpenAIClient")
	}
	if client.baseURL != "http://localhost:9999/v1" {
		t.Errorf("baseURL = %q, want override", client.baseURL)
	}

	// The invalid catalog entry must not have widened the table.
	if got := d.Resolve(capability.ProviderID("bogus")).Name(); got != capability.DefaultProvider {
		t.Errorf("bogus provider resolved to %q, want default fallback", got)
	}
}

func TestListModelsUnsupported(t *testing.T) {
	d := NewDispatcher(nil)
	fake := &fakeClient{name: capability.ProviderXAI}
	d.Register(fake)

	res := d.ListModels(context.Background(), capability.ProviderXAI, "key")
	want := "listModels is not supported by xai"
	if res.Err != want {
		t.Errorf("error = %q, want %q", res.Err, want)
	}
}
