package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
)

const testTagsResponse = `{
	"models": [
		{"name": "llama3.2:latest", "details": {"family": "llama", "families": ["llama"]}},
		{"name": "llava:13b", "details": {"family": "llama", "families": ["clip", "llama"]}},
		{"name": "nomic-embed-text:latest", "details": {"family": "nomic-bert", "families": ["nomic-bert"]}}
	]
}`

func newTagsServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeDetectsLocalRuntime(t *testing.T) {
	st := newTestStack(t)
	srv := newTagsServer(t, testTagsResponse, http.StatusOK)
	d := NewDiscoveryService(st.providers, "")

	res := d.Probe(context.Background(), srv.URL)
	if !res.Detected {
		t.Fatalf("probe did not detect the runtime: %+v", res)
	}
	if len(res.Models) != 3 {
		t.Errorf("probe lists %d models, want 3", len(res.Models))
	}

	caps := capability.NewSet(res.Capabilities...)
	for _, c := range []capability.Capability{
		capability.Chat, capability.Streaming, capability.FunctionCalling,
	} {
		if !caps.Has(c) {
			t.Errorf("baseline capability %s missing", c)
		}
	}
	// llava unlocks vision, the embedding model unlocks embeddings.
	if !caps.Has(capability.Vision) {
		t.Error("vision-family model did not unlock vision")
	}
	if !caps.Has(capability.Embeddings) {
		t.Error("embedding-family model did not unlock embeddings")
	}

	if !d.Reachable() {
		t.Error("Reachable() false after a successful probe")
	}
	if got := d.Result(); !got.Detected || got.Endpoint != srv.URL {
		t.Errorf("stored result = %+v, want the successful probe", got)
	}
}

func TestProbeNormalizesEndpoint(t *testing.T) {
	st := newTestStack(t)
	srv := newTagsServer(t, testTagsResponse, http.StatusOK)
	d := NewDiscoveryService(st.providers, "")

	// OpenAI-compatible clients configure the /v1 base; the tags API lives
	// at the server root.
	res := d.Probe(context.Background(), srv.URL+"/v1/")
	if res.Endpoint != srv.URL {
		t.Errorf("probed endpoint = %q, want %q", res.Endpoint, srv.URL)
	}
	if !res.Detected {
		t.Errorf("probe against the /v1 form failed: %+v", res)
	}
}

func TestProbeFailureReasons(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	st := newTestStack(t)
	d := NewDiscoveryService(st.providers, "")
	ctx := context.Background()

	if res := d.Probe(ctx, ""); res.Detected || res.Reason != "no endpoint configured" {
		t.Errorf("unconfigured probe = %+v", res)
	}

	srv := newTagsServer(t, testTagsResponse, http.StatusOK)
	url := srv.URL
	srv.Close()
	if res := d.Probe(ctx, url); res.Detected || res.Reason != "endpoint not reachable" {
		t.Errorf("closed-server probe = %+v", res)
	}

	srv = newTagsServer(t, "busy", http.StatusInternalServerError)
	if res := d.Probe(ctx, srv.URL); res.Reason != "endpoint returned status 500" {
		t.Errorf("error-status probe = %+v", res)
	}

	srv = newTagsServer(t, "<html>not ollama</html>", http.StatusOK)
	if res := d.Probe(ctx, srv.URL); res.Reason != "endpoint response is not a model list" {
		t.Errorf("non-JSON probe = %+v", res)
	}
}

func TestReachableFlipsWhenRuntimeVanishes(t *testing.T) {
	st := newTestStack(t)
	srv := newTagsServer(t, testTagsResponse, http.StatusOK)
	d := NewDiscoveryService(st.providers, "")
	ctx := context.Background()

	if res := d.Probe(ctx, srv.URL); !res.Detected {
		t.Fatalf("initial probe failed: %+v", res)
	}
	url := srv.URL
	srv.Close()

	if res := d.Probe(ctx, url); res.Detected {
		t.Fatal("probe against a closed server still detected")
	}
	if d.Reachable() {
		t.Error("Reachable() still true after the runtime vanished")
	}
}

func TestProbeResolvesStoredCredentialEndpoint(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	st := newTestStack(t)
	srv := newTagsServer(t, testTagsResponse, http.StatusOK)

	// The local provider's credential is its endpoint URL.
	if _, err := st.providers.Update(context.Background(), capability.ProviderOllama, models.ProviderSettingsUpdate{
		Credential: strPtr(srv.URL),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	d := NewDiscoveryService(st.providers, "")
	res := d.Probe(context.Background(), "")
	if !res.Detected || res.Endpoint != srv.URL {
		t.Errorf("credential-resolved probe = %+v, want detection at %q", res, srv.URL)
	}
}
