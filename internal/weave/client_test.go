package weave

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/weaveship/weaveship/internal/sanitize"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		apiKey  string
		wantErr bool
	}{
		{name: "valid", baseURL: "https://trace.wandb.ai", apiKey: "key", wantErr: false},
		{name: "empty base url uses default", baseURL: "", apiKey: "key", wantErr: false},
		{name: "trailing slash trimmed", baseURL: "https://trace.wandb.ai/", apiKey: "key", wantErr: false},
		{name: "missing scheme", baseURL: "trace.wandb.ai", apiKey: "key", wantErr: true},
		{name: "missing api key", baseURL: "https://trace.wandb.ai", apiKey: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(tt.baseURL, tt.apiKey, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewClient() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if strings.HasSuffix(client.baseURL, "/") {
				t.Fatalf("baseURL %q retains trailing slash", client.baseURL)
			}
		})
	}
}

func TestClientStartCall(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuthUser, gotAuthPass, gotContentType, gotAccept string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, gotAuthPass, _ = r.BasicAuth()
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret-key", server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	rec, err := sanitize.Sanitize(map[string]any{
		"standard_logging_data": map[string]any{"call_type": "completion", "model": "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}
	payload := BuildStart(rec, "acme/chatbot", "call-1", "2026-08-30T12:00:00Z")

	if err := client.StartCall(context.Background(), payload); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	if gotPath != "/call/start" {
		t.Fatalf("path = %q, want /call/start", gotPath)
	}
	if gotAuthUser != "api" || gotAuthPass != "secret-key" {
		t.Fatalf("basic auth = %q:%q, want api:secret-key", gotAuthUser, gotAuthPass)
	}
	if gotContentType != "application/json" || gotAccept != "application/json" {
		t.Fatalf("headers = %q / %q, want application/json for both", gotContentType, gotAccept)
	}

	var decoded StartPayload
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	if decoded.Start.OpName != "litellm.completion" {
		t.Fatalf("body op_name = %q, want litellm.completion", decoded.Start.OpName)
	}
}

func TestClientEndCall(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret-key", server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	payload := EndPayload{End: CallEnd{ProjectID: "proj", ID: "call-1", EndedAt: "2026-08-30T12:00:05Z", Summary: map[string]any{}}}
	if err := client.EndCall(context.Background(), payload); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}
	if gotPath != "/call/end" {
		t.Fatalf("path = %q, want /call/end", gotPath)
	}
}

func TestClientErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "wrong-key", server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	err = client.StartCall(context.Background(), StartPayload{})
	if err == nil {
		t.Fatal("StartCall() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("error %q does not mention status 401", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("error %q does not carry the response detail", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key", server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.StartCall(ctx, StartPayload{}); err == nil {
		t.Fatal("StartCall() with canceled context expected error, got nil")
	}
}
