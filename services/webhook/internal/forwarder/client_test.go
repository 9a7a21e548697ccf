package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auctionhook/internal/util"
)

func TestClientForwardURL(t *testing.T) {
	var got map[string]string
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		requestID = r.Header.Get(util.RequestIDHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"executionId":"42"}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{EndpointURL: srv.URL, TimeoutSeconds: 5}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var ctx context.Context = context.Background()
	util.WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/forward-url", nil))

	res, err := client.ForwardURL(ctx, "https://hibid.com/lot/1")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !res.OK() || string(res.Body) != `{"executionId":"42"}` {
		t.Fatalf("unexpected result: %d %s", res.StatusCode, res.Body)
	}
	if got["url_main"] != "https://hibid.com/lot/1" {
		t.Fatalf("payload = %v", got)
	}
	if requestID == "" || requestID != util.RequestIDFromContext(ctx) {
		t.Fatalf("request id not propagated: %q", requestID)
	}
}

func TestClientNon2xxIsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "webhook not registered")
	}))
	defer srv.Close()

	client, _ := NewClient(Config{EndpointURL: srv.URL}, nil)
	res, err := client.Post(context.Background(), map[string]string{})
	if err != nil {
		t.Fatalf("non-2xx should not be an error: %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if string(res.Body) != `{"raw_response":"webhook not registered"}` {
		t.Fatalf("body = %s", res.Body)
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client, _ := NewClient(Config{EndpointURL: srv.URL, TimeoutSeconds: 0.05}, nil)
	_, err := client.Post(context.Background(), map[string]string{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{EndpointURL: "  "}, nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := Config{TimeoutSeconds: 1.5, CallSpacingSeconds: -3}
	if cfg.Timeout() != 1500*time.Millisecond {
		t.Fatalf("timeout = %v", cfg.Timeout())
	}
	if cfg.CallSpacing() != 0 {
		t.Fatalf("negative spacing should clamp to zero, got %v", cfg.CallSpacing())
	}
	if URLForwarderDefaults.Timeout() != 30*time.Second || PhotographyForwarderDefaults.CallSpacing() != 10*time.Second {
		t.Fatalf("unexpected defaults")
	}
}
