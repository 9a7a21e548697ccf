package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"auctionhook/internal/util"
	"auctionhook/pkg/domain"
	"auctionhook/pkg/storage"
	"auctionhook/pkg/store"
	"auctionhook/services/webhook/internal/app"
	"auctionhook/services/webhook/internal/forwarder"
)

type testEnv struct {
	srv    *httptest.Server
	server *Server
	store  *store.MemoryStore
}

type envOptions struct {
	scrape  http.HandlerFunc
	photo   http.HandlerFunc
	objects storage.ObjectStore
	config  func(*Config)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.scrape == nil {
		opts.scrape = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"accepted":true}`)
		}
	}
	if opts.photo == nil {
		opts.photo = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"queued":true}`)
		}
	}
	scrapeSrv := httptest.NewServer(opts.scrape)
	t.Cleanup(scrapeSrv.Close)
	photoSrv := httptest.NewServer(opts.photo)
	t.Cleanup(photoSrv.Close)

	urlClient, err := forwarder.NewClient(forwarder.Config{EndpointURL: scrapeSrv.URL, TimeoutSeconds: 5}, nil)
	if err != nil {
		t.Fatalf("url client: %v", err)
	}
	photoClient, err := forwarder.NewClient(forwarder.Config{EndpointURL: photoSrv.URL}, nil)
	if err != nil {
		t.Fatalf("photo client: %v", err)
	}
	mem := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:        mem,
		Objects:      opts.objects,
		URLForwarder: urlClient,
		Photographer: forwarder.NewPhotographer(photoClient, 0, nil),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: core}
	if opts.config != nil {
		opts.config(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, server: s, store: mem}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, data, err)
		}
	}
	return resp, out
}

func TestBasicRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.do(t, http.MethodGet, "/hello", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "success" || body["message"] == "" {
		t.Fatalf("hello: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(util.RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}

	resp, body = env.do(t, http.MethodPost, "/test-echo", `{"ping":"pong"}`)
	echoed, _ := body["received_data"].(map[string]any)
	if resp.StatusCode != http.StatusOK || echoed["ping"] != "pong" {
		t.Fatalf("echo: %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/hello"},
		{http.MethodGet, "/test-echo"},
		{http.MethodGet, "/ingest"},
		{http.MethodPost, "/enrichment"},
		{http.MethodDelete, "/scrape-results"},
		{http.MethodGet, "/scrape-results/clear"},
		{http.MethodGet, "/forward-url"},
		{http.MethodGet, "/submit-photography"},
		{http.MethodPut, "/auction-items"},
		{http.MethodGet, "/uploads/images"},
	}
	for _, tc := range tests {
		resp, body := env.do(t, tc.method, tc.path, "")
		if resp.StatusCode != http.StatusMethodNotAllowed || body["code"] != "SYSTEM_METHOD_NOT_ALLOWED" {
			t.Fatalf("%s %s: %d %v", tc.method, tc.path, resp.StatusCode, body)
		}
	}
}

func TestIngestEmptyObjectRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, body := env.do(t, http.MethodPost, "/ingest", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatalf("missing error message: %v", body)
	}
	if body["code"] != "WEBHOOK_INVALID_PAYLOAD" || body["requestId"] != resp.Header.Get(util.RequestIDHeader) {
		t.Fatalf("unexpected error body: %v", body)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestIngestBodyReadErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	tests := []struct {
		name   string
		body   io.Reader
		status int
		code   string
	}{
		{
			name:   "over the cap",
			body:   strings.NewReader(`{"sku":"` + strings.Repeat("a", maxIngestBytes) + `"}`),
			status: http.StatusRequestEntityTooLarge,
			code:   "WEBHOOK_PAYLOAD_TOO_LARGE",
		},
		{
			name:   "read failure",
			body:   io.MultiReader(strings.NewReader(`{"sku":`), brokenBody{}),
			status: http.StatusBadRequest,
			code:   "WEBHOOK_BODY_UNREADABLE",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", tc.body))
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode %q: %v", rec.Body.String(), err)
			}
			if rec.Code != tc.status || body["code"] != tc.code {
				t.Fatalf("got %d %v, want %d %s", rec.Code, body, tc.status, tc.code)
			}
		})
	}
}

func TestIngestAndLookupEnrichment(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.do(t, http.MethodPost, "/ingest", `{"sku":"SFS-12(a)","ebay_title":"Oak chair","condition":"Used"}`)
	if resp.StatusCode != http.StatusOK || body["kind"] != "enrichment" || body["created"] != true {
		t.Fatalf("ingest: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/ingest", `{"sku":"SFS-12(a)","condition":""}`)
	if resp.StatusCode != http.StatusOK || body["created"] != false {
		t.Fatalf("re-ingest: %d %v", resp.StatusCode, body)
	}
	if n, _ := env.store.CountEnrichments(); n != 1 {
		t.Fatalf("count = %d", n)
	}

	resp, body = env.do(t, http.MethodGet, "/enrichment?sku=SFS-12(a)", "")
	record, _ := body["record"].(map[string]any)
	if resp.StatusCode != http.StatusOK || record["condition"] != "Used" {
		t.Fatalf("lookup: %d %v", resp.StatusCode, body)
	}
	receivedAt, _ := record["received_at"].(string)
	if _, err := time.Parse(time.RFC3339, receivedAt); err != nil {
		t.Fatalf("received_at %q is not RFC 3339: %v", receivedAt, err)
	}

	resp, body = env.do(t, http.MethodGet, "/enrichment?sku=UNKNOWN", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unknown sku status = %d", resp.StatusCode)
	}
	if rec, present := body["record"]; !present || rec != nil {
		t.Fatalf("unknown sku should return a null record: %v", body)
	}

	resp, body = env.do(t, http.MethodGet, "/enrichment", "")
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "WEBHOOK_MISSING_SKU" {
		t.Fatalf("missing sku: %d %v", resp.StatusCode, body)
	}
}

func TestScrapeResultsListOnlyProcessed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, body := env.do(t, http.MethodPost, "/ingest", `{"url_main":"https://hibid.com/lot/9","item_name":"Clock","gallery_image_urls":["a","b"]}`)
	if resp.StatusCode != http.StatusOK || body["kind"] != "scrape" {
		t.Fatalf("ingest: %d %v", resp.StatusCode, body)
	}
	record, _ := body["record"].(map[string]any)
	counts, _ := record["image_counts"].(map[string]any)
	if record["status"] != "processed" || counts["gallery_image_urls"] != float64(2) {
		t.Fatalf("unexpected summary: %v", record)
	}
	for _, status := range []domain.ScrapeStatus{domain.ScrapePending, domain.ScrapeError} {
		if err := env.store.SaveScrapeResult(domain.ScrapeResult{
			ID:     string(status),
			URL:    "https://hibid.com/lot/" + string(status),
			Status: status,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp, body = env.do(t, http.MethodGet, "/scrape-results", "")
	items, _ := body["items"].([]any)
	if resp.StatusCode != http.StatusOK || len(items) != 1 || body["total_count"] != float64(1) {
		t.Fatalf("list: %d %v", resp.StatusCode, body)
	}
	first, _ := items[0].(map[string]any)
	if first["status"] != "processed" {
		t.Fatalf("listed non-processed record: %v", first)
	}
	for _, key := range []string{"all_unique_image_urls", "broad_search_images", "thumbnail_images"} {
		if list, ok := first[key].([]any); !ok || len(list) != 0 {
			t.Fatalf("%s = %v, want an empty array", key, first[key])
		}
	}

	id, _ := record["id"].(string)
	resp, _ = env.do(t, http.MethodGet, "/scrape-results/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get by id = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/scrape-results/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, body = env.do(t, http.MethodGet, "/scrape-results/"+id, "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "SYSTEM_NOT_FOUND" {
		t.Fatalf("get deleted: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/scrape-results/clear", "")
	if resp.StatusCode != http.StatusOK || body["deleted_count"] != float64(2) {
		t.Fatalf("clear: %d %v", resp.StatusCode, body)
	}
}

func TestForwardURL(t *testing.T) {
	var got map[string]string
	env := newTestEnv(t, envOptions{scrape: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["url_main"] == "https://hibid.com/lot/404" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "no workflow")
			return
		}
		_, _ = io.WriteString(w, `{"executionId":"7"}`)
	}})

	resp, body := env.do(t, http.MethodPost, "/forward-url", `{"url_main":"https://hibid.com/lot/1"}`)
	webhook, _ := body["webhook_response"].(map[string]any)
	if resp.StatusCode != http.StatusOK || body["webhook_status"] != float64(200) || webhook["executionId"] != "7" {
		t.Fatalf("forward: %d %v", resp.StatusCode, body)
	}
	if got["url_main"] != "https://hibid.com/lot/1" {
		t.Fatalf("upstream payload = %v", got)
	}

	resp, body = env.do(t, http.MethodPost, "/forward-url", `{"url_main":"https://hibid.com/lot/404"}`)
	webhook, _ = body["webhook_response"].(map[string]any)
	if resp.StatusCode != http.StatusBadGateway || body["webhook_status"] != float64(404) || webhook["raw_response"] != "no workflow" {
		t.Fatalf("upstream error: %d %v", resp.StatusCode, body)
	}
	if body["code"] != "FORWARD_UPSTREAM_ERROR" {
		t.Fatalf("code = %v", body["code"])
	}

	resp, body = env.do(t, http.MethodPost, "/forward-url", `{}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "FORWARD_MISSING_URL" {
		t.Fatalf("missing url: %d %v", resp.StatusCode, body)
	}
}

func TestForwardURLTransportFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, envOptions{scrape: func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer cannot hijack")
			return
		}
		conn, _, _ := hj.Hijack()
		_ = conn.Close()
	}})
	resp, body := env.do(t, http.MethodPost, "/forward-url", `{"url_main":"https://hibid.com/lot/1"}`)
	if resp.StatusCode != http.StatusInternalServerError || body["code"] != "FORWARD_UNAVAILABLE" {
		t.Fatalf("transport failure: %d %v", resp.StatusCode, body)
	}
	if msg, _ := body["error"].(string); strings.Contains(msg, "EOF") || strings.Contains(msg, "127.0.0.1") {
		t.Fatalf("error leaks transport detail: %q", msg)
	}
}

func TestSubmitPhotography(t *testing.T) {
	var mu sync.Mutex
	var skus []string
	env := newTestEnv(t, envOptions{photo: func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		skus = append(skus, payload["sku"].(string))
		n := len(skus)
		mu.Unlock()
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}})

	resp, body := env.do(t, http.MethodPost, "/submit-photography",
		`{"auction_name":"Spring Farm Sale","lot_number":12,"item_name":"Tractor seat","quantity":"3","photos":["p1.jpg"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	responses, _ := body["webhook_responses"].([]any)
	items, _ := body["research2_items"].([]any)
	if len(responses) != 3 || len(items) != 3 {
		t.Fatalf("responses=%d items=%d", len(responses), len(items))
	}
	want := []string{"SFS-12(a)", "SFS-12(b)", "SFS-12(c)"}
	for i, sku := range want {
		if skus[i] != sku {
			t.Fatalf("call %d sku = %q, want %q", i, skus[i], sku)
		}
	}
	second, _ := responses[1].(map[string]any)
	if second["status"] != float64(http.StatusInternalServerError) {
		t.Fatalf("non-2xx unit should be recorded: %v", second)
	}
	card, _ := items[0].(map[string]any)
	if card["status"] != "research2" || card["itemName"] != "Tractor seat" {
		t.Fatalf("unexpected research2 item: %v", card)
	}

	resp, body = env.do(t, http.MethodPost, "/submit-photography", `{"auction_name":"Spring Farm Sale","lot_number":"12","quantity":27}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "PHOTOGRAPHY_INVALID_QUANTITY" {
		t.Fatalf("invalid quantity: %d %v", resp.StatusCode, body)
	}
}

func TestSubmitPhotographyPartialFailure(t *testing.T) {
	calls := 0
	env := newTestEnv(t, envOptions{photo: func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 2 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Errorf("response writer cannot hijack")
				return
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}})

	resp, body := env.do(t, http.MethodPost, "/submit-photography", `{"auction_name":"Barn Find","lot_number":"7","quantity":3}`)
	if resp.StatusCode != http.StatusInternalServerError || body["code"] != "PHOTOGRAPHY_BATCH_INCOMPLETE" {
		t.Fatalf("partial failure: %d %v", resp.StatusCode, body)
	}
	if body["completed"] != float64(1) || body["requested"] != float64(3) {
		t.Fatalf("counts: %v", body)
	}
	if responses, _ := body["webhook_responses"].([]any); len(responses) != 1 {
		t.Fatalf("completed responses = %v", body["webhook_responses"])
	}
}

func TestAuctionItemsCRUD(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.do(t, http.MethodPost, "/auction-items", `{"item_name":"Oak chair","priority":"high"}`)
	if resp.StatusCode != http.StatusCreated || body["status"] != "research" {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)

	resp, body = env.do(t, http.MethodPost, "/auction-items", `{"item_name":"x","status":"sold"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "ITEM_INVALID_STATUS" {
		t.Fatalf("invalid status: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/auction-items", `{"scrape_result_id":"missing"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "ITEM_INVALID_REFERENCE" {
		t.Fatalf("invalid reference: %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPatch, "/auction-items/"+id, `{"status":"photography","notes":"3 photos"}`)
	if resp.StatusCode != http.StatusOK || body["status"] != "photography" || body["item_name"] != "Oak chair" {
		t.Fatalf("patch: %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/auction-items?status=photography", "")
	if items, _ := body["items"].([]any); resp.StatusCode != http.StatusOK || len(items) != 1 {
		t.Fatalf("list: %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/auction-items/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/auction-items/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted = %d", resp.StatusCode)
	}
}

type memoryObjects struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = contentType
	return nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func multipartImage(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	objects := &memoryObjects{keys: map[string]string{}}
	env := newTestEnv(t, envOptions{objects: objects})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	body, contentType := multipartImage(t, "lot12.png", "", png)
	resp, err := http.Post(env.srv.URL+"/uploads/images", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var img map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&img)
	if resp.StatusCode != http.StatusCreated || img["content_type"] != "image/png" || img["original_name"] != "lot12.png" {
		t.Fatalf("upload: %d %v", resp.StatusCode, img)
	}
	if len(objects.keys) != 1 {
		t.Fatalf("objects = %v", objects.keys)
	}

	body, contentType = multipartImage(t, "notes.txt", "text/plain", []byte("hello"))
	resp2, err := http.Post(env.srv.URL+"/uploads/images", contentType, body)
	if err != nil {
		t.Fatalf("upload text: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("text upload status = %d", resp2.StatusCode)
	}
}

func TestUploadImageWithoutStorage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	body, contentType := multipartImage(t, "lot12.jpg", "image/jpeg", []byte("jpeg"))
	resp, err := http.Post(env.srv.URL+"/uploads/images", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
}
