package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auctionhook/internal/ratelimit"
	"auctionhook/internal/util"
	"auctionhook/pkg/domain"
	"auctionhook/services/webhook/internal/app"
	"auctionhook/services/webhook/internal/forwarder"
)

const (
	maxJSONBytes   = 1 << 20
	maxIngestBytes = 8 << 20
	defaultUpload  = 10 << 20
)

// Config wires required dependencies for the HTTP server.
// Nil limiters disable rate limiting for their routes.
type Config struct {
	App                *app.App
	IngestLimiter      *ratelimit.FixedWindowLimiter
	ForwardLimiter     *ratelimit.FixedWindowLimiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
}

// Server exposes the webhook HTTP endpoints.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	ingestLimiter  *ratelimit.FixedWindowLimiter
	forwardLimiter *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultUpload
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		ingestLimiter:  cfg.IngestLimiter,
		forwardLimiter: cfg.ForwardLimiter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
		maxUploadBytes: maxUpload,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

// Routes lists every path the server registers.
var Routes = []string{
	"/healthz",
	"/hello",
	"/test-echo",
	"/ingest",
	"/enrichment",
	"/scrape-results",
	"/scrape-results/clear",
	"/scrape-results/{id}",
	"/forward-url",
	"/submit-photography",
	"/auction-items",
	"/auction-items/{id}",
	"/uploads/images",
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/hello", s.handleHello)
	s.mux.HandleFunc("/test-echo", s.handleEcho)

	// ingestion & queries
	s.mux.HandleFunc("/ingest", s.handleIngest)
	s.mux.HandleFunc("/enrichment", s.handleEnrichment)
	s.mux.HandleFunc("/scrape-results", s.handleScrapeResults)
	s.mux.HandleFunc("/scrape-results/", s.handleScrapeResultByID)

	// forwarders
	s.mux.HandleFunc("/forward-url", s.handleForwardURL)
	s.mux.HandleFunc("/submit-photography", s.handleSubmitPhotography)

	// workflow items
	s.mux.HandleFunc("/auction-items", s.handleAuctionItems)
	s.mux.HandleFunc("/auction-items/", s.handleAuctionItemByID)

	s.mux.HandleFunc("/uploads/images", s.handleUploadImage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Hello from the auction webhook service!",
		"status":  "success",
	})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Data received successfully!",
		"received_data": body,
		"status":        "success",
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.ingestLimiter) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	res, err := s.app.Ingest(r.Context(), body)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := ingestResponse{Kind: res.Kind.String(), Created: res.Created, Status: "success"}
	switch {
	case res.Enrichment != nil:
		resp.Message = "Webhook data received and stored successfully"
		resp.Record = toEnrichmentView(*res.Enrichment)
	case res.Scrape != nil:
		resp.Message = "Scrape result received and stored successfully"
		resp.Record = toScrapeSummary(*res.Scrape)
		resp.Item = res.Item
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rec, ok, err := s.app.GetEnrichment(r.URL.Query().Get("sku"))
	if err != nil {
		if errors.Is(err, app.ErrMissingSKU) {
			writeError(w, http.StatusBadRequest, "sku parameter is required")
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "No webhook data found for this SKU",
			"record":  nil,
			"status":  "success",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook data retrieved successfully",
		"record":  toEnrichmentView(rec),
		"status":  "success",
	})
}

func (s *Server) handleScrapeResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListScrapeResults()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": len(items),
	})
}

func (s *Server) handleScrapeResultByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/scrape-results/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if id == "clear" {
		s.handleClearScrapeResults(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := s.app.GetScrapeResult(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := s.app.DeleteScrapeResult(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Scrape result deleted", "status": "success"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleClearScrapeResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	n, err := s.app.ClearScrapeResults(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Cleared %d scrape results", n),
		"deleted_count": n,
		"status":        "success",
	})
}

func (s *Server) handleForwardURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.forwardLimiter) {
		return
	}
	var req forwardURLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.ForwardURL(r.Context(), req.URLMain)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !res.OK() {
		util.LoggerFromContext(r.Context()).Warn("url forward rejected upstream", "webhook_status", res.StatusCode)
		writeJSON(w, http.StatusBadGateway, upstreamErrorResponse{
			errorResponse:   newErrorResponse(w, http.StatusBadGateway, fmt.Sprintf("automation webhook returned status %d", res.StatusCode)),
			WebhookStatus:   res.StatusCode,
			WebhookResponse: res.Body,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Webhook called successfully",
		"webhook_status":   res.StatusCode,
		"webhook_response": res.Body,
		"status":           "success",
	})
}

func (s *Server) handleSubmitPhotography(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.forwardLimiter) {
		return
	}
	var req forwarder.PhotographyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// A full batch outlasts the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	// The batch keeps going when the caller disconnects.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.app.SubmitPhotography(ctx, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidQuantity) {
			s.writeAppError(w, r, err)
			return
		}
		util.LoggerFromContext(ctx).Error("photography batch stopped", "completed", res.Completed(), "requested", res.Requested, "err", err)
		writeJSON(w, http.StatusInternalServerError, batchErrorResponse{
			errorResponse:    newErrorResponse(w, http.StatusInternalServerError, "photography batch incomplete"),
			WebhookResponses: res.Responses,
			Research2Items:   res.Items,
			Completed:        res.Completed(),
			Requested:        res.Requested,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           fmt.Sprintf("Photography webhook called %d times", res.Completed()),
		"webhook_responses": res.Responses,
		"research2_items":   res.Items,
		"status":            "success",
	})
}

func (s *Server) handleAuctionItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListAuctionItems(r.URL.Query().Get("status"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPost:
		var req domain.AuctionItem
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := s.app.CreateAuctionItem(req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAuctionItemByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/auction-items/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.app.GetAuctionItem(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var patch domain.AuctionItem
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := s.app.UpdateAuctionItem(id, patch)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.app.DeleteAuctionItem(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: image)")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	var reader io.Reader = file
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(file, head)
		head = head[:n]
		contentType = http.DetectContentType(head)
		reader = io.MultiReader(bytes.NewReader(head), file)
	}
	img, err := s.app.UploadImage(r.Context(), header.Filename, contentType, reader, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision, err := limiter.Allow(r.Context(), key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return false
	}
	if decision.Allowed {
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

// writeAppError maps app sentinels to HTTP. Anything unrecognized is logged
// and reported without detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     err.Error(),
			Code:      "WEBHOOK_INVALID_PAYLOAD",
			RequestID: requestID(w),
		})
	case errors.Is(err, app.ErrMissingSKU), errors.Is(err, app.ErrMissingURL),
		errors.Is(err, app.ErrInvalidStatus), errors.Is(err, app.ErrInvalidPriority),
		errors.Is(err, app.ErrInvalidReference), errors.Is(err, app.ErrInvalidQuantity),
		errors.Is(err, app.ErrUnsupportedMedia), errors.Is(err, app.ErrEmptyUpload):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case forwarder.IsTransport(err):
		util.LoggerFromContext(r.Context()).Error("automation webhook unreachable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "automation webhook unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage drops the ": <detail>" tail added when a sentinel had its value appended.
func rootMessage(err error) string {
	for _, sentinel := range []error{app.ErrInvalidStatus, app.ErrInvalidPriority} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type forwardURLRequest struct {
	URLMain string `json:"url_main"`
}

type ingestResponse struct {
	Message string              `json:"message"`
	Kind    string              `json:"kind"`
	Created bool                `json:"created"`
	Record  any                 `json:"record"`
	Item    *domain.AuctionItem `json:"item,omitempty"`
	Status  string              `json:"status"`
}

type enrichmentView struct {
	ID                  string `json:"id"`
	SKU                 string `json:"sku"`
	Title               string `json:"ebay_title"`
	Description         string `json:"ebay_description"`
	Condition           string `json:"condition"`
	ImprovedEstimate    string `json:"ai_improved_estimate"`
	ImprovedDescription string `json:"ai_improved_description"`
	Quantity            int    `json:"quantity"`
	ReceivedAt          string `json:"received_at"`
	Processed           bool   `json:"processed"`
}

func toEnrichmentView(e domain.Enrichment) enrichmentView {
	return enrichmentView{
		ID:                  e.ID,
		SKU:                 e.SKU,
		Title:               e.Title,
		Description:         e.Description,
		Condition:           e.Condition,
		ImprovedEstimate:    e.ImprovedEstimate,
		ImprovedDescription: e.ImprovedDescription,
		Quantity:            e.Quantity,
		ReceivedAt:          e.ReceivedAt.UTC().Format(time.RFC3339),
		Processed:           e.Processed,
	}
}

type imageCounts struct {
	AllUnique   int `json:"all_unique_image_urls"`
	Gallery     int `json:"gallery_image_urls"`
	BroadSearch int `json:"broad_search_images"`
	Thumbnail   int `json:"thumbnail_images"`
}

type scrapeSummary struct {
	ID          string      `json:"id"`
	URL         string      `json:"url_main"`
	ItemName    string      `json:"item_name"`
	LotNumber   string      `json:"lot_number"`
	AuctionName string      `json:"auction_name"`
	Status      string      `json:"status"`
	ImageCounts imageCounts `json:"image_counts"`
	ReceivedAt  string      `json:"received_at"`
	ProcessedAt string      `json:"processed_at,omitempty"`
}

func toScrapeSummary(r domain.ScrapeResult) scrapeSummary {
	out := scrapeSummary{
		ID:          r.ID,
		URL:         r.URL,
		ItemName:    r.ItemName,
		LotNumber:   r.LotNumber,
		AuctionName: r.AuctionName,
		Status:      string(r.Status),
		ImageCounts: imageCounts{
			AllUnique:   len(r.AllImageURLs),
			Gallery:     len(r.GalleryImageURLs),
			BroadSearch: len(r.BroadSearchImages),
			Thumbnail:   len(r.ThumbnailImages),
		},
		ReceivedAt: r.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if r.ProcessedAt != nil {
		out.ProcessedAt = r.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type upstreamErrorResponse struct {
	errorResponse
	WebhookStatus   int             `json:"webhook_status"`
	WebhookResponse json.RawMessage `json:"webhook_response"`
}

type batchErrorResponse struct {
	errorResponse
	WebhookResponses []forwarder.UnitResponse  `json:"webhook_responses"`
	Research2Items   []forwarder.Research2Item `json:"research2_items"`
	Completed        int                       `json:"completed"`
	Requested        int                       `json:"requested"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func newErrorResponse(w http.ResponseWriter, status int, msg string) errorResponse {
	return errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: requestID(w),
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, newErrorResponse(w, status, msg))
}

func requestID(w http.ResponseWriter) string {
	return strings.TrimSpace(w.Header().Get(util.RequestIDHeader))
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "sku parameter is required", message == strings.ToLower(app.ErrMissingSKU.Error()):
		return "WEBHOOK_MISSING_SKU"
	case message == app.ErrMissingURL.Error():
		return "FORWARD_MISSING_URL"
	case strings.HasPrefix(message, "automation webhook returned status"):
		return "FORWARD_UPSTREAM_ERROR"
	case message == "automation webhook unavailable":
		return "FORWARD_UNAVAILABLE"
	case message == "photography batch incomplete":
		return "PHOTOGRAPHY_BATCH_INCOMPLETE"
	case message == app.ErrInvalidQuantity.Error():
		return "PHOTOGRAPHY_INVALID_QUANTITY"
	case message == app.ErrInvalidStatus.Error():
		return "ITEM_INVALID_STATUS"
	case message == app.ErrInvalidPriority.Error():
		return "ITEM_INVALID_PRIORITY"
	case message == app.ErrInvalidReference.Error():
		return "ITEM_INVALID_REFERENCE"
	case message == "file too large":
		return "UPLOAD_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"), message == app.ErrEmptyUpload.Error():
		return "UPLOAD_FILE_REQUIRED"
	case message == app.ErrUnsupportedMedia.Error():
		return "UPLOAD_UNSUPPORTED_TYPE"
	case message == "invalid form data":
		return "UPLOAD_INVALID_FORM"
	case message == app.ErrStorageDisabled.Error():
		return "UPLOAD_STORAGE_DISABLED"
	case message == "payload too large":
		return "WEBHOOK_PAYLOAD_TOO_LARGE"
	case message == "could not read request body":
		return "WEBHOOK_BODY_UNREADABLE"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "rate limiter unavailable":
		return "SYSTEM_RATE_LIMITER_UNAVAILABLE"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
