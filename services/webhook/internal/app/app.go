package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"auctionhook/internal/util"
	"auctionhook/pkg/domain"
	"auctionhook/pkg/payload"
	"auctionhook/pkg/storage"
	"auctionhook/pkg/store"
	"auctionhook/services/webhook/internal/forwarder"
)

// Config holds runtime configuration for the core application.
// Store and Objects may be injected; otherwise they are built from the driver and MinIO settings.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	Store          store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore
	ImageURLExpiry time.Duration

	MarketplaceMarkers []string
	URLForwarder       *forwarder.Client
	Photographer       *forwarder.Photographer

	Now func() time.Time
}

// App ties payload classification, merging and persistence together.
type App struct {
	store        store.Store
	objects      storage.ObjectStore
	classifier   *payload.Classifier
	urlForwarder *forwarder.Client
	photographer *forwarder.Photographer
	imageExpiry  time.Duration
	now          func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init %s store: %w", cfg.DatabaseDriver, err)
		}
		dataStore = gormStore
	}
	objects := cfg.Objects
	if objects == nil && cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init image storage: %w", err)
		}
		objects = minioStore
	}
	if cfg.URLForwarder == nil {
		return nil, fmt.Errorf("url forwarder required")
	}
	if cfg.Photographer == nil {
		return nil, fmt.Errorf("photography forwarder required")
	}
	expiry := cfg.ImageURLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		store:        dataStore,
		objects:      objects,
		classifier:   payload.NewClassifier(cfg.MarketplaceMarkers),
		urlForwarder: cfg.URLForwarder,
		photographer: cfg.Photographer,
		imageExpiry:  expiry,
		now:          now,
	}, nil
}

// IngestResult reports what an ingestion stored. Exactly one of Enrichment or
// Scrape is set, matching Kind. Item is the auction item a scrape result was
// linked to, when the payload named one that exists.
type IngestResult struct {
	Kind       payload.Kind
	Created    bool
	Enrichment *domain.Enrichment
	Scrape     *domain.ScrapeResult
	Item       *domain.AuctionItem
}

// Ingest classifies body and upserts the matching record by its natural key.
func (a *App) Ingest(ctx context.Context, body []byte) (IngestResult, error) {
	p, err := a.classifier.Classify(body)
	if err != nil {
		return IngestResult{Kind: p.Kind}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	logger := util.LoggerFromContext(ctx)
	switch p.Kind {
	case payload.KindEnrichment:
		rec, created, err := a.upsertEnrichment(*p.Enrichment)
		if err != nil {
			return IngestResult{Kind: p.Kind}, err
		}
		logger.Info("enrichment ingested", "sku", rec.SKU, "created", created)
		return IngestResult{Kind: p.Kind, Created: created, Enrichment: &rec}, nil
	case payload.KindScrape:
		rec, created, err := a.upsertScrapeResult(*p.Scrape)
		if err != nil {
			return IngestResult{Kind: p.Kind}, err
		}
		logger.Info("scrape result ingested", "url_main", rec.URL, "id", rec.ID, "created", created)
		res := IngestResult{Kind: p.Kind, Created: created, Scrape: &rec}
		if p.Scrape.ItemID != "" {
			item, linked, err := a.linkScrapeResult(p.Scrape.ItemID, rec)
			if err != nil {
				return res, err
			}
			if linked {
				logger.Info("auction item linked to scrape result", "item_id", item.ID, "scrape_result_id", rec.ID)
				res.Item = &item
			} else {
				logger.Warn("scrape result names unknown auction item", "item_id", p.Scrape.ItemID)
			}
		}
		return res, nil
	default:
		return IngestResult{Kind: p.Kind}, fmt.Errorf("%w: %w", ErrInvalidPayload, payload.ErrUnrecognized)
	}
}

func (a *App) upsertEnrichment(in domain.EnrichmentInput) (domain.Enrichment, bool, error) {
	existing, ok, err := a.store.GetEnrichment(in.SKU)
	if err != nil {
		return domain.Enrichment{}, false, fmt.Errorf("load enrichment %s: %w", in.SKU, err)
	}
	var rec domain.Enrichment
	if ok {
		rec = domain.MergeEnrichment(existing, in)
	} else {
		rec = domain.NewEnrichment(util.NewID(), in, a.now())
	}
	if err := a.store.SaveEnrichment(rec); err != nil {
		return domain.Enrichment{}, false, fmt.Errorf("save enrichment %s: %w", in.SKU, err)
	}
	// A concurrent create may have won the insert; report what is stored.
	if stored, found, err := a.store.GetEnrichment(in.SKU); err == nil && found {
		rec = stored
	}
	return rec, !ok, nil
}

func (a *App) upsertScrapeResult(in domain.ScrapeInput) (domain.ScrapeResult, bool, error) {
	existing, ok, err := a.store.GetScrapeResultByURL(in.URL)
	if err != nil {
		return domain.ScrapeResult{}, false, fmt.Errorf("load scrape result: %w", err)
	}
	now := a.now()
	var rec domain.ScrapeResult
	if ok {
		rec = domain.MergeScrapeResult(existing, in, now)
	} else {
		rec = domain.NewScrapeResult(util.NewID(), in, now)
	}
	if err := a.store.SaveScrapeResult(rec); err != nil {
		return domain.ScrapeResult{}, false, fmt.Errorf("save scrape result: %w", err)
	}
	if stored, found, err := a.store.GetScrapeResultByURL(in.URL); err == nil && found {
		rec = stored
	}
	return rec, !ok, nil
}

// linkScrapeResult points the placeholder item at rec and fills its empty fields.
// An unknown item id is not an error; the scrape result stays stored on its own.
func (a *App) linkScrapeResult(itemID string, rec domain.ScrapeResult) (domain.AuctionItem, bool, error) {
	item, ok, err := a.store.GetAuctionItem(itemID)
	if err != nil {
		return domain.AuctionItem{}, false, fmt.Errorf("load auction item %s: %w", itemID, err)
	}
	if !ok {
		return domain.AuctionItem{}, false, nil
	}
	updated := domain.MergeAuctionItem(item, domain.ScrapePatch(item, rec), a.now())
	if err := a.saveItem(updated); err != nil {
		return domain.AuctionItem{}, false, err
	}
	return updated, true, nil
}

// GetEnrichment looks up an enrichment record. A missing record is (zero, false, nil).
func (a *App) GetEnrichment(sku string) (domain.Enrichment, bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Enrichment{}, false, ErrMissingSKU
	}
	return a.store.GetEnrichment(sku)
}

// ListScrapeResults returns processed scrape results, newest first.
func (a *App) ListScrapeResults() ([]domain.ScrapeResult, error) {
	return a.store.ListScrapeResults(domain.ScrapeProcessed)
}

// GetScrapeResult returns one scrape result by id.
func (a *App) GetScrapeResult(id string) (domain.ScrapeResult, error) {
	rec, ok, err := a.store.GetScrapeResult(id)
	if err != nil {
		return domain.ScrapeResult{}, err
	}
	if !ok {
		return domain.ScrapeResult{}, ErrNotFound
	}
	return rec, nil
}

// DeleteScrapeResult removes a scrape result; auction items referencing it keep existing.
func (a *App) DeleteScrapeResult(id string) error {
	deleted, err := a.store.DeleteScrapeResult(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// ClearScrapeResults removes every scrape result and returns the count.
func (a *App) ClearScrapeResults(ctx context.Context) (int, error) {
	n, err := a.store.ClearScrapeResults()
	if err != nil {
		return 0, err
	}
	util.LoggerFromContext(ctx).Warn("scrape results cleared", "count", n)
	return n, nil
}

// ListAuctionItems lists auction items newest first. An empty status lists all.
func (a *App) ListAuctionItems(status string) ([]domain.AuctionItem, error) {
	s := domain.ItemStatus(strings.TrimSpace(status))
	if s != "" && !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return a.store.ListAuctionItems(s)
}

// CreateAuctionItem stores a new auction item. Status defaults to research.
func (a *App) CreateAuctionItem(item domain.AuctionItem) (domain.AuctionItem, error) {
	if item.Status == "" {
		item.Status = domain.ItemResearch
	}
	if err := validateItem(item); err != nil {
		return domain.AuctionItem{}, err
	}
	now := a.now().UTC()
	item.ID = util.NewID()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.PhotographerQuantity <= 0 {
		item.PhotographerQuantity = 1
	}
	if err := a.saveItem(item); err != nil {
		return domain.AuctionItem{}, err
	}
	return item, nil
}

// GetAuctionItem returns one auction item.
func (a *App) GetAuctionItem(id string) (domain.AuctionItem, error) {
	item, ok, err := a.store.GetAuctionItem(id)
	if err != nil {
		return domain.AuctionItem{}, err
	}
	if !ok {
		return domain.AuctionItem{}, ErrNotFound
	}
	return item, nil
}

// UpdateAuctionItem merges the non-empty fields of patch into the stored item.
func (a *App) UpdateAuctionItem(id string, patch domain.AuctionItem) (domain.AuctionItem, error) {
	existing, err := a.GetAuctionItem(id)
	if err != nil {
		return domain.AuctionItem{}, err
	}
	if patch.Status != "" && !patch.Status.Valid() {
		return domain.AuctionItem{}, fmt.Errorf("%w: %q", ErrInvalidStatus, patch.Status)
	}
	if !patch.Priority.Valid() {
		return domain.AuctionItem{}, fmt.Errorf("%w: %q", ErrInvalidPriority, patch.Priority)
	}
	updated := domain.MergeAuctionItem(existing, patch, a.now())
	if err := a.saveItem(updated); err != nil {
		return domain.AuctionItem{}, err
	}
	return updated, nil
}

// DeleteAuctionItem removes one auction item.
func (a *App) DeleteAuctionItem(id string) error {
	deleted, err := a.store.DeleteAuctionItem(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (a *App) saveItem(item domain.AuctionItem) error {
	if err := a.store.SaveAuctionItem(item); err != nil {
		if errors.Is(err, store.ErrScrapeResultNotFound) {
			return ErrInvalidReference
		}
		return fmt.Errorf("save auction item: %w", err)
	}
	return nil
}

func validateItem(item domain.AuctionItem) error {
	if !item.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, item.Status)
	}
	if !item.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, item.Priority)
	}
	return nil
}

// ForwardURL sends one listing URL to the scraper workflow.
func (a *App) ForwardURL(ctx context.Context, urlMain string) (forwarder.Result, error) {
	urlMain = strings.TrimSpace(urlMain)
	if urlMain == "" {
		return forwarder.Result{}, ErrMissingURL
	}
	return a.urlForwarder.ForwardURL(ctx, urlMain)
}

// SubmitPhotography runs a paced photography batch. On a mid-batch failure the
// completed units are returned with the error.
func (a *App) SubmitPhotography(ctx context.Context, req forwarder.PhotographyRequest) (forwarder.BatchResult, error) {
	return a.photographer.Submit(ctx, req)
}

// UploadedImage describes a stored photographer image.
type UploadedImage struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	URL          string    `json:"url"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// UploadImage stores an image and returns a pre-signed URL for it.
func (a *App) UploadImage(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (UploadedImage, error) {
	if a.objects == nil {
		return UploadedImage{}, ErrStorageDisabled
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(contentType, "image/") {
		return UploadedImage{}, ErrUnsupportedMedia
	}
	if size <= 0 {
		return UploadedImage{}, ErrEmptyUpload
	}
	key := storage.ImageKey(originalName)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return UploadedImage{}, fmt.Errorf("save image: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.imageExpiry)
	if err != nil {
		_ = a.objects.Delete(ctx, key)
		return UploadedImage{}, fmt.Errorf("presign image: %w", err)
	}
	util.LoggerFromContext(ctx).Info("image uploaded", "key", key, "size", size)
	return UploadedImage{
		Filename:     strings.TrimPrefix(key, storage.ImagePrefix),
		OriginalName: filepath.Base(originalName),
		Size:         size,
		ContentType:  contentType,
		URL:          url,
		UploadedAt:   a.now().UTC(),
	}, nil
}
