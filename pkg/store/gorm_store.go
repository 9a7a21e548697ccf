package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"auctionhook/pkg/domain"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	migrateLockID   int64 = 51830417
	migrateLockName       = "auctionhook_migrate"
)

// GormStore implements Store using GORM over Postgres or MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB for the given driver and runs auto-migrations.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	dialector, err := openDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, driver, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&EnrichmentModel{}, &ScrapeResultModel{}, &AuctionItemModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// withMigrationLock serializes migrations across replicas using the database's advisory lock.
func withMigrationLock(db *gorm.DB, driver string, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()

	lock, unlock := "SELECT pg_advisory_lock($1)", "SELECT pg_advisory_unlock($1)"
	var arg any = migrateLockID
	if strings.EqualFold(driver, DriverMySQL) {
		lock, unlock = "SELECT GET_LOCK(?, 30)", "SELECT RELEASE_LOCK(?)"
		arg = migrateLockName
	}
	if err := execAdvisory(ctx, conn, lock, arg); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, unlock, arg)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, arg any) error {
	_, err := conn.ExecContext(ctx, query, arg)
	return err
}

// GetEnrichment looks up an enrichment record by SKU.
func (s *GormStore) GetEnrichment(sku string) (domain.Enrichment, bool, error) {
	var model EnrichmentModel
	if err := s.db.Where("sku = ?", sku).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Enrichment{}, false, nil
		}
		return domain.Enrichment{}, false, err
	}
	return enrichmentFromModel(model), true, nil
}

// SaveEnrichment inserts or updates the record holding e.SKU.
func (s *GormStore) SaveEnrichment(e domain.Enrichment) error {
	model := enrichmentToModel(e)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "condition", "improved_estimate", "improved_description",
			"quantity", "raw_data", "processed",
		}),
	}).Create(&model).Error
}

// CountEnrichments returns the number of enrichment records.
func (s *GormStore) CountEnrichments() (int, error) {
	var count int64
	if err := s.db.Model(&EnrichmentModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetScrapeResultByURL looks up a scrape result by its source URL.
func (s *GormStore) GetScrapeResultByURL(url string) (domain.ScrapeResult, bool, error) {
	return s.getScrapeResult("url_main = ?", url)
}

// GetScrapeResult looks up a scrape result by ID.
func (s *GormStore) GetScrapeResult(id string) (domain.ScrapeResult, bool, error) {
	return s.getScrapeResult("id = ?", id)
}

func (s *GormStore) getScrapeResult(cond string, arg any) (domain.ScrapeResult, bool, error) {
	var model ScrapeResultModel
	if err := s.db.Where(cond, arg).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ScrapeResult{}, false, nil
		}
		return domain.ScrapeResult{}, false, err
	}
	return scrapeResultFromModel(model), true, nil
}

// SaveScrapeResult inserts or updates the record holding r.URL.
func (s *GormStore) SaveScrapeResult(r domain.ScrapeResult) error {
	model := scrapeResultToModel(r)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url_main"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item_name", "lot_number", "description", "lead", "category", "estimate",
			"auction_name", "auctioneer", "auction_type", "auction_dates", "auction_location",
			"current_bid", "bid_count", "time_remaining", "shipping_available",
			"main_image_url", "all_unique_image_urls", "gallery_image_urls", "broad_search_images",
			"thumbnail_images", "ai_response", "raw_data", "status", "processed_at",
		}),
	}).Create(&model).Error
}

// ListScrapeResults returns scrape results with the given status, newest first.
// An empty status lists every record.
func (s *GormStore) ListScrapeResults(status domain.ScrapeStatus) ([]domain.ScrapeResult, error) {
	var models []ScrapeResultModel
	tx := s.db.Order("received_at DESC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ScrapeResult, 0, len(models))
	for _, m := range models {
		res = append(res, scrapeResultFromModel(m))
	}
	return res, nil
}

// DeleteScrapeResult removes a scrape result and clears references held by auction items.
func (s *GormStore) DeleteScrapeResult(id string) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AuctionItemModel{}).
			Where("scrape_result_id = ?", id).
			Update("scrape_result_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&ScrapeResultModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// ClearScrapeResults removes every scrape result and returns how many were deleted.
func (s *GormStore) ClearScrapeResults() (int, error) {
	var count int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AuctionItemModel{}).
			Where("scrape_result_id IS NOT NULL").
			Update("scrape_result_id", nil).Error; err != nil {
			return err
		}
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ScrapeResultModel{})
		if res.Error != nil {
			return res.Error
		}
		count = res.RowsAffected
		return nil
	})
	return int(count), err
}

// SaveAuctionItem stores or updates an auction item.
func (s *GormStore) SaveAuctionItem(item domain.AuctionItem) error {
	model := auctionItemToModel(item)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if model.ScrapeResultID != nil {
			var count int64
			if err := tx.Model(&ScrapeResultModel{}).Where("id = ?", *model.ScrapeResultID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrScrapeResultNotFound
			}
		}
		return tx.Omit("ScrapeResult").Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"scrape_result_id", "url", "auction_name", "item_name", "lot_number", "sku", "category",
				"description", "lead", "auction_site_estimate", "ai_estimate", "ai_description",
				"researcher_estimate", "researcher_description", "reference_urls", "photographer_quantity",
				"photographer_images", "assigned_to", "notes", "priority", "tags", "status", "updated_at",
			}),
		}).Create(&model).Error
	})
}

// GetAuctionItem returns an auction item by ID.
func (s *GormStore) GetAuctionItem(id string) (domain.AuctionItem, bool, error) {
	var model AuctionItemModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AuctionItem{}, false, nil
		}
		return domain.AuctionItem{}, false, err
	}
	return auctionItemFromModel(model), true, nil
}

// ListAuctionItems returns auction items newest first, optionally filtered by status.
func (s *GormStore) ListAuctionItems(status domain.ItemStatus) ([]domain.AuctionItem, error) {
	var models []AuctionItemModel
	tx := s.db.Order("created_at DESC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AuctionItem, 0, len(models))
	for _, m := range models {
		res = append(res, auctionItemFromModel(m))
	}
	return res, nil
}

// DeleteAuctionItem removes an auction item.
func (s *GormStore) DeleteAuctionItem(id string) (bool, error) {
	res := s.db.Delete(&AuctionItemModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func enrichmentToModel(e domain.Enrichment) EnrichmentModel {
	return EnrichmentModel{
		ID:                  e.ID,
		SKU:                 e.SKU,
		Title:               e.Title,
		Description:         e.Description,
		Condition:           e.Condition,
		ImprovedEstimate:    e.ImprovedEstimate,
		ImprovedDescription: e.ImprovedDescription,
		Quantity:            e.Quantity,
		RawData:             rawJSON(e.RawData),
		ReceivedAt:          e.ReceivedAt,
		Processed:           e.Processed,
	}
}

func enrichmentFromModel(m EnrichmentModel) domain.Enrichment {
	return domain.Enrichment{
		ID:                  m.ID,
		SKU:                 m.SKU,
		Title:               m.Title,
		Description:         m.Description,
		Condition:           m.Condition,
		ImprovedEstimate:    m.ImprovedEstimate,
		ImprovedDescription: m.ImprovedDescription,
		Quantity:            m.Quantity,
		RawData:             json.RawMessage(m.RawData),
		ReceivedAt:          m.ReceivedAt,
		Processed:           m.Processed,
	}
}

func scrapeResultToModel(r domain.ScrapeResult) ScrapeResultModel {
	return ScrapeResultModel{
		ID:                r.ID,
		URL:               r.URL,
		ItemName:          r.ItemName,
		LotNumber:         r.LotNumber,
		Description:       r.Description,
		Lead:              r.Lead,
		Category:          r.Category,
		Estimate:          r.Estimate,
		AuctionName:       r.AuctionName,
		Auctioneer:        r.Auctioneer,
		AuctionType:       r.AuctionType,
		AuctionDates:      r.AuctionDates,
		AuctionLocation:   r.AuctionLocation,
		CurrentBid:        r.CurrentBid,
		BidCount:          r.BidCount,
		TimeRemaining:     r.TimeRemaining,
		ShippingAvailable: r.ShippingAvailable,
		MainImageURL:      r.MainImageURL,
		AllImageURLs:      listJSON(r.AllImageURLs),
		GalleryImageURLs:  listJSON(r.GalleryImageURLs),
		BroadSearchImages: listJSON(r.BroadSearchImages),
		ThumbnailImages:   listJSON(r.ThumbnailImages),
		AIResponse:        r.AIResponse,
		RawData:           rawJSON(r.RawData),
		Status:            string(r.Status),
		ReceivedAt:        r.ReceivedAt,
		ProcessedAt:       r.ProcessedAt,
	}
}

func scrapeResultFromModel(m ScrapeResultModel) domain.ScrapeResult {
	return domain.ScrapeResult{
		ID:                m.ID,
		URL:               m.URL,
		ItemName:          m.ItemName,
		LotNumber:         m.LotNumber,
		Description:       m.Description,
		Lead:              m.Lead,
		Category:          m.Category,
		Estimate:          m.Estimate,
		AuctionName:       m.AuctionName,
		Auctioneer:        m.Auctioneer,
		AuctionType:       m.AuctionType,
		AuctionDates:      m.AuctionDates,
		AuctionLocation:   m.AuctionLocation,
		CurrentBid:        m.CurrentBid,
		BidCount:          m.BidCount,
		TimeRemaining:     m.TimeRemaining,
		ShippingAvailable: m.ShippingAvailable,
		MainImageURL:      m.MainImageURL,
		AllImageURLs:      listFromJSON(m.AllImageURLs),
		GalleryImageURLs:  listFromJSON(m.GalleryImageURLs),
		BroadSearchImages: listFromJSON(m.BroadSearchImages),
		ThumbnailImages:   listFromJSON(m.ThumbnailImages),
		AIResponse:        m.AIResponse,
		RawData:           json.RawMessage(m.RawData),
		Status:            domain.ScrapeStatus(m.Status),
		ReceivedAt:        m.ReceivedAt,
		ProcessedAt:       m.ProcessedAt,
	}
}

func auctionItemToModel(item domain.AuctionItem) AuctionItemModel {
	var scrapeResultID *string
	if v := strings.TrimSpace(item.ScrapeResultID); v != "" {
		scrapeResultID = &v
	}
	return AuctionItemModel{
		ID:                    item.ID,
		ScrapeResultID:        scrapeResultID,
		URL:                   item.URL,
		AuctionName:           item.AuctionName,
		ItemName:              item.ItemName,
		LotNumber:             item.LotNumber,
		SKU:                   item.SKU,
		Category:              item.Category,
		Description:           item.Description,
		Lead:                  item.Lead,
		AuctionSiteEstimate:   item.AuctionSiteEstimate,
		AIEstimate:            item.AIEstimate,
		AIDescription:         item.AIDescription,
		MainImageURL:          item.MainImageURL,
		ResearcherEstimate:    item.ResearcherEstimate,
		ResearcherDescription: item.ResearcherDescription,
		ReferenceURLs:         listJSON(item.ReferenceURLs),
		PhotographerQuantity:  item.PhotographerQuantity,
		PhotographerImages:    listJSON(item.PhotographerImages),
		AssignedTo:            item.AssignedTo,
		Notes:                 item.Notes,
		Priority:              string(item.Priority),
		Tags:                  listJSON(item.Tags),
		Status:                string(item.Status),
		CreatedAt:             item.CreatedAt,
		UpdatedAt:             item.UpdatedAt,
	}
}

func auctionItemFromModel(m AuctionItemModel) domain.AuctionItem {
	scrapeResultID := ""
	if m.ScrapeResultID != nil {
		scrapeResultID = *m.ScrapeResultID
	}
	return domain.AuctionItem{
		ID:                    m.ID,
		ScrapeResultID:        scrapeResultID,
		URL:                   m.URL,
		AuctionName:           m.AuctionName,
		ItemName:              m.ItemName,
		LotNumber:             m.LotNumber,
		SKU:                   m.SKU,
		Category:              m.Category,
		Description:           m.Description,
		Lead:                  m.Lead,
		AuctionSiteEstimate:   m.AuctionSiteEstimate,
		AIEstimate:            m.AIEstimate,
		AIDescription:         m.AIDescription,
		MainImageURL:          m.MainImageURL,
		ResearcherEstimate:    m.ResearcherEstimate,
		ResearcherDescription: m.ResearcherDescription,
		ReferenceURLs:         listFromJSON(m.ReferenceURLs),
		PhotographerQuantity:  m.PhotographerQuantity,
		PhotographerImages:    listFromJSON(m.PhotographerImages),
		AssignedTo:            m.AssignedTo,
		Notes:                 m.Notes,
		Priority:              domain.Priority(m.Priority),
		Tags:                  listFromJSON(m.Tags),
		Status:                domain.ItemStatus(m.Status),
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func rawJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func listJSON(list []string) []byte {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return data
}

func listFromJSON(data []byte) []string {
	var list []string
	if len(data) > 0 {
		_ = json.Unmarshal(data, &list)
	}
	if list == nil {
		return []string{}
	}
	return list
}
