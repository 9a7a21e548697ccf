package store

import (
	"errors"

	"auctionhook/pkg/domain"
)

// ErrScrapeResultNotFound is returned when an auction item references a scrape result that does not exist.
var ErrScrapeResultNotFound = errors.New("scrape result not found")

// Store defines persistence for enrichment records, scrape results and auction items.
// Lookups report a missing record as (zero, false, nil).
type Store interface {
	// enrichment records, keyed by SKU
	GetEnrichment(sku string) (domain.Enrichment, bool, error)
	SaveEnrichment(domain.Enrichment) error
	CountEnrichments() (int, error)

	// scrape results, keyed by source URL
	GetScrapeResultByURL(url string) (domain.ScrapeResult, bool, error)
	GetScrapeResult(id string) (domain.ScrapeResult, bool, error)
	SaveScrapeResult(domain.ScrapeResult) error
	ListScrapeResults(status domain.ScrapeStatus) ([]domain.ScrapeResult, error)
	DeleteScrapeResult(id string) (bool, error)
	ClearScrapeResults() (int, error)

	// auction workflow items
	SaveAuctionItem(domain.AuctionItem) error
	GetAuctionItem(id string) (domain.AuctionItem, bool, error)
	ListAuctionItems(status domain.ItemStatus) ([]domain.AuctionItem, error)
	DeleteAuctionItem(id string) (bool, error)
}
