package domain

import (
	"encoding/json"
	"time"
)

type ScrapeStatus string

const (
	ScrapePending   ScrapeStatus = "pending"
	ScrapeProcessed ScrapeStatus = "processed"
	ScrapeError     ScrapeStatus = "error"
)

// ItemStatus is the pipeline stage of an auction workflow item.
// Values are ordered as the pipeline progresses; see ItemStatuses.
type ItemStatus string

const (
	ItemResearch    ItemStatus = "research"
	ItemWaiting     ItemStatus = "waiting"
	ItemWinning     ItemStatus = "winning"
	ItemPhotography ItemStatus = "photography"
	ItemResearch2   ItemStatus = "research2"
	ItemFinalized   ItemStatus = "finalized"
)

// ItemStatuses lists every item status in pipeline order.
var ItemStatuses = []ItemStatus{
	ItemResearch,
	ItemWaiting,
	ItemWinning,
	ItemPhotography,
	ItemResearch2,
	ItemFinalized,
}

// Valid reports whether s is one of ItemStatuses.
func (s ItemStatus) Valid() bool {
	for _, status := range ItemStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Enrichment is the SKU-keyed record written back by the enrichment workflow.
type Enrichment struct {
	ID                  string          `json:"id"`
	SKU                 string          `json:"sku"`
	Title               string          `json:"ebay_title"`
	Description         string          `json:"ebay_description"`
	Condition           string          `json:"condition"`
	ImprovedEstimate    string          `json:"ai_improved_estimate"`
	ImprovedDescription string          `json:"ai_improved_description"`
	Quantity            int             `json:"quantity"`
	RawData             json.RawMessage `json:"raw_data,omitempty"`
	ReceivedAt          time.Time       `json:"received_at"`
	Processed           bool            `json:"processed"`
}

// ScrapeResult is the URL-keyed record holding data extracted from an auction listing page.
type ScrapeResult struct {
	ID                string          `json:"id"`
	URL               string          `json:"url_main"`
	ItemName          string          `json:"item_name"`
	LotNumber         string          `json:"lot_number"`
	Description       string          `json:"description"`
	Lead              string          `json:"lead"`
	Category          string          `json:"category"`
	Estimate          string          `json:"estimate"`
	AuctionName       string          `json:"auction_name"`
	Auctioneer        string          `json:"auctioneer"`
	AuctionType       string          `json:"auction_type"`
	AuctionDates      string          `json:"auction_dates"`
	AuctionLocation   string          `json:"auction_location"`
	CurrentBid        string          `json:"current_bid"`
	BidCount          string          `json:"bid_count"`
	TimeRemaining     string          `json:"time_remaining"`
	ShippingAvailable bool            `json:"shipping_available"`
	MainImageURL      string          `json:"main_image_url"`
	AllImageURLs      []string        `json:"all_unique_image_urls"`
	GalleryImageURLs  []string        `json:"gallery_image_urls"`
	BroadSearchImages []string        `json:"broad_search_images"`
	ThumbnailImages   []string        `json:"thumbnail_images"`
	AIResponse        string          `json:"ai_response"`
	RawData           json.RawMessage `json:"raw_data,omitempty"`
	Status            ScrapeStatus    `json:"status"`
	ReceivedAt        time.Time       `json:"received_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
}

// AuctionItem tracks an item through the manual research and photography pipeline.
type AuctionItem struct {
	ID                    string     `json:"id"`
	ScrapeResultID        string     `json:"scrape_result_id,omitempty"`
	URL                   string     `json:"url"`
	AuctionName           string     `json:"auction_name"`
	ItemName              string     `json:"item_name"`
	LotNumber             string     `json:"lot_number"`
	SKU                   string     `json:"sku"`
	Category              string     `json:"category"`
	Description           string     `json:"description"`
	Lead                  string     `json:"lead"`
	AuctionSiteEstimate   string     `json:"auction_site_estimate"`
	AIEstimate            string     `json:"ai_estimate"`
	AIDescription         string     `json:"ai_description"`
	ResearcherEstimate    string     `json:"researcher_estimate"`
	ResearcherDescription string     `json:"researcher_description"`
	MainImageURL          string     `json:"main_image_url"`
	ReferenceURLs         []string   `json:"reference_urls"`
	PhotographerQuantity  int        `json:"photographer_quantity"`
	PhotographerImages    []string   `json:"photographer_images"`
	AssignedTo            string     `json:"assigned_to"`
	Notes                 string     `json:"notes"`
	Priority              Priority   `json:"priority,omitempty"`
	Tags                  []string   `json:"tags"`
	Status                ItemStatus `json:"status"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
