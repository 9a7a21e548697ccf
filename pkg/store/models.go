package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type EnrichmentModel struct {
	ID                  string `gorm:"primaryKey;size:64"`
	SKU                 string `gorm:"size:191;uniqueIndex;not null"`
	Title               string
	Description         string `gorm:"type:text"`
	Condition           string
	ImprovedEstimate    string
	ImprovedDescription string `gorm:"type:text"`
	Quantity            int `gorm:"not null;default:1"`
	RawData             datatypes.JSON
	ReceivedAt          time.Time `gorm:"not null;index"`
	Processed           bool      `gorm:"not null;default:false"`
}

type ScrapeResultModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	URL               string `gorm:"column:url_main;size:768;uniqueIndex;not null"`
	ItemName          string
	LotNumber         string
	Description       string `gorm:"type:text"`
	Lead              string `gorm:"type:text"`
	Category          string
	Estimate          string
	AuctionName       string
	Auctioneer        string
	AuctionType       string
	AuctionDates      string
	AuctionLocation   string
	CurrentBid        string
	BidCount          string
	TimeRemaining     string
	ShippingAvailable bool
	MainImageURL      string `gorm:"column:main_image_url;type:text"`
	AllImageURLs      datatypes.JSON `gorm:"column:all_unique_image_urls"`
	GalleryImageURLs  datatypes.JSON `gorm:"column:gallery_image_urls"`
	BroadSearchImages datatypes.JSON
	ThumbnailImages   datatypes.JSON
	AIResponse        string `gorm:"column:ai_response;type:text"`
	RawData           datatypes.JSON
	Status            string    `gorm:"size:16;not null;index"`
	ReceivedAt        time.Time `gorm:"not null;index"`
	ProcessedAt       *time.Time
}

type AuctionItemModel struct {
	ID                    string             `gorm:"primaryKey;size:64"`
	ScrapeResultID        *string            `gorm:"size:64;index"`
	ScrapeResult          *ScrapeResultModel `gorm:"foreignKey:ScrapeResultID;constraint:OnDelete:SET NULL"`
	URL                   string             `gorm:"type:text"`
	AuctionName           string
	ItemName              string
	LotNumber             string
	SKU                   string `gorm:"index;size:191"`
	Category              string
	Description           string `gorm:"type:text"`
	Lead                  string `gorm:"type:text"`
	AuctionSiteEstimate   string
	AIEstimate            string `gorm:"column:ai_estimate"`
	AIDescription         string `gorm:"column:ai_description;type:text"`
	ResearcherEstimate    string
	ResearcherDescription string         `gorm:"type:text"`
	MainImageURL          string         `gorm:"column:main_image_url;type:text"`
	ReferenceURLs         datatypes.JSON `gorm:"column:reference_urls"`
	PhotographerQuantity  int
	PhotographerImages    datatypes.JSON
	AssignedTo            string
	Notes                 string `gorm:"type:text"`
	Priority              string `gorm:"size:16"`
	Tags                  datatypes.JSON
	Status                string    `gorm:"size:16;not null;index"`
	CreatedAt             time.Time `gorm:"not null;index"`
	UpdatedAt             time.Time `gorm:"not null"`
}
