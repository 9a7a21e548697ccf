package domain

import (
	"encoding/json"
	"time"
)

// EnrichmentInput carries the tracked fields of one enrichment webhook call.
type EnrichmentInput struct {
	SKU                 string
	Title               string
	Description         string
	Condition           string
	ImprovedEstimate    string
	ImprovedDescription string
	Quantity            int
	Raw                 json.RawMessage
}

// ScrapeInput carries the tracked fields of one scrape-result webhook call.
// ShippingAvailable is nil when the payload did not mention shipping.
// ItemID names the placeholder auction item the scrape was requested for, if any.
type ScrapeInput struct {
	URL               string
	ItemID            string
	ItemName          string
	LotNumber         string
	Description       string
	Lead              string
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
	ShippingAvailable *bool
	MainImageURL      string
	AllImageURLs      []string
	GalleryImageURLs  []string
	BroadSearchImages []string
	ThumbnailImages   []string
	AIResponse        string
	Raw               json.RawMessage
}

// NewEnrichment builds a fresh record from the first payload seen for a SKU.
func NewEnrichment(id string, in EnrichmentInput, now time.Time) Enrichment {
	quantity := in.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	return Enrichment{
		ID:                  id,
		SKU:                 in.SKU,
		Title:               in.Title,
		Description:         in.Description,
		Condition:           in.Condition,
		ImprovedEstimate:    in.ImprovedEstimate,
		ImprovedDescription: in.ImprovedDescription,
		Quantity:            quantity,
		RawData:             in.Raw,
		ReceivedAt:          now.UTC(),
	}
}

// MergeEnrichment overlays non-empty incoming values on an existing record.
// Identity, received_at and the processed flag are kept; the raw payload is always replaced.
func MergeEnrichment(existing Enrichment, in EnrichmentInput) Enrichment {
	out := existing
	out.Title = prefer(in.Title, existing.Title)
	out.Description = prefer(in.Description, existing.Description)
	out.Condition = prefer(in.Condition, existing.Condition)
	out.ImprovedEstimate = prefer(in.ImprovedEstimate, existing.ImprovedEstimate)
	out.ImprovedDescription = prefer(in.ImprovedDescription, existing.ImprovedDescription)
	if in.Quantity > 0 {
		out.Quantity = in.Quantity
	}
	out.RawData = in.Raw
	return out
}

// NewScrapeResult builds a processed record from the first payload seen for a URL.
func NewScrapeResult(id string, in ScrapeInput, now time.Time) ScrapeResult {
	now = now.UTC()
	res := MergeScrapeResult(ScrapeResult{ID: id, URL: in.URL, ReceivedAt: now}, in, now)
	return res
}

// MergeScrapeResult overlays non-empty incoming values on an existing record and marks it processed.
func MergeScrapeResult(existing ScrapeResult, in ScrapeInput, now time.Time) ScrapeResult {
	out := existing
	out.ItemName = prefer(in.ItemName, existing.ItemName)
	out.LotNumber = prefer(in.LotNumber, existing.LotNumber)
	out.Description = prefer(in.Description, existing.Description)
	out.Lead = prefer(in.Lead, existing.Lead)
	out.Category = prefer(in.Category, existing.Category)
	out.Estimate = prefer(in.Estimate, existing.Estimate)
	out.AuctionName = prefer(in.AuctionName, existing.AuctionName)
	out.Auctioneer = prefer(in.Auctioneer, existing.Auctioneer)
	out.AuctionType = prefer(in.AuctionType, existing.AuctionType)
	out.AuctionDates = prefer(in.AuctionDates, existing.AuctionDates)
	out.AuctionLocation = prefer(in.AuctionLocation, existing.AuctionLocation)
	out.CurrentBid = prefer(in.CurrentBid, existing.CurrentBid)
	out.BidCount = prefer(in.BidCount, existing.BidCount)
	out.TimeRemaining = prefer(in.TimeRemaining, existing.TimeRemaining)
	if in.ShippingAvailable != nil {
		out.ShippingAvailable = *in.ShippingAvailable
	}
	out.MainImageURL = prefer(in.MainImageURL, existing.MainImageURL)
	out.AllImageURLs = nonNil(preferList(in.AllImageURLs, existing.AllImageURLs))
	out.GalleryImageURLs = nonNil(preferList(in.GalleryImageURLs, existing.GalleryImageURLs))
	out.BroadSearchImages = nonNil(preferList(in.BroadSearchImages, existing.BroadSearchImages))
	out.ThumbnailImages = nonNil(preferList(in.ThumbnailImages, existing.ThumbnailImages))
	out.AIResponse = prefer(in.AIResponse, existing.AIResponse)
	out.RawData = in.Raw
	out.Status = ScrapeProcessed
	processedAt := now.UTC()
	out.ProcessedAt = &processedAt
	return out
}

// MergeAuctionItem applies the non-empty fields of patch to existing.
// A zero PhotographerQuantity and nil lists leave the stored values untouched.
func MergeAuctionItem(existing, patch AuctionItem, now time.Time) AuctionItem {
	out := existing
	out.ScrapeResultID = prefer(patch.ScrapeResultID, existing.ScrapeResultID)
	out.URL = prefer(patch.URL, existing.URL)
	out.AuctionName = prefer(patch.AuctionName, existing.AuctionName)
	out.ItemName = prefer(patch.ItemName, existing.ItemName)
	out.LotNumber = prefer(patch.LotNumber, existing.LotNumber)
	out.SKU = prefer(patch.SKU, existing.SKU)
	out.Category = prefer(patch.Category, existing.Category)
	out.Description = prefer(patch.Description, existing.Description)
	out.Lead = prefer(patch.Lead, existing.Lead)
	out.AuctionSiteEstimate = prefer(patch.AuctionSiteEstimate, existing.AuctionSiteEstimate)
	out.AIEstimate = prefer(patch.AIEstimate, existing.AIEstimate)
	out.AIDescription = prefer(patch.AIDescription, existing.AIDescription)
	out.MainImageURL = prefer(patch.MainImageURL, existing.MainImageURL)
	out.ResearcherEstimate = prefer(patch.ResearcherEstimate, existing.ResearcherEstimate)
	out.ResearcherDescription = prefer(patch.ResearcherDescription, existing.ResearcherDescription)
	out.AssignedTo = prefer(patch.AssignedTo, existing.AssignedTo)
	out.Notes = prefer(patch.Notes, existing.Notes)
	if patch.Priority != PriorityNone {
		out.Priority = patch.Priority
	}
	if patch.Status != "" {
		out.Status = patch.Status
	}
	if patch.PhotographerQuantity > 0 {
		out.PhotographerQuantity = patch.PhotographerQuantity
	}
	if patch.ReferenceURLs != nil {
		out.ReferenceURLs = patch.ReferenceURLs
	}
	if patch.PhotographerImages != nil {
		out.PhotographerImages = patch.PhotographerImages
	}
	if patch.Tags != nil {
		out.Tags = patch.Tags
	}
	out.UpdatedAt = now.UTC()
	return out
}

// ScrapePatch links item to res and fills the item fields still empty from the
// scraped values. Applied with MergeAuctionItem it moves the item to research.
func ScrapePatch(item AuctionItem, res ScrapeResult) AuctionItem {
	return AuctionItem{
		ScrapeResultID:      res.ID,
		URL:                 fill(item.URL, res.URL),
		AuctionName:         fill(item.AuctionName, res.AuctionName),
		ItemName:            fill(item.ItemName, res.ItemName),
		LotNumber:           fill(item.LotNumber, res.LotNumber),
		Category:            fill(item.Category, res.Category),
		Description:         fill(item.Description, res.Description),
		Lead:                fill(item.Lead, res.Lead),
		AuctionSiteEstimate: fill(item.AuctionSiteEstimate, res.Estimate),
		AIDescription:       fill(item.AIDescription, res.AIResponse),
		MainImageURL:        fill(item.MainImageURL, res.MainImageURL),
		Status:              ItemResearch,
	}
}

// fill returns scraped only when current is empty, so the merge leaves set fields alone.
func fill(current, scraped string) string {
	if current != "" {
		return ""
	}
	return scraped
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func prefer(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func preferList(incoming, existing []string) []string {
	if len(incoming) > 0 {
		return incoming
	}
	return existing
}
