// Package payload turns webhook bodies from the automation workflow into typed ingestion inputs.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"auctionhook/pkg/domain"
)

// DefaultMarketplaceMarkers identifies listing URLs whose scrape results are ingested.
var DefaultMarketplaceMarkers = []string{"hibid.com"}

var (
	ErrUnrecognized = errors.New("unrecognized payload: expected a scrape result with a marketplace url_main or an enrichment record with sku")
	ErrMissingSKU   = errors.New("sku is required in webhook data")
	ErrInvalidJSON  = errors.New("invalid JSON body")
)

// Kind tags which variant a Payload holds.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindScrape
	KindEnrichment
)

func (k Kind) String() string {
	switch k {
	case KindScrape:
		return "scrape"
	case KindEnrichment:
		return "enrichment"
	default:
		return "unrecognized"
	}
}

// Payload is a classified webhook body. Exactly one of Scrape or Enrichment is set
// when Kind is KindScrape or KindEnrichment.
type Payload struct {
	Kind       Kind
	Scrape     *domain.ScrapeInput
	Enrichment *domain.EnrichmentInput
}

// Classifier recognizes ingestion payload shapes.
type Classifier struct {
	markers []string
}

// NewClassifier returns a classifier matching the given marketplace markers.
// Empty input falls back to DefaultMarketplaceMarkers.
func NewClassifier(markers []string) *Classifier {
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			normalized = append(normalized, m)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, DefaultMarketplaceMarkers...)
	}
	return &Classifier{markers: normalized}
}

// Classify decodes body, unwraps workflow envelopes and returns the matching variant.
// The returned input keeps body verbatim as its raw payload.
func (c *Classifier) Classify(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Payload{}, ErrInvalidJSON
	}
	fields, err := unwrap(v)
	if err != nil {
		return Payload{}, err
	}
	raw := json.RawMessage(bytes.TrimSpace(body))

	if url := firstString(fields, "url_main", "url"); url != "" && c.IsMarketplaceURL(url) {
		in := scrapeInput(url, fields, raw)
		in.ItemID = itemID(v, fields)
		return Payload{Kind: KindScrape, Scrape: &in}, nil
	}
	if _, ok := fields["sku"]; ok {
		in, err := enrichmentInput(fields, raw)
		if err != nil {
			return Payload{Kind: KindEnrichment}, err
		}
		return Payload{Kind: KindEnrichment, Enrichment: &in}, nil
	}
	return Payload{Kind: KindUnrecognized}, ErrUnrecognized
}

// IsMarketplaceURL reports whether url contains one of the configured markers.
func (c *Classifier) IsMarketplaceURL(url string) bool {
	lower := strings.ToLower(url)
	for _, m := range c.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func enrichmentInput(m map[string]any, raw json.RawMessage) (domain.EnrichmentInput, error) {
	sku := firstString(m, "sku")
	if sku == "" {
		return domain.EnrichmentInput{}, ErrMissingSKU
	}
	return domain.EnrichmentInput{
		SKU:                 sku,
		Title:               firstString(m, "ebay_title", "title"),
		Description:         firstString(m, "ebay_description"),
		Condition:           firstString(m, "condition"),
		ImprovedEstimate:    firstString(m, "ai_improved_estimate"),
		ImprovedDescription: firstString(m, "ai_improved_description"),
		Quantity:            intValue(m["quantity"]),
		Raw:                 raw,
	}, nil
}

func scrapeInput(url string, m map[string]any, raw json.RawMessage) domain.ScrapeInput {
	return domain.ScrapeInput{
		URL:               url,
		ItemName:          firstString(m, "item_name", "title", "name", "lot_title", "item_title", "lot_name", "product_name", "description"),
		LotNumber:         firstString(m, "lot_number"),
		Description:       firstString(m, "description"),
		Lead:              firstString(m, "lead"),
		Category:          firstString(m, "category"),
		Estimate:          firstString(m, "estimate"),
		AuctionName:       firstString(m, "auction_name"),
		Auctioneer:        firstString(m, "auctioneer"),
		AuctionType:       firstString(m, "auction_type"),
		AuctionDates:      firstString(m, "auction_dates"),
		AuctionLocation:   firstString(m, "auction_location"),
		CurrentBid:        firstString(m, "current_bid"),
		BidCount:          firstString(m, "bid_count"),
		TimeRemaining:     firstString(m, "time_remaining"),
		ShippingAvailable: boolValue(m, "shipping_available", "shipping"),
		MainImageURL:      firstString(m, "main_image_url"),
		AllImageURLs:      stringList(m["all_unique_image_urls"]),
		GalleryImageURLs:  stringList(m["gallery_image_urls"]),
		BroadSearchImages: stringList(m["broad_search_images"]),
		ThumbnailImages:   firstList(m, "tumbnail_images", "thumbnail_images", "thumbnail_urls"),
		AIResponse:        firstString(m, "ai_response", "cleanedOutput", "rawOutput"),
		Raw:               raw,
	}
}

// itemID finds the placeholder auction item a scrape result was requested for.
// The workflow may echo it at the root, on the first array element, under that
// element's json or body, or inside the scraped fields.
func itemID(root any, fields map[string]any) string {
	switch t := root.(type) {
	case map[string]any:
		if id := firstString(t, "itemId"); id != "" {
			return id
		}
	case []any:
		if first, ok := t[0].(map[string]any); ok {
			if id := firstString(first, "itemId", "id"); id != "" {
				return id
			}
			for _, key := range []string{"json", "body"} {
				if nested, ok := first[key].(map[string]any); ok {
					if id := firstString(nested, "itemId", "id"); id != "" {
						return id
					}
				}
			}
		}
	}
	return firstString(fields, "itemId", "item_id")
}

// unwrap flattens the envelope shapes the workflow service emits into one field map.
func unwrap(v any) (map[string]any, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, ErrUnrecognized
		}
		first, ok := t[0].(map[string]any)
		if !ok {
			return nil, ErrUnrecognized
		}
		if rawOutput, ok := first["rawOutput"].(string); ok && strings.TrimSpace(rawOutput) != "" {
			inner, err := decodeObject(rawOutput)
			if err != nil {
				return nil, fmt.Errorf("rawOutput is not a JSON object: %w", ErrInvalidJSON)
			}
			setDefault(inner, "ai_response", rawOutput)
			setDefault(inner, "gallery_image_urls", inner["all_unique_image_urls"])
			setDefault(inner, "broad_search_images", inner["all_unique_image_urls"])
			return inner, nil
		}
		if output, ok := first["output"].(map[string]any); ok {
			setDefault(output, "gallery_image_urls", output["all_unique_image_urls"])
			return output, nil
		}
		return first, nil
	case map[string]any:
		if inner, ok := httpDataJSON(t); ok {
			if images, ok := inner["image_data"].(map[string]any); ok {
				for _, key := range []string{"main_image_url", "gallery_image_urls", "broad_search_images", "thumbnail_urls"} {
					setDefault(inner, key, images[key])
				}
			}
			setDefault(inner, "ai_response", firstNonEmpty(t["cleanedOutput"], t["rawOutput"]))
			setDefault(inner, "url_main", t["url_main"])
			return inner, nil
		}
		return t, nil
	default:
		return nil, ErrUnrecognized
	}
}

func httpDataJSON(m map[string]any) (map[string]any, bool) {
	list, ok := m["httpData"].([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := first["json"].(map[string]any)
	return inner, ok
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("null object")
	}
	return out, nil
}

func setDefault(m map[string]any, key string, value any) {
	if isEmpty(m[key]) && !isEmpty(value) {
		m[key] = value
	}
}

func firstNonEmpty(values ...any) any {
	for _, v := range values {
		if !isEmpty(v) {
			return v
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func intValue(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}

func boolValue(m map[string]any, keys ...string) *bool {
	for _, key := range keys {
		switch t := m[key].(type) {
		case bool:
			return &t
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return &b
			}
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "yes", "available":
				b := true
				return &b
			case "no", "unavailable":
				b := false
				return &b
			}
		}
	}
	return nil
}

func firstList(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		if list := stringList(m[key]); len(list) > 0 {
			return list
		}
	}
	return nil
}

// stringList accepts a JSON array of strings or a comma-separated string.
func stringList(v any) []string {
	var parts []string
	switch t := v.(type) {
	case []any:
		parts = make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringValue(item))
		}
	case string:
		parts = strings.Split(t, ",")
	default:
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
