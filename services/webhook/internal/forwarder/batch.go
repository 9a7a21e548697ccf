package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auctionhook/internal/util"
	"auctionhook/pkg/domain"
)

// ErrInvalidQuantity is returned for a quantity outside 1..MaxUnits.
var ErrInvalidQuantity = fmt.Errorf("quantity must be between 1 and %d", MaxUnits)

// Text accepts a JSON string or number and keeps it as a string.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*t = Text(n.String())
	return nil
}

// PhotographyRequest is the operator's photography submission for one lot.
type PhotographyRequest struct {
	AuctionName                    Text            `json:"auction_name"`
	ItemName                       Text            `json:"item_name"`
	LotNumber                      Text            `json:"lot_number"`
	Description                    Text            `json:"description"`
	Lead                           Text            `json:"lead"`
	FirstEstimate                  Text            `json:"first_estimate"`
	Category                       Text            `json:"category"`
	PreviousAIEstimate             Text            `json:"previous_ai_estimate"`
	PreviousAIDescription          Text            `json:"previous_ai_description"`
	HumanResearcherEstimate        Text            `json:"human_researcher_estimate"`
	HumanResearcherDescription     Text            `json:"human_researcher_description"`
	HumanResearcherSupportingLinks []string        `json:"human_researcher_supporting_links"`
	Quantity                       Text            `json:"quantity"`
	Photos                         json.RawMessage `json:"photos"`
}

// Units returns the requested unit count. An absent quantity means 1.
func (r PhotographyRequest) Units() (int, error) {
	if r.Quantity == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(string(r.Quantity))
	if err != nil || n < 1 || n > MaxUnits {
		return 0, ErrInvalidQuantity
	}
	return n, nil
}

type unitPayload struct {
	AuctionName                    Text            `json:"auction_name"`
	ItemName                       Text            `json:"item_name"`
	LotNumber                      Text            `json:"lot_number"`
	Description                    Text            `json:"description"`
	Lead                           Text            `json:"lead"`
	FirstEstimate                  Text            `json:"first_estimate"`
	Category                       Text            `json:"category"`
	PreviousAIEstimate             Text            `json:"previous_ai_estimate"`
	PreviousAIDescription          Text            `json:"previous_ai_description"`
	HumanResearcherEstimate        Text            `json:"human_researcher_estimate"`
	HumanResearcherDescription     Text            `json:"human_researcher_description"`
	HumanResearcherSupportingLinks []string        `json:"human_researcher_supporting_links"`
	Quantity                       int             `json:"quantity"`
	SKU                            string          `json:"sku"`
	Photos                         json.RawMessage `json:"photos"`
}

// UnitResponse is the upstream reply recorded for one unit.
type UnitResponse struct {
	SKU      string          `json:"sku"`
	Status   int             `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Research2Item is the dashboard card synthesized for one submitted unit.
type Research2Item struct {
	ID                    string          `json:"id"`
	SKU                   string          `json:"sku"`
	AuctionName           string          `json:"auctionName"`
	ItemName              string          `json:"itemName"`
	LotNumber             string          `json:"lotNumber"`
	Description           string          `json:"description"`
	Lead                  string          `json:"lead"`
	AuctionSiteEstimate   string          `json:"auctionSiteEstimate"`
	Category              string          `json:"category"`
	AIEstimate            string          `json:"aiEstimate"`
	AIDescription         string          `json:"aiDescription"`
	ResearcherEstimate    string          `json:"researcherEstimate"`
	ResearcherDescription string          `json:"researcherDescription"`
	ReferenceURLs         []string        `json:"referenceUrls"`
	PhotographerQuantity  int             `json:"photographerQuantity"`
	PhotographerImages    json.RawMessage `json:"photographerImages"`
	Status                string          `json:"status"`
	WebhookResponse       json.RawMessage `json:"webhookResponse"`
	CreatedAt             int64           `json:"createdAt"`
}

// BatchResult collects every completed unit of a submission.
// Requested is the unit count asked for; a shorter Responses slice means the batch stopped early.
type BatchResult struct {
	Requested int
	Responses []UnitResponse
	Items     []Research2Item
}

// Completed is the number of units that got an upstream reply.
func (b BatchResult) Completed() int { return len(b.Responses) }

// Photographer submits photography batches one unit at a time, pausing between calls.
type Photographer struct {
	client  *Client
	clock   Clock
	spacing time.Duration
}

// NewPhotographer builds a batch submitter. A nil clock means the wall clock.
func NewPhotographer(client *Client, spacing time.Duration, clock Clock) *Photographer {
	if clock == nil {
		clock = SystemClock()
	}
	return &Photographer{client: client, clock: clock, spacing: spacing}
}

type unitTask struct {
	sku     string
	payload unitPayload
}

func plan(req PhotographyRequest) ([]unitTask, error) {
	n, err := req.Units()
	if err != nil {
		return nil, err
	}
	links := req.HumanResearcherSupportingLinks
	if links == nil {
		links = []string{}
	}
	photos := req.Photos
	if len(bytes.TrimSpace(photos)) == 0 || bytes.Equal(bytes.TrimSpace(photos), []byte("null")) {
		photos = json.RawMessage("[]")
	}
	prefix := SKUPrefix(string(req.AuctionName), string(req.LotNumber))
	tasks := make([]unitTask, 0, n)
	for i := 0; i < n; i++ {
		sku := UnitSKU(prefix, i)
		tasks = append(tasks, unitTask{
			sku: sku,
			payload: unitPayload{
				AuctionName:                    req.AuctionName,
				ItemName:                       req.ItemName,
				LotNumber:                      req.LotNumber,
				Description:                    req.Description,
				Lead:                           req.Lead,
				FirstEstimate:                  req.FirstEstimate,
				Category:                       req.Category,
				PreviousAIEstimate:             req.PreviousAIEstimate,
				PreviousAIDescription:          req.PreviousAIDescription,
				HumanResearcherEstimate:        req.HumanResearcherEstimate,
				HumanResearcherDescription:     req.HumanResearcherDescription,
				HumanResearcherSupportingLinks: links,
				Quantity:                       1,
				SKU:                            sku,
				Photos:                         photos,
			},
		})
	}
	return tasks, nil
}

// Submit runs the batch. Non-2xx replies are recorded and the batch goes on.
// A transport failure or a cancelled pause stops it: the units completed so far
// are returned together with the error.
func (p *Photographer) Submit(ctx context.Context, req PhotographyRequest) (BatchResult, error) {
	tasks, err := plan(req)
	if err != nil {
		return BatchResult{}, err
	}
	logger := util.LoggerFromContext(ctx)
	out := BatchResult{
		Requested: len(tasks),
		Responses: make([]UnitResponse, 0, len(tasks)),
		Items:     make([]Research2Item, 0, len(tasks)),
	}
	for i, task := range tasks {
		started := p.clock.Now()
		res, err := p.client.Post(ctx, task.payload)
		if err != nil {
			logger.Error("photography call failed", "sku", task.sku, "unit", i+1, "units", len(tasks), "err", err)
			return out, fmt.Errorf("unit %s: %w", task.sku, err)
		}
		logger.Info("photography call", "sku", task.sku, "unit", i+1, "units", len(tasks), "webhook_status", res.StatusCode)
		out.Responses = append(out.Responses, UnitResponse{SKU: task.sku, Status: res.StatusCode, Response: res.Body})
		out.Items = append(out.Items, research2Item(task, res, started))

		if i < len(tasks)-1 {
			if err := p.clock.Sleep(ctx, p.spacing); err != nil {
				return out, fmt.Errorf("pause after %s: %w", task.sku, err)
			}
		}
	}
	return out, nil
}

func research2Item(task unitTask, res Result, at time.Time) Research2Item {
	p := task.payload
	unix := at.Unix()
	return Research2Item{
		ID:                    task.sku + "-" + strconv.FormatInt(unix, 10),
		SKU:                   task.sku,
		AuctionName:           string(p.AuctionName),
		ItemName:              string(p.ItemName),
		LotNumber:             string(p.LotNumber),
		Description:           string(p.Description),
		Lead:                  string(p.Lead),
		AuctionSiteEstimate:   string(p.FirstEstimate),
		Category:              string(p.Category),
		AIEstimate:            string(p.PreviousAIEstimate),
		AIDescription:         string(p.PreviousAIDescription),
		ResearcherEstimate:    string(p.HumanResearcherEstimate),
		ResearcherDescription: string(p.HumanResearcherDescription),
		ReferenceURLs:         p.HumanResearcherSupportingLinks,
		PhotographerQuantity:  1,
		PhotographerImages:    p.Photos,
		Status:                string(domain.ItemResearch2),
		WebhookResponse:       res.Body,
		CreatedAt:             unix,
	}
}

// IsTransport reports whether err came from failing to reach the automation service.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
