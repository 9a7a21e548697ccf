package store

import (
	"errors"
	"testing"
	"time"

	"auctionhook/pkg/domain"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*GormStore)(nil)

func TestMemoryStoreEnrichmentUpsertKeepsIdentity(t *testing.T) {
	s := NewMemoryStore()
	first := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	if err := s.SaveEnrichment(domain.Enrichment{ID: "e-1", SKU: "A-1(a)", Condition: "Used", ReceivedAt: first}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveEnrichment(domain.Enrichment{ID: "e-2", SKU: "A-1(a)", Condition: "New", ReceivedAt: first.Add(time.Hour)}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	count, _ := s.CountEnrichments()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	got, ok, err := s.GetEnrichment("A-1(a)")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ID != "e-1" || !got.ReceivedAt.Equal(first) {
		t.Fatalf("identity changed: %+v", got)
	}
	if got.Condition != "New" {
		t.Fatalf("condition = %q", got.Condition)
	}
}

func TestMemoryStoreMissingEnrichment(t *testing.T) {
	_, ok, err := NewMemoryStore().GetEnrichment("UNKNOWN")
	if ok || err != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestMemoryStoreListScrapeResultsFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	records := []domain.ScrapeResult{
		{ID: "s-1", URL: "https://hibid.com/lot/1", Status: domain.ScrapeProcessed, ReceivedAt: base},
		{ID: "s-2", URL: "https://hibid.com/lot/2", Status: domain.ScrapePending, ReceivedAt: base.Add(time.Minute)},
		{ID: "s-3", URL: "https://hibid.com/lot/3", Status: domain.ScrapeProcessed, ReceivedAt: base.Add(2 * time.Minute)},
		{ID: "s-4", URL: "https://hibid.com/lot/4", Status: domain.ScrapeError, ReceivedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		if err := s.SaveScrapeResult(r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	got, err := s.ListScrapeResults(domain.ScrapeProcessed)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s-3" || got[1].ID != "s-1" {
		t.Fatalf("unexpected list: %+v", got)
	}
	all, _ := s.ListScrapeResults("")
	if len(all) != 4 {
		t.Fatalf("all = %d, want 4", len(all))
	}
}

func TestMemoryStoreDeleteScrapeResultClearsReferences(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveScrapeResult(domain.ScrapeResult{ID: "s-1", URL: "https://hibid.com/lot/1", Status: domain.ScrapeProcessed})
	if err := s.SaveAuctionItem(domain.AuctionItem{ID: "i-1", ScrapeResultID: "s-1", Status: domain.ItemResearch}); err != nil {
		t.Fatalf("save item: %v", err)
	}

	deleted, err := s.DeleteScrapeResult("s-1")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	item, ok, _ := s.GetAuctionItem("i-1")
	if !ok {
		t.Fatalf("auction item should survive scrape result deletion")
	}
	if item.ScrapeResultID != "" {
		t.Fatalf("reference not cleared: %q", item.ScrapeResultID)
	}
	if _, ok, _ := s.GetScrapeResultByURL("https://hibid.com/lot/1"); ok {
		t.Fatalf("url index not cleared")
	}
}

func TestMemoryStoreClearScrapeResults(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveScrapeResult(domain.ScrapeResult{ID: "s-1", URL: "u1"})
	_ = s.SaveScrapeResult(domain.ScrapeResult{ID: "s-2", URL: "u2"})
	_ = s.SaveAuctionItem(domain.AuctionItem{ID: "i-1", ScrapeResultID: "s-2"})

	n, err := s.ClearScrapeResults()
	if err != nil || n != 2 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	item, _, _ := s.GetAuctionItem("i-1")
	if item.ScrapeResultID != "" {
		t.Fatalf("reference not cleared")
	}
}

func TestMemoryStoreAuctionItemRequiresExistingScrapeResult(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveAuctionItem(domain.AuctionItem{ID: "i-1", ScrapeResultID: "missing"})
	if !errors.Is(err, ErrScrapeResultNotFound) {
		t.Fatalf("err = %v, want ErrScrapeResultNotFound", err)
	}
}

func TestMemoryStoreListAuctionItemsByStatus(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	_ = s.SaveAuctionItem(domain.AuctionItem{ID: "i-1", Status: domain.ItemResearch, CreatedAt: base})
	_ = s.SaveAuctionItem(domain.AuctionItem{ID: "i-2", Status: domain.ItemResearch2, CreatedAt: base.Add(time.Second)})
	_ = s.SaveAuctionItem(domain.AuctionItem{ID: "i-3", Status: domain.ItemResearch, CreatedAt: base.Add(2 * time.Second)})

	got, _ := s.ListAuctionItems(domain.ItemResearch)
	if len(got) != 2 || got[0].ID != "i-3" {
		t.Fatalf("unexpected list: %+v", got)
	}
	deleted, _ := s.DeleteAuctionItem("i-3")
	if !deleted {
		t.Fatalf("expected delete to report true")
	}
	if deleted, _ := s.DeleteAuctionItem("i-3"); deleted {
		t.Fatalf("second delete should report false")
	}
}
