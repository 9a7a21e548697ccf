package store

import (
	"sort"
	"sync"

	"auctionhook/pkg/domain"
)

// MemoryStore keeps records in-process. It backs local runs and handler tests.
type MemoryStore struct {
	mu          sync.RWMutex
	enrichments map[string]domain.Enrichment   // sku -> record
	scrapes     map[string]domain.ScrapeResult // id -> record
	scrapeByURL map[string]string              // url -> id
	items       map[string]domain.AuctionItem
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrichments: make(map[string]domain.Enrichment),
		scrapes:     make(map[string]domain.ScrapeResult),
		scrapeByURL: make(map[string]string),
		items:       make(map[string]domain.AuctionItem),
	}
}

func (m *MemoryStore) GetEnrichment(sku string) (domain.Enrichment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrichments[sku]
	return e, ok, nil
}

// SaveEnrichment stores e under its SKU. An existing record keeps its ID and received time.
func (m *MemoryStore) SaveEnrichment(e domain.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.enrichments[e.SKU]; ok {
		e.ID = existing.ID
		e.ReceivedAt = existing.ReceivedAt
	}
	m.enrichments[e.SKU] = e
	return nil
}

func (m *MemoryStore) CountEnrichments() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.enrichments), nil
}

func (m *MemoryStore) GetScrapeResultByURL(url string) (domain.ScrapeResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.scrapeByURL[url]
	if !ok {
		return domain.ScrapeResult{}, false, nil
	}
	r, ok := m.scrapes[id]
	return r, ok, nil
}

func (m *MemoryStore) GetScrapeResult(id string) (domain.ScrapeResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.scrapes[id]
	return r, ok, nil
}

// SaveScrapeResult stores r under its URL. An existing record keeps its ID and received time.
func (m *MemoryStore) SaveScrapeResult(r domain.ScrapeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.scrapeByURL[r.URL]; ok {
		existing := m.scrapes[id]
		r.ID = existing.ID
		r.ReceivedAt = existing.ReceivedAt
	}
	m.scrapes[r.ID] = r
	m.scrapeByURL[r.URL] = r.ID
	return nil
}

func (m *MemoryStore) ListScrapeResults(status domain.ScrapeStatus) ([]domain.ScrapeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ScrapeResult, 0, len(m.scrapes))
	for _, r := range m.scrapes {
		if status == "" || r.Status == status {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].ReceivedAt.After(res[j].ReceivedAt)
	})
	return res, nil
}

func (m *MemoryStore) DeleteScrapeResult(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.scrapes[id]
	if !ok {
		return false, nil
	}
	delete(m.scrapes, id)
	delete(m.scrapeByURL, r.URL)
	m.clearReferencesLocked(func(ref string) bool { return ref == id })
	return true, nil
}

func (m *MemoryStore) ClearScrapeResults() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.scrapes)
	m.scrapes = make(map[string]domain.ScrapeResult)
	m.scrapeByURL = make(map[string]string)
	m.clearReferencesLocked(func(string) bool { return true })
	return count, nil
}

func (m *MemoryStore) clearReferencesLocked(match func(string) bool) {
	for id, item := range m.items {
		if item.ScrapeResultID != "" && match(item.ScrapeResultID) {
			item.ScrapeResultID = ""
			m.items[id] = item
		}
	}
}

func (m *MemoryStore) SaveAuctionItem(item domain.AuctionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ScrapeResultID != "" {
		if _, ok := m.scrapes[item.ScrapeResultID]; !ok {
			return ErrScrapeResultNotFound
		}
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) GetAuctionItem(id string) (domain.AuctionItem, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	return item, ok, nil
}

func (m *MemoryStore) ListAuctionItems(status domain.ItemStatus) ([]domain.AuctionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.AuctionItem, 0, len(m.items))
	for _, item := range m.items {
		if status == "" || item.Status == status {
			res = append(res, item)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) DeleteAuctionItem(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}
