// Package testutil provides testing utilities for the Retail Prices crawler.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockPageSize mirrors the page size of the real API.
const MockPageSize = 100

// MockPricesAPI is a configurable in-process Retail Prices API.
// It serves TotalItems generated records, MockPageSize per $skip offset.
type MockPricesAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	totalItems   int
	delay        time.Duration
	missingItems map[int]bool
	statusAt     map[int]int

	// Tracking
	skips   []int
	filters []string
}

// NewMockPricesAPI starts a mock serving totalItems records.
func NewMockPricesAPI(totalItems int) *MockPricesAPI {
	mock := &MockPricesAPI{
		totalItems:   totalItems,
		missingItems: make(map[int]bool),
		statusAt:     make(map[int]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the prices endpoint of the mock.
func (m *MockPricesAPI) URL() string {
	return m.server.URL + "/api/retail/prices"
}

// Close shuts down the mock server.
func (m *MockPricesAPI) Close() {
	m.server.Close()
}

// SetDelay makes every response wait d before being written.
func (m *MockPricesAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetMissingItems makes the page at skip answer without an Items key,
// the way the real API answers when it is rate limiting.
func (m *MockPricesAPI) SetMissingItems(skip int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missingItems[skip] = true
}

// SetStatus makes the page at skip answer with an HTTP error status.
func (m *MockPricesAPI) SetStatus(skip, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusAt[skip] = status
}

// Skips returns the $skip values requested so far, in arrival order.
func (m *MockPricesAPI) Skips() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.skips...)
}

// Filters returns the $filter values requested so far.
func (m *MockPricesAPI) Filters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.filters...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPricesAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.skips)
}

// Item builds the record the mock serves at position i.
func Item(i int) map[string]any {
	return map[string]any{
		"currencyCode":  "USD",
		"retailPrice":   float64(i) / 100,
		"unitPrice":     float64(i) / 100,
		"armRegionName": "westeurope",
		"location":      "EU West",
		"meterId":       fmt.Sprintf("meter-%06d", i),
		"skuId":         fmt.Sprintf("SKU%06d", i),
		"productName":   "Virtual Machines Dv3 Series",
		"serviceName":   "Virtual Machines",
		"priceType":     "Consumption",
	}
}

func (m *MockPricesAPI) handle(w http.ResponseWriter, r *http.Request) {
	skip, err := strconv.Atoi(r.URL.Query().Get("$skip"))
	if err != nil {
		skip = 0
	}

	m.mu.Lock()
	m.skips = append(m.skips, skip)
	m.filters = append(m.filters, r.URL.Query().Get("$filter"))
	delay := m.delay
	missing := m.missingItems[skip]
	status := m.statusAt[skip]
	total := m.totalItems
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"mock status"}`))
		return
	}

	if missing {
		w.Write([]byte(`{"Message":"Too many requests. Please try again later."}`))
		return
	}

	items := make([]map[string]any, 0, MockPageSize)
	for i := skip; i < total && i < skip+MockPageSize; i++ {
		items = append(items, Item(i))
	}

	payload := map[string]any{
		"BillingCurrency":    "USD",
		"CustomerEntityId":   "Default",
		"CustomerEntityType": "Retail",
		"Items":              items,
		"Count":              len(items),
		"NextPageLink":       nil,
	}
	if len(items) == MockPageSize {
		payload["NextPageLink"] = fmt.Sprintf("%s?$skip=%d", m.URL(), skip+MockPageSize)
	}

	_ = json.NewEncoder(w).Encode(payload)
}
