package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fake Elasticsearch
// ==========================

type recorded struct {
	Method string
	Path   string
	Body   []byte
}

type fakeES struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	response string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Body: body})
	status, response := f.status, f.response
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (f *fakeES) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestIndex(t *testing.T, f *fakeES) *Index {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndex(client, "orders", logger.NewTestLogger(t))
}

func sampleOrder() models.Order {
	return models.Order{
		ID:            "KG-4821",
		CreatedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		CustomerName:  "Amina",
		BranchID:      "westlands",
		OrderStatus:   models.StatusReady,
		PaymentStatus: models.PaymentPaid,
		Items:         []models.OrderItem{{ID: "chai", Name: "Karak Chai", Quantity: 1, PrepQuantity: 1}},
	}
}

// ==========================
// Tests
// ==========================

func TestIndexOrder_PutsDocumentByID(t *testing.T) {
	f := &fakeES{status: 201, response: `{"result":"created"}`}
	idx := newTestIndex(t, f)

	require.NoError(t, idx.IndexOrder(context.Background(), sampleOrder()))

	req := f.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/orders/_doc/KG-4821", req.Path)

	var doc models.Order
	require.NoError(t, json.Unmarshal(req.Body, &doc))
	assert.Equal(t, "westlands", doc.BranchID)
	assert.Equal(t, models.StatusReady, doc.OrderStatus)
}

func TestIndexOrder_ErrorResponse(t *testing.T) {
	f := &fakeES{status: 500, response: `{"error":"boom"}`}
	idx := newTestIndex(t, f)

	err := idx.IndexOrder(context.Background(), sampleOrder())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSearchQueryFailed))
}

func TestSearch_DecodesHitsAndFiltersByBranch(t *testing.T) {
	f := &fakeES{response: `{"hits":{"total":{"value":1},"hits":[{"_id":"KG-4821","_source":{
		"id":"KG-4821","branch_id":"westlands","customer_name":"Amina","order_status":"ready","payment_status":"paid"}}]}}`}
	idx := newTestIndex(t, f)

	orders, err := idx.Search(context.Background(), "westlands", "kg-48", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "KG-4821", orders[0].ID)
	assert.NotNil(t, orders[0].Items)

	req := f.last()
	assert.Equal(t, "/orders/_search", req.Path)

	var q map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &q))
	assert.Equal(t, float64(10), q["size"])
	assert.Contains(t, string(req.Body), `"branch_id":"westlands"`)
	assert.Contains(t, string(req.Body), `"value":"KG-48"`)
}

func TestSearch_RequiresBranch(t *testing.T) {
	idx := newTestIndex(t, &fakeES{})

	_, err := idx.Search(context.Background(), "", "", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestSearch_ErrorResponse(t *testing.T) {
	f := &fakeES{status: 400, response: `{"error":{"type":"parsing_exception"}}`}
	idx := newTestIndex(t, f)

	_, err := idx.Search(context.Background(), "westlands", "", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSearchQueryFailed))
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	f := &fakeES{status: 404}
	idx := newTestIndex(t, f)

	// HEAD returns 404, PUT also sees 404 from the fake but only the
	// request shape matters here
	_ = idx.EnsureIndex(context.Background())

	req := f.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/orders", req.Path)
	assert.Contains(t, string(req.Body), `"branch_id"`)
}

func TestEnsureIndex_ExistingIndexIsLeftAlone(t *testing.T) {
	f := &fakeES{status: 200}
	idx := newTestIndex(t, f)

	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.Len(t, f.requests, 1)
	assert.Equal(t, http.MethodHead, f.last().Method)
}

func TestBuildOrderSearchQuery(t *testing.T) {
	q := buildOrderSearchQuery("westlands", "", 0)
	assert.Equal(t, defaultLimit, q["size"])

	must := q["query"].(map[string]interface{})["bool"].(map[string]interface{})["must"].([]interface{})
	assert.Contains(t, must[0], "match_all")

	assert.Equal(t, maxLimit, buildOrderSearchQuery("westlands", "", 10000)["size"])
}
