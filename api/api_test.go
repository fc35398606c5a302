package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
	"github.com/daniel-vizcarra/IntegraHub/model"
	"github.com/daniel-vizcarra/IntegraHub/store"
)

type memStore struct {
	mu       sync.Mutex
	orders   map[int64]model.Order
	products map[int64]model.Product
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[int64]model.Order),
		products: make(map[int64]model.Product),
	}
}

func (m *memStore) CreateOrder(_ context.Context, order model.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.orders) + 1)
	order.ID = id
	m.orders[id] = order
	return id, nil
}

func (m *memStore) GetOrder(_ context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return model.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (m *memStore) ListOrders(_ context.Context, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Order
	for _, order := range m.orders {
		res = append(res, order)
	}
	return res, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id int64, status model.OrderStatus, attemptCount int) error {
	return nil
}

func (m *memStore) CreateProduct(_ context.Context, product model.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.products) + 1)
	product.ID = id
	m.products[id] = product
	return id, nil
}

func (m *memStore) GetProduct(_ context.Context, id int64) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return model.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (m *memStore) AdjustStock(_ context.Context, productID int64, delta int) (model.StockLevel, error) {
	return model.StockLevel{}, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	pushed [][]byte
	err    error
}

func (p *fakeProducer) Push(messages [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, messages...)
	return nil
}

func newTestServer() (*memStore, *fakeProducer, http.Handler) {
	st := newMemStore()
	producer := &fakeProducer{}
	server := NewServer(st, st, producer, zap.NewNop())
	return st, producer, server.Router()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func Test_CreateOrder_PersistsAndPublishes(t *testing.T) {
	st, producer, handler := newTestServer()

	rec := doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"customer_name": "ana",
		"product_id":    1,
		"quantity":      3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.OrderPending, created.Status)

	stored, err := st.GetOrder(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", stored.CustomerName)

	require.Len(t, producer.pushed, 1)
	var event hubevent.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(producer.pushed[0], &event))
	assert.Equal(t, created.ID, event.OrderID)
	assert.Equal(t, 0, event.AttemptCount)
	assert.NotEmpty(t, event.MessageID)
}

func Test_CreateOrder_RejectsInvalidPayloads(t *testing.T) {
	_, producer, handler := newTestServer()

	rec := doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"customer_name": "ana",
		"product_id":    1,
		"quantity":      0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"product_id": 1,
		"quantity":   2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{broken"))
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	assert.Empty(t, producer.pushed, "rejected orders must not be queued")
}

func Test_CreateOrder_PublishFailureReported(t *testing.T) {
	st, producer, handler := newTestServer()
	producer.err = errors.New("broker down")

	rec := doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"customer_name": "ana",
		"product_id":    1,
		"quantity":      2,
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// The order row survives for operator republish.
	order, err := st.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
}

func Test_GetOrder_NotFound(t *testing.T) {
	_, _, handler := newTestServer()

	rec := doJSON(t, handler, http.MethodGet, "/orders/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Products_CreateAndGet(t *testing.T) {
	_, _, handler := newTestServer()

	rec := doJSON(t, handler, http.MethodPost, "/products", map[string]any{
		"name":              "laptop",
		"stock_quantity":    10,
		"reorder_threshold": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, handler, http.MethodGet, "/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/products", map[string]any{
		"name":           "bad",
		"stock_quantity": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
