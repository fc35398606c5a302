// Package api is the thin producing collaborator in front of the
// pipeline: it persists orders and products and publishes order-created
// messages onto the primary topic.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
	"github.com/daniel-vizcarra/IntegraHub/kafka"
	"github.com/daniel-vizcarra/IntegraHub/model"
	"github.com/daniel-vizcarra/IntegraHub/store"
)

type Server struct {
	orders    store.IOrderRepo
	inventory store.IInventoryRepo
	producer  kafka.IProducer
	logger    *zap.Logger
}

func NewServer(orders store.IOrderRepo, inventory store.IInventoryRepo, producer kafka.IProducer, logger *zap.Logger) *Server {
	return &Server{
		orders:    orders,
		inventory: inventory,
		producer:  producer,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/orders", s.handleCreateOrder)
	r.Get("/orders", s.handleListOrders)
	r.Get("/orders/{id}", s.handleGetOrder)
	r.Post("/products", s.handleCreateProduct)
	r.Get("/products/{id}", s.handleGetProduct)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createOrderRequest struct {
	CustomerName string `json:"customer_name"`
	ProductID    int64  `json:"product_id"`
	Quantity     int    `json:"quantity"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	if req.CustomerName == "" {
		writeError(w, http.StatusBadRequest, "customer_name is required")
		return
	}

	ctx := r.Context()
	id, err := s.orders.CreateOrder(ctx, model.Order{
		CustomerName: req.CustomerName,
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		Status:       model.OrderPending,
	})
	if err != nil {
		s.logger.Error("creating order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "creating order failed")
		return
	}

	content, err := json.Marshal(hubevent.NewOrderCreated(id))
	if err == nil {
		err = s.producer.Push([][]byte{content})
	}
	if err != nil {
		// The order row stays PENDING; an operator can republish it.
		s.logger.Error("publishing order-created failed", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "order stored but could not be queued")
		return
	}

	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		order = model.Order{ID: id, CustomerName: req.CustomerName, ProductID: req.ProductID, Quantity: req.Quantity, Status: model.OrderPending}
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.ListOrders(r.Context(), 100)
	if err != nil {
		s.logger.Error("listing orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing orders failed")
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("reading order failed", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading order failed")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type createProductRequest struct {
	Name             string `json:"name"`
	StockQuantity    int    `json:"stock_quantity"`
	ReorderThreshold int    `json:"reorder_threshold"`
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.StockQuantity < 0 || req.ReorderThreshold < 0 {
		writeError(w, http.StatusBadRequest, "stock_quantity and reorder_threshold must be non-negative")
		return
	}

	ctx := r.Context()
	id, err := s.inventory.CreateProduct(ctx, model.Product{
		Name:             req.Name,
		StockQuantity:    req.StockQuantity,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		s.logger.Error("creating product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "creating product failed")
		return
	}

	product, err := s.inventory.GetProduct(ctx, id)
	if err != nil {
		product = model.Product{ID: id, Name: req.Name, StockQuantity: req.StockQuantity, ReorderThreshold: req.ReorderThreshold}
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := s.inventory.GetProduct(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.logger.Error("reading product failed", zap.Int64("product_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading product failed")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
