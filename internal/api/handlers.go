package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"order-service/internal/models"
	"order-service/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxUserIDLen mirrors the varchar(255) column.
const maxUserIDLen = 255

// ---------------------------------------------------------------------------
// Dependency interfaces
//
// Each interface captures exactly the methods this package needs.
// Callers (main, tests) inject the real implementations or fakes.
// ---------------------------------------------------------------------------

// OrderService is the transactional core contract.
type OrderService interface {
	CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error)
	HandlePaymentCallback(ctx context.Context, payment models.PaymentCallback) error
	GetOrder(ctx context.Context, id uuid.UUID) (*service.OrderView, error)
}

// OrderSearch is the search-projection contract.
type OrderSearch interface {
	SearchOrders(ctx context.Context, userID, status string) (json.RawMessage, error)
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Handler holds every dependency the HTTP layer needs. Both fields are
// interfaces — the real implementations are injected by main, fakes can be
// injected in tests.
type Handler struct {
	Service OrderService
	Search  OrderSearch
}

// orderResponse is the wire shape of an order in API responses.
type orderResponse struct {
	ID        uuid.UUID     `json:"id"`
	ItemID    uuid.UUID     `json:"item_id"`
	Quantity  int           `json:"quantity"`
	Status    models.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func newOrderResponse(order *models.Order, status models.Status) orderResponse {
	return orderResponse{
		ID:        order.ID,
		ItemID:    order.ItemID,
		Quantity:  order.Quantity,
		Status:    status,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// createOrderRequest keeps UUID fields as strings so a malformed value is a
// validation failure (422), not a decode failure (400).
type createOrderRequest struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	UserID         string `json:"user_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateOrder — POST /api/v1/orders
//
// Runs the create-order transaction and maps its outcome:
//   - 201 with the new order on first acceptance
//   - 200 with the original order's data on an idempotent repeat — a
//     duplicate is an answer, not an error
//   - 404 unknown item, 400 not enough stock, 422 validation, 500 otherwise
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		http.Error(w, "item_id must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}
	key, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		http.Error(w, "idempotency_key must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}
	if req.Quantity < 1 {
		http.Error(w, "quantity must be at least 1", http.StatusUnprocessableEntity)
		return
	}
	if req.UserID == "" || len(req.UserID) > maxUserIDLen {
		http.Error(w, "user_id is required and must not exceed 255 characters", http.StatusUnprocessableEntity)
		return
	}

	order, err := h.Service.CreateOrder(r.Context(), models.OrderDraft{
		UserID:         req.UserID,
		ItemID:         itemID,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	})

	var exists *service.OrderAlreadyExistsError
	switch {
	case errors.As(err, &exists):
		writeJSON(w, http.StatusOK, newOrderResponse(exists.Order, exists.Status))
	case errors.Is(err, service.ErrItemNotFound):
		http.Error(w, "item not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNotEnoughStock):
		http.Error(w, "not enough stock available", http.StatusBadRequest)
	case err != nil:
		slog.Error("create order failed", "component", "api", "user_id", req.UserID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, newOrderResponse(order, models.StatusNew))
	}
}

// GetOrder — GET /api/v1/orders/{id}
//
// Read path:
//   - Redis HIT  → X-Cache: HIT
//   - Redis MISS → Postgres lookup → back-fill → X-Cache: MISS
//   - unknown id → 404, anything else → 500 (infra failure, not a 404)
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "order ID must be a valid UUID", http.StatusBadRequest)
		return
	}

	view, err := h.Service.GetOrder(r.Context(), id)
	if errors.Is(err, service.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("order read failed", "component", "api", "order_id", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if view.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, newOrderResponse(view.Order, view.Status))
}

// ---------------------------------------------------------------------------
// Payment callback
// ---------------------------------------------------------------------------

type paymentCallbackRequest struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PaymentCallback — POST /api/v1/orders/payment-callback
//
// Called by the payments service to report a payment outcome. Always
// answers 200 on acceptance, including duplicate deliveries — the callback
// must be safe for the payments service to retry. A 5xx tells it to do
// exactly that.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		http.Error(w, "order_id must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}
	key, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		http.Error(w, "idempotency_key must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}
	var paymentID uuid.UUID
	if req.ID != "" {
		if paymentID, err = uuid.Parse(req.ID); err != nil {
			http.Error(w, "id must be a valid UUID", http.StatusUnprocessableEntity)
			return
		}
	}
	status := models.PaymentStatus(req.Status)
	if req.Status == "" {
		status = models.PaymentPending
	}
	if !status.Valid() {
		http.Error(w, "status must be one of: pending, succeeded, failed", http.StatusUnprocessableEntity)
		return
	}

	err = h.Service.HandlePaymentCallback(r.Context(), models.PaymentCallback{
		ID:             paymentID,
		UserID:         req.UserID,
		OrderID:        orderID,
		Amount:         req.Amount,
		Status:         status,
		IdempotencyKey: key,
		CreatedAt:      req.CreatedAt,
	})
	if err != nil {
		slog.Error("payment callback failed", "component", "api", "order_id", orderID, "error", err)
		http.Error(w, "failed to process payment callback", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

// SearchOrders — GET /api/v1/orders/search?user_id={id}&status={status}
//
// Proxies a filtered query against the Elasticsearch projection. At least
// one filter is required; the raw engine response is returned as-is.
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	status := r.URL.Query().Get("status")

	if userID == "" && status == "" {
		http.Error(w, "at least one of user_id or status is required", http.StatusBadRequest)
		return
	}
	if status != "" && !models.Status(status).Valid() {
		http.Error(w, "status must be one of: new, paid, shipped, cancelled", http.StatusBadRequest)
		return
	}

	result, err := h.Search.SearchOrders(r.Context(), userID, status)
	if err != nil {
		slog.Error("search failed",
			"component", "api",
			"user_id", userID,
			"status", status,
			"error", err,
		)
		http.Error(w, "search engine error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}
