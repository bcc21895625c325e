package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes attaches all application routes to mux.
// Keeping this separate from handlers.go means the full route surface
// is visible at a glance without scrolling through handler logic.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Orders
	mux.HandleFunc("POST /api/v1/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/v1/orders/search", h.SearchOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.GetOrder)

	// Payments
	mux.HandleFunc("POST /api/v1/orders/payment-callback", h.PaymentCallback)

	// Observability
	mux.Handle("GET /metrics", promhttp.Handler())
}
