// Package handler exposes the cart, order and notification services over
// HTTP and websockets.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/domain/cart"
	"github.com/xenking/oolio-delivery/internal/domain/catalog"
	"github.com/xenking/oolio-delivery/internal/domain/order"
	"github.com/xenking/oolio-delivery/internal/notify"
)

// Config holds non-dependency settings.
type Config struct {
	// SendBuffer is the number of frames queued per websocket before the
	// connection is considered too slow and frames are dropped.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

func (c *Config) setDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Handler serves the public API.
type Handler struct {
	cfg      Config
	carts    *cart.Service
	orders   *order.Service
	items    catalog.Lister
	keys     *auth.Verifier
	hub      *notify.Hub
	validate *validatorv10.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	carts *cart.Service,
	orders *order.Service,
	items catalog.Lister,
	keys *auth.Verifier,
	hub *notify.Hub,
) *Handler {
	cfg.setDefaults()
	return &Handler{
		cfg:      cfg,
		carts:    carts,
		orders:   orders,
		items:    items,
		keys:     keys,
		hub:      hub,
		validate: newValidator(),
	}
}

// Routes returns the router for /api/* and /ws.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/items", h.listItems)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Put("/cart/items/{itemID}", h.setCartItem)
			r.Delete("/cart/items/{itemID}", h.removeCartItem)
			r.Post("/cart/items/{itemID}/decrement", h.decrementCartItem)

			r.Post("/orders", h.createOrder)
			r.Get("/orders", h.listMyOrders)
			r.Get("/orders/{orderID}", h.getMyOrder)
			r.Post("/orders/{orderID}/verify", h.verifyPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireStaff)

			r.Get("/orders", h.listAllOrders)
			r.Get("/orders/stats", h.orderStats)
			r.Get("/orders/{orderID}", h.getAnyOrder)
			r.Put("/orders/{orderID}/status", h.updateStatus)
		})
	})
	r.Get("/ws", h.subscribe)
	return r
}
