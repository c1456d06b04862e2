package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-delivery/internal/domain/cart"
	"github.com/xenking/oolio-delivery/internal/domain/catalog"
)

type cartLineResponse struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Price     money  `json:"price"`
	Quantity  int    `json:"quantity"`
	LineTotal money  `json:"lineTotal"`
}

type cartResponse struct {
	UserID      string             `json:"userId"`
	Items       []cartLineResponse `json:"items"`
	Subtotal    money              `json:"subtotal"`
	DeliveryFee money              `json:"deliveryFee"`
	Total       money              `json:"total"`
}

func toCartResponse(v *cart.View) cartResponse {
	resp := cartResponse{
		UserID:      v.UserID,
		Items:       make([]cartLineResponse, len(v.Lines)),
		Subtotal:    money(v.Subtotal),
		DeliveryFee: money(v.DeliveryFee),
		Total:       money(v.Total),
	}
	for i, l := range v.Lines {
		resp.Items[i] = cartLineResponse{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Image:     l.Image,
			Price:     money(l.Price),
			Quantity:  l.Quantity,
			LineTotal: money(l.LineTotal),
		}
	}
	return resp
}

type addItemRequest struct {
	ItemID string `json:"itemId" validate:"required,max=128"`
}

type setQuantityRequest struct {
	// Zero or negative removes the line.
	Quantity *int `json:"quantity" validate:"required,lte=1000"`
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, v *cart.View, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(v))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Get(r.Context(), userFrom(r.Context()))
	h.respondCart(w, r, v, err)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !h.bind(w, r, &req) {
		return
	}
	v, err := h.carts.Add(r.Context(), userFrom(r.Context()), req.ItemID)
	h.respondCart(w, r, v, err)
}

func (h *Handler) decrementCartItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Decrement(r.Context(), userFrom(r.Context()), chi.URLParam(r, "itemID"))
	h.respondCart(w, r, v, err)
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if !h.bind(w, r, &req) {
		return
	}
	v, err := h.carts.SetQuantity(r.Context(), userFrom(r.Context()), chi.URLParam(r, "itemID"), *req.Quantity)
	h.respondCart(w, r, v, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Remove(r.Context(), userFrom(r.Context()), chi.URLParam(r, "itemID"))
	h.respondCart(w, r, v, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Clear(r.Context(), userFrom(r.Context()))
	h.respondCart(w, r, v, err)
}

type itemResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Price       money  `json:"price"`
	Image       string `json:"image,omitempty"`
	Available   bool   `json:"available"`
}

func toItemResponse(it catalog.Item) itemResponse {
	return itemResponse{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Category:    it.Category,
		Price:       money(it.Price),
		Image:       it.Image,
		Available:   it.Available,
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := make([]itemResponse, len(items))
	for i, it := range items {
		resp[i] = toItemResponse(it)
	}
	writeJSON(w, http.StatusOK, resp)
}
