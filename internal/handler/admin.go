package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

type customerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type staffOrderResponse struct {
	orderResponse
	Customer customerResponse `json:"customer"`
}

type statsResponse struct {
	TotalOrders int            `json:"totalOrders"`
	ByStatus    map[string]int `json:"byStatus"`
	Revenue     money          `json:"revenue"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := make([]staffOrderResponse, len(orders))
	for i := range orders {
		o := &orders[i]
		resp[i] = staffOrderResponse{
			orderResponse: toOrderResponse(&o.Order),
			Customer:      customerResponse(o.Owner),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getAnyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) orderStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := statsResponse{
		TotalOrders: st.Total,
		ByStatus:    make(map[string]int, len(order.Statuses)),
		Revenue:     money(st.Revenue),
	}
	for _, s := range order.Statuses {
		resp.ByStatus[string(s)] = st.Count(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !h.bind(w, r, &req) {
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
