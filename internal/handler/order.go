package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

type lineItemRequest struct {
	ItemID    string          `json:"itemId" validate:"required,max=128"`
	Name      string          `json:"name" validate:"max=256"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity" validate:"gte=1,lte=1000"`
	Image     string          `json:"image" validate:"max=1024"`
}

type addressRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=32"`
	Street    string `json:"street" validate:"required,max=256"`
	City      string `json:"city" validate:"required,max=100"`
	State     string `json:"state" validate:"max=100"`
	ZipCode   string `json:"zipCode" validate:"required,max=16"`
}

type createOrderRequest struct {
	Items   []lineItemRequest `json:"items" validate:"dive"`
	Address addressRequest    `json:"deliveryAddress"`
}

func (req *createOrderRequest) toDomain() order.CreateRequest {
	items := make([]order.LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.LineItem{
			ItemID:    it.ItemID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Image:     it.Image,
		}
	}
	return order.CreateRequest{Items: items, Address: order.Address(req.Address)}
}

type verifyRequest struct {
	Success *bool `json:"success" validate:"required"`
}

type lineItemResponse struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	UnitPrice money  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
	LineTotal money  `json:"lineTotal"`
}

type addressResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
}

type orderResponse struct {
	ID                string             `json:"id"`
	UserID            string             `json:"userId"`
	Items             []lineItemResponse `json:"items"`
	DeliveryFee       money              `json:"deliveryFee"`
	TotalAmount       money              `json:"totalAmount"`
	DeliveryAddress   addressResponse    `json:"deliveryAddress"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"paymentStatus"`
	EstimatedDelivery time.Time          `json:"estimatedDelivery"`
	DeliveredAt       *time.Time         `json:"deliveredAt"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		Items:             make([]lineItemResponse, len(o.Items)),
		DeliveryFee:       money(o.DeliveryFee),
		TotalAmount:       money(o.Total),
		DeliveryAddress:   addressResponse(o.Address),
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		EstimatedDelivery: o.EstimatedDelivery.UTC(),
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
	}
	if o.DeliveredAt != nil {
		at := o.DeliveredAt.UTC()
		resp.DeliveredAt = &at
	}
	for i, it := range o.Items {
		resp.Items[i] = lineItemResponse{
			ItemID:    it.ItemID,
			Name:      it.Name,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			Image:     it.Image,
			LineTotal: money(it.Total()),
		}
	}
	return resp
}

type placementResponse struct {
	Order       orderResponse `json:"order"`
	RedirectURL string        `json:"redirectUrl"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.bind(w, r, &req) {
		return
	}
	p, err := h.orders.Create(r.Context(), userFrom(r.Context()), req.toDomain())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placementResponse{
		Order:       toOrderResponse(p.Order),
		RedirectURL: p.RedirectURL,
	})
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getMyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForUser(r.Context(), chi.URLParam(r, "orderID"), userFrom(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// verifyPayment is the payment callback. Only the order's owner may report
// the outcome.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.bind(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "orderID")
	if _, err := h.orders.GetForUser(r.Context(), id, userFrom(r.Context())); err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.VerifyPayment(r.Context(), id, *req.Success)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
