package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mbdiagne/coffre-pay/internal/kafka"
	"github.com/mbdiagne/coffre-pay/internal/orders"
)

// OrderStore is what the handlers need from the persistence layer;
// *orders.Repo satisfies it.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, o *orders.Order) (orderID string, existed bool, err error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	SubmitPayment(ctx context.Context, orderID string, step int, sub *orders.PaymentSubmission) error
	ConfirmPayment(ctx context.Context, orderID string, step int, reviewer string) (fullyPaid bool, err error)
	RejectPayment(ctx context.Context, orderID string, step int, reviewer string) error
	ListPendingReview(ctx context.Context) ([]orders.PendingReview, error)
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// ProgressCache is satisfied by *redisx.Cache.
type ProgressCache interface {
	SetCheckoutIdem(ctx context.Context, externalID, orderID string) error
	GetProgress(ctx context.Context, orderID string) (string, error)
	SetProgress(ctx context.Context, orderID string, body []byte) error
	InvalidateProgress(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Store       OrderStore
	Orders      EventPublisher // order.created
	Payments    EventPublisher // order.payments
	Cache       ProgressCache
	Service     string
	Tranches    int
	AdminSecret []byte
}

type CreateOrderReq struct {
	ExternalID  string             `json:"external_id"`
	CustomerID  string             `json:"customer_id"`
	PaymentMode orders.PaymentMode `json:"payment_mode"`
	Items       []orders.OrderItem `json:"items"`
}

type CreateOrderResp struct {
	OrderID      string               `json:"order_id"`
	Total        int64                `json:"total"`
	PaymentMode  orders.PaymentMode   `json:"payment_mode"`
	Installments []orders.Installment `json:"installments"`
	Idempotent   bool                 `json:"idempotent"`
}

type SubmitPaymentReq struct {
	Reference    string         `json:"reference"`
	AmountSent   int64          `json:"amount_sent"`
	Channel      orders.Channel `json:"channel"`
	SenderNumber string         `json:"sender_number"`
}

type ReviewResp struct {
	OrderID   string                   `json:"order_id"`
	Step      int                      `json:"step"`
	Status    orders.InstallmentStatus `json:"status"`
	FullyPaid bool                     `json:"fully_paid,omitempty"`
}

type OrderResp struct {
	*orders.Order
	Status   orders.OrderStatus `json:"status"`
	Progress orders.Progress    `json:"progress"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/progress", h.getProgress)
	r.Post("/orders/{id}/installments/{step}/submissions", h.submitPayment)

	r.Group(func(r chi.Router) {
		r.Use(AdminOnly(h.AdminSecret))
		r.Put("/orders/{id}/installments/{step}/confirm", h.confirmPayment)
		r.Put("/orders/{id}/installments/{step}/reject", h.rejectPayment)
		r.Get("/admin/review", h.listPendingReview)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainErr maps the workflow error taxonomy onto HTTP. invalid_state is
// final for the current state; conflict means re-fetch and maybe retry once.
func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "error": err.Error()})
	case errors.Is(err, orders.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"code": "invalid_state", "error": err.Error()})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"code": "conflict", "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "error": "internal error"})
	}
}

func (h *OrdersHandler) publish(p EventPublisher, r *http.Request, eventType, orderID string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing fields"})
		return
	}

	o, err := orders.NewOrder(req.ExternalID, req.CustomerID, req.PaymentMode, req.Items, h.Tranches)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, existed, err := h.Store.CreateOrderTx(ctx, o)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	// Redis is a shortcut; the external_id unique index stays the truth.
	_ = h.Cache.SetCheckoutIdem(ctx, req.ExternalID, orderID)

	if existed {
		// replay: the stored order is the truth, not the incoming cart
		stored, err := h.Store.GetOrder(ctx, orderID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CreateOrderResp{
			OrderID:      orderID,
			Total:        stored.Total,
			PaymentMode:  stored.PaymentMode,
			Installments: stored.Installments,
			Idempotent:   true,
		})
		return
	}

	h.publish(h.Orders, r, orders.EventOrderCreated, orderID, orders.OrderCreatedPayload{
		OrderID:     orderID,
		ExternalID:  req.ExternalID,
		CustomerID:  req.CustomerID,
		PaymentMode: o.PaymentMode,
		Total:       o.Total,
		Tranches:    len(o.Installments),
	})

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:      orderID,
		Total:        o.Total,
		PaymentMode:  o.PaymentMode,
		Installments: o.Installments,
		Idempotent:   false,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderResp{
		Order:    o,
		Status:   orders.DeriveStatus(o.Installments),
		Progress: orders.ComputeProgress(o),
	})
}

func (h *OrdersHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) try cache
	if s, err := h.Cache.GetProgress(ctx, orderID); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	// 2) fall back to DB and re-derive
	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	p := orders.ComputeProgress(o)
	b, _ := json.Marshal(p)
	_ = h.Cache.SetProgress(ctx, orderID, b)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func stepParam(r *http.Request) (int, bool) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || step < 1 {
		return 0, false
	}
	return step, true
}

func (h *OrdersHandler) submitPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	step, ok := stepParam(r)
	if orderID == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing id or step"})
		return
	}

	var req SubmitPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "invalid json"})
		return
	}
	if req.Reference == "" || req.SenderNumber == "" || req.AmountSent <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing fields"})
		return
	}
	if req.Channel != orders.ChannelOrangeMoney && req.Channel != orders.ChannelWave {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "unknown channel"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sub := &orders.PaymentSubmission{
		Reference:    req.Reference,
		AmountSent:   req.AmountSent,
		Channel:      req.Channel,
		SenderNumber: req.SenderNumber,
	}
	if err := h.Store.SubmitPayment(ctx, orderID, step, sub); err != nil {
		writeDomainErr(w, err)
		return
	}

	_ = h.Cache.InvalidateProgress(ctx, orderID)

	h.publish(h.Payments, r, orders.EventPaymentSubmitted, orderID, orders.PaymentSubmittedPayload{
		OrderID:      orderID,
		Step:         step,
		SubmissionID: sub.ID,
		Reference:    sub.Reference,
		AmountSent:   sub.AmountSent,
		Channel:      sub.Channel,
	})

	writeJSON(w, http.StatusCreated, sub)
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	step, ok := stepParam(r)
	if orderID == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing id or step"})
		return
	}
	reviewer := AdminFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	fullyPaid, err := h.Store.ConfirmPayment(ctx, orderID, step, reviewer)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	_ = h.Cache.InvalidateProgress(ctx, orderID)

	h.publish(h.Payments, r, orders.EventPaymentConfirmed, orderID, orders.PaymentConfirmedPayload{
		OrderID:    orderID,
		Step:       step,
		ReviewedBy: reviewer,
		FullyPaid:  fullyPaid,
	})

	writeJSON(w, http.StatusOK, ReviewResp{
		OrderID:   orderID,
		Step:      step,
		Status:    orders.StatusPaid,
		FullyPaid: fullyPaid,
	})
}

func (h *OrdersHandler) rejectPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	step, ok := stepParam(r)
	if orderID == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_order", "error": "missing id or step"})
		return
	}
	reviewer := AdminFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.RejectPayment(ctx, orderID, step, reviewer); err != nil {
		writeDomainErr(w, err)
		return
	}

	_ = h.Cache.InvalidateProgress(ctx, orderID)

	h.publish(h.Payments, r, orders.EventPaymentRejected, orderID, orders.PaymentRejectedPayload{
		OrderID:    orderID,
		Step:       step,
		ReviewedBy: reviewer,
	})

	writeJSON(w, http.StatusOK, ReviewResp{
		OrderID: orderID,
		Step:    step,
		Status:  orders.StatusRejected,
	})
}

func (h *OrdersHandler) listPendingReview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	queue, err := h.Store.ListPendingReview(ctx)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if len(queue) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}
