package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbdiagne/coffre-pay/internal/orders"
)

var testSecret = []byte("test-secret")

type stubStore struct {
	order      *orders.Order
	getErr     error
	existed    bool
	createErr  error
	submitErr  error
	confirmErr error
	rejectErr  error
	fullyPaid  bool
	pending    []orders.PendingReview
	listErr    error

	created      *orders.Order
	lastReviewer string
	lastStep     int
}

func (s *stubStore) CreateOrderTx(ctx context.Context, o *orders.Order) (string, bool, error) {
	if s.createErr != nil {
		return "", false, s.createErr
	}
	if s.existed {
		// like the repo, a replay loads the stored id and total only
		o.ID = s.order.ID
		o.Total = s.order.Total
		return o.ID, true, nil
	}
	o.ID = "o1"
	s.created = o
	return o.ID, false, nil
}

func (s *stubStore) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubStore) SubmitPayment(ctx context.Context, orderID string, step int, sub *orders.PaymentSubmission) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	sub.ID = "sub-1"
	sub.OrderID = orderID
	sub.Step = step
	sub.Status = orders.SubmissionPending
	sub.SubmittedAt = time.Now().UTC()
	s.lastStep = step
	return nil
}

func (s *stubStore) ConfirmPayment(ctx context.Context, orderID string, step int, reviewer string) (bool, error) {
	if s.confirmErr != nil {
		return false, s.confirmErr
	}
	s.lastReviewer = reviewer
	s.lastStep = step
	return s.fullyPaid, nil
}

func (s *stubStore) RejectPayment(ctx context.Context, orderID string, step int, reviewer string) error {
	if s.rejectErr != nil {
		return s.rejectErr
	}
	s.lastReviewer = reviewer
	s.lastStep = step
	return nil
}

func (s *stubStore) ListPendingReview(ctx context.Context) ([]orders.PendingReview, error) {
	return s.pending, s.listErr
}

type stubPublisher struct{ published [][]byte }

func (p *stubPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.published = append(p.published, value)
}

func (p *stubPublisher) lastEvent(t *testing.T) orders.Envelope {
	t.Helper()
	require.NotEmpty(t, p.published)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(p.published[len(p.published)-1], &env))
	return env
}

type stubCache struct {
	progress    string
	idem        map[string]string
	setBodies   []string
	invalidated []string
}

func (c *stubCache) SetCheckoutIdem(ctx context.Context, externalID, orderID string) error {
	if c.idem == nil {
		c.idem = map[string]string{}
	}
	c.idem[externalID] = orderID
	return nil
}

func (c *stubCache) GetProgress(ctx context.Context, orderID string) (string, error) {
	if c.progress == "" {
		return "", errors.New("cache miss")
	}
	return c.progress, nil
}

func (c *stubCache) SetProgress(ctx context.Context, orderID string, body []byte) error {
	c.setBodies = append(c.setBodies, string(body))
	return nil
}

func (c *stubCache) InvalidateProgress(ctx context.Context, orderID string) error {
	c.invalidated = append(c.invalidated, orderID)
	return nil
}

type fixture struct {
	store    *stubStore
	orders   *stubPublisher
	payments *stubPublisher
	cache    *stubCache
	router   *chi.Mux
}

func setup() *fixture {
	f := &fixture{
		store:    &stubStore{},
		orders:   &stubPublisher{},
		payments: &stubPublisher{},
		cache:    &stubCache{},
	}
	h := &OrdersHandler{
		Store:       f.store,
		Orders:      f.orders,
		Payments:    f.payments,
		Cache:       f.cache,
		Service:     "coffre-api-test",
		Tranches:    3,
		AdminSecret: testSecret,
	}
	f.router = NewRouter()
	h.Register(f.router)
	return f
}

func adminToken(t *testing.T, role, subject string) string {
	t.Helper()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func doReq(f *fixture, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

const checkoutBody = `{
	"external_id": "ext-1",
	"customer_id": "cust-1",
	"payment_mode": "INSTALLMENTS",
	"items": [{"product_ref": "p1", "name": "Boubou", "unit_price": 10000, "quantity": 3}]
}`

func TestCreateOrder(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPost, "/orders", checkoutBody, "")

	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "o1", resp.OrderID)
	assert.Equal(t, int64(30000), resp.Total)
	assert.Len(t, resp.Installments, 3)
	assert.False(t, resp.Idempotent)

	assert.Equal(t, "o1", f.cache.idem["ext-1"])

	ev := f.orders.lastEvent(t)
	assert.Equal(t, orders.EventOrderCreated, ev.EventType)
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	f := setup()
	f.store.existed = true
	// stored order differs from the replayed cart: bigger total, one
	// installment already settled
	f.store.order = &orders.Order{
		ID: "o9", Total: 90000, PaymentMode: orders.ModeInstallments,
		Installments: []orders.Installment{
			{Step: 1, AmountExpected: 30000, Status: orders.StatusPaid},
			{Step: 2, AmountExpected: 30000, Status: orders.StatusPending},
			{Step: 3, AmountExpected: 30000, Status: orders.StatusUnpaid},
		},
	}

	w := doReq(f, http.MethodPost, "/orders", checkoutBody, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Idempotent)
	assert.Equal(t, "o9", resp.OrderID)
	assert.Equal(t, int64(90000), resp.Total)

	// the response must echo the stored plan, statuses included, and its
	// amounts must sum to the reported total
	require.Len(t, resp.Installments, 3)
	assert.Equal(t, orders.StatusPaid, resp.Installments[0].Status)
	var sum int64
	for _, in := range resp.Installments {
		sum += in.AmountExpected
	}
	assert.Equal(t, resp.Total, sum)

	// replays never re-announce the order
	assert.Empty(t, f.orders.published)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := setup()
	body := `{"external_id": "ext-1", "customer_id": "cust-1", "payment_mode": "FULL", "items": []}`
	w := doReq(f, http.MethodPost, "/orders", body, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_order")
}

func TestCreateOrderBadJSON(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPost, "/orders", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	f := setup()
	f.store.getErr = fmt.Errorf("%w: order nope", orders.ErrNotFound)

	w := doReq(f, http.MethodGet, "/orders/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestGetOrderWithDerivedStatus(t *testing.T) {
	f := setup()
	f.store.order = &orders.Order{
		ID: "o1", Total: 30000,
		Installments: []orders.Installment{
			{Step: 1, AmountExpected: 10000, Status: orders.StatusPaid},
			{Step: 2, AmountExpected: 10000, Status: orders.StatusUnpaid},
			{Step: 3, AmountExpected: 10000, Status: orders.StatusUnpaid},
		},
	}

	w := doReq(f, http.MethodGet, "/orders/o1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.OrderPartiallyPaid, resp.Status)
	assert.Equal(t, int64(20000), resp.Progress.RemainingBalance)
}

func TestGetProgressCacheHit(t *testing.T) {
	f := setup()
	f.cache.progress = `{"order_id":"o1","progress_percent":100}`

	w := doReq(f, http.MethodGet, "/orders/o1/progress", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"progress_percent":100`)
	// served from cache, store untouched
	assert.Nil(t, f.store.created)
}

func TestGetProgressCacheMiss(t *testing.T) {
	f := setup()
	f.store.order = &orders.Order{
		ID: "o1", Total: 30000,
		Installments: []orders.Installment{
			{Step: 1, AmountExpected: 30000, Status: orders.StatusPaid},
		},
	}

	w := doReq(f, http.MethodGet, "/orders/o1/progress", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.cache.setBodies, 1)

	var p orders.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, orders.OrderFullyPaid, p.Status)
}

const submitBody = `{
	"reference": "OM-12345",
	"amount_sent": 10000,
	"channel": "ORANGE_MONEY",
	"sender_number": "+221771234567"
}`

func TestSubmitPayment(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPost, "/orders/o1/installments/1/submissions", submitBody, "")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, f.store.lastStep)
	assert.Equal(t, []string{"o1"}, f.cache.invalidated)

	ev := f.payments.lastEvent(t)
	assert.Equal(t, orders.EventPaymentSubmitted, ev.EventType)
}

func TestSubmitPaymentWhilePending(t *testing.T) {
	f := setup()
	f.store.submitErr = fmt.Errorf("%w: step 1 is PENDING", orders.ErrInvalidState)

	w := doReq(f, http.MethodPost, "/orders/o1/installments/1/submissions", submitBody, "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_state")
	assert.Empty(t, f.payments.published)
}

func TestSubmitPaymentUnknownChannel(t *testing.T) {
	f := setup()
	body := `{"reference": "X", "amount_sent": 100, "channel": "PAYPAL", "sender_number": "+221770000000"}`
	w := doReq(f, http.MethodPost, "/orders/o1/installments/1/submissions", body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitPaymentBadStep(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPost, "/orders/o1/installments/zero/submissions", submitBody, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmRequiresAuth(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPut, "/orders/o1/installments/1/confirm", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfirmRejectsNonAdminRole(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPut, "/orders/o1/installments/1/confirm", "", adminToken(t, "customer", "cust-1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConfirmPayment(t *testing.T) {
	f := setup()
	f.store.fullyPaid = true

	w := doReq(f, http.MethodPut, "/orders/o1/installments/3/confirm", "", adminToken(t, RoleAdmin, "admin@shop"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReviewResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.StatusPaid, resp.Status)
	assert.True(t, resp.FullyPaid)
	assert.Equal(t, "admin@shop", f.store.lastReviewer)

	ev := f.payments.lastEvent(t)
	assert.Equal(t, orders.EventPaymentConfirmed, ev.EventType)
}

func TestConfirmAlreadyPaid(t *testing.T) {
	f := setup()
	f.store.confirmErr = fmt.Errorf("%w: step 1 is PAID", orders.ErrInvalidState)

	w := doReq(f, http.MethodPut, "/orders/o1/installments/1/confirm", "", adminToken(t, RoleAdmin, "admin@shop"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_state")
}

func TestConfirmLostRace(t *testing.T) {
	f := setup()
	f.store.confirmErr = fmt.Errorf("%w: step 1 of order o1", orders.ErrConflict)

	w := doReq(f, http.MethodPut, "/orders/o1/installments/1/confirm", "", adminToken(t, RoleAdmin, "admin@shop"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"conflict"`)
}

func TestRejectPayment(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodPut, "/orders/o1/installments/2/reject", "", adminToken(t, RoleAdmin, "admin@shop"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReviewResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.StatusRejected, resp.Status)

	ev := f.payments.lastEvent(t)
	assert.Equal(t, orders.EventPaymentRejected, ev.EventType)
}

func TestListPendingReviewEmpty(t *testing.T) {
	f := setup()
	w := doReq(f, http.MethodGet, "/admin/review", "", adminToken(t, RoleAdmin, "admin@shop"))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestListPendingReview(t *testing.T) {
	f := setup()
	f.pendingQueue()

	w := doReq(f, http.MethodGet, "/admin/review", "", adminToken(t, RoleAdmin, "admin@shop"))
	require.Equal(t, http.StatusOK, w.Code)

	var queue []orders.PendingReview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "OM-99", queue[0].Submission.Reference)
}

func (f *fixture) pendingQueue() {
	f.store.pending = []orders.PendingReview{{
		OrderID:        "o1",
		Step:           2,
		AmountExpected: 10000,
		Submission: orders.PaymentSubmission{
			ID:           "sub-9",
			Reference:    "OM-99",
			AmountSent:   10000,
			Channel:      orders.ChannelOrangeMoney,
			SenderNumber: "+221770000000",
			Status:       orders.SubmissionPending,
		},
	}}
}
