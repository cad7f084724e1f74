package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventPaymentSubmitted = "PaymentSubmitted"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentRejected  = "PaymentRejected"
	EventOrderFullyPaid   = "OrderFullyPaid"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "coffre-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	ExternalID  string      `json:"external_id"`
	CustomerID  string      `json:"customer_id"`
	PaymentMode PaymentMode `json:"payment_mode"`
	Total       int64       `json:"total"`
	Tranches    int         `json:"tranches"`
}

type PaymentSubmittedPayload struct {
	OrderID      string  `json:"order_id"`
	Step         int     `json:"step"`
	SubmissionID string  `json:"submission_id"`
	Reference    string  `json:"reference"`
	AmountSent   int64   `json:"amount_sent"`
	Channel      Channel `json:"channel"`
}

type PaymentConfirmedPayload struct {
	OrderID    string `json:"order_id"`
	Step       int    `json:"step"`
	ReviewedBy string `json:"reviewed_by"`
	FullyPaid  bool   `json:"fully_paid"`
}

type PaymentRejectedPayload struct {
	OrderID    string `json:"order_id"`
	Step       int    `json:"step"`
	ReviewedBy string `json:"reviewed_by"`
}

type OrderFullyPaidPayload struct {
	OrderID string `json:"order_id"`
}
