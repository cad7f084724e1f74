package orders

import "time"

type PaymentMode string

const (
	ModeFull         PaymentMode = "FULL"
	ModeInstallments PaymentMode = "INSTALLMENTS"
)

// Channel identifies the external mobile-money rail the customer paid on.
// Transfers happen out-of-band; we only record the customer's claim.
type Channel string

const (
	ChannelOrangeMoney Channel = "ORANGE_MONEY"
	ChannelWave        Channel = "WAVE"
)

type Order struct {
	ID           string        `json:"id"`
	ExternalID   string        `json:"external_id"`
	CustomerID   string        `json:"customer_id"`
	PaymentMode  PaymentMode   `json:"payment_mode"`
	Total        int64         `json:"total"`
	Items        []OrderItem   `json:"items"`
	Installments []Installment `json:"installments"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// OrderItem is a cart line frozen at checkout. Prices are XOF, no fractional units.
type OrderItem struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	Color      string `json:"color,omitempty"`
	Size       string `json:"size,omitempty"`
}

// Installment is one expected tranche of an order's total. Step is 1-based
// and unique within the order; AmountExpected never changes after checkout.
type Installment struct {
	OrderID        string              `json:"order_id"`
	Step           int                 `json:"step"`
	AmountExpected int64               `json:"amount_expected"`
	Status         InstallmentStatus   `json:"status"`
	Submissions    []PaymentSubmission `json:"submissions,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type PaymentSubmission struct {
	ID           string           `json:"id"`
	OrderID      string           `json:"order_id"`
	Step         int              `json:"step"`
	Reference    string           `json:"reference"`
	AmountSent   int64            `json:"amount_sent"`
	Channel      Channel          `json:"channel"`
	SenderNumber string           `json:"sender_number"`
	Status       SubmissionStatus `json:"status"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	ReviewedBy   string           `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
}

// PendingReview is one row of the admin review queue: a PENDING submission
// joined with the installment it claims to pay.
type PendingReview struct {
	OrderID        string            `json:"order_id"`
	Step           int               `json:"step"`
	AmountExpected int64             `json:"amount_expected"`
	Submission     PaymentSubmission `json:"submission"`
}
