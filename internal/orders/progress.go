package orders

// Progress is the customer-facing "coffre" view of how far an order's
// payment has come. It is recomputed from installment states on demand and
// never persisted; Redis may cache the serialized result briefly.
type Progress struct {
	OrderID          string      `json:"order_id"`
	Status           OrderStatus `json:"status"`
	PaidCount        int         `json:"paid_count"`
	InstallmentCount int         `json:"installment_count"`
	TotalPaidAmount  int64       `json:"total_paid_amount"`
	RemainingBalance int64       `json:"remaining_balance"`
	ProgressPercent  float64     `json:"progress_percent"`
}

// ComputeProgress sums AmountExpected over PAID installments. AmountSent is
// deliberately ignored: declared amounts are unverified customer input.
func ComputeProgress(o *Order) Progress {
	p := Progress{
		OrderID:          o.ID,
		Status:           DeriveStatus(o.Installments),
		InstallmentCount: len(o.Installments),
		RemainingBalance: o.Total,
	}
	for _, in := range o.Installments {
		if in.Status == StatusPaid {
			p.PaidCount++
			p.TotalPaidAmount += in.AmountExpected
		}
	}
	p.RemainingBalance = o.Total - p.TotalPaidAmount
	if len(o.Installments) > 0 {
		p.ProgressPercent = float64(p.PaidCount) / float64(len(o.Installments)) * 100
	}
	return p
}
