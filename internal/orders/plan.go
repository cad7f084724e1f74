package orders

import "fmt"

// BuildPlan generates the installment schedule for a checkout total.
// FULL yields a single tranche of the whole total. INSTALLMENTS yields
// `tranches` equal parts; the integer-division remainder lands on the last
// tranche so the amounts always sum to the total exactly.
func BuildPlan(total int64, mode PaymentMode, tranches int) ([]Installment, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total must be positive, got %d", ErrInvalidOrder, total)
	}

	switch mode {
	case ModeFull:
		return []Installment{{Step: 1, AmountExpected: total, Status: StatusUnpaid}}, nil
	case ModeInstallments:
		if tranches < 1 {
			return nil, fmt.Errorf("%w: tranche count must be at least 1, got %d", ErrInvalidOrder, tranches)
		}
		part := total / int64(tranches)
		out := make([]Installment, tranches)
		for n := 0; n < tranches; n++ {
			out[n] = Installment{Step: n + 1, AmountExpected: part, Status: StatusUnpaid}
		}
		out[tranches-1].AmountExpected += total % int64(tranches)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown payment mode %q", ErrInvalidOrder, mode)
	}
}

// NewOrder validates the cart snapshot, computes the immutable total and
// attaches the installment plan. IDs and timestamps are assigned by the repo.
func NewOrder(externalID, customerID string, mode PaymentMode, items []OrderItem, tranches int) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrInvalidOrder)
	}
	var total int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: non-positive quantity for %s", ErrInvalidOrder, it.ProductRef)
		}
		if it.UnitPrice <= 0 {
			return nil, fmt.Errorf("%w: non-positive price for %s", ErrInvalidOrder, it.ProductRef)
		}
		total += it.UnitPrice * int64(it.Quantity)
	}

	plan, err := BuildPlan(total, mode, tranches)
	if err != nil {
		return nil, err
	}
	return &Order{
		ExternalID:   externalID,
		CustomerID:   customerID,
		PaymentMode:  mode,
		Total:        total,
		Items:        items,
		Installments: plan,
	}, nil
}
