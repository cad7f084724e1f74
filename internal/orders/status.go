package orders

import (
	"fmt"
	"time"
)

type InstallmentStatus string

const (
	StatusUnpaid   InstallmentStatus = "UNPAID"
	StatusPending  InstallmentStatus = "PENDING"
	StatusPaid     InstallmentStatus = "PAID"
	StatusRejected InstallmentStatus = "REJECTED"
)

type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionConfirmed SubmissionStatus = "CONFIRMED"
	SubmissionRejected  SubmissionStatus = "REJECTED"
)

// OrderStatus is derived from installment states, never stored.
type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderPartiallyPaid   OrderStatus = "PARTIALLY_PAID"
	OrderFullyPaid       OrderStatus = "FULLY_PAID"
)

// PAID is terminal. REJECTED loops back to PENDING on resubmission.
var validNext = map[InstallmentStatus]map[InstallmentStatus]bool{
	StatusUnpaid:   {StatusPending: true},
	StatusPending:  {StatusPaid: true, StatusRejected: true},
	StatusRejected: {StatusPending: true},
	StatusPaid:     {},
}

func CanTransition(from, to InstallmentStatus) bool {
	return validNext[from][to]
}

// Submit appends a new PENDING submission and moves the installment to
// PENDING. Only one submission may be under review at a time, so an
// installment that is already PENDING (or PAID) refuses new claims.
// Declared amounts are not checked against AmountExpected: the transfer is
// manual and reconciliation is the reviewer's call.
func (i *Installment) Submit(sub PaymentSubmission) error {
	if !CanTransition(i.Status, StatusPending) {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidState, i.Step, i.Status)
	}
	sub.OrderID = i.OrderID
	sub.Step = i.Step
	sub.Status = SubmissionPending
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	i.Submissions = append(i.Submissions, sub)
	i.Status = StatusPending
	i.UpdatedAt = sub.SubmittedAt
	return nil
}

// Confirm settles the active PENDING submission and marks the installment
// PAID. Confirming a non-PENDING installment (including an already PAID one)
// fails with ErrInvalidState.
func (i *Installment) Confirm(reviewer string, at time.Time) error {
	return i.review(StatusPaid, SubmissionConfirmed, reviewer, at)
}

// Reject denies the active PENDING submission; the installment becomes
// REJECTED and accepts a resubmission.
func (i *Installment) Reject(reviewer string, at time.Time) error {
	return i.review(StatusRejected, SubmissionRejected, reviewer, at)
}

func (i *Installment) review(to InstallmentStatus, subStatus SubmissionStatus, reviewer string, at time.Time) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidState, i.Step, i.Status)
	}
	sub := i.ActiveSubmission()
	if sub == nil {
		return fmt.Errorf("%w: step %d has no pending submission", ErrInvalidState, i.Step)
	}
	sub.Status = subStatus
	sub.ReviewedBy = reviewer
	sub.ReviewedAt = &at
	i.Status = to
	i.UpdatedAt = at
	return nil
}

// ActiveSubmission returns the submission currently under review, nil if none.
func (i *Installment) ActiveSubmission() *PaymentSubmission {
	for n := range i.Submissions {
		if i.Submissions[n].Status == SubmissionPending {
			return &i.Submissions[n]
		}
	}
	return nil
}

// DeriveStatus computes the order-level status from its installments.
func DeriveStatus(installments []Installment) OrderStatus {
	if len(installments) == 0 {
		return OrderAwaitingPayment
	}
	paid := 0
	for _, in := range installments {
		if in.Status == StatusPaid {
			paid++
		}
	}
	switch {
	case paid == len(installments):
		return OrderFullyPaid
	case paid > 0:
		return OrderPartiallyPaid
	default:
		return OrderAwaitingPayment
	}
}
