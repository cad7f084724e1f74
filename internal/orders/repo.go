package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateOrderTx inserts the order, its item snapshot and the full installment
// plan in one transaction. Idempotent via external_id: a replayed checkout
// returns the previously created order id (existed=true).
func (r *Repo) CreateOrderTx(ctx context.Context, o *Order) (orderID string, existed bool, err error) {
	var total int64
	row := r.DB.QueryRow(ctx, `SELECT id, total FROM orders WHERE external_id=$1`, o.ExternalID)
	if err = row.Scan(&orderID, &total); err == nil {
		o.ID = orderID
		o.Total = total
		return orderID, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, payment_mode, total)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, o.ExternalID, o.CustomerID, string(o.PaymentMode), o.Total)
	if err != nil {
		// concurrent first-time checkout with the same external_id: the
		// loser of the unique index takes the replay branch
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			row := r.DB.QueryRow(ctx, `SELECT id, total FROM orders WHERE external_id=$1`, o.ExternalID)
			if scanErr := row.Scan(&orderID, &total); scanErr == nil {
				o.ID = orderID
				o.Total = total
				return orderID, true, nil
			}
		}
		return "", false, err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_ref, name, unit_price, quantity, color, size)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			orderID, it.ProductRef, it.Name, it.UnitPrice, it.Quantity, it.Color, it.Size,
		)
		if err != nil {
			return "", false, err
		}
	}

	// plan is fixed here forever: no installment is added or removed later
	for _, in := range o.Installments {
		_, err = tx.Exec(ctx, `
			INSERT INTO installments(order_id, step, amount_expected, status)
			VALUES ($1, $2, $3, $4)`,
			orderID, in.Step, in.AmountExpected, string(StatusUnpaid),
		)
		if err != nil {
			return "", false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	o.ID = orderID
	return orderID, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, customer_id, payment_mode, total, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.PaymentMode, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_ref, name, unit_price, quantity, color, size
		FROM order_items WHERE order_id=$1 ORDER BY product_ref`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductRef, &it.Name, &it.UnitPrice, &it.Quantity, &it.Color, &it.Size); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	irows, err := r.DB.Query(ctx, `
		SELECT step, amount_expected, status, updated_at
		FROM installments WHERE order_id=$1 ORDER BY step`, orderID)
	if err != nil {
		return nil, err
	}
	defer irows.Close()
	for irows.Next() {
		in := Installment{OrderID: o.ID}
		var status string
		if err := irows.Scan(&in.Step, &in.AmountExpected, &status, &in.UpdatedAt); err != nil {
			return nil, err
		}
		in.Status = InstallmentStatus(status)
		o.Installments = append(o.Installments, in)
	}
	if err := irows.Err(); err != nil {
		return nil, err
	}

	srows, err := r.DB.Query(ctx, `
		SELECT id, step, reference, amount_sent, channel, sender_number, status,
		       submitted_at, COALESCE(reviewed_by, ''), reviewed_at
		FROM payment_submissions WHERE order_id=$1 ORDER BY submitted_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		sub := PaymentSubmission{OrderID: o.ID}
		var status, channel string
		if err := srows.Scan(&sub.ID, &sub.Step, &sub.Reference, &sub.AmountSent, &channel,
			&sub.SenderNumber, &status, &sub.SubmittedAt, &sub.ReviewedBy, &sub.ReviewedAt); err != nil {
			return nil, err
		}
		sub.Status = SubmissionStatus(status)
		sub.Channel = Channel(channel)
		for n := range o.Installments {
			if o.Installments[n].Step == sub.Step {
				o.Installments[n].Submissions = append(o.Installments[n].Submissions, sub)
			}
		}
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// SubmitPayment records a customer claim against an installment. The status
// flip is a conditional update so two concurrent claims can never both land:
// the loser of the compare-and-swap gets ErrInvalidState or ErrConflict.
func (r *Repo) SubmitPayment(ctx context.Context, orderID string, step int, sub *PaymentSubmission) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE installments SET status=$3, updated_at=now()
		WHERE order_id=$1 AND step=$2 AND status IN ($4, $5)`,
		orderID, step, string(StatusPending), string(StatusUnpaid), string(StatusRejected))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.diagnose(ctx, tx, orderID, step, StatusPending)
	}

	sub.ID = uuid.NewString()
	sub.OrderID = orderID
	sub.Step = step
	sub.Status = SubmissionPending
	err = tx.QueryRow(ctx, `
		INSERT INTO payment_submissions(id, order_id, step, reference, amount_sent, channel, sender_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING submitted_at`,
		sub.ID, orderID, step, sub.Reference, sub.AmountSent, string(sub.Channel), sub.SenderNumber, string(SubmissionPending)).
		Scan(&sub.SubmittedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET updated_at=now() WHERE id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ConfirmPayment settles the pending submission of an installment and reports
// whether that confirmation completed the whole order.
func (r *Repo) ConfirmPayment(ctx context.Context, orderID string, step int, reviewer string) (fullyPaid bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.reviewTx(ctx, tx, orderID, step, reviewer, StatusPaid, SubmissionConfirmed); err != nil {
		return false, err
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM installments WHERE order_id=$1 AND status <> $2`,
		orderID, string(StatusPaid)).Scan(&remaining)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return remaining == 0, nil
}

func (r *Repo) RejectPayment(ctx context.Context, orderID string, step int, reviewer string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.reviewTx(ctx, tx, orderID, step, reviewer, StatusRejected, SubmissionRejected); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) reviewTx(ctx context.Context, tx pgx.Tx, orderID string, step int, reviewer string, to InstallmentStatus, subStatus SubmissionStatus) error {
	ct, err := tx.Exec(ctx, `
		UPDATE installments SET status=$3, updated_at=now()
		WHERE order_id=$1 AND step=$2 AND status=$4`,
		orderID, step, string(to), string(StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.diagnose(ctx, tx, orderID, step, to)
	}

	ct, err = tx.Exec(ctx, `
		UPDATE payment_submissions SET status=$3, reviewed_by=$4, reviewed_at=now()
		WHERE order_id=$1 AND step=$2 AND status=$5`,
		orderID, step, string(subStatus), reviewer, string(SubmissionPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		// a PENDING installment always carries exactly one pending submission
		return fmt.Errorf("%w: step %d has no pending submission", ErrConflict, step)
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET updated_at=now() WHERE id=$1`, orderID)
	return err
}

// diagnose runs after a lost compare-and-swap: missing row, ineligible state
// or a genuine race, in that order of likelihood.
func (r *Repo) diagnose(ctx context.Context, tx pgx.Tx, orderID string, step int, to InstallmentStatus) error {
	var s string
	err := tx.QueryRow(ctx, `SELECT status FROM installments WHERE order_id=$1 AND step=$2`,
		orderID, step).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: installment %d of order %s", ErrNotFound, step, orderID)
	}
	if err != nil {
		return err
	}
	if cur := InstallmentStatus(s); !CanTransition(cur, to) {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidState, step, cur)
	}
	// the row says the transition is legal now, so someone beat us between
	// our UPDATE and this read
	return fmt.Errorf("%w: step %d of order %s", ErrConflict, step, orderID)
}

func (r *Repo) ListPendingReview(ctx context.Context) ([]PendingReview, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT s.order_id, s.step, i.amount_expected,
		       s.id, s.reference, s.amount_sent, s.channel, s.sender_number, s.submitted_at
		FROM payment_submissions s
		JOIN installments i ON i.order_id = s.order_id AND i.step = s.step
		WHERE s.status = $1
		ORDER BY s.submitted_at`, string(SubmissionPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReview
	for rows.Next() {
		var pr PendingReview
		var channel string
		if err := rows.Scan(&pr.OrderID, &pr.Step, &pr.AmountExpected,
			&pr.Submission.ID, &pr.Submission.Reference, &pr.Submission.AmountSent,
			&channel, &pr.Submission.SenderNumber, &pr.Submission.SubmittedAt); err != nil {
			return nil, err
		}
		pr.Submission.OrderID = pr.OrderID
		pr.Submission.Step = pr.Step
		pr.Submission.Channel = Channel(channel)
		pr.Submission.Status = SubmissionPending
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (r *Repo) IsFullyPaid(ctx context.Context, orderID string) (bool, error) {
	var total, unpaid int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> $2)
		FROM installments WHERE order_id=$1`,
		orderID, string(StatusPaid)).Scan(&total, &unpaid)
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return unpaid == 0, nil
}
