package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// PaymentRepo stores the single authoritative payment record per
// booking, keyed by the shared order number.  Only the reconciliation
// service mutates payments after creation.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, order_number, transaction_id, status, gross_amount,
       paid_at, expired_at, raw_response, created_at, updated_at`

// Create inserts the payment record created alongside the gateway
// session (or the synthetic zero-amount record for auto-confirmed
// bookings) and populates the generated id.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const ins = `INSERT INTO payments
        (order_number, transaction_id, status, gross_amount, paid_at, expired_at, raw_response)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := q(ctx, r.db).ExecContext(ctx, ins,
		p.OrderNumber, p.TransactionID, p.Status, p.GrossAmount, p.PaidAt, p.ExpiredAt, p.RawResponse,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// GetByOrder returns the payment for an order number or ErrNotFound.
func (r *PaymentRepo) GetByOrder(ctx context.Context, orderNumber string) (*model.Payment, error) {
	const sel = `SELECT ` + paymentColumns + ` FROM payments WHERE order_number = ?`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, orderNumber))
}

// GetByOrderForUpdate loads the payment under a row lock.  Must run
// inside a TxRunner callback, together with the booking row lock.
func (r *PaymentRepo) GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Payment, error) {
	const sel = `SELECT ` + paymentColumns + ` FROM payments WHERE order_number = ? FOR UPDATE`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, orderNumber))
}

// Update persists the mutable fields of a payment: status, gateway
// transaction id, timestamps and the raw response snapshot.
func (r *PaymentRepo) Update(ctx context.Context, p *model.Payment) error {
	const upd = `UPDATE payments SET transaction_id = ?, status = ?, paid_at = ?,
                 expired_at = ?, raw_response = ?, updated_at = NOW()
                 WHERE order_number = ?`
	res, err := q(ctx, r.db).ExecContext(ctx, upd,
		p.TransactionID, p.Status, p.PaidAt, p.ExpiredAt, p.RawResponse, p.OrderNumber,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PaymentRepo) scan(row *sql.Row) (*model.Payment, error) {
	var p model.Payment
	var txnID sql.NullString
	var paidAt, expiredAt sql.NullTime
	var raw []byte
	err := row.Scan(&p.ID, &p.OrderNumber, &txnID, &p.Status, &p.GrossAmount,
		&paidAt, &expiredAt, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if txnID.Valid {
		v := txnID.String
		p.TransactionID = &v
	}
	p.PaidAt = nullTimePtr(paidAt)
	p.ExpiredAt = nullTimePtr(expiredAt)
	p.RawResponse = raw
	return &p, nil
}
