package store

import (
	"context"
	"strings"
	"time"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"
)

// CreatePayment validates and inserts an INITIATED payment
func (r queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	if _, err := ledger.ValidateAmount(p.Amount); err != nil {
		return err
	}
	if _, err := ledger.ParsePaymentMethod(string(p.Method)); err != nil {
		return err
	}
	if p.ServiceName == "" {
		return errs.Validation("payment service name is required")
	}
	if p.Status == "" {
		p.Status = ledger.PaymentInitiated
	}
	if _, err := ledger.ParsePaymentStatus(string(p.Status)); err != nil {
		return err
	}

	query := `
		INSERT INTO payments (amount, method, service_name, status, online_url, mobile_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.q.GetContext(ctx, p, query,
		p.Amount, p.Method, p.ServiceName, p.Status, p.OnlineURL, p.MobileURL)
	return errs.FromStorage(err, "payment insert")
}

// GetPaymentByID retrieves a payment by ID
func (r queries) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	err := r.q.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, errs.FromStorage(err, "payment %d not found", id)
	}
	return &p, nil
}

// GetPaymentForUpdate loads a payment under a row lock for settlement
func (r queries) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	err := r.q.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, errs.FromStorage(err, "payment %d not found", id)
	}
	return &p, nil
}

// FindPayments lists payments matching the filter
func (r queries) FindPayments(ctx context.Context, f PaymentFilter, page Page) ([]models.Payment, error) {
	query, args, err := buildQuery(r.q, "SELECT * FROM payments", f.conds(), page)
	if err != nil {
		return nil, err
	}
	var payments []models.Payment
	if err := r.q.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, errs.FromStorage(err, "payment list")
	}
	return payments, nil
}

// MarkPaymentStatus finalizes a payment. paidAt is set only on SUCCESS.
func (r queries) MarkPaymentStatus(ctx context.Context, paymentID int64, status ledger.PaymentStatus, paidAt *time.Time) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE payments SET status = $1, paid_at = $2 WHERE id = $3",
		status, paidAt, paymentID)
	return errs.FromStorage(err, "payment %d", paymentID)
}

// PaymentPatch is a partial update of a payment's mutable metadata
type PaymentPatch struct {
	ServiceName *string `json:"service_name,omitempty"`
	OnlineURL   *string `json:"online_url,omitempty"`
	MobileURL   *string `json:"mobile_url,omitempty"`
}

// UpdatePayment applies a partial update and returns the updated row.
// Amount and status change only through the settlement workflow.
func (r queries) UpdatePayment(ctx context.Context, id int64, patch PaymentPatch) (*models.Payment, error) {
	set := []string{}
	args := []interface{}{}
	if patch.ServiceName != nil {
		if *patch.ServiceName == "" {
			return nil, errs.Validation("payment service name cannot be empty")
		}
		set = append(set, "service_name = ?")
		args = append(args, *patch.ServiceName)
	}
	if patch.OnlineURL != nil {
		set = append(set, "online_url = ?")
		args = append(args, *patch.OnlineURL)
	}
	if patch.MobileURL != nil {
		set = append(set, "mobile_url = ?")
		args = append(args, *patch.MobileURL)
	}
	if len(set) == 0 {
		return r.GetPaymentByID(ctx, id)
	}
	args = append(args, id)
	query := r.q.Rebind("UPDATE payments SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING *")

	var p models.Payment
	if err := r.q.GetContext(ctx, &p, query, args...); err != nil {
		return nil, errs.FromStorage(err, "payment %d not found", id)
	}
	return &p, nil
}

// DeletePayment removes a payment no order or refund references, together
// with its provider detail record.
func (r queries) DeletePayment(ctx context.Context, id int64) error {
	var referenced bool
	err := r.q.GetContext(ctx, &referenced,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE payment_id = $1)
			OR EXISTS(SELECT 1 FROM refunds WHERE payment_id = $1)`, id)
	if err != nil {
		return errs.FromStorage(err, "payment %d", id)
	}
	if referenced {
		return errs.New(errs.CodeReferentialIntegrity, "payment %d is referenced by orders or refunds", id)
	}

	if _, err := r.q.ExecContext(ctx, "DELETE FROM payletter_details WHERE payment_id = $1", id); err != nil {
		return errs.FromStorage(err, "payment %d detail", id)
	}
	res, err := r.q.ExecContext(ctx, "DELETE FROM payments WHERE id = $1", id)
	if err != nil {
		return errs.FromStorage(err, "payment %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("payment %d not found", id)
	}
	return nil
}

// CreatePayletterDetail attaches provider settlement data to a payment.
// The unique payment_id constraint enforces the 1:1 relation; a second
// insert for the same payment fails with DUPLICATE_KEY.
func (r queries) CreatePayletterDetail(ctx context.Context, d *models.PayletterDetail) error {
	if d.PaymentID == 0 {
		return errs.Validation("payletter detail requires a payment id")
	}
	if d.TID == "" {
		return errs.Validation("payletter detail requires a tid")
	}

	query := `
		INSERT INTO payletter_details (payment_id, tid, cid, pay_hash, method_code, method_name,
			transaction_date, install_month, card_code, card_name, card_no,
			tax_amount, tax_free_amount, non_settle_amount,
			cash_receipt_type, cash_receipt_cid, cash_receipt_tid, cash_receipt_issue_no,
			account_no, account_name, account_holder, bank_code, bank_name,
			bill_key, expire_date, domestic_flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		RETURNING id, created_at`

	err := r.q.GetContext(ctx, d, query,
		d.PaymentID, d.TID, d.CID, d.PayHash, d.MethodCode, d.MethodName,
		d.TransactionDate, d.InstallMonth, d.CardCode, d.CardName, d.CardNo,
		d.TaxAmount, d.TaxFreeAmount, d.NonSettleAmount,
		d.CashReceiptType, d.CashReceiptCID, d.CashReceiptTID, d.CashReceiptIssueNo,
		d.AccountNo, d.AccountName, d.AccountHolder, d.BankCode, d.BankName,
		d.BillKey, d.ExpireDate, d.DomesticFlag)
	return errs.FromStorage(err, "payletter detail insert")
}

// GetPayletterDetailByPaymentID retrieves the detail record for a payment
func (r queries) GetPayletterDetailByPaymentID(ctx context.Context, paymentID int64) (*models.PayletterDetail, error) {
	var d models.PayletterDetail
	err := r.q.GetContext(ctx, &d, "SELECT * FROM payletter_details WHERE payment_id = $1", paymentID)
	if err != nil {
		return nil, errs.FromStorage(err, "payletter detail for payment %d not found", paymentID)
	}
	return &d, nil
}
