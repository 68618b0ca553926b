package store

import (
	"strings"
	"time"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"

	"github.com/jmoiron/sqlx"
)

// Page selects a window of a listing. AfterID is a keyset cursor over the
// id ordering; re-running with the same cursor reproduces the sequence
// given unchanged data. Offset is an escape hatch for offset paging.
type Page struct {
	AfterID int64
	Offset  int
	Limit   int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (p Page) normalize() (Page, error) {
	if p.Limit < 0 || p.Offset < 0 || p.AfterID < 0 {
		return Page{}, errs.Validation("pagination values must be non-negative")
	}
	if p.Limit == 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p, nil
}

// cond is one WHERE predicate with `?` placeholders, expanded by sqlx.In
// and rebound to the driver's bindvar style at query time.
type cond struct {
	expr string
	args []interface{}
}

func eqCond(col string, v interface{}) cond {
	return cond{expr: col + " = ?", args: []interface{}{v}}
}

func rangeConds(col string, from, to *time.Time) []cond {
	var out []cond
	if from != nil {
		out = append(out, cond{expr: col + " >= ?", args: []interface{}{*from}})
	}
	if to != nil {
		out = append(out, cond{expr: col + " < ?", args: []interface{}{*to}})
	}
	return out
}

func containsCond(col, substr string) cond {
	return cond{expr: col + " ILIKE ?", args: []interface{}{"%" + escapeLike(substr) + "%"}}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildQuery assembles SELECT + WHERE + ORDER BY id + pagination into a
// driver-ready query.
func buildQuery(q Querier, selectFrom string, conds []cond, page Page) (string, []interface{}, error) {
	page, err := page.normalize()
	if err != nil {
		return "", nil, err
	}
	if page.AfterID > 0 {
		conds = append(conds, cond{expr: "id > ?", args: []interface{}{page.AfterID}})
	}

	var sb strings.Builder
	sb.WriteString(selectFrom)
	args := make([]interface{}, 0, len(conds)+1)
	for i, c := range conds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(c.expr)
		args = append(args, c.args...)
	}
	sb.WriteString(" ORDER BY id LIMIT ?")
	args = append(args, page.Limit)
	if page.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, page.Offset)
	}

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return "", nil, errs.Wrap(errs.CodeValidation, err, "bad filter arguments")
	}
	return q.Rebind(query), args, nil
}

// ProductFilter is a structured predicate over product scalar fields
type ProductFilter struct {
	IDs          []int64
	NameContains string
	Currency     string
	IsActive     *bool
	IsRefundable *bool
	MinPrice     *int64
	MaxPrice     *int64
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

func (f ProductFilter) conds() []cond {
	var out []cond
	if len(f.IDs) > 0 {
		out = append(out, cond{expr: "id IN (?)", args: []interface{}{f.IDs}})
	}
	if f.NameContains != "" {
		out = append(out, containsCond("name", f.NameContains))
	}
	if f.Currency != "" {
		out = append(out, eqCond("currency", f.Currency))
	}
	if f.IsActive != nil {
		out = append(out, eqCond("is_active", *f.IsActive))
	}
	if f.IsRefundable != nil {
		out = append(out, eqCond("is_refundable", *f.IsRefundable))
	}
	if f.MinPrice != nil {
		out = append(out, cond{expr: "price >= ?", args: []interface{}{*f.MinPrice}})
	}
	if f.MaxPrice != nil {
		out = append(out, cond{expr: "price <= ?", args: []interface{}{*f.MaxPrice}})
	}
	out = append(out, rangeConds("created_at", f.CreatedFrom, f.CreatedTo)...)
	return out
}

// OrderFilter is a structured predicate over order scalar fields
type OrderFilter struct {
	IDs             []int64
	UserID          *int64
	Statuses        []ledger.OrderStatus
	PaymentID       *int64
	ExternalOrderNo string
	TitleContains   string
	MinTotal        *int64
	MaxTotal        *int64
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

func (f OrderFilter) conds() []cond {
	var out []cond
	if len(f.IDs) > 0 {
		out = append(out, cond{expr: "id IN (?)", args: []interface{}{f.IDs}})
	}
	if f.UserID != nil {
		out = append(out, eqCond("user_id", *f.UserID))
	}
	if len(f.Statuses) > 0 {
		out = append(out, cond{expr: "status IN (?)", args: []interface{}{f.Statuses}})
	}
	if f.PaymentID != nil {
		out = append(out, eqCond("payment_id", *f.PaymentID))
	}
	if f.ExternalOrderNo != "" {
		out = append(out, eqCond("external_order_no", f.ExternalOrderNo))
	}
	if f.TitleContains != "" {
		out = append(out, containsCond("summary_title", f.TitleContains))
	}
	if f.MinTotal != nil {
		out = append(out, cond{expr: "total_amount >= ?", args: []interface{}{*f.MinTotal}})
	}
	if f.MaxTotal != nil {
		out = append(out, cond{expr: "total_amount <= ?", args: []interface{}{*f.MaxTotal}})
	}
	out = append(out, rangeConds("created_at", f.CreatedFrom, f.CreatedTo)...)
	return out
}

// PaymentFilter is a structured predicate over payment scalar fields
type PaymentFilter struct {
	IDs         []int64
	Statuses    []ledger.PaymentStatus
	Methods     []ledger.PaymentMethod
	ServiceName string
	MinAmount   *int64
	MaxAmount   *int64
	PaidFrom    *time.Time
	PaidTo      *time.Time
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

func (f PaymentFilter) conds() []cond {
	var out []cond
	if len(f.IDs) > 0 {
		out = append(out, cond{expr: "id IN (?)", args: []interface{}{f.IDs}})
	}
	if len(f.Statuses) > 0 {
		out = append(out, cond{expr: "status IN (?)", args: []interface{}{f.Statuses}})
	}
	if len(f.Methods) > 0 {
		out = append(out, cond{expr: "method IN (?)", args: []interface{}{f.Methods}})
	}
	if f.ServiceName != "" {
		out = append(out, eqCond("service_name", f.ServiceName))
	}
	if f.MinAmount != nil {
		out = append(out, cond{expr: "amount >= ?", args: []interface{}{*f.MinAmount}})
	}
	if f.MaxAmount != nil {
		out = append(out, cond{expr: "amount <= ?", args: []interface{}{*f.MaxAmount}})
	}
	out = append(out, rangeConds("paid_at", f.PaidFrom, f.PaidTo)...)
	out = append(out, rangeConds("created_at", f.CreatedFrom, f.CreatedTo)...)
	return out
}

// RefundFilter is a structured predicate over refund scalar fields
type RefundFilter struct {
	IDs          []int64
	PaymentID    *int64
	OrderID      *int64
	OrderItemID  *int64
	MinAmount    *int64
	RefundedFrom *time.Time
	RefundedTo   *time.Time
}

func (f RefundFilter) conds() []cond {
	var out []cond
	if len(f.IDs) > 0 {
		out = append(out, cond{expr: "id IN (?)", args: []interface{}{f.IDs}})
	}
	if f.PaymentID != nil {
		out = append(out, eqCond("payment_id", *f.PaymentID))
	}
	if f.OrderID != nil {
		out = append(out, eqCond("order_id", *f.OrderID))
	}
	if f.OrderItemID != nil {
		out = append(out, eqCond("order_item_id", *f.OrderItemID))
	}
	if f.MinAmount != nil {
		out = append(out, cond{expr: "amount >= ?", args: []interface{}{*f.MinAmount}})
	}
	out = append(out, rangeConds("refunded_at", f.RefundedFrom, f.RefundedTo)...)
	return out
}

// OrderItemFilter is a structured predicate over order item scalar fields
type OrderItemFilter struct {
	OrderID      *int64
	ProductID    *int64
	NameContains string
}

func (f OrderItemFilter) conds() []cond {
	var out []cond
	if f.OrderID != nil {
		out = append(out, eqCond("order_id", *f.OrderID))
	}
	if f.ProductID != nil {
		out = append(out, eqCond("product_id", *f.ProductID))
	}
	if f.NameContains != "" {
		out = append(out, containsCond("product_name", f.NameContains))
	}
	return out
}
