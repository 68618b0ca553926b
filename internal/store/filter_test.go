package store

import (
	"testing"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"
)

func testQuerier(t *testing.T) Querier {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres")
}

func TestBuildQueryNoFilter(t *testing.T) {
	q := testQuerier(t)

	query, args, err := buildQuery(q, "SELECT * FROM orders", nil, Page{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders ORDER BY id LIMIT $1", query)
	assert.Equal(t, []interface{}{defaultPageLimit}, args)
}

func TestBuildQueryFilterAndCursor(t *testing.T) {
	q := testQuerier(t)

	userID := int64(9)
	f := OrderFilter{
		UserID:   &userID,
		Statuses: []ledger.OrderStatus{ledger.OrderPaid, ledger.OrderPartiallyCanceled},
	}
	query, args, err := buildQuery(q, "SELECT * FROM orders", f.conds(), Page{AfterID: 100, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM orders WHERE user_id = $1 AND status IN ($2, $3) AND id > $4 ORDER BY id LIMIT $5",
		query)
	assert.Equal(t,
		[]interface{}{userID, ledger.OrderPaid, ledger.OrderPartiallyCanceled, int64(100), 20},
		args)
}

func TestBuildQueryOffset(t *testing.T) {
	q := testQuerier(t)

	query, args, err := buildQuery(q, "SELECT * FROM products", nil, Page{Offset: 40, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM products ORDER BY id LIMIT $1 OFFSET $2", query)
	assert.Equal(t, []interface{}{10, 40}, args)
}

func TestBuildQuerySubstringEscaped(t *testing.T) {
	q := testQuerier(t)

	f := ProductFilter{NameContains: "50%_off"}
	query, args, err := buildQuery(q, "SELECT * FROM products", f.conds(), Page{})
	require.NoError(t, err)
	assert.Contains(t, query, "name ILIKE $1")
	assert.Equal(t, `%50\%\_off%`, args[0])
}

func TestBuildQueryLimits(t *testing.T) {
	q := testQuerier(t)

	_, args, err := buildQuery(q, "SELECT * FROM refunds", nil, Page{Limit: maxPageLimit * 10})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{maxPageLimit}, args)

	_, _, err = buildQuery(q, "SELECT * FROM refunds", nil, Page{Limit: -1})
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, _, err = buildQuery(q, "SELECT * FROM refunds", nil, Page{Offset: -5})
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestPaymentFilterConds(t *testing.T) {
	min := int64(1000)
	f := PaymentFilter{
		Statuses:  []ledger.PaymentStatus{ledger.PaymentSuccess},
		Methods:   []ledger.PaymentMethod{ledger.MethodCard, ledger.MethodPoint},
		MinAmount: &min,
	}
	conds := f.conds()
	require.Len(t, conds, 3)
	assert.Equal(t, "status IN (?)", conds[0].expr)
	assert.Equal(t, "method IN (?)", conds[1].expr)
	assert.Equal(t, "amount >= ?", conds[2].expr)
}
