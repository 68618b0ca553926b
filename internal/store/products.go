package store

import (
	"context"
	"strings"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateProduct validates and inserts a product, filling server-assigned fields
func (r queries) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.Name == "" {
		return errs.Validation("product name is required")
	}
	if _, err := ledger.ValidateAmount(p.Price); err != nil {
		return err
	}
	if p.Stock != nil && *p.Stock < 0 {
		return errs.Validation("product stock must be non-negative, got %d", *p.Stock)
	}
	if p.Currency == "" {
		return errs.Validation("product currency is required")
	}

	query := `
		INSERT INTO products (name, description, price, image_url, currency, stock, is_active, is_refundable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.q.GetContext(ctx, p, query,
		p.Name, p.Description, p.Price, p.ImageURL, p.Currency, p.Stock, p.IsActive, p.IsRefundable)
	return errs.FromStorage(err, "product insert")
}

// GetProductByID retrieves a product by ID
func (r queries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := r.q.GetContext(ctx, &p, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, errs.FromStorage(err, "product %d not found", id)
	}
	return &p, nil
}

// GetProductsForUpdate loads and row-locks products in id order. The fixed
// lock order prevents deadlock between concurrent multi-product orders.
func (r queries) GetProductsForUpdate(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?) ORDER BY id FOR UPDATE", ids)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, err, "bad product id list")
	}
	query = r.q.Rebind(query)

	var products []models.Product
	if err := r.q.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, errs.FromStorage(err, "products %v", ids)
	}
	return products, nil
}

// FindProducts lists products matching the filter
func (r queries) FindProducts(ctx context.Context, f ProductFilter, page Page) ([]models.Product, error) {
	query, args, err := buildQuery(r.q, "SELECT * FROM products", f.conds(), page)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := r.q.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, errs.FromStorage(err, "product list")
	}
	return products, nil
}

// ProductPatch is a partial update; nil fields are left untouched
type ProductPatch struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	Price        *int64  `json:"price,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	Currency     *string `json:"currency,omitempty"`
	Stock        *int    `json:"stock,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
	IsRefundable *bool   `json:"is_refundable,omitempty"`
}

// UpdateProduct applies a partial update and returns the updated row
func (r queries) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*models.Product, error) {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}

	add := func(col string, v interface{}) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, errs.Validation("product name cannot be empty")
		}
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		if _, err := ledger.ValidateAmount(*patch.Price); err != nil {
			return nil, err
		}
		add("price", *patch.Price)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if patch.Currency != nil {
		add("currency", *patch.Currency)
	}
	if patch.Stock != nil {
		if *patch.Stock < 0 {
			return nil, errs.Validation("product stock must be non-negative, got %d", *patch.Stock)
		}
		add("stock", *patch.Stock)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if patch.IsRefundable != nil {
		add("is_refundable", *patch.IsRefundable)
	}

	args = append(args, id)
	query := r.q.Rebind("UPDATE products SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING *")

	var p models.Product
	if err := r.q.GetContext(ctx, &p, query, args...); err != nil {
		return nil, errs.FromStorage(err, "product %d not found", id)
	}
	return &p, nil
}

// DecrementStock reduces tracked stock after the row is already locked by
// GetProductsForUpdate. Untracked (NULL stock) products are left untouched.
func (r queries) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock IS NOT NULL AND stock >= $1",
		quantity, productID)
	if err != nil {
		return errs.FromStorage(err, "product %d", productID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.FromStorage(err, "product %d", productID)
	}
	if n == 0 {
		return errs.New(errs.CodeOutOfStock, "insufficient stock for product %d (requested %d)", productID, quantity)
	}
	return nil
}

// RestoreStock returns canceled quantity to a tracked product
func (r queries) RestoreStock(ctx context.Context, productID int64, quantity int) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2 AND stock IS NOT NULL",
		quantity, productID)
	return errs.FromStorage(err, "product %d", productID)
}

// DeleteProduct removes a product that no order item references
func (r queries) DeleteProduct(ctx context.Context, id int64) error {
	var referenced bool
	err := r.q.GetContext(ctx, &referenced,
		"SELECT EXISTS(SELECT 1 FROM order_items WHERE product_id = $1)", id)
	if err != nil {
		return errs.FromStorage(err, "product %d", id)
	}
	if referenced {
		return errs.New(errs.CodeReferentialIntegrity, "product %d is referenced by order items", id)
	}

	res, err := r.q.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return errs.FromStorage(err, "product %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("product %d not found", id)
	}
	return nil
}
