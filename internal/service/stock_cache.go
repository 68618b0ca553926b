package service

import (
	"context"

	"payment-sub/internal/redisclient"
	"payment-sub/internal/store"
	"payment-sub/internal/util"

	"go.uber.org/zap"
)

// StockCache mirrors tracked product stock in Redis as a fast-fail
// pre-check in front of the database transaction. The database row stays
// authoritative: a mirror miss or redis failure falls through to the
// locked DB check, and reservations are released when the transaction
// rolls back.
type StockCache struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewStockCache creates a stock cache
func NewStockCache(st *store.Store, redis *redisclient.Client) *StockCache {
	return &StockCache{
		store:  st,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// TryReserve decrements the mirror for one product. It returns false only
// when the mirror positively reports insufficient stock; unknown products
// and redis errors answer true and defer to the database.
func (sc *StockCache) TryReserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	if sc.redis == nil {
		return true, nil
	}
	res, err := sc.redis.ReserveStock(ctx, productID, quantity)
	if err != nil {
		sc.logger.Warn("stock mirror unavailable, deferring to database",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return true, nil
	}
	if res == redisclient.ReserveInsufficient {
		util.StockRejectionsTotal.WithLabelValues("mirror").Inc()
		return false, nil
	}
	return true, nil
}

// Release restores mirrored stock after a rollback or a refund
func (sc *StockCache) Release(ctx context.Context, productID int64, quantity int) {
	if sc.redis == nil {
		return
	}
	if err := sc.redis.ReleaseStock(ctx, productID, quantity); err != nil {
		sc.logger.Error("failed to release mirrored stock",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err))
	}
}

// Sync seeds the mirror from the database. Untracked or inactive products
// get no mirror entry, so reservations for them go straight to the DB.
func (sc *StockCache) Sync(ctx context.Context) error {
	if sc.redis == nil {
		return nil
	}

	var page store.Page
	count := 0
	for {
		products, err := sc.store.FindProducts(ctx, store.ProductFilter{}, page)
		if err != nil {
			return err
		}
		if len(products) == 0 {
			break
		}
		for _, p := range products {
			page.AfterID = p.ID
			if p.Stock == nil || !p.IsActive {
				if err := sc.redis.DropStock(ctx, p.ID); err != nil {
					sc.logger.Warn("failed to drop stock mirror entry",
						zap.Int64("product_id", p.ID), zap.Error(err))
				}
				continue
			}
			if err := sc.redis.SetStock(ctx, p.ID, *p.Stock); err != nil {
				sc.logger.Warn("failed to seed stock mirror entry",
					zap.Int64("product_id", p.ID), zap.Error(err))
				continue
			}
			count++
		}
	}

	sc.logger.Info("stock mirror synced", zap.Int("products", count))
	return nil
}
