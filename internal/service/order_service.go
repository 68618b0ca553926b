package service

import (
	"context"
	"time"

	"payment-sub/internal/broker"
	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"
	"payment-sub/internal/redisclient"
	"payment-sub/internal/store"
	"payment-sub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles order creation and reads
type OrderService struct {
	store          *store.Store
	redis          *redisclient.Client
	stockCache     *StockCache
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewOrderService creates a new order service
func NewOrderService(
	st *store.Store,
	redis *redisclient.Client,
	stockCache *StockCache,
	eventPublisher *broker.EventPublisher,
	txTimeout time.Duration,
) *OrderService {
	return &OrderService{
		store:          st,
		redis:          redis,
		stockCache:     stockCache,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID               int64              `json:"user_id" binding:"required"`
	Items                []OrderItemRequest `json:"items" binding:"required,min=1"`
	CouponAmount         int64              `json:"coupon_amount"`
	DiscountAmount       int64              `json:"discount_amount"`
	DisposableCupDeposit int64              `json:"disposable_cup_deposit"`
	SummaryTitle         string             `json:"summary_title,omitempty"`
	IdempotencyKey       string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID  int64   `json:"product_id" binding:"required"`
	Quantity   int     `json:"quantity" binding:"required,min=1"`
	OptionName *string `json:"option_name,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if r.UserID <= 0 {
		return errs.Validation("user id is required")
	}
	if len(r.Items) == 0 {
		return errs.Validation("order requires at least one item")
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return errs.Validation("item product id is required")
		}
		if _, err := ledger.ValidateQuantity(item.Quantity); err != nil {
			return err
		}
	}
	for _, v := range []int64{r.CouponAmount, r.DiscountAmount, r.DisposableCupDeposit} {
		if _, err := ledger.ValidateAmount(v); err != nil {
			return err
		}
	}
	return nil
}

// quantityByProduct collapses request lines into one quantity per product
// so stock is checked and decremented once per product row.
func (r *CreateOrderRequest) quantityByProduct() map[int64]int {
	qty := make(map[int64]int, len(r.Items))
	for _, item := range r.Items {
		qty[item.ProductID] += item.Quantity
	}
	return qty
}

// CreateOrder creates an order with its items in one transaction: products
// are row-locked in id order, stock is checked and decremented under the
// lock, and unit prices are snapshotted at this instant. Either everything
// commits or nothing does.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderTxLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds())
	}()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, nil, err
	}

	if req.IdempotencyKey != "" {
		if existing, items, err := s.findExistingOrder(ctx, req.IdempotencyKey); err != nil {
			return nil, nil, err
		} else if existing != nil {
			s.logger.Info("duplicate order request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, items, nil
		}
	}

	quantities := req.quantityByProduct()

	// Fast-fail against the stock mirror before opening a transaction.
	reserved := make(map[int64]int, len(quantities))
	for productID, qty := range quantities {
		ok, err := s.stockCache.TryReserve(ctx, productID, qty)
		if err != nil || !ok {
			s.releaseReserved(ctx, reserved)
			if err != nil {
				return nil, nil, err
			}
			util.OrdersFailedTotal.WithLabelValues("out_of_stock").Inc()
			return nil, nil, errs.New(errs.CodeOutOfStock, "insufficient stock for product %d", productID)
		}
		reserved[productID] = qty
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var order models.Order
	var items []models.OrderItem

	err := s.store.WithTx(txCtx, func(tx *store.Tx) error {
		productIDs := make([]int64, 0, len(quantities))
		for id := range quantities {
			productIDs = append(productIDs, id)
		}

		products, err := tx.GetProductsForUpdate(txCtx, productIDs)
		if err != nil {
			return err
		}
		byID := make(map[int64]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		var subtotal int64
		for productID, qty := range quantities {
			p, ok := byID[productID]
			if !ok {
				return errs.NotFound("product %d not found", productID)
			}
			if !p.IsActive {
				return errs.InvalidState("product %d is not for sale", productID)
			}
			if p.Stock != nil && *p.Stock < qty {
				return errs.New(errs.CodeOutOfStock,
					"insufficient stock for product %d: available=%d, requested=%d", productID, *p.Stock, qty)
			}
			subtotal += p.Price * int64(qty)
		}

		for productID, qty := range quantities {
			if byID[productID].Stock == nil {
				continue
			}
			if err := tx.DecrementStock(txCtx, productID, qty); err != nil {
				return err
			}
		}

		total, err := ledger.OrderTotal(subtotal, req.CouponAmount, req.DiscountAmount, req.DisposableCupDeposit)
		if err != nil {
			return err
		}

		order = models.Order{
			UserID:      req.UserID,
			TotalAmount: total,
			Status:      ledger.OrderPending,
		}
		externalNo := uuid.New().String()
		order.ExternalOrderNo = &externalNo
		if req.SummaryTitle != "" {
			order.SummaryTitle = &req.SummaryTitle
		}
		if req.CouponAmount > 0 {
			order.CouponAmount = &req.CouponAmount
		}
		if req.DiscountAmount > 0 {
			order.DiscountAmount = &req.DiscountAmount
		}
		if req.DisposableCupDeposit > 0 {
			order.DisposableCupDeposit = &req.DisposableCupDeposit
		}
		if req.IdempotencyKey != "" {
			order.IdempotencyKey = &req.IdempotencyKey
		}

		if err := tx.CreateOrder(txCtx, &order); err != nil {
			return err
		}

		rows := make([]models.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			p := byID[item.ProductID]
			rows = append(rows, models.OrderItem{
				OrderID:     order.ID,
				ProductID:   item.ProductID,
				Quantity:    item.Quantity,
				UnitPrice:   p.Price,
				ProductName: p.Name,
				OptionName:  item.OptionName,
			})
		}
		if err := tx.CreateOrderItems(txCtx, rows); err != nil {
			return err
		}

		items, err = tx.GetOrderItemsByOrderID(txCtx, order.ID)
		return err
	})
	if err != nil {
		s.releaseReserved(ctx, reserved)
		// A concurrent request with the same key can win the insert race
		// after our pre-check; the unique key column then rejects ours,
		// and the committed order is the answer.
		if req.IdempotencyKey != "" && errs.Is(err, errs.CodeDuplicateKey) {
			if existing, items, ferr := s.findExistingOrder(ctx, req.IdempotencyKey); ferr == nil && existing != nil {
				s.logger.Info("duplicate order request",
					zap.String("idempotency_key", req.IdempotencyKey),
					zap.Int64("order_id", existing.ID))
				return existing, items, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues(failReason(err)).Inc()
		return nil, nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount))

	if req.IdempotencyKey != "" && s.redis != nil {
		if err := s.redis.SetIdempotencyKey(ctx, req.IdempotencyKey, order.ID, 24*time.Hour); err != nil {
			s.logger.Warn("failed to cache idempotency key", zap.Error(err))
		}
	}

	s.publishOrderCreated(ctx, &order, items)

	return &order, items, nil
}

// findExistingOrder resolves an idempotency key, redis first, DB as the
// authority (the key column carries a unique constraint either way).
func (s *OrderService) findExistingOrder(ctx context.Context, key string) (*models.Order, []models.OrderItem, error) {
	if s.redis != nil {
		if orderID, err := s.redis.GetIdempotentOrderID(ctx, key); err == nil && orderID > 0 {
			order, err := s.store.GetOrderByID(ctx, orderID)
			if err == nil {
				items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
				if err != nil {
					return nil, nil, err
				}
				return order, items, nil
			}
		}
	}

	order, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil || order == nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (s *OrderService) releaseReserved(ctx context.Context, reserved map[int64]int) {
	for productID, qty := range reserved {
		s.stockCache.Release(ctx, productID, qty)
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.eventPublisher == nil {
		return
	}
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       data,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("failed to publish OrderCreated event", zap.Error(err))
	}
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders lists orders matching the filter
func (s *OrderService) ListOrders(ctx context.Context, f store.OrderFilter, page store.Page) ([]models.Order, error) {
	return s.store.FindOrders(ctx, f, page)
}

// failReason maps an error code to a metrics label
func failReason(err error) string {
	switch errs.CodeOf(err) {
	case errs.CodeOutOfStock:
		return "out_of_stock"
	case errs.CodeNotFound:
		return "product_not_found"
	case errs.CodeValidation:
		return "invalid_request"
	case errs.CodeInvalidState:
		return "invalid_state"
	case errs.CodeTimeout:
		return "timeout"
	default:
		return "storage_error"
	}
}
