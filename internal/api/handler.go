package api

import (
	"net/http"
	"strconv"
	"time"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"
	"payment-sub/internal/service"
	"payment-sub/internal/store"
	"payment-sub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	store           *store.Store
	orderService    *service.OrderService
	paymentService  *service.PaymentService
	refundService   *service.RefundService
	reportService   *service.ReportService
	defaultCurrency string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	st *store.Store,
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	refundService *service.RefundService,
	reportService *service.ReportService,
	defaultCurrency string,
) *Handler {
	return &Handler{
		store:           st,
		orderService:    orderService,
		paymentService:  paymentService,
		refundService:   refundService,
		reportService:   reportService,
		defaultCurrency: defaultCurrency,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readyCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.PATCH("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/payment", h.applyPayment)
		v1.POST("/orders/:id/refunds", h.refundOrder)
		v1.POST("/order-items/:id/refunds", h.refundOrderItem)

		v1.POST("/payments", h.createPayment)
		v1.GET("/payments", h.listPayments)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/payletter", h.attachPayletter)

		v1.GET("/refunds", h.listRefunds)
		v1.GET("/refunds/:id", h.getRefund)

		v1.GET("/reports/sales", h.salesReport)
		v1.GET("/reports/refunds/:paymentId", h.refundReport)
		v1.GET("/reports/order-status", h.statusReport)
	}
}

// httpStatus maps a domain error code to an HTTP status
func httpStatus(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeValidation, errs.CodeAmountMismatch:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeDuplicateKey, errs.CodeInvalidState,
		errs.CodeRefundExceedsBalance, errs.CodeOutOfStock,
		errs.CodeReferentialIntegrity:
		return http.StatusConflict
	case errs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"code":  string(errs.CodeOf(err)),
		"error": err.Error(),
	})
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readyCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, errs.Validation("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) createProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if p.Currency == "" {
		p.Currency = h.defaultCurrency
	}
	if err := h.store.CreateProduct(c.Request.Context(), &p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.store.GetProductByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch store.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	p, err := h.store.UpdateProduct(c.Request.Context(), id, patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteProduct(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, items, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, items, err := h.orderService.GetOrder(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

type applyPaymentRequest struct {
	PaymentID  int64 `json:"payment_id" binding:"required"`
	PaidAmount int64 `json:"paid_amount" binding:"required"`
}

func (h *Handler) applyPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	order, err := h.paymentService.ApplyPayment(c.Request.Context(), orderID, req.PaymentID, req.PaidAmount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type refundOrderRequest struct {
	Amount int64   `json:"amount" binding:"required"`
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	refund, err := h.refundService.RefundOrder(c.Request.Context(), orderID, req.Amount, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) refundOrderItem(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RefundItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	req.OrderItemID = itemID
	refund, err := h.refundService.RefundOrderItem(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) createPayment(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	payment, err := h.paymentService.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payment, detail, err := h.paymentService.GetPayment(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment, "payletter_detail": detail})
}

func (h *Handler) attachPayletter(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var detail models.PayletterDetail
	if err := c.ShouldBindJSON(&detail); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return
	}
	detail.PaymentID = id
	if err := h.paymentService.AttachPayletterDetail(c.Request.Context(), &detail); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func pageFromQuery(c *gin.Context) (store.Page, bool) {
	var page store.Page
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(c, errs.Validation("invalid after_id"))
			return store.Page{}, false
		}
		page.AfterID = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(c, errs.Validation("invalid limit"))
			return store.Page{}, false
		}
		page.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(c, errs.Validation("invalid offset"))
			return store.Page{}, false
		}
		page.Offset = n
	}
	return page, true
}

func int64Query(c *gin.Context, name string) (*int64, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fail(c, errs.Validation("invalid %s", name))
		return nil, false
	}
	return &n, true
}

func boolQuery(c *gin.Context, name string) (*bool, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fail(c, errs.Validation("invalid %s", name))
		return nil, false
	}
	return &b, true
}

func (h *Handler) listProducts(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	var f store.ProductFilter
	f.NameContains = c.Query("name")
	f.Currency = c.Query("currency")
	if f.IsActive, ok = boolQuery(c, "active"); !ok {
		return
	}
	if f.IsRefundable, ok = boolQuery(c, "refundable"); !ok {
		return
	}
	if f.MinPrice, ok = int64Query(c, "min_price"); !ok {
		return
	}
	if f.MaxPrice, ok = int64Query(c, "max_price"); !ok {
		return
	}

	products, err := h.store.FindProducts(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) listOrders(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	var f store.OrderFilter
	if f.UserID, ok = int64Query(c, "user_id"); !ok {
		return
	}
	if f.PaymentID, ok = int64Query(c, "payment_id"); !ok {
		return
	}
	if f.MinTotal, ok = int64Query(c, "min_total"); !ok {
		return
	}
	if f.MaxTotal, ok = int64Query(c, "max_total"); !ok {
		return
	}
	f.ExternalOrderNo = c.Query("external_order_no")
	f.TitleContains = c.Query("title")
	for _, s := range c.QueryArray("status") {
		parsed, err := ledger.ParseOrderStatus(s)
		if err != nil {
			fail(c, err)
			return
		}
		f.Statuses = append(f.Statuses, parsed)
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listPayments(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	var f store.PaymentFilter
	f.ServiceName = c.Query("service_name")
	if f.MinAmount, ok = int64Query(c, "min_amount"); !ok {
		return
	}
	if f.MaxAmount, ok = int64Query(c, "max_amount"); !ok {
		return
	}
	for _, s := range c.QueryArray("status") {
		parsed, err := ledger.ParsePaymentStatus(s)
		if err != nil {
			fail(c, err)
			return
		}
		f.Statuses = append(f.Statuses, parsed)
	}
	for _, m := range c.QueryArray("method") {
		parsed, err := ledger.ParsePaymentMethod(m)
		if err != nil {
			fail(c, err)
			return
		}
		f.Methods = append(f.Methods, parsed)
	}

	payments, err := h.store.FindPayments(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) listRefunds(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	var f store.RefundFilter
	if f.PaymentID, ok = int64Query(c, "payment_id"); !ok {
		return
	}
	if f.OrderID, ok = int64Query(c, "order_id"); !ok {
		return
	}
	if f.OrderItemID, ok = int64Query(c, "order_item_id"); !ok {
		return
	}
	if f.MinAmount, ok = int64Query(c, "min_amount"); !ok {
		return
	}

	refunds, err := h.refundService.ListRefunds(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func (h *Handler) getRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	refund, err := h.refundService.GetRefund(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		fail(c, errs.Validation("invalid %s, want RFC3339", name))
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) salesReport(c *gin.Context) {
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}

	var statuses []ledger.OrderStatus
	for _, s := range c.QueryArray("status") {
		parsed, err := ledger.ParseOrderStatus(s)
		if err != nil {
			fail(c, err)
			return
		}
		statuses = append(statuses, parsed)
	}

	total, err := h.reportService.SalesTotal(c.Request.Context(), from, to, statuses)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_sales": total})
}

func (h *Handler) refundReport(c *gin.Context) {
	paymentID, ok := pathID(c, "paymentId")
	if !ok {
		return
	}
	total, err := h.reportService.RefundTotalByPayment(c.Request.Context(), paymentID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_id": paymentID, "total_refunded": total})
}

func (h *Handler) statusReport(c *gin.Context) {
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}
	counts, err := h.reportService.OrderCountsByStatus(c.Request.Context(), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
