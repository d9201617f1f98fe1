package payments

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/middleware"
	"github.com/xuanthe1908/E-Learning-Full/internal/models"
	"github.com/xuanthe1908/E-Learning-Full/internal/realtime"
	"github.com/xuanthe1908/E-Learning-Full/internal/vnpay"
	"github.com/xuanthe1908/E-Learning-Full/pkg/response"
)

// IPN acknowledgment codes the gateway expects from the webhook endpoint.
const (
	ipnSuccess          = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

// CourseCatalog is the course lookup the intent-creation path needs.
type CourseCatalog interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// Gateway is the part of the gateway adapter the HTTP layer drives directly:
// outbound request construction and inbound payload verification.
type Gateway interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
	BuildQRPayload(req vnpay.PaymentRequest) (vnpay.QRPayment, error)
	ParseCallback(values url.Values) (vnpay.Callback, error)
}

// Handler exposes the payment lifecycle over HTTP.
type Handler struct {
	repo      *Repository
	catalog   CourseCatalog
	gateway   Gateway
	rec       *Reconciler
	hub       *realtime.Hub
	intentTTL time.Duration
	logger    *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(repo *Repository, catalog CourseCatalog, gateway Gateway, rec *Reconciler, hub *realtime.Hub, intentTTL time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if intentTTL <= 0 {
		intentTTL = 15 * time.Minute
	}
	return &Handler{
		repo:      repo,
		catalog:   catalog,
		gateway:   gateway,
		rec:       rec,
		hub:       hub,
		intentTTL: intentTTL,
		logger:    logger,
	}
}

// CreatePaymentRequest is the body for both payment creation endpoints.
type CreatePaymentRequest struct {
	CourseID string `json:"course_id" binding:"required"`
}

// CreatePaymentURL handles POST /payments/vnpay/create-payment-url.
func (h *Handler) CreatePaymentURL(c *gin.Context) {
	intent, req, ok := h.prepareIntent(c, models.PaymentMethodVNPay)
	if !ok {
		return
	}
	paymentURL, err := h.gateway.BuildPaymentURL(req)
	if err != nil {
		h.logger.Error("build payment url failed", zap.String("order_id", intent.OrderID), zap.Error(err))
		response.Internal(c, "failed to create payment URL")
		return
	}
	response.OK(c, gin.H{
		"payment_url": paymentURL,
		"order_id":    intent.OrderID,
		"amount":      intent.AmountMinor,
		"expires_at":  intent.ExpiresAt,
	})
}

// CreateQRPayment handles POST /payments/vnpay/create-qr-payment.
func (h *Handler) CreateQRPayment(c *gin.Context) {
	intent, req, ok := h.prepareIntent(c, models.PaymentMethodVNPayQR)
	if !ok {
		return
	}
	qr, err := h.gateway.BuildQRPayload(req)
	if err != nil {
		h.logger.Error("build qr payment failed", zap.String("order_id", intent.OrderID), zap.Error(err))
		response.Internal(c, "failed to create QR payment")
		return
	}
	response.OK(c, gin.H{
		"qr_code":    qr.QRContent,
		"order_id":   intent.OrderID,
		"amount":     intent.AmountMinor,
		"course_id":  intent.CourseID,
		"expires_at": intent.ExpiresAt,
	})
}

// prepareIntent validates the request, persists a pending intent and returns
// the signed-request input. Validation failures write the HTTP response.
func (h *Handler) prepareIntent(c *gin.Context, method string) (*models.PaymentIntent, vnpay.PaymentRequest, bool) {
	payerID, ok := callerID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, vnpay.PaymentRequest{}, false
	}
	var body CreatePaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return nil, vnpay.PaymentRequest{}, false
	}
	courseID, err := uuid.Parse(body.CourseID)
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return nil, vnpay.PaymentRequest{}, false
	}
	course, err := h.catalog.GetCourse(c.Request.Context(), courseID)
	if err != nil {
		h.logger.Error("course lookup failed", zap.String("course_id", body.CourseID), zap.Error(err))
		response.Internal(c, "failed to load course")
		return nil, vnpay.PaymentRequest{}, false
	}
	if course == nil || !course.IsPublished {
		response.NotFound(c, "course not found")
		return nil, vnpay.PaymentRequest{}, false
	}
	if course.PriceMinor <= 0 {
		response.BadRequest(c, "course is free; use the enrollment endpoint")
		return nil, vnpay.PaymentRequest{}, false
	}

	orderID, err := GenerateOrderID()
	if err != nil {
		response.Internal(c, "failed to create order reference")
		return nil, vnpay.PaymentRequest{}, false
	}
	intent := &models.PaymentIntent{
		OrderID:       orderID,
		CourseID:      course.ID,
		PayerID:       payerID,
		AmountMinor:   course.PriceMinor,
		Currency:      course.Currency,
		PaymentMethod: method,
		Description:   "Course payment: " + course.Title,
		ClientIP:      c.ClientIP(),
		ExpiresAt:     time.Now().Add(h.intentTTL),
	}
	if err := h.repo.CreateIntent(c.Request.Context(), intent); err != nil {
		h.logger.Error("create intent failed", zap.String("order_id", orderID), zap.Error(err))
		response.Internal(c, "failed to create payment")
		return nil, vnpay.PaymentRequest{}, false
	}
	return intent, vnpay.PaymentRequest{
		OrderID:     intent.OrderID,
		OrderInfo:   intent.Description,
		AmountMinor: intent.AmountMinor,
		ClientIP:    intent.ClientIP,
		ExpiresAt:   intent.ExpiresAt,
	}, true
}

// GetStatus handles GET /payments/vnpay/status/:orderId. Expiry is applied
// lazily, then the gateway is polled while the intent is still pending. The
// caller only ever sees the authoritative status.
func (h *Handler) GetStatus(c *gin.Context) {
	orderID := c.Param("orderId")
	intent, ok := h.authorizeOrder(c, orderID)
	if !ok {
		return
	}
	intent, err := h.rec.Poll(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "payment record not found")
			return
		}
		h.logger.Error("status poll failed", zap.String("order_id", orderID), zap.Error(err))
		response.Internal(c, "failed to check payment status")
		return
	}
	response.OK(c, statusBody(intent))
}

// HandleReturn handles GET /payments/vnpay/return: the browser-return channel.
func (h *Handler) HandleReturn(c *gin.Context) {
	cb, err := h.gateway.ParseCallback(c.Request.URL.Query())
	if err != nil {
		response.BadRequest(c, "malformed gateway response")
		return
	}
	intent, err := h.rec.Apply(c.Request.Context(), Event{
		Source:        SourceReturn,
		OrderID:       cb.OrderID,
		Code:          cb.Code,
		TransactionID: cb.TransactionID,
		PayDate:       cb.PayDate,
		Verified:      cb.Verified,
	})
	switch {
	case errors.Is(err, ErrUnverified):
		response.BadRequest(c, "invalid payment signature")
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "payment record not found")
	case errors.Is(err, ErrConflict):
		// Another channel already finalized this order; report what it decided.
		response.OK(c, statusBody(intent))
	case err != nil:
		h.logger.Error("return handling failed", zap.String("order_id", cb.OrderID), zap.Error(err))
		response.Internal(c, "failed to process payment return")
	case intent.Status == models.PaymentStatusCompleted:
		response.OK(c, statusBody(intent))
	default:
		response.BadRequest(c, models.ResponseMessage(cb.Code))
	}
}

// HandleWebhook handles POST /payments/vnpay/webhook: the server-to-server
// IPN channel. Replies always use HTTP 200 with the gateway's RspCode
// contract so the gateway knows whether to redeliver.
func (h *Handler) HandleWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(200, gin.H{"RspCode": ipnUnknownError, "Message": "unparseable payload"})
		return
	}
	cb, err := h.gateway.ParseCallback(c.Request.Form)
	if err != nil {
		c.JSON(200, gin.H{"RspCode": ipnUnknownError, "Message": "malformed payload"})
		return
	}
	_, err = h.rec.Apply(c.Request.Context(), Event{
		Source:        SourceWebhook,
		OrderID:       cb.OrderID,
		Code:          cb.Code,
		TransactionID: cb.TransactionID,
		PayDate:       cb.PayDate,
		Verified:      cb.Verified,
	})
	switch {
	case errors.Is(err, ErrUnverified):
		c.JSON(200, gin.H{"RspCode": ipnInvalidSignature, "Message": "Invalid signature"})
	case errors.Is(err, ErrNotFound):
		c.JSON(200, gin.H{"RspCode": ipnOrderNotFound, "Message": "Order not found"})
	case errors.Is(err, ErrConflict):
		c.JSON(200, gin.H{"RspCode": ipnAlreadyConfirmed, "Message": "Order already confirmed"})
	case err != nil:
		h.logger.Error("webhook handling failed", zap.String("order_id", cb.OrderID), zap.Error(err))
		c.JSON(200, gin.H{"RspCode": ipnUnknownError, "Message": "Unknown error"})
	default:
		c.JSON(200, gin.H{"RspCode": ipnSuccess, "Message": "Confirm success"})
	}
}

// CancelPayment handles DELETE /payments/vnpay/:orderId. Only pending intents
// can be cancelled; a finalized one answers 409 with its actual status.
func (h *Handler) CancelPayment(c *gin.Context) {
	orderID := c.Param("orderId")
	if _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	intent, err := h.rec.Cancel(c.Request.Context(), orderID)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "payment record not found")
	case errors.Is(err, ErrConflict):
		response.Conflict(c, "payment already "+intent.Status)
	case err != nil:
		h.logger.Error("cancel failed", zap.String("order_id", orderID), zap.Error(err))
		response.Internal(c, "failed to cancel payment")
	default:
		response.OK(c, gin.H{"order_id": orderID, "status": intent.Status})
	}
}

// WatchStatus handles GET /payments/vnpay/ws/:orderId: pushes status
// transitions over a websocket so the client can stop interval polling.
func (h *Handler) WatchStatus(c *gin.Context) {
	orderID := c.Param("orderId")
	intent, ok := h.authorizeOrder(c, orderID)
	if !ok {
		return
	}
	h.hub.ServeStatus(c.Writer, c.Request, intent.OrderID, intent.Status, intent.ResponseCode)
}

// List handles GET /payments (admin): filtered listing, newest first.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{
		Status:   c.Query("status"),
		CourseID: c.Query("course_id"),
	}
	if v := c.Query("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}
	if v := c.Query("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.DateFrom = &t
		}
	}
	if v := c.Query("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.DateTo = &t
		}
	}
	list, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	response.OK(c, list)
}

// MonthlyRevenue handles GET /payments/revenue/monthly (admin).
func (h *Handler) MonthlyRevenue(c *gin.Context) {
	total, err := h.repo.MonthlyRevenue(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to compute revenue")
		return
	}
	response.OK(c, gin.H{"total_amount": total})
}

// RevenueByMonth handles GET /payments/revenue/by-month (admin).
func (h *Handler) RevenueByMonth(c *gin.Context) {
	rows, err := h.repo.RevenueByMonth(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to compute revenue")
		return
	}
	response.OK(c, rows)
}

// EnrollmentsByMonth handles GET /payments/enrollments/by-month (admin).
func (h *Handler) EnrollmentsByMonth(c *gin.Context) {
	rows, err := h.repo.EnrollmentsByMonth(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to compute enrollments")
		return
	}
	response.OK(c, rows)
}

// authorizeOrder loads the intent and checks the caller owns it (admins see
// everything). Writes the HTTP response on failure.
func (h *Handler) authorizeOrder(c *gin.Context, orderID string) (*models.PaymentIntent, bool) {
	if orderID == "" {
		response.BadRequest(c, "order id required")
		return nil, false
	}
	payerID, ok := callerID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	intent, err := h.repo.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		h.logger.Error("load intent failed", zap.String("order_id", orderID), zap.Error(err))
		response.Internal(c, "failed to load payment")
		return nil, false
	}
	if intent == nil {
		response.NotFound(c, "payment record not found")
		return nil, false
	}
	role, _ := c.Get(middleware.ContextUserRole)
	if intent.PayerID != payerID && role != "admin" {
		response.Forbidden(c, "not your payment")
		return nil, false
	}
	return intent, true
}

func statusBody(intent *models.PaymentIntent) gin.H {
	body := gin.H{
		"order_id": intent.OrderID,
		"status":   intent.Status,
		"amount":   intent.AmountMinor,
	}
	if intent.TransactionID != "" {
		body["transaction_id"] = intent.TransactionID
	}
	if intent.ResponseCode != "" {
		body["response_code"] = intent.ResponseCode
		body["message"] = models.ResponseMessage(intent.ResponseCode)
	}
	return body
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
