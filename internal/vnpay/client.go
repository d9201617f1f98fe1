package vnpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway protocol constants (VNPay pay API v2.1.0).
const (
	protocolVersion = "2.1.0"
	commandPay      = "pay"
	commandQuery    = "querydr"
	currencyVND     = "VND"
	localeVN        = "vn"
	orderTypeOther  = "other"

	// TimeLayout is the gateway's yyyyMMddHHmmss timestamp format.
	TimeLayout = "20060102150405"

	// The gateway expresses amounts in 1/100 of the currency unit.
	amountMultiplier = 100
)

// Gateway response codes the reconciler branches on. Every other defined
// code maps to a failed payment.
const (
	CodeApproved = "00"
	CodeUnknown  = "99" // gateway has no outcome yet; not a failure
)

// ErrNoInformation is returned when a status query yields nothing the state
// machine can act on (timeout, transport error, unverifiable response).
// It must never be mapped to a failed payment.
var ErrNoInformation = errors.New("vnpay: no new information")

// ErrMalformedCallback is returned when an inbound payload is missing the
// fields that identify the transaction.
var ErrMalformedCallback = errors.New("vnpay: malformed callback")

// Config holds the merchant identity and endpoints for one gateway account.
type Config struct {
	TmnCode      string
	HashSecret   string
	PayURL       string
	QRURL        string
	QueryURL     string
	ReturnURL    string
	QueryTimeout time.Duration
}

// Client builds outbound signed gateway requests and parses inbound
// gateway responses. It holds no mutable state and is safe for concurrent use.
type Client struct {
	cfg    Config
	signer *Signer
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewClient creates a gateway client. Fails if the hash secret is missing.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	signer, err := NewSigner(cfg.HashSecret)
	if err != nil {
		return nil, err
	}
	if cfg.TmnCode == "" {
		return nil, errors.New("vnpay: merchant code not configured")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		signer: signer,
		http:   &http.Client{Timeout: cfg.QueryTimeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

// PaymentRequest describes one outbound payment creation.
type PaymentRequest struct {
	OrderID     string
	OrderInfo   string
	AmountMinor int64
	ClientIP    string
	ExpiresAt   time.Time
}

// QRPayment is a signed QR-renderable payment payload.
type QRPayment struct {
	QRContent string            `json:"qr_content"`
	Params    map[string]string `json:"params"`
}

// Callback is the verified shape of an inbound gateway response, shared by
// the return channel, the webhook channel and status queries. Raw carries
// every gateway field untouched for forward compatibility.
type Callback struct {
	OrderID       string
	Code          string
	TransactionID string
	PayDate       string
	Verified      bool
	Raw           map[string]string
}

// Approved reports whether the gateway confirmed the payment.
func (cb Callback) Approved() bool {
	return cb.Code == CodeApproved
}

func (c *Client) paymentParams(req PaymentRequest) map[string]string {
	return map[string]string{
		"vnp_Version":    protocolVersion,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Locale":     localeVN,
		"vnp_CurrCode":   currencyVND,
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  orderTypeOther,
		"vnp_Amount":     strconv.FormatInt(req.AmountMinor*amountMultiplier, 10),
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": c.now().Format(TimeLayout),
		"vnp_ExpireDate": req.ExpiresAt.Format(TimeLayout),
	}
}

func validatePaymentRequest(req PaymentRequest) error {
	if req.OrderID == "" {
		return errors.New("vnpay: order id required")
	}
	if req.AmountMinor <= 0 {
		return fmt.Errorf("vnpay: invalid amount %d", req.AmountMinor)
	}
	return nil
}

// BuildPaymentURL assembles and signs the interactive redirect URL the
// browser is sent to.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if err := validatePaymentRequest(req); err != nil {
		return "", err
	}
	params := c.paymentParams(req)
	query := Canonicalize(params)
	mac := c.signer.Sign(params)
	return c.cfg.PayURL + "?" + query + "&" + FieldSecureHash + "=" + mac, nil
}

// BuildQRPayload assembles the same signed parameter set against the
// QR-renderable endpoint.
func (c *Client) BuildQRPayload(req PaymentRequest) (QRPayment, error) {
	if err := validatePaymentRequest(req); err != nil {
		return QRPayment{}, err
	}
	params := c.paymentParams(req)
	query := Canonicalize(params)
	mac := c.signer.Sign(params)
	params[FieldSecureHash] = mac
	return QRPayment{
		QRContent: c.cfg.QRURL + "?" + query + "&" + FieldSecureHash + "=" + mac,
		Params:    params,
	}, nil
}

// ParseCallback verifies and extracts an inbound gateway response. The return
// channel delivers url.Values from the query string, the webhook channel from
// the request body; both share this path. An unverifiable payload comes back
// with Verified=false and must not drive a state transition.
func (c *Client) ParseCallback(values url.Values) (Callback, error) {
	params := flatten(values)
	provided := params[FieldSecureHash]

	cb := Callback{
		OrderID:       params["vnp_TxnRef"],
		Code:          params["vnp_ResponseCode"],
		TransactionID: params["vnp_TransactionNo"],
		PayDate:       params["vnp_PayDate"],
		Raw:           params,
	}
	if cb.OrderID == "" || cb.Code == "" {
		return cb, ErrMalformedCallback
	}
	cb.Verified = c.signer.Verify(params, provided)
	if !cb.Verified {
		c.logger.Warn("callback signature mismatch", zap.String("order_id", cb.OrderID))
	}
	return cb, nil
}

// QueryStatus asks the gateway for the current state of a transaction
// (querydr). transDate is the original vnp_CreateDate of the payment.
// A timeout or an unverifiable response yields ErrNoInformation: the caller
// keeps the intent pending and retries on the next poll.
func (c *Client) QueryStatus(ctx context.Context, orderID, transDate string) (Callback, error) {
	if orderID == "" {
		return Callback{}, ErrMalformedCallback
	}
	params := map[string]string{
		"vnp_RequestId":       uuid.New().String(),
		"vnp_Version":         protocolVersion,
		"vnp_Command":         commandQuery,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          orderID,
		"vnp_OrderInfo":       "Query transaction " + orderID,
		"vnp_TransactionDate": transDate,
		"vnp_CreateDate":      c.now().Format(TimeLayout),
	}
	body := Canonicalize(params) + "&" + FieldSecureHash + "=" + c.signer.Sign(params)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.QueryURL, strings.NewReader(body))
	if err != nil {
		return Callback{}, fmt.Errorf("vnpay: create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("status query failed", zap.String("order_id", orderID), zap.Error(err))
		return Callback{}, ErrNoInformation
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("status query unexpected status", zap.String("order_id", orderID), zap.Int("status", resp.StatusCode))
		return Callback{}, ErrNoInformation
	}

	var fields map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		c.logger.Warn("status query decode failed", zap.String("order_id", orderID), zap.Error(err))
		return Callback{}, ErrNoInformation
	}

	cb := Callback{
		OrderID:       fields["vnp_TxnRef"],
		Code:          fields["vnp_ResponseCode"],
		TransactionID: fields["vnp_TransactionNo"],
		PayDate:       fields["vnp_PayDate"],
		Raw:           fields,
	}
	cb.Verified = c.signer.Verify(fields, fields[FieldSecureHash])
	if !cb.Verified {
		c.logger.Warn("status query signature mismatch", zap.String("order_id", orderID))
		return cb, ErrNoInformation
	}
	if cb.OrderID == "" {
		cb.OrderID = orderID
	}
	return cb, nil
}

func flatten(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}
