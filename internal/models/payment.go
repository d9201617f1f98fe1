package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment method tags. Informational only; reconciliation does not branch on them.
const (
	PaymentMethodVNPay   = "vnpay"
	PaymentMethodVNPayQR = "vnpay_qr"
)

// PaymentIntent statuses. Pending is the only non-terminal state; the four
// terminal states are mutually exclusive and final.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
	PaymentStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	return status == PaymentStatusCompleted ||
		status == PaymentStatusFailed ||
		status == PaymentStatusExpired ||
		status == PaymentStatusCancelled
}

// PaymentIntent tracks one attempted payment from creation to terminal outcome.
// Rows are never deleted; they are the audit trail for reconciliation.
type PaymentIntent struct {
	ID            uuid.UUID `json:"id"`
	OrderID       string    `json:"order_id"` // gateway reference (vnp_TxnRef), unique, never reused
	CourseID      uuid.UUID `json:"course_id"`
	PayerID       uuid.UUID `json:"payer_id"`
	AmountMinor   int64     `json:"amount_minor"` // minor currency unit, pre-multiplier
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id,omitempty"` // gateway vnp_TransactionNo
	ResponseCode  string    `json:"response_code,omitempty"`
	PayDate       string    `json:"pay_date,omitempty"` // gateway vnp_PayDate, yyyyMMddHHmmss
	Description   string    `json:"description,omitempty"`
	ClientIP      string    `json:"client_ip,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Expired reports whether the intent's payment window has closed at the given time.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// responseMessages maps VNPay response codes to display messages.
// The set is fixed by the gateway; unknown codes fall back to a generic message.
var responseMessages = map[string]string{
	"00": "Transaction approved",
	"07": "Amount captured but the transaction is flagged as suspicious",
	"09": "Card or account is not registered for internet banking",
	"10": "Card or account details were entered incorrectly more than 3 times",
	"11": "Payment window elapsed before the customer completed payment",
	"12": "Card or account is locked",
	"13": "Incorrect transaction OTP",
	"24": "Customer cancelled the transaction",
	"51": "Insufficient account balance",
	"65": "Account exceeded its daily transaction limit",
	"75": "The customer's bank is under maintenance",
	"79": "Incorrect payment password entered too many times",
	"99": "Gateway could not determine the transaction outcome",
}

// ResponseMessage returns the display message for a gateway response code.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Payment failed"
}
