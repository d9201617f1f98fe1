package models

import (
	"time"

	"github.com/google/uuid"
)

// Course is the sellable catalog entry. Only the fields the payment core
// consumes live here; content management is handled elsewhere.
type Course struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	PriceMinor  int64     `json:"price_minor"` // 0 = free course
	Currency    string    `json:"currency"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Paid reports whether enrollment requires a completed payment.
func (c *Course) Paid() bool {
	return c.PriceMinor > 0
}

// Enrollment links a payer to a course, unique per (course, payer).
type Enrollment struct {
	ID          uuid.UUID `json:"id"`
	CourseID    uuid.UUID `json:"course_id"`
	PayerID     uuid.UUID `json:"payer_id"`
	OrderID     string    `json:"order_id,omitempty"` // empty for free courses
	AmountMinor int64     `json:"amount_minor"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}
