package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
)

const intentColumns = `id, order_id, course_id, payer_id, amount_minor, currency, status,
	payment_method, COALESCE(transaction_id, ''), COALESCE(response_code, ''),
	COALESCE(pay_date, ''), COALESCE(description, ''), COALESCE(client_ip, ''),
	created_at, expires_at, updated_at`

// StatusUpdate carries the gateway response fields recorded alongside a
// status transition. Empty fields leave the stored value untouched.
type StatusUpdate struct {
	TransactionID string
	ResponseCode  string
	PayDate       string
}

// Repository persists payment intents. Intents are never deleted; every
// attempted payment stays on record.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateIntent inserts a pending intent.
func (r *Repository) CreateIntent(ctx context.Context, p *models.PaymentIntent) error {
	const q = `INSERT INTO payment_intents
		(id, order_id, course_id, payer_id, amount_minor, currency, status, payment_method,
		 description, client_ip, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		p.OrderID, p.CourseID, p.PayerID, p.AmountMinor, p.Currency,
		p.PaymentMethod, p.Description, p.ClientIP, p.ExpiresAt).
		Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

// GetByOrderID returns the intent for a gateway order reference, or nil when
// no such order exists. Callbacks for unknown orders never fabricate a record.
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE order_id = $1`
	var p models.PaymentIntent
	err := r.pool.QueryRow(ctx, q, orderID).Scan(
		&p.ID, &p.OrderID, &p.CourseID, &p.PayerID, &p.AmountMinor, &p.Currency, &p.Status,
		&p.PaymentMethod, &p.TransactionID, &p.ResponseCode, &p.PayDate, &p.Description,
		&p.ClientIP, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionStatus moves an intent out of pending. The guard on the current
// status makes the update a compare-and-swap: of any number of concurrent
// webhook, return and poll deliveries, exactly one caller sees true.
func (r *Repository) TransitionStatus(ctx context.Context, orderID, to string, upd StatusUpdate) (bool, error) {
	const q = `UPDATE payment_intents SET
			status = $2,
			transaction_id = COALESCE(NULLIF($3, ''), transaction_id),
			response_code = COALESCE(NULLIF($4, ''), response_code),
			pay_date = COALESCE(NULLIF($5, ''), pay_date),
			updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, q, orderID, to, upd.TransactionID, upd.ResponseCode, upd.PayDate)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SweepExpired force-expires every pending intent whose window has closed and
// returns the affected order references. Correctness does not depend on
// the sweep; expiry is also applied lazily on access.
func (r *Repository) SweepExpired(ctx context.Context) ([]string, error) {
	const q = `UPDATE payment_intents SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < NOW()
		RETURNING order_id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}

// ListFilter narrows the admin payment listing.
type ListFilter struct {
	Status   string
	CourseID string
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
	Offset   int
}

// List returns intents newest-first for the admin dashboard.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(cond string, v interface{}) {
		n++
		q += fmt.Sprintf(" AND %s $%d", cond, n)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status =", f.Status)
	}
	if f.CourseID != "" {
		add("course_id =", f.CourseID)
	}
	if f.DateFrom != nil {
		add("created_at >=", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <=", *f.DateTo)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, f.Offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PaymentIntent
	for rows.Next() {
		var p models.PaymentIntent
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.CourseID, &p.PayerID, &p.AmountMinor, &p.Currency, &p.Status,
			&p.PaymentMethod, &p.TransactionID, &p.ResponseCode, &p.PayDate, &p.Description,
			&p.ClientIP, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// MonthlyRevenue sums completed payments for the current calendar month.
func (r *Repository) MonthlyRevenue(ctx context.Context) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount_minor), 0) FROM payment_intents
		WHERE status = 'completed' AND date_trunc('month', created_at) = date_trunc('month', NOW())`
	var total int64
	err := r.pool.QueryRow(ctx, q).Scan(&total)
	return total, err
}

// MonthlyAmount is one month of completed-payment revenue.
type MonthlyAmount struct {
	Month   int   `json:"month"`
	Revenue int64 `json:"total_revenue"`
}

// RevenueByMonth returns completed revenue grouped by calendar month.
func (r *Repository) RevenueByMonth(ctx context.Context) ([]MonthlyAmount, error) {
	const q = `SELECT EXTRACT(MONTH FROM created_at)::int AS month, SUM(amount_minor)
		FROM payment_intents WHERE status = 'completed'
		GROUP BY month ORDER BY month`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyAmount
	for rows.Next() {
		var m MonthlyAmount
		if err := rows.Scan(&m.Month, &m.Revenue); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MonthlyCount is one month of paid enrollments.
type MonthlyCount struct {
	Month int `json:"month"`
	Count int `json:"count"`
}

// EnrollmentsByMonth returns completed payments grouped by calendar month.
func (r *Repository) EnrollmentsByMonth(ctx context.Context) ([]MonthlyCount, error) {
	const q = `SELECT EXTRACT(MONTH FROM created_at)::int AS month, COUNT(*)
		FROM payment_intents WHERE status = 'completed'
		GROUP BY month ORDER BY month`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyCount
	for rows.Next() {
		var m MonthlyCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertAudit records one reconciliation audit event.
func (r *Repository) InsertAudit(ctx context.Context, orderID, event, source string, detail map[string]string) error {
	var detailJSON []byte
	if len(detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
	}
	const q = `INSERT INTO payment_audit_log (id, order_id, event, source, detail)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, orderID, event, source, detailJSON)
	return err
}
