package courses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
)

// Repository handles course lookup and enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a courses repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCourse returns a course by ID, or nil when it does not exist.
func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	const q = `SELECT id, title, price_minor, currency, is_published, created_at, updated_at
		FROM courses WHERE id = $1`
	var c models.Course
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.Title, &c.PriceMinor, &c.Currency, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Enroll grants the payer access to the course. Idempotent per
// (course, payer): replaying the call after a duplicate payment signal is
// harmless, which is what the reconciler relies on.
func (r *Repository) Enroll(ctx context.Context, courseID, payerID uuid.UUID, orderID string, amountMinor int64) error {
	const q = `INSERT INTO enrollments (id, course_id, payer_id, order_id, amount_minor)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (course_id, payer_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, courseID, payerID, orderID, amountMinor)
	return err
}

// IsEnrolled reports whether the payer already has access to the course.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, payerID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND payer_id = $2)`
	var enrolled bool
	err := r.pool.QueryRow(ctx, q, courseID, payerID).Scan(&enrolled)
	return enrolled, err
}

// ListByPayer returns the payer's enrollments, newest first.
func (r *Repository) ListByPayer(ctx context.Context, payerID uuid.UUID) ([]models.Enrollment, error) {
	const q = `SELECT id, course_id, payer_id, COALESCE(order_id, ''), amount_minor, enrolled_at
		FROM enrollments WHERE payer_id = $1 ORDER BY enrolled_at DESC`
	rows, err := r.pool.Query(ctx, q, payerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.ID, &e.CourseID, &e.PayerID, &e.OrderID, &e.AmountMinor, &e.EnrolledAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
