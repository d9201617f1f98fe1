package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
	"github.com/xuanthe1908/E-Learning-Full/internal/vnpay"
)

// Event sources. Return, webhook and poll are concurrent and unordered;
// whichever reaches the store first wins the transition.
const (
	SourceReturn  = "return"
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceCancel  = "cancel"
	SourceSweep   = "sweep"
)

var (
	// ErrNotFound means the callback referenced an order this store never issued.
	ErrNotFound = errors.New("payments: order not found")
	// ErrConflict means the intent is already in a terminal state.
	ErrConflict = errors.New("payments: payment already finalized")
	// ErrUnverified means the payload failed signature verification. The
	// intent stays pending; the input is audited and otherwise ignored.
	ErrUnverified = errors.New("payments: unverifiable gateway payload")
)

// Event is one gateway signal delivered through any channel.
type Event struct {
	Source        string
	OrderID       string
	Code          string
	TransactionID string
	PayDate       string
	Verified      bool
}

// IntentStore is the slice of the repository the reconciler mutates through.
type IntentStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	TransitionStatus(ctx context.Context, orderID, to string, upd StatusUpdate) (bool, error)
}

// Enroller grants course access after a confirmed payment. Implementations
// must be idempotent per (course, payer).
type Enroller interface {
	Enroll(ctx context.Context, courseID, payerID uuid.UUID, orderID string, amountMinor int64) error
}

// Notifier pushes status transitions to waiting clients. Best effort.
type Notifier interface {
	NotifyStatus(orderID, status, code string)
}

// Auditor records reconciliation events for later inspection. Best effort.
type Auditor interface {
	Audit(ctx context.Context, orderID, event, source string, detail map[string]string)
}

// StatusQuerier is the gateway's active status channel.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, orderID, transDate string) (vnpay.Callback, error)
}

// Reconciler decides the authoritative status of a payment intent from the
// three arrival channels plus explicit cancellation, and triggers enrollment
// exactly once per completed order. All synchronization lives in the store's
// conditional update; the reconciler itself holds no locks and is safe to run
// concurrently across processes.
type Reconciler struct {
	store    IntentStore
	enroller Enroller
	gateway  StatusQuerier
	notifier Notifier
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a reconciliation engine. notifier and auditor may be nil.
func NewReconciler(store IntentStore, enroller Enroller, gateway StatusQuerier, notifier Notifier, auditor Auditor, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		enroller: enroller,
		gateway:  gateway,
		notifier: notifier,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply processes one event and returns the authoritative intent afterwards.
// Returns ErrNotFound for unknown orders, ErrUnverified for bad signatures
// (state untouched) and ErrConflict when the intent was already terminal.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (*models.PaymentIntent, error) {
	intent, err := r.store.GetByOrderID(ctx, ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if intent == nil {
		r.audit(ctx, ev.OrderID, "unknown_order", ev.Source, map[string]string{"code": ev.Code})
		return nil, ErrNotFound
	}

	// Expiry pre-empts every other trigger: a window that has closed can
	// never complete, even if an approved callback arrives late.
	if intent.Status == models.PaymentStatusPending && intent.Expired(r.now()) {
		intent = r.forceExpire(ctx, intent, ev.Source)
	}

	switch ev.Source {
	case SourceCancel:
		return r.applyCancel(ctx, intent)
	case SourceReturn, SourceWebhook:
		return r.applyCallback(ctx, intent, ev)
	case SourcePoll:
		return r.applyPoll(ctx, intent, ev)
	default:
		return intent, fmt.Errorf("unknown event source %q", ev.Source)
	}
}

// Poll is the active status channel: it consults the gateway only while the
// intent is still pending and feeds the result through Apply. A gateway
// timeout is no new information, not a failure.
func (r *Reconciler) Poll(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	intent, err := r.store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if intent == nil {
		return nil, ErrNotFound
	}
	if intent.Status == models.PaymentStatusPending && intent.Expired(r.now()) {
		return r.forceExpire(ctx, intent, SourcePoll), nil
	}
	if models.IsTerminalStatus(intent.Status) {
		return intent, nil
	}

	cb, err := r.gateway.QueryStatus(ctx, orderID, intent.CreatedAt.Format(vnpay.TimeLayout))
	if err != nil {
		if errors.Is(err, vnpay.ErrNoInformation) {
			return intent, nil
		}
		return intent, fmt.Errorf("query status: %w", err)
	}
	updated, err := r.Apply(ctx, Event{
		Source:        SourcePoll,
		OrderID:       orderID,
		Code:          cb.Code,
		TransactionID: cb.TransactionID,
		PayDate:       cb.PayDate,
		Verified:      cb.Verified,
	})
	if errors.Is(err, ErrConflict) {
		// Another channel finalized the order between our read and write;
		// the poll reports whatever won.
		return updated, nil
	}
	return updated, err
}

// Cancel aborts a pending intent at the payer's request. Cancelling a
// finalized intent is a conflict, never a silent success.
func (r *Reconciler) Cancel(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	return r.Apply(ctx, Event{Source: SourceCancel, OrderID: orderID})
}

func (r *Reconciler) applyCancel(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	if models.IsTerminalStatus(intent.Status) {
		return intent, ErrConflict
	}
	ok, err := r.store.TransitionStatus(ctx, intent.OrderID, models.PaymentStatusCancelled, StatusUpdate{})
	if err != nil {
		return intent, err
	}
	if !ok {
		return r.refresh(ctx, intent), ErrConflict
	}
	intent.Status = models.PaymentStatusCancelled
	r.notify(intent)
	r.audit(ctx, intent.OrderID, "cancelled", SourceCancel, nil)
	return intent, nil
}

func (r *Reconciler) applyCallback(ctx context.Context, intent *models.PaymentIntent, ev Event) (*models.PaymentIntent, error) {
	if !ev.Verified {
		r.audit(ctx, intent.OrderID, "signature_mismatch", ev.Source, map[string]string{"code": ev.Code})
		return intent, ErrUnverified
	}
	if models.IsTerminalStatus(intent.Status) {
		if ev.Code == vnpay.CodeApproved && intent.Status != models.PaymentStatusCompleted {
			// Money may have moved after the window closed; surface for refund.
			r.audit(ctx, intent.OrderID, "late_approval_rejected", ev.Source, map[string]string{
				"status": intent.Status, "transaction_id": ev.TransactionID,
			})
		}
		return intent, ErrConflict
	}

	target := models.PaymentStatusFailed
	if ev.Code == vnpay.CodeApproved {
		target = models.PaymentStatusCompleted
	}
	return r.transition(ctx, intent, target, ev)
}

func (r *Reconciler) applyPoll(ctx context.Context, intent *models.PaymentIntent, ev Event) (*models.PaymentIntent, error) {
	// A poll observes; it never overrides a finalized intent.
	if models.IsTerminalStatus(intent.Status) {
		return intent, nil
	}
	if !ev.Verified {
		r.audit(ctx, intent.OrderID, "signature_mismatch", ev.Source, map[string]string{"code": ev.Code})
		return intent, ErrUnverified
	}

	var target string
	switch ev.Code {
	case vnpay.CodeApproved:
		target = models.PaymentStatusCompleted
	case vnpay.CodeUnknown:
		// Gateway has no outcome yet; stay pending and retry on the next poll.
		return intent, nil
	case "11":
		// Gateway reports the payment window elapsed.
		target = models.PaymentStatusExpired
	default:
		target = models.PaymentStatusFailed
	}
	return r.transition(ctx, intent, target, ev)
}

// transition performs the compare-and-swap and, on the first (and only)
// move into completed, fires the enrollment trigger.
func (r *Reconciler) transition(ctx context.Context, intent *models.PaymentIntent, target string, ev Event) (*models.PaymentIntent, error) {
	ok, err := r.store.TransitionStatus(ctx, intent.OrderID, target, StatusUpdate{
		TransactionID: ev.TransactionID,
		ResponseCode:  ev.Code,
		PayDate:       ev.PayDate,
	})
	if err != nil {
		return intent, err
	}
	if !ok {
		return r.refresh(ctx, intent), ErrConflict
	}

	intent.Status = target
	intent.TransactionID = ev.TransactionID
	intent.ResponseCode = ev.Code
	intent.PayDate = ev.PayDate
	r.notify(intent)
	r.audit(ctx, intent.OrderID, "status_"+target, ev.Source, map[string]string{"code": ev.Code})
	r.logger.Info("payment reconciled",
		zap.String("order_id", intent.OrderID),
		zap.String("status", target),
		zap.String("source", ev.Source),
		zap.String("code", ev.Code),
	)

	if target == models.PaymentStatusCompleted {
		if err := r.enroller.Enroll(ctx, intent.CourseID, intent.PayerID, intent.OrderID, intent.AmountMinor); err != nil {
			// The status is already final; the idempotent enroller makes a
			// manual replay from the audit log safe.
			r.logger.Error("enrollment failed after completed payment",
				zap.String("order_id", intent.OrderID), zap.Error(err))
			r.audit(ctx, intent.OrderID, "enroll_failed", ev.Source, map[string]string{"error": err.Error()})
			return intent, fmt.Errorf("enroll: %w", err)
		}
		r.audit(ctx, intent.OrderID, "enrolled", ev.Source, nil)
	}
	return intent, nil
}

func (r *Reconciler) forceExpire(ctx context.Context, intent *models.PaymentIntent, source string) *models.PaymentIntent {
	ok, err := r.store.TransitionStatus(ctx, intent.OrderID, models.PaymentStatusExpired, StatusUpdate{})
	if err != nil {
		r.logger.Error("expire transition failed", zap.String("order_id", intent.OrderID), zap.Error(err))
		return intent
	}
	if !ok {
		return r.refresh(ctx, intent)
	}
	intent.Status = models.PaymentStatusExpired
	r.notify(intent)
	r.audit(ctx, intent.OrderID, "status_expired", source, nil)
	return intent
}

func (r *Reconciler) refresh(ctx context.Context, intent *models.PaymentIntent) *models.PaymentIntent {
	fresh, err := r.store.GetByOrderID(ctx, intent.OrderID)
	if err != nil || fresh == nil {
		return intent
	}
	return fresh
}

func (r *Reconciler) notify(intent *models.PaymentIntent) {
	if r.notifier != nil {
		r.notifier.NotifyStatus(intent.OrderID, intent.Status, intent.ResponseCode)
	}
}

func (r *Reconciler) audit(ctx context.Context, orderID, event, source string, detail map[string]string) {
	if r.auditor != nil {
		r.auditor.Audit(ctx, orderID, event, source, detail)
	}
}
