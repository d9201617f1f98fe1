package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
	"github.com/xuanthe1908/E-Learning-Full/internal/payments"
	"github.com/xuanthe1908/E-Learning-Full/internal/realtime"
	"github.com/xuanthe1908/E-Learning-Full/pkg/queue"
)

// AuditProcessor drains the payment job queue and persists audit events.
type AuditProcessor struct {
	repo   *payments.Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewAuditProcessor creates an audit event processor.
func NewAuditProcessor(repo *payments.Repository, q *queue.Queue, logger *zap.Logger) *AuditProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditProcessor{repo: repo, queue: q, logger: logger}
}

// Run processes jobs until ctx is done.
func (p *AuditProcessor) Run(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if err := p.queue.Retry(ctx, job); err != nil {
				p.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}

func (p *AuditProcessor) process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAuditEvent {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AuditEventPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.repo.InsertAudit(ctx, payload.OrderID, payload.Event, payload.Source, payload.Detail); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// Sweeper periodically force-expires stale pending intents. Expiry is also
// applied lazily on access, so the sweep only tightens the window; skipping a
// run never breaks correctness.
type Sweeper struct {
	repo     *payments.Repository
	bridge   realtime.Publisher
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates an expiry sweeper. bridge may be nil.
func NewSweeper(repo *payments.Repository, bridge realtime.Publisher, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{repo: repo, bridge: bridge, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	orderIDs, err := s.repo.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	for _, orderID := range orderIDs {
		if err := s.repo.InsertAudit(ctx, orderID, "status_expired", payments.SourceSweep, nil); err != nil {
			s.logger.Warn("sweep audit failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if s.bridge != nil {
			ev := realtime.StatusEvent{
				OrderID: orderID,
				Status:  models.PaymentStatusExpired,
				At:      time.Now().Unix(),
			}
			if err := s.bridge.PublishStatus(ev); err != nil {
				s.logger.Warn("sweep broadcast failed", zap.String("order_id", orderID), zap.Error(err))
			}
		}
	}
	if len(orderIDs) > 0 {
		s.logger.Info("expired stale payments", zap.Int("count", len(orderIDs)))
	}
}
