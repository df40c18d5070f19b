package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/obs"
)

// TypeDiscountApplied is the asynq task type emitted after discount pricing.
const TypeDiscountApplied = "bag:discount_applied"

// NewDiscountAppliedTask encodes the entry as an asynq task.
func NewDiscountAppliedTask(entry Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDiscountApplied, payload), nil
}

// Enqueuer is implemented by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher enqueues discount applications for the worker.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
}

// Publish enqueues the entry. The entry id doubles as the task id so duplicates are rejected.
func (p Publisher) Publish(ctx context.Context, entry Entry) error {
	if p.Client == nil {
		return errors.New("audit: task client not configured")
	}
	task, err := NewDiscountAppliedTask(entry)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(entry.ID), asynq.Timeout(30 * time.Second)}
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	if _, err := p.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeDiscountApplied, err)
	}
	return nil
}

// TaskHandler consumes discount application tasks.
type TaskHandler struct {
	Service Service
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var entry Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		obs.IncAuditTask("invalid")
		return fmt.Errorf("decode %s payload: %v: %w", TypeDiscountApplied, err, asynq.SkipRetry)
	}
	if err := h.Service.Record(ctx, entry); err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			obs.IncAuditTask("invalid")
			h.Logger.Warn().Err(err).Str("bag_id", entry.BagID).Msg("drop invalid discount audit entry")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		obs.IncAuditTask("error")
		return err
	}
	obs.IncAuditTask("ok")
	h.Logger.Debug().Str("bag_id", entry.BagID).Str("outcome", entry.Outcome).Msg("discount application recorded")
	return nil
}
