package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/retry"
	"github.com/loyalcore/backend/internal/tenant"
)

// QueueWebhooks isolates outbound HTTP from the default queue.
const QueueWebhooks = "webhooks"

const (
	maxResponseBody    = 4 << 10
	defaultMaxAttempts = 5
)

type DeliverArgs struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	DeliveryID uuid.UUID `json:"delivery_id"`
}

func (DeliverArgs) Kind() string { return "webhook_delivery" }

func (DeliverArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueWebhooks,
		MaxAttempts: defaultMaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// DeliveryInsertOpts overrides the job's attempt budget with the configured
// one. Delivery failures snooze the job instead of failing it, so River only
// spends these attempts on errors reading or recording the delivery row.
func DeliveryInsertOpts(maxAttempts int) *river.InsertOpts {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &river.InsertOpts{MaxAttempts: maxAttempts}
}

// DeliveryStore is the slice of the webhook repository the worker needs.
type DeliveryStore interface {
	GetForDelivery(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.WebhookDelivery, *models.WebhookEndpoint, error)
	RecordAttempt(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error
}

// Worker performs one delivery attempt per job run. The delivery row, not
// the job, is the source of truth for the attempt counter and for when the
// next attempt is due; the job is snoozed until then.
type Worker struct {
	river.WorkerDefaults[DeliverArgs]
	db         tenant.TxBeginner
	store      DeliveryStore
	policy     retry.Policy
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

func NewWorker(db tenant.TxBeginner, store DeliveryStore, policy retry.Policy, timeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		db:         db,
		store:      store,
		policy:     policy,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "webhook_worker").Logger(),
		now:        time.Now,
	}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	d, err := w.Attempt(ctx, job.Args.TenantID, job.Args.DeliveryID)
	if errors.Is(err, models.ErrNotFound) {
		return river.JobCancel(err)
	}
	if err != nil {
		return err
	}

	switch d.Status {
	case models.DeliveryStatusPending:
		if d.NextAttemptAt == nil {
			return fmt.Errorf("webhook delivery %s attempt %d: %s", d.ID, d.Attempt, deref(d.LastError))
		}
		return river.JobSnooze(max(d.NextAttemptAt.Sub(w.now()), 0))
	case models.DeliveryStatusFailed:
		return river.JobCancel(fmt.Errorf("webhook delivery %s failed after %d attempts: %s", d.ID, d.Attempt, deref(d.LastError)))
	}
	return nil
}

// Attempt sends a pending delivery once and records the outcome. Settled
// deliveries, and pending ones whose next attempt is not due yet, are
// returned unchanged.
func (w *Worker) Attempt(ctx context.Context, tenantID, deliveryID uuid.UUID) (*models.WebhookDelivery, error) {
	var d *models.WebhookDelivery
	var ep *models.WebhookEndpoint
	err := tenant.InTx(ctx, w.db, tenantID, func(tx pgx.Tx) error {
		var err error
		d, ep, err = w.store.GetForDelivery(ctx, tx, tenantID, deliveryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeliveryStatusPending {
		return d, nil
	}
	if d.NextAttemptAt != nil && d.NextAttemptAt.After(w.now()) {
		return d, nil
	}

	var sendErr error
	if ep.IsActive {
		sendErr = w.send(ctx, ep, d)
	} else {
		sendErr = errors.New("endpoint disabled")
	}

	now := w.now()
	d.Attempt++
	d.NextAttemptAt = nil
	switch {
	case sendErr == nil:
		d.Status = models.DeliveryStatusDelivered
		d.DeliveredAt = &now
		d.LastError = nil
	case !ep.IsActive || w.policy.Exhausted(d.Attempt):
		msg := sendErr.Error()
		d.Status = models.DeliveryStatusFailed
		d.LastError = &msg
	default:
		msg := sendErr.Error()
		next := now.Add(w.policy.Delay(d.Attempt))
		d.LastError = &msg
		d.NextAttemptAt = &next
	}

	err = tenant.InTx(ctx, w.db, tenantID, func(tx pgx.Tx) error {
		return w.store.RecordAttempt(ctx, tx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook attempt: %w", err)
	}

	if sendErr != nil {
		w.log.Warn().
			Err(sendErr).
			Str("tenant_id", tenantID.String()).
			Str("delivery_id", d.ID.String()).
			Str("endpoint_id", ep.ID.String()).
			Str("event", d.Event).
			Int("attempt", d.Attempt).
			Str("status", d.Status).
			Msg("webhook delivery attempt failed")
	}
	return d, nil
}

// send POSTs the stored payload. Response metadata is written onto d.
func (w *Worker) send(ctx context.Context, ep *models.WebhookEndpoint, d *models.WebhookDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "loyalcore-webhooks/1")
	req.Header.Set(HeaderSignature, Sign(ep.Secret, d.Payload))
	req.Header.Set(HeaderEvent, d.Event)
	req.Header.Set(HeaderDelivery, d.ID.String())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		d.ResponseStatus = nil
		d.ResponseBody = nil
		return fmt.Errorf("network error calling webhook endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	status := resp.StatusCode
	text := string(body)
	d.ResponseStatus = &status
	d.ResponseBody = &text

	if status < 200 || status >= 300 {
		return fmt.Errorf("endpoint returned status %d", status)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
