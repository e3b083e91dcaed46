package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/logger"
	"hiregate/internal/metrics"
	"hiregate/internal/repo"
)

const (
	defaultInterval    = 2 * time.Second
	defaultMaxAttempts = 5
	defaultBatch       = 50
	defaultLease       = 2 * time.Minute
	maxBackoff         = 5 * time.Minute
)

// Sink delivers one action. Deliveries may repeat; sinks should use the
// action id as their idempotency key.
type Sink interface {
	Deliver(ctx context.Context, a domain.ActionRecord) error
}

type SinkFunc func(ctx context.Context, a domain.ActionRecord) error

func (f SinkFunc) Deliver(ctx context.Context, a domain.ActionRecord) error { return f(ctx, a) }

// Dispatcher records actions once per (application, transition, kind) and
// delivers them out of band with retries. A claimed action is leased for
// Lease; if its worker dies mid-delivery the action is retried after that.
type Dispatcher struct {
	Repo        repo.Repo
	Events      events.Writer
	Routes      map[domain.ActionKind][]Sink
	MaxAttempts int
	Interval    time.Duration
	Lease       time.Duration
	Backoff     func(attempt int) time.Duration
	Log         logger.Logger
	Now         func() time.Time

	wake chan struct{}
}

func New(r repo.Repo, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		Repo:        r,
		Routes:      map[domain.ActionKind][]Sink{},
		MaxAttempts: defaultMaxAttempts,
		Interval:    defaultInterval,
		Log:         log,
		wake:        make(chan struct{}, 1),
	}
}

// Route appends sinks for kind.
func (d *Dispatcher) Route(kind domain.ActionKind, sinks ...Sink) {
	if d.Routes == nil {
		d.Routes = map[domain.ActionKind][]Sink{}
	}
	d.Routes[kind] = append(d.Routes[kind], sinks...)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) log() logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.NewNoOpLogger()
}

func (d *Dispatcher) lease() time.Duration {
	if d.Lease > 0 {
		return d.Lease
	}
	return defaultLease
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if d.Backoff != nil {
		return d.Backoff(attempt)
	}
	delay := time.Second << attempt
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Dispatch records the action as pending and wakes the delivery loop. A
// repeat for the same transition and kind is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, tr domain.Transition, kind domain.ActionKind, payload map[string]any, due time.Time) error {
	if tr.ID == "" || tr.ApplicationID == "" {
		return domain.Validationf("dispatch requires a committed transition")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}
	now := d.now()
	if due.IsZero() {
		due = now
	}
	inserted, err := d.Repo.InsertActionIfAbsent(ctx, nil, domain.ActionRecord{
		ID:            uuid.NewString(),
		ApplicationID: tr.ApplicationID,
		TransitionID:  tr.ID,
		Kind:          kind,
		Status:        domain.ActionPending,
		PayloadJSON:   string(body),
		DueAt:         due.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return err
	}
	if inserted && d.wake != nil {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// ProcessDue delivers every due action once and returns how many it claimed.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.Repo.DueActions(ctx, d.now(), defaultBatch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ok, err := d.attempt(ctx, a)
		if err != nil {
			return processed, err
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

func (d *Dispatcher) attempt(ctx context.Context, a domain.ActionRecord) (bool, error) {
	claimedAt := d.now()
	claimed, err := d.Repo.ClaimAction(ctx, nil, a.ID, claimedAt, claimedAt.Add(d.lease()))
	if err != nil || !claimed {
		return false, err
	}
	a.Attempts++
	a.Status = domain.ActionInFlight

	var errs []error
	for _, s := range d.Routes[a.Kind] {
		if err := s.Deliver(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	deliveryErr := errors.Join(errs...)
	// The outcome is recorded even when ctx was cancelled mid-delivery.
	ctx = context.WithoutCancel(ctx)
	now := d.now()
	fields := map[string]interface{}{
		"action_id":      a.ID,
		"application_id": a.ApplicationID,
		"transition_id":  a.TransitionID,
		"action_kind":    a.Kind,
		"attempts":       a.Attempts,
	}
	if deliveryErr == nil {
		if err := d.Repo.FinishAction(ctx, nil, a.ID, a.Attempts, domain.ActionDone, "", now, now); err != nil {
			return true, err
		}
		metrics.ActionsDispatched.WithLabelValues(string(a.Kind), "done").Inc()
		d.log().Debug("action delivered", fields)
		return true, d.Events.Append(ctx, d.Repo.DB, events.TypeActionDispatched, "action", a.ID, "system", events.EventPayload{
			"application_id": a.ApplicationID,
			"kind":           a.Kind,
			"attempts":       a.Attempts,
		})
	}

	status := domain.ActionFailed
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if a.Attempts >= maxAttempts {
		status = domain.ActionDead
	}
	next := now.Add(d.backoff(a.Attempts))
	if err := d.Repo.FinishAction(ctx, nil, a.ID, a.Attempts, status, deliveryErr.Error(), next, now); err != nil {
		return true, err
	}
	metrics.ActionsDispatched.WithLabelValues(string(a.Kind), string(status)).Inc()
	fields["status"] = status
	d.log().WithError(deliveryErr).Warn("action delivery failed", fields)
	return true, d.Events.Append(ctx, d.Repo.DB, events.TypeActionFailed, "action", a.ID, "system", events.EventPayload{
		"application_id": a.ApplicationID,
		"kind":           a.Kind,
		"attempts":       a.Attempts,
		"status":         status,
		"error":          deliveryErr.Error(),
	})
}

// Run delivers due actions until ctx is done, waking on the interval or
// whenever Dispatch records something new.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			d.log().WithError(err).Error("action dispatch loop failed", nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}
