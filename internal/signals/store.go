package signals

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/metrics"
	"hiregate/internal/repo"
)

// Store is the append-only signal log with a latest-wins view per
// (application, stage, source).
type Store struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

type RecordInput struct {
	ApplicationID string
	StageID       string
	SourceID      string
	Disposition   domain.Disposition
	ActorID       string
}

func (in RecordInput) Validate() error {
	if strings.TrimSpace(in.ApplicationID) == "" {
		return domain.Validationf("application_id is required")
	}
	if strings.TrimSpace(in.StageID) == "" {
		return domain.Validationf("stage_id is required")
	}
	if strings.TrimSpace(in.SourceID) == "" || strings.HasPrefix(in.SourceID, "/") {
		return domain.Validationf("source_id is required")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return domain.Validationf("actor_id is required")
	}
	if !in.Disposition.Valid() {
		return domain.Validationf("disposition must be BLOCK, ALLOW or WARN")
	}
	return nil
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Record appends a signal and makes it the effective one for its key.
// Resubmissions are never rejected; they supersede by sequence.
func (s Store) Record(ctx context.Context, q repo.Querier, in RecordInput) (domain.Signal, error) {
	if err := in.Validate(); err != nil {
		return domain.Signal{}, err
	}
	sig := domain.Signal{
		ID:            uuid.NewString(),
		ApplicationID: in.ApplicationID,
		StageID:       in.StageID,
		SourceID:      in.SourceID,
		Disposition:   in.Disposition,
		ActorID:       in.ActorID,
		CreatedAt:     s.now(),
	}
	seq, err := s.Repo.InsertSignal(ctx, q, sig)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Seq = seq
	if err := s.Repo.SupersedeEffective(ctx, q, sig); err != nil {
		return domain.Signal{}, err
	}
	if err := s.Events.Append(ctx, q, events.TypeSignalRecorded, "application", sig.ApplicationID, sig.ActorID, events.EventPayload{
		"signal_id":   sig.ID,
		"seq":         sig.Seq,
		"stage_id":    sig.StageID,
		"source_id":   sig.SourceID,
		"disposition": sig.Disposition,
	}); err != nil {
		return domain.Signal{}, err
	}
	metrics.SignalsRecorded.WithLabelValues(string(sig.Disposition)).Inc()
	return sig, nil
}

// EffectiveSignals returns one signal per distinct source for the stage.
func (s Store) EffectiveSignals(ctx context.Context, q repo.Querier, applicationID, stageID string) ([]domain.Signal, error) {
	return s.Repo.EffectiveSignals(ctx, q, applicationID, stageID)
}

// History returns the full audit log, oldest first.
func (s Store) History(ctx context.Context, applicationID, stageID string) ([]domain.Signal, error) {
	return s.Repo.SignalHistory(ctx, nil, applicationID, stageID)
}
