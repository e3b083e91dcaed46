package repo

import (
	"context"

	"hiregate/internal/domain"
)

// InsertSignal appends to the signal log and returns the assigned sequence.
func (r Repo) InsertSignal(ctx context.Context, q Querier, s domain.Signal) (int64, error) {
	res, err := r.q(q).ExecContext(ctx, `INSERT INTO signals(id,application_id,stage_id,source_id,disposition,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ApplicationID, s.StageID, s.SourceID, string(s.Disposition), s.ActorID, formatTime(s.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SupersedeEffective points the (application, stage, source) key at s unless a
// newer sequence is already recorded for it.
func (r Repo) SupersedeEffective(ctx context.Context, q Querier, s domain.Signal) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO effective_signals(application_id,stage_id,source_id,signal_id,seq,disposition,actor_id,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(application_id,stage_id,source_id) DO UPDATE SET
  signal_id=excluded.signal_id, seq=excluded.seq, disposition=excluded.disposition,
  actor_id=excluded.actor_id, created_at=excluded.created_at
WHERE excluded.seq > effective_signals.seq`,
		s.ApplicationID, s.StageID, s.SourceID, s.ID, s.Seq, string(s.Disposition), s.ActorID, formatTime(s.CreatedAt))
	return err
}

// EffectiveSignals returns the current latest-wins signal per source.
func (r Repo) EffectiveSignals(ctx context.Context, q Querier, applicationID, stageID string) ([]domain.Signal, error) {
	return r.querySignals(ctx, q, `SELECT signal_id,seq,application_id,stage_id,source_id,disposition,actor_id,created_at
FROM effective_signals WHERE application_id=? AND stage_id=? ORDER BY source_id`, applicationID, stageID)
}

// SignalHistory returns every recorded signal for an application in emission
// order; stageID may be empty.
func (r Repo) SignalHistory(ctx context.Context, q Querier, applicationID, stageID string) ([]domain.Signal, error) {
	query := `SELECT id,seq,application_id,stage_id,source_id,disposition,actor_id,created_at FROM signals WHERE application_id=?`
	args := []any{applicationID}
	if stageID != "" {
		query += " AND stage_id=?"
		args = append(args, stageID)
	}
	query += " ORDER BY seq"
	return r.querySignals(ctx, q, query, args...)
}

func (r Repo) querySignals(ctx context.Context, q Querier, query string, args ...any) ([]domain.Signal, error) {
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signal
	for rows.Next() {
		var (
			s           domain.Signal
			disposition string
			created     string
		)
		if err := rows.Scan(&s.ID, &s.Seq, &s.ApplicationID, &s.StageID, &s.SourceID, &disposition, &s.ActorID, &created); err != nil {
			return nil, err
		}
		s.Disposition = domain.Disposition(disposition)
		if s.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
