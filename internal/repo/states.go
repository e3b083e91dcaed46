package repo

import (
	"context"
	"database/sql"
	"errors"

	"hiregate/internal/domain"
)

const stateColumns = `application_id,pipeline_id,current_stage_id,status,is_terminal,entered_stage_at,updated_at,version`

func scanState(row interface{ Scan(...any) error }) (domain.ApplicationPipelineState, error) {
	var (
		st              domain.ApplicationPipelineState
		status          string
		terminal        int
		entered, update string
	)
	if err := row.Scan(&st.ApplicationID, &st.PipelineID, &st.CurrentStageID, &status, &terminal, &entered, &update, &st.Version); err != nil {
		return st, err
	}
	st.Status = domain.Status(status)
	st.IsTerminal = terminal != 0
	var err error
	if st.EnteredStageAt, err = parseTime(entered); err != nil {
		return st, err
	}
	if st.UpdatedAt, err = parseTime(update); err != nil {
		return st, err
	}
	return st, nil
}

// InsertStateIfAbsent creates the state row; it reports false when a row
// already existed and leaves that row untouched.
func (r Repo) InsertStateIfAbsent(ctx context.Context, q Querier, st domain.ApplicationPipelineState) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO application_pipeline_states(`+stateColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		st.ApplicationID, st.PipelineID, st.CurrentStageID, string(st.Status), boolInt(st.IsTerminal),
		formatTime(st.EnteredStageAt), formatTime(st.UpdatedAt), 1)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetState(ctx context.Context, q Querier, applicationID string) (domain.ApplicationPipelineState, error) {
	st, err := scanState(r.q(q).QueryRowContext(ctx, `SELECT `+stateColumns+` FROM application_pipeline_states WHERE application_id=?`, applicationID))
	if errors.Is(err, sql.ErrNoRows) {
		return st, domain.NotFoundf("pipeline state for application %s", applicationID)
	}
	return st, err
}

// UpdateState writes st if the stored row is still at expectedVersion and not
// terminal. A stale version or a frozen row yields ErrConflict.
func (r Repo) UpdateState(ctx context.Context, q Querier, st domain.ApplicationPipelineState, expectedVersion int64) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE application_pipeline_states
SET current_stage_id=?, status=?, is_terminal=?, entered_stage_at=?, updated_at=?, version=version+1
WHERE application_id=? AND version=? AND is_terminal=0`,
		st.CurrentStageID, string(st.Status), boolInt(st.IsTerminal), formatTime(st.EnteredStageAt), formatTime(st.UpdatedAt),
		st.ApplicationID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Conflictf("pipeline state for application %s changed concurrently or is frozen", st.ApplicationID)
	}
	return nil
}

func (r Repo) InsertTransition(ctx context.Context, q Querier, t domain.Transition) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO pipeline_transitions(id,application_id,from_stage_id,to_stage_id,from_status,to_status,resolution,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.ApplicationID, nullable(t.FromStageID), t.ToStageID, nullable(string(t.FromStatus)), string(t.ToStatus),
		nullable(string(t.Resolution)), formatTime(t.CreatedAt))
	return err
}

func (r Repo) ListTransitions(ctx context.Context, q Querier, applicationID string) ([]domain.Transition, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,application_id,COALESCE(from_stage_id,''),to_stage_id,COALESCE(from_status,''),to_status,COALESCE(resolution,''),created_at
FROM pipeline_transitions WHERE application_id=? ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var (
			t                          domain.Transition
			fromStatus, to, resolution string
			created                    string
		)
		if err := rows.Scan(&t.ID, &t.ApplicationID, &t.FromStageID, &t.ToStageID, &fromStatus, &to, &resolution, &created); err != nil {
			return nil, err
		}
		t.FromStatus = domain.Status(fromStatus)
		t.ToStatus = domain.Status(to)
		t.Resolution = domain.Resolution(resolution)
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
