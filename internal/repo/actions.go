package repo

import (
	"context"
	"database/sql"
	"time"

	"hiregate/internal/domain"
)

const actionColumns = `id,application_id,transition_id,kind,status,attempts,COALESCE(last_error,''),COALESCE(payload_json,''),due_at,created_at,updated_at`

// InsertActionIfAbsent records an action once per (application, transition,
// kind). It reports false when the record already existed.
func (r Repo) InsertActionIfAbsent(ctx context.Context, q Querier, a domain.ActionRecord) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO action_records(id,application_id,transition_id,kind,status,attempts,last_error,payload_json,due_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ApplicationID, a.TransitionID, string(a.Kind), string(a.Status), a.Attempts, nullable(a.LastError),
		nullable(a.PayloadJSON), formatTime(a.DueAt), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetAction(ctx context.Context, q Querier, id string) (domain.ActionRecord, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+actionColumns+` FROM action_records WHERE id=?`, id)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	list, err := scanActions(rows)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	if len(list) == 0 {
		return domain.ActionRecord{}, domain.NotFoundf("action %s", id)
	}
	return list[0], nil
}

// ClaimAction moves a due record to in_flight, bumps its attempt counter and
// leases it until leaseUntil. While in flight, due_at holds the lease expiry,
// so a record left behind by a crashed worker is due again once it lapses.
// It reports false when another worker holds a live claim.
func (r Repo) ClaimAction(ctx context.Context, q Querier, id string, now, leaseUntil time.Time) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE action_records SET status=?, attempts=attempts+1, due_at=?, updated_at=?
WHERE id=? AND due_at<=? AND status IN (?,?,?)`,
		string(domain.ActionInFlight), formatTime(leaseUntil), formatTime(now), id, formatTime(now),
		string(domain.ActionPending), string(domain.ActionFailed), string(domain.ActionInFlight))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishAction stores the outcome of in-flight attempt number attempt. A
// record reclaimed by a later attempt in the meantime is left alone and
// reported as a conflict. nextDue is only meaningful for ActionFailed.
func (r Repo) FinishAction(ctx context.Context, q Querier, id string, attempt int, status domain.ActionStatus, lastErr string, nextDue, now time.Time) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE action_records SET status=?, last_error=?, due_at=?, updated_at=?
WHERE id=? AND status=? AND attempts=?`,
		string(status), nullable(lastErr), formatTime(nextDue), formatTime(now), id, string(domain.ActionInFlight), attempt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Conflictf("action %s attempt %d is not in flight", id, attempt)
	}
	return nil
}

// DueActions lists pending and failed records whose due time has passed,
// plus in-flight records whose lease has lapsed.
func (r Repo) DueActions(ctx context.Context, now time.Time, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM action_records
WHERE status IN (?,?,?) AND due_at<=? ORDER BY due_at, id LIMIT ?`,
		string(domain.ActionPending), string(domain.ActionFailed), string(domain.ActionInFlight), formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

// ActionFilter narrows ListActions; empty fields match everything.
type ActionFilter struct {
	ApplicationID string
	Status        domain.ActionStatus
}

func (r Repo) ListActions(ctx context.Context, f ActionFilter) ([]domain.ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM action_records WHERE 1=1`
	var args []any
	if f.ApplicationID != "" {
		query += " AND application_id=?"
		args = append(args, f.ApplicationID)
	}
	if f.Status != "" {
		query += " AND status=?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at, id"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]domain.ActionRecord, error) {
	defer rows.Close()
	var res []domain.ActionRecord
	for rows.Next() {
		var (
			a                     domain.ActionRecord
			kind, status          string
			due, created, updated string
		)
		if err := rows.Scan(&a.ID, &a.ApplicationID, &a.TransitionID, &kind, &status, &a.Attempts, &a.LastError, &a.PayloadJSON, &due, &created, &updated); err != nil {
			return nil, err
		}
		a.Kind = domain.ActionKind(kind)
		a.Status = domain.ActionStatus(status)
		var err error
		if a.DueAt, err = parseTime(due); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
