package interview

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"hiregate/internal/domain"
	"hiregate/internal/repo"
)

// Store covers interview_rounds, round_assignments and round_feedback.
type Store struct {
	DB *sql.DB
}

func (s Store) q(q repo.Querier) repo.Querier {
	if q != nil {
		return q
	}
	return s.DB
}

func (s Store) InsertRound(ctx context.Context, q repo.Querier, r domain.Round) error {
	ex := s.q(q)
	if _, err := ex.ExecContext(ctx, `INSERT INTO interview_rounds(id,application_id,stage_id,evaluation_kind,status,created_at) VALUES (?,?,?,?,?,?)`,
		r.ID, r.ApplicationID, r.StageID, r.EvaluationKind, string(r.Status), r.CreatedAt.UTC().Format(repo.TimeLayout)); err != nil {
		return err
	}
	for _, who := range r.Interviewers {
		if _, err := ex.ExecContext(ctx, `INSERT INTO round_assignments(round_id,interviewer_id) VALUES (?,?)`, r.ID, who); err != nil {
			return err
		}
	}
	return nil
}

func (s Store) GetRound(ctx context.Context, q repo.Querier, id string) (domain.Round, error) {
	ex := s.q(q)
	var (
		r       domain.Round
		status  string
		created string
	)
	err := ex.QueryRowContext(ctx, `SELECT id,application_id,stage_id,evaluation_kind,status,created_at FROM interview_rounds WHERE id=?`, id).
		Scan(&r.ID, &r.ApplicationID, &r.StageID, &r.EvaluationKind, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, domain.NotFoundf("round %s", id)
	}
	if err != nil {
		return r, err
	}
	r.Status = domain.RoundStatus(status)
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return r, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT interviewer_id FROM round_assignments WHERE round_id=? ORDER BY interviewer_id`, id)
	if err != nil {
		return r, err
	}
	defer rows.Close()
	r.Interviewers = []string{}
	for rows.Next() {
		var who string
		if err := rows.Scan(&who); err != nil {
			return r, err
		}
		r.Interviewers = append(r.Interviewers, who)
	}
	return r, rows.Err()
}

func (s Store) SetRoundStatus(ctx context.Context, q repo.Querier, id string, status domain.RoundStatus) error {
	_, err := s.q(q).ExecContext(ctx, `UPDATE interview_rounds SET status=? WHERE id=?`, string(status), id)
	return err
}

// InsertFeedback fails with ErrConflict when the submitter already answered
// for the round.
func (s Store) InsertFeedback(ctx context.Context, q repo.Querier, f domain.Feedback) error {
	_, err := s.q(q).ExecContext(ctx, `INSERT INTO round_feedback(id,round_id,submitted_by,decision,notes,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.RoundID, f.SubmittedBy, string(f.Decision), nullString(f.Notes), f.CreatedAt.UTC().Format(repo.TimeLayout))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.Conflictf("feedback from %s already submitted for round %s", f.SubmittedBy, f.RoundID)
	}
	return err
}

// Counts returns submitted feedback and assignment totals for a round.
func (s Store) Counts(ctx context.Context, q repo.Querier, roundID string) (feedback, assigned int, err error) {
	err = s.q(q).QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM round_feedback WHERE round_id=?),
  (SELECT COUNT(*) FROM round_assignments WHERE round_id=?)`, roundID, roundID).Scan(&feedback, &assigned)
	return feedback, assigned, err
}

func (s Store) ListFeedback(ctx context.Context, roundID string) ([]domain.Feedback, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,round_id,submitted_by,decision,COALESCE(notes,''),created_at FROM round_feedback WHERE round_id=? ORDER BY created_at, id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Feedback
	for rows.Next() {
		var (
			f        domain.Feedback
			decision string
			created  string
		)
		if err := rows.Scan(&f.ID, &f.RoundID, &f.SubmittedBy, &decision, &f.Notes, &created); err != nil {
			return nil, err
		}
		f.Decision = domain.Decision(decision)
		if f.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
