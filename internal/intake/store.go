package intake

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hiregate/internal/domain"
	"hiregate/internal/repo"
)

// Store reads and writes the intake-owned tables: jobs and applications.
type Store struct {
	DB *sql.DB
}

func (s Store) q(q repo.Querier) repo.Querier {
	if q != nil {
		return q
	}
	return s.DB
}

func (s Store) InsertJob(ctx context.Context, q repo.Querier, j domain.Job) error {
	_, err := s.q(q).ExecContext(ctx, `INSERT INTO jobs(id,title,pipeline_id,created_at) VALUES (?,?,?,?)`,
		j.ID, j.Title, j.PipelineID, j.CreatedAt.UTC().Format(repo.TimeLayout))
	return err
}

func (s Store) GetJob(ctx context.Context, q repo.Querier, id string) (domain.Job, error) {
	var (
		j       domain.Job
		created string
	)
	err := s.q(q).QueryRowContext(ctx, `SELECT id,title,pipeline_id,created_at FROM jobs WHERE id=?`, id).
		Scan(&j.ID, &j.Title, &j.PipelineID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return j, domain.NotFoundf("job %s", id)
	}
	if err != nil {
		return j, err
	}
	j.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	return j, err
}

func (s Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,title,pipeline_id,created_at FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		var (
			j       domain.Job
			created string
		)
		if err := rows.Scan(&j.ID, &j.Title, &j.PipelineID, &created); err != nil {
			return nil, err
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s Store) InsertApplication(ctx context.Context, q repo.Querier, a domain.Application) error {
	_, err := s.q(q).ExecContext(ctx, `INSERT INTO applications(id,job_id,pipeline_id,candidate_id,withdrawn,created_at) VALUES (?,?,?,?,0,?)`,
		a.ID, a.JobID, a.PipelineID, a.CandidateID, a.CreatedAt.UTC().Format(repo.TimeLayout))
	return err
}

func (s Store) GetApplication(ctx context.Context, q repo.Querier, id string) (domain.Application, error) {
	var (
		a         domain.Application
		withdrawn int
		created   string
	)
	err := s.q(q).QueryRowContext(ctx, `SELECT id,job_id,pipeline_id,candidate_id,withdrawn,created_at FROM applications WHERE id=?`, id).
		Scan(&a.ID, &a.JobID, &a.PipelineID, &a.CandidateID, &withdrawn, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return a, domain.NotFoundf("application %s", id)
	}
	if err != nil {
		return a, err
	}
	a.Withdrawn = withdrawn != 0
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	return a, err
}

// MarkWithdrawn sets the only mutable application field.
func (s Store) MarkWithdrawn(ctx context.Context, q repo.Querier, id string) error {
	res, err := s.q(q).ExecContext(ctx, `UPDATE applications SET withdrawn=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("application %s", id)
	}
	return nil
}
