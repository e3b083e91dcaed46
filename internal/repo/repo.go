package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hiregate/internal/domain"
)

// Repo holds the core's owned tables: pipeline definitions, states,
// transitions, signals, tokens, action records and events.
type Repo struct {
	DB *sql.DB
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var ErrNotFound = domain.ErrNotFound

// TimeLayout is fixed width so stored timestamps compare correctly as text.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (r Repo) q(q Querier) Querier {
	if q != nil {
		return q
	}
	return r.DB
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// UpsertPipeline stores a pipeline definition document.
func (r Repo) UpsertPipeline(ctx context.Context, q Querier, p domain.Pipeline, now time.Time) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ts := formatTime(now)
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO pipeline_definitions(id,definition_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET definition_json=excluded.definition_json, updated_at=excluded.updated_at`, p.ID, string(payload), ts, ts)
	return err
}

func (r Repo) GetPipeline(ctx context.Context, q Querier, id string) (domain.Pipeline, error) {
	var payload string
	err := r.q(q).QueryRowContext(ctx, `SELECT definition_json FROM pipeline_definitions WHERE id=?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pipeline{}, domain.NotFoundf("pipeline %s", id)
	}
	if err != nil {
		return domain.Pipeline{}, err
	}
	var p domain.Pipeline
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode pipeline %s: %w", id, err)
	}
	return p, nil
}

func (r Repo) ListPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT definition_json FROM pipeline_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pipeline
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p domain.Pipeline
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// EventFilter narrows LatestEvents; empty fields match everything.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
