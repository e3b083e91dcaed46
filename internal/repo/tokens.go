package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"hiregate/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for a candidate access token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertToken stores a hashed token. TokenHash must already hold the digest.
// An application may own at most one token.
func (r Repo) InsertToken(ctx context.Context, q Querier, t domain.AccessToken) error {
	if t.TokenHash == "" {
		return errors.New("token_hash required")
	}
	if t.ApplicationID == "" {
		return errors.New("application_id required")
	}
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO candidate_access_tokens(token_hash,application_id,created_at,expires_at) VALUES (?,?,?,?)`,
		t.TokenHash, t.ApplicationID, formatTime(t.CreatedAt), formatTime(t.ExpiresAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.Conflictf("application %s already has an access token", t.ApplicationID)
	}
	return err
}

// GetTokenByHash returns the token row, ErrNotFound when unknown.
func (r Repo) GetTokenByHash(ctx context.Context, q Querier, hash string) (domain.AccessToken, error) {
	return r.scanToken(r.q(q).QueryRowContext(ctx, `SELECT token_hash,application_id,created_at,expires_at FROM candidate_access_tokens WHERE token_hash=? LIMIT 1`, hash))
}

func (r Repo) GetTokenForApplication(ctx context.Context, q Querier, applicationID string) (domain.AccessToken, error) {
	return r.scanToken(r.q(q).QueryRowContext(ctx, `SELECT token_hash,application_id,created_at,expires_at FROM candidate_access_tokens WHERE application_id=? LIMIT 1`, applicationID))
}

func (r Repo) scanToken(row *sql.Row) (domain.AccessToken, error) {
	var (
		t                domain.AccessToken
		created, expires string
	)
	err := row.Scan(&t.TokenHash, &t.ApplicationID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccessToken{}, domain.NotFoundf("access token")
	}
	if err != nil {
		return domain.AccessToken{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.AccessToken{}, err
	}
	if t.ExpiresAt, err = parseTime(expires); err != nil {
		return domain.AccessToken{}, err
	}
	return t, nil
}
