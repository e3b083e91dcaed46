package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/metrics"
	"hiregate/internal/repo"
)

const (
	DefaultTTL = 30 * 24 * time.Hour

	PendingStatus    = "Pending"
	PendingStageName = "Application Received"
)

// ApplicationInfo is what the intake service discloses about an application.
type ApplicationInfo struct {
	JobTitle  string
	AppliedAt time.Time
}

// ApplicationDirectory is the intake service's read contract.
type ApplicationDirectory interface {
	Describe(ctx context.Context, applicationID string) (ApplicationInfo, error)
}

// Projection is the fixed public shape of an application's status.
type Projection struct {
	JobTitle      string    `json:"jobTitle"`
	Status        string    `json:"status"`
	StageName     string    `json:"stageName"`
	AppliedAt     time.Time `json:"appliedAt" format:"date-time"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" format:"date-time"`
}

type Manager struct {
	Repo         repo.Repo
	Events       events.Writer
	Applications ApplicationDirectory
	TTL          time.Duration
	Now          func() time.Time
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Manager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return DefaultTTL
}

// Issue creates the application's only token and returns its raw value.
// Only the hash is stored; the raw value cannot be recovered later.
func (m Manager) Issue(ctx context.Context, q repo.Querier, applicationID, actorID string) (string, domain.AccessToken, error) {
	if strings.TrimSpace(applicationID) == "" {
		return "", domain.AccessToken{}, domain.Validationf("application_id is required")
	}
	raw := strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
	now := m.now()
	tok := domain.AccessToken{
		TokenHash:     repo.HashToken(raw),
		ApplicationID: applicationID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl()),
	}
	if err := m.Repo.InsertToken(ctx, q, tok); err != nil {
		return "", domain.AccessToken{}, err
	}
	exec := q
	if exec == nil {
		exec = m.Repo.DB
	}
	if err := m.Events.Append(ctx, exec, events.TypeTokenIssued, "application", applicationID, actorID, events.EventPayload{
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return "", domain.AccessToken{}, err
	}
	return raw, tok, nil
}

// Lookup finds a token and rejects it once expired.
func (m Manager) Lookup(ctx context.Context, token string) (domain.AccessToken, error) {
	if strings.TrimSpace(token) == "" {
		return domain.AccessToken{}, domain.NotFoundf("access token")
	}
	tok, err := m.Repo.GetTokenByHash(ctx, nil, repo.HashToken(token))
	if err != nil {
		return domain.AccessToken{}, err
	}
	if tok.Expired(m.now()) {
		return domain.AccessToken{}, domain.Expiredf("token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}

// Resolve projects the application behind token. The token is returned so
// the consuming boundary can repeat the expiry check.
func (m Manager) Resolve(ctx context.Context, token string) (Projection, domain.AccessToken, error) {
	tok, err := m.Lookup(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExpired):
			metrics.TokenResolutions.WithLabelValues("expired").Inc()
		case errors.Is(err, domain.ErrNotFound):
			metrics.TokenResolutions.WithLabelValues("not_found").Inc()
		}
		return Projection{}, domain.AccessToken{}, err
	}
	p, err := m.project(ctx, tok)
	if err != nil {
		return Projection{}, domain.AccessToken{}, err
	}
	metrics.TokenResolutions.WithLabelValues("ok").Inc()
	return p, tok, nil
}

func (m Manager) project(ctx context.Context, tok domain.AccessToken) (Projection, error) {
	p := Projection{AppliedAt: tok.CreatedAt}
	if m.Applications != nil {
		info, err := m.Applications.Describe(ctx, tok.ApplicationID)
		if err != nil {
			return Projection{}, err
		}
		p.JobTitle = info.JobTitle
		if !info.AppliedAt.IsZero() {
			p.AppliedAt = info.AppliedAt
		}
	}
	st, err := m.Repo.GetState(ctx, nil, tok.ApplicationID)
	if errors.Is(err, domain.ErrNotFound) {
		p.Status = PendingStatus
		p.StageName = PendingStageName
		p.LastUpdatedAt = p.AppliedAt
		return p, nil
	}
	if err != nil {
		return Projection{}, err
	}
	p.Status = StatusLabel(st.Status)
	p.StageName = st.CurrentStageID
	p.LastUpdatedAt = st.UpdatedAt
	if def, err := m.Repo.GetPipeline(ctx, nil, st.PipelineID); err == nil {
		if stage, ok := def.Stage(st.CurrentStageID); ok && stage.Name != "" {
			p.StageName = stage.Name
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Projection{}, err
	}
	return p, nil
}

// StatusLabel renders a pipeline status for candidates.
func StatusLabel(s domain.Status) string {
	switch s {
	case domain.StatusActive:
		return "In Progress"
	case domain.StatusHold:
		return "Under Review"
	case domain.StatusHired:
		return "Hired"
	case domain.StatusRejected:
		return "Not Selected"
	case domain.StatusWithdrawn:
		return "Withdrawn"
	}
	return PendingStatus
}
