package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"hiregate/internal/boundary"
	"hiregate/internal/logger"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader accepts X-Actor-Id / X-Service-Id without a token.
	// Local development only.
	AllowActorHeader bool
	Log              logger.Logger
}

// Principal is the authenticated caller. Subject is a service name for
// service-to-service calls and an interviewer id for feedback.
type Principal struct {
	Subject string
	Service boundary.Service
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Subject != ""
}

// serviceContext tags ctx with the caller's service for the grant checks.
func serviceContext(ctx context.Context) (context.Context, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return ctx, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Service == "" {
		return ctx, nil
	}
	return boundary.WithService(ctx, p.Service), nil
}

func requireService(ctx context.Context, svc boundary.Service) (Principal, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return p, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Service != svc {
		return p, newAPIError(http.StatusForbidden, "forbidden", "operation reserved to the "+string(svc)+" service", map[string]any{"service": p.Service})
	}
	return p, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Service string `json:"svc,omitempty"`
}

// SignToken mints an HS256 token for subject acting as svc.
func SignToken(secret, subject string, svc boundary.Service, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "hiregate",
		},
		Service: string(svc),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		Subject: claims.Subject,
		Service: serviceOf(claims.Service, claims.Subject),
		Source:  "jwt",
	}, nil
}

// serviceOf prefers an explicit service claim and falls back to a subject
// that names a service.
func serviceOf(claim, subject string) boundary.Service {
	if svc, ok := boundary.ParseService(claim); ok {
		return svc
	}
	if svc, ok := boundary.ParseService(subject); ok {
		return svc
	}
	return ""
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	protected := func(p string) bool {
		if open[p] {
			return false
		}
		return strings.HasPrefix(p, basePath+"/") || strings.HasPrefix(p, "/rounds/")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !protected(req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			actor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if actor != "" && cfg.AllowActorHeader {
				svcHeader := strings.TrimSpace(req.Header.Get("X-Service-Id"))
				if cfg.Log != nil {
					cfg.Log.Warn("unauthenticated actor header accepted", map[string]interface{}{
						"actor_id": actor,
						"service":  svcHeader,
						"path":     req.URL.Path,
					})
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), Principal{
					Subject: actor,
					Service: serviceOf(svcHeader, actor),
					Source:  "header",
				})))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
