package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/harborops/slotkeeper/libs/httpx"
)

// Principal is the verified caller of a request.
type Principal struct {
	Subject  string
	TenantID string
	Role     string
	Name     string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.Subject != ""
}

// Verifier checks bearer tokens: RS256 through JWKS when configured, HS256 otherwise.
type Verifier struct {
	secret string
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwksClient *JWKSClient) *Verifier {
	return &Verifier{secret: secret, jwks: jwksClient}
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if v.jwks != nil {
		header, err := ParseHeader(token)
		if err != nil {
			return nil, err
		}
		if header.Alg == "RS256" && header.Kid != "" {
			pub, err := v.jwks.Get(ctx, header.Kid)
			if err != nil {
				return nil, ErrInvalidToken
			}
			return VerifyRS256(token, pub)
		}
	}
	return ParseAndVerifyHS256(token, v.secret)
}

// RequireAuth rejects requests without a valid bearer token and stores the Principal
// in the request context. Paths listed in public bypass the check.
func RequireAuth(v *Verifier, public ...string) httpx.Middleware {
	skip := map[string]struct{}{}
	for _, p := range public {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthenticated", "missing or invalid Authorization header")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthenticated", "invalid token")
				return
			}

			r = httpx.AttachSubject(r, claims.Sub)
			ctx := WithPrincipal(r.Context(), Principal{
				Subject:  claims.Sub,
				TenantID: claims.TenantID,
				Role:     claims.Role,
				Name:     claims.Name,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RolePolicy maps opaque role names onto the single capability the scheduling core
// understands: whether the caller may override other actors' locks and confirm bookings.
type RolePolicy struct {
	privileged map[string]struct{}
}

func NewRolePolicy(privilegedRoles []string) RolePolicy {
	set := make(map[string]struct{}, len(privilegedRoles))
	for _, r := range privilegedRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return RolePolicy{privileged: set}
}

func (p RolePolicy) Privileged(role string) bool {
	_, ok := p.privileged[strings.ToLower(strings.TrimSpace(role))]
	return ok
}
