package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/angelmondragon/rentescrow-backend/api/responses"
	pkgAuth "github.com/angelmondragon/rentescrow-backend/pkg/auth"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

type callerKey struct{}

type caller struct {
	wallet string
	role   enums.TokenRole
}

// WithCaller stores the authenticated wallet and token role on ctx.
func WithCaller(ctx context.Context, wallet string, role enums.TokenRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller{wallet: wallet, role: role})
}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// WalletFromContext is the checksummed wallet of the caller, or the service
// name for system tokens.
func WalletFromContext(ctx context.Context) string { return callerFrom(ctx).wallet }

func RoleFromContext(ctx context.Context) enums.TokenRole { return callerFrom(ctx).role }

// Auth requires an access token, given as "Bearer <jwt>" or bare, and puts
// the caller on the request context. Consent tokens are not credentials.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			wallet := claims.Wallet
			if claims.Role != enums.TokenRoleSystem {
				if normalized, err := chain.NormalizeAddress(wallet); err == nil {
					wallet = normalized
				}
			}
			ctx := WithCaller(r.Context(), wallet, claims.Role)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithWallet(ctx, wallet), string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	scheme, rest, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}

// RequireRole admits only callers whose token carries one of roles.
func RequireRole(logg *logger.Logger, roles ...enums.TokenRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
