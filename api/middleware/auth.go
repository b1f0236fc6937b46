package middleware

import (
	"net/http"
	"strings"

	"github.com/evwarranty/warranty-backend/api/responses"
	pkgAuth "github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/config"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// Auth validates a bearer token minted by the identity provider and seeds the
// request context with the acting user and role. Permission checks are not made here.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := claims.Actor()
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithUserID(ctx, actor.UserID.String())
				ctx = logg.WithActorRole(ctx, string(actor.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
