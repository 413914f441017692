package middleware

import (
	"context"
	"net/http"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/token"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Authenticate attached to ctx.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok
}

// Authenticate rejects requests without a valid bearer token of kind with a
// bare 401. Accepted requests continue with the claims and client IP in the
// request context.
func Authenticate(engine *goToken.Engine, kind token.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			ctx, claims, err := engine.Authenticate(r.Context(), r, kind)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess is Authenticate for access tokens.
func RequireAccess(engine *goToken.Engine) func(http.Handler) http.Handler {
	return Authenticate(engine, token.KindAccess)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
