package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/paylance/ledger/internal/handlers/render"
	"github.com/paylance/ledger/internal/handlers/userctx"
)

type verifier interface {
	FromRequest(r *http.Request) (uuid.UUID, error)
}

// IdentityMiddleware resolves the user id the gateway asserted for this
// request and puts it into the context. Requests without a valid token never
// reach the handlers.
func IdentityMiddleware(v verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := v.FromRequest(r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
