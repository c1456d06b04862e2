package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
)

const (
	// HeaderUserID carries the caller id set by the authenticating gateway.
	HeaderUserID = "X-User-ID"
	// HeaderAPIKey carries a staff API key.
	HeaderAPIKey = "api_key"
)

type userKey struct{}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// requireUser rejects requests without a caller id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		ctx = zctx.With(ctx, zap.String("user_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireStaff rejects requests without a valid staff key.
func (h *Handler) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.keys.Verify(r.Context(), r.Header.Get(HeaderAPIKey), auth.ScopeStaff)
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
