package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/services"
)

type ctxKey int

const userIDKey ctxKey = iota

// bearerToken reads the client token from the Authorization header, falling
// back to the token query parameter browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) authenticate(r *http.Request) (*services.TokenClaims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, services.ErrInvalidToken
	}
	return h.auth.VerifyToken(token)
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) uuid.UUID {
	userID, _ := ctx.Value(userIDKey).(uuid.UUID)
	return userID
}

func (h *Handler) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Internal-Key")
		if h.internalKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.internalKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorPayload("", services.ErrInvalidToken))
			return
		}
		next.ServeHTTP(w, r)
	})
}
