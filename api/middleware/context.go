package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

// Principal is the authenticated caller derived from the bearer token.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, p.UserID)
	return context.WithValue(ctx, ctxRole, p.Role)
}

// PrincipalFromContext reports false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return Principal{}, false
	}
	role, _ := ctx.Value(ctxRole).(enums.UserRole)
	return Principal{UserID: id, Role: role}, true
}

// WithPrincipal injects a caller; handlers under test use it instead of a token.
func WithPrincipal(ctx context.Context, userID uuid.UUID, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return withPrincipal(ctx, Principal{UserID: userID, Role: role})
}

// SessionHeader carries the guest cart session id.
const SessionHeader = "X-Session-Id"

// SessionIDFromRequest returns the trimmed guest session id, or "".
func SessionIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}
