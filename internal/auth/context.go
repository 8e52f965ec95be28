package auth

import (
	"context"

	"github.com/dukerupert/cohabit/internal/model"
)

type contextKey struct{}

// AuthContext is the signed-in viewer attached to a request.
type AuthContext struct {
	User model.User
	// Admin is the ledger edit gate. It is a UI convenience only; the
	// backend decides what a token may change.
	Admin bool
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// User returns the viewer, or the zero User when none is attached.
func User(ctx context.Context) model.User {
	ac, _ := FromContext(ctx)
	return ac.User
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.User.ID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Admin
}
