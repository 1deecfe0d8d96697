package auth

import (
	"context"
	"errors"
)

// Identity is the verified console user behind a request.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
}

type identityKey struct{}

var errNoIdentity = errors.New("auth: no identity in context")

func WithIdentity(ctx context.Context, userID, displayName, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, DisplayName: displayName, Role: role})
}

// IdentityFrom returns the identity injected by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.UserID != "" {
		return id.UserID, nil
	}
	return "", errNoIdentity
}

// DisplayName returns the caller's display name, or "" if the token carried none.
func DisplayName(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.DisplayName
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", errNoIdentity
}
