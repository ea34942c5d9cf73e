// Package identity resolves bearer credentials to principals: JWT
// issue/verify, the Redis session cache, and the register/login flows.
package identity

import "context"

// Role of an authenticated principal. Vendors (owners and helpers)
// share one role; the engine distinguishes owner from helper by
// relationship to the business, not by token.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "ownerOrHelper"
)

// Principal is the resolved caller of an engine operation.
type Principal struct {
	ID   string
	Role Role
}

// Vendor reports whether the principal is owner-or-helper side.
func (p Principal) Vendor() bool { return p.Role == RoleVendor }

type ctxKey string

const principalKey ctxKey = "waitline.principal"

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal if present.
func FromContext(ctx context.Context) (Principal, bool) {
	val := ctx.Value(principalKey)
	if val == nil {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok && p.ID != ""
}

const tokenIDKey ctxKey = "waitline.jti"

// WithTokenID stores the verified token id so logout can revoke the
// session it belongs to.
func WithTokenID(ctx context.Context, jti string) context.Context {
	return context.WithValue(ctx, tokenIDKey, jti)
}

// TokenIDFromContext extracts the token id if present.
func TokenIDFromContext(ctx context.Context) (string, bool) {
	jti, ok := ctx.Value(tokenIDKey).(string)
	return jti, ok && jti != ""
}
