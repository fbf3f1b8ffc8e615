package auth

import "context"

type ctxKey int

const (
	claimsKey ctxKey = iota
	tenantKey
	holderKey
)

// ClaimsHolder lets middleware mounted outside the auth layer observe the
// identity resolved deeper in the chain: context values only flow downward,
// so the audit recorder wrapping the whole stack reads the authenticated
// claims and the resolved tenant back through this holder.
type ClaimsHolder struct {
	Claims   *Claims
	TenantID uint
}

func WithClaimsHolder(ctx context.Context, h *ClaimsHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

func HolderFromContext(ctx context.Context) *ClaimsHolder {
	if v, ok := ctx.Value(holderKey).(*ClaimsHolder); ok {
		return v
	}
	return nil
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFromContext(ctx context.Context) *Claims {
	if v, ok := ctx.Value(claimsKey).(*Claims); ok {
		return v
	}
	return nil
}

// WithTenant records the resolved tenant id for the request.
func WithTenant(ctx context.Context, tenantID uint) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFromContext returns the resolved tenant id, 0 if unresolved.
func TenantFromContext(ctx context.Context) uint {
	if v, ok := ctx.Value(tenantKey).(uint); ok {
		return v
	}
	return 0
}

func UserID(ctx context.Context) uint {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID
	}
	return 0
}
