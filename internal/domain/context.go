package domain

import "context"

type tenantKey struct{}

// ContextTenant carries the tenant and schema identity through request context.
// Both values prefix every result cache key.
type ContextTenant struct {
	TenantID string
	SchemaID string
}

// WithTenant stores a ContextTenant in the context.
func WithTenant(ctx context.Context, t ContextTenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext extracts the ContextTenant from the context.
func TenantFromContext(ctx context.Context) (ContextTenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(ContextTenant)
	return t, ok
}
