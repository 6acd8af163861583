package permission

import "context"

// GrantStore persists always-scoped grants across restarts. Session and
// once decisions never reach the store.
type GrantStore interface {
	SaveGrant(ctx context.Context, g *Grant) error
	DeleteGrant(ctx context.Context, server, tool string) error
	LoadGrants(ctx context.Context) ([]*Grant, error)
	Clear(ctx context.Context) error
}
