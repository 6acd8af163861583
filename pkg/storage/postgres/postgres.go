// Package postgres provides a PostgreSQL implementation of
// permission.GrantStore. It uses pgx/v5 for connection pooling and
// JSONB for the argument fences.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steward-dev/steward/pkg/permission"
	"github.com/steward-dev/steward/pkg/storage"
)

// Store is a PostgreSQL-backed GrantStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements permission.GrantStore at compile time.
var _ permission.GrantStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveGrant upserts a grant keyed by server and tool.
func (s *Store) SaveGrant(ctx context.Context, g *permission.Grant) error {
	pathsJSON, err := marshalFence(g.AllowedPaths)
	if err != nil {
		return fmt.Errorf("marshaling allowed paths: %w", err)
	}
	domainsJSON, err := marshalFence(g.AllowedDomains)
	if err != nil {
		return fmt.Errorf("marshaling allowed domains: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO grants (
			server_id, tool_name, decision, scope, risk,
			granted_at, expires_at,
			allowed_paths, allowed_domains, args_hash,
			usage_count, last_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (server_id, tool_name) DO UPDATE SET
			decision = EXCLUDED.decision,
			scope = EXCLUDED.scope,
			risk = EXCLUDED.risk,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			allowed_paths = EXCLUDED.allowed_paths,
			allowed_domains = EXCLUDED.allowed_domains,
			args_hash = EXCLUDED.args_hash,
			usage_count = EXCLUDED.usage_count,
			last_used = EXCLUDED.last_used
	`,
		g.Server, g.Tool, string(g.Decision), string(g.Scope), g.Risk.String(),
		g.GrantedAt, nullTime(g.ExpiresAt),
		pathsJSON, domainsJSON, g.ArgsHash,
		g.UsageCount, nullTime(g.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}
	return nil
}

// DeleteGrant removes a grant. Deleting a missing grant returns
// storage.ErrNotFound.
func (s *Store) DeleteGrant(ctx context.Context, server, tool string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM grants WHERE server_id = $1 AND tool_name = $2",
		server, tool,
	)
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LoadGrants returns all stored grants.
func (s *Store) LoadGrants(ctx context.Context) ([]*permission.Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT server_id, tool_name, decision, scope, risk,
		       granted_at, expires_at,
		       allowed_paths, allowed_domains, args_hash,
		       usage_count, last_used
		FROM grants
	`)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	var grants []*permission.Grant
	for rows.Next() {
		var g permission.Grant
		var decision, scope, risk string
		var expiresAt, lastUsed *time.Time
		var pathsJSON, domainsJSON []byte

		if err := rows.Scan(
			&g.Server, &g.Tool, &decision, &scope, &risk,
			&g.GrantedAt, &expiresAt,
			&pathsJSON, &domainsJSON, &g.ArgsHash,
			&g.UsageCount, &lastUsed,
		); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}

		g.Decision = permission.Decision(decision)
		g.Scope = permission.Scope(scope)
		g.Risk = permission.ParseRiskLevel(risk)
		if expiresAt != nil {
			g.ExpiresAt = *expiresAt
		}
		if lastUsed != nil {
			g.LastUsed = *lastUsed
		}
		if err := unmarshalFence(pathsJSON, &g.AllowedPaths); err != nil {
			return nil, fmt.Errorf("unmarshaling allowed paths: %w", err)
		}
		if err := unmarshalFence(domainsJSON, &g.AllowedDomains); err != nil {
			return nil, fmt.Errorf("unmarshaling allowed domains: %w", err)
		}

		grants = append(grants, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return grants, nil
}

// Clear removes all grants.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM grants"); err != nil {
		return fmt.Errorf("clearing grants: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullTime converts a zero time to nil for nullable TIMESTAMPTZ columns.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// marshalFence converts a fence list to JSONB, with nil for empty lists.
func marshalFence(list []string) ([]byte, error) {
	if len(list) == 0 {
		return nil, nil
	}
	return json.Marshal(list)
}

func unmarshalFence(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
