package revocation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultPostgresTable = "gotoken_revocations"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// pgxDB is the subset of *pgxpool.Pool the store needs.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists revocations in a single table:
//
//	jti text primary key, expires_at timestamptz not null
type PostgresStore struct {
	db     pgxDB
	pool   *pgxpool.Pool
	table  string
	leeway time.Duration
	now    func() time.Time
}

// PostgresConfig configures a [PostgresStore].
type PostgresConfig struct {
	DSN    string
	Table  string
	Leeway time.Duration
}

// NewPostgresStore opens a pgx pool for cfg.DSN and verifies connectivity.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s, err := newPostgresStore(pool, cfg.Table, cfg.Leeway)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, table string, leeway time.Duration) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool must not be nil")
	}
	return newPostgresStore(pool, table, leeway)
}

func newPostgresStore(db pgxDB, table string, leeway time.Duration) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid revocation table name %q", table)
	}
	return &PostgresStore{db: db, table: table, leeway: leeway, now: time.Now}, nil
}

// EnsureSchema creates the table and expiry index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (jti TEXT PRIMARY KEY, expires_at TIMESTAMPTZ NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table + `_expires_at_idx ON ` + s.table + ` (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Revoke upserts the row keeping the later expiry.
func (s *PostgresStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := validate(jti, expiresAt); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table+` (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO UPDATE SET expires_at = GREATEST(`+s.table+`.expires_at, EXCLUDED.expires_at)`,
		jti, expiresAt.Add(s.leeway).UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeOnce inserts the row, or takes over a row whose expiry has passed.
// A live row leaves RowsAffected at zero.
func (s *PostgresStore) RevokeOnce(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	if err := validate(jti, expiresAt); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table+` (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE `+s.table+`.expires_at <= $3`,
		jti, expiresAt.Add(s.leeway).UTC(), s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE jti = $1 AND expires_at > $2)`,
		jti, s.now().UTC()).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return revoked, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
