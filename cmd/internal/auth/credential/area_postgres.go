package credential

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArea persists a pair in <schema>.credentials keyed by profile.
//
// Ownership model:
//   - PostgresArea does NOT own the pgx pool. The caller must close the pool.
type PostgresArea struct {
	pool    *pgxpool.Pool
	schema  string
	profile string
}

// PostgresOption configures PostgresArea behavior.
type PostgresOption func(*PostgresArea) error

// WithSchema sets the DB schema used by this area (default: "labdash").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(a *PostgresArea) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("credential: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("credential: invalid schema identifier")
		}
		a.schema = schema
		return nil
	}
}

// NewPostgresArea constructs a Postgres-backed area for the given profile.
func NewPostgresArea(pool *pgxpool.Pool, profile string, opts ...PostgresOption) (*PostgresArea, error) {
	a := &PostgresArea{
		pool:   pool,
		schema: "labdash",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.pool == nil {
		return nil, errors.New("credential: nil pool")
	}
	a.profile = strings.TrimSpace(profile)
	if a.profile == "" {
		return nil, errors.New("credential: empty profile")
	}
	return a, nil
}

// EnsureSchema creates the schema and table when missing.
func (a *PostgresArea) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  profile       TEXT PRIMARY KEY,
  access_token  TEXT NOT NULL,
  refresh_token TEXT NOT NULL DEFAULT '',
  saved_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, pgx.Identifier{a.schema}.Sanitize(), a.table())

	_, err := a.pool.Exec(ctx, ddl)
	return err
}

func (a *PostgresArea) Load(ctx context.Context) (Pair, bool, error) {
	var p Pair
	err := a.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token FROM `+a.table()+` WHERE profile = $1`,
		a.profile,
	).Scan(&p.AccessToken, &p.RefreshToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pair{}, false, nil
	}
	if err != nil {
		return Pair{}, false, err
	}
	if p.IsZero() {
		return Pair{}, false, nil
	}
	return p, true, nil
}

func (a *PostgresArea) Save(ctx context.Context, p Pair) error {
	_, err := a.pool.Exec(ctx, `
INSERT INTO `+a.table()+` (profile, access_token, refresh_token, saved_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (profile) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    saved_at = EXCLUDED.saved_at`,
		a.profile, p.AccessToken, p.RefreshToken,
	)
	return err
}

func (a *PostgresArea) Clear(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM `+a.table()+` WHERE profile = $1`, a.profile)
	return err
}

func (a *PostgresArea) table() string {
	return pgIdent(a.schema, "credentials")
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
