// Package postgres stores processor claims in a PostgreSQL table using the
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx"
	"github.com/jonboulle/clockwork"

	"github.com/modelmycode/cqrs-framework/core/processor"
)

const DefaultTable = "event-processors"

// Open connects a pool to dsn, which may be a URL or a key=value string.
// Driver messages at warning level and above are written to log.
func Open(dsn string, log *slog.Logger) (*pgx.ConnPool, error) {
	conf, err := pgx.ParseConnectionString(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if log != nil {
		conf.Logger = slogLogger{log: log.With(slog.String("db", "postgres"))}
		conf.LogLevel = pgx.LogLevelWarn
	}
	db, err := pgx.NewConnPool(pgx.ConnPoolConfig{ConnConfig: conf, MaxConnections: 8})
	if err != nil {
		return nil, fmt.Errorf("creating pgx connection pool: %w", err)
	}
	if _, err := db.Exec("SELECT 1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening first pgx connection: %w", err)
	}
	return db, nil
}

// TokenStore persists claim records, one row per token id.
type TokenStore struct {
	db    *pgx.ConnPool
	clock clockwork.Clock
	table string
}

type Option func(*TokenStore)

// WithTable overrides DefaultTable. An empty name keeps the default.
func WithTable(name string) Option {
	return func(s *TokenStore) {
		if name != "" {
			s.table = name
		}
	}
}

func WithClock(c clockwork.Clock) Option { return func(s *TokenStore) { s.clock = c } }

func NewTokenStore(db *pgx.ConnPool, opts ...Option) *TokenStore {
	s := &TokenStore{db: db, clock: clockwork.NewRealClock(), table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	s.table = pgx.Identifier{s.table}.Sanitize()
	return s
}

// Migrate creates the claim table when it does not exist.
func (s *TokenStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecEx(ctx, `
CREATE TABLE IF NOT EXISTS `+s.table+` (
	token_id   text PRIMARY KEY,
	client_id  text NOT NULL DEFAULT '',
	token      bigint NOT NULL,
	updated_at timestamptz NOT NULL
)`, nil)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

func (s *TokenStore) Read(ctx context.Context, tokenID string) (*processor.ClaimRecord, error) {
	rec := processor.ClaimRecord{TokenID: tokenID}
	err := s.db.QueryRowEx(ctx,
		`SELECT client_id, token, updated_at FROM `+s.table+` WHERE token_id = $1`, nil,
		tokenID,
	).Scan(&rec.ClientID, &rec.Token, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read claim %s: %w", tokenID, err)
	}
	return &rec, nil
}

func (s *TokenStore) Create(ctx context.Context, tokenID, clientID string, token int64) error {
	tag, err := s.db.ExecEx(ctx,
		`INSERT INTO `+s.table+` (token_id, client_id, token, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token_id) DO NOTHING`, nil,
		tokenID, clientID, token, s.now(),
	)
	if err != nil {
		return fmt.Errorf("create claim %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return processor.ErrTokenExists
	}
	return nil
}

func (s *TokenStore) SetClientID(ctx context.Context, tokenID, clientID string) error {
	tag, err := s.db.ExecEx(ctx,
		`UPDATE `+s.table+` SET client_id = $2, updated_at = $3 WHERE token_id = $1`, nil,
		tokenID, clientID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("set client id of %s: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return processor.ErrTokenNotFound
	}
	return nil
}

func (s *TokenStore) SetToken(ctx context.Context, tokenID string, token int64) error {
	tag, err := s.db.ExecEx(ctx,
		`UPDATE `+s.table+` SET token = $2, updated_at = $3 WHERE token_id = $1 AND token <= $2`, nil,
		tokenID, token, s.now(),
	)
	if err != nil {
		return fmt.Errorf("set token of %s: %w", tokenID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	rec, err := s.Read(ctx, tokenID)
	switch {
	case err != nil:
		return err
	case rec == nil:
		return processor.ErrTokenNotFound
	default:
		return fmt.Errorf("%w: stored %d, got %d", processor.ErrTokenRegression, rec.Token, token)
	}
}

// now is truncated to the column precision.
func (s *TokenStore) now() time.Time { return s.clock.Now().UTC().Truncate(time.Microsecond) }

// slogLogger forwards pgx driver logs.
type slogLogger struct{ log *slog.Logger }

func (l slogLogger) Log(level pgx.LogLevel, msg string, data map[string]interface{}) {
	attrs := make([]any, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch {
	case level <= pgx.LogLevelError:
		l.log.Error(msg, attrs...)
	case level == pgx.LogLevelWarn:
		l.log.Warn(msg, attrs...)
	case level == pgx.LogLevelInfo:
		l.log.Info(msg, attrs...)
	default:
		l.log.Debug(msg, attrs...)
	}
}

var _ processor.TokenStore = (*TokenStore)(nil)
