// Package sqlite stores processor claims in a SQLite database file, for
// deployments where all instances share one host.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/modelmycode/cqrs-framework/core/processor"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_processors (
	token_id      TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL DEFAULT '',
	token         INTEGER NOT NULL,
	updated_at_ns INTEGER NOT NULL
);`

// pragmas are part of the DSN so every pooled connection applies them.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(FULL)",
}

// DSN returns the connection string for the database file at path.
func DSN(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type TokenStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

func NewTokenStore(db *sql.DB, clock clockwork.Clock) *TokenStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenStore{db: db, clock: clock}
}

func (s *TokenStore) Read(ctx context.Context, tokenID string) (*processor.ClaimRecord, error) {
	rec := processor.ClaimRecord{TokenID: tokenID}
	var updatedNs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, token, updated_at_ns FROM event_processors WHERE token_id=?`,
		tokenID,
	).Scan(&rec.ClientID, &rec.Token, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read claim %s: %w", tokenID, err)
	}
	rec.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return &rec, nil
}

func (s *TokenStore) Create(ctx context.Context, tokenID, clientID string, token int64) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO event_processors (token_id, client_id, token, updated_at_ns) VALUES (?, ?, ?, ?)
		 ON CONFLICT(token_id) DO NOTHING`,
		tokenID, clientID, token, s.nowNs(),
	)
	if err != nil {
		return fmt.Errorf("create claim %s: %w", tokenID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return processor.ErrTokenExists
	}
	return nil
}

func (s *TokenStore) SetClientID(ctx context.Context, tokenID, clientID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_processors SET client_id=?, updated_at_ns=? WHERE token_id=?`,
		clientID, s.nowNs(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("set client id of %s: %w", tokenID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return processor.ErrTokenNotFound
	}
	return nil
}

// SetToken writes token unless the stored one is ahead. A miss is classified
// by a follow-up read.
func (s *TokenStore) SetToken(ctx context.Context, tokenID string, token int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_processors SET token=?, updated_at_ns=? WHERE token_id=? AND token<=?`,
		token, s.nowNs(), tokenID, token,
	)
	if err != nil {
		return fmt.Errorf("set token of %s: %w", tokenID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	rec, err := s.Read(ctx, tokenID)
	if err != nil {
		return err
	}
	if rec == nil {
		return processor.ErrTokenNotFound
	}
	return fmt.Errorf("%w: stored %d, got %d", processor.ErrTokenRegression, rec.Token, token)
}

func (s *TokenStore) nowNs() int64 { return s.clock.Now().UnixNano() }

var _ processor.TokenStore = (*TokenStore)(nil)
