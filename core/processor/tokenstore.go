package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrTokenExists     = errors.New("claim record already exists")
	ErrTokenNotFound   = errors.New("claim record not found")
	ErrTokenRegression = errors.New("tracking token must not decrease")
)

// ClaimRecord is the persisted claim and checkpoint of one logical processor.
// An empty ClientID means the record is unclaimed.
type ClaimRecord struct {
	TokenID   string    `json:"token_id"`
	ClientID  string    `json:"client_id"`
	Token     int64     `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenStore persists ClaimRecords. Implementations set UpdatedAt on every
// write. Setting a token lower than the stored one fails with
// ErrTokenRegression.
type TokenStore interface {
	// Read returns nil, nil when no record exists.
	Read(ctx context.Context, tokenID string) (*ClaimRecord, error)
	Create(ctx context.Context, tokenID, clientID string, token int64) error
	// SetClientID transfers ownership; "" releases the claim.
	SetClientID(ctx context.Context, tokenID, clientID string) error
	SetToken(ctx context.Context, tokenID string, token int64) error
}

// InMemoryTokenStore keeps claim records in process memory.
type InMemoryTokenStore struct {
	clock clockwork.Clock

	mu      sync.Mutex
	records map[string]ClaimRecord
}

func NewInMemoryTokenStore(clock clockwork.Clock) *InMemoryTokenStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryTokenStore{clock: clock, records: map[string]ClaimRecord{}}
}

func (s *InMemoryTokenStore) Read(_ context.Context, tokenID string) (*ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryTokenStore) Create(_ context.Context, tokenID, clientID string, token int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[tokenID]; ok {
		return ErrTokenExists
	}
	s.records[tokenID] = ClaimRecord{TokenID: tokenID, ClientID: clientID, Token: token, UpdatedAt: s.clock.Now()}
	return nil
}

func (s *InMemoryTokenStore) SetClientID(_ context.Context, tokenID, clientID string) error {
	return s.update(tokenID, func(rec *ClaimRecord) error {
		rec.ClientID = clientID
		return nil
	})
}

func (s *InMemoryTokenStore) SetToken(_ context.Context, tokenID string, token int64) error {
	return s.update(tokenID, func(rec *ClaimRecord) error {
		if token < rec.Token {
			return ErrTokenRegression
		}
		rec.Token = token
		return nil
	})
}

func (s *InMemoryTokenStore) update(tokenID string, fn func(*ClaimRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	rec.UpdatedAt = s.clock.Now()
	s.records[tokenID] = rec
	return nil
}

var _ TokenStore = (*InMemoryTokenStore)(nil)
