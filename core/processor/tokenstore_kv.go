package processor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/modelmycode/cqrs-framework/ports/kv"
)

const (
	defaultKVPrefix = "claims."
	// concurrent writers race on the record revision; give up after this many
	kvUpdateAttempts = 5
)

// KVTokenStore keeps claim records in a kv.Store. Updates are
// read-modify-write cycles guarded by the entry revision.
type KVTokenStore struct {
	store  kv.Store
	clock  clockwork.Clock
	prefix string
}

func NewKVTokenStore(store kv.Store, clock clockwork.Clock) *KVTokenStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &KVTokenStore{store: store, clock: clock, prefix: defaultKVPrefix}
}

// key encodes tokenID, which contains '#', into the key alphabet accepted by
// every kv backend.
func (s *KVTokenStore) key(tokenID string) string {
	return s.prefix + base64.RawURLEncoding.EncodeToString([]byte(tokenID))
}

func (s *KVTokenStore) Read(ctx context.Context, tokenID string) (*ClaimRecord, error) {
	rec, _, err := kv.Get[ClaimRecord](ctx, s.store, s.key(tokenID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read claim %s: %w", tokenID, err)
	}
	return &rec, nil
}

func (s *KVTokenStore) Create(ctx context.Context, tokenID, clientID string, token int64) error {
	rec := ClaimRecord{TokenID: tokenID, ClientID: clientID, Token: token, UpdatedAt: s.clock.Now()}
	_, err := kv.Put(ctx, s.store, s.key(tokenID), rec, kv.PutOptions{Create: true})
	if errors.Is(err, kv.ErrExists) {
		return ErrTokenExists
	}
	if err != nil {
		return fmt.Errorf("create claim %s: %w", tokenID, err)
	}
	return nil
}

func (s *KVTokenStore) SetClientID(ctx context.Context, tokenID, clientID string) error {
	return s.update(ctx, tokenID, func(rec *ClaimRecord) error {
		rec.ClientID = clientID
		return nil
	})
}

func (s *KVTokenStore) SetToken(ctx context.Context, tokenID string, token int64) error {
	return s.update(ctx, tokenID, func(rec *ClaimRecord) error {
		if token < rec.Token {
			return ErrTokenRegression
		}
		rec.Token = token
		return nil
	})
}

func (s *KVTokenStore) update(ctx context.Context, tokenID string, fn func(*ClaimRecord) error) error {
	key := s.key(tokenID)
	for range kvUpdateAttempts {
		rec, rev, err := kv.Get[ClaimRecord](ctx, s.store, key)
		if errors.Is(err, kv.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("read claim %s: %w", tokenID, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = s.clock.Now()

		_, err = kv.Put(ctx, s.store, key, rec, kv.PutOptions{Revision: rev})
		if errors.Is(err, kv.ErrRevisionMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write claim %s: %w", tokenID, err)
		}
		return nil
	}
	return fmt.Errorf("write claim %s: %w", tokenID, kv.ErrRevisionMismatch)
}

var _ TokenStore = (*KVTokenStore)(nil)
