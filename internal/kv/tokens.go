package kv

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

const (
	revokedPrefix = "sess/rev/"
	noncePrefix   = "sess/nonce/"
)

// TokenStore keeps session revocations and consumed challenges. Every
// entry carries a TTL, so the data set never outgrows the live sessions.
type TokenStore struct {
	db  *badger.DB
	now func() time.Time
}

func NewTokenStore(s *Store) *TokenStore {
	return &TokenStore{db: s.DB, now: time.Now}
}

func (t *TokenStore) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := until.Sub(t.now())
	if ttl <= 0 {
		return nil
	}
	err := t.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(revokedPrefix+id), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	return errors.Wrap(err, "revoke session")
}

func (t *TokenStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	revoked := false
	err := t.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(revokedPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "lookup revocation")
	}
	return revoked, nil
}

// Consume records key as used and reports whether this call was the first.
// Two concurrent consumers of the same key collide in badger's conflict
// detection; the loser sees false.
func (t *TokenStore) Consume(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first := false
	err := t.db.Update(func(txn *badger.Txn) error {
		k := []byte(noncePrefix + key)
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		first = true
		return txn.SetEntry(badger.NewEntry(k, []byte{1}).WithTTL(ttl))
	})
	if err == badger.ErrConflict {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "consume nonce")
	}
	return first, nil
}
