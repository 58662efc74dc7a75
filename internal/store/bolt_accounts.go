package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"passgate/internal/auth"
)

func accountKey(provider, providerAccountID string) []byte {
	return []byte(provider + "::" + providerAccountID)
}

func accountUserIndexKey(userID, provider, providerAccountID string) []byte {
	return []byte("idx::user::" + userID + "::" + provider + "::" + providerAccountID)
}

func accountUserIndexPrefix(userID string) []byte {
	return []byte("idx::user::" + userID + "::")
}

// LinkAccount persists a provider link and its user index atomically.
// The (provider, providerAccountID) pair is the primary key; linking the
// same pair again overwrites the record.
func (s *Store) LinkAccount(account auth.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := accountKey(account.Provider, account.ProviderAccountID)
		if err := b.Put(key, data); err != nil {
			return err
		}
		return b.Put(accountUserIndexKey(account.UserID, account.Provider, account.ProviderAccountID), key)
	})
}

// GetUserByAccount resolves a provider identity to its owning user.
// Returns nil, nil when no link exists.
func (s *Store) GetUserByAccount(provider, providerAccountID string) (*auth.User, error) {
	var account *auth.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get(accountKey(provider, providerAccountID))
		if v == nil {
			return nil
		}
		account = new(auth.Account)
		return json.Unmarshal(v, account)
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	return s.GetUser(account.UserID)
}

// ListAccountsForUser returns every provider link owned by the user.
func (s *Store) ListAccountsForUser(userID string) ([]auth.Account, error) {
	var accounts []auth.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		c := b.Cursor()
		prefix := accountUserIndexPrefix(userID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var account auth.Account
			if err := json.Unmarshal(data, &account); err != nil {
				return fmt.Errorf("unmarshal account %q: %w", v, err)
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	return accounts, err
}
