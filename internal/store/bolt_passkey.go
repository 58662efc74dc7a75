package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"passgate/internal/auth"
	"passgate/internal/passkey"
)

// authenticatorRecord is the stored shape of a passkey credential: the
// wire-facing authenticator plus the owning user.
type authenticatorRecord struct {
	UserID string `json:"user_id"`
	passkey.Authenticator
}

func authenticatorKey(credID []byte) []byte {
	return []byte(base64.RawURLEncoding.EncodeToString(credID))
}

func authenticatorUserIndexKey(userID string, credID []byte) []byte {
	return []byte("idx::user::" + userID + "::" + base64.RawURLEncoding.EncodeToString(credID))
}

func authenticatorUserIndexPrefix(userID string) []byte {
	return []byte("idx::user::" + userID + "::")
}

// CreatePasskey stores the user (when new), the provider link and the
// authenticator in a single transaction, so a failed registration never
// leaves a credential without an owner.
func (s *Store) CreatePasskey(user auth.User, account auth.Account, authenticator passkey.Authenticator) error {
	userData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	accountData, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	authData, err := json.Marshal(authenticatorRecord{UserID: user.ID, Authenticator: authenticator})
	if err != nil {
		return fmt.Errorf("marshal authenticator: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		ub := tx.Bucket(bucketUsers)
		if ub.Get([]byte(user.ID)) == nil {
			if existing := ub.Get(emailIndexKey(user.Email)); existing != nil {
				return fmt.Errorf("email %q already registered to another user", user.Email)
			}
			if err := ub.Put([]byte(user.ID), userData); err != nil {
				return err
			}
			if err := ub.Put(emailIndexKey(user.Email), []byte(user.ID)); err != nil {
				return err
			}
		}

		ab := tx.Bucket(bucketAccounts)
		key := accountKey(account.Provider, account.ProviderAccountID)
		if err := ab.Put(key, accountData); err != nil {
			return err
		}
		if err := ab.Put(accountUserIndexKey(account.UserID, account.Provider, account.ProviderAccountID), key); err != nil {
			return err
		}

		cb := tx.Bucket(bucketAuthenticators)
		if err := cb.Put(authenticatorKey(authenticator.CredentialID), authData); err != nil {
			return err
		}
		return cb.Put(authenticatorUserIndexKey(user.ID, authenticator.CredentialID), []byte(""))
	})
}

// ListAuthenticatorsForUser returns all passkey credentials for a user.
func (s *Store) ListAuthenticatorsForUser(userID string) ([]passkey.Authenticator, error) {
	var auths []passkey.Authenticator
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuthenticators)
		prefix := authenticatorUserIndexPrefix(userID)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			credB64 := string(k[len(prefix):])
			credID, err := base64.RawURLEncoding.DecodeString(credB64)
			if err != nil {
				continue
			}
			v := b.Get(authenticatorKey(credID))
			if v == nil {
				continue
			}
			var rec authenticatorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			auths = append(auths, rec.Authenticator)
		}
		return nil
	})
	return auths, err
}

// DeleteAuthenticator removes a passkey credential and its index.
// Idempotent: deleting an absent credential is not an error.
func (s *Store) DeleteAuthenticator(credID []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuthenticators)
		key := authenticatorKey(credID)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		var rec authenticatorRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return b.Delete(key)
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		return b.Delete(authenticatorUserIndexKey(rec.UserID, credID))
	})
}

// PasskeyAdapter exposes the store through the verification engine's
// adapter contract. Separate from Store because the engine's
// GetUserByAccount returns engine-level types.
type PasskeyAdapter struct {
	s *Store
}

// PasskeyAdapter returns the engine-facing view of the store.
func (s *Store) PasskeyAdapter() *PasskeyAdapter {
	return &PasskeyAdapter{s: s}
}

// GetAuthenticator retrieves a credential by ID. Returns nil, nil when
// absent.
func (a *PasskeyAdapter) GetAuthenticator(_ context.Context, credentialID []byte) (*passkey.Authenticator, error) {
	var result *passkey.Authenticator
	err := a.s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAuthenticators).Get(authenticatorKey(credentialID))
		if v == nil {
			return nil
		}
		var rec authenticatorRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshal authenticator: %w", err)
		}
		result = &rec.Authenticator
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateAuthenticatorCounter persists a new signature counter. Read and
// write happen in one transaction.
func (a *PasskeyAdapter) UpdateAuthenticatorCounter(_ context.Context, authenticator *passkey.Authenticator, newCounter uint32) error {
	return a.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuthenticators)
		key := authenticatorKey(authenticator.CredentialID)
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("authenticator %s not found", authenticatorKey(authenticator.CredentialID))
		}
		var rec authenticatorRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshal authenticator: %w", err)
		}
		rec.Counter = newCounter
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal authenticator: %w", err)
		}
		return b.Put(key, data)
	})
}

// GetUserByAccount resolves a provider identity to its owning user in
// engine terms. Returns nil, nil when no link exists.
func (a *PasskeyAdapter) GetUserByAccount(_ context.Context, provider, providerAccountID string) (*passkey.User, error) {
	user, err := a.s.GetUserByAccount(provider, providerAccountID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return &passkey.User{ID: user.ID, Email: user.Email}, nil
}
