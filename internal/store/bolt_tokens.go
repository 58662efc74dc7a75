package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// verificationToken is the stored shape of a magic-link token. The key
// is the sha256 hash of the token; the plaintext never touches disk.
type verificationToken struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SaveVerificationToken stores a hashed magic-link token.
func (s *Store) SaveVerificationToken(tokenHash, email string, expiresAt time.Time) error {
	data, err := json.Marshal(verificationToken{Email: email, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("marshal verification token: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVerifyTokens).Put([]byte(tokenHash), data)
	})
}

// ConsumeVerificationToken deletes the token and returns its email.
// Returns "" for an unknown or expired token. Read and delete happen in
// one transaction, so a token can be consumed at most once.
func (s *Store) ConsumeVerificationToken(tokenHash string) (string, error) {
	var email string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVerifyTokens)
		v := b.Get([]byte(tokenHash))
		if v == nil {
			return nil
		}
		if err := b.Delete([]byte(tokenHash)); err != nil {
			return err
		}
		var token verificationToken
		if err := json.Unmarshal(v, &token); err != nil {
			return fmt.Errorf("unmarshal verification token: %w", err)
		}
		if time.Now().After(token.ExpiresAt) {
			return nil
		}
		email = token.Email
		return nil
	})
	return email, err
}

// DeleteExpiredVerificationTokens removes tokens past their expiry and
// returns how many were deleted.
func (s *Store) DeleteExpiredVerificationTokens() (int, error) {
	now := time.Now()
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVerifyTokens)
		c := b.Cursor()

		var expired [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var token verificationToken
			if err := json.Unmarshal(v, &token); err != nil {
				continue
			}
			if now.After(token.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
