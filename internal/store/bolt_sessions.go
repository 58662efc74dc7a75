package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"passgate/internal/auth"
)

func sessionUserIndexKey(userID, token string) []byte {
	return []byte("idx::user::" + userID + "::" + token)
}

func sessionUserIndexPrefix(userID string) []byte {
	return []byte("idx::user::" + userID + "::")
}

// CreateSession persists a session and its user index atomically.
func (s *Store) CreateSession(session auth.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if err := b.Put([]byte(session.Token), data); err != nil {
			return err
		}
		return b.Put(sessionUserIndexKey(session.UserID, session.Token), []byte(session.Token))
	})
}

// GetSession retrieves a session by token. Returns nil, nil when absent.
func (s *Store) GetSession(token string) (*auth.Session, error) {
	var session *auth.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(token))
		if v == nil {
			return nil
		}
		session = new(auth.Session)
		return json.Unmarshal(v, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session and its user index.
func (s *Store) DeleteSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		v := b.Get([]byte(token))
		if v == nil {
			return nil
		}
		var session auth.Session
		if err := json.Unmarshal(v, &session); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if err := b.Delete(sessionUserIndexKey(session.UserID, token)); err != nil {
			return err
		}
		return b.Delete([]byte(token))
	})
}

// DeleteSessionsForUser revokes every session belonging to the user.
func (s *Store) DeleteSessionsForUser(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		c := b.Cursor()
		prefix := sessionUserIndexPrefix(userID)

		var tokens [][]byte
		var indexes [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			tokens = append(tokens, append([]byte(nil), v...))
			indexes = append(indexes, append([]byte(nil), k...))
		}
		for i := range tokens {
			if err := b.Delete(tokens[i]); err != nil {
				return err
			}
			if err := b.Delete(indexes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions past their expiry and returns
// how many were deleted.
func (s *Store) DeleteExpiredSessions() (int, error) {
	now := time.Now()
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		c := b.Cursor()

		var expired []auth.Session
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if isIndexKey(k) {
				continue
			}
			var session auth.Session
			if err := json.Unmarshal(v, &session); err != nil {
				continue
			}
			if now.After(session.ExpiresAt) {
				expired = append(expired, session)
			}
		}
		for _, session := range expired {
			if err := b.Delete([]byte(session.Token)); err != nil {
				return err
			}
			if err := b.Delete(sessionUserIndexKey(session.UserID, session.Token)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// SessionCount returns the number of stored sessions, expired or not.
func (s *Store) SessionCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, _ []byte) error {
			if !isIndexKey(k) {
				count++
			}
			return nil
		})
	})
	return count, err
}
