package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"passgate/internal/auth"
)

func emailIndexKey(email string) []byte {
	return []byte("idx::email::" + email)
}

// CreateUser persists a new user and its email index atomically.
// Returns an error if the email is already registered.
func (s *Store) CreateUser(user auth.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		if existing := b.Get(emailIndexKey(user.Email)); existing != nil {
			return fmt.Errorf("email %q already registered", user.Email)
		}

		if err := b.Put([]byte(user.ID), data); err != nil {
			return err
		}
		return b.Put(emailIndexKey(user.Email), []byte(user.ID))
	})
}

// GetUser retrieves a user by ID. Returns nil, nil when absent.
func (s *Store) GetUser(id string) (*auth.User, error) {
	var user *auth.User
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUsers).Get([]byte(id))
		if v == nil {
			return nil
		}
		user = new(auth.User)
		return json.Unmarshal(v, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email. Returns nil, nil when absent.
func (s *Store) GetUserByEmail(email string) (*auth.User, error) {
	var user *auth.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		idBytes := b.Get(emailIndexKey(email))
		if idBytes == nil {
			return nil
		}
		v := b.Get(idBytes)
		if v == nil {
			return fmt.Errorf("email index for %q is orphaned", email)
		}
		user = new(auth.User)
		return json.Unmarshal(v, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser updates an existing user record. If the email has changed,
// the secondary index is rotated atomically.
func (s *Store) UpdateUser(user auth.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		existing := b.Get([]byte(user.ID))
		if existing == nil {
			return fmt.Errorf("user %q not found", user.ID)
		}

		var old auth.User
		if err := json.Unmarshal(existing, &old); err != nil {
			return fmt.Errorf("unmarshal existing user: %w", err)
		}

		if old.Email != user.Email {
			if v := b.Get(emailIndexKey(user.Email)); v != nil {
				return fmt.Errorf("email %q already registered", user.Email)
			}
			if err := b.Delete(emailIndexKey(old.Email)); err != nil {
				return err
			}
			if err := b.Put(emailIndexKey(user.Email), []byte(user.ID)); err != nil {
				return err
			}
		}

		return b.Put([]byte(user.ID), data)
	})
}

// UserCount returns the number of users, excluding index keys.
func (s *Store) UserCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUsers).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !isIndexKey(k) {
				count++
			}
		}
		return nil
	})
	return count, err
}
