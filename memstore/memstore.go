// Package memstore is an in-memory authcore.UserStore for tests,
// examples, and prototypes. Production deployments implement the
// interface over their own database.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/auxmon/authcore"
)

// Store keeps users and one-time token records in maps under a single
// mutex. Values are copied on the way in and out, so callers never
// share memory with the store.
type Store struct {
	mu            sync.Mutex
	usersByID     map[string]authcore.User
	idByEmail     map[string]string
	verifications map[string]authcore.VerificationRecord
	resets        map[string]authcore.ResetRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{
		usersByID:     make(map[string]authcore.User),
		idByEmail:     make(map[string]string),
		verifications: make(map[string]authcore.VerificationRecord),
		resets:        make(map[string]authcore.ResetRecord),
	}
}

func copyUser(u authcore.User) *authcore.User {
	out := u
	out.Roles = append([]string(nil), u.Roles...)
	return &out
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	u := s.usersByID[id]
	return copyUser(u), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, user *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.idByEmail[email]; exists {
		return authcore.ErrDuplicateEmail
	}
	s.usersByID[user.ID] = *copyUser(*user)
	s.idByEmail[email] = user.ID
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[user.ID]; !ok {
		return fmt.Errorf("memstore: user %s not found", user.ID)
	}
	s.usersByID[user.ID] = *copyUser(*user)
	return nil
}

func (s *Store) CreateVerification(_ context.Context, rec *authcore.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[rec.Token] = *rec
	return nil
}

func (s *Store) FindAndDeleteVerification(_ context.Context, tokenStr string) (*authcore.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.verifications[tokenStr]
	if !ok {
		return nil, nil
	}
	delete(s.verifications, tokenStr)
	return &rec, nil
}

func (s *Store) CreateReset(_ context.Context, rec *authcore.ResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[rec.Token] = *rec
	return nil
}

func (s *Store) FindAndDeleteReset(_ context.Context, tokenStr string) (*authcore.ResetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resets[tokenStr]
	if !ok {
		return nil, nil
	}
	delete(s.resets, tokenStr)
	return &rec, nil
}
