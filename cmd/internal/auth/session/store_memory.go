package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Record
	byUser map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Record),
		byUser: make(map[string][]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

func (s *MemoryStore) insertLocked(rec Record) error {
	if _, ok := s.byID[rec.ID]; ok {
		return fmt.Errorf("session: duplicate id %s", rec.ID)
	}
	s.byID[rec.ID] = rec.clone()
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.ID)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrTokenNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) RevokeIfActive(_ context.Context, id string, now time.Time, reason RevocationReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, ErrTokenNotFound
	}
	if rec.RevokedAt != nil {
		return false, nil
	}
	s.revokeLocked(rec, now, reason, nil)
	return true, nil
}

func (s *MemoryStore) Rotate(_ context.Context, oldID string, next Record, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return ErrTokenNotFound
	}
	if old.RevokedAt != nil {
		return ErrRotationConflict
	}
	if err := s.insertLocked(next); err != nil {
		return err
	}
	id := next.ID
	s.revokeLocked(old, now, ReasonRotated, &id)
	return nil
}

func (s *MemoryStore) RevokeAllActiveForUser(_ context.Context, userID string, now time.Time, reason RevocationReason) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.byUser[userID] {
		rec := s.byID[id]
		if rec.RevokedAt != nil {
			continue
		}
		s.revokeLocked(rec, now, reason, nil)
		n++
	}
	return n, nil
}

func (s *MemoryStore) revokeLocked(rec Record, now time.Time, reason RevocationReason, replacedBy *string) {
	t := now
	rec.RevokedAt = &t
	rec.RevocationReason = reason
	rec.ReplacedByID = replacedBy
	s.byID[rec.ID] = rec
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
