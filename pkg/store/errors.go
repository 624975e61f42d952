package store

import (
	"time"

	"github.com/google/uuid"
)

// ErrorInfo is an inline error banner attached to a thread.
type ErrorInfo struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AddError attaches an error banner to a thread, resolving pending ids.
func (s *Store) AddError(threadID, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	s.errors[id] = append(s.errors[id], ErrorInfo{
		ID:        uuid.NewString(),
		Code:      code,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

// Errors returns copies of a thread's error banners.
func (s *Store) Errors(threadID string) []ErrorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	errs := s.errors[s.resolve(threadID)]
	if len(errs) == 0 {
		return nil
	}
	out := make([]ErrorInfo, len(errs))
	copy(out, errs)
	return out
}

// DismissError removes one error banner by id. Returns false when not found.
func (s *Store) DismissError(threadID, errorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	errs := s.errors[id]
	for i, e := range errs {
		if e.ID == errorID {
			s.errors[id] = append(errs[:i], errs[i+1:]...)
			return true
		}
	}
	return false
}

// ClearErrors drops all error banners for a thread.
func (s *Store) ClearErrors(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, s.resolve(threadID))
}
