package store

import "github.com/strandtui/strand/pkg/observability"

// ReconcileThreadID migrates a provisionally-created thread to the id the
// backend assigned. The thread, its messages (each with its back-reference
// rewritten), and its error banners all move from the pending key to the real
// key, and the mapping is recorded so streaming events still addressed to the
// pending id keep landing in the right thread.
//
// When the backend adopted the client id unchanged this reduces to a title
// update.
func (s *Store) ReconcileThreadID(pendingID, realID string, title *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pendingID == realID {
		if title != nil {
			if thread, ok := s.threads[pendingID]; ok {
				thread.Title = *title
			}
		}
		return
	}

	if thread, ok := s.threads[pendingID]; ok {
		delete(s.threads, pendingID)
		thread.ID = realID
		if title != nil {
			thread.Title = *title
		}
		s.threads[realID] = thread
	}

	// Rewrite the id in place; the thread keeps its MRU position.
	for i, id := range s.order {
		if id == pendingID {
			s.order[i] = realID
			break
		}
	}

	if msgs, ok := s.messages[pendingID]; ok {
		delete(s.messages, pendingID)
		for _, m := range msgs {
			m.ThreadID = realID
		}
		s.messages[realID] = msgs
	}

	if errs, ok := s.errors[pendingID]; ok {
		delete(s.errors, pendingID)
		s.errors[realID] = errs
	}

	if at, ok := s.lastAccessed[pendingID]; ok {
		delete(s.lastAccessed, pendingID)
		s.lastAccessed[realID] = at
	}

	s.pendingToReal[pendingID] = realID

	observability.ThreadsReconciled.Inc()
	s.log.ThreadReconciled(pendingID, realID)
}
