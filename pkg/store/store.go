// Package store holds the client-side conversation state: threads, their
// messages, and the pending-to-real id mapping that keeps streaming events
// addressed to provisional ids landing in the right thread.
package store

import (
	"sync"
	"time"

	"github.com/strandtui/strand/pkg/observability"
)

// Store is the authoritative in-memory cache for threads and messages.
// Mutations come from a single dispatcher goroutine; the lock exists so the
// debug sidecar and renderer can take consistent snapshots.
type Store struct {
	mu sync.RWMutex

	threads  map[string]*Thread
	messages map[string][]*Message

	// Thread ids, most recently used first.
	order []string

	// Provisional id to backend id. Append-only; late events addressed to a
	// retired pending id resolve through it for the life of the process.
	pendingToReal map[string]string

	// Inline errors per thread, shown as banners.
	errors map[string][]ErrorInfo

	lastAccessed map[string]time.Time

	log *observability.Logger
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		threads:       make(map[string]*Thread),
		messages:      make(map[string][]*Message),
		pendingToReal: make(map[string]string),
		errors:        make(map[string][]ErrorInfo),
		lastAccessed:  make(map[string]time.Time),
		log:           observability.NewLogger("store"),
	}
}

// resolve follows the pending-to-real mapping one hop. Unknown ids map to
// themselves.
func (s *Store) resolve(threadID string) string {
	if real, ok := s.pendingToReal[threadID]; ok {
		return real
	}
	return threadID
}

// ResolveThreadID is the exported form of resolve for callers outside the
// mutation path.
func (s *Store) ResolveThreadID(threadID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolve(threadID)
}

// Threads returns all threads in MRU order. Entries are copies; callers never
// hold references into the store.
func (s *Store) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Thread, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.threads[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Thread returns a copy of the thread, resolving pending ids.
func (s *Store) Thread(threadID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[s.resolve(threadID)]
	if !ok {
		return Thread{}, false
	}
	return *t, true
}

// ThreadCount returns the number of cached threads.
func (s *Store) ThreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Messages returns copies of a thread's messages in order, resolving pending
// ids. Nil when the thread has no messages.
func (s *Store) Messages(threadID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[s.resolve(threadID)]
	if !ok {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

// UpsertThread adds or replaces a thread and promotes it to MRU front.
func (s *Store) UpsertThread(thread Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(thread)
}

func (s *Store) upsertLocked(thread Thread) {
	id := thread.ID
	s.promoteLocked(id)
	s.lastAccessed[id] = time.Now()
	t := thread
	s.threads[id] = &t
}

// promoteLocked moves id to the front of the MRU order, inserting if absent.
func (s *Store) promoteLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append([]string{id}, s.order...)
}

// TouchThread refreshes a thread's access time and moves it to MRU front.
// Called on every thread open.
func (s *Store) TouchThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	if _, ok := s.threads[id]; !ok {
		return
	}
	s.lastAccessed[id] = time.Now()
	s.promoteLocked(id)
}

// CreatePendingThread optimistically creates a thread before the backend has
// confirmed it. Inserts the user message and a streaming assistant
// placeholder, and returns the provisional thread id.
func (s *Store) CreatePendingThread(prompt string, kind ThreadKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadID := NewPendingThreadID()
	now := time.Now().UTC()

	s.upsertLocked(Thread{
		ID:        threadID,
		Title:     TitleFromPrompt(prompt),
		Preview:   prompt,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	})

	s.messages[threadID] = []*Message{
		{
			ID:        1,
			ThreadID:  threadID,
			Role:      RoleUser,
			Content:   prompt,
			CreatedAt: now,
		},
		{
			// Real id arrives with the completion event.
			ID:        0,
			ThreadID:  threadID,
			Role:      RoleAssistant,
			CreatedAt: now,
			Streaming: true,
		},
	}

	return threadID
}

// AddStreamingMessage appends a follow-up user message and a fresh streaming
// assistant placeholder to an existing thread. Returns false when the thread
// does not exist.
func (s *Store) AddStreamingMessage(threadID, prompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	thread, ok := s.threads[id]
	if !ok {
		return false
	}

	now := time.Now().UTC()
	nextID := int64(len(s.messages[id]) + 1)

	s.messages[id] = append(s.messages[id],
		&Message{
			ID:        nextID,
			ThreadID:  id,
			Role:      RoleUser,
			Content:   prompt,
			CreatedAt: now,
		},
		&Message{
			ID:        0,
			ThreadID:  id,
			Role:      RoleAssistant,
			CreatedAt: now,
			Streaming: true,
		},
	)

	thread.Preview = prompt
	thread.UpdatedAt = now
	s.promoteLocked(id)
	s.lastAccessed[id] = now

	return true
}

// AppendToken applies a streamed content chunk. The thread id may be a stale
// pending id; events addressed to unknown threads are ignored, a thread with
// no streaming message gets one created on demand.
func (s *Store) AppendToken(threadID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	if _, ok := s.threads[id]; !ok {
		return
	}

	if msg := lastStreaming(s.messages[id]); msg != nil {
		msg.AppendToken(token)
		observability.TokensAppended.Inc()
		return
	}

	msg := &Message{
		ID:        0,
		ThreadID:  id,
		Role:      RoleAssistant,
		CreatedAt: time.Now().UTC(),
		Streaming: true,
	}
	msg.AppendToken(token)
	s.messages[id] = append(s.messages[id], msg)
	observability.TokensAppended.Inc()
}

// FinalizeMessage assigns the backend message id to the streaming message and
// promotes its partial content. Stale or unknown ids are ignored.
func (s *Store) FinalizeMessage(threadID string, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	if msg := lastStreaming(s.messages[id]); msg != nil {
		msg.ID = messageID
		msg.Finalize()
	}
}

// CancelStreaming ends the streaming message without a backend id, marking
// the content so the user can see the response was cut short.
func (s *Store) CancelStreaming(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)
	msg := lastStreaming(s.messages[id])
	if msg == nil {
		return
	}
	msg.Streaming = false
	if msg.ID == 0 {
		msg.ID = -1
	}
	switch {
	case msg.Partial != "":
		msg.Content = msg.Partial + "\n\n[Cancelled]"
		msg.Partial = ""
	case msg.Content != "":
		msg.Content += "\n\n[Cancelled]"
	default:
		msg.Content = "[Cancelled]"
	}
	msg.RenderVersion++
}

// IsThreadStreaming reports whether the thread has an active streaming
// message.
func (s *Store) IsThreadStreaming(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastStreaming(s.messages[s.resolve(threadID)]) != nil
}

// SetMessages replaces a thread's messages with a backend snapshot, keeping
// local in-flight messages the backend does not know about yet: streaming
// placeholders, id 0 messages, and messages newer than the snapshot's max id.
func (s *Store) SetMessages(threadID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(threadID)

	var maxBackendID int64
	incoming := make([]*Message, len(msgs))
	for i := range msgs {
		m := msgs[i]
		m.ThreadID = id
		incoming[i] = &m
		if m.ID > maxBackendID {
			maxBackendID = m.ID
		}
	}

	for _, m := range s.messages[id] {
		if m.Streaming || m.ID == 0 || m.ID > maxBackendID {
			incoming = append(incoming, m)
		}
	}

	s.messages[id] = incoming
}

// UpdateThreadMetadata updates title and other mutable thread fields,
// resolving pending ids. Returns false when the thread does not exist.
func (s *Store) UpdateThreadMetadata(threadID string, update ThreadUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[s.resolve(threadID)]
	if !ok {
		return false
	}
	if update.Title != nil {
		thread.Title = *update.Title
	}
	if update.Preview != nil {
		thread.Preview = *update.Preview
	}
	if update.Model != nil {
		thread.Model = *update.Model
	}
	if update.PermissionMode != nil {
		thread.PermissionMode = *update.PermissionMode
	}
	thread.UpdatedAt = time.Now().UTC()
	return true
}

// ThreadUpdate carries optional thread metadata changes. Nil fields are left
// untouched.
type ThreadUpdate struct {
	Title          *string
	Preview        *string
	Model          *string
	PermissionMode *string
}

// Clear drops all cached state. The pending-to-real mapping survives so late
// events from a previous session still resolve.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = make(map[string]*Thread)
	s.messages = make(map[string][]*Message)
	s.order = nil
	s.errors = make(map[string][]ErrorInfo)
	s.lastAccessed = make(map[string]time.Time)
}

func lastStreaming(msgs []*Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Streaming {
			return msgs[i]
		}
	}
	return nil
}
