package session

import (
	"context"
	"sort"
	"sync"
)

type conversation struct {
	messages []Message
	title    string
	seq      uint64
}

// MemoryStore is a process-local Store. Its contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*conversation
	seq      uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*conversation),
	}
}

// Get returns a copy of the session's messages
func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return []Message{}, nil
	}
	messages := make([]Message, len(conv.messages))
	copy(messages, conv.messages)
	return messages, nil
}

// Append stores the exchange, creating the session if needed
func (s *MemoryStore) Append(_ context.Context, sessionID string, user, assistant Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		s.seq++
		conv = &conversation{seq: s.seq}
		s.sessions[sessionID] = conv
	}
	first := len(conv.messages) == 0
	conv.messages = append(conv.messages, user, assistant)
	return first, nil
}

// SetTitle sets the title if the session exists
func (s *MemoryStore) SetTitle(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.sessions[sessionID]; ok {
		conv.title = title
	}
	return nil
}

// ListTitled returns every session, newest first
func (s *MemoryStore) ListTitled(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	type entry struct {
		id  string
		seq uint64
		t   string
	}
	entries := make([]entry, 0, len(s.sessions))
	for id, conv := range s.sessions {
		entries = append(entries, entry{id: id, seq: conv.seq, t: conv.title})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	summaries := make([]Summary, len(entries))
	for i, e := range entries {
		title := e.t
		if title == "" {
			title = DefaultTitle
		}
		summaries[i] = Summary{ID: e.id, Title: title}
	}
	return summaries, nil
}

// Delete removes the session
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
