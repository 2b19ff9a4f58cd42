package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DocumentSessions is a SessionStore kept as a single "sessions" document,
// for backends that only know how to store whole documents.
type DocumentSessions struct {
	docs DocumentStore
	mu   sync.Mutex
}

const documentSessions = "sessions"

// NewDocumentSessions creates a session store on top of docs.
func NewDocumentSessions(docs DocumentStore) *DocumentSessions {
	return &DocumentSessions{docs: docs}
}

// UpsertSession records session as active.
func (s *DocumentSessions) UpsertSession(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return err
	}
	sessions[session.UserID] = session
	return s.save(ctx, sessions)
}

// DeleteSession removes the session of userID.
func (s *DocumentSessions) DeleteSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := sessions[userID]; !ok {
		return ErrNotFound
	}
	delete(sessions, userID)
	return s.save(ctx, sessions)
}

// GetSession returns the session of userID.
func (s *DocumentSessions) GetSession(ctx context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	session, ok := sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

// ListActiveSessions returns all recorded sessions ordered by user id.
func (s *DocumentSessions) ListActiveSessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *DocumentSessions) load(ctx context.Context) (map[string]Session, error) {
	data, err := s.docs.Load(ctx, documentSessions)
	if errors.Is(err, ErrNotFound) {
		return map[string]Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	sessions := map[string]Session{}
	if err := decode(data, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *DocumentSessions) save(ctx context.Context, sessions map[string]Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return s.docs.Save(ctx, documentSessions, data)
}
