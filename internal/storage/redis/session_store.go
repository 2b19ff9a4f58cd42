package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/chronos/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	upsert *redis.Script
	delete *redis.Script
}

func newSessionStore(client *redis.Client) *sessionStore {
	return &sessionStore{
		client: client,
		upsert: redis.NewScript(upsertSessionScript),
		delete: redis.NewScript(deleteSessionScript),
	}
}

// UpsertSession records the running session of a user
func (s *sessionStore) UpsertSession(ctx context.Context, session storage.Session) error {
	keys := []string{fmt.Sprintf(sessionPattern, session.UserID), activeSessions}
	args := []interface{}{
		session.ID,
		session.UserID,
		session.StartTime.Format(time.RFC3339Nano),
		session.EstimatedRemainingSeconds,
	}

	return s.upsert.Run(ctx, s.client, keys, args...).Err()
}

// DeleteSession removes the session of a user
func (s *sessionStore) DeleteSession(ctx context.Context, userID string) error {
	keys := []string{fmt.Sprintf(sessionPattern, userID), activeSessions}

	removed, err := s.delete.Run(ctx, s.client, keys, userID).Int64()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetSession retrieves the session of a user
func (s *sessionStore) GetSession(ctx context.Context, userID string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf(sessionPattern, userID)).Result()
	if err != nil {
		return nil, err
	}

	return parseSession(data)
}

// ListActiveSessions returns all recorded sessions ordered by user
func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.Session, error) {
	userIDs, err := s.client.SMembers(ctx, activeSessions).Result()
	if err != nil {
		return nil, err
	}

	if len(userIDs) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))

	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(sessionPattern, id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(userIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}
