package bolt

import (
	"context"
	"sort"

	"github.com/goodtune/chronos/internal/storage"
	"go.etcd.io/bbolt"
)

type documentStore struct {
	db *bbolt.DB
}

func (d *documentStore) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		value := tx.Bucket([]byte(bucketDocuments)).Get([]byte(name))
		if value == nil {
			return storage.ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		data = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *documentStore) Save(ctx context.Context, name string, data []byte) error {
	return putBucketBytes(ctx, d.db, bucketDocuments, name, data)
}

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) UpsertSession(ctx context.Context, session storage.Session) error {
	return putBucketValue(ctx, s.db, bucketSessions, session.UserID, session)
}

func (s *sessionStore) DeleteSession(ctx context.Context, userID string) error {
	return deleteBucketValue(ctx, s.db, bucketSessions, userID)
}

func (s *sessionStore) GetSession(ctx context.Context, userID string) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, userID)
}

func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.Session, error) {
	sessions, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}
