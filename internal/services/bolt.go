package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the session store using a BoltDB backend. Sessions live in one bucket, the
// active session of every kind in another, and each session's messages in a bucket of their own,
// keyed by a sequence number so they read back in insertion order.
type BoltDB struct {
	db *bolt.DB
}

var (
	sessionsBucket = []byte("sessions")
	activeBucket   = []byte("active")
)

// ErrSessionNotFound is returned when a message is added to a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

// NewBoltDB opens the database at path, creating it with 0600 permissions if it doesn't exist,
// and makes sure the top-level buckets are present.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, activeBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID returns an ID that sorts after every ID this process generated before, even within the
// same millisecond.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// GetOrCreateActive returns the ID of the active session of the given kind, creating one in the
// same transaction when there is none.
func (b BoltDB) GetOrCreateActive(_ context.Context, kind string) (string, error) {
	var id string
	err := b.db.Update(func(tx *bolt.Tx) error {
		active := tx.Bucket(activeBucket)
		if v := active.Get([]byte(kind)); v != nil {
			id = string(v)
			return nil
		}

		session := models.Session{
			ID:        newULID(),
			Kind:      kind,
			Active:    true,
			CreatedAt: time.Now(),
		}
		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		if err := tx.Bucket(sessionsBucket).Put([]byte(session.ID), v); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(session.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		id = session.ID
		return active.Put([]byte(kind), []byte(session.ID))
	})

	return id, err
}

// CloseActive marks the active session of kind inactive. The next GetOrCreateActive starts a new
// one. It is a no-op when no session of that kind is active.
func (b BoltDB) CloseActive(_ context.Context, kind string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		active := tx.Bucket(activeBucket)
		id := active.Get([]byte(kind))
		if id == nil {
			return nil
		}

		sessions := tx.Bucket(sessionsBucket)
		if v := sessions.Get(id); v != nil {
			var session models.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			session.Active = false
			v, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("failed to marshal session: %w", err)
			}
			if err := sessions.Put(id, v); err != nil {
				return err
			}
		}

		return active.Delete([]byte(kind))
	})
}

// Sessions retrieves all sessions, newest first.
func (b BoltDB) Sessions(context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var session models.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// ULIDs sort by creation time.
	slices.Reverse(sessions)
	return sessions, nil
}

// Messages retrieves the messages of a session in the order they were added. An unknown session
// has no messages.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messageBucketName(sessionID))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends message to the session's bucket. The stored ID is prefixed with a
// zero-padded sequence number so keys iterate in insertion order; the new ID is returned.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messageBucketName(sessionID))
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", seq, message.ID)
		message.ID = newID
		message.SessionID = sessionID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bucket.Put([]byte(newID), v)
	})

	return newID, err
}
