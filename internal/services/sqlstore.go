package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// SQLStore implements the session store on top of gorm. It is used with the pure-Go sqlite driver
// by default, but works with any dialector gorm supports.
type SQLStore struct {
	db *gorm.DB
}

type sessionRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null"`
	Kind      string    `gorm:"type:varchar(32);index;not null"`
	Active    bool      `gorm:"index;not null"`
	CreatedAt time.Time
}

func (sessionRecord) TableName() string { return "ask_sessions" }

type messageRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	SessionID string    `gorm:"type:varchar(26);index;not null"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (messageRecord) TableName() string { return "ask_messages" }

// OpenSQLite opens (or creates) a sqlite database at dsn and migrates the store's tables.
func OpenSQLite(dsn string) (SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return SQLStore{}, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore migrates the store's tables on db and returns the store.
func NewSQLStore(db *gorm.DB) (SQLStore, error) {
	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}); err != nil {
		return SQLStore{}, fmt.Errorf("failed to migrate: %w", err)
	}
	return SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreateActive returns the active session of kind, creating one when there is none.
func (s SQLStore) GetOrCreateActive(ctx context.Context, kind string) (string, error) {
	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		err := tx.Where("kind = ? AND active = ?", kind, true).
			Order("id DESC").
			First(&rec).Error
		if err == nil {
			id = rec.SessionID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		rec = sessionRecord{
			SessionID: newULID(),
			Kind:      kind,
			Active:    true,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		id = rec.SessionID
		return nil
	})
	return id, err
}

// CloseActive deactivates every active session of kind.
func (s SQLStore) CloseActive(ctx context.Context, kind string) error {
	return s.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("kind = ? AND active = ?", kind, true).
		Update("active", false).Error
}

// Sessions returns all sessions, newest first.
func (s SQLStore) Sessions(ctx context.Context) ([]models.Session, error) {
	var recs []sessionRecord
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	sessions := make([]models.Session, len(recs))
	for i, rec := range recs {
		sessions[i] = models.Session{
			ID:        rec.SessionID,
			Kind:      rec.Kind,
			Active:    rec.Active,
			CreatedAt: rec.CreatedAt,
		}
	}
	return sessions, nil
}

// Messages returns the messages of a session in insertion order.
func (s SQLStore) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var recs []messageRecord
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	messages := make([]models.Message, len(recs))
	for i, rec := range recs {
		messages[i] = models.Message{
			ID:        rec.MessageID,
			SessionID: rec.SessionID,
			Role:      models.Role(rec.Role),
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		}
	}
	return messages, nil
}

// AddMessage inserts message into the session and returns its ID.
func (s SQLStore) AddMessage(ctx context.Context, sessionID string, message models.Message) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if message.ID == "" {
		message.ID = newULID()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	rec := messageRecord{
		MessageID: message.ID,
		SessionID: sessionID,
		Role:      string(message.Role),
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return rec.MessageID, nil
}
