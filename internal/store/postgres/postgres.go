// Package postgres stores session documents as JSONB rows through gorm.
// Votes and chat messages live in append-only side tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/store"
)

const uniqueViolation = "23505"

type sessionRecord struct {
	SessionKey string `gorm:"primaryKey;size:16"`
	Name       string `gorm:"not null"`
	Status     string `gorm:"index;not null"`
	Phase      string `gorm:"not null"`
	Round      int    `gorm:"not null"`
	Version    int    `gorm:"not null"`
	Document   []byte `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (sessionRecord) TableName() string { return "game_sessions" }

type voteRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SessionKey string `gorm:"index;size:16;not null"`
	VoterID    string `gorm:"not null"`
	TargetID   *string
	Round      int `gorm:"not null"`
	CreatedAt  time.Time
}

func (voteRecord) TableName() string { return "game_votes" }

type channelRecord struct {
	SessionKey string `gorm:"primaryKey;size:16"`
	Channel    string `gorm:"primaryKey;size:16"`
	CreatedAt  time.Time
}

func (channelRecord) TableName() string { return "chat_channels" }

type messageRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	SessionKey string `gorm:"index:idx_chat_channel;size:16;not null"`
	Channel    string `gorm:"index:idx_chat_channel;size:16;not null"`
	AuthorID   string `gorm:"not null"`
	AuthorName string `gorm:"not null"`
	Text       string `gorm:"not null"`
	CreatedAt  time.Time
}

func (messageRecord) TableName() string { return "chat_messages" }

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}, &voteRecord{}, &channelRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("postgres store ready")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(sess engine.Session) (sessionRecord, error) {
	doc, err := json.Marshal(sess)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("marshal session: %w", err)
	}
	return sessionRecord{
		SessionKey: sess.Key,
		Name:       sess.Name,
		Status:     string(sess.Status),
		Phase:      string(sess.Phase),
		Round:      sess.Round,
		Version:    sess.Version,
		Document:   doc,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session) error {
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, key string) (engine.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).Where("session_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Session{}, store.ErrNotFound
	}
	if err != nil {
		return engine.Session{}, fmt.Errorf("load session: %w", err)
	}

	var sess engine.Session
	if err := json.Unmarshal(rec.Document, &sess); err != nil {
		return engine.Session{}, fmt.Errorf("unmarshal session %s: %w", key, err)
	}
	return sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess engine.Session, prevVersion int, c store.Commit) error {
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRecord{}).
			Where("session_key = ? AND version = ?", sess.Key, prevVersion).
			Updates(map[string]any{
				"status":     rec.Status,
				"phase":      rec.Phase,
				"round":      rec.Round,
				"version":    rec.Version,
				"document":   rec.Document,
				"updated_at": rec.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&sessionRecord{}).Where("session_key = ?", sess.Key).Count(&n).Error; err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if n == 0 {
				return store.ErrNotFound
			}
			return store.ErrVersionConflict
		}

		if err := openChannels(tx, sess.Key, c.Channels, rec.UpdatedAt); err != nil {
			return err
		}
		if len(c.Votes) == 0 {
			return nil
		}
		records := make([]voteRecord, 0, len(c.Votes))
		for _, v := range c.Votes {
			r := voteRecord{SessionKey: sess.Key, VoterID: v.VoterID, Round: v.Round, CreatedAt: v.CreatedAt}
			if !v.IsSkip() {
				target := v.TargetID
				r.TargetID = &target
			}
			records = append(records, r)
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("append votes: %w", err)
		}
		return nil
	})
}

func (s *Store) ListVotes(ctx context.Context, key string) ([]engine.Vote, error) {
	if err := s.requireSession(ctx, key); err != nil {
		return nil, err
	}

	var records []voteRecord
	if err := s.db.WithContext(ctx).Where("session_key = ?", key).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	votes := make([]engine.Vote, 0, len(records))
	for _, r := range records {
		v := engine.Vote{VoterID: r.VoterID, Round: r.Round, CreatedAt: r.CreatedAt}
		if r.TargetID != nil {
			v.TargetID = *r.TargetID
		}
		votes = append(votes, v)
	}
	return votes, nil
}

func openChannels(tx *gorm.DB, key string, channels []engine.Channel, at time.Time) error {
	if len(channels) == 0 {
		return nil
	}
	records := make([]channelRecord, 0, len(channels))
	for _, ch := range channels {
		records = append(records, channelRecord{SessionKey: key, Channel: string(ch), CreatedAt: at})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error; err != nil {
		return fmt.Errorf("open channels: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg engine.ChatMessage) error {
	if err := s.requireChannel(ctx, msg.SessionKey, msg.Channel); err != nil {
		return err
	}
	rec := messageRecord{
		ID:         msg.ID,
		SessionKey: msg.SessionKey,
		Channel:    string(msg.Channel),
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, key string, ch engine.Channel) ([]engine.ChatMessage, error) {
	if err := s.requireChannel(ctx, key, ch); err != nil {
		return nil, err
	}

	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("session_key = ? AND channel = ?", key, string(ch)).
		Order("created_at, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]engine.ChatMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, engine.ChatMessage{
			ID:         r.ID,
			SessionKey: r.SessionKey,
			Channel:    engine.Channel(r.Channel),
			AuthorID:   r.AuthorID,
			AuthorName: r.AuthorName,
			Text:       r.Text,
			CreatedAt:  r.CreatedAt,
		})
	}
	return msgs, nil
}

func (s *Store) requireSession(ctx context.Context, key string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("session_key = ?", key).Count(&n).Error; err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) requireChannel(ctx context.Context, key string, ch engine.Channel) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&channelRecord{}).
		Where("session_key = ? AND channel = ?", key, string(ch)).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("check channel: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
