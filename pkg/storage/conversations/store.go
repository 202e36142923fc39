// Package conversations is the SQL-backed conversation store, for
// deployments where agent history must survive restarts.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sdlcsquad/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config mirrors the storage configuration for the conversations table.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Agent     string    `gorm:"column:agent;size:64;not null;index:idx_conversation"`
	SessionID string    `gorm:"column:session_id;size:128;not null;index:idx_conversation"`
	Role      string    `gorm:"column:role;size:32;not null"`
	Content   string    `gorm:"column:content;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Open creates a GORM-backed conversation store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		return nil, errors.New("storage driver is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "sdlcsquad_conversations"
	}
	store := &Store{
		db:    gormDB,
		table: table,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendMessage inserts one conversation record.
func (s *Store) AppendMessage(ctx context.Context, record storage.ConversationRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.Agent == "" || record.SessionID == "" {
		return errors.New("agent and session id are required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	data := row{
		Agent:     record.Agent,
		SessionID: record.SessionID,
		Role:      record.Role,
		Content:   record.Content,
		CreatedAt: record.CreatedAt,
	}
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// History returns the most recent limit records in append order.
func (s *Store) History(ctx context.Context, agent, sessionID string, limit int) ([]storage.ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	query := s.tableDB().
		WithContext(ctx).
		Where("agent = ? AND session_id = ?", agent, sessionID).
		Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var data []row
	if err := query.Find(&data).Error; err != nil {
		return nil, err
	}

	records := make([]storage.ConversationRecord, len(data))
	for i, item := range data {
		// Reverse the desc scan back into append order.
		records[len(data)-1-i] = storage.ConversationRecord{
			Agent:     item.Agent,
			SessionID: item.SessionID,
			Role:      item.Role,
			Content:   item.Content,
			CreatedAt: item.CreatedAt,
		}
	}
	return records, nil
}

// Clear deletes a conversation.
func (s *Store) Clear(ctx context.Context, agent, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.tableDB().
		WithContext(ctx).
		Where("agent = ? AND session_id = ?", agent, sessionID).
		Delete(&row{}).Error
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
