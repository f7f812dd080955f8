package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentrelay/internal/database"
	"github.com/BaSui01/agentrelay/router"
)

// SessionRecord is one row of router_sessions.
type SessionRecord struct {
	SessionID     string     `gorm:"column:session_id;primaryKey;size:128"`
	ActiveAgentID string     `gorm:"column:active_agent_id;size:64;not null;index:idx_router_sessions_active_agent"`
	StackDepth    int        `gorm:"column:stack_depth;not null;default:0"`
	Snapshot      string     `gorm:"column:snapshot;type:text;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
	ExpiresAt     *time.Time `gorm:"column:expires_at;index:idx_router_sessions_expires_at"`
}

// TableName implements gorm's tabler.
func (SessionRecord) TableName() string {
	return "router_sessions"
}

// SQLStore persists snapshots in router_sessions through GORM.
type SQLStore struct {
	pool *database.PoolManager
	ttl  time.Duration
	now  func() time.Time
}

// SQLOption configures a SQLStore.
type SQLOption func(*sqlOptions)

type sqlOptions struct {
	autoMigrate bool
}

// WithAutoMigrate creates the table on construction. Used for sqlite, where
// the migrator does not run.
func WithAutoMigrate() SQLOption {
	return func(o *sqlOptions) { o.autoMigrate = true }
}

// NewSQLStore creates a store on an open pool. ttl <= 0 disables expiry.
func NewSQLStore(ctx context.Context, pool *database.PoolManager, ttl time.Duration, opts ...SQLOption) (*SQLStore, error) {
	var o sqlOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.autoMigrate {
		if err := pool.DB().WithContext(ctx).AutoMigrate(&SessionRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate router_sessions: %w", err)
		}
	}
	return &SQLStore{
		pool: pool,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Load returns the snapshot of sessionID unless it has expired.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (router.Snapshot, error) {
	var rec SessionRecord
	err := s.pool.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return router.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return router.Snapshot{}, fmt.Errorf("sql session store: load %s: %w", sessionID, err)
	}

	var snap router.Snapshot
	if err := json.Unmarshal([]byte(rec.Snapshot), &snap); err != nil {
		return router.Snapshot{}, fmt.Errorf("sql session store: decode %s: %w", sessionID, err)
	}
	return snap, nil
}

// Save upserts the snapshot.
func (s *SQLStore) Save(ctx context.Context, sessionID string, snap router.Snapshot) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sql session store: encode %s: %w", sessionID, err)
	}

	now := s.now()
	rec := SessionRecord{
		SessionID:     sessionID,
		ActiveAgentID: snap.ActiveAgentID,
		StackDepth:    len(snap.Stack),
		Snapshot:      string(data),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expiry(now, s.ttl),
	}
	err = s.pool.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active_agent_id", "stack_depth", "snapshot", "updated_at", "expires_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sql session store: save %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes sessionID.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	err := s.pool.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&SessionRecord{}).Error
	if err != nil {
		return fmt.Errorf("sql session store: delete %s: %w", sessionID, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int, error) {
	res := s.pool.DB().WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&SessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sql session store: purge: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		if errors.Is(err, database.ErrPoolClosed) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

// Close closes the pool.
func (s *SQLStore) Close() error {
	return s.pool.Close()
}
