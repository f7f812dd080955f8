package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/agentrelay/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, testPoolConfig(), manager.config)

	_, err = NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(ctx))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_GetStats(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	stats := manager.GetStats()
	assert.Equal(t, 10, stats.MaxOpenConnections)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	assert.NoError(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	attempts := 0
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		return errors.New("duplicate key")
	})
	assert.EqualError(t, err, "duplicate key")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckLoopStops(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 20; i++ {
		mock.ExpectPing()
	}

	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	manager, err := NewPoolManager(gormDB, cfg, nil)
	require.NoError(t, err)

	time.Sleep(35 * time.Millisecond)
	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, false},
		{"zero open", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"zero idle", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle exceeds open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{Driver: "postgres", MaxOpenConns: 40, MaxIdleConns: 8, ConnMaxLifetime: time.Hour})
	assert.Equal(t, 40, pc.MaxOpenConns)
	assert.Equal(t, 8, pc.MaxIdleConns)
	assert.Equal(t, time.Hour, pc.ConnMaxLifetime)
	assert.NoError(t, pc.Validate())

	lite := PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", MaxOpenConns: 40})
	assert.Equal(t, 1, lite.MaxOpenConns)
	assert.Equal(t, 1, lite.MaxIdleConns)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Host: "db", Port: 1, Name: "relay"})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	d, err := Dialector(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = Dialector(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
	_, err = Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(context.Background()))
	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.True(t, isRetryableError(errors.New("pq: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
}
