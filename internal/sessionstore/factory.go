package sessionstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/cache"
	"github.com/BaSui01/agentrelay/internal/database"
)

// New builds the store selected by cfg.SessionStore.Type. An empty type
// falls back to memory.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := cfg.SessionStore

	switch sc.Type {
	case "", config.StoreMemory:
		return NewMemoryStore(sc.TTL), nil

	case config.StoreRedis:
		m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis, sc.TTL), logger)
		if err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		return NewRedisStore(m, sc.KeyPrefix, sc.TTL), nil

	case config.StoreDatabase:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database session store: %w", err)
		}
		var opts []SQLOption
		if cfg.Database.Driver == "sqlite" {
			opts = append(opts, WithAutoMigrate())
		}
		s, err := NewSQLStore(ctx, pool, sc.TTL, opts...)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return s, nil

	case config.StoreMongo:
		return NewMongoStore(ctx, cfg.Mongo, sc.TTL, logger)

	default:
		return nil, fmt.Errorf("unknown session store type: %q", sc.Type)
	}
}
