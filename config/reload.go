// 配置文件热重载。
//
// 轮询配置文件的修改时间，变化后重新加载并校验，校验通过才替换当前配置
// 并通知回调。主要用于在不重启的情况下轮换 Agent 密钥。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 监听单个配置文件并在变更时重载
type Reloader struct {
	mu sync.RWMutex

	path     string
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	current   *Config
	lastMod   time.Time
	version   int
	callbacks []ReloadCallback

	running bool
	stop    chan struct{}
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithReloadInterval 设置轮询间隔
func WithReloadInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloaderLogger 设置日志器
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReloadEnvPrefix 设置重载时使用的环境变量前缀
func WithReloadEnvPrefix(prefix string) ReloaderOption {
	return func(r *Reloader) {
		r.loader.WithEnvPrefix(prefix)
	}
}

// NewReloader 创建重载器，initial 为已加载的配置
func NewReloader(path string, initial *Config, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:     path,
		interval: 2 * time.Second,
		logger:   zap.NewNop(),
		current:  initial,
		version:  1,
	}
	r.loader = NewLoader().WithConfigPath(path)
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))

	if info, err := os.Stat(path); err == nil {
		r.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		r.logger.Warn("config file does not exist, will watch for creation", zap.String("path", path))
	}
	return r
}

// OnReload 注册回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version 返回已生效的配置版本号，从 1 开始
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Start 启动轮询，ctx 取消或调用 Stop 后退出
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reloader already running")
	}
	r.running = true
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := r.check(); err != nil {
					r.logger.Error("config reload failed, keeping current config", zap.Error(err))
				}
			}
		}
	}()

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop 停止轮询
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	r.running = false
}

// check 文件有变化时重载，返回是否发生了重载
func (r *Reloader) check() (bool, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	r.mu.RLock()
	changed := info.ModTime().After(r.lastMod)
	r.mu.RUnlock()
	if !changed {
		return false, nil
	}

	r.mu.Lock()
	r.lastMod = info.ModTime()
	r.mu.Unlock()

	if err := r.Reload(); err != nil {
		return false, err
	}
	return true, nil
}

// Reload 立即从文件重载
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	r.version++
	version := r.version
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.notifySafe(cb, old, next)
	}
	r.logger.Info("configuration reloaded", zap.Int("version", version))
	return nil
}

func (r *Reloader) notifySafe(cb ReloadCallback, old, next *Config) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reload callback panicked", zap.Any("panic", p))
		}
	}()
	cb(old, next)
}
