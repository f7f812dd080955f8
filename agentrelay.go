// Package agentrelay provides a top-level convenience entry point for wiring a
// relay from configuration with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentrelay"
//
//	stack, err := agentrelay.Build(ctx, cfg, agentrelay.WithLogger(logger))
//	defer stack.Close()
//	res, err := stack.Relay.Chat(ctx, "session-1", relay.Input{Query: "hello"})
//
// Build assembles the session store, agent catalog, upstream client and router
// the same way the agentrelay server does. Use it to embed the relay in
// another process.
package agentrelay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/sessionstore"
	"github.com/BaSui01/agentrelay/relay"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/upstream"
)

// Stack is a fully wired relay together with the components it was built from.
type Stack struct {
	Relay   *relay.Relay
	Router  *router.Router
	Catalog *upstream.Catalog
	Client  *upstream.Client
	Store   sessionstore.Store
}

// Close releases the session store.
func (s *Stack) Close() error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	store   sessionstore.Store
}

// Option configures [Build].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records relay metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithStore uses store instead of the backend named in cfg.SessionStore.
func WithStore(store sessionstore.Store) Option {
	return func(o *options) { o.store = store }
}

// Build wires a relay from cfg. A nil cfg means [config.DefaultConfig].
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Stack, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	store := o.store
	if store == nil {
		var err error
		store, err = sessionstore.New(ctx, cfg, o.logger)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
	}

	catalog := upstream.NewCatalog(cfg.Agents)
	client := upstream.NewClient(cfg.Upstream, o.logger)

	routerCfg := router.Config{
		RootAgent: cfg.Routing.RootAgent,
		Aliases:   cfg.Routing.Aliases,
		Domains:   cfg.Routing.Domains,
	}
	if cfg.Routing.RestrictToCatalog {
		routerCfg.Known = catalog.Known
	}
	rt := router.New(routerCfg, o.logger)

	relayOpts := []relay.Option{relay.WithLogger(o.logger)}
	if o.metrics != nil {
		relayOpts = append(relayOpts, relay.WithMetrics(o.metrics))
	}

	return &Stack{
		Relay:   relay.New(rt, catalog, client, store, relay.ConfigFrom(cfg), relayOpts...),
		Router:  rt,
		Catalog: catalog,
		Client:  client,
		Store:   store,
	}, nil
}
