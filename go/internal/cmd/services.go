package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/docstore/natsfeed"
	"github.com/mcdev12/estimate/go/internal/docstore/pgstore"
	"github.com/mcdev12/estimate/go/internal/gateway"
	"github.com/mcdev12/estimate/go/internal/identity"
	"github.com/mcdev12/estimate/go/internal/room"
)

type Services struct {
	Store     docstore.Store
	Directory *room.Directory
	Gateway   *gateway.Service

	closers []func() error
}

// Close releases everything setupServices opened, newest first.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Directory → Gateway
	services := &Services{}

	store, err := setupStore(ctx, cfg, services)
	if err != nil {
		_ = services.Close()
		return nil, err
	}
	services.Store = store

	browsers, err := setupIdentity(cfg, services)
	if err != nil {
		_ = services.Close()
		return nil, err
	}

	sessionCfg, err := cfg.Policy.sessionConfig()
	if err != nil {
		_ = services.Close()
		return nil, err
	}

	services.Directory = room.NewDirectory(store, cfg.Policy.directoryConfig())

	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.ConnectionConfig.Session = sessionCfg
	gatewayCfg.ConnectionConfig.ShareBaseURL = cfg.ShareBaseURL
	if cfg.Policy.StoreTimeout > 0 {
		gatewayCfg.ConnectionConfig.StoreTimeout = cfg.Policy.StoreTimeout
	}
	services.Gateway = gateway.NewService(gatewayCfg, store, services.Directory, browsers)

	log.Info().
		Str("store", cfg.Store).
		Str("rejoin_policy", string(sessionCfg.Rejoin)).
		Bool("unique_codes", cfg.Policy.directoryConfig().UniqueCodes).
		Dur("store_timeout", gatewayCfg.ConnectionConfig.StoreTimeout).
		Msg("services configured")
	return services, nil
}

func setupStore(ctx context.Context, cfg *Config, services *Services) (docstore.Store, error) {
	if cfg.Store == "memory" {
		mem := docstore.NewMemory()
		services.closers = append(services.closers, mem.Close)
		return mem, nil
	}

	db, err := setupDatabase(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	services.closers = append(services.closers, db.Close)

	var feed docstore.Feed
	switch cfg.Feed {
	case "nats":
		natsCfg := natsfeed.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		feed, err = natsfeed.New(ctx, natsCfg)
	default:
		feedCfg := pgstore.DefaultFeedConfig()
		feedCfg.DatabaseURL = cfg.DB.DSN()
		feed, err = pgstore.NewPQFeed(db, feedCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s change feed: %w", cfg.Feed, err)
	}
	services.closers = append(services.closers, feed.Close)

	store := pgstore.New(db, feed, nil, pgstore.DefaultConfig())
	services.closers = append(services.closers, store.Close)
	log.Info().Str("feed", cfg.Feed).Msg("postgres document store ready")
	return store, nil
}

func setupIdentity(cfg *Config, services *Services) (identity.Backend, error) {
	if cfg.RedisURL == "" {
		return identity.NewMemoryBackend(), nil
	}
	backend, err := identity.NewRedisBackend(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	services.closers = append(services.closers, backend.Close)
	return backend, nil
}
