package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/config"
	"github.com/aschepis/backscratcher/lifebook/extraction"
	"github.com/aschepis/backscratcher/lifebook/identity"
	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/aschepis/backscratcher/lifebook/llm/providers"
	"github.com/aschepis/backscratcher/lifebook/mirror"
	"github.com/aschepis/backscratcher/lifebook/mirror/dynamo"
	"github.com/aschepis/backscratcher/lifebook/mirror/postgres"
	"github.com/aschepis/backscratcher/lifebook/notify"
	"github.com/aschepis/backscratcher/lifebook/persist"
	"github.com/aschepis/backscratcher/lifebook/storystore"
	"github.com/aschepis/backscratcher/lifebook/vault"
)

// app is one opened story with everything it is persisted through.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	db     *sql.DB
	layer  *persist.Layer
	store  *storystore.Store
	closer func() error
}

// resolveIdentity picks the uid the story belongs to. A hosted identity is
// used when given; otherwise the uid is derived from the secret.
func resolveIdentity(cfg *config.Config) (identity.Identity, error) {
	if flags.secret == "" {
		return identity.Identity{}, errors.New("a secret is required (--secret or LIFEBOOK_SECRET)")
	}
	if flags.uid != "" {
		return identity.Identity{UID: flags.uid}, nil
	}
	return identity.LocalIdentity(flags.secret, identity.SecretKind(flags.secretKind), []byte(cfg.Vault.Salt)), nil
}

func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	id, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Vault.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create vault directory %s: %w", dir, err)
		}
	}
	logger.Info().Str("path", cfg.Vault.Path).Msg("Opening vault")
	db, err := vault.Open(ctx, cfg.Vault.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	c := codec.New(flags.secret,
		codec.WithSalt([]byte(cfg.Vault.Salt)),
		codec.WithIterations(cfg.Vault.Iterations),
		codec.WithLogger(logger),
	)
	local := vault.NewStore(db, c, logger)

	a := &app{cfg: cfg, logger: logger, db: db}

	opts := []persist.Option{persist.WithNotifier(newNotifier(cfg, logger))}
	guarded, closer, err := openMirror(ctx, cfg, logger)
	if err != nil {
		// The local vault is authoritative; run without a mirror.
		logger.Warn().Err(err).Msg("Mirror unavailable; continuing with the local vault only")
	}
	if guarded != nil {
		opts = append(opts, persist.WithMirror(guarded))
	}
	a.closer = closer
	a.layer = persist.New(local, logger, opts...)

	logger.Debug().Str("uid", id.UID).Bool("localVault", id.Local()).Msg("Identity resolved")
	a.store, err = storystore.Open(ctx, id.UID, a.layer, storystore.WithLogger(logger))
	if err != nil {
		_ = a.Close(ctx) //nolint:errcheck // Cleanup on error
		return nil, err
	}
	return a, nil
}

// openMirror builds the configured mirror backend behind a breaker.
func openMirror(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*mirror.Guarded, func() error, error) {
	opts := mirror.DefaultOptions()
	if cfg.Mirror.Concurrency > 0 {
		opts.Concurrency = cfg.Mirror.Concurrency
	}
	if cfg.Mirror.BreakerTimeout > 0 {
		opts.Timeout = cfg.Mirror.BreakerTimeout
	}
	if cfg.Mirror.FailureThreshold > 0 {
		opts.FailureThreshold = cfg.Mirror.FailureThreshold
	}

	switch cfg.Mirror.Provider {
	case config.MirrorDynamoDB:
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Table:    cfg.Mirror.Table,
			Region:   cfg.Mirror.Region,
			Endpoint: cfg.Mirror.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		opts.Name = "dynamodb"
		return mirror.NewGuarded(dynamo.New(client, cfg.Mirror.Table, logger), opts, logger), nil, nil
	case config.MirrorPostgres:
		backend, err := postgres.Open(ctx, cfg.Mirror.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		opts.Name = "postgres"
		return mirror.NewGuarded(backend, opts, logger), backend.Close, nil
	default:
		return nil, nil, nil
	}
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) persist.Notifier {
	if cfg.Notifications.Desktop {
		return notify.NewDesktop(cfg.Notifications.Title, logger)
	}
	return notify.NewLog(logger)
}

// Close flushes the story and releases every resource.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if a.layer != nil {
		errs = append(errs, a.layer.Close(ctx))
	}
	if a.closer != nil {
		errs = append(errs, a.closer())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// newExtractor builds the extraction collaborator from the configured providers.
func newExtractor(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*extraction.LLMExtractor, error) {
	registry := llm.NewProviderRegistry(cfg.Extraction.ProviderConfig(), cfg.Extraction.Providers)
	key, err := registry.Resolve(cfg.Extraction.LLMPreferences())
	if err != nil {
		return nil, fmt.Errorf("no language model available: %w", err)
	}
	client, err := providers.NewFactory(logger).Client(ctx, key)
	if err != nil {
		return nil, err
	}
	client = llm.WithRetry(
		llm.WrapWithMiddleware(client, llm.NewUsageMiddleware(logger)),
		llm.RetryOptions{MaxRetries: cfg.Extraction.MaxRetries},
		logger,
	)
	logger.Info().Str("provider", key.Provider).Str("model", key.Model).Msg("Extraction model selected")
	return extraction.NewLLMExtractor(client, key.Model, int64(cfg.Extraction.MaxTokens), logger), nil
}
