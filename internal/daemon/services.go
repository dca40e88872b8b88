package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/filldrill/internal/assistant"
	"github.com/felixgeelhaar/filldrill/internal/config"
	"github.com/felixgeelhaar/filldrill/internal/draft"
	"github.com/felixgeelhaar/filldrill/internal/drill"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/llm"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
	"github.com/felixgeelhaar/filldrill/internal/progress"
	"github.com/felixgeelhaar/filldrill/internal/queue"
	"github.com/felixgeelhaar/filldrill/internal/remote"
	"github.com/felixgeelhaar/filldrill/internal/storage"
	"github.com/felixgeelhaar/filldrill/internal/storage/local"
	"github.com/felixgeelhaar/filldrill/internal/storage/sqlite"
	"github.com/felixgeelhaar/filldrill/internal/studylog"
)

// Services is the object graph served by the daemon and the MCP server.
type Services struct {
	Drill       *drill.Service
	Coordinator *progress.Coordinator
	Resolver    *identity.Resolver
	Registry    *llm.Registry
	Metrics     *metrics.Metrics

	closers  []func() error
	consumer *queue.Consumer
}

// NewServices builds every component from cfg. Remote and queue connection
// failures are logged and the daemon runs without them; a device-local store
// that cannot be opened is fatal.
func NewServices(ctx context.Context, cfg *config.LocalConfig, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{Metrics: metrics.New()}

	kv, err := openLocalStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, kv.Close)

	repo := identity.NewRepository(logger)
	repo.SetFallback(identity.NewFileLoader(cfg.Drill.CollectionsPath))
	s.Resolver = identity.NewResolver(repo)

	coordOpts := progress.Options{
		Content:       repo,
		Logger:        logger,
		Metrics:       s.Metrics,
		RemoteTimeout: cfg.Remote.Timeout(),
	}
	if rs := s.openRemote(ctx, cfg.Remote, logger); rs != nil {
		coordOpts.Remote = rs
	}
	s.Coordinator = progress.NewCoordinator(kv, coordOpts)

	s.Registry = llm.NewRegistry()
	for _, p := range setupLLMProviders(s.Registry, cfg.LLM, logger) {
		s.closers = append(s.closers, p.Close)
	}
	if cfg.LLM.DefaultProvider != "" {
		if err := s.Registry.SetDefault(cfg.LLM.DefaultProvider); err != nil {
			logger.Warn("default LLM provider not registered", "provider", cfg.LLM.DefaultProvider, "error", err)
		}
	}

	loc, err := cfg.Drill.Location()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Drill = drill.NewService(drill.Options{
		Coordinator: s.Coordinator,
		Drafts: draft.NewAutosaver(kv,
			draft.WithWindow(cfg.Drill.DraftDebounce()),
			draft.WithLogger(logger),
			draft.WithMetrics(s.Metrics)),
		Assistant: assistant.NewClient(s.Registry,
			assistant.WithProvider(cfg.LLM.DefaultProvider),
			assistant.WithLogger(logger)),
		Resolver: s.Resolver,
		StudyLog: s.studyLogSink(ctx, cfg.StudyLog, kv, logger),
		Clock:    studylog.Clock{BoundaryHour: cfg.Drill.DayBoundaryHour, Location: loc},
		Logger:   logger,
		Metrics:  s.Metrics,
	})
	return s, nil
}

func openLocalStore(cfg config.StorageConfig, logger *slog.Logger) (storage.KV, error) {
	switch cfg.Backend {
	case "json":
		kv, err := local.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return kv, nil
	case "", "sqlite":
		kv, err := sqlite.OpenKVStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Debug("opened sqlite store", "path", cfg.Path)
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (s *Services) openRemote(ctx context.Context, cfg config.RemoteConfig, logger *slog.Logger) remote.Store {
	rs, err := remote.Open(ctx, remote.Config{
		Backend:     cfg.Backend,
		DatabaseURL: cfg.DatabaseURL,
		RedisAddr:   cfg.RedisAddr,
		RedisDB:     cfg.RedisDB,
		Password:    cfg.Password,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout(),
	})
	if err != nil {
		logger.Warn("remote progress store unavailable, continuing without it", "backend", cfg.Backend, "error", err)
		return nil
	}
	if rs == nil {
		return nil
	}
	s.closers = append(s.closers, rs.Close)
	logger.Info("remote progress store connected", "backend", cfg.Backend)
	return rs
}

// studyLogSink builds the configured sink. With archiving on, the queue is
// also consumed into the device-local store.
func (s *Services) studyLogSink(ctx context.Context, cfg config.StudyLogConfig, kv storage.KV, logger *slog.Logger) studylog.Sink {
	switch cfg.Backend {
	case "none":
		return studylog.Discard{}
	case "queue":
		name := cfg.Queue
		if name == "" {
			name = queue.StudyLogQueueName
		}
		conn, err := queue.NewConnection(cfg.RabbitMQURL, queue.QueueSpec{Name: name})
		if err != nil {
			logger.Warn("study log queue unavailable, logging locally", "error", err)
			return studylog.NewLocalSink(kv)
		}
		s.closers = append(s.closers, conn.Close)
		sink := studylog.NewQueueSink(queue.NewProducer(conn), name)
		if cfg.Archive {
			archive := studylog.NewLocalSink(kv)
			c := queue.NewConsumer(conn, name, archive.Archive, queue.DefaultConsumerConfig())
			if err := c.Start(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("study log archive consumer failed to start", "error", err)
			} else {
				s.consumer = c
			}
		}
		return sink
	default:
		return studylog.NewLocalSink(kv)
	}
}

// setupLLMProviders registers the enabled providers, each wrapped with the
// resilience patterns, and returns the wrappers.
func setupLLMProviders(registry *llm.Registry, cfg config.LLMConfig, logger *slog.Logger) []*llm.ResilientProvider {
	rc := llm.DefaultResilientConfig()
	if cfg.RatePerSecond > 0 {
		rc.RatePerSecond = cfg.RatePerSecond
	}
	if cfg.MaxConcurrent > 0 {
		rc.MaxConcurrent = cfg.MaxConcurrent
	}
	rc.Logger = logger

	var registered []*llm.ResilientProvider
	for name, providerCfg := range cfg.Providers {
		if providerCfg == nil || !providerCfg.Enabled {
			continue
		}

		var provider llm.Provider
		switch name {
		case "claude":
			if providerCfg.APIKey == "" {
				logger.Debug("Claude provider enabled but no API key set")
				continue
			}
			p, err := llm.NewClaudeProvider(llm.ClaudeConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
				Timeout: providerCfg.Timeout(),
			})
			if err != nil {
				logger.Warn("Claude provider not registered", "error", err)
				continue
			}
			provider = p
		case "ollama":
			provider = llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
				Timeout: providerCfg.Timeout(),
			})
		default:
			logger.Warn("unknown LLM provider in config", "name", name)
			continue
		}

		rp := llm.NewResilientProvider(provider, rc)
		registry.Register(name, rp)
		registered = append(registered, rp)
		logger.Info("registered LLM provider", "name", name, "model", providerCfg.Model)
	}
	return registered
}

// Shutdown flushes drafts, waits for background writes and releases
// connections. ctx bounds the wait.
func (s *Services) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Drill != nil {
		if err := s.Drill.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain drill service: %w", err))
		}
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases connections without waiting for background work.
func (s *Services) Close() error {
	if s.consumer != nil {
		s.consumer.Stop()
		s.consumer = nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
