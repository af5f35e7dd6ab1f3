package cricsync

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cricline/cricsync/backoff"
	"github.com/cricline/cricsync/cache"
	"github.com/cricline/cricsync/client"
	"github.com/cricline/cricsync/clock"
	"github.com/cricline/cricsync/commentary"
	"github.com/cricline/cricsync/config"
	"github.com/cricline/cricsync/coordinator"
	"github.com/cricline/cricsync/cron"
	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/metrics"
	"github.com/cricline/cricsync/storage"
	"github.com/cricline/cricsync/subscription"
	"github.com/cricline/cricsync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service is the composition root of the sync core. It owns every
// component's lifecycle: config, logger, metrics, the two-tier cache over
// its persistent store, the backoff tracker, the request coordinator, the
// sweep scheduler and the per-resource subscriptions.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Value

	configManager *config.ConfigurationManager
	logger        types.Logger
	metrics       types.MetricsManager
	clock         types.Clock
	storage       types.KeyValueStore
	cache         types.CacheStore
	backoff       types.BackoffTracker
	coordinator   types.RequestCoordinator
	cron          types.CronManager
	fetchClient   *client.FetchClient

	mu   sync.Mutex
	subs map[*subscription.Orchestrator]struct{}
}

// NewService builds every component from the config at configPath. An
// empty path runs on built-in defaults.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:    serviceCtx,
		cancel: cancel,
		clock:  clock.Real(),
		subs:   make(map[*subscription.Orchestrator]struct{}),
	}
	s.state.Store(StateStopped)

	if err := s.buildComponents(configPath); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) buildComponents(configPath string) error {
	var err error

	if configPath != "" {
		s.configManager, err = config.NewConfigurationManager(s.ctx, configPath)
		if err != nil {
			return types.WrapError(err, "failed to build config manager")
		}
	} else {
		s.configManager = config.NewStaticManager(nil)
	}

	cfg := s.configManager.GetConfig()

	s.logger, err = logger.New(cfg.Logger)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}

	s.metrics, err = metrics.NewMetricsManager(s.ctx, cfg.Metrics, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to build metrics manager")
	}

	s.storage, err = storage.NewKeyValueStore(s.ctx, s.logger, cfg.Storage)
	if err != nil {
		return types.WrapError(err, "failed to build key-value store")
	}

	s.cache, err = cache.NewCacheStore(s.ctx, cfg.Cache, s.storage, s.clock, s.logger, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to build cache store")
	}

	s.backoff = backoff.NewTracker(cfg.Backoff, s.clock, s.logger)
	s.coordinator = coordinator.New(cfg.Coordinator, s.backoff, s.clock, s.logger, s.metrics)
	s.fetchClient = client.NewFetchClient(s.logger, cfg.Client)

	if cfg.Sweep != nil && cfg.Sweep.Enabled {
		s.cron, err = cron.NewManager(s.ctx, cfg.Sweep, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to build cron manager")
		}

		if err := s.cron.Add("cache_sweep", cfg.Sweep.Schedule, s.sweepJob); err != nil {
			return types.WrapError(err, "failed to register sweep job")
		}
	}

	return nil
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	if err := s.cache.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start cache store")
	}

	if s.cron != nil {
		if err := s.cron.Start(); err != nil {
			s.logger.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	s.setState(StateRunning)
	s.logger.Info("Sync core started",
		zap.String("name", s.configManager.GetConfig().Name),
		zap.String("version", s.configManager.GetConfig().Version))
	return nil
}

// Stop tears components down in reverse dependency order: subscriptions
// first, storage last.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceNotRunning
	}

	s.mu.Lock()
	subs := make([]*subscription.Orchestrator, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*subscription.Orchestrator]struct{})
	s.mu.Unlock()

	g := &errgroup.Group{}
	for _, sub := range subs {
		sub := sub
		g.Go(sub.Close)
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Error closing subscriptions", zap.Error(err))
	}

	s.coordinator.Close()

	if s.cron != nil {
		if err := s.cron.Stop(); err != nil && !types.IsError(err, types.ErrNotRunning) {
			s.logger.Error("Failed to stop cron manager", zap.Error(err))
		}
	}

	if err := s.cache.Stop(); err != nil {
		s.logger.Error("Failed to stop cache store", zap.Error(err))
	}

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.logger.Error("Failed to close key-value store", zap.Error(err))
		}
	}

	s.cancel()
	s.setState(StateStopped)
	s.logger.Info("Sync core stopped")
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// Subscribe opens a live view on one resource. A push channel is attached
// when the resource is live and a push URL is configured; otherwise the
// subscription polls.
func (s *Service) Subscribe(key, resourceID string, fetcher types.Fetcher, live bool) (types.Subscription, error) {
	if !s.IsRunning() {
		return nil, types.ErrServiceNotRunning
	}

	cfg := s.configManager.GetConfig().Subscription

	opts := subscription.Options{
		Key:        key,
		ResourceID: resourceID,
		Fetcher:    fetcher,
	}

	if live && cfg != nil && cfg.PushURL != "" {
		pushURL := cfg.PushURL
		opts.NewChannel = func() types.PushChannel {
			return subscription.NewWebSocketChannel(s.logger, &subscription.WebSocketChannelConfig{URL: pushURL})
		}
	}

	sub := subscription.NewOrchestrator(s.ctx, opts, cfg, s.cache, s.coordinator, s.clock, s.logger)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub, nil
}

// NewCommentaryMerger builds a merger with the configured bounds. Callers
// hold one per followed match.
func (s *Service) NewCommentaryMerger() *commentary.Merger {
	return commentary.NewMerger(s.configManager.GetConfig().Commentary, s.logger)
}

func (s *Service) Cache() types.CacheStore               { return s.cache }
func (s *Service) Coordinator() types.RequestCoordinator { return s.coordinator }
func (s *Service) Backoff() types.BackoffTracker         { return s.backoff }
func (s *Service) Client() *client.FetchClient           { return s.fetchClient }
func (s *Service) Logger() types.Logger                  { return s.logger }
func (s *Service) Metrics() types.MetricsManager         { return s.metrics }
func (s *Service) Config() *types.ServiceConfig          { return s.configManager.GetConfig() }
func (s *Service) Context() context.Context              { return s.ctx }

func (s *Service) sweepJob() {
	removed := s.cache.Sweep()
	if removed > 0 {
		s.logger.Info("Cache sweep completed", zap.Int("removed", removed))
	}
}
