package saiTranslationCache

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-translation-cache/cache"
	"github.com/saiset-co/sai-translation-cache/config"
	"github.com/saiset-co/sai-translation-cache/cron"
	"github.com/saiset-co/sai-translation-cache/health"
	"github.com/saiset-co/sai-translation-cache/keygen"
	"github.com/saiset-co/sai-translation-cache/logger"
	"github.com/saiset-co/sai-translation-cache/metrics"
	"github.com/saiset-co/sai-translation-cache/server"
	"github.com/saiset-co/sai-translation-cache/types"
)

const (
	defaultSweepSchedule    = "0 * * * * *"
	defaultAutoSaveSchedule = "0 */5 * * * *"
)

// Service assembles the translation cache from its components: config,
// logger, metrics, health, the tier hierarchy, key generation, maintenance
// jobs and the ops HTTP server. No global state; everything hangs off this
// struct.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	config    *config.Manager
	logger    types.Logger
	metrics   types.MetricsManager
	health    types.HealthManager
	hierarchy *cache.Hierarchy
	keys      types.KeyGenerator
	cron      *cron.Manager
	server    *server.OpsServer
	started   int32
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.Errorf(types.ErrInvalidParam, "config path is empty")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "config file does not exist")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	configManager, err := config.NewManager(serviceCtx, configPath)
	if err != nil {
		cancel()
		return nil, err
	}
	serviceConfig := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(serviceConfig.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build logger")
	}

	service := &Service{
		ctx:    serviceCtx,
		cancel: cancel,
		config: configManager,
		logger: log,
	}

	if err := service.buildComponents(serviceConfig); err != nil {
		cancel()
		return nil, err
	}

	return service, nil
}

func (s *Service) buildComponents(serviceConfig *types.ServiceConfig) error {
	clock := types.NewSystemClock()

	if serviceConfig.Metrics != nil && serviceConfig.Metrics.Enabled {
		metricsManager, err := metrics.NewPrometheusMetrics(s.logger, serviceConfig.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build metrics manager")
		}
		s.metrics = metricsManager
	}

	if serviceConfig.Health != nil && serviceConfig.Health.Enabled {
		healthManager, err := health.NewManager(s.ctx, s.logger, types.ServiceInfo{
			Name:    serviceConfig.Name,
			Version: serviceConfig.Version,
		})
		if err != nil {
			return types.WrapError(err, "failed to build health manager")
		}
		healthManager.SetCheckInterval(serviceConfig.Health.CheckInterval)
		s.health = healthManager
	}

	hierarchy, err := cache.NewHierarchy(serviceConfig.Cache, s.logger, s.metrics, clock)
	if err != nil {
		return err
	}
	s.hierarchy = hierarchy

	var keyConfig *types.KeyConfig
	if serviceConfig.Cache != nil {
		keyConfig = serviceConfig.Cache.Keys
	}
	s.keys = keygen.NewGenerator(keyConfig, clock)

	if serviceConfig.Maintenance != nil && serviceConfig.Maintenance.Enabled {
		cronManager, err := cron.NewManager(s.ctx, serviceConfig.Maintenance, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to build cron manager")
		}
		s.cron = cronManager

		if err := s.registerMaintenanceJobs(serviceConfig.Maintenance, serviceConfig.Cache); err != nil {
			return err
		}
	}

	if serviceConfig.Server != nil && serviceConfig.Server.Enabled {
		opsServer, err := server.NewOpsServer(s.ctx, serviceConfig.Server, s.logger, s.health, s.metrics, hierarchy)
		if err != nil {
			return types.WrapError(err, "failed to build ops server")
		}
		s.server = opsServer
	}

	s.registerHealthCheckers(serviceConfig)
	return nil
}

func (s *Service) registerMaintenanceJobs(maintenance *types.MaintenanceConfig, cacheConfig *types.CacheLayerConfig) error {
	sweepSchedule := maintenance.SweepSchedule
	if sweepSchedule == "" {
		sweepSchedule = defaultSweepSchedule
	}

	err := s.cron.Add("cache_evict_expired", sweepSchedule, func() {
		if err := s.hierarchy.Cache.EvictExpired(s.ctx); err != nil {
			s.logger.Error("Expiry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return types.WrapError(err, "failed to schedule expiry sweep")
	}

	autoSaveEnabled := s.hierarchy.Persistent != nil &&
		cacheConfig != nil && cacheConfig.Storage != nil && cacheConfig.Storage.EnableAutoSave
	if !autoSaveEnabled {
		return nil
	}

	autoSaveSchedule := maintenance.AutoSaveSchedule
	if autoSaveSchedule == "" {
		autoSaveSchedule = defaultAutoSaveSchedule
	}

	err = s.cron.Add("storage_auto_save", autoSaveSchedule, func() {
		if err := s.hierarchy.Persistent.SaveAll(s.ctx); err != nil {
			s.logger.Error("Auto-save failed", zap.Error(err))
		}
	})
	if err != nil {
		return types.WrapError(err, "failed to schedule auto-save")
	}
	return nil
}

func (s *Service) registerHealthCheckers(serviceConfig *types.ServiceConfig) {
	if s.health == nil {
		return
	}

	memory := s.hierarchy.Memory
	s.health.RegisterChecker("cache_memory", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{
			Status: types.StatusHealthy,
			Details: map[string]interface{}{
				"entries":       memory.Count(),
				"usage_percent": memory.UsagePercent(),
			},
		}
	})

	if remote, ok := s.hierarchy.Remote.(*cache.RemoteStore); ok {
		s.health.RegisterChecker("cache_remote", func(ctx context.Context) types.HealthCheck {
			if err := remote.Ping(ctx); err != nil {
				return types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: err.Error(),
				}
			}
			return types.HealthCheck{
				Status: types.StatusHealthy,
				Details: map[string]interface{}{
					"schema_version": remote.SchemaVersion(),
				},
			}
		})
	}

	if s.hierarchy.Persistent != nil && serviceConfig.Cache != nil && serviceConfig.Cache.Storage != nil {
		storagePath := serviceConfig.Cache.Storage.Path
		s.health.RegisterChecker("cache_storage", func(ctx context.Context) types.HealthCheck {
			if err := checkWritable(storagePath); err != nil {
				return types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: err.Error(),
				}
			}
			stats := s.hierarchy.Persistent.Stats()
			return types.HealthCheck{
				Status: types.StatusHealthy,
				Details: map[string]interface{}{
					"pending_changes": stats.PendingChanges,
					"total_saves":     stats.TotalSaves,
				},
			}
		})
	}
}

func checkWritable(path string) error {
	probe, err := os.CreateTemp(path, ".writecheck-*")
	if err != nil {
		return types.WrapError(err, "storage directory not writable")
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	s.logger.Info("Starting translation cache service")

	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			s.logger.Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	if s.health != nil {
		if err := s.health.Start(); err != nil {
			s.logger.Error("Failed to start health manager", zap.Error(err))
		}
	}

	if err := s.hierarchy.Cache.Start(); err != nil {
		atomic.StoreInt32(&s.started, 0)
		return types.WrapError(err, "failed to start cache")
	}

	if s.cron != nil {
		if err := s.cron.Start(); err != nil {
			s.logger.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			s.logger.Error("Failed to start ops server", zap.Error(err))
		}
	}

	s.logger.Info("Translation cache service started successfully")
	return nil
}

func (s *Service) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	s.logger.Info("Stopping translation cache service")

	var g errgroup.Group

	if s.server != nil {
		g.Go(func() error {
			if err := s.server.Stop(); err != nil {
				s.logger.Error("Failed to stop ops server", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if s.cron != nil {
		g.Go(func() error {
			if err := s.cron.Stop(); err != nil {
				s.logger.Error("Failed to stop cron manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	firstErr := g.Wait()

	// Flush to the persistent tier before tearing the hierarchy down.
	if s.hierarchy.Persistent != nil {
		if err := s.hierarchy.Persistent.SaveAll(s.ctx); err != nil {
			s.logger.Error("Final save failed", zap.Error(err))
		}
	}

	if err := s.hierarchy.Cache.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.health != nil {
		if err := s.health.Stop(); err != nil {
			s.logger.Error("Failed to stop health manager", zap.Error(err))
		}
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil {
			s.logger.Error("Failed to stop metrics manager", zap.Error(err))
		}
	}

	s.cancel()
	s.logger.Info("Translation cache service stopped gracefully")
	return firstErr
}

func (s *Service) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

// Cache exposes the assembled multi-tier cache for key-level access.
func (s *Service) Cache() types.MultiLevelCache {
	return s.hierarchy.Cache
}

func (s *Service) Keys() types.KeyGenerator {
	return s.keys
}

func (s *Service) Health() types.HealthManager {
	return s.health
}

// GetTranslation looks up a cached translation by its source parameters.
func (s *Service) GetTranslation(ctx context.Context, sourceText, sourceLang, targetLang string) (string, error) {
	key, err := s.keys.Generate(sourceText, sourceLang, targetLang)
	if err != nil {
		return "", err
	}

	entry, err := s.hierarchy.Cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.Translation, nil
}

// SetTranslation caches a translation and returns the generated key.
func (s *Service) SetTranslation(ctx context.Context, sourceText, sourceLang, targetLang, translation string, confidence float32) (string, error) {
	key, err := s.keys.Generate(sourceText, sourceLang, targetLang)
	if err != nil {
		return "", err
	}

	entry := &types.CacheEntry{
		Key:         key,
		SourceText:  sourceText,
		SourceLang:  sourceLang,
		TargetLang:  targetLang,
		Translation: translation,
		Confidence:  confidence,
	}

	if err := s.hierarchy.Cache.Set(ctx, entry); err != nil {
		return "", err
	}
	return key, nil
}

// HasTranslation reports whether a translation is cached in any tier.
func (s *Service) HasTranslation(ctx context.Context, sourceText, sourceLang, targetLang string) (bool, error) {
	key, err := s.keys.Generate(sourceText, sourceLang, targetLang)
	if err != nil {
		return false, err
	}
	return s.hierarchy.Cache.Exists(ctx, key)
}

// DeleteTranslation removes a translation from every tier.
func (s *Service) DeleteTranslation(ctx context.Context, sourceText, sourceLang, targetLang string) error {
	key, err := s.keys.Generate(sourceText, sourceLang, targetLang)
	if err != nil {
		return err
	}
	return s.hierarchy.Cache.Delete(ctx, key)
}

// WarmCache preloads the most used entries from the persistent tier.
func (s *Service) WarmCache(ctx context.Context, preloadCount uint32) error {
	return s.hierarchy.Cache.WarmCache(ctx, preloadCount)
}
