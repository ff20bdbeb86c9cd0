package config

import (
	"context"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-translation-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithContext(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithContext(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultCh := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(filepath)
		resultCh <- result{data: data, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "config read cancelled")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Type:  "zap",
			Level: "info",
		},
		Metrics: &types.MetricsConfig{
			Enabled: true,
			Type:    "prometheus",
		},
		Server: &types.ServerConfig{
			Enabled:         false,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10,
			WriteTimeout:    10,
			ShutdownTimeout: 10,
		},
		Health: &types.HealthConfig{
			Enabled:       true,
			CheckInterval: 30,
		},
		Cache: &types.CacheLayerConfig{
			DefaultTTLMS: 3600000,
			Keys: &types.KeyConfig{
				Method:        types.KeyMethodFNV1a,
				NormalizeText: true,
			},
			Memory: &types.MemoryConfig{
				MaxEntries:        1000,
				Policy:            types.EvictionLRU,
				EvictionBatchSize: 1,
				MinFreeEntries:    1,
				TTLExtensionMS:    60000,
			},
			Remote: &types.RemoteConfig{
				Enabled:   false,
				Host:      "localhost",
				Port:      6379,
				PoolSize:  4,
				TimeoutMS: 5000,
				KeyPrefix: "tcl",
				Schema: &types.SchemaConfig{
					Enabled:          true,
					SnapshotFilename: "translation_cache.rdb",
					SaveIntervalS:    300,
					MinChanges:       10,
				},
			},
			Storage: &types.StorageConfig{
				Enabled:           false,
				Type:              "batch",
				Path:              "./translation_cache",
				MaxBatchSize:      100,
				EnableCompression: true,
				EnableAutoSave:    true,
				TimeoutMS:         10000,
			},
		},
		Maintenance: &types.MaintenanceConfig{
			Enabled:          true,
			SweepSchedule:    "0 * * * * *",
			AutoSaveSchedule: "0 */5 * * * *",
			Timezone:         "UTC",
			JobTimeout:       300,
		},
	}
}
