package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-translation-cache/types"
)

type Manager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	loadTimeout time.Duration
}

func NewManager(ctx context.Context, configPath string) (*Manager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := m.Load(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return m, nil
}

func (m *Manager) Load() error {
	loadCtx, cancel := context.WithTimeout(m.ctx, m.loadTimeout)
	defer cancel()

	config, err := m.loader.LoadFromFile(loadCtx, m.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	m.config.Store(config)
	m.parser.Store(NewParser(config))

	return nil
}

func (m *Manager) GetConfig() *types.ServiceConfig {
	return m.config.Load()
}

func (m *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := m.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (m *Manager) GetAs(path string, target interface{}) error {
	parser := m.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (m *Manager) Close() {
	m.cancel()
}
