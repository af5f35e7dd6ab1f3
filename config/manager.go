package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cricline/cricsync/types"
)

// ConfigurationManager loads and holds the service configuration. The
// loaded config is swapped atomically so readers never see a partial
// reload.
type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	configPath  string
	loader      *Loader
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an already-built config, for embedding and tests.
func NewStaticManager(config *types.ServiceConfig) *ConfigurationManager {
	cm := &ConfigurationManager{loader: NewLoader()}
	if config == nil {
		config = cm.loader.Defaults()
	}
	cm.config.Store(config)
	return cm
}

func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		cm.config.Store(cm.loader.Defaults())
		return nil
	}

	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}
