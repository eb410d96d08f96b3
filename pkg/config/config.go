package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	backendredis "github.com/redhat-data-and-ai/syncstore/pkg/backend/redis"
	"github.com/redhat-data-and-ai/syncstore/pkg/cache"
)

// App identifies the running deployment.
type App struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig configures the object store backend connection.
type StorageConfig struct {
	backendredis.Config `mapstructure:",squash"`
	ReadOnly            bool `mapstructure:"readonly"`
}

// AppConfig is the full configuration surface. Storage, permission and
// cache each carry their own connection so they can point at separate
// databases of one instance, or at separate instances entirely.
type AppConfig struct {
	App        App                 `mapstructure:"app"`
	Storage    StorageConfig       `mapstructure:"storage"`
	Permission backendredis.Config `mapstructure:"permission"`
	Cache      cache.Config        `mapstructure:"cache"`
}

// Load reads the config file at path, applying defaults and environment
// overrides (SYNCSTORE_STORAGE_POOL_SIZE and the like).
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("storage.pool_size", 50)
	v.SetDefault("permission.pool_size", 50)
	v.SetDefault("cache.driver", cache.DriverInMemory)

	v.SetEnvPrefix("syncstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	appConfig := &AppConfig{}
	if err := v.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return appConfig, nil
}
