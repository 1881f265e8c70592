package util

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const Name = "bookfed"
const ConfigFileName = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. BOOKFED_HTTPPORT.
const EnvPrefix = "BOOKFED"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string `yaml:"host"`
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		DbPath    string `yaml:"dbPath"`
		// RedisAddr selects the shared cache store. Empty means in-process memory.
		RedisAddr      string        `yaml:"redisAddr"`
		Workers        int           `yaml:"workers"`
		PollInterval   time.Duration `yaml:"pollInterval"`
		HttpTimeout    time.Duration `yaml:"httpTimeout"`
		MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
		ActorCacheSize int           `yaml:"actorCacheSize"`
		ActorCacheTTL  time.Duration `yaml:"actorCacheTTL"`
		InboxRate      float64       `yaml:"inboxRate"`
		InboxBurst     int           `yaml:"inboxBurst"`
		LogLevel       string        `yaml:"logLevel"`
		LogPretty      bool          `yaml:"logPretty"`
	}
}

// ReadConf loads config.yaml from the working directory or the user config
// directory. When neither exists the embedded defaults are used and written
// to the user config directory.
func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", configPath).Msg("Config file not found, using embedded defaults")
		if configDir, dirErr := GetConfigDir(); dirErr == nil {
			userConfigPath := filepath.Join(configDir, ConfigFileName)
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn().Err(writeErr).Str("path", userConfigPath).Msg("Could not write default config")
			} else {
				log.Info().Str("path", userConfigPath).Msg("Created default config file")
			}
		}
	}
	return LoadConf(configPath)
}

// LoadConf reads the yaml file at path, falling back to the embedded
// defaults when it does not exist, and applies BOOKFED_* overrides.
func LoadConf(path string) (*AppConfig, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		buf = embeddedConfig
	} else if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &c.Conf); err != nil {
		return nil, fmt.Errorf("in environment: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9999
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = Name + ".db"
	}
	if c.Conf.Workers <= 0 {
		c.Conf.Workers = 4
	}
	if c.Conf.PollInterval <= 0 {
		c.Conf.PollInterval = time.Second
	}
	if c.Conf.HttpTimeout <= 0 {
		c.Conf.HttpTimeout = 10 * time.Second
	}
	if c.Conf.MaxBodyBytes <= 0 {
		c.Conf.MaxBodyBytes = 1 << 20
	}
	if c.Conf.ActorCacheSize <= 0 {
		c.Conf.ActorCacheSize = 1000
	}
	if c.Conf.ActorCacheTTL <= 0 {
		c.Conf.ActorCacheTTL = time.Hour
	}
	if c.Conf.InboxRate <= 0 {
		c.Conf.InboxRate = 5
	}
	if c.Conf.InboxBurst <= 0 {
		c.Conf.InboxBurst = 10
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
}

func (c *AppConfig) Validate() error {
	if c.Conf.SslDomain == "" {
		return errors.New("sslDomain must be set")
	}
	if c.Conf.HttpPort < 1 || c.Conf.HttpPort > 65535 {
		return fmt.Errorf("httpPort %d out of range", c.Conf.HttpPort)
	}
	return nil
}

// BaseURL is the public origin of this instance.
func (c *AppConfig) BaseURL() string {
	return "https://" + c.Conf.SslDomain
}

// UserAgent identifies outbound requests.
func (c *AppConfig) UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", Name, GetVersion(), c.BaseURL())
}
