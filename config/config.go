package config

import (
	"os"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/types"
)

type Config struct {
	Log         Log          `yaml:"log"`
	DataSources []DataSource `yaml:"data_sources"`
	Models      []Model      `yaml:"models_to_evaluate"`
	Exporters   []string     `yaml:"exporters"`
	Postgres    Postgres     `yaml:"postgres"`
	Voting      Voting       `yaml:"voting"`
	CWE         CWE          `yaml:"cwe"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type DataSource struct {
	Name      string        `yaml:"name"`
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Interval  time.Duration `yaml:"interval"`
	RetryWait time.Duration `yaml:"retry_wait"`
}

// Model is one entry of models_to_evaluate. Type is "api" or "local"; Config
// is a flat "k=v,k=v" list of engine settings for local inference.
type Model struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Site          string `yaml:"site"`
	API           string `yaml:"api"`
	Type          string `yaml:"type"`
	Config        string `yaml:"config"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type Postgres struct {
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
	Table  string `yaml:"table"`
}

type Voting struct {
	Weights map[string]float64 `yaml:"weights"`
}

type CWE struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Load reads a YAML configuration file and resolves every *_env reference
// against the environment. Credentials are never read again after this.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return nil, xerrors.Errorf("failed to parse config: %w", err)
	}
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		ds.Name = strings.ToLower(strings.TrimSpace(ds.Name))
		ds.APIKey = resolve(ds.APIKey, ds.APIKeyEnv)
	}
	for i := range c.Models {
		m := &c.Models[i]
		m.Provider = strings.TrimSpace(m.Provider)
		m.APIKey = resolve(m.APIKey, m.APIKeyEnv)
	}
	c.Postgres.DSN = resolve(c.Postgres.DSN, c.Postgres.DSNEnv)
	return &c, nil
}

func resolve(literal, env string) string {
	if literal != "" || env == "" {
		return literal
	}
	return os.Getenv(env)
}

func (c *Config) LogOption() log.Option {
	return log.Option{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Source returns the connector options configured for name. Unconfigured
// sources get zero options and fall back to connector defaults.
func (c *Config) Source(name string) source.Options {
	for _, ds := range c.DataSources {
		if ds.Name == name {
			return source.Options{
				APIKey:    ds.APIKey,
				BaseURL:   ds.BaseURL,
				Interval:  ds.Interval,
				RetryWait: ds.RetryWait,
			}
		}
	}
	return source.Options{}
}

// Provider builds the provider configuration for name. ok is false when no
// model entry carries that provider name.
func (c *Config) Provider(name string) (cfg types.ProviderConfig, ok bool, err error) {
	for _, m := range c.Models {
		if !strings.EqualFold(m.Provider, name) {
			continue
		}
		mode, err := types.ParseExecutionMode(m.Type)
		if err != nil {
			return types.ProviderConfig{}, true, xerrors.Errorf("provider %s: %w", name, err)
		}
		engine, err := types.ParseKeyValues(m.Config)
		if err != nil {
			return types.ProviderConfig{}, true, xerrors.Errorf("provider %s: %w", name, err)
		}
		return types.ProviderConfig{
			Name:          m.Provider,
			Model:         m.Model,
			Credential:    m.APIKey,
			Endpoint:      m.Site,
			API:           m.API,
			Mode:          mode,
			EngineConfig:  engine,
			RatePerMinute: m.RatePerMinute,
		}, true, nil
	}
	return types.ProviderConfig{}, false, nil
}

// SetSourceKey overrides the credential of a data source, adding an entry
// when the source is not configured.
func (c *Config) SetSourceKey(name, key string) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range c.DataSources {
		if c.DataSources[i].Name == name {
			c.DataSources[i].APIKey = key
			return
		}
	}
	c.DataSources = append(c.DataSources, DataSource{Name: name, APIKey: key})
}

// SetProviderKey overrides the credential of a configured provider.
func (c *Config) SetProviderKey(name, key string) error {
	for i := range c.Models {
		if strings.EqualFold(c.Models[i].Provider, name) {
			c.Models[i].APIKey = key
			return nil
		}
	}
	return xerrors.Errorf("unknown provider %q: no models_to_evaluate entry", name)
}
