package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

type AuthConfig struct {
	TokenURL      string        `mapstructure:"token_url" yaml:"token_url"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	// MaxAttempts bounds token retries. 0 retries forever.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ProxyConfig mirrors the http/https proxy pair. Values may be "host:port" or full URLs.
type ProxyConfig struct {
	HTTP  string `mapstructure:"http" yaml:"http"`
	HTTPS string `mapstructure:"https" yaml:"https"`
}

type CatalogConfig struct {
	QueryFile        string `mapstructure:"query_file" yaml:"query_file"`
	Query            string `mapstructure:"query" yaml:"query"`
	PageSize         int    `mapstructure:"page_size" yaml:"page_size"`
	StrictPagination bool   `mapstructure:"strict_pagination" yaml:"strict_pagination"`
}

type DownloadConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	OutDir       string        `mapstructure:"out_dir" yaml:"out_dir"`
	ChunkSize    int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	SkipExisting bool          `mapstructure:"skip_existing" yaml:"skip_existing"`
	Extract      bool          `mapstructure:"extract" yaml:"extract"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth.token_url", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token")
	v.SetDefault("auth.client_id", "cdse-public")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.retry_interval", "15s")
	v.SetDefault("auth.max_attempts", 0)

	v.SetDefault("proxy.http", "")
	v.SetDefault("proxy.https", "")

	v.SetDefault("catalog.query_file", "SearchURL.txt")
	v.SetDefault("catalog.query", "")
	v.SetDefault("catalog.page_size", 900)
	v.SetDefault("catalog.strict_pagination", true)

	v.SetDefault("download.base_url", "https://zipper.dataspace.copernicus.eu/odata/v1")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.chunk_size", 1024*1024)
	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.read_timeout", "30s")
	v.SetDefault("download.skip_existing", true)
	v.SetDefault("download.extract", false)

	v.SetDefault("log.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/gocdse.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("server.port", "8080")
}

// Load reads the YAML config at path, layering GOCDSE_* environment variables on top.
// A missing file is only tolerated for the default path, so a bare environment works.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) || path != DefaultPath {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables
	v.SetEnvPrefix("GOCDSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Username == "" || c.Auth.Password == "" {
		return errors.New("auth.username and auth.password are required")
	}

	if c.Auth.TokenURL == "" {
		return errors.New("auth.token_url is required")
	}

	if c.Auth.RetryInterval <= 0 {
		c.Auth.RetryInterval = 15 * time.Second
	}

	if c.Auth.MaxAttempts < 0 {
		return fmt.Errorf("auth.max_attempts must be >= 0, got %d", c.Auth.MaxAttempts)
	}

	for name, p := range map[string]string{"proxy.http": c.Proxy.HTTP, "proxy.https": c.Proxy.HTTPS} {
		if p == "" {
			continue
		}
		if _, err := ProxyURL(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Catalog.PageSize <= 0 {
		c.Catalog.PageSize = 900
	}

	if c.Download.OutDir == "" {
		return errors.New("download.out_dir is required")
	}

	if c.Download.BaseURL == "" {
		return errors.New("download.base_url is required")
	}
	c.Download.BaseURL = strings.TrimRight(c.Download.BaseURL, "/")

	if c.Download.ChunkSize <= 0 {
		c.Download.ChunkSize = 1024 * 1024
	}

	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 30 * time.Second
	}

	if c.Download.ReadTimeout <= 0 {
		c.Download.ReadTimeout = 30 * time.Second
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case "none", "":
		c.Store.Driver = "none"
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	return nil
}

// SearchQuery returns the inline query if set, otherwise the trimmed contents of query_file.
func (c *Config) SearchQuery() (string, error) {
	if q := strings.TrimSpace(c.Catalog.Query); q != "" {
		return q, nil
	}

	data, err := os.ReadFile(c.Catalog.QueryFile)
	if err != nil {
		return "", fmt.Errorf("read search query file: %w", err)
	}

	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", fmt.Errorf("search query file %s is empty", c.Catalog.QueryFile)
	}
	return q, nil
}

// ProxyURL accepts "host:port" as well as a full URL.
func ProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}

// Redacted renders the effective configuration as YAML with secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	shown := *c
	if shown.Auth.Password != "" {
		shown.Auth.Password = "********"
	}
	if shown.Store.PostgresDSN != "" {
		shown.Store.PostgresDSN = redactDSN(shown.Store.PostgresDSN)
	}
	return yaml.Marshal(&shown)
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "********")
	}
	return u.String()
}
