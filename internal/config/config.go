// Package config loads process configuration from defaults, an optional
// YAML file, an optional .env file and the environment, in increasing order
// of precedence. Keys are flat snake_case names that map one-to-one onto
// upper-case environment variables (backend_urls ↔ BACKEND_URLS).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Common holds settings every process reads
type Common struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	RegistryAddr string `mapstructure:"registry_addr"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	ServiceName  string `mapstructure:"service_name"`
	ServiceIP    string `mapstructure:"service_ip"`
	InstanceID   string `mapstructure:"instance_id"`
	ServicePort  int    `mapstructure:"service_port"`
}

// Registry configures cmd/registry
type Registry struct {
	Common        `mapstructure:",squash"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// Gateway configures cmd/gateway
type Gateway struct {
	Common          `mapstructure:",squash"`
	BackendURLs     string        `mapstructure:"backend_urls"`
	OrderServiceURL string        `mapstructure:"order_service_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// Pool returns the backend pool in configured order, blanks removed
func (g Gateway) Pool() []string {
	var pool []string
	for _, u := range strings.Split(g.BackendURLs, ",") {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			pool = append(pool, u)
		}
	}
	return pool
}

// Validate checks gateway settings that have no safe fallback
func (g Gateway) Validate() error {
	if len(g.Pool()) == 0 {
		return fmt.Errorf("backend_urls must list at least one backend")
	}
	if g.OrderServiceURL == "" {
		return fmt.Errorf("order_service_url is required")
	}
	if g.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	return nil
}

// Backend configures cmd/backend
type Backend struct {
	Common `mapstructure:",squash"`
}

// Options selects optional config sources
type Options struct {
	ConfigFile string // YAML file, skipped when empty or missing
	EnvFile    string // .env file, skipped when empty or missing
}

func commonDefaults(v *viper.Viper, service string, listen string, port int) {
	v.SetDefault("listen_addr", listen)
	v.SetDefault("registry_addr", "http://127.0.0.1:8500")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("service_name", service)
	v.SetDefault("service_ip", "127.0.0.1")
	v.SetDefault("service_port", port)
	v.SetDefault("instance_id", "")
}

// LoadRegistry loads registry settings
func LoadRegistry(opts Options) (Registry, error) {
	v := viper.New()
	commonDefaults(v, "service-registry", ":8500", 8500)
	v.SetDefault("probe_interval", "0s")
	v.SetDefault("probe_timeout", "1s")

	var cfg Registry
	err := load(v, opts, &cfg)
	return cfg, err
}

// LoadGateway loads gateway settings
func LoadGateway(opts Options) (Gateway, error) {
	v := viper.New()
	commonDefaults(v, "api-gateway", ":3000", 3000)
	v.SetDefault("backend_urls", "http://10.0.0.30:5000,http://10.0.0.31:5000,http://10.0.0.32:5000")
	v.SetDefault("order_service_url", "http://10.0.0.40:5000")
	v.SetDefault("request_timeout", "2s")
	v.SetDefault("probe_interval", "5s")
	v.SetDefault("probe_timeout", "1s")
	v.SetDefault("max_attempts", 3)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_burst", 50)

	var cfg Gateway
	if err := load(v, opts, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadBackend loads demo backend settings
func LoadBackend(opts Options) (Backend, error) {
	v := viper.New()
	commonDefaults(v, "product-service", ":5000", 5000)

	var cfg Backend
	err := load(v, opts, &cfg)
	return cfg, err
}

func load(v *viper.Viper, opts Options, out any) error {
	if opts.ConfigFile != "" && exists(opts.ConfigFile) {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	// .env values never override variables already set in the environment
	if opts.EnvFile != "" && exists(opts.EnvFile) {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v.AutomaticEnv()

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
