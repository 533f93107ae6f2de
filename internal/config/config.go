package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCheckInterval     = 30 * time.Second
	DefaultProbeTimeout      = 10 * time.Second
	DefaultMaxConcurrent     = 10
	DefaultHistorySize       = 200
	DefaultListenAddr        = ":8080"
	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = time.Second
	DefaultRetryMultiplier   = 2.0
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultDeliveryTimeout   = 30 * time.Second
)

// Config is the top-level configuration for the monitor.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Global    GlobalConfig             `yaml:"global"`
	Services  map[string]*ServiceSpec  `yaml:"services"`
	Notifiers map[string]*NotifierSpec `yaml:"notifiers"`
}

// GlobalConfig holds settings shared by all services.
type GlobalConfig struct {
	// CheckInterval is the default probe interval for services that do not
	// set their own.
	CheckInterval time.Duration `yaml:"check_interval"`

	// ProbeTimeout is the default per-probe deadline.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// MaxConcurrentProbes caps how many probes may be in flight at once
	// across all services.
	MaxConcurrentProbes int `yaml:"max_concurrent_probes"`

	// HistorySize bounds the in-memory transition history ring.
	HistorySize int `yaml:"history_size"`

	// SnapshotPath is an optional file the state table is persisted to.
	// Empty disables persistence; the monitor starts with unknown state.
	SnapshotPath string `yaml:"snapshot_path"`

	// ListenAddr is the bind address of the status API and /metrics endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// APIKeyEnv names the environment variable holding the status API key.
	// Empty disables API authentication.
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey returns the status API key resolved from the environment.
func (g GlobalConfig) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(g.APIKeyEnv)
}

// ServiceSpec describes one monitored service.
//
// The struct is deliberately flat and comparable: the hot-reload diff decides
// whether a service needs rescheduling by comparing two specs with ==.
type ServiceSpec struct {
	// Name is the unique service identifier, taken from the services map key.
	Name string `yaml:"-"`

	// Kind selects the probe implementation: http | tcp | metrics.
	Kind string `yaml:"type"`

	// Interval is how often this service is probed. Defaults to
	// global.check_interval.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one probe invocation. Defaults to global.probe_timeout.
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is how many consecutive non-UP outcomes are required
	// before the service is considered DOWN. 1 means every outcome is
	// authoritative (no flap damping).
	FailureThreshold int `yaml:"failure_threshold"`

	// Endpoint is the full URL probed by http and metrics kinds.
	Endpoint string `yaml:"endpoint"`

	// Method is the HTTP method for http probes. Defaults to GET.
	Method string `yaml:"method"`

	// ExpectStatus is the HTTP status an http probe treats as healthy.
	// 0 means any 2xx.
	ExpectStatus int `yaml:"expect_status"`

	// ExpectBody, when set, must appear in the http probe response body.
	ExpectBody string `yaml:"expect_body"`

	// Condition classifies a metrics probe: "field op value", e.g.
	// "up == 1" or "queue_size < 1000". A scrape that parses but fails the
	// condition is DEGRADED rather than DOWN.
	Condition string `yaml:"condition"`

	// Host and Port are the target of a tcp probe.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Auth configures how probes authenticate to the endpoint.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for a probed endpoint.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv names the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the basic-auth username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-service TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// NotifierSpec describes one alert delivery channel.
type NotifierSpec struct {
	// Name is the unique notifier identifier, taken from the notifiers map key.
	Name string `yaml:"-"`

	// Kind selects the delivery implementation: webhook | slack | teams | email.
	Kind string `yaml:"type"`

	// URL is the webhook target. URLEnv takes precedence when both are set,
	// so secrets can stay out of the config file.
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`

	// SMTP fields — used when Kind == "email".
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	CC          []string `yaml:"cc"`
	UseTLS      bool     `yaml:"use_tls"`

	// SubjectTemplate and BodyTemplate are rendered with {{var}} placeholders
	// before delivery. Empty templates fall back to package defaults.
	SubjectTemplate string `yaml:"subject_template"`
	BodyTemplate    string `yaml:"body_template"`

	// MaxConcurrent caps concurrent deliveries through this notifier.
	// 0 means unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Retry controls delivery retries for this notifier.
	Retry RetryConfig `yaml:"retry"`
}

// TargetURL returns the webhook URL, preferring the environment variable.
func (n *NotifierSpec) TargetURL() string {
	if n.URLEnv != "" {
		return os.Getenv(n.URLEnv)
	}
	return n.URL
}

// Password returns the SMTP password resolved from the environment.
func (n *NotifierSpec) Password() string {
	if n.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(n.PasswordEnv)
}

// RetryConfig controls delivery retry behaviour for one notifier.
type RetryConfig struct {
	// MaxAttempts is the total number of delivery tries, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the inter-attempt delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Timeout bounds one delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults, then the whole document
// is validated. A validation failure rejects the file as a unit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults, and validates a raw YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with global default values.
func defaults() *Config {
	return &Config{
		Global: GlobalConfig{
			CheckInterval:       DefaultCheckInterval,
			ProbeTimeout:        DefaultProbeTimeout,
			MaxConcurrentProbes: DefaultMaxConcurrent,
			HistorySize:         DefaultHistorySize,
			ListenAddr:          DefaultListenAddr,
		},
	}
}

// applyDefaults copies map keys into Name fields and fills per-entry defaults
// from the global section.
func applyDefaults(cfg *Config) {
	for name, svc := range cfg.Services {
		svc.Name = name
		if svc.Interval <= 0 {
			svc.Interval = cfg.Global.CheckInterval
		}
		if svc.Timeout <= 0 {
			svc.Timeout = cfg.Global.ProbeTimeout
		}
		if svc.FailureThreshold <= 0 {
			svc.FailureThreshold = 1
		}
		if svc.Kind == "http" && svc.Method == "" {
			svc.Method = "GET"
		}
	}
	for name, n := range cfg.Notifiers {
		n.Name = name
		if n.Retry.MaxAttempts <= 0 {
			n.Retry.MaxAttempts = DefaultRetryMaxAttempts
		}
		if n.Retry.InitialDelay <= 0 {
			n.Retry.InitialDelay = DefaultRetryInitialDelay
		}
		if n.Retry.Multiplier < 1 {
			n.Retry.Multiplier = DefaultRetryMultiplier
		}
		if n.Retry.MaxDelay <= 0 {
			n.Retry.MaxDelay = DefaultRetryMaxDelay
		}
		if n.Retry.Timeout <= 0 {
			n.Retry.Timeout = DefaultDeliveryTimeout
		}
		if n.Kind == "email" && n.SMTPPort == 0 {
			n.SMTPPort = 587
		}
	}
}

// validate checks required fields and structural constraints. The error
// message always names the offending service or notifier entry.
func validate(cfg *Config) error {
	if cfg.Global.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("global.max_concurrent_probes must be positive")
	}
	if cfg.Global.HistorySize <= 0 {
		return fmt.Errorf("global.history_size must be positive")
	}

	for _, name := range sortedKeys(cfg.Services) {
		svc := cfg.Services[name]
		if err := validateService(svc); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
	}
	for _, name := range sortedKeys(cfg.Notifiers) {
		n := cfg.Notifiers[name]
		if err := validateNotifier(n); err != nil {
			return fmt.Errorf("notifier %q: %w", name, err)
		}
	}
	return nil
}

func validateService(svc *ServiceSpec) error {
	if svc.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if svc.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	switch svc.Kind {
	case "http":
		if svc.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		if !strings.HasPrefix(svc.Endpoint, "http://") && !strings.HasPrefix(svc.Endpoint, "https://") {
			return fmt.Errorf("endpoint must be an http(s) URL")
		}
	case "tcp":
		if svc.Host == "" {
			return fmt.Errorf("host is required")
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("port must be in 1..65535")
		}
	case "metrics":
		if svc.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		if svc.Condition == "" {
			return fmt.Errorf("condition is required")
		}
		if _, err := ParseCondition(svc.Condition); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", svc.Kind)
	}

	switch svc.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("unknown auth mode %q", svc.Auth.Mode)
	}
	return nil
}

func validateNotifier(n *NotifierSpec) error {
	switch n.Kind {
	case "webhook", "slack", "teams":
		if n.URL == "" && n.URLEnv == "" {
			return fmt.Errorf("url or url_env is required")
		}
	case "email":
		if n.SMTPHost == "" {
			return fmt.Errorf("smtp_host is required")
		}
		if n.From == "" {
			return fmt.Errorf("from is required")
		}
		if len(n.To) == 0 {
			return fmt.Errorf("to must list at least one recipient")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", n.Kind)
	}

	if n.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if n.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
