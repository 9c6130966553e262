package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Platforms PlatformsConfig `yaml:"platforms"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Governor  GovernorConfig  `yaml:"governor"`
	Semantic  SemanticConfig  `yaml:"semantic"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PlatformsConfig holds per-platform credentials.
type PlatformsConfig struct {
	GitHub    GitHubConfig    `yaml:"github"`
	GitLab    GitLabConfig    `yaml:"gitlab"`
	Bitbucket BitbucketConfig `yaml:"bitbucket"`
}

// GitHubConfig holds GitHub authentication settings. Auth is "token"
// (default) or "app".
type GitHubConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	Auth           string `yaml:"auth"`
	Token          string `yaml:"token"`
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
	BaseURL        string `yaml:"base_url"`
}

// GitLabConfig holds GitLab settings.
type GitLabConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// BitbucketConfig holds Bitbucket settings.
type BitbucketConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Username    string `yaml:"username"`
	AppPassword string `yaml:"app_password"`
	BaseURL     string `yaml:"base_url"`
}

// CacheConfig holds cache store settings.
type CacheConfig struct {
	Path      string `yaml:"path"`
	TTLRaw    string `yaml:"ttl"`
	MaxSizeMB int64  `yaml:"max_size_mb"`
	Offline   bool   `yaml:"offline"`
}

// WeightsConfig holds the composite ranking weights.
type WeightsConfig struct {
	Popularity float64 `yaml:"popularity"`
	Relevance  float64 `yaml:"relevance"`
	Freshness  float64 `yaml:"freshness"`
}

// SearchConfig holds search coordinator settings.
type SearchConfig struct {
	DeadlineRaw string        `yaml:"deadline"`
	PerPage     int           `yaml:"per_page"`
	Workers     int           `yaml:"workers"`
	MaxPages    int           `yaml:"max_pages"`
	Priority    []string      `yaml:"priority"`
	Weights     WeightsConfig `yaml:"weights"`
}

// GovernorConfig holds request governor settings shared by every platform.
type GovernorConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelayRaw      string  `yaml:"base_delay"`
	MaxDelayRaw       string  `yaml:"max_delay"`
	FailureThreshold  int     `yaml:"failure_threshold"`
	CoolDownRaw       string  `yaml:"cool_down"`
}

// SemanticConfig configures the optional embedding reranker. An empty Type
// disables it.
type SemanticConfig struct {
	Type      string  `yaml:"type"`
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key"`
	URL       string  `yaml:"url"`
	Weight    float64 `yaml:"weight"`
	CacheSize int     `yaml:"cache_size"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// GitHubEnabled reports whether GitHub is searched. It defaults to true.
func (c GitHubConfig) GitHubEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TTL returns the parsed cache TTL.
func (c CacheConfig) TTL() (time.Duration, error) {
	if c.TTLRaw == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(c.TTLRaw)
}

// MaxSizeBytes returns the cache size budget in bytes.
func (c CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB << 20
}

// Deadline returns the parsed fan-out deadline.
func (s SearchConfig) Deadline() (time.Duration, error) {
	if s.DeadlineRaw == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(s.DeadlineRaw)
}

// BaseDelay returns the parsed initial backoff delay.
func (g GovernorConfig) BaseDelay() (time.Duration, error) {
	if g.BaseDelayRaw == "" {
		return time.Second, nil
	}
	return time.ParseDuration(g.BaseDelayRaw)
}

// MaxDelay returns the parsed backoff cap.
func (g GovernorConfig) MaxDelay() (time.Duration, error) {
	if g.MaxDelayRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(g.MaxDelayRaw)
}

// CoolDown returns the parsed circuit breaker cool-down.
func (g GovernorConfig) CoolDown() (time.Duration, error) {
	if g.CoolDownRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(g.CoolDownRaw)
}

// DefaultPath returns ~/.reposcout/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reposcout/config.yaml"
	}
	return filepath.Join(home, ".reposcout", "config.yaml")
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Platforms.GitHub.Auth == "" {
		cfg.Platforms.GitHub.Auth = "token"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "~/.reposcout/cache.db"
	}
	cfg.Cache.Path = expandTilde(cfg.Cache.Path)
	cfg.Platforms.GitHub.PrivateKeyPath = expandTilde(cfg.Platforms.GitHub.PrivateKeyPath)
	if cfg.Cache.TTLRaw == "" {
		cfg.Cache.TTLRaw = "24h"
	}
	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = 500
	}
	if cfg.Search.DeadlineRaw == "" {
		cfg.Search.DeadlineRaw = "15s"
	}
	if cfg.Search.PerPage == 0 {
		cfg.Search.PerPage = 30
	}
	if cfg.Search.Workers == 0 {
		cfg.Search.Workers = 4
	}
	if cfg.Search.MaxPages == 0 {
		cfg.Search.MaxPages = 5
	}
	if len(cfg.Search.Priority) == 0 {
		cfg.Search.Priority = []string{"github", "gitlab", "bitbucket"}
	}
	if cfg.Search.Weights == (WeightsConfig{}) {
		cfg.Search.Weights = WeightsConfig{Popularity: 0.4, Relevance: 0.4, Freshness: 0.2}
	}
	if cfg.Governor.MaxAttempts == 0 {
		cfg.Governor.MaxAttempts = 3
	}
	if cfg.Governor.BaseDelayRaw == "" {
		cfg.Governor.BaseDelayRaw = "1s"
	}
	if cfg.Governor.MaxDelayRaw == "" {
		cfg.Governor.MaxDelayRaw = "30s"
	}
	if cfg.Governor.FailureThreshold == 0 {
		cfg.Governor.FailureThreshold = 5
	}
	if cfg.Governor.CoolDownRaw == "" {
		cfg.Governor.CoolDownRaw = "30s"
	}
	if cfg.Semantic.Type != "" && cfg.Semantic.Weight == 0 {
		cfg.Semantic.Weight = 0.3
	}
}

func validate(cfg *Config) error {
	for name, raw := range map[string]string{
		"cache.ttl":           cfg.Cache.TTLRaw,
		"search.deadline":     cfg.Search.DeadlineRaw,
		"governor.base_delay": cfg.Governor.BaseDelayRaw,
		"governor.max_delay":  cfg.Governor.MaxDelayRaw,
		"governor.cool_down":  cfg.Governor.CoolDownRaw,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, raw)
		}
	}

	if cfg.Search.PerPage < 0 || cfg.Search.PerPage > 100 {
		return fmt.Errorf("search.per_page must be between 1 and 100, got %d", cfg.Search.PerPage)
	}
	if cfg.Search.Workers < 0 {
		return fmt.Errorf("search.workers must be positive, got %d", cfg.Search.Workers)
	}
	if cfg.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache.max_size_mb must not be negative, got %d", cfg.Cache.MaxSizeMB)
	}
	if cfg.Governor.RequestsPerSecond < 0 {
		return fmt.Errorf("governor.requests_per_second must not be negative, got %f", cfg.Governor.RequestsPerSecond)
	}

	w := cfg.Search.Weights
	for name, v := range map[string]float64{
		"popularity": w.Popularity,
		"relevance":  w.Relevance,
		"freshness":  w.Freshness,
		"semantic":   cfg.Semantic.Weight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight must be between 0 and 1, got %f", name, v)
		}
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Search.Priority {
		switch p {
		case "github", "gitlab", "bitbucket":
		default:
			return fmt.Errorf("unknown platform %q in search.priority", p)
		}
		if seen[p] {
			return fmt.Errorf("platform %q listed twice in search.priority", p)
		}
		seen[p] = true
	}

	switch cfg.Platforms.GitHub.Auth {
	case "token":
	case "app":
		gh := cfg.Platforms.GitHub
		if gh.AppID == 0 || gh.InstallationID == 0 {
			return fmt.Errorf("github app auth requires app_id and installation_id")
		}
		if gh.PrivateKey == "" && gh.PrivateKeyPath == "" {
			return fmt.Errorf("github app auth requires private_key or private_key_path")
		}
	default:
		return fmt.Errorf("unsupported github auth mode: %s", cfg.Platforms.GitHub.Auth)
	}

	if bb := cfg.Platforms.Bitbucket; bb.Enabled && (bb.Username == "") != (bb.AppPassword == "") {
		return fmt.Errorf("bitbucket requires both username and app_password")
	}

	validEmbedTypes := map[string]bool{"openai": true, "ollama": true, "": true}
	if !validEmbedTypes[cfg.Semantic.Type] {
		return fmt.Errorf("unsupported semantic provider type: %s", cfg.Semantic.Type)
	}
	if cfg.Semantic.Type == "openai" && cfg.Semantic.APIKey == "" {
		return fmt.Errorf("semantic provider openai requires api_key")
	}

	return nil
}
