package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used by Load when no path is given. BOOKAPI_CONFIG overrides it.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	DatabaseURL             string   `yaml:"databaseURL"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	SessionTTL              string   `yaml:"sessionTTL"`
	LogLevel                string   `yaml:"logLevel"`
	JWTPrivateKeyPath       string   `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath        string   `yaml:"jwtPublicKeyPath"`
	JWTKeyID                string   `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys     string   `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer               string   `yaml:"jwtIssuer"`
	JWTAudience             string   `yaml:"jwtAudience"`
	JWTLeeway               string   `yaml:"jwtLeeway"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCIDRs"`
}

// Load reads config from path, applies environment overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("BOOKAPI_CONFIG"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"BOOKAPI_PORT", &cfg.Port},
		{"BOOKAPI_LOG_LEVEL", &cfg.LogLevel},
		{"BOOKAPI_SESSION_TTL", &cfg.SessionTTL},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath},
		{"JWT_PUBLIC_KEY_PATH", &cfg.JWTPublicKeyPath},
		{"JWT_KEY_ID", &cfg.JWTKeyID},
		{"JWT_VERIFY_PUBLIC_KEYS", &cfg.JWTVerifyPublicKeys},
		{"JWT_ISSUER", &cfg.JWTIssuer},
		{"JWT_AUDIENCE", &cfg.JWTAudience},
		{"JWT_LEEWAY", &cfg.JWTLeeway},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("BOOKAPI_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BOOKAPI_LOGIN_RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.LoginRateLimitPerMinute = n
	}
	if v := os.Getenv("BOOKAPI_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitList(v)
	}
	return nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set JWT_PRIVATE_KEY_PATH)")
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("sessionTTL", ttlStr)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseOptionalDuration("jwtLeeway", leewayStr)
}

func parseOptionalDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	pairs := splitList(raw)
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
