package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// env reads typed values through a single lookup chain. Malformed values fall back to the
// default so a typo never takes effect silently as zero.
type env struct {
	lookup func(string) (string, bool)
}

func (e env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e env) str(key, fallback string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if v, ok := e.raw(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if v, ok := e.raw(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) boolean(key string, fallback bool) bool {
	if v, ok := e.raw(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (e env) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	return splitList(v)
}

func (e env) pairs(key string) map[string]string {
	v, ok := e.raw(key)
	if !ok {
		return map[string]string{}
	}
	return ParseKeyValueList(v)
}

func splitList(value string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// ParseKeyValueList parses "k1=v1,k2=v2". Keys are lower-cased, empty pairs ignored.
func ParseKeyValueList(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func readDotEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, "export "))
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: expected KEY=VALUE", path, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// SecretsConfig configures the Secret Manager fetcher, which must exist before Load runs.
type SecretsConfig struct {
	Environment     string
	DefaultProject  string
	ProjectMap      map[string]string
	VersionPins     map[string]string
	FallbackFile    string
	CredentialsFile string
}

// SecretsFromValues derives fetcher settings from the merged environment returned by
// EnvironmentValues.
func SecretsFromValues(values map[string]string) SecretsConfig {
	e := env{lookup: func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}}
	cfg := SecretsConfig{
		Environment:     strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		DefaultProject:  e.str("API_SECRET_DEFAULT_PROJECT_ID", e.str("API_FIREBASE_PROJECT_ID", "")),
		ProjectMap:      e.pairs("API_SECRET_ENV_PROJECTS"),
		VersionPins:     map[string]string{},
		FallbackFile:    e.str("API_SECRET_FALLBACK_FILE", defaultSecretFallbackFile),
		CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
	}
	// Pins are keyed by secret name, which is case sensitive.
	if raw, ok := e.raw("API_SECRET_VERSION_PINS"); ok {
		for _, part := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(part, "=")
			if k, v = strings.TrimSpace(k), strings.TrimSpace(v); ok && k != "" && v != "" {
				cfg.VersionPins[k] = v
			}
		}
	}
	return cfg
}
