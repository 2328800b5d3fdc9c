// Package config loads the verifier defaults from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Registry        string
	GeoIPDB         string
	QueryName       string
	Timeout         time.Duration
	Workers         int
	Mode            string
	Format          string
	ResolverAddr    string
	ResolverNetwork string
	LogLevel        string
}

// Overrides maps environment variable names to values that take precedence
// over the environment, such as explicitly set command line flags.
type Overrides map[string]string

func (o Overrides) getenv(key, def string) string {
	if v, ok := o[key]; ok {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the configuration from overrides and the environment, after
// loading the given .env files. Missing .env files are ignored.
func Load(overrides Overrides, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("invalid env file %q: %w", f, err)
		}
	}

	getenv := overrides.getenv

	cfg := Config{
		Registry:        getenv("DOHV_REGISTRY", "public-resolvers.md"),
		GeoIPDB:         getenv("DOHV_GEOIP_DB", "GeoLite2-Country.mmdb"),
		QueryName:       getenv("DOHV_QUERY", "dl.google.com"),
		Mode:            getenv("DOHV_MODE", "json"),
		Format:          getenv("DOHV_FORMAT", "table"),
		ResolverAddr:    getenv("DOHV_RESOLVER_ADDR", ""),
		ResolverNetwork: getenv("DOHV_RESOLVER_NETWORK", "udp"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	timeoutStr := getenv("DOHV_TIMEOUT", "2s")
	d, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DOHV_TIMEOUT=%q: %w", timeoutStr, err)
	}
	cfg.Timeout = d

	workersStr := getenv("DOHV_WORKERS", strconv.Itoa(runtime.GOMAXPROCS(0)))
	n, err := strconv.Atoi(workersStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DOHV_WORKERS=%q: %w", workersStr, err)
	}
	cfg.Workers = n

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the loaded values.
func (c Config) Validate() error {
	if c.Registry == "" {
		return fmt.Errorf("registry must not be empty")
	}
	if c.QueryName == "" {
		return fmt.Errorf("query name must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
