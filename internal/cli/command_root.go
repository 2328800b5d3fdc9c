package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheCjw/DoHVerifier/internal/config"
	"github.com/TheCjw/DoHVerifier/internal/geo"
	"github.com/TheCjw/DoHVerifier/internal/httpclient"
	"github.com/TheCjw/DoHVerifier/internal/logging"
	"github.com/TheCjw/DoHVerifier/internal/probe"
	"github.com/TheCjw/DoHVerifier/internal/report"
	"github.com/TheCjw/DoHVerifier/pkg/registry"
	"github.com/TheCjw/DoHVerifier/pkg/stamp"
)

// newHTTPClient builds the client used for probing.
var newHTTPClient = httpclient.New

var CommandRoot = &cobra.Command{
	Use:   "doh-verifier",
	Short: "doh-verifier measures the latency of public DoH resolvers",
	Long: `doh-verifier reads the public resolver list, keeps the DNS-over-HTTPS resolvers reachable
over IPv4, and sends each of them a test query in parallel. The latency of every resolver and
the country of the address it answered with are printed as a table.

Without flags, the list is read from public-resolvers.md and countries are looked up in
GeoLite2-Country.mmdb, both in the working directory. Defaults can also be set with
DOHV_* environment variables or a .env file.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel)

		mode, err := probe.ParseMode(cfg.Mode)
		if err != nil {
			return err
		}

		format, err := report.ParseFormat(cfg.Format)
		if err != nil {
			return err
		}

		records, err := registry.Load(cmd.Context(), cfg.Registry, logger)
		if err != nil {
			return fmt.Errorf("failed to read resolver list: %w", err)
		}

		entries := stamp.FilterIPv4(registry.Decode(records, logger))
		logger.Info("loaded resolver list", "source", cfg.Registry, "entries", len(records), "doh_ipv4", len(entries))

		countries := openCountries(cfg.GeoIPDB, logger)
		if closer, ok := countries.(interface{ Close() error }); ok {
			defer closer.Close()
		}

		httpClient, err := newHTTPClient(httpclient.Options{
			ResolverAddr:        cfg.ResolverAddr,
			ResolverNetwork:     cfg.ResolverNetwork,
			MaxIdleConnsPerHost: cfg.Workers,
		})
		if err != nil {
			return err
		}

		engine := &probe.Engine{
			Client:    httpClient,
			Countries: countries,
			Mode:      mode,
			Workers:   cfg.Workers,
			Logger:    logger,
		}

		start := time.Now()
		results := engine.ProbeAll(cmd.Context(), entries, cfg.QueryName, cfg.Timeout)
		logger.Info("probed resolvers", "probed", len(entries), "reported", len(results), "elapsed", time.Since(start).Round(time.Millisecond))

		return report.Write(cmd.OutOrStdout(), results, format, cfg.QueryName)
	},
}

// flagEnv maps each root flag to the environment variable it overrides.
var flagEnv = map[string]string{
	"registry":         "DOHV_REGISTRY",
	"geoip-db":         "DOHV_GEOIP_DB",
	"query":            "DOHV_QUERY",
	"timeout":          "DOHV_TIMEOUT",
	"workers":          "DOHV_WORKERS",
	"mode":             "DOHV_MODE",
	"format":           "DOHV_FORMAT",
	"resolver-addr":    "DOHV_RESOLVER_ADDR",
	"resolver-network": "DOHV_RESOLVER_NETWORK",
	"log-level":        "LOG_LEVEL",
}

// loadConfig loads the configuration with the explicitly set flags taking
// precedence over the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	overrides := config.Overrides{}

	flags := cmd.Flags()
	for name, key := range flagEnv {
		if f := flags.Lookup(name); f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}

	return config.Load(overrides, ".env")
}

// openCountries opens the country database, falling back to no lookups when
// it is unavailable.
func openCountries(path string, logger *slog.Logger) geo.Lookup {
	db, err := geo.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("country database not found, countries will not be reported", "path", path)
		} else {
			logger.Warn("failed to open country database", "path", path, "error", err)
		}
		return geo.Nop{}
	}
	logger.Debug("opened country database", "path", path, "type", db.DatabaseType())
	return db
}

func init() {
	CommandRoot.Flags().String("registry", "public-resolvers.md", "path or URL of the resolver list")
	CommandRoot.Flags().String("geoip-db", "GeoLite2-Country.mmdb", "path of the MaxMind country database")
	CommandRoot.Flags().String("query", "dl.google.com", "domain name to query each resolver for")
	CommandRoot.Flags().Duration("timeout", 2*time.Second, "timeout for each resolver")
	CommandRoot.Flags().Int("workers", 0, "number of resolvers probed concurrently (default GOMAXPROCS)")
	CommandRoot.Flags().String("mode", string(probe.ModeJSON), "query format: json (DoH JSON API) or wire (RFC 8484)")
	CommandRoot.Flags().String("format", string(report.FormatTable), "output format: table or json")
	CommandRoot.Flags().String("resolver-addr", "", "custom resolver address:port used to resolve DoH hostnames (8.8.8.8:53)")
	CommandRoot.Flags().String("resolver-network", "udp", "custom resolver network transport to use (udp/tcp)")
	CommandRoot.Flags().String("log-level", "info", "log level: debug, info, warn or error")
}
