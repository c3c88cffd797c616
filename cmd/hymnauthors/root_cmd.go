package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hymnal/refcache"
	"github.com/hymnal/refcache/extension"
	"github.com/hymnal/refcache/hymns"
	"github.com/hymnal/refcache/layer"
	"github.com/hymnal/refcache/postgrest"
	"github.com/mediocregopher/radix/v3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	EnvVariableURL    = "HYMNAL_URL"
	EnvVariableAPIKey = "HYMNAL_API_KEY"
	EnvVariableRedis  = "HYMNAL_REDIS"
)

type rootOpts struct {
	URL            string
	APIKey         string
	Redis          string
	RedisPrefix    string
	RedisRetention time.Duration
	MaxBatch       int
	BatchDelay     time.Duration
	MaxAttempts    int
	AttemptDelay   time.Duration
	MetricsAddr    string
	LogLevel       string

	Logger  zerolog.Logger
	Service *hymns.Service

	pool          *radix.Pool
	metricsServer *http.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
hymnauthors looks up the authors of catalog hymns.

Lookups are batched and cached, set --redis to share the cache between runs.

Workflow:
  hymnauthors resolve 3f1c 9a2e                       # Authors of two hymns
  hymnauthors resolve --redis localhost:6379 3f1c     # Same, reusing earlier lookups
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "hymnauthors",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.URL, "url", "u", "http://localhost:54321",
		fmt.Sprintf("base URL of the catalog database; you can also set the environment variable %s", EnvVariableURL))
	flags.StringVarP(&opts.APIKey, "api-key", "k", "",
		fmt.Sprintf("API key of the catalog database; you can also set the environment variable %s", EnvVariableAPIKey))
	flags.StringVar(&opts.Redis, "redis", "",
		fmt.Sprintf("address of a redis server caching lookups between runs; you can also set the environment variable %s", EnvVariableRedis))
	flags.StringVar(&opts.RedisPrefix, "redis-prefix", "hymnal:", "prefix of the redis keys")
	flags.DurationVar(&opts.RedisRetention, "redis-retention", time.Hour, "how long lookups are kept in redis, 0 keeps them forever")
	opts.addTuningFlags(flags)
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "one of trace, debug, info, warn, error")

	cmd.AddCommand(
		newResolve(opts).Command(),
	)

	return cmd
}

// addTuningFlags registers the batching and waiting settings shared by both resolvers
func (opts *rootOpts) addTuningFlags(flags *pflag.FlagSet) {
	flags.IntVar(&opts.MaxBatch, "max-batch", refcache.DefaultMaxBatch, "maximum number of ids sent in one database query")
	flags.DurationVar(&opts.BatchDelay, "batch-delay", refcache.DefaultBatchWait, "pause between database queries")
	flags.IntVar(&opts.MaxAttempts, "max-attempts", refcache.DefaultMaxAttempts, "how many times to check for a lookup before giving up")
	flags.DurationVar(&opts.AttemptDelay, "attempt-delay", refcache.DefaultAttemptDelay, "pause between checks for a lookup")
}

// PersistentPreRunE builds the service. Whatever was opened before a failure is
// released, on success the subcommand owns the cleanup through Close.
func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	if err := opts.setup(cmd); err != nil {
		opts.Close()
		return err
	}
	return nil
}

func (opts *rootOpts) setup(cmd *cobra.Command) error {
	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		return newUsageError(err.Error())
	}
	opts.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	opts.URL = fromEnv(cmd, "url", EnvVariableURL, opts.URL)
	opts.APIKey = fromEnv(cmd, "api-key", EnvVariableAPIKey, opts.APIKey)
	opts.Redis = fromEnv(cmd, "redis", EnvVariableRedis, opts.Redis)

	config := hymns.Config{
		Batcher: refcache.BatcherConfig{MaxBatch: opts.MaxBatch, Wait: opts.BatchDelay},
		Waiter:  refcache.WaiterConfig{MaxAttempts: opts.MaxAttempts, AttemptDelay: opts.AttemptDelay},
		HymnAuthorsExtensions: []refcache.Extension{
			&extension.Logger[string, string]{Logger: &opts.Logger},
		},
		AuthorExtensions: []refcache.Extension{
			&extension.Logger[string, hymns.Author]{Logger: &opts.Logger},
		},
	}

	if opts.Redis != "" {
		opts.pool, err = radix.NewPool("tcp", opts.Redis, 4)
		if err != nil {
			return errors.Wrapf(err, "connecting to redis at %s", opts.Redis)
		}
		hymnAuthorsLayer, err := layer.NewRedis[string, string](layer.RedisConfig{
			Client:    opts.pool,
			KeyPrefix: opts.RedisPrefix + hymns.HymnAuthorsTable + ":",
			Retention: opts.RedisRetention,
		})
		if err != nil {
			return err
		}
		authorLayer, err := layer.NewRedis[string, hymns.Author](layer.RedisConfig{
			Client:    opts.pool,
			KeyPrefix: opts.RedisPrefix + hymns.AuthorsTable + ":",
			Retention: opts.RedisRetention,
		})
		if err != nil {
			return err
		}
		config.HymnAuthorsLayers = []refcache.Layer[string, string]{hymnAuthorsLayer}
		config.AuthorLayers = []refcache.Layer[string, hymns.Author]{authorLayer}
	}

	if opts.MetricsAddr != "" {
		metrics := extension.NewStoreMetrics()
		registry := prometheus.NewRegistry()
		if err := metrics.Register(registry); err != nil {
			return err
		}
		config.HymnAuthorsExtensions = append(config.HymnAuthorsExtensions, extension.NewPrometheusMetrics[string, string](metrics))
		config.AuthorExtensions = append(config.AuthorExtensions, extension.NewPrometheusMetrics[string, hymns.Author](metrics))
		if err := opts.serveMetrics(registry); err != nil {
			return err
		}
	}

	opts.Service, err = hymns.NewService(postgrest.New(nil, opts.URL, opts.APIKey), config)
	return err
}

// Close waits for the lookups in flight, then stops the metrics server and the redis pool
func (opts *rootOpts) Close() error {
	// let the dispatchers finish writing to redis
	if opts.Service != nil {
		opts.Service.Drain()
	}
	if opts.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		opts.metricsServer.Shutdown(ctx)
		opts.metricsServer = nil
	}
	if opts.pool != nil {
		err := opts.pool.Close()
		opts.pool = nil
		return err
	}
	return nil
}

func (opts *rootOpts) serveMetrics(registry *prometheus.Registry) error {
	listener, err := net.Listen("tcp", opts.MetricsAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", opts.MetricsAddr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	opts.metricsServer = &http.Server{Handler: mux}
	opts.Logger.Info().Str("addr", listener.Addr().String()).Msg("serving metrics")

	go func() {
		if err := opts.metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			opts.Logger.Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}

// fromEnv returns the environment variable when the flag was not set explicitly
func fromEnv(cmd *cobra.Command, flag, variable, value string) string {
	if env := os.Getenv(variable); env != "" && !cmd.Flags().Changed(flag) {
		return env
	}
	return value
}
