// Package app assembles the provisioning components from a Config. It is
// shared by the long-running worker and the provisionctl tool.
package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"example.com/user-provisioner/internal/config"
	"example.com/user-provisioner/internal/metrics"
	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/pacer"
	"example.com/user-provisioner/internal/provider"
	"example.com/user-provisioner/internal/provider/registry"
	"example.com/user-provisioner/internal/provisioner"
	"example.com/user-provisioner/internal/store"
	"example.com/user-provisioner/internal/tenant"
)

// Resolver builds the tenant lookup: the YAML registry when configured, then
// the environment, cached for TenantCacheTTL.
func Resolver(cfg config.Config) (tenant.Resolver, error) {
	var chain tenant.Chain
	if cfg.TenantsFile != "" {
		f, err := tenant.LoadFile(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
	}
	chain = append(chain, tenant.NewEnvResolver())
	if cfg.TenantCacheTTL <= 0 {
		return chain, nil
	}
	return tenant.NewCached(chain, cfg.TenantCacheTTL), nil
}

// Sinks holds the result sinks and the resources behind them.
type Sinks struct {
	Files *store.FileSink
	MySQL *store.MySQLSink
	Multi store.Multi
}

// OpenSinks always writes result files; MySQL is added when MYSQL_DSN is set.
// A non-nil summary writer also receives the text summary of each run.
func OpenSinks(cfg config.Config, summary io.Writer, log *zap.Logger) (*Sinks, error) {
	s := &Sinks{Files: store.NewFileSink(cfg.ResultsDir)}
	s.Multi = append(s.Multi, s.Files)
	if cfg.MySQLDSN != "" {
		m, err := store.NewMySQLSink(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		log.Info("using MySQL result store")
		s.MySQL = m
		s.Multi = append(s.Multi, m)
	}
	if summary != nil {
		s.Multi = append(s.Multi, store.SummarySink{W: summary})
	}
	return s, nil
}

func (s *Sinks) Close() error {
	if s.MySQL != nil {
		return s.MySQL.Close()
	}
	return nil
}

// Pacers returns the per-run pacer factory. With REDIS_ADDR set, every worker
// process shares one call slot per provider interval.
func Pacers(cfg config.Config, log *zap.Logger) (func(model.Provider) provisioner.Waiter, io.Closer) {
	var client *rdb.Client
	if cfg.RedisAddr != "" {
		client = rdb.NewClient(&rdb.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, shared pacing will fail open", zap.Error(err))
		}
	}
	shared := map[model.Provider]pacer.Shared{}
	if client != nil {
		for _, p := range []model.Provider{model.Microsoft, model.Google} {
			shared[p] = pacer.NewRedisWindow(client, 1, pacer.Interval(p))
		}
	}
	factory := func(p model.Provider) provisioner.Waiter {
		opts := []pacer.Option{pacer.WithLogger(log)}
		if s, ok := shared[p]; ok {
			opts = append(opts, pacer.WithShared(s))
		}
		return pacer.New(p, opts...)
	}
	return factory, closerFunc(func() error {
		if client == nil {
			return nil
		}
		return client.Close()
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Orchestrator wires an orchestrator with real provider adapters.
func Orchestrator(cfg config.Config, resolver tenant.Resolver, sink provisioner.ResultSink, pacers func(model.Provider) provisioner.Waiter, reg prometheus.Registerer, log *zap.Logger) *provisioner.Orchestrator {
	var rec metrics.Recorder = metrics.Nop{}
	if reg != nil {
		rec = metrics.NewCollector(reg)
	}
	factory := registry.Factory(registry.Options{
		HTTPClient: provider.NewHTTPClient(cfg.ProviderTimeout),
		Logger:     log,
	})
	return provisioner.New(resolver, sink,
		provisioner.WithAdapterFactory(factory),
		provisioner.WithPacerFactory(pacers),
		provisioner.WithLogger(log),
		provisioner.WithMetrics(rec),
	)
}

// IsRunFailure reports whether err aborted a run, as opposed to a report that
// was produced but not delivered.
func IsRunFailure(err error) bool {
	return err != nil && !errors.Is(err, provisioner.ErrDelivery)
}
