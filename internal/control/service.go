package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/core/correlation"
	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
	"github.com/vietddude/faultline/internal/infra/upstream"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/metrics"
	"github.com/vietddude/faultline/internal/server"
)

// StatusStore shares breaker snapshots between instances.
type StatusStore interface {
	PublishStatus(ctx context.Context, instance string, st breaker.Status) error
	ClearInstance(ctx context.Context, instance string) error
	ClusterStatuses(ctx context.Context) ([]redisclient.InstanceStatus, error)
	Close() error
}

// Probe checks the health of one dependency.
type Probe interface {
	Check(ctx context.Context) error
	Close() error
}

// Service wires breakers, guards, probes and the status server together.
type Service struct {
	cfg      *config.AppConfig
	registry *breaker.Registry
	guards   map[string]*Guard
	probes   map[string]Probe
	deps     map[string]config.DependencyConfig
	dbs      []*postgres.DB
	store    StatusStore
	server   *server.Server
	log      *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	probes      map[string]Probe
	store       StatusStore
	guardOpts   []GuardOption
	breakerOpts []breaker.Option
}

// WithProbe supplies the probe for a dependency instead of building one from its kind.
func WithProbe(name string, p Probe) ServiceOption {
	return func(o *serviceOptions) { o.probes[name] = p }
}

// WithStatusStore replaces the Redis status store built from configuration.
func WithStatusStore(st StatusStore) ServiceOption {
	return func(o *serviceOptions) { o.store = st }
}

// WithGuardOptions applies opts to every guard.
func WithGuardOptions(opts ...GuardOption) ServiceOption {
	return func(o *serviceOptions) { o.guardOpts = append(o.guardOpts, opts...) }
}

// WithBreakerOptions applies opts to every breaker.
func WithBreakerOptions(opts ...breaker.Option) ServiceOption {
	return func(o *serviceOptions) { o.breakerOpts = append(o.breakerOpts, opts...) }
}

// NewService creates a Service from configuration. Nothing is contacted until Start.
func NewService(cfg *config.AppConfig, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{probes: make(map[string]Probe)}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		cfg:    cfg,
		guards: make(map[string]*Guard),
		probes: make(map[string]Probe),
		deps:   make(map[string]config.DependencyConfig),
		log:    slog.Default(),
	}

	// 1. Status store
	if o.store != nil {
		s.store = o.store
	} else if cfg.Redis.URL != "" {
		store, err := redisclient.New("status-store", cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init status store: %w", err)
		}
		s.store = store
	}

	// 2. Breakers
	breakerOpts := append([]breaker.Option{
		breaker.WithFailurePredicate(IsDependencyFailure),
		breaker.OnStateChange(s.onStateChange),
	}, o.breakerOpts...)
	s.registry = breaker.NewRegistry(cfg.Breaker, cfg.BreakerOverrides(), breakerOpts...)

	// 3. Guards and probes
	for _, dep := range cfg.Dependencies {
		s.deps[dep.Name] = dep
		b := s.registry.Get(dep.Name)
		metrics.BreakerState.WithLabelValues(dep.Name).Set(float64(b.State()))
		s.guards[dep.Name] = NewGuard(b, cfg.RetryFor(dep.Name), o.guardOpts...)

		if p, ok := o.probes[dep.Name]; ok {
			s.probes[dep.Name] = p
			continue
		}
		p, err := s.buildProbe(dep)
		if err != nil {
			s.closeProbes()
			return nil, fmt.Errorf("failed to init probe %s: %w", dep.Name, err)
		}
		s.probes[dep.Name] = p
	}

	// 4. Status server
	serverOpts := []server.Option{server.WithProduction(cfg.Production())}
	if s.store != nil {
		serverOpts = append(serverOpts, server.WithCluster(s.store))
	}
	s.server = server.New(cfg.Server.Port, s.registry, serverOpts...)

	return s, nil
}

func (s *Service) buildProbe(dep config.DependencyConfig) (Probe, error) {
	switch dep.Kind {
	case config.KindHTTP:
		return upstream.NewHTTPProbe(dep.Name, dep.URL, dep.Timeout), nil
	case config.KindGRPC:
		return upstream.NewGRPCProbe(dep.Name, dep.URL, dep.Service)
	case config.KindRedis:
		return redisclient.New(dep.Name, redisclient.Config{URL: dep.URL})
	case config.KindPostgres:
		dbCfg := s.cfg.Database
		dbCfg.URL = dep.URL
		db, err := postgres.Open(dep.Name, dbCfg)
		if err != nil {
			return nil, err
		}
		s.dbs = append(s.dbs, db)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown dependency kind %q", dep.Kind)
	}
}

// Registry returns the breaker registry.
func (s *Service) Registry() *breaker.Registry { return s.registry }

// Server returns the status server.
func (s *Service) Server() *server.Server { return s.server }

// Guard returns the guard for a configured dependency.
func (s *Service) Guard(name string) (*Guard, bool) {
	g, ok := s.guards[name]
	return g, ok
}

// Start starts the server, probe loops and status publication.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Start Status Server
	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("Status server failed", "error", err)
		}
	}()

	for _, db := range s.dbs {
		db.StartMetricsCollector(ctx)
	}

	// Start Probes
	for name, p := range s.probes {
		dep := s.deps[name]
		if dep.ProbeInterval <= 0 {
			continue
		}
		s.log.Info("Starting dependency probe", "dependency", name, "interval", dep.ProbeInterval)
		s.wg.Add(1)
		go func(g *Guard, p Probe, dep config.DependencyConfig) {
			defer s.wg.Done()
			s.runProbe(ctx, g, p, dep.ProbeInterval, dep.Timeout)
		}(s.guards[name], p, dep)
	}

	if s.store != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runStatusPublisher(ctx)
		}()
	}
	return nil
}

// Stop stops background work, releases dependencies and shuts the server down.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping faultline...")

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.closeProbes()

	// Close Redis
	if s.store != nil {
		if err := s.store.ClearInstance(ctx, s.cfg.Instance); err != nil {
			s.log.Warn("Failed to clear published status", "error", err)
		}
		if err := s.store.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}

	// Stop Status Server
	return s.server.Stop(ctx)
}

func (s *Service) closeProbes() {
	for name, p := range s.probes {
		if err := p.Close(); err != nil {
			s.log.Warn("Failed to close probe", "dependency", name, "error", err)
		}
	}
}

// ProbeOnce exercises every dependency once through its guard and returns
// the failures by dependency name.
func (s *Service) ProbeOnce(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, p := range s.probes {
		if err := s.probe(ctx, s.guards[name], p, s.deps[name].Timeout); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (s *Service) runProbe(ctx context.Context, g *Guard, p Probe, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.probe(ctx, g, p, timeout); err != nil && ctx.Err() == nil {
			s.log.Warn("Dependency probe failed", "dependency", g.Name(), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) probe(ctx context.Context, g *Guard, p Probe, timeout time.Duration) error {
	ctx = correlation.WithID(ctx, "")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return g.Call(ctx, p.Check)
}

func (s *Service) onStateChange(name string, from, to breaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	metrics.BreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()

	if s.store == nil {
		return
	}
	b, ok := s.registry.Lookup(name)
	if !ok {
		return
	}
	st := b.Status()

	// Publications are tracked so none lands after Stop clears the instance.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.PublishStatus(ctx, s.cfg.Instance, st); err != nil {
			s.log.Debug("Failed to publish breaker status", "dependency", name, "error", err)
		}
	}()
}

func (s *Service) runStatusPublisher(ctx context.Context) {
	interval := s.cfg.Redis.StatusTTL / 2
	if interval <= 0 {
		interval = redisclient.DefaultStatusTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, st := range s.registry.Statuses() {
			if err := s.store.PublishStatus(ctx, s.cfg.Instance, st); err != nil {
				if ctx.Err() == nil {
					s.log.Warn("Failed to publish breaker status", "dependency", st.Name, "error", err)
				}
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
