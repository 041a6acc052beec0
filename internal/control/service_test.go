package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/core/correlation"
	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/retry"
)

type fakeProbe struct {
	err     error
	checks  atomic.Int32
	closed  atomic.Bool
	lastCID atomic.Value
}

func (p *fakeProbe) Check(ctx context.Context) error {
	p.checks.Add(1)
	p.lastCID.Store(correlation.FromContext(ctx))
	return p.err
}

func (p *fakeProbe) Close() error {
	p.closed.Store(true)
	return nil
}

func testServiceConfig() *config.AppConfig {
	return &config.AppConfig{
		Profile:  config.ProfileDevelopment,
		Instance: "test",
		Retry:    retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffMultiplier: 2},
		Breaker:  breaker.Config{FailureThreshold: 0.5, MinimumRequests: 2, RecoveryTimeout: time.Minute},
		Dependencies: []config.DependencyConfig{
			{Name: "search", Kind: config.KindHTTP, URL: "http://search.invalid", Timeout: time.Second},
			{Name: "ledger", Kind: config.KindHTTP, URL: "http://ledger.invalid", Timeout: time.Second},
		},
	}
}

func TestService_ProbeOnce(t *testing.T) {
	search := &fakeProbe{}
	ledger := &fakeProbe{err: apperror.Dependency("ledger", "connection refused")}

	s, err := NewService(testServiceConfig(),
		WithProbe("search", search),
		WithProbe("ledger", ledger),
		WithGuardOptions(WithGuardSleep(noSleep)),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	failures := s.ProbeOnce(context.Background())
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %v", len(failures), failures)
	}
	if apperror.CodeOf(failures["ledger"]) != apperror.CodeDependency {
		t.Errorf("expected DEPENDENCY_ERROR, got %v", failures["ledger"])
	}
	if got := ledger.checks.Load(); got != 2 {
		t.Errorf("expected ledger to be checked twice, got %d", got)
	}
	if cid, _ := search.lastCID.Load().(string); !correlation.Valid(cid) {
		t.Errorf("expected probe to carry a correlation id, got %q", cid)
	}

	g, ok := s.Guard("ledger")
	if !ok {
		t.Fatal("guard for ledger not found")
	}
	if g.Breaker().State() != breaker.StateOpen {
		t.Errorf("expected ledger breaker to be open, got %s", g.Breaker().State())
	}
	if _, ok := s.Guard("unknown"); ok {
		t.Error("unexpected guard for unknown dependency")
	}

	// An open breaker rejects without touching the probe.
	failures = s.ProbeOnce(context.Background())
	if !errors.Is(failures["ledger"], breaker.ErrOpen) {
		t.Errorf("expected rejection, got %v", failures["ledger"])
	}
	if got := ledger.checks.Load(); got != 2 {
		t.Errorf("expected no further checks, got %d", got)
	}
}

func TestService_Lifecycle(t *testing.T) {
	cfg := testServiceConfig()
	cfg.Dependencies[0].ProbeInterval = 10 * time.Millisecond

	search := &fakeProbe{}
	ledger := &fakeProbe{}
	s, err := NewService(cfg, WithProbe("search", search), WithProbe("ledger", ledger))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if len(s.Registry().Statuses()) != 2 {
		t.Errorf("expected 2 breakers, got %d", len(s.Registry().Statuses()))
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for search.checks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if search.checks.Load() < 2 {
		t.Errorf("expected periodic probes, got %d", search.checks.Load())
	}
	if ledger.checks.Load() != 0 {
		t.Errorf("expected ledger probing to be disabled, got %d checks", ledger.checks.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !search.closed.Load() || !ledger.closed.Load() {
		t.Error("expected probes to be closed on stop")
	}
}

func TestService_UnknownKind(t *testing.T) {
	cfg := testServiceConfig()
	cfg.Dependencies = append(cfg.Dependencies, config.DependencyConfig{Name: "queue", Kind: "amqp"})

	if _, err := NewService(cfg); err == nil {
		t.Fatal("expected error for unknown dependency kind")
	}
}

type recordingStore struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingStore) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingStore) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingStore) PublishStatus(_ context.Context, _ string, st breaker.Status) error {
	time.Sleep(20 * time.Millisecond)
	r.add("publish " + st.Name + " " + st.State.String())
	return nil
}

func (r *recordingStore) ClearInstance(context.Context, string) error {
	r.add("clear")
	return nil
}

func (r *recordingStore) ClusterStatuses(context.Context) ([]redisclient.InstanceStatus, error) {
	return nil, nil
}

func (r *recordingStore) Close() error {
	r.add("close")
	return nil
}

func TestService_StopWaitsForStatusPublication(t *testing.T) {
	store := &recordingStore{}
	ledger := &fakeProbe{err: apperror.Dependency("ledger", "connection refused")}
	s, err := NewService(testServiceConfig(),
		WithProbe("search", &fakeProbe{}),
		WithProbe("ledger", ledger),
		WithStatusStore(store),
		WithGuardOptions(WithGuardSleep(noSleep)),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	// Trips the ledger breaker; the transition is published asynchronously.
	s.ProbeOnce(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Transitions after Stop are not published.
	if err := s.Registry().Reset("ledger"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	want := []string{"publish ledger OPEN", "clear", "close"}
	got := store.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
