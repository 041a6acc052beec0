package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	_ "github.com/lib/pq"

	"github.com/vietddude/faultline/internal/mapping"
	"github.com/vietddude/faultline/internal/resilience/metrics"
)

// Supported database/sql driver names.
const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Driver   string `yaml:"driver"` // pgx (default) or postgres (lib/pq)
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps a PostgreSQL dependency.
type DB struct {
	*sql.DB
	name string
}

// Open creates the pool without connecting; the first Check does that so an
// unreachable database does not prevent startup.
func Open(name string, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPGX
	}
	if driver != DriverPGX && driver != DriverPQ {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	return &DB{DB: db, name: name}, nil
}

// Check pings the database. Driver errors are classified into application
// errors where the driver exposes enough to do so.
func (db *DB) Check(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		if ae, ok := mapping.FromPostgres(err); ok {
			return ae
		}
		return fmt.Errorf("ping %s: %w", db.name, err)
	}
	return nil
}

// StartMetricsCollector starts a background goroutine to collect pool metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.collect()
			}
		}
	}()
}

func (db *DB) collect() {
	stats := db.Stats()
	// MaxOpenConnections is 0 when unlimited
	if stats.MaxOpenConnections > 0 {
		usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
		metrics.DBPoolUsage.WithLabelValues(db.name).Set(usage)
	}
}
