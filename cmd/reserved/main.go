// Command reserved serves seat bookings over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-reserve/v1/adapter"
	"github.com/mirkobrombin/go-reserve/v1/booking"
	"github.com/mirkobrombin/go-reserve/v1/events"
	"github.com/mirkobrombin/go-reserve/v1/lock"
	"github.com/mirkobrombin/go-reserve/v1/metrics"
)

var configPath = flag.String("config", "", "Path to a YAML config file; the environment is used when empty or missing")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reserved: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reserved stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(c LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// deps holds the backends selected by the configuration.
type deps struct {
	locker    lock.Locker
	store     booking.Store
	bus       events.Bus
	publisher events.Publisher
	closers   []func() error
}

func (d *deps) close(logger *slog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("close backend", slog.Any("error", err))
		}
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	d, err := buildDeps(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer d.close(logger)

	catalog := demoCatalog(time.Now())
	orch := booking.NewOrchestrator(d.locker, d.store,
		booking.WithCatalog(catalog),
		booking.WithPublisher(d.publisher),
		booking.WithLockTTL(cfg.Lock.TTL),
		booking.WithLockWait(cfg.Lock.Wait, cfg.Lock.WaitInterval),
		booking.WithMetrics(reg),
		booking.WithLogger(logger),
	)
	if n, err := orch.Rehydrate(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Info("restored bookings", slog.Int("count", n))
	}
	srv := &server{orch: orch, catalog: catalog, bus: d.bus, reg: reg, logger: logger}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("reserved listening",
			slog.String("addr", cfg.Addr),
			slog.String("lock", cfg.Lock.Backend),
			slog.String("store", cfg.Store.Backend),
			slog.String("events", cfg.Events.Backend),
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildDeps(ctx context.Context, cfg *Config, reg *prometheus.Registry) (*deps, error) {
	d := &deps{}
	var (
		rdb *redis.Client
		db  *gorm.DB
	)
	needRedis := cfg.Lock.Backend == "redis" || cfg.Store.Backend == "redis"
	needSQL := cfg.Lock.Backend == "sql" || cfg.Store.Backend == "sql"

	if needRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, rdb.Close)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			d.close(slog.Default())
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
	}
	if needSQL {
		var err error
		db, err = openSQL(cfg.SQL)
		if err != nil {
			d.close(slog.Default())
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			d.closers = append(d.closers, sqlDB.Close)
		}
	}

	var (
		base lock.Locker
		err  error
	)
	switch cfg.Lock.Backend {
	case "redis":
		base = lock.NewRedis(rdb)
	case "sql":
		base, err = lock.NewGorm(db)
	default:
		base = lock.NewInMemory()
	}
	if err != nil {
		d.close(slog.Default())
		return nil, fmt.Errorf("lock backend: %w", err)
	}
	d.locker = lock.NewInstrumented(base, metrics.NewLockMetrics(reg))

	switch cfg.Store.Backend {
	case "redis":
		d.store = adapter.NewRedisStore(rdb)
	case "sql":
		d.store, err = adapter.NewGormStore(db)
	default:
		d.store = booking.NewInMemoryStore()
	}
	if err != nil {
		d.close(slog.Default())
		return nil, fmt.Errorf("store backend: %w", err)
	}

	switch cfg.Events.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Events.NATSURL)
		if err != nil {
			d.close(slog.Default())
			return nil, fmt.Errorf("connect nats %s: %w", cfg.Events.NATSURL, err)
		}
		d.closers = append(d.closers, func() error { nc.Close(); return nil })
		bus := events.NewNATSBus(nc)
		d.bus, d.publisher = bus, bus
	case "kafka":
		kp, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, nil)
		if err != nil {
			d.close(slog.Default())
			return nil, fmt.Errorf("connect kafka %v: %w", cfg.Events.KafkaBrokers, err)
		}
		d.closers = append(d.closers, kp.Close)
		bus := events.NewInMemoryBus()
		d.bus = bus
		d.publisher = events.Multi{bus, kp}
	default:
		bus := events.NewInMemoryBus()
		d.bus, d.publisher = bus, bus
	}
	return d, nil
}

func openSQL(c SQLConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "postgres":
		dialector = postgres.Open(c.DSN)
	default:
		dialector = sqlite.Open(c.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", c.Driver, err)
	}
	if c.Driver == "sqlite" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}
