package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/aws_s3"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/batcher"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/broker"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/browser"
	cacheClient "github.com/ahmaddev-codes/amala-hack-sub003/internal/cache"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/dedupe"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/metrics"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/persistence"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/strategy"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/worker"
	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cfg   *config.Config
	log   *slog.Logger
	store persistence.DocumentStore
	cache cacheClient.ReadCache
	m     *metrics.Metrics
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	m = metrics.New()
	store = setupStore(ctx)
	defer closeStore()
	cache = setupCache()
	defer cache.Close()

	docs := batcher.New(store, cache, batcher.Options{
		Window:   cfg.BatcherSettings.Window,
		MaxBatch: cfg.BatcherSettings.MaxBatch,
		CacheTTL: cfg.BatcherSettings.CacheTTL,
	}, log, m)
	defer docs.Close()

	chain, closeBrowser := setupChain(ctx)
	defer closeBrowser()

	d := cfg.DedupeSettings
	detector := dedupe.NewDetector(dedupe.Options{
		ExactThreshold:   d.ExactThreshold,
		StrongThreshold:  d.StrongThreshold,
		ReviewThreshold:  d.ReviewThreshold,
		ProximityRadiusM: d.ProximityRadiusM,
	}, log, m)

	metricsServer := startMetricsServer()
	log.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.Any("strategies", chain.Names()))

	targetChan := make(chan model.ScrapingTarget, 100)
	reportChan := make(chan *model.DiscoveryReport, 100)
	panicChan := make(chan struct{}, 1)

	brokerWg := &sync.WaitGroup{}
	brokerWg.Add(1)
	if cfg.KafkaSettings != nil && cfg.KafkaSettings.Enabled {
		go broker.NewTargetConsumer(targetChan, cfg.KafkaSettings.Consumer, log, brokerWg).Run(ctx)
	} else {
		targets, err := broker.ReadTargetsFile(cfg.WorkerSettings.TargetsFile)
		if err != nil {
			log.Error("no kafka and no targets file.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		go broker.FeedTargets(ctx, brokerWg, targets, targetChan)
	}

	workerWg := &sync.WaitGroup{}
	orchestrator := worker.NewOrchestrator(chain, cfg.WorkerSettings.RequestDelay, cfg.WorkerSettings.BatchDelay, log)
	discoveryWorker := &worker.DiscoveryWorker{
		InputChan:    targetChan,
		OutputChan:   reportChan,
		PanicChan:    panicChan,
		Orchestrator: orchestrator,
		Detector:     detector,
		Store:        docs,
		Cfg:          cfg,
		Log:          log,
		Wg:           workerWg,
	}
	workerWg.Add(1)
	go discoveryWorker.Run(ctx)
	// Restart the worker if it panics. The panicking worker already counted its replacement in workerWg.
	go func() {
		for range panicChan {
			go discoveryWorker.Run(ctx)
			time.Sleep(3 * time.Minute) // avoid polluting logs if something unrecoverable happened
		}
	}()

	brokerWg.Add(1)
	if cfg.KafkaSettings != nil && cfg.KafkaSettings.Enabled {
		go broker.NewReportProducer(reportChan, cfg.KafkaSettings.Producer, log, brokerWg).Run()
	} else {
		go broker.LogReports(brokerWg, reportChan, log)
	}

	// Graceful shutdown.
	// 1. The consumer stops on a system call, or the feeder runs out of targets. Either closes targetChan
	// 2. Wait till the worker processed everything from targetChan. Close reportChan
	// 3. Wait till the producer wrote every report
	// 4. Flush the batcher, close the browser, cache and store
	workerWg.Wait()
	close(reportChan)
	log.Info("close reportChan.")
	brokerWg.Wait()
	log.Info("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop metrics server.", slog.String("err", err.Error()))
	}
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "warn":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupStore(ctx context.Context) persistence.DocumentStore {
	s := cfg.StoreSettings
	log.Info("opening document store...", slog.String("driver", s.Driver))
	switch s.Driver {
	case "mysql":
		sqlStore := persistence.NewSQLStore(setupDatabase(), persistence.MySQL, log)
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			log.Error("failed to create schema.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return sqlStore
	case "sqlite":
		sqlStore, err := persistence.OpenSQLite(ctx, s.DSN, log)
		if err != nil {
			log.Error("failed to open sqlite store.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return sqlStore
	case "postgres":
		pgStore, err := persistence.OpenPostgres(ctx, s.DSN, int32(s.MaxOpenConns), log)
		if err != nil {
			log.Error("failed to open postgres store.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return pgStore
	default:
		log.Warn("using in-memory store, data is lost on exit.")
		return persistence.NewMemoryStore()
	}
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	s := cfg.StoreSettings
	sqlCfg := mysql.Config{
		User:                 s.User,
		Passwd:               s.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", s.Host, s.Port),
		DBName:               s.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(s.ConnMaxLifetime)
	database.SetMaxOpenConns(s.MaxOpenConns)
	database.SetMaxIdleConns(s.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeStore() {
	log.Info("closing document store.")
	if err := store.Close(); err != nil {
		log.Error("failed to close document store.", slog.String("err", err.Error()))
	}
}

func setupCache() cacheClient.ReadCache {
	if cfg.CacheSettings.Driver == "memcached" {
		mc, err := cacheClient.NewMemcachedCache(cfg.CacheSettings, log)
		if err != nil {
			log.Error("failed to connect to memcached.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return mc
	}
	return cacheClient.NewLocalCache(cfg.BatcherSettings.CacheTTL)
}

// setupChain wires the fetch strategies in their default order. The returned func releases the browser.
func setupChain(ctx context.Context) (*strategy.Chain, func()) {
	e := extract.New(cfg.WorkerSettings.MaxCandidates)
	h := cfg.HttpSettings
	minBody := cfg.LoaderSettings.MinBodyLength
	closeBrowser := func() {}

	var strategies []strategy.Strategy
	if cfg.BrowserSettings != nil && cfg.BrowserSettings.Enabled {
		b := browser.New(cfg.BrowserSettings, log)
		closeBrowser = b.Close
		l := loader.New(loader.Options{
			MaxRetries:    cfg.LoaderSettings.MaxRetries,
			RetryBackoff:  cfg.LoaderSettings.RetryBackoff,
			PageTimeout:   cfg.LoaderSettings.PageTimeout,
			MinBodyLength: minBody,
		}, log, m)
		strategies = append(strategies, strategy.NewBrowserStrategy(b, l, e, log))
	}
	strategies = append(strategies,
		strategy.NewHTTPStrategy(h.Timeout, minBody, e, log),
		strategy.NewAlternativeStrategy(h.ProbeTimeout, h.MaxProbes, minBody, e, log))
	if cfg.ArchiveSettings != nil && cfg.ArchiveSettings.Enabled {
		strategies = append(strategies, strategy.NewArchiveStrategy(cfg.ArchiveSettings, e, log))
	}

	chain := strategy.NewChain(log, m, strategies...)
	if cfg.S3Settings != nil && cfg.S3Settings.Enabled {
		archive, err := aws_s3.NewPageArchive(ctx, cfg.S3Settings, log)
		if err != nil {
			log.Error("failed to set up page archive.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		chain = chain.WithArchive(archive)
	}
	return chain, closeBrowser
}

func startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed.", slog.String("err", err.Error()))
		}
	}()
	return srv
}
