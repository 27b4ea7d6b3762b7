package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/cache"
	"github.com/ironlayer/ironlayer/pkg/checks"
	"github.com/ironlayer/ironlayer/pkg/config"
	"github.com/ironlayer/ironlayer/pkg/engine"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/gitsource"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/llm"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metering"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/planner"
	"github.com/ironlayer/ironlayer/pkg/scheduler"
	"github.com/ironlayer/ironlayer/pkg/security"
	"github.com/ironlayer/ironlayer/pkg/storage"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the IronLayer control plane daemon",
	Long: `Start the daemon: open the state store, wire the planner, governance,
metering, and scheduler components, and serve metrics and health
endpoints until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (defaults apply when omitted)")
}

const auditVerifyPageSize = 500

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", Version).
		Str("env", cfg.Server.Env).
		Str("storage", cfg.Storage.Backend).
		Msg("ironlayerd starting")

	if err := os.MkdirAll(cfg.Server.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Only dry-run execution exists in this build. Refusing here beats a
	// control plane that claims to deploy and silently does not.
	if !cfg.Warehouse.DryRun {
		return fmt.Errorf("warehouse.dry_run=false is not supported: no physical %s executor is built in", cfg.Warehouse.Dialect)
	}
	wh := warehouse.NewDryRunClient()

	tokens, err := buildTokenService(cfg, store, logger)
	if err != nil {
		return err
	}

	box, err := buildSecretBox(cfg, logger)
	if err != nil {
		return err
	}

	guard := governance.NewGuard(store, store, store)
	audit := governance.NewRecorder(store)
	limiter := governance.NewRateLimiter(cfg.Governance.RateLimitPerMinute, cfg.Governance.RateLimitWindow)

	if cfg.Governance.AuditVerifyOnStart {
		if err := verifyAuditChains(ctx, store, logger); err != nil {
			return err
		}
	}

	collector, closeSinks, err := buildCollector(cfg, store)
	if err != nil {
		return err
	}
	collector.Start()
	defer closeSinks()

	collab, err := buildCollaborator(cfg, guard, collector, logger)
	if err != nil {
		return err
	}

	adv := advisory.New(advisory.Config{
		Cache:        buildCache(cfg),
		Collaborator: collab,
	})

	pl := planner.New(planner.Config{
		LookbackDays: cfg.Planner.LookbackDays,
		Enrich:       enrichVia(adv, store, cfg.LLM.Enabled),
	})

	bus := events.NewBus()
	dispatcher := events.NewDispatcher(store, box, events.DispatcherConfig{
		Timeout:     cfg.Webhooks.Timeout,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		BackoffBase: cfg.Webhooks.BackoffBase,
		URLPolicy:   governance.WebhookURLPolicy{AllowLoopbackHTTP: cfg.Server.IsDev()},
	})
	bus.SubscribeAll(dispatcher.HandleEvent)

	eng, err := engine.New(engine.Config{
		Store:          store,
		Planner:        pl,
		Advisory:       adv,
		Checks:         checks.NewRegistry(checks.Config{Warehouse: wh}),
		Guard:          guard,
		Audit:          audit,
		Limiter:        limiter,
		Bus:            bus,
		Meter:          collector,
		Warehouse:      wh,
		OpenRepo:       repoOpener(cfg),
		Tokens:         tokens,
		Backoff:        auth.NewLoginBackoff(0, 0),
		Box:            box,
		URLPolicy:      governance.WebhookURLPolicy{AllowLoopbackHTTP: cfg.Server.IsDev()},
		DefaultDialect: types.Dialect(cfg.Warehouse.Dialect),
		DefaultCluster: types.ClusterSize(cfg.Planner.DefaultClusterSize),
		MaxRetries:     cfg.Planner.MaxRetries,
	})
	if err != nil {
		return err
	}

	health := metrics.NewHealthChecker(Version)
	health.RegisterProbe("storage", store.Ping)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(store, eng, scheduler.Config{PollInterval: cfg.Scheduler.PollInterval})
		sched.Start()
		health.SetComponent("scheduler", true, "")
	}

	aggStop := startAggregator(cfg, store, logger)

	metricsSrv := serveHTTP(cfg.Server.MetricsAddr, metricsMux(), logger, "metrics")
	healthSrv := serveHTTP(cfg.Server.ListenAddr, healthMux(health), logger, "health")

	logger.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Bool("llm", cfg.LLM.Enabled).
		Msg("ironlayerd ready")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if sched != nil {
		sched.Stop()
	}
	close(aggStop)
	collector.Stop()
	dispatcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{metricsSrv, healthSrv} {
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		if cfg.Postgres.MigrateOnStart {
			if err := storage.Migrate(cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}
		return storage.NewPostgresStore(ctx, cfg.Postgres.DSN)
	default:
		return storage.NewBoltStore(cfg.Storage.BoltPath)
	}
}

// buildTokenService falls back to an ephemeral signing secret in dev mode,
// where config validation allows an empty one. Sessions then do not
// survive a restart, which is the point of the warning.
func buildTokenService(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*auth.TokenService, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		logger.Warn().Msg("no jwt secret configured; using an ephemeral one (dev mode only)")
	}
	return auth.NewTokenService(auth.TokenConfig{
		Mode:   auth.Mode(cfg.Auth.Mode),
		Secret: []byte(secret),
		TTL:    cfg.Auth.TokenTTL,
	}, store)
}

// buildSecretBox derives the sealing key from the configured passphrase,
// or in dev mode from one generated on first boot and kept under the
// data dir so sealed webhook secrets survive restarts.
func buildSecretBox(cfg *config.Config, logger zerolog.Logger) (*security.Box, error) {
	passphrase := cfg.Security.EncryptionKey
	if passphrase == "" {
		keyPath := filepath.Join(cfg.Server.DataDir, "encryption.key")
		loaded, err := loadOrCreateKey(keyPath)
		if err != nil {
			return nil, err
		}
		passphrase = loaded
		logger.Warn().Str("path", keyPath).Msg("no encryption key configured; using generated key from data dir (dev mode only)")
	}
	return security.NewBoxFromPassphrase(passphrase)
}

func loadOrCreateKey(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	key := hex.EncodeToString(b)
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist encryption key: %w", err)
	}
	return key, nil
}

func buildCache(cfg *config.Config) cache.Cache {
	ttls := cache.TTLs{
		Classify: cfg.Cache.ClassifyTTL,
		Cost:     cfg.Cache.CostTTL,
		Optimize: cfg.Cache.OptimizeTTL,
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return cache.NewRedisTTL(client, ttls)
	}
	return cache.NewMemoryTTL(cfg.Cache.Capacity, ttls)
}

func buildCollector(cfg *config.Config, store storage.Store) (*metering.Collector, func(), error) {
	sinks := []metering.Sink{metering.NewStoreSink(store)}
	closeSinks := func() {}
	if cfg.Metering.JSONLPath != "" {
		fileSink, err := metering.NewFileSink(cfg.Metering.JSONLPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
		closeSinks = func() { _ = fileSink.Close() }
	}
	if cfg.Metering.ExportEndpoint != "" {
		sinks = append(sinks, metering.NewHTTPSink(cfg.Metering.ExportEndpoint, nil))
	}
	collector := metering.NewCollector(metering.NewMultiSink(sinks...), metering.CollectorConfig{
		FlushSize:     cfg.Metering.BufferSize,
		FlushInterval: cfg.Metering.FlushInterval,
	})
	return collector, closeSinks, nil
}

func buildCollaborator(cfg *config.Config, guard *governance.Guard, collector *metering.Collector, logger zerolog.Logger) (advisory.Collaborator, error) {
	if !cfg.LLM.Enabled {
		return nil, nil
	}
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	client, err := llm.NewAnthropicFromAPIKey(apiKey, llm.AnthropicConfig{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm enabled but unusable (%s): %w", cfg.LLM.APIKeyEnv, err)
	}
	logger.Info().Str("model", cfg.LLM.Model).Msg("llm collaborator enabled")
	return llm.NewCollaborator(
		client,
		llm.NewAdaptiveLimiter(cfg.LLM.InitialTPM, cfg.LLM.MaxTPM),
		guard,
		collector,
		llm.CollaboratorConfig{
			Timeout: cfg.LLM.Timeout,
			Pricing: llm.Pricing{
				InputUSDPerMillion:  cfg.LLM.InputUSDPerMillion,
				OutputUSDPerMillion: cfg.LLM.OutputUSDPerMillion,
			},
		},
	), nil
}

// enrichVia adapts the advisory engine to the planner's enrichment hook.
// LLM consultation needs both the daemon flag and the tenant's opt-in.
// Any failure keeps the planner's deterministic verdict.
func enrichVia(adv *advisory.Engine, store storage.Store, llmEnabled bool) planner.EnrichFunc {
	return func(ctx context.Context, model, oldSQL, newSQL string, dialect types.Dialect, timeColumn string) (advisory.Classification, bool) {
		id, err := governance.IdentityFrom(ctx)
		if err != nil {
			return advisory.Classification{}, false
		}
		llm := llmEnabled
		if llm {
			tenant, err := store.GetTenant(ctx, id.TenantID)
			llm = err == nil && tenant.LLMEnabled
		}
		resp, err := adv.SemanticClassify(ctx, advisory.ClassifyRequest{
			TenantID:   id.TenantID,
			Model:      model,
			OldSQL:     oldSQL,
			NewSQL:     newSQL,
			Dialect:    dialect,
			TimeColumn: timeColumn,
			LLMEnabled: llm,
		})
		if err != nil {
			return advisory.Classification{}, false
		}
		return advisory.Classification{
			Category:   resp.Category,
			Confidence: resp.Confidence,
			Reasons:    resp.Reasons,
		}, true
	}
}

func repoOpener(cfg *config.Config) engine.RepoOpener {
	return func(path string) (gitsource.Source, error) {
		return gitsource.NewCLI(gitsource.Config{
			RepoPath: path,
			BinPath:  cfg.Git.BinPath,
			Timeout:  cfg.Git.FetchTimeout,
		})
	}
}

// startAggregator rolls telemetry into hourly and daily buckets and
// prunes expired rows, once shortly after boot and then hourly.
func startAggregator(cfg *config.Config, store storage.Store, logger zerolog.Logger) chan struct{} {
	agg := metering.NewAggregator(store, metering.AggregatorConfig{
		RawWindow:    time.Duration(cfg.Metering.RawRetentionDays) * 24 * time.Hour,
		HourlyWindow: time.Duration(cfg.Metering.HourlyRetentionDays) * 24 * time.Hour,
		UsageWindow:  time.Duration(cfg.Metering.UsageRetentionDays) * 24 * time.Hour,
	})
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		first := time.After(time.Minute)
		for {
			select {
			case <-first:
			case <-ticker.C:
			case <-stopCh:
				return
			}
			if err := agg.RunOnce(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("retention sweep failed")
			}
		}
	}()
	return stopCh
}

// verifyAuditChains re-derives every tenant's audit hash chain. A broken
// chain means tampered or corrupted governance history, which is worth
// refusing to start over.
func verifyAuditChains(ctx context.Context, store storage.Store, logger zerolog.Logger) error {
	tenants, err := store.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		var entries []types.AuditEntry
		for offset := 0; ; offset += auditVerifyPageSize {
			page, err := store.ListAudit(ctx, tenant.ID, auditVerifyPageSize, offset)
			if err != nil {
				return err
			}
			entries = append(entries, page...)
			if len(page) < auditVerifyPageSize {
				break
			}
		}
		res := governance.VerifyChain(entries)
		if !res.Valid {
			return fmt.Errorf("audit chain broken for tenant %s at sequence %d: %s", tenant.ID, res.FirstMismatch, res.Reason)
		}
		logger.Debug().Str("tenant_id", tenant.ID).Int("entries", res.EntriesChecked).Msg("audit chain verified")
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthMux(health *metrics.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LiveHandler())
	mux.HandleFunc("/readyz", health.ReadyHandler())
	return mux
}

func serveHTTP(addr string, mux *http.ServeMux, logger zerolog.Logger, name string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("server", name).Msg("http server failed")
		}
	}()
	return srv
}
