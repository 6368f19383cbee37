package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quillwire/x402-settle/catalog"
	"github.com/quillwire/x402-settle/config"
	"github.com/quillwire/x402-settle/facilitator"
	httpx402 "github.com/quillwire/x402-settle/http"
	chix402 "github.com/quillwire/x402-settle/http/chi"
	"github.com/quillwire/x402-settle/ledger"
	mcpserver "github.com/quillwire/x402-settle/mcp/server"
	"github.com/quillwire/x402-settle/metrics"
	"github.com/quillwire/x402-settle/requirement"
	"github.com/quillwire/x402-settle/settlement"
	"github.com/quillwire/x402-settle/svm"
)

// app holds everything serve needs, built from one Config.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	ledger       ledger.Store
	catalog      *catalog.Memory
	capabilities *facilitator.Capabilities
	engine       *settlement.Engine
	registry     *prometheus.Registry

	db  *sql.DB
	now func() time.Time
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, logger, nil
}

// openLedger returns the Postgres ledger when a database is configured and
// an in-memory one otherwise.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, *sql.DB, error) {
	if cfg.Database.URL == "" {
		return ledger.NewMemory(), nil, nil
	}
	db, err := ledger.OpenPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	store := ledger.NewPostgres(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func facilitatorClient(baseURL string, cfg *config.Config, logger *slog.Logger) (*httpx402.FacilitatorClient, error) {
	client := &httpx402.FacilitatorClient{
		BaseURL:       baseURL,
		Client:        &http.Client{},
		Timeouts:      cfg.Timeouts,
		Authorization: cfg.Facilitator.Authorization,
		Logger:        logger.With("facilitator", baseURL),
	}
	if cfg.Facilitator.CDPKeyName != "" {
		auth, err := httpx402.NewCDPAuthorization(cfg.Facilitator.CDPKeyName, cfg.Facilitator.CDPKeySecret)
		if err != nil {
			return nil, fmt.Errorf("cdp credentials: %w", err)
		}
		client.AuthorizationProvider = auth.Provider()
	}
	return client, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry(), now: time.Now}

	primary, err := facilitatorClient(cfg.Facilitator.URL, cfg, logger)
	if err != nil {
		return nil, err
	}
	var fallback facilitator.Interface
	if cfg.Facilitator.FallbackURL != "" {
		fb, err := facilitatorClient(cfg.Facilitator.FallbackURL, cfg, logger)
		if err != nil {
			return nil, err
		}
		fallback = fb
	}

	a.capabilities = facilitator.NewCapabilities(primary,
		facilitator.WithHydrationTimeout(cfg.Timeouts.RequestTimeout),
		facilitator.WithLogger(logger),
	)

	assets, err := cfg.AssetTable()
	if err != nil {
		return nil, err
	}
	platform, err := cfg.PlatformRecipient()
	if err != nil {
		return nil, err
	}

	if cfg.CatalogPath != "" {
		a.catalog, err = catalog.LoadFile(ctx, cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no catalog configured, every article will be unknown")
		a.catalog = catalog.NewMemory()
	}

	a.ledger, a.db, err = openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineCfg := settlement.Config{
		Facilitator: primary,
		Fallback:    fallback,
		Builder: &requirement.Builder{
			Assets:            assets,
			FeePayers:         a.capabilities,
			MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		},
		Ledger:           a.ledger,
		Resources:        a.catalog,
		Profiles:         a.catalog,
		Platform:         platform,
		VerifySignatures: cfg.VerifySignatures,
		Timeouts:         cfg.Timeouts,
		Metrics:          metrics.NewPrometheusRecorder(a.registry),
		Logger:           logger,
	}
	if cfg.Solana.RPCURL != "" {
		engineCfg.Owners = svm.NewOwnerResolver(cfg.Solana.RPCURL, logger)
	}

	a.engine, err = settlement.New(engineCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Router mounts the payment routes, metrics and, when enabled, the MCP endpoint.
func (a *app) Router() (http.Handler, error) {
	h := httpx402.NewHandler(a.engine, a.cfg.Network(), a.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Group(chix402.Routes(h))

	if a.cfg.MCP.Enabled {
		srv := mcpserver.NewX402Server("paywalld", Version, &mcpserver.Config{
			Engine:         a.engine,
			DefaultNetwork: a.cfg.Network(),
			Logger:         a.logger,
		})
		if err := mcpserver.RegisterArticleTools(srv, a.catalog); err != nil {
			return nil, err
		}
		r.Handle(a.cfg.MCP.Path, srv.Handler())
	}
	return r, nil
}

// WarmUp loads facilitator capabilities so the first Solana challenge does not
// wait on /supported. Failure is not fatal; the cache retries on demand.
func (a *app) WarmUp(ctx context.Context) {
	if err := a.capabilities.EnsureLoaded(ctx); err != nil {
		a.logger.Warn("facilitator capabilities unavailable at startup", "error", err)
	}
}

// Stale returns reservations older than ReconcileAfter that never completed.
func (a *app) Stale(ctx context.Context) ([]ledger.Record, error) {
	return a.ledger.ListPending(ctx, a.now().Add(-a.cfg.ReconcileAfter))
}

// ReportPending logs every stale reservation.
func (a *app) ReportPending(ctx context.Context) error {
	stale, err := a.Stale(ctx)
	if err != nil {
		return err
	}
	for _, rec := range stale {
		a.logger.Warn("payment reservation needs reconciliation",
			"id", rec.ID, "resource", rec.ResourceID, "payer", rec.Payer, "network", rec.Network, "createdAt", rec.CreatedAt)
	}
	return nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

var errNoDatabase = errors.New("no database configured")
