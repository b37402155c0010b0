package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/custos/internal/agent"
	"github.com/gosuda/custos/internal/audit"
	"github.com/gosuda/custos/internal/config"
	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/gate"
	"github.com/gosuda/custos/internal/metrics"
	"github.com/gosuda/custos/internal/policy"
	"github.com/gosuda/custos/internal/server"
	"github.com/gosuda/custos/internal/store/postgres"
	redisstore "github.com/gosuda/custos/internal/store/redis"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database max_conns %d out of int32 range", cfg.Database.MaxConns))
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect to database", err)
	}
	return store, nil
}

// newRegistry knows the anonymous agent and every stored principal kind.
func newRegistry(cfg *config.Config, principals domain.PrincipalRepository) *agent.Registry {
	registry := agent.NewRegistry()
	for _, kind := range []string{domain.KindUser, domain.KindService} {
		registry.Register(kind, agent.Cached(agent.PrincipalLoader(principals, kind), cfg.Agents.Size, cfg.Agents.TTL))
	}
	return registry
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	routerOpts := []audit.Option{audit.WithMetrics(m)}

	var feed *redisstore.PubSub
	if cfg.Redis.Enabled() {
		feed, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to connect to redis", err)
		}
		defer feed.Close()
		routerOpts = append(routerOpts, audit.WithPublisher(feed))
	}

	recorder := audit.NewRouter(store.UnitOfWork(), store.Actions(), routerOpts...)
	g := gate.New(recorder, store.UnitOfWork(), gate.WithMetrics(m))

	records := audit.NewRebuilder()
	audit.RegisterRecord(records, domain.NoteType, store.Notes().Get, func() *domain.Note { return &domain.Note{} })

	deps := server.Deps{
		Store:    store,
		Agents:   newRegistry(cfg, store.Principals()),
		Notes:    gate.Protect[*domain.Note](g, store.Notes(), policy.NewNotePolicy()),
		Records:  records,
		Gatherer: prometheus.DefaultGatherer,
	}
	if feed != nil {
		deps.Feed = feed
	}

	srv := server.New(ctx, cfg, deps)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		return srv.Start(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	log.Info().Msg("stopped")
	return nil
}
