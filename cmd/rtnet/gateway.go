package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/gateway"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/util"
)

func gatewayCmd(g *globalFlags) *cobra.Command {
	var (
		tcpAddr   string
		httpAddr  string
		store     string
		storePath string
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the matchmaking gateway",
		Long: `Run the TCP gateway. Game servers register with it; players ask it
to create or join games and are told which server hosts them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("tcp") {
				cfg.GatewayAddr = tcpAddr
			}
			if flags.Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("store") {
				cfg.Store = store
			}
			if flags.Changed("store-path") {
				cfg.StorePath = storePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			printBanner("gateway")
			ctx := cmd.Context()

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			reg := prometheus.NewRegistry()
			m := metrics.New(metrics.WithRegistry(reg))
			srv := gateway.NewServer(s,
				gateway.WithServerMetrics(m),
				gateway.WithGameCapacity(cfg.GameCapacity),
			)

			return runAll(ctx,
				func(ctx context.Context) error { return srv.ListenAndServe(ctx, cfg.GatewayAddr) },
				func(ctx context.Context) error { return serveMetrics(ctx, cfg.HTTPAddr, reg) },
			)
		},
	}

	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "TCP listen address (overrides gateway_addr)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Metrics listen address (overrides http_addr)")
	cmd.Flags().StringVar(&store, "store", "", "Game registry backend: memory or sqlite")
	cmd.Flags().StringVar(&storePath, "store-path", "", "SQLite database path")

	return cmd
}

func openStore(cfg config.Config) (gateway.Store, error) {
	if cfg.Store == config.StoreSQLite {
		util.LogInfo("game registry: sqlite %s", cfg.StorePath)
		return gateway.OpenSQLStore(cfg.StorePath)
	}
	util.LogInfo("game registry: memory")
	return gateway.NewMemoryStore(), nil
}

// serveMetrics exposes g on addr at /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
