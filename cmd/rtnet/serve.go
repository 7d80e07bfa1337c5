package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/app"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/util"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		udpAddr  string
		httpAddr string
		gwAddr   string
		games    uint8
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game endpoint",
		Long: `Run the game endpoint on UDP, with WebSocket (/ws) and WebRTC
signaling (/signal) on the HTTP address next to /metrics.

Chat messages are echoed back and PING is answered with PONG. With
--gateway the server also registers with a gateway and hosts the
games it places here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("udp") {
				cfg.UDPAddr = udpAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}

			printBanner("game server")
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(metrics.WithRegistry(reg))

			srv := app.NewServer(ctx, cfg, m)
			addr, err := srv.ListenUDP(ctx)
			if err != nil {
				return err
			}
			util.LogSuccess("game endpoint listening on udp %s", addr)
			if cfg.SignalPIN != "" {
				util.LogInfo("WebRTC signaling PIN: %s", cfg.SignalPIN)
			}
			util.StartStatsReporter(ctx)

			tasks := []func(context.Context) error{
				srv.Run,
				func(ctx context.Context) error { return srv.ListenHTTP(ctx, cfg.HTTPAddr, reg) },
			}
			if gwAddr != "" {
				tasks = append(tasks, func(ctx context.Context) error { return srv.Announce(ctx, gwAddr, games) })
			}
			return runAll(ctx, tasks...)
		},
	}

	cmd.Flags().StringVar(&udpAddr, "udp", "", "UDP listen address (overrides udp_addr)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides http_addr)")
	cmd.Flags().StringVar(&gwAddr, "gateway", "", "Register with the gateway at this TCP address")
	cmd.Flags().Uint8Var(&games, "games", 4, "Games this server can host when registered with a gateway")

	return cmd
}
