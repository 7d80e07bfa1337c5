package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/app"
)

func clientCmd(g *globalFlags) *cobra.Command {
	var opts app.ClientOptions

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Open a session with a game server and exchange a few messages",
		Long: `Open a session with a game server, send JOIN, INPUT, CHAT and PING,
and print what comes back.

The server is reached over UDP (--server), WebSocket (--ws), WebRTC
(--signal, a ws:// URL of the server's /signal endpoint with ?pin=...)
or through a gateway that creates a new game first (--gateway).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			printBanner("client")
			return app.RunClient(cmd.Context(), cfg, opts, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Server, "server", "s", "", "Game server UDP address (host:port)")
	flags.StringVar(&opts.WSURL, "ws", "", "Game server WebSocket URL")
	flags.StringVar(&opts.SignalURL, "signal", "", "Game server WebRTC signaling URL")
	flags.StringVar(&opts.Gateway, "gateway", "", "Gateway TCP address; creates a game and joins its server")
	flags.StringVar(&opts.Chat, "chat", "hello", "Chat text to send")
	flags.DurationVar(&opts.Wait, "wait", 5*time.Second, "How long to wait for answers")
	cmd.MarkFlagsMutuallyExclusive("server", "ws", "signal", "gateway")

	return cmd
}
