// Command rtnet runs the pieces of a small real-time multiplayer stack: the game
// endpoint speaking the reliable-UDP protocol (also reachable over WebSocket
// and WebRTC), the TCP gateway that places games on game servers, and a
// test client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/util"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	config string
	debug  bool
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "rtnet",
		Short: "Real-time game networking over reliable UDP",
		Long: `rtnet runs a game endpoint, a matchmaking gateway or a test client.

The game endpoint speaks a binary datagram protocol with four delivery
channels (unreliable/reliable, unordered/ordered) over UDP, WebSocket
and WebRTC DataChannels. The gateway is a TCP service that places
games on registered game servers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.config, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		serveCmd(&g),
		gatewayCmd(&g),
		clientCmd(&g),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// load reads the configuration file, if any, and applies the log level.
func (g *globalFlags) load() (config.Config, error) {
	cfg := config.Default()
	if g.config != "" {
		var err error
		if cfg, err = config.Load(g.config); err != nil {
			return cfg, err
		}
	}
	if err := util.SetLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	if g.debug {
		util.EnableDebug()
	}
	return cfg, nil
}

func printBanner(role string) {
	pterm.Info.Println(fmt.Sprintf("rtnet %s - v%s", role, version))
	pterm.Println()
}

// runAll runs every task until all return. The first error cancels the
// others and is returned.
func runAll(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}
	wg.Wait()
	return firstErr
}
