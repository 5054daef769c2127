// Command webserv is component J of spec.md: the CLI entry point that
// loads a config file and runs the event loop until interrupted. CLI
// shape (cobra root command, config flag, signal-driven shutdown) is
// adapted from Caddy's own cmd/ package (teacher tree), trimmed down to
// this spec's single "run" behavior rather than Caddy's subcommand tree.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/eventloop"
	"github.com/luanch96/webserv/internal/weblog"
)

const defaultConfigPath = "conf/default.conf"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		dev        bool
	)

	root := &cobra.Command{
		Use:   "webserv [config-path]",
		Short: "A single-threaded, event-driven HTTP/1.1 server with CGI support",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dev {
				if err := weblog.SetDevelopment(); err != nil {
					return fmt.Errorf("configuring logger: %w", err)
				}
			}
			defer weblog.Sync()
			if len(args) > 0 {
				configPath = args[0]
			}
			return serve(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the server config file")
	root.Flags().BoolVar(&dev, "dev", false, "use human-readable development logging instead of JSON")

	if err := root.Execute(); err != nil {
		weblog.Log().Error("exiting", zap.Error(err))
		return 1
	}
	return 0
}

// serve loads configPath, builds the event loop, and runs it until
// SIGINT or SIGTERM, per spec.md §6/§4.G.
func serve(configPath string) error {
	tree, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var shuttingDown atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		weblog.Log().Info("received signal, shutting down", zap.String("signal", sig.String()))
		shuttingDown.Store(true)
	}()

	loop, err := eventloop.New(tree, shuttingDown.Load)
	if err != nil {
		return fmt.Errorf("starting event loop: %w", err)
	}
	defer loop.Close()

	weblog.Log().Info("webserv starting", zap.String("config", configPath), zap.Ints("ports", tree.Ports()))
	return loop.Run()
}
