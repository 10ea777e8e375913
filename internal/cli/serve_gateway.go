package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/gateway"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/output"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

var gatewayListen string

var serveGatewayCmd = &cobra.Command{
	Use:   "serve-gateway <domain>",
	Short: "Run the built-in two-hop gateway for a domain",
	Long: `Serve the proxy chain of a domain without nginx: terminate public TLS,
verify client certificates per the domain's verify mode, and forward to the
backend over mutual TLS with the proxy identity.

SIGHUP reloads both key pairs; SIGINT or SIGTERM shuts down gracefully.

Examples:
  mtlsctl serve-gateway example.org
  mtlsctl serve-gateway example.org --listen 127.0.0.1:8443`,
	Args: cobra.ExactArgs(1),
	RunE: runServeGateway,
}

func init() {
	serveGatewayCmd.Flags().StringVar(&gatewayListen, "listen", ":443", "Address for the public hop")

	rootCmd.AddCommand(serveGatewayCmd)
}

func runServeGateway(cmd *cobra.Command, args []string) error {
	domain := strings.ToLower(args[0])
	s := newSteps(2)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}
	d := a.domainEntry(domain)
	cfg := proxychain.FromDomain(d, a.store)

	s.next("Loading certificates for %s", domain)
	g, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reloadOnHangup(ctx, g)

	if !jsonOutput {
		output.Info("Serving %s on %s -> %s (Ctrl+C to stop)", domain, gatewayListen, cfg.BackendAddr)
	}
	if err := g.ListenAndServe(ctx, gatewayListen); err != nil {
		return err
	}
	return outputResult(CommandResult{Success: true, Subject: domain, Action: "serve-gateway"},
		"Gateway for %s stopped", domain)
}

func reloadOnHangup(ctx context.Context, g *gateway.Gateway) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := g.Reload(); err != nil {
				logger.Error("Gateway reload failed, keeping current certificates: %v", err)
			}
		}
	}
}
