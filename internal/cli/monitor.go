package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/output"
	"github.com/ksyq12/mtlsctl/internal/statusapi"
)

var (
	monitorOnce   bool
	monitorListen string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Renew certificates on a schedule",
	Long: `Run renewal passes every MTLSCTL_RENEW_INTERVAL plus up to
MTLSCTL_RENEW_JITTER of random delay. Each pass is recorded in the BBolt
history at MTLSCTL_STATE_DB. Passes log structured records; only a
certificate that expired and could not be renewed is reported as an error.

With --listen the status API is served as well:
  GET /healthz
  GET /certificates            latest record per certificate
  GET /certificates/{subject}  recent records, newest first

Examples:
  mtlsctl monitor
  mtlsctl monitor --once
  mtlsctl monitor --listen 127.0.0.1:9180`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "Run a single pass and exit")
	monitorCmd.Flags().StringVar(&monitorListen, "listen", "", "Serve the status API on this address")

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	history, err := monitor.OpenHistory(a.env.StateDB)
	if err != nil {
		return err
	}
	defer history.Close()

	m, err := a.renewalMonitor(history)
	if err != nil {
		return err
	}

	if monitorOnce {
		records, err := m.CheckAll(cmd.Context())
		if err != nil {
			return err
		}
		return outputResult(renewResult{Success: true, Records: records}, "Renewal pass checked %d certificates", len(records))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.NewScheduler(m, a.env.RenewInterval, a.env.RenewJitter).Run(ctx)
	})
	if monitorListen != "" {
		api := statusapi.New(history)
		g.Go(func() error {
			return api.ListenAndServe(ctx, monitorListen)
		})
	}

	if !jsonOutput {
		output.Info("Monitoring every %s (+ up to %s jitter)", a.env.RenewInterval, a.env.RenewJitter)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return outputResult(CommandResult{Success: true, Subject: "monitor", Action: "stopped"}, "Monitor stopped")
}
