package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/output"
)

var renewAllCmd = &cobra.Command{
	Use:   "renew-all",
	Short: "Renew every managed certificate close to expiry",
	Long: `Check the root CA, every internal identity and every public domain.
Certificates with fewer than MTLSCTL_RENEW_THRESHOLD_DAYS days left are
reissued; the rest are left untouched. The CA is reported, never rotated.

The command fails if any certificate could not be checked or renewed.

Examples:
  mtlsctl renew-all
  mtlsctl renew-all --json`,
	Args: cobra.NoArgs,
	RunE: runRenewAll,
}

func init() {
	rootCmd.AddCommand(renewAllCmd)
}

type renewResult struct {
	Success bool                    `json:"success"`
	Records []monitor.RenewalRecord `json:"records"`
}

func runRenewAll(cmd *cobra.Command, args []string) error {
	s := newSteps(3)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}

	history, err := monitor.OpenHistory(a.env.StateDB)
	if err != nil {
		logger.Warn("Renewal history disabled: %v", err)
	} else {
		defer history.Close()
	}

	m, err := a.renewalMonitor(recorder(history))
	if err != nil {
		return err
	}

	s.next("Checking %d identities and %d domains (threshold %d days)",
		len(a.inv.ListIdentities()), len(a.inv.ListDomains()), m.Threshold())
	records, passErr := m.CheckAll(cmd.Context())

	s.next("Reporting results")
	failed := 0
	for _, r := range records {
		if r.Outcome == monitor.OutcomeFailed {
			failed++
		}
	}
	if jsonOutput {
		if err := output.JSON(renewResult{Success: passErr == nil && failed == 0, Records: records}); err != nil {
			return err
		}
	} else {
		printRecords(records)
	}

	if passErr != nil {
		return passErr
	}
	if failed > 0 {
		return apperr.New(apperr.ErrCodeInternal, "renew-all", fmt.Sprintf("%d of %d certificates failed", failed, len(records)), nil)
	}
	if jsonOutput {
		return nil
	}
	output.Summary(true, "%d certificates checked", len(records))
	return nil
}

// recorder avoids a typed nil inside the interface
func recorder(h *monitor.History) monitor.Recorder {
	if h == nil {
		return nil
	}
	return h
}

func printRecords(records []monitor.RenewalRecord) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		notAfter := ""
		if !r.NewNotAfter.IsZero() {
			notAfter = r.NewNotAfter.Format(time.DateOnly)
		} else if !r.OldNotAfter.IsZero() {
			notAfter = r.OldNotAfter.Format(time.DateOnly)
		}
		rows = append(rows, []string{
			string(r.Kind), r.Subject, strconv.Itoa(r.DaysRemaining), notAfter, string(r.Outcome), r.Reason,
		})
	}
	output.Table([]string{"KIND", "SUBJECT", "DAYS", "NOT AFTER", "OUTCOME", "REASON"}, rows)
}
