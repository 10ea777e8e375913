package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/pki"
)

var caDays int

var ensureCACmd = &cobra.Command{
	Use:   "ensure-ca",
	Short: "Create the root CA if it does not exist",
	Long: `Create the private root CA used to sign internal identities.

An existing CA is never replaced; running the command again leaves ca.key and
ca.crt untouched.

Examples:
  mtlsctl ensure-ca
  mtlsctl ensure-ca --days 7300`,
	Args: cobra.NoArgs,
	RunE: runEnsureCA,
}

func init() {
	ensureCACmd.Flags().IntVar(&caDays, "days", 0, "CA validity in days (default MTLSCTL_CA_DAYS)")

	rootCmd.AddCommand(ensureCACmd)
}

type ensureCAResult struct {
	Success bool      `json:"success"`
	Created bool      `json:"created"`
	Info    *pki.Info `json:"certificate"`
}

func runEnsureCA(cmd *cobra.Command, args []string) error {
	s := newSteps(2)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}
	days := caDays
	if days <= 0 {
		days = a.env.CADays
	}

	s.next("Ensuring root CA in %s", a.store.CADir())
	ca, created, err := a.ca.EnsureCA(cmd.Context(), days)
	if err != nil {
		return err
	}

	info := pki.Describe(ca.Cert, time.Now())
	info.Path = a.store.CACertPath()
	action := "Existing root CA kept"
	if created {
		action = "Created root CA"
	}
	return outputResult(ensureCAResult{Success: true, Created: created, Info: info},
		"%s: %s, valid until %s", action, info.Subject, info.NotAfter.Format(time.RFC3339))
}
