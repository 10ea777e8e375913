package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/config"
)

var (
	issueRole      string
	issueHostnames []string
)

var issueClientCmd = &cobra.Command{
	Use:   "issue-client-cert <name> [days]",
	Short: "Issue an internal certificate signed by the root CA",
	Long: `Issue a leaf certificate for an internal identity and record it in the
inventory so renew-all keeps it fresh. Reissuing a name replaces its key and
certificate.

Roles: client (default), server, proxy-client. Server certificates always
cover localhost, 127.0.0.1 and ::1 in addition to --hostname values.

Examples:
  mtlsctl issue-client-cert admin-client
  mtlsctl issue-client-cert admin-client 90
  mtlsctl issue-client-cert backend --role server --hostname api.internal`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runIssueClient,
}

func init() {
	issueClientCmd.Flags().StringVar(&issueRole, "role", config.RoleClient, "Certificate role (client, server, proxy-client)")
	issueClientCmd.Flags().StringSliceVar(&issueHostnames, "hostname", nil, "Extra DNS name or IP for server certificates (repeatable)")

	rootCmd.AddCommand(issueClientCmd)
}

type issueResult struct {
	Success  bool      `json:"success"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	Serial   string    `json:"serial"`
	CertPath string    `json:"cert_path"`
	KeyPath  string    `json:"key_path"`
	NotAfter time.Time `json:"not_after"`
}

func runIssueClient(cmd *cobra.Command, args []string) error {
	name := args[0]
	s := newSteps(3)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}
	days, err := intArg(args, 1, a.env.LeafDays, "days")
	if err != nil {
		return err
	}
	hostnames := issueHostnames
	if len(hostnames) == 0 && issueRole == config.RoleServer {
		hostnames = a.env.Hostnames
	}

	s.next("Loading root CA")
	if _, err := a.ca.LoadCA(); err != nil {
		return err
	}

	s.next("Signing %s certificate for %s (%d days)", issueRole, name, days)
	issued, err := a.issue(cmd.Context(), name, issueRole, days, hostnames)
	if err != nil {
		return err
	}

	return outputResult(issueResult{
		Success:  true,
		Name:     issued.Name,
		Role:     issued.Role,
		Serial:   issued.Cert.SerialNumber.String(),
		CertPath: issued.CertPath,
		KeyPath:  issued.KeyPath,
		NotAfter: issued.Cert.NotAfter,
	}, "Issued %s (serial %s), valid until %s", issued.CertPath,
		issued.Cert.SerialNumber.String(), issued.Cert.NotAfter.Format(time.RFC3339))
}
