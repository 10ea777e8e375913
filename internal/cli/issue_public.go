package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/output"
)

var issuePublicCmd = &cobra.Command{
	Use:   "issue-public-cert <domain> <email> [strategy]",
	Short: "Obtain a public certificate and install it in the gateway",
	Long: `Obtain a publicly trusted certificate over ACME and point the nginx chain
at it. The domain must resolve and, except for dns-01, port 80 must be
reachable; these checks run before anything is changed.

Strategies:
  gateway-plugin  answer the challenge from the running nginx (default)
  webroot         write the challenge file under the webroot
  standalone      stop nginx and answer on port 80 directly
  dns-01          publish a TXT record through MTLSCTL_DNS_PROVIDER

With MTLSCTL_PUBLIC_CERT_MODE=self-signed the certificate is signed locally.

Examples:
  mtlsctl issue-public-cert example.org admin@example.org
  mtlsctl issue-public-cert example.org admin@example.org dns-01`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runIssuePublic,
}

func init() {
	rootCmd.AddCommand(issuePublicCmd)
}

func runIssuePublic(cmd *cobra.Command, args []string) error {
	domain := strings.ToLower(args[0])
	email := args[1]
	s := newSteps(3)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}
	strategy := a.env.Challenge
	if len(args) == 3 {
		strategy = args[2]
	}
	if !config.IsValidStrategy(strategy) {
		return apperr.Validationf("unknown strategy %q (valid: %s)", strategy, strings.Join(config.ValidStrategies(), ", "))
	}
	if err := requireRoot(); err != nil {
		return err
	}

	s.next("Preparing proxy identity %s", a.env.ProxyIdentity)
	created, err := a.ensureProxyIdentity(cmd.Context())
	if err != nil {
		return err
	}
	if created && !jsonOutput {
		output.Info("Issued proxy identity %s", a.env.ProxyIdentity)
	}

	public, err := a.publicIssuer()
	if err != nil {
		return err
	}

	req := acme.Request{Domain: domain, Email: email, Strategy: strategy, SelfSigned: a.env.SelfSigned()}
	if req.SelfSigned {
		s.next("Creating self-signed certificate for %s", domain)
	} else {
		s.next("Requesting certificate for %s via %s", domain, strategy)
	}
	res, err := public.IssueOrRenew(cmd.Context(), req)
	if res == nil {
		return err
	}
	if err != nil && !jsonOutput {
		output.Warn("%v", err)
	}

	return outputResult(res, "Certificate for %s installed at %s, valid until %s",
		res.Domain, res.CertPath, res.NotAfter.Format(time.RFC3339))
}
