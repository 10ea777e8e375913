package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/output"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

var (
	dryRun        bool
	proxyVerify   string
	proxyBackend  string
	proxyBackName string
)

var configureProxyCmd = &cobra.Command{
	Use:   "configure-proxy <domain>",
	Short: "Render and apply the nginx chain for a domain",
	Long: `Render the two-hop nginx config for a domain: public TLS with optional
client verification in front, mutual TLS to the backend behind. The config is
validated with nginx -t before reload; a rejected config is rolled back.

A missing public certificate is replaced by a short-lived self-signed
placeholder so the chain can start before issue-public-cert runs.

Examples:
  mtlsctl configure-proxy example.org --dry-run
  mtlsctl configure-proxy example.org --verify required
  mtlsctl configure-proxy example.org --backend 10.0.0.5:8443 --backend-name api.internal`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigureProxy,
}

func init() {
	configureProxyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the rendered config without applying it")
	configureProxyCmd.Flags().StringVar(&proxyVerify, "verify", "", "Client verification: off, optional, required")
	configureProxyCmd.Flags().StringVar(&proxyBackend, "backend", "", "Backend host:port for the internal hop")
	configureProxyCmd.Flags().StringVar(&proxyBackName, "backend-name", "", "Name expected in the backend certificate")

	rootCmd.AddCommand(configureProxyCmd)
}

type configureResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain"`
	DryRun  bool   `json:"dry_run"`
	Site    string `json:"site"`
	Config  string `json:"config,omitempty"`
}

func runConfigureProxy(cmd *cobra.Command, args []string) error {
	domain := strings.ToLower(args[0])
	if proxyVerify != "" && !config.IsValidVerifyMode(proxyVerify) {
		return apperr.Validationf("invalid verify mode %q (valid: %s)", proxyVerify, strings.Join(config.ValidVerifyModes(), ", "))
	}

	total := 4
	if dryRun {
		total = 2
	}
	s := newSteps(total)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}
	gw, err := a.proxy()
	if err != nil {
		return err
	}
	d := a.domainEntry(domain)
	cfg := proxychain.FromDomain(d, a.store)

	if dryRun {
		s.next("Rendering chain for %s", domain)
		content, err := gw.Render(cfg)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(configureResult{Success: true, Domain: domain, DryRun: true, Site: domain, Config: string(content)})
		}
		output.Print("%s", content)
		output.Summary(true, "Dry run for %s: nothing written", domain)
		return nil
	}

	if err := requireRoot(); err != nil {
		return err
	}

	s.next("Preparing certificates")
	if err := a.prepareChain(cmd, d); err != nil {
		return err
	}

	s.next("Applying chain through %s", gw.Driver().Name())
	cfg = proxychain.FromDomain(d, a.store)
	if err := gw.Apply(cmd.Context(), cfg); err != nil {
		return err
	}

	s.next("Saving inventory")
	if err := a.inv.Update(func(inv *config.Inventory) { inv.Domains[domain] = d }); err != nil {
		return err
	}

	return outputResult(configureResult{Success: true, Domain: domain, Site: domain},
		"Gateway for %s -> %s (client verify %s)", domain, cfg.BackendAddr, cfg.VerifyMode)
}

// domainEntry returns a copy of the inventory entry with flag overrides
func (a *app) domainEntry(domain string) *config.Domain {
	var d config.Domain
	if existing, err := a.inv.GetDomain(domain); err == nil {
		d = *existing
	} else {
		d = a.domainDefaults()
		d.Domain = domain
		d.State = config.StateNoCertificate
		d.CreatedAt = time.Now().UTC()
	}
	if proxyVerify != "" {
		d.ClientVerify = proxyVerify
	}
	if proxyBackend != "" {
		d.BackendAddr = proxyBackend
	}
	if proxyBackName != "" {
		d.BackendName = proxyBackName
	}
	return &d
}

// prepareChain makes sure every file the chain names exists
func (a *app) prepareChain(cmd *cobra.Command, d *config.Domain) error {
	ctx := cmd.Context()
	if _, err := a.ca.LoadCA(); err != nil {
		return err
	}

	created, err := a.ensureProxyIdentity(ctx)
	if err != nil {
		return err
	}
	if created && !jsonOutput {
		output.Info("Issued proxy identity %s", a.env.ProxyIdentity)
	}

	certPath := d.CertPath
	if certPath == "" {
		certPath = a.store.PublicCertPath(d.Domain)
	}
	if !a.store.Exists(certPath) {
		placeholder, err := a.issuer.SelfSigned(ctx, d.Domain, a.env.Hostnames, acme.DefaultSelfSignedDays)
		if err != nil {
			return err
		}
		d.CertPath = placeholder.CertPath
		d.KeyPath = placeholder.KeyPath
		if !jsonOutput {
			output.Warn("No public certificate for %s yet; installed a self-signed placeholder", d.Domain)
		}
	}

	if a.env.BackendCert != "" && !a.store.Exists(a.store.CertPath(a.env.BackendCert)) && !jsonOutput {
		output.Warn("Backend identity %s not issued; run: mtlsctl issue-client-cert %s --role server",
			a.env.BackendCert, a.env.BackendCert)
	}
	return nil
}
