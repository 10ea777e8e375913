package cli

import (
	"crypto/x509"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/output"
	"github.com/ksyq12/mtlsctl/internal/pki"
)

var certificateStatusCmd = &cobra.Command{
	Use:     "certificate-status <domain|name>",
	Aliases: []string{"status"},
	Short:   "Show a managed certificate",
	Long: `Show subject, issuer, validity and days remaining of a certificate.

The argument is a public domain from the inventory, an internal identity
name, or "ca" for the root CA. Internal certificates are also verified
against the root CA.

Examples:
  mtlsctl certificate-status example.org
  mtlsctl certificate-status admin-client --json
  mtlsctl certificate-status ca`,
	Args: cobra.ExactArgs(1),
	RunE: runCertificateStatus,
}

func init() {
	rootCmd.AddCommand(certificateStatusCmd)
}

type statusResult struct {
	Success bool           `json:"success"`
	Kind    monitor.Kind   `json:"kind"`
	Info    *pki.Info      `json:"certificate"`
	Domain  *config.Domain `json:"domain,omitempty"`
}

func runCertificateStatus(cmd *cobra.Command, args []string) error {
	subject := args[0]
	s := newSteps(2)

	s.next("Loading configuration")
	a, err := loadApp()
	if err != nil {
		return err
	}

	kind, path, domain := a.locate(subject)
	if path == "" {
		return apperr.NotFound(subject)
	}

	s.next("Inspecting %s", path)
	var roots *x509.CertPool
	if kind != monitor.KindPublic || (domain != nil && domain.SelfSigned) {
		if ca, err := a.ca.LoadCA(); err == nil {
			roots = ca.Pool()
		}
	}
	info, err := pki.Inspect(path, roots, time.Now())
	if err != nil {
		return err
	}

	res := statusResult{Success: info.IsValid, Kind: kind, Info: info, Domain: domain}
	if jsonOutput {
		if err := output.JSON(res); err != nil {
			return err
		}
	} else {
		printInfo(kind, info, domain)
	}

	if !info.IsValid {
		if time.Now().After(info.NotAfter) {
			return apperr.New(apperr.ErrCodeExpired, subject, "expired "+info.NotAfter.Format(time.RFC3339), nil)
		}
		return apperr.New(apperr.ErrCodeValidation, subject, "not valid before "+info.NotBefore.Format(time.RFC3339), nil)
	}
	if jsonOutput {
		return nil
	}
	output.Summary(true, "%s valid for %d more days", subject, info.DaysRemaining)
	return nil
}

// locate maps a status argument to a stored certificate
func (a *app) locate(subject string) (monitor.Kind, string, *config.Domain) {
	if subject == "ca" {
		return monitor.KindCA, a.store.CACertPath(), nil
	}
	if d, err := a.inv.GetDomain(strings.ToLower(subject)); err == nil {
		path := d.CertPath
		if path == "" {
			path = a.store.PublicCertPath(d.Domain)
		}
		return monitor.KindPublic, path, d
	}
	if a.store.Exists(a.store.CertPath(subject)) {
		return monitor.KindIdentity, a.store.CertPath(subject), nil
	}
	if a.store.Exists(a.store.PublicCertPath(subject)) {
		return monitor.KindPublic, a.store.PublicCertPath(subject), nil
	}
	return "", "", nil
}

func printInfo(kind monitor.Kind, info *pki.Info, d *config.Domain) {
	rows := [][]string{
		{"Kind", string(kind)},
		{"Path", info.Path},
		{"Subject", info.Subject},
		{"Issuer", info.Issuer},
		{"Role", info.Role},
		{"Serial", info.Serial},
		{"SHA-256", info.Fingerprint},
		{"Not before", info.NotBefore.Format(time.RFC3339)},
		{"Not after", info.NotAfter.Format(time.RFC3339)},
		{"Days left", strconv.Itoa(info.DaysRemaining)},
	}
	if len(info.DNSNames) > 0 {
		rows = append(rows, []string{"DNS names", strings.Join(info.DNSNames, ", ")})
	}
	if len(info.IPAddresses) > 0 {
		rows = append(rows, []string{"IPs", strings.Join(info.IPAddresses, ", ")})
	}
	if info.Trusted != nil {
		trust := "yes"
		if !*info.Trusted {
			trust = "no: " + info.TrustError
		}
		rows = append(rows, []string{"Trusted by CA", trust})
	}
	if d != nil {
		rows = append(rows,
			[]string{"State", d.State},
			[]string{"Strategy", d.Strategy},
			[]string{"Client verify", d.ClientVerify},
		)
		if d.Reason != "" {
			rows = append(rows, []string{"Reason", d.Reason})
		}
	}
	output.Table([]string{"FIELD", "VALUE"}, rows)
}
