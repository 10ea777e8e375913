package acme

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/pki"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

// DefaultSelfSignedDays is the validity of self-signed public certificates.
const DefaultSelfSignedDays = 90

// SelfSigner issues self-signed public certificates. *pki.Issuer satisfies it.
type SelfSigner interface {
	SelfSigned(ctx context.Context, domain string, hostnames []string, days int) (*pki.Issued, error)
}

// Request describes a public certificate to obtain.
type Request struct {
	Domain   string
	Email    string
	Strategy string

	// SelfSigned skips ACME and signs the certificate locally.
	SelfSigned bool
}

// Result is a successfully installed public certificate.
type Result struct {
	Domain   string    `json:"domain"`
	Strategy string    `json:"strategy"`
	CertPath string    `json:"cert_path"`
	KeyPath  string    `json:"key_path"`
	NotAfter time.Time `json:"not_after"`
	Renewed  bool      `json:"renewed"`
	State    string    `json:"state"`
}

// Options configures an Orchestrator.
type Options struct {
	Store     *certstore.Store
	Inventory *config.Inventory
	Gateway   *proxychain.Gateway
	Preflight *Preflight
	SelfSign  SelfSigner

	// Defaults for new inventory domains
	Defaults config.Domain

	Directory   string
	DNSProvider string
	Webroot     string
	ProxyUser   string
}

// Orchestrator obtains publicly trusted certificates and installs them in
// the proxy chain. Each domain moves through NoCertificate,
// PendingChallenge or Renewing, then Issued or Failed.
type Orchestrator struct {
	// flow serializes issuance; every strategy mutates the shared proxy.
	flow sync.Mutex

	store     *certstore.Store
	inventory *config.Inventory
	gateway   *proxychain.Gateway
	preflight *Preflight
	selfSign  SelfSigner
	defaults  config.Domain

	directory   string
	dnsProvider string
	webroot     string
	proxyUser   string
	keyType     certcrypto.KeyType

	clientFactory      clientFactory
	accountKeyMaker    func() (crypto.PrivateKey, error)
	dnsProviderFactory func(name string) (challenge.Provider, error)
	chown              func(dir, username string) error
	now                func() time.Time
}

// New returns an orchestrator using the real lego client.
func New(opts Options) *Orchestrator {
	if opts.Preflight == nil {
		opts.Preflight = NewPreflight()
	}
	if opts.Directory == "" {
		opts.Directory = lego.LEDirectoryProduction
	}
	return &Orchestrator{
		store:         opts.Store,
		inventory:     opts.Inventory,
		gateway:       opts.Gateway,
		preflight:     opts.Preflight,
		selfSign:      opts.SelfSign,
		defaults:      opts.Defaults,
		directory:     opts.Directory,
		dnsProvider:   opts.DNSProvider,
		webroot:       opts.Webroot,
		proxyUser:     opts.ProxyUser,
		keyType:       certcrypto.RSA2048,
		clientFactory: defaultClientFactory,
		accountKeyMaker: func() (crypto.PrivateKey, error) {
			return certcrypto.GeneratePrivateKey(certcrypto.EC256)
		},
		dnsProviderFactory: defaultDNSProvider,
		chown:              chownTree,
		now:                time.Now,
	}
}

// IssueOrRenew obtains a certificate for req.Domain and points the proxy
// chain at it. Pre-flight failures return before anything is changed. On
// any later failure the previous certificate and proxy config stay live.
// Concurrent calls run one after another.
func (o *Orchestrator) IssueOrRenew(ctx context.Context, req Request) (*Result, error) {
	o.flow.Lock()
	defer o.flow.Unlock()

	domain, err := o.preflightChecks(ctx, &req)
	if err != nil {
		return nil, err
	}

	d, renewing, err := o.begin(domain, req)
	if err != nil {
		return nil, err
	}

	res, err := o.run(ctx, d, req)
	if res != nil && err != nil {
		// installed, but restoring the proxy or the challenge setup failed
		reason := issuedReason(res.NotAfter) + "; cleanup failed: " + err.Error()
		if terr := o.transition(domain, config.StateIssued, reason); terr != nil {
			err = errors.Join(err, terr)
		}
		logger.ErrorFields("Public certificate installed with cleanup failure", map[string]interface{}{
			"domain": domain,
			"error":  err.Error(),
		})
		res.Renewed = renewing
		return res, err
	}
	if err != nil {
		if terr := o.transition(domain, config.StateFailed, err.Error()); terr != nil {
			err = errors.Join(err, terr)
		}
		logger.ErrorFields("Public certificate failed", map[string]interface{}{
			"domain":   domain,
			"strategy": d.Strategy,
			"error":    err.Error(),
		})
		return nil, err
	}

	res.Renewed = renewing
	res.State = config.StateIssued
	logger.InfoFields("Public certificate installed", map[string]interface{}{
		"domain":    domain,
		"strategy":  res.Strategy,
		"not_after": res.NotAfter.Format(time.RFC3339),
	})
	return res, nil
}

func (o *Orchestrator) preflightChecks(ctx context.Context, req *Request) (string, error) {
	domain, err := CheckDomain(req.Domain)
	if err != nil {
		return "", err
	}
	if req.SelfSigned {
		return domain, nil
	}

	if req.Strategy == "" {
		req.Strategy = config.StrategyGatewayPlugin
	}
	if !config.IsValidStrategy(req.Strategy) {
		return "", apperr.Validationf("unknown challenge strategy %q (valid: %v)", req.Strategy, config.ValidStrategies())
	}
	if err := CheckEmail(req.Email); err != nil {
		return "", err
	}
	if _, err := o.preflight.Resolve(ctx, domain); err != nil {
		return "", err
	}
	if req.Strategy != config.StrategyDNS01 {
		if err := o.preflight.ProbePort(ctx, domain); err != nil {
			return "", err
		}
	}
	return domain, nil
}

// begin records the entry state and returns a copy of the domain entry.
func (o *Orchestrator) begin(domain string, req Request) (*config.Domain, bool, error) {
	var d config.Domain
	var renewing bool
	now := o.now().UTC()

	err := o.inventory.Update(func(inv *config.Inventory) {
		entry, ok := inv.Domains[domain]
		if !ok {
			entry = o.newDomain(domain, now)
			inv.Domains[domain] = entry
		}
		if req.Email != "" {
			entry.Email = req.Email
		}
		if req.Strategy != "" {
			entry.Strategy = req.Strategy
		}
		entry.SelfSigned = req.SelfSigned

		renewing = entry.State == config.StateIssued || o.store.Exists(o.store.PublicCertPath(domain))
		if renewing {
			entry.Transition(config.StateRenewing, "renewal started", now)
		} else {
			entry.Transition(config.StatePendingChallenge, "issuance started", now)
		}
		d = *entry
	})
	if err != nil {
		return nil, false, err
	}
	return &d, renewing, nil
}

func (o *Orchestrator) newDomain(domain string, now time.Time) *config.Domain {
	d := o.defaults
	d.Domain = domain
	d.State = config.StateNoCertificate
	d.CreatedAt = now
	if d.ClientVerify == "" {
		d.ClientVerify = config.VerifyOff
	}
	return &d
}

func (o *Orchestrator) transition(domain, state, reason string) error {
	return o.inventory.Update(func(inv *config.Inventory) {
		if d, ok := inv.Domains[domain]; ok {
			d.Transition(state, reason, o.now().UTC())
			if state == config.StateIssued {
				d.CertPath = o.store.PublicCertPath(domain)
				d.KeyPath = o.store.PublicKeyPath(domain)
			}
		}
	})
}

// run obtains and installs the certificate. A non-nil Result with an error
// means the certificate is live but a mandatory cleanup failed.
func (o *Orchestrator) run(ctx context.Context, d *config.Domain, req Request) (*Result, error) {
	if req.SelfSigned {
		if o.selfSign == nil {
			return nil, apperr.Validation("self-signed mode is not configured")
		}
		snap, err := o.snapshotPublic(d.Domain)
		if err != nil {
			return nil, err
		}
		issued, err := o.selfSign.SelfSigned(ctx, d.Domain, nil, DefaultSelfSignedDays)
		if err != nil {
			return nil, err
		}
		res, err := o.install(ctx, d, issued.Cert)
		if err != nil {
			return nil, errors.Join(err, snap.Restore())
		}
		return res, nil
	}

	certPEM, keyPEM, cleanupErr, err := o.obtain(ctx, d)
	if err != nil {
		return nil, errors.Join(err, cleanupErr)
	}

	cert, err := pki.ParseCertPEM(certPEM)
	if err != nil {
		return nil, errors.Join(apperr.Wrap(apperr.ErrCodeRemoteRejected, "issuer returned an unreadable certificate", err), cleanupErr)
	}
	if err := cert.VerifyHostname(d.Domain); err != nil {
		return nil, errors.Join(apperr.Wrap(apperr.ErrCodeRemoteRejected, "issued certificate does not cover "+d.Domain, err), cleanupErr)
	}
	snap, err := o.snapshotPublic(d.Domain)
	if err != nil {
		return nil, errors.Join(err, cleanupErr)
	}
	if err := o.store.Commit(
		certstore.Key(o.store.PublicKeyPath(d.Domain), keyPEM),
		certstore.Cert(o.store.PublicCertPath(d.Domain), certPEM),
	); err != nil {
		return nil, errors.Join(err, cleanupErr)
	}

	res, err := o.install(ctx, d, cert)
	if err != nil {
		return nil, errors.Join(err, snap.Restore(), cleanupErr)
	}
	return res, cleanupErr
}

// snapshotPublic records the live certificate and key of domain. Restore
// puts them back when the new pair could not be installed.
func (o *Orchestrator) snapshotPublic(domain string) (*certstore.Snapshot, error) {
	return o.store.Snapshot(o.store.PublicKeyPath(domain), o.store.PublicCertPath(domain))
}

// obtain runs the ACME order with the challenge strategy and the verify
// override in place. Both are undone before it returns. cleanupErr reports
// a failed undo separately so a valid certificate is never discarded.
func (o *Orchestrator) obtain(ctx context.Context, d *config.Domain) (certPEM, keyPEM []byte, cleanupErr, err error) {
	if d.ClientVerify == config.VerifyRequired {
		enabled, err := o.gateway.Driver().IsEnabled(d.Domain)
		if err != nil {
			return nil, nil, nil, err
		}
		if enabled {
			restore, err := o.gateway.Override(ctx, proxychain.FromDomain(d, o.store), config.VerifyOptional)
			if err != nil {
				return nil, nil, nil, err
			}
			defer func() {
				// restoration runs even if ctx is already cancelled
				cleanupErr = errors.Join(cleanupErr, restore(context.WithoutCancel(ctx)))
			}()
		}
	}

	client, err := o.newClient(d.Email)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup, err := o.setupStrategy(ctx, client, d)
	if err != nil {
		return nil, nil, nil, err
	}
	defer func() {
		cleanupErr = errors.Join(cleanupErr, cleanup(context.WithoutCancel(ctx)))
	}()

	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	logger.Info("Requesting certificate for %s with %s", d.Domain, d.Strategy)
	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{d.Domain},
		Bundle:  true,
	})
	if err != nil {
		return nil, nil, nil, classify(fmt.Errorf("obtain certificate: %w", err))
	}
	if res == nil || len(res.Certificate) == 0 || len(res.PrivateKey) == 0 {
		return nil, nil, nil, apperr.Wrap(apperr.ErrCodeRemoteRejected, "issuer returned an empty certificate", nil)
	}
	return res.Certificate, res.PrivateKey, nil, nil
}

// install points the proxy chain at the stored public certificate and
// records the Issued state.
func (o *Orchestrator) install(ctx context.Context, d *config.Domain, cert *x509.Certificate) (*Result, error) {
	d.CertPath = o.store.PublicCertPath(d.Domain)
	d.KeyPath = o.store.PublicKeyPath(d.Domain)
	if err := o.gateway.Apply(ctx, proxychain.FromDomain(d, o.store)); err != nil {
		return nil, err
	}

	if err := o.transition(d.Domain, config.StateIssued, issuedReason(cert.NotAfter)); err != nil {
		return nil, err
	}
	return &Result{
		Domain:   d.Domain,
		Strategy: d.Strategy,
		CertPath: d.CertPath,
		KeyPath:  d.KeyPath,
		NotAfter: cert.NotAfter,
		State:    config.StateIssued,
	}, nil
}

func issuedReason(notAfter time.Time) string {
	return "valid until " + notAfter.UTC().Format(time.RFC3339)
}
