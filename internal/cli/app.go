package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/pki"
	"github.com/ksyq12/mtlsctl/internal/platform"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

// app is the environment one command runs against
type app struct {
	env    *config.Env
	inv    *config.Inventory
	store  *certstore.Store
	ca     *pki.Manager
	issuer *pki.Issuer

	paths   *platform.PlatformPaths
	drv     driver.Driver
	gateway *proxychain.Gateway
}

// loadApp reads the environment and inventory and wires the PKI
func loadApp() (*app, error) {
	env, err := deps.EnvLoader.Load(envFile)
	if err != nil {
		return nil, err
	}
	inv, err := deps.InventoryLoader.Load(env.Inventory)
	if err != nil {
		return nil, err
	}

	store := certstore.New(env.CADir, env.IdentityDir)
	provider := deps.ProviderFactory.Create()
	ca := pki.NewManager(store, provider)

	logger.DebugFields("loaded environment", map[string]interface{}{
		"ca_dir":       env.CADir,
		"identity_dir": env.IdentityDir,
		"inventory":    env.Inventory,
	})

	return &app{
		env:    env,
		inv:    inv,
		store:  store,
		ca:     ca,
		issuer: pki.NewIssuer(store, provider, ca),
	}, nil
}

// proxy detects the nginx layout and returns the chain gateway
func (a *app) proxy() (*proxychain.Gateway, error) {
	if a.gateway != nil {
		return a.gateway, nil
	}

	paths, err := deps.PlatformDetector.DetectPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to detect nginx paths: %w", err)
	}
	drv, err := deps.DriverFactory.Create(driver.Paths{
		Available: paths.Nginx.Available,
		Enabled:   paths.Nginx.Enabled,
		Snippets:  paths.Nginx.Snippets,
	})
	if err != nil {
		return nil, err
	}

	a.paths = paths
	a.drv = drv
	a.gateway = proxychain.NewGateway(drv, a.webroot())
	return a.gateway, nil
}

// webroot is the challenge directory, env first, then the platform default
func (a *app) webroot() string {
	if a.env.Webroot != "" {
		return a.env.Webroot
	}
	if a.paths != nil {
		return a.paths.Nginx.Webroot
	}
	return ""
}

// domainDefaults are the settings new inventory domains start with
func (a *app) domainDefaults() config.Domain {
	return config.Domain{
		Email:           a.env.Email,
		Strategy:        a.env.Challenge,
		ClientVerify:    a.env.ClientVerify,
		BackendIdentity: a.env.ProxyIdentity,
		BackendAddr:     a.env.BackendAddr,
		BackendName:     a.env.BackendName,
		Webroot:         a.env.Webroot,
	}
}

// publicIssuer wires the ACME orchestrator against the proxy
func (a *app) publicIssuer() (monitor.PublicIssuer, error) {
	gw, err := a.proxy()
	if err != nil {
		return nil, err
	}
	return deps.PublicFactory.Create(acme.Options{
		Store:       a.store,
		Inventory:   a.inv,
		Gateway:     gw,
		SelfSign:    a.issuer,
		Defaults:    a.domainDefaults(),
		Directory:   a.env.ACMEDirectory,
		DNSProvider: a.env.DNSProvider,
		Webroot:     a.webroot(),
		ProxyUser:   a.paths.ProxyUser,
	}), nil
}

// ensureProxyIdentity issues the gateway's client identity for the
// internal hop when it does not exist yet
func (a *app) ensureProxyIdentity(ctx context.Context) (bool, error) {
	name := a.env.ProxyIdentity
	if a.store.Exists(a.store.CertPath(name)) && a.store.Exists(a.store.KeyPath(name)) {
		return false, nil
	}
	if _, err := a.issue(ctx, name, config.RoleProxyClient, a.env.LeafDays, nil); err != nil {
		return false, err
	}
	return true, nil
}

// issue signs a leaf and records it in the inventory
func (a *app) issue(ctx context.Context, name, role string, days int, hostnames []string) (*pki.Issued, error) {
	issued, err := a.issuer.Issue(ctx, pki.IssueRequest{
		Name:         name,
		Role:         role,
		ValidityDays: days,
		Hostnames:    hostnames,
	})
	if err != nil {
		return nil, err
	}

	err = a.inv.Update(func(inv *config.Inventory) {
		created := issued.Cert.NotBefore
		if prev, ok := inv.Identities[name]; ok {
			created = prev.CreatedAt
		}
		inv.Identities[name] = &config.Identity{
			Name:         name,
			Role:         role,
			ValidityDays: days,
			Hostnames:    hostnames,
			CreatedAt:    created,
		}
	})
	if err != nil {
		return issued, fmt.Errorf("certificate issued but inventory save failed: %w", err)
	}
	return issued, nil
}

// renewalMonitor wires the renewal monitor; history may be nil
func (a *app) renewalMonitor(history monitor.Recorder) (*monitor.Monitor, error) {
	opts := monitor.Options{
		Store:         a.store,
		Inventory:     a.inv,
		Leaf:          a.issuer,
		History:       history,
		ThresholdDays: a.env.RenewThreshold,
	}

	// hosts without nginx can still renew internal identities
	public, err := a.publicIssuer()
	switch {
	case err == nil:
		opts.Public = public
		opts.Proxy = a.drv
	case len(a.inv.ListDomains()) > 0:
		return nil, err
	default:
		logger.Warn("No proxy available, checking internal identities only: %v", err)
	}
	if a.env.HealthURL != "" {
		tlsConfig, err := a.backendTLS()
		if err != nil {
			logger.Warn("Health check runs without a client identity: %v", err)
		}
		opts.Health = monitor.NewHealthCheck(a.env.HealthURL, tlsConfig)
	}
	return monitor.New(opts), nil
}

// backendTLS presents the proxy identity and trusts the private CA, the
// way the internal hop does
func (a *app) backendTLS() (*tls.Config, error) {
	caPEM, err := os.ReadFile(a.store.CACertPath())
	if err != nil {
		return nil, err
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in %s", a.store.CACertPath())
	}
	pair, err := tls.LoadX509KeyPair(a.store.CertPath(a.env.ProxyIdentity), a.store.KeyPath(a.env.ProxyIdentity))
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      roots,
		Certificates: []tls.Certificate{pair},
	}, nil
}
