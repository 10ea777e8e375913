package proxychain

import (
	"net"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/template"
)

// ErrorBody is the only response body the public hop sends when the
// backend cannot be reached. It never names the failing handshake.
const ErrorBody = `{"error":"upstream unavailable"}`

// DefaultBackendName is the name checked against the backend certificate.
const DefaultBackendName = "localhost"

// ProxyConfig describes the two TLS hops for one public domain.
type ProxyConfig struct {
	Domain string

	// Public hop
	PublicCert        string
	PublicKey         string
	ClientTrustBundle string
	VerifyMode        string // off, optional, required

	// Internal hop, proxy acts as a TLS client
	ProxyCert           string
	ProxyKey            string
	InternalTrustBundle string
	BackendAddr         string
	BackendName         string

	Webroot  string
	Snippets string
}

// FromDomain builds the chain for an inventory domain from the store layout.
// The internal hop trusts the private CA. The public hop trusts the domain's
// bundle, falling back to the CA when client verification is on.
func FromDomain(d *config.Domain, store *certstore.Store) ProxyConfig {
	cfg := ProxyConfig{
		Domain:              d.Domain,
		PublicCert:          d.CertPath,
		PublicKey:           d.KeyPath,
		ClientTrustBundle:   d.PublicTrustBundle,
		VerifyMode:          d.ClientVerify,
		ProxyCert:           store.CertPath(d.BackendIdentity),
		ProxyKey:            store.KeyPath(d.BackendIdentity),
		InternalTrustBundle: store.CACertPath(),
		BackendAddr:         d.BackendAddr,
		BackendName:         d.BackendName,
		Webroot:             d.Webroot,
	}
	if cfg.PublicCert == "" {
		cfg.PublicCert = store.PublicCertPath(d.Domain)
	}
	if cfg.PublicKey == "" {
		cfg.PublicKey = store.PublicKeyPath(d.Domain)
	}
	if cfg.VerifyMode == "" {
		cfg.VerifyMode = config.VerifyOff
	}
	if cfg.ClientTrustBundle == "" && cfg.VerifyMode != config.VerifyOff {
		cfg.ClientTrustBundle = store.CACertPath()
	}
	if cfg.BackendName == "" {
		cfg.BackendName = DefaultBackendName
	}
	return cfg
}

// WithVerify returns a copy of cfg using mode on the public hop.
func (c ProxyConfig) WithVerify(mode string) ProxyConfig {
	c.VerifyMode = mode
	return c
}

// NginxVerify maps the verify mode to the ssl_verify_client value.
func (c ProxyConfig) NginxVerify() string {
	if c.VerifyMode == config.VerifyRequired {
		return "on"
	}
	return c.VerifyMode
}

// Upstream is the nginx upstream block name for the domain.
func (c ProxyConfig) Upstream() string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return "mtlsctl_" + r.Replace(c.Domain)
}

// Validate checks required fields before anything is rendered.
func Validate(cfg ProxyConfig) error {
	if cfg.Domain == "" {
		return apperr.Validation("domain is required")
	}
	ascii, err := idna.Lookup.ToASCII(cfg.Domain)
	if err != nil || ascii != cfg.Domain || !strings.Contains(ascii, ".") {
		return apperr.New(apperr.ErrCodeValidation, cfg.Domain, "invalid domain", err)
	}
	if !config.IsValidVerifyMode(cfg.VerifyMode) {
		return apperr.Validationf("unknown client verify mode %q (valid: %v)", cfg.VerifyMode, config.ValidVerifyModes())
	}
	if cfg.VerifyMode != config.VerifyOff && cfg.ClientTrustBundle == "" {
		return apperr.Validationf("client verify %s needs a client trust bundle", cfg.VerifyMode)
	}

	paths := []struct {
		name, value string
		required    bool
	}{
		{"public certificate", cfg.PublicCert, true},
		{"public key", cfg.PublicKey, true},
		{"client trust bundle", cfg.ClientTrustBundle, false},
		{"proxy certificate", cfg.ProxyCert, true},
		{"proxy key", cfg.ProxyKey, true},
		{"internal trust bundle", cfg.InternalTrustBundle, true},
		{"webroot", cfg.Webroot, true},
		{"snippet directory", cfg.Snippets, true},
	}
	for _, p := range paths {
		if p.value == "" {
			if p.required {
				return apperr.Validationf("%s path is required", p.name)
			}
			continue
		}
		if !filepath.IsAbs(p.value) {
			return apperr.Validationf("%s path must be absolute: %s", p.name, p.value)
		}
		if !safeToken(p.value) {
			return apperr.Validationf("%s path contains unsafe characters: %q", p.name, p.value)
		}
	}

	host, port, err := net.SplitHostPort(cfg.BackendAddr)
	if err != nil || host == "" || port == "" {
		return apperr.Validationf("backend address must be host:port, got %q", cfg.BackendAddr)
	}
	if !safeToken(cfg.BackendAddr) {
		return apperr.Validationf("backend address contains unsafe characters: %q", cfg.BackendAddr)
	}
	if cfg.BackendName == "" || !safeToken(cfg.BackendName) {
		return apperr.Validationf("invalid backend name %q", cfg.BackendName)
	}
	return nil
}

// Render validates cfg and produces the nginx config for both hops.
func Render(cfg ProxyConfig) ([]byte, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	out, err := template.Render("nginx", template.Chain, template.ChainData{
		Domain:              cfg.Domain,
		Upstream:            cfg.Upstream(),
		Webroot:             cfg.Webroot,
		Snippets:            cfg.Snippets,
		PublicCert:          cfg.PublicCert,
		PublicKey:           cfg.PublicKey,
		ClientTrustBundle:   cfg.ClientTrustBundle,
		VerifyClient:        cfg.NginxVerify(),
		ProxyCert:           cfg.ProxyCert,
		ProxyKey:            cfg.ProxyKey,
		InternalTrustBundle: cfg.InternalTrustBundle,
		BackendAddr:         cfg.BackendAddr,
		BackendName:         cfg.BackendName,
		ErrorBody:           ErrorBody,
	})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// safeToken rejects characters that would end or nest an nginx directive.
func safeToken(s string) bool {
	return !strings.ContainsAny(s, " \t\r\n;{}'\"#$\\")
}
