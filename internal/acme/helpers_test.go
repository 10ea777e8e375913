package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	"github.com/ksyq12/mtlsctl/internal/pki/pkitest"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

const (
	testToken   = "tok123"
	testKeyAuth = "tok123.thumbprint"
)

var testPaths = driver.Paths{
	Available: "/etc/nginx/sites-available",
	Enabled:   "/etc/nginx/sites-enabled",
	Snippets:  "/etc/nginx/snippets/mtlsctl-acme",
}

// stubClient plays the remote issuer: Obtain drives the configured
// provider through Present and CleanUp, then returns a certificate signed
// by a separate test CA.
type stubClient struct {
	mu sync.Mutex

	remote *pkitest.Fixture
	t      *testing.T

	http01      challenge.Provider
	dns01       challenge.Provider
	dnsOpts     int
	registered  int
	resolved    int
	resolveErr  error
	obtainErr   error
	obtainCalls int
	onPresent   func()
}

func (s *stubClient) Register(registration.RegisterOptions) (*registration.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered++
	return &registration.Resource{URI: "https://acme.test/acct/1"}, nil
}

func (s *stubClient) ResolveAccountByKey() (*registration.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	s.resolved++
	return &registration.Resource{URI: "https://acme.test/acct/1"}, nil
}

func (s *stubClient) SetHTTP01Provider(p challenge.Provider) error {
	s.http01 = p
	return nil
}

func (s *stubClient) SetDNS01Provider(p challenge.Provider, opts ...dns01.ChallengeOption) error {
	s.dns01 = p
	s.dnsOpts = len(opts)
	return nil
}

func (s *stubClient) Obtain(req certificate.ObtainRequest) (*certificate.Resource, error) {
	s.obtainCalls++
	domain := req.Domains[0]

	p := s.http01
	if p == nil {
		p = s.dns01
	}
	if p == nil {
		return nil, errors.New("no challenge provider")
	}
	// the standalone server would bind port 80
	if _, standalone := p.(*http01.ProviderServer); !standalone {
		if err := p.Present(domain, testToken, testKeyAuth); err != nil {
			return nil, err
		}
		defer func() { _ = p.CleanUp(domain, testToken, testKeyAuth) }()
	}
	if s.onPresent != nil {
		s.onPresent()
	}

	if s.obtainErr != nil {
		return nil, s.obtainErr
	}
	issued := s.remote.Issue(s.t, domain, config.RoleServer, 90)
	return &certificate.Resource{
		Domain:      domain,
		Certificate: issued.CertPEM,
		PrivateKey:  issued.KeyPEM,
	}, nil
}

type fakeResolver struct {
	v4, v6 []net.IP
	err    error
}

func (r fakeResolver) LookupIP(_ context.Context, network, _ string) ([]net.IP, error) {
	switch {
	case network == "ip4" && len(r.v4) > 0:
		return r.v4, nil
	case network == "ip6" && len(r.v6) > 0:
		return r.v6, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, &net.DNSError{Err: "no such host", IsNotFound: true}
}

func (r fakeResolver) LookupTXT(context.Context, string) ([]string, error) {
	return nil, nil
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *fakeDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeDNSProvider struct {
	presented []string
	cleaned   []string
}

func (p *fakeDNSProvider) Present(domain, _, _ string) error {
	p.presented = append(p.presented, domain)
	return nil
}

func (p *fakeDNSProvider) CleanUp(domain, _, _ string) error {
	p.cleaned = append(p.cleaned, domain)
	return nil
}

type harness struct {
	o        *Orchestrator
	fx       *pkitest.Fixture
	drv      *driver.MockDriver
	stub     *stubClient
	dialer   *fakeDialer
	dns      *fakeDNSProvider
	inv      *config.Inventory
	webroot  string
	chowned  []string
	resolver *fakeResolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fx := pkitest.New(t)
	fx.Issue(t, "gateway", config.RoleProxyClient, 30)

	h := &harness{
		fx:       fx,
		drv:      driver.NewMockDriver("nginx", testPaths),
		stub:     &stubClient{remote: pkitest.New(t), t: t},
		dialer:   &fakeDialer{},
		dns:      &fakeDNSProvider{},
		inv:      config.New(filepath.Join(t.TempDir(), "inventory.yaml")),
		webroot:  filepath.Join(t.TempDir(), "acme"),
		resolver: &fakeResolver{v4: []net.IP{net.ParseIP("203.0.113.10")}},
	}

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate account key: %v", err)
	}

	h.o = New(Options{
		Store:     fx.Store,
		Inventory: h.inv,
		Gateway:   proxychain.NewGateway(h.drv, h.webroot),
		Preflight: &Preflight{
			Resolver: resolverFunc{h},
			Dialer:   h.dialer,
			Port:     ChallengePort,
			Attempts: 3,
			Interval: time.Millisecond,
		},
		SelfSign: fx.Issuer,
		Defaults: config.Domain{
			BackendIdentity: "gateway",
			BackendAddr:     "127.0.0.1:8443",
			ClientVerify:    config.VerifyOff,
		},
		Directory:   "https://acme.test/directory",
		DNSProvider: "manual",
		Webroot:     h.webroot,
		ProxyUser:   "www-data",
	})
	h.o.clientFactory = func(*lego.Config) (acmeClient, error) { return h.stub, nil }
	h.o.accountKeyMaker = func() (crypto.PrivateKey, error) { return accountKey, nil }
	h.o.dnsProviderFactory = func(string) (challenge.Provider, error) { return h.dns, nil }
	h.o.chown = func(dir, user string) error {
		h.chowned = append(h.chowned, dir+":"+user)
		return nil
	}
	return h
}

// resolverFunc lets tests swap the harness resolver after construction.
type resolverFunc struct{ h *harness }

func (r resolverFunc) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return r.h.resolver.LookupIP(ctx, network, host)
}

func (r resolverFunc) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return r.h.resolver.LookupTXT(ctx, name)
}

// serveSite installs a live chain for domain so gateway-plugin can run.
func (h *harness) serveSite(t *testing.T, domain, verify string) {
	t.Helper()
	if _, err := h.fx.Issuer.SelfSigned(context.Background(), domain, nil, 30); err != nil {
		t.Fatalf("placeholder cert: %v", err)
	}
	d := h.o.newDomain(domain, time.Now())
	d.ClientVerify = verify
	h.inv.PutDomain(d)
	if err := h.o.gateway.Apply(context.Background(), proxychain.FromDomain(d, h.fx.Store)); err != nil {
		t.Fatalf("apply chain: %v", err)
	}
	h.drv.Reset()
}
