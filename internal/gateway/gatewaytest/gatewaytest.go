// Package gatewaytest runs an mTLS backend and a gateway in front of it
// for end-to-end tests.
package gatewaytest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/gateway"
	"github.com/ksyq12/mtlsctl/internal/pki/pkitest"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

// BackendIdentity names the backend server certificate.
const BackendIdentity = "backend"

// Identity is what the backend saw in the forwarded headers.
type Identity struct {
	DN     string `json:"dn"`
	Verify string `json:"verify"`
	Cert   bool   `json:"cert"`
}

// NewBackend starts an mTLS backend that only accepts clients issued by
// the fixture CA. GET /health answers {"status":"ok"}; GET /whoami echoes
// the identity headers.
func NewBackend(t testing.TB, fx *pkitest.Fixture) *httptest.Server {
	t.Helper()
	issued := fx.Issue(t, BackendIdentity, config.RoleServer, 30)
	cert, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	if err != nil {
		t.Fatalf("backend key pair: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Identity{
			DN:     r.Header.Get(gateway.HeaderClientDN),
			Verify: r.Header.Get(gateway.HeaderClientVerify),
			Cert:   r.Header.Get(gateway.HeaderClientCert) != "",
		})
	})

	srv := httptest.NewUnstartedServer(r)
	srv.TLS = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    fx.Root.Pool(),
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

// Start serves gw on a loopback port until the test ends and returns
// the listen address.
func Start(t testing.TB, cfg proxychain.ProxyConfig) (string, *gateway.Gateway) {
	t.Helper()
	gw, err := gateway.New(cfg)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.Errorf("gateway serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("gateway did not shut down")
		}
	})
	return ln.Addr().String(), gw
}

// Client returns an HTTPS client that trusts roots and dials addr for
// every host, so requests can name the public domain.
func Client(roots *x509.CertPool, addr string, certs ...tls.Certificate) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:   tls.VersionTLS12,
				RootCAs:      roots,
				Certificates: certs,
			},
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}
}

// KeyPair loads an issued identity as a TLS certificate.
func KeyPair(t testing.TB, certPEM, keyPEM []byte) tls.Certificate {
	t.Helper()
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	return cert
}
