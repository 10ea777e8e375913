package gateway

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/proxychain"
)

// Identity headers forwarded to the backend
const (
	HeaderClientDN     = "X-SSL-Client-S-DN"
	HeaderClientVerify = "X-SSL-Client-Verify"
	HeaderClientCert   = "X-SSL-Cert"
)

var identityHeaders = []string{HeaderClientDN, HeaderClientVerify, HeaderClientCert}

// Gateway is a Go rendition of the nginx chain: it terminates the public
// hop and forwards over mTLS to the backend.
type Gateway struct {
	cfg       proxychain.ProxyConfig
	public    *certHolder
	proxy     *certHolder
	tlsConfig *tls.Config
	transport *http.Transport
	handler   http.Handler
}

// New loads the certificates named by cfg. Only the TLS fields of cfg are
// used; webroot and snippets belong to nginx.
func New(cfg proxychain.ProxyConfig) (*Gateway, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	public, err := newCertHolder(cfg.PublicCert, cfg.PublicKey)
	if err != nil {
		return nil, err
	}
	proxy, err := newCertHolder(cfg.ProxyCert, cfg.ProxyKey)
	if err != nil {
		return nil, err
	}
	internalRoots, err := loadPool(cfg.InternalTrustBundle)
	if err != nil {
		return nil, err
	}

	g := &Gateway{cfg: cfg, public: public, proxy: proxy}

	g.tlsConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return g.public.get(), nil
		},
		ClientAuth: clientAuth(cfg.VerifyMode),
	}
	if cfg.VerifyMode != config.VerifyOff {
		clientRoots, err := loadPool(cfg.ClientTrustBundle)
		if err != nil {
			return nil, err
		}
		g.tlsConfig.ClientCAs = clientRoots
	}

	g.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    internalRoots,
			ServerName: cfg.BackendName,
			GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
				return g.proxy.get(), nil
			},
		},
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}

	target := &url.URL{Scheme: "https", Host: cfg.BackendAddr}
	g.handler = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
			setIdentity(pr.Out.Header, pr.In.TLS)
		},
		Transport:    g.transport,
		ErrorHandler: upstreamError,
		ErrorLog:     slog.NewLogLogger(logger.Slog().Handler(), slog.LevelWarn),
	}
	return g, nil
}

// Handler returns the proxy handler
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// TLSConfig returns the public listener TLS config
func (g *Gateway) TLSConfig() *tls.Config {
	return g.tlsConfig
}

// Reload re-reads both key pairs. Established connections keep theirs.
func (g *Gateway) Reload() error {
	if err := g.public.load(); err != nil {
		return err
	}
	if err := g.proxy.load(); err != nil {
		return err
	}
	g.transport.CloseIdleConnections()
	logger.Info("Reloaded gateway certificates for %s", g.cfg.Domain)
	return nil
}

// Serve accepts TLS connections on ln until ctx is cancelled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           g.handler,
		TLSConfig:         g.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Slog().Handler(), slog.LevelDebug),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(tls.NewListener(ln, g.tlsConfig))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logger.Info("Gateway for %s listening on %s, backend %s", g.cfg.Domain, addr, g.cfg.BackendAddr)
	return g.Serve(ctx, ln)
}

func clientAuth(mode string) tls.ClientAuthType {
	switch mode {
	case config.VerifyRequired:
		return tls.RequireAndVerifyClientCert
	case config.VerifyOptional:
		return tls.VerifyClientCertIfGiven
	default:
		return tls.NoClientCert
	}
}

// setIdentity replaces any client-supplied identity headers with values
// from the verified handshake, using nginx's formats.
func setIdentity(h http.Header, state *tls.ConnectionState) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
	if state == nil || len(state.PeerCertificates) == 0 {
		h.Set(HeaderClientVerify, "NONE")
		return
	}
	if len(state.VerifiedChains) == 0 {
		h.Set(HeaderClientVerify, "FAILED:unverified")
		return
	}
	leaf := state.PeerCertificates[0]
	h.Set(HeaderClientVerify, "SUCCESS")
	h.Set(HeaderClientDN, leaf.Subject.String())
	h.Set(HeaderClientCert, url.PathEscape(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}))))
}

// upstreamError answers every backend failure with the same body.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger.WarnFields("Upstream request failed", map[string]interface{}{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(proxychain.ErrorBody))
}

func validate(cfg proxychain.ProxyConfig) error {
	if !config.IsValidVerifyMode(cfg.VerifyMode) {
		return apperr.Validationf("unknown client verify mode %q (valid: %v)", cfg.VerifyMode, config.ValidVerifyModes())
	}
	if cfg.VerifyMode != config.VerifyOff && cfg.ClientTrustBundle == "" {
		return apperr.Validationf("client verify %s needs a client trust bundle", cfg.VerifyMode)
	}
	for name, v := range map[string]string{
		"public certificate":    cfg.PublicCert,
		"public key":            cfg.PublicKey,
		"proxy certificate":     cfg.ProxyCert,
		"proxy key":             cfg.ProxyKey,
		"internal trust bundle": cfg.InternalTrustBundle,
		"backend address":       cfg.BackendAddr,
		"backend name":          cfg.BackendName,
	} {
		if v == "" {
			return apperr.Validationf("%s is required", name)
		}
	}
	return nil
}
