// Package proxychain renders and applies the two-hop TLS chain for a public
// domain: a public hop that terminates the publicly trusted certificate and
// optionally verifies client certificates, and an internal hop where the
// proxy presents a proxy-client identity and verifies the backend against
// the private CA.
//
// The verified client identity reaches the backend as X-SSL-Client-S-DN,
// X-SSL-Client-Verify and X-SSL-Cert. Upstream failures of any kind are
// answered with ErrorBody and status 502.
//
//	gw := proxychain.NewGateway(drv, "/var/www/acme")
//	cfg := proxychain.FromDomain(domain, store)
//	if err := gw.Apply(ctx, cfg); err != nil {
//	    return err // previous config is still live
//	}
package proxychain
