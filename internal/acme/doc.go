// Package acme obtains publicly trusted certificates for the gateway's
// public hop using go-acme/lego.
//
// Four challenge strategies are supported:
//
//	gateway-plugin  nginx answers HTTP-01 tokens from include snippets
//	webroot         lego writes tokens below the webroot nginx serves
//	standalone      nginx is stopped and lego binds port 80 itself
//	dns-01          a lego DNS provider publishes the TXT record
//
// Pre-flight checks (domain and email syntax, A/AAAA resolution, and a
// bounded port 80 probe for HTTP strategies) run before anything changes.
// When the public hop requires client certificates, verification is
// relaxed to optional for the challenge and restored on every exit path.
//
// Errors from the remote issuer are classified as RATE_LIMITED or
// REMOTE_REJECTED.
package acme
