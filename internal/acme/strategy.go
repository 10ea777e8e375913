package acme

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/providers/dns"
	"github.com/go-acme/lego/v4/providers/http/webroot"

	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/template"
)

// cleanupFunc undoes a strategy's setup. It runs on every exit path.
type cleanupFunc func(context.Context) error

func noCleanup(context.Context) error { return nil }

// challengeToken matches the base64url tokens and key authorizations
// lego hands to HTTP-01 providers.
var challengeToken = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// setupStrategy wires the challenge provider for strategy into client.
func (o *Orchestrator) setupStrategy(ctx context.Context, client acmeClient, d *config.Domain) (cleanupFunc, error) {
	switch d.Strategy {
	case config.StrategyGatewayPlugin:
		return o.setupGatewayPlugin(ctx, client, d.Domain)
	case config.StrategyWebroot:
		return o.setupWebroot(client, d)
	case config.StrategyStandalone:
		return o.setupStandalone(ctx, client)
	case config.StrategyDNS01:
		return o.setupDNS01(client)
	default:
		return nil, apperr.Validationf("unknown challenge strategy %q (valid: %v)", d.Strategy, config.ValidStrategies())
	}
}

// setupGatewayPlugin answers HTTP-01 tokens from nginx snippets. The domain
// must already be served by an enabled site whose port 80 server includes
// the snippet directory.
func (o *Orchestrator) setupGatewayPlugin(ctx context.Context, client acmeClient, domain string) (cleanupFunc, error) {
	drv := o.gateway.Driver()
	enabled, err := drv.IsEnabled(domain)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, apperr.New(apperr.ErrCodeConfigValidation, domain,
			"gateway-plugin needs an enabled site; run configure-proxy first", nil)
	}
	p := &snippetProvider{ctx: ctx, drv: drv}
	if err := client.SetHTTP01Provider(p); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}
	return p.cleanupAll, nil
}

// setupWebroot writes tokens below the webroot the port 80 server exposes.
// The directory is handed to the proxy runtime user.
func (o *Orchestrator) setupWebroot(client acmeClient, d *config.Domain) (cleanupFunc, error) {
	root := d.Webroot
	if root == "" {
		root = o.webroot
	}
	if root == "" {
		return nil, apperr.Validation("webroot strategy needs a webroot directory")
	}

	challengeDir := filepath.Join(root, http01.ChallengePath(""))
	if err := os.MkdirAll(challengeDir, 0755); err != nil {
		return nil, apperr.New(apperr.ErrCodePermission, root, "cannot create webroot", err)
	}
	if o.proxyUser != "" {
		if err := o.chown(root, o.proxyUser); err != nil {
			return nil, err
		}
	}

	p, err := webroot.NewHTTPProvider(root)
	if err != nil {
		return nil, fmt.Errorf("webroot provider: %w", err)
	}
	if err := client.SetHTTP01Provider(p); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}
	return noCleanup, nil
}

// setupStandalone frees the challenge port for lego's own HTTP server.
// The proxy is always started again by the returned cleanup.
func (o *Orchestrator) setupStandalone(ctx context.Context, client acmeClient) (cleanupFunc, error) {
	drv := o.gateway.Driver()
	if err := client.SetHTTP01Provider(http01.NewProviderServer("", o.preflight.Port)); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}
	if err := drv.Stop(ctx); err != nil {
		// a failed stop may still have stopped it
		return nil, errors.Join(fmt.Errorf("stop proxy: %w", err), drv.Start(ctx))
	}
	logger.Info("Stopped %s to free port %s", drv.Name(), o.preflight.Port)
	return func(ctx context.Context) error {
		if err := drv.Start(ctx); err != nil {
			return fmt.Errorf("start proxy after standalone challenge: %w", err)
		}
		logger.Info("Started %s", drv.Name())
		return nil
	}, nil
}

// setupDNS01 selects a lego DNS provider by name. Propagation is polled
// at a fixed interval for a bounded number of attempts.
func (o *Orchestrator) setupDNS01(client acmeClient) (cleanupFunc, error) {
	p, err := o.dnsProviderFactory(o.dnsProvider)
	if err != nil {
		return nil, apperr.New(apperr.ErrCodeValidation, o.dnsProvider, "unknown dns provider", err)
	}

	attempts := max(o.preflight.Attempts, 1)
	bounded := &boundedProvider{
		Provider: p,
		timeout:  time.Duration(attempts) * o.preflight.Interval,
		interval: o.preflight.Interval,
	}
	if err := client.SetDNS01Provider(bounded, dns01.WrapPreCheck(o.propagationCheck(attempts))); err != nil {
		return nil, fmt.Errorf("configure dns-01 provider: %w", err)
	}
	return noCleanup, nil
}

// propagationCheck logs each propagation poll. lego stops polling once
// the provider timeout, attempts times the interval, has passed.
func (o *Orchestrator) propagationCheck(attempts int) dns01.WrapPreCheckFunc {
	var n int
	return func(domain, fqdn, value string, check dns01.PreCheckFunc) (bool, error) {
		n++
		ok, err := check(fqdn, value)
		if ok {
			logger.Info("TXT record for %s propagated", domain)
			return true, nil
		}
		logger.Debug("TXT record %s not propagated (attempt %d/%d): %v", fqdn, n, attempts, err)
		if n >= attempts {
			return false, apperr.New(apperr.ErrCodeDNSResolution, domain,
				fmt.Sprintf("TXT record not propagated after %d attempts", attempts), err)
		}
		return false, err
	}
}

func defaultDNSProvider(name string) (challenge.Provider, error) {
	if name == "" || name == "manual" {
		return dns01.NewDNSProviderManual()
	}
	return dns.NewDNSChallengeProviderByName(name)
}

// boundedProvider overrides the propagation timeout of a DNS provider.
type boundedProvider struct {
	challenge.Provider
	timeout  time.Duration
	interval time.Duration
}

func (b *boundedProvider) Timeout() (timeout, interval time.Duration) {
	return b.timeout, b.interval
}

// snippetProvider is an HTTP-01 provider that installs one nginx location
// per token. Every change is validated before reload.
type snippetProvider struct {
	ctx context.Context
	drv driver.Driver

	active []string
}

func snippetName(token string) string {
	return "acme-" + token
}

// Present writes the token response and reloads the proxy.
func (p *snippetProvider) Present(domain, token, keyAuth string) error {
	if !challengeToken.MatchString(token) || !challengeToken.MatchString(keyAuth) {
		return apperr.Validationf("unexpected characters in challenge token for %s", domain)
	}
	content, err := template.Render(p.drv.Name(), template.Challenge, template.ChallengeData{
		Domain:  domain,
		Token:   token,
		KeyAuth: keyAuth,
	})
	if err != nil {
		return err
	}

	name := snippetName(token)
	if err := p.drv.WriteSnippet(name, []byte(content)); err != nil {
		return err
	}
	p.active = append(p.active, name)

	if err := p.drv.Test(p.ctx); err != nil {
		return errors.Join(err, p.drv.RemoveSnippet(name))
	}
	if err := p.drv.Reload(p.ctx); err != nil {
		return err
	}
	logger.Debug("Serving challenge token for %s", domain)
	return nil
}

// CleanUp removes the token response.
func (p *snippetProvider) CleanUp(domain, token, _ string) error {
	name := snippetName(token)
	if err := p.drv.RemoveSnippet(name); err != nil {
		return err
	}
	p.forget(name)
	return p.drv.Reload(p.ctx)
}

// cleanupAll removes snippets lego did not clean up itself.
func (p *snippetProvider) cleanupAll(ctx context.Context) error {
	if len(p.active) == 0 {
		return nil
	}
	var errs []error
	for _, name := range p.active {
		errs = append(errs, p.drv.RemoveSnippet(name))
	}
	p.active = nil
	errs = append(errs, p.drv.Reload(ctx))
	return errors.Join(errs...)
}

func (p *snippetProvider) forget(name string) {
	for i, n := range p.active {
		if n == name {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

// chownTree gives the proxy user ownership of dir and everything below it.
func chownTree(dir, username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return apperr.New(apperr.ErrCodeValidation, username, "unknown proxy user", err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("uid of %s: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("gid of %s: %w", username, err)
	}

	return filepath.WalkDir(dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, uid, gid); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return apperr.New(apperr.ErrCodePermission, path, "cannot hand webroot to "+username, err)
			}
			return err
		}
		return nil
	})
}
