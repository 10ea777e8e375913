package proxychain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/ksyq12/mtlsctl/internal/driver"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// Gateway applies proxy chains through a driver. A candidate config is
// validated by the proxy before it is reloaded; on failure the previous
// file is put back byte-for-byte.
type Gateway struct {
	drv     driver.Driver
	webroot string
	mu      sync.Mutex
}

// NewGateway returns a gateway writing through drv. webroot is used for
// chains that do not name one.
func NewGateway(drv driver.Driver, webroot string) *Gateway {
	return &Gateway{drv: drv, webroot: webroot}
}

// Driver returns the underlying driver
func (g *Gateway) Driver() driver.Driver {
	return g.drv
}

// Prepare fills the driver-dependent defaults of cfg.
func (g *Gateway) Prepare(cfg ProxyConfig) ProxyConfig {
	if cfg.Webroot == "" {
		cfg.Webroot = g.webroot
	}
	if cfg.Snippets == "" {
		cfg.Snippets = g.drv.Paths().Snippets
	}
	return cfg
}

// Render fills defaults and renders cfg without applying it.
func (g *Gateway) Render(cfg ProxyConfig) ([]byte, error) {
	return Render(g.Prepare(cfg))
}

// Apply renders cfg, installs it, validates the whole proxy config and
// reloads. The proxy is never restarted.
func (g *Gateway) Apply(ctx context.Context, cfg ProxyConfig) error {
	content, err := g.Render(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, err := g.snapshot(cfg.Domain)
	if err != nil {
		return err
	}
	return g.install(ctx, cfg.Domain, content, prev)
}

// Override applies cfg with a temporary verify mode and returns a function
// restoring the exact config that was live before. restore must be called
// on every exit path; it is safe to call more than once.
func (g *Gateway) Override(ctx context.Context, cfg ProxyConfig, mode string) (restore func(context.Context) error, err error) {
	content, err := g.Render(cfg.WithVerify(mode))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, err := g.snapshot(cfg.Domain)
	if err != nil {
		return nil, err
	}
	if err := g.install(ctx, cfg.Domain, content, prev); err != nil {
		return nil, err
	}
	logger.Info("Client verification for %s relaxed to %s", cfg.Domain, mode)

	var once sync.Once
	var restoreErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()

			current, err := g.snapshot(cfg.Domain)
			if err != nil {
				restoreErr = err
				return
			}
			if prev == nil {
				restoreErr = g.remove(ctx, cfg.Domain)
			} else {
				restoreErr = g.install(ctx, cfg.Domain, prev.data, current)
			}
			if restoreErr == nil {
				logger.Info("Client verification for %s restored", cfg.Domain)
			} else {
				restoreErr = fmt.Errorf("restoring client verification for %s: %w", cfg.Domain, restoreErr)
			}
		})
		return restoreErr
	}, nil
}

type siteState struct {
	data []byte
}

// snapshot returns the live site config, or nil when there is none.
func (g *Gateway) snapshot(site string) (*siteState, error) {
	data, err := g.drv.Read(site)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &siteState{data: data}, nil
}

func (g *Gateway) install(ctx context.Context, site string, content []byte, prev *siteState) error {
	if err := g.drv.Write(site, content); err != nil {
		return err
	}
	if err := g.drv.Enable(site); err != nil {
		return errors.Join(err, g.rollback(site, prev))
	}
	if err := g.drv.Test(ctx); err != nil {
		if rbErr := g.rollback(site, prev); rbErr != nil {
			return errors.Join(apperr.New(apperr.ErrCodeConfigValidation, site, "candidate config rejected", err), rbErr)
		}
		return apperr.New(apperr.ErrCodeConfigValidation, site, "candidate config rejected, previous config kept", err)
	}
	if err := g.drv.Reload(ctx); err != nil {
		return fmt.Errorf("config for %s is valid but reload failed: %w", site, err)
	}
	logger.Debug("Applied proxy config for %s", site)
	return nil
}

func (g *Gateway) remove(ctx context.Context, site string) error {
	if err := g.drv.Remove(site); err != nil && !notFound(err) {
		return err
	}
	return g.drv.Reload(ctx)
}

func (g *Gateway) rollback(site string, prev *siteState) error {
	if prev == nil {
		if err := g.drv.Remove(site); err != nil && !notFound(err) {
			return fmt.Errorf("removing rejected config for %s: %w", site, err)
		}
		return nil
	}
	if err := g.drv.Write(site, prev.data); err != nil {
		return fmt.Errorf("restoring previous config for %s: %w", site, err)
	}
	return nil
}

func notFound(err error) bool {
	return apperr.Is(err, apperr.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
