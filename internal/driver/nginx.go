package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/executor"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

const confExt = ".conf"

// NginxDriver implements the Driver interface for Nginx
type NginxDriver struct {
	paths Paths
	exec  executor.CommandExecutor
}

// NewNginxWithPaths creates a new Nginx driver with custom paths
func NewNginxWithPaths(paths Paths) *NginxDriver {
	return NewNginxWithExecutor(paths, executor.NewSystemExecutor())
}

// NewNginxWithExecutor creates a new Nginx driver with custom paths and executor (for testing)
func NewNginxWithExecutor(paths Paths, exec executor.CommandExecutor) *NginxDriver {
	return &NginxDriver{
		paths: paths,
		exec:  exec,
	}
}

// Name returns the driver name
func (n *NginxDriver) Name() string {
	return "nginx"
}

// Paths returns the config paths
func (n *NginxDriver) Paths() Paths {
	return n.paths
}

func (n *NginxDriver) availablePath(site string) string {
	return filepath.Join(n.paths.Available, site+confExt)
}

func (n *NginxDriver) enabledPath(site string) string {
	return filepath.Join(n.paths.Enabled, site+confExt)
}

func (n *NginxDriver) snippetPath(name string) string {
	return filepath.Join(n.paths.Snippets, name+confExt)
}

// Write stores the site config atomically
func (n *NginxDriver) Write(site string, content []byte) error {
	if err := os.MkdirAll(n.paths.Available, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", n.paths.Available, err)
	}
	return writeFile(n.availablePath(site), content)
}

// Read returns the site config
func (n *NginxDriver) Read(site string) ([]byte, error) {
	data, err := os.ReadFile(n.availablePath(site))
	if err != nil {
		return nil, fmt.Errorf("failed to read config for %s: %w", site, err)
	}
	return data, nil
}

// Remove deletes a site config
func (n *NginxDriver) Remove(site string) error {
	// First disable the site
	if n.paths.linked() {
		if enabled, _ := n.IsEnabled(site); enabled {
			if err := n.Disable(site); err != nil {
				return err
			}
		}
	}

	if err := os.Remove(n.availablePath(site)); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound(site)
		}
		return fmt.Errorf("failed to remove config file: %w", err)
	}

	return nil
}

// Enable activates a site by creating a symlink.
// On conf.d layouts a written site is already active.
func (n *NginxDriver) Enable(site string) error {
	source := n.availablePath(site)

	// Check if source exists
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return apperr.New(apperr.ErrCodeNotFound, site, "config not found in "+n.paths.Available, nil)
	}
	if !n.paths.linked() {
		return nil
	}

	if err := os.MkdirAll(n.paths.Enabled, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", n.paths.Enabled, err)
	}

	target := n.enabledPath(site)
	// Already enabled
	if _, err := os.Lstat(target); err == nil {
		return nil
	}

	if err := os.Symlink(source, target); err != nil {
		return fmt.Errorf("failed to enable %s: %w", site, err)
	}

	return nil
}

// Disable deactivates a site by removing the symlink
func (n *NginxDriver) Disable(site string) error {
	if !n.paths.linked() {
		return fmt.Errorf("%s cannot be disabled on a single-directory layout; remove it instead", site)
	}
	target := n.enabledPath(site)

	// Check if symlink exists
	info, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s is not enabled", site)
	}
	if err != nil {
		return fmt.Errorf("failed to check site status: %w", err)
	}

	// Verify it's a symlink
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%s is not a symlink, refusing to remove", target)
	}

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("failed to disable %s: %w", site, err)
	}

	return nil
}

// List returns all site names from the available directory
func (n *NginxDriver) List() ([]string, error) {
	entries, err := os.ReadDir(n.paths.Available)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", n.paths.Available, err)
	}

	sites := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, confExt) {
			continue
		}
		sites = append(sites, strings.TrimSuffix(name, confExt))
	}

	return sites, nil
}

// IsEnabled checks if a site is enabled
func (n *NginxDriver) IsEnabled(site string) (bool, error) {
	target := n.enabledPath(site)
	_, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check site status: %w", err)
	}
	return true, nil
}

// WriteSnippet stores a challenge snippet
func (n *NginxDriver) WriteSnippet(name string, content []byte) error {
	if err := os.MkdirAll(n.paths.Snippets, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", n.paths.Snippets, err)
	}
	return writeFile(n.snippetPath(name), content)
}

// RemoveSnippet deletes a challenge snippet; a missing snippet is not an error
func (n *NginxDriver) RemoveSnippet(name string) error {
	if err := os.Remove(n.snippetPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snippet %s: %w", name, err)
	}
	return nil
}

// Test validates the nginx config syntax
func (n *NginxDriver) Test(ctx context.Context) error {
	output, err := n.exec.Execute(ctx, "nginx", "-t")
	if err != nil {
		return apperr.New(apperr.ErrCodeConfigValidation, "nginx", "nginx -t failed",
			fmt.Errorf("%s", strings.TrimSpace(string(output))))
	}
	return nil
}

// Reload reloads nginx to apply changes
func (n *NginxDriver) Reload(ctx context.Context) error {
	return n.service(ctx, "reload", []string{"-s", "reload"})
}

// Stop stops nginx, freeing the challenge port
func (n *NginxDriver) Stop(ctx context.Context) error {
	return n.service(ctx, "stop", []string{"-s", "stop"})
}

// Start starts nginx
func (n *NginxDriver) Start(ctx context.Context) error {
	return n.service(ctx, "start", nil)
}

// service runs a systemctl action, falling back to the nginx binary
func (n *NginxDriver) service(ctx context.Context, action string, fallback []string) error {
	output, err := n.exec.Execute(ctx, "systemctl", action, "nginx")
	if err == nil {
		return nil
	}
	logger.Debug("systemctl %s nginx failed, trying nginx %v: %s", action, fallback, strings.TrimSpace(string(output)))

	output, err = n.exec.Execute(ctx, "nginx", fallback...)
	if err != nil {
		return fmt.Errorf("failed to %s nginx: %s", action, strings.TrimSpace(string(output)))
	}
	return nil
}

func writeFile(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
