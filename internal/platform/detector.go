// Package platform provides platform-specific path detection for the nginx gateway.
package platform

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// PathConfig contains the paths for the nginx gateway.
type PathConfig struct {
	Available string // site configs
	Enabled   string // enabled site links (same as Available on conf.d layouts)
	Snippets  string // ACME challenge snippets included by the port 80 server
	Webroot   string // default webroot for the webroot challenge
}

// PlatformPaths contains the detected nginx layout and runtime identity.
type PlatformPaths struct {
	Nginx     PathConfig
	ProxyUser string // user the nginx workers run as
}

// DetectPaths returns platform-specific default paths for nginx.
// It checks for common installation locations based on the OS and architecture.
func DetectPaths() (*PlatformPaths, error) {
	switch runtime.GOOS {
	case "darwin":
		return detectDarwinPaths()
	case "linux":
		return detectLinuxPaths()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectDarwinPaths detects paths for macOS (Homebrew installations).
func detectDarwinPaths() (*PlatformPaths, error) {
	// Check for Apple Silicon Homebrew path first
	for _, prefix := range []string{"/opt/homebrew", "/usr/local"} {
		if !pathExists(prefix) {
			continue
		}
		base := filepath.Join(prefix, "etc/nginx")
		return &PlatformPaths{
			Nginx: PathConfig{
				Available: filepath.Join(base, "servers"),
				Enabled:   filepath.Join(base, "servers"),
				Snippets:  filepath.Join(base, "mtlsctl-acme"),
				Webroot:   filepath.Join(prefix, "var/www/acme"),
			},
			ProxyUser: firstUser("_www", "nobody"),
		}, nil
	}

	return nil, fmt.Errorf("homebrew installation not found (checked /opt/homebrew and /usr/local)")
}

// detectLinuxPaths detects paths for Linux distributions.
func detectLinuxPaths() (*PlatformPaths, error) {
	// Try Debian/Ubuntu paths first (most common)
	if pathExists("/etc/nginx/sites-available") {
		return &PlatformPaths{
			Nginx: PathConfig{
				Available: "/etc/nginx/sites-available",
				Enabled:   "/etc/nginx/sites-enabled",
				Snippets:  "/etc/nginx/snippets/mtlsctl-acme",
				Webroot:   "/var/www/acme",
			},
			ProxyUser: firstUser("www-data", "nginx"),
		}, nil
	}

	// Try RHEL/CentOS paths
	if pathExists("/etc/nginx/conf.d") || pathExists("/etc/nginx") {
		return &PlatformPaths{
			Nginx: PathConfig{
				Available: "/etc/nginx/conf.d",
				Enabled:   "/etc/nginx/conf.d",
				Snippets:  "/etc/nginx/default.d/mtlsctl-acme",
				Webroot:   "/usr/share/nginx/acme",
			},
			ProxyUser: firstUser("nginx", "www-data"),
		}, nil
	}

	return nil, fmt.Errorf("nginx configuration paths not found (checked /etc/nginx/sites-available, /etc/nginx/conf.d)")
}

// Separate reports whether enabling a site needs a symlink.
func (c PathConfig) Separate() bool {
	return c.Available != c.Enabled
}

// firstUser returns the first candidate that exists as a system user,
// or the first candidate when none can be looked up.
func firstUser(candidates ...string) string {
	for _, name := range candidates {
		if _, err := user.Lookup(name); err == nil {
			return name
		}
	}
	return candidates[0]
}

// pathExists checks if a path exists on the filesystem.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Platform returns a string describing the current platform.
func Platform() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
