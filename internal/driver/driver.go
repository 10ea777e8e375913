package driver

import "context"

// Driver is the interface to the reverse proxy that terminates the
// public TLS hop
type Driver interface {
	// Name returns the driver name
	Name() string

	// Write stores a site config in the available directory
	Write(site string, content []byte) error

	// Read returns a site config; the error wraps fs.ErrNotExist when absent
	Read(site string) ([]byte, error)

	// Remove deletes a site config, disabling it first
	Remove(site string) error

	// Enable activates a site
	Enable(site string) error

	// Disable deactivates a site
	Disable(site string) error

	// IsEnabled checks if a site is enabled
	IsEnabled(site string) (bool, error)

	// List returns all site names from the available directory
	List() ([]string, error)

	// WriteSnippet stores an include snippet for ACME challenge responses
	WriteSnippet(name string, content []byte) error

	// RemoveSnippet deletes an include snippet
	RemoveSnippet(name string) error

	// Test validates the proxy config syntax
	Test(ctx context.Context) error

	// Reload applies the config without dropping connections
	Reload(ctx context.Context) error

	// Stop stops the proxy service
	Stop(ctx context.Context) error

	// Start starts the proxy service
	Start(ctx context.Context) error

	// Paths returns the driver's config paths
	Paths() Paths
}

// Paths contains the proxy config directory paths
type Paths struct {
	Available string // config available directory
	Enabled   string // config enabled directory
	Snippets  string // challenge snippet directory
}

// linked reports whether enabling a site needs a symlink
func (p Paths) linked() bool {
	return p.Available != p.Enabled
}
