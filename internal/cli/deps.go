package cli

import (
	"fmt"
	"os"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	"github.com/ksyq12/mtlsctl/internal/input"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/pki"
	"github.com/ksyq12/mtlsctl/internal/platform"
)

// Dependencies aggregates all CLI external dependencies for testability
type Dependencies struct {
	EnvLoader        EnvLoader
	InventoryLoader  InventoryLoader
	PlatformDetector PlatformDetector
	DriverFactory    DriverFactory
	ProviderFactory  ProviderFactory
	PublicFactory    PublicIssuerFactory
	RootChecker      RootChecker
	StdinReader      StdinReader
}

// EnvLoader reads the runtime configuration
type EnvLoader interface {
	Load(envFile string) (*config.Env, error)
}

// InventoryLoader reads the managed-certificate inventory
type InventoryLoader interface {
	Load(path string) (*config.Inventory, error)
}

// PlatformDetector handles platform path detection
type PlatformDetector interface {
	DetectPaths() (*platform.PlatformPaths, error)
}

// DriverFactory creates the proxy driver
type DriverFactory interface {
	Create(paths driver.Paths) (driver.Driver, error)
}

// ProviderFactory creates the key and signing provider
type ProviderFactory interface {
	Create() pki.Provider
}

// PublicIssuerFactory creates the public certificate issuer
type PublicIssuerFactory interface {
	Create(opts acme.Options) monitor.PublicIssuer
}

// RootChecker checks root privileges
type RootChecker interface {
	RequireRoot() error
}

// StdinReader reads menu answers
type StdinReader = input.Reader

// Package-level dependencies (can be overridden for testing)
var deps = &Dependencies{
	EnvLoader:        &realEnvLoader{},
	InventoryLoader:  &realInventoryLoader{},
	PlatformDetector: &realPlatformDetector{},
	DriverFactory:    &realDriverFactory{},
	ProviderFactory:  &realProviderFactory{},
	PublicFactory:    &realPublicFactory{},
	RootChecker:      &realRootChecker{},
	StdinReader:      input.NewStdinReader(),
}

// SetDeps replaces the package dependencies (for testing)
func SetDeps(d *Dependencies) {
	deps = d
}

// GetDeps returns the current dependencies (for testing)
func GetDeps() *Dependencies {
	return deps
}

// Real implementations that delegate to existing functions

type realEnvLoader struct{}

func (r *realEnvLoader) Load(envFile string) (*config.Env, error) {
	return config.LoadEnv(envFile)
}

type realInventoryLoader struct{}

func (r *realInventoryLoader) Load(path string) (*config.Inventory, error) {
	return config.Load(path)
}

type realPlatformDetector struct{}

func (r *realPlatformDetector) DetectPaths() (*platform.PlatformPaths, error) {
	return platform.DetectPaths()
}

type realDriverFactory struct{}

func (r *realDriverFactory) Create(paths driver.Paths) (driver.Driver, error) {
	if paths.Available == "" || paths.Enabled == "" {
		return nil, fmt.Errorf("nginx site directories are not configured")
	}
	return driver.NewNginxWithPaths(paths), nil
}

type realProviderFactory struct{}

func (r *realProviderFactory) Create() pki.Provider {
	return pki.NewNativeProvider()
}

type realPublicFactory struct{}

func (r *realPublicFactory) Create(opts acme.Options) monitor.PublicIssuer {
	return acme.New(opts)
}

type realRootChecker struct{}

func (r *realRootChecker) RequireRoot() error {
	if os.Geteuid() != 0 {
		return errRootRequired
	}
	return nil
}
