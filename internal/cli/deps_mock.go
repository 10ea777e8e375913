package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ksyq12/mtlsctl/internal/acme"
	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/pki"
	"github.com/ksyq12/mtlsctl/internal/platform"
)

// NewTestEnv returns the default environment with every path under root
func NewTestEnv(root string) *config.Env {
	return &config.Env{
		IdentityDir:    filepath.Join(root, "identities"),
		CADir:          filepath.Join(root, "ca"),
		Challenge:      config.StrategyGatewayPlugin,
		PublicCertMode: config.PublicCertACME,
		ACMEDirectory:  "https://acme.test/directory",
		DNSProvider:    "manual",
		Webroot:        filepath.Join(root, "acme"),
		BackendAddr:    "127.0.0.1:8443",
		BackendName:    "localhost",
		BackendCert:    "backend",
		ProxyIdentity:  "gateway",
		ClientVerify:   config.VerifyOff,
		CADays:         3650,
		LeafDays:       365,
		RenewInterval:  12 * time.Hour,
		RenewJitter:    time.Hour,
		RenewThreshold: monitor.DefaultThresholdDays,
		StateDB:        filepath.Join(root, "state.db"),
		Inventory:      filepath.Join(root, "inventory.yaml"),
	}
}

// MockEnvLoader is a test double for EnvLoader
type MockEnvLoader struct {
	Env   *config.Env
	Err   error
	Files []string
}

func (m *MockEnvLoader) Load(envFile string) (*config.Env, error) {
	m.Files = append(m.Files, envFile)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Env, nil
}

// MockInventoryLoader is a test double for InventoryLoader. It hands out
// the same inventory on every call, so state carries across commands.
type MockInventoryLoader struct {
	Inv *config.Inventory
	Err error
}

func (m *MockInventoryLoader) Load(path string) (*config.Inventory, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Inv == nil {
		m.Inv = config.New(path)
	}
	return m.Inv, nil
}

// MockPlatformDetector is a test double for PlatformDetector
type MockPlatformDetector struct {
	Paths *platform.PlatformPaths
	Err   error
}

func (m *MockPlatformDetector) DetectPaths() (*platform.PlatformPaths, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Paths != nil {
		return m.Paths, nil
	}
	// Return default mock paths
	return &platform.PlatformPaths{
		Nginx: platform.PathConfig{
			Available: "/etc/nginx/sites-available",
			Enabled:   "/etc/nginx/sites-enabled",
			Snippets:  "/etc/nginx/snippets/mtlsctl-acme",
			Webroot:   "/var/www/acme",
		},
		ProxyUser: "www-data",
	}, nil
}

// MockDriverFactory is a test double for DriverFactory
type MockDriverFactory struct {
	Driver driver.Driver
	Err    error
}

func (m *MockDriverFactory) Create(paths driver.Paths) (driver.Driver, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Driver != nil {
		return m.Driver, nil
	}
	// Return a default mock driver if none provided
	return driver.NewMockDriver("nginx", paths), nil
}

// MockProviderFactory is a test double for ProviderFactory
type MockProviderFactory struct {
	Provider pki.Provider
}

func (m *MockProviderFactory) Create() pki.Provider {
	if m.Provider == nil {
		m.Provider = pki.NewNativeProvider()
	}
	return m.Provider
}

// MockPublicIssuer is a test double for the ACME orchestrator
type MockPublicIssuer struct {
	mu       sync.Mutex
	Requests []acme.Request
	Validity time.Duration
	Err      error
	// Partial returns the result together with Err
	Partial bool
}

func (m *MockPublicIssuer) IssueOrRenew(_ context.Context, req acme.Request) (*acme.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil && !m.Partial {
		return nil, m.Err
	}
	validity := m.Validity
	if validity == 0 {
		validity = 90 * 24 * time.Hour
	}
	return &acme.Result{
		Domain:   req.Domain,
		Strategy: req.Strategy,
		CertPath: "/etc/mtlsctl/identities/public/" + req.Domain + ".crt",
		KeyPath:  "/etc/mtlsctl/identities/public/" + req.Domain + ".key",
		NotAfter: time.Now().Add(validity),
		State:    config.StateIssued,
	}, m.Err
}

// MockPublicFactory is a test double for PublicIssuerFactory
type MockPublicFactory struct {
	Issuer  *MockPublicIssuer
	Options []acme.Options
}

func (m *MockPublicFactory) Create(opts acme.Options) monitor.PublicIssuer {
	m.Options = append(m.Options, opts)
	if m.Issuer == nil {
		m.Issuer = &MockPublicIssuer{}
	}
	return m.Issuer
}

// MockRootChecker is a test double for RootChecker
type MockRootChecker struct {
	IsRoot bool
	Calls  int
}

func (m *MockRootChecker) RequireRoot() error {
	m.Calls++
	if !m.IsRoot {
		return errRootRequired
	}
	return nil
}

// MockStdinReader is a test double for StdinReader
type MockStdinReader struct {
	Input string
	pos   int
}

func (m *MockStdinReader) ReadString(delim byte) (string, error) {
	if m.pos >= len(m.Input) {
		return "", io.EOF
	}
	idx := strings.IndexByte(m.Input[m.pos:], delim)
	if idx == -1 {
		result := m.Input[m.pos:]
		m.pos = len(m.Input)
		return result, nil
	}
	result := m.Input[m.pos : m.pos+idx+1]
	m.pos += idx + 1
	return result, nil
}

// MockDependenciesBuilder helps create mock dependencies for tests
type MockDependenciesBuilder struct {
	deps *Dependencies
}

// NewMockDeps creates a new MockDependenciesBuilder with sensible defaults
func NewMockDeps() *MockDependenciesBuilder {
	return &MockDependenciesBuilder{
		deps: &Dependencies{
			EnvLoader:        &MockEnvLoader{Env: NewTestEnv("/tmp/mtlsctl-test")},
			InventoryLoader:  &MockInventoryLoader{},
			PlatformDetector: &MockPlatformDetector{},
			DriverFactory:    &MockDriverFactory{},
			ProviderFactory:  &MockProviderFactory{},
			PublicFactory:    &MockPublicFactory{},
			RootChecker:      &MockRootChecker{IsRoot: true},
			StdinReader:      &MockStdinReader{Input: "y\n"},
		},
	}
}

// WithEnv sets the environment for the mock
func (b *MockDependenciesBuilder) WithEnv(env *config.Env) *MockDependenciesBuilder {
	b.deps.EnvLoader = &MockEnvLoader{Env: env}
	return b
}

// WithEnvError makes environment loading fail
func (b *MockDependenciesBuilder) WithEnvError(err error) *MockDependenciesBuilder {
	b.deps.EnvLoader = &MockEnvLoader{Err: err}
	return b
}

// WithInventory sets the inventory for the mock
func (b *MockDependenciesBuilder) WithInventory(inv *config.Inventory) *MockDependenciesBuilder {
	b.deps.InventoryLoader = &MockInventoryLoader{Inv: inv}
	return b
}

// WithDriver sets the driver for the mock
func (b *MockDependenciesBuilder) WithDriver(drv driver.Driver) *MockDependenciesBuilder {
	b.deps.DriverFactory = &MockDriverFactory{Driver: drv}
	return b
}

// WithProvider sets the key provider
func (b *MockDependenciesBuilder) WithProvider(p pki.Provider) *MockDependenciesBuilder {
	b.deps.ProviderFactory = &MockProviderFactory{Provider: p}
	return b
}

// WithPublicIssuer sets the public certificate issuer
func (b *MockDependenciesBuilder) WithPublicIssuer(p *MockPublicIssuer) *MockDependenciesBuilder {
	b.deps.PublicFactory = &MockPublicFactory{Issuer: p}
	return b
}

// WithRootAccess sets whether root access is available
func (b *MockDependenciesBuilder) WithRootAccess(isRoot bool) *MockDependenciesBuilder {
	b.deps.RootChecker = &MockRootChecker{IsRoot: isRoot}
	return b
}

// WithStdinInput sets the stdin input for the mock
func (b *MockDependenciesBuilder) WithStdinInput(input string) *MockDependenciesBuilder {
	b.deps.StdinReader = &MockStdinReader{Input: input}
	return b
}

// WithPlatformPaths sets custom platform paths
func (b *MockDependenciesBuilder) WithPlatformPaths(paths *platform.PlatformPaths) *MockDependenciesBuilder {
	b.deps.PlatformDetector = &MockPlatformDetector{Paths: paths}
	return b
}

// WithPlatformError sets an error for platform detection
func (b *MockDependenciesBuilder) WithPlatformError(err error) *MockDependenciesBuilder {
	b.deps.PlatformDetector = &MockPlatformDetector{Err: err}
	return b
}

// Build returns the configured Dependencies
func (b *MockDependenciesBuilder) Build() *Dependencies {
	return b.deps
}
