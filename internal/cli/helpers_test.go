package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/driver"
	"github.com/ksyq12/mtlsctl/internal/pki"
	"github.com/ksyq12/mtlsctl/internal/pki/pkitest"
)

// cliFixture wires mock dependencies around a temporary store
type cliFixture struct {
	env      *config.Env
	inv      *config.Inventory
	drv      *driver.MockDriver
	public   *MockPublicIssuer
	root     *MockRootChecker
	provider *pkitest.Provider
	store    *certstore.Store
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	env := NewTestEnv(t.TempDir())
	f := &cliFixture{
		env: env,
		inv: config.New(env.Inventory),
		drv: driver.NewMockDriver("nginx", driver.Paths{
			Available: "/etc/nginx/sites-available",
			Enabled:   "/etc/nginx/sites-enabled",
			Snippets:  "/etc/nginx/snippets/mtlsctl-acme",
		}),
		public:   &MockPublicIssuer{},
		root:     &MockRootChecker{IsRoot: true},
		provider: pkitest.NewProvider(),
		store:    certstore.New(env.CADir, env.IdentityDir),
	}

	d := NewMockDeps().
		WithEnv(env).
		WithInventory(f.inv).
		WithDriver(f.drv).
		WithProvider(f.provider).
		WithPublicIssuer(f.public).
		Build()
	d.RootChecker = f.root

	oldDeps := deps
	deps = d
	t.Cleanup(func() { deps = oldDeps })
	return f
}

// ca creates the root CA the commands will load
func (f *cliFixture) ca(t *testing.T) *pki.CA {
	t.Helper()
	m := pki.NewManager(f.store, f.provider)
	ca, _, err := m.EnsureCA(context.Background(), 365)
	if err != nil {
		t.Fatalf("EnsureCA: %v", err)
	}
	return ca
}

// issuer signs with the fixture CA outside the commands
func (f *cliFixture) issuer() *pki.Issuer {
	return pki.NewIssuer(f.store, f.provider, pki.NewManager(f.store, f.provider))
}

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	return cmd
}

func resetFlags() {
	jsonOutput = false
	caDays = 0
	issueRole = config.RoleClient
	issueHostnames = nil
	dryRun = false
	proxyVerify = ""
	proxyBackend = ""
	proxyBackName = ""
	monitorOnce = false
	monitorListen = ""
	gatewayListen = ":443"
}
