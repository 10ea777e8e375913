package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/monitor"
	"github.com/ksyq12/mtlsctl/internal/pki"
)

func TestRunEnsureCA(t *testing.T) {
	t.Run("creates then keeps the CA", func(t *testing.T) {
		f := newCLIFixture(t)

		if err := runEnsureCA(newTestCmd(t), nil); err != nil {
			t.Fatalf("first run: %v", err)
		}
		key1, _ := os.ReadFile(f.store.CAKeyPath())
		crt1, _ := os.ReadFile(f.store.CACertPath())
		if len(key1) == 0 || len(crt1) == 0 {
			t.Fatal("CA files not written")
		}

		if err := runEnsureCA(newTestCmd(t), nil); err != nil {
			t.Fatalf("second run: %v", err)
		}
		key2, _ := os.ReadFile(f.store.CAKeyPath())
		crt2, _ := os.ReadFile(f.store.CACertPath())
		if !bytes.Equal(key1, key2) || !bytes.Equal(crt1, crt2) {
			t.Error("second ensure-ca changed the CA")
		}
	})

	t.Run("days flag", func(t *testing.T) {
		f := newCLIFixture(t)
		caDays = 30

		if err := runEnsureCA(newTestCmd(t), nil); err != nil {
			t.Fatalf("runEnsureCA: %v", err)
		}
		info, err := pki.Inspect(f.store.CACertPath(), nil, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if info.DaysRemaining < 29 || info.DaysRemaining > 30 {
			t.Errorf("expected ~30 days, got %d", info.DaysRemaining)
		}
	})

	t.Run("environment error", func(t *testing.T) {
		newCLIFixture(t)
		deps.EnvLoader = &MockEnvLoader{Err: apperr.Validation("bad env")}

		err := runEnsureCA(newTestCmd(t), nil)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestRunIssueClient(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		role      string
		hostnames []string
		withCA    bool
		wantErr   error
		validate  func(*testing.T, *cliFixture)
	}{
		{
			name:   "client with days",
			args:   []string{"admin-client", "30"},
			role:   config.RoleClient,
			withCA: true,
			validate: func(t *testing.T, f *cliFixture) {
				id, err := f.inv.GetIdentity("admin-client")
				if err != nil {
					t.Fatalf("identity not recorded: %v", err)
				}
				if id.Role != config.RoleClient || id.ValidityDays != 30 {
					t.Errorf("unexpected identity %+v", id)
				}
				info, err := pki.Inspect(f.store.CertPath("admin-client"), nil, time.Now())
				if err != nil {
					t.Fatal(err)
				}
				if info.DaysRemaining < 29 || info.DaysRemaining > 30 {
					t.Errorf("expected ~30 days, got %d", info.DaysRemaining)
				}
			},
		},
		{
			name:   "default days from environment",
			args:   []string{"worker"},
			role:   config.RoleClient,
			withCA: true,
			validate: func(t *testing.T, f *cliFixture) {
				id, _ := f.inv.GetIdentity("worker")
				if id == nil || id.ValidityDays != f.env.LeafDays {
					t.Errorf("expected %d days, got %+v", f.env.LeafDays, id)
				}
			},
		},
		{
			name:      "server with hostnames",
			args:      []string{"backend"},
			role:      config.RoleServer,
			hostnames: []string{"api.internal"},
			withCA:    true,
			validate: func(t *testing.T, f *cliFixture) {
				info, err := pki.Inspect(f.store.CertPath("backend"), nil, time.Now())
				if err != nil {
					t.Fatal(err)
				}
				if !strings.Contains(strings.Join(info.DNSNames, ","), "api.internal") {
					t.Errorf("hostname missing from %v", info.DNSNames)
				}
			},
		},
		{
			name:    "days not a number",
			args:    []string{"admin-client", "ten"},
			role:    config.RoleClient,
			withCA:  true,
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name:    "no CA yet",
			args:    []string{"admin-client"},
			role:    config.RoleClient,
			wantErr: apperr.ErrCANotInitialized,
		},
		{
			name:    "root role is reserved",
			args:    []string{"admin-client"},
			role:    config.RoleRoot,
			withCA:  true,
			wantErr: apperr.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCLIFixture(t)
			if tt.withCA {
				f.ca(t)
			}
			issueRole = tt.role
			issueHostnames = tt.hostnames

			err := runIssueClient(newTestCmd(t), tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if len(f.inv.ListIdentities()) != 0 {
					t.Error("failed issuance recorded an identity")
				}
				return
			}
			if err != nil {
				t.Fatalf("runIssueClient: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, f)
			}
		})
	}
}

func TestRunIssuePublic(t *testing.T) {
	t.Run("default strategy", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)

		if err := runIssuePublic(newTestCmd(t), []string{"Example.org", "ops@example.org"}); err != nil {
			t.Fatalf("runIssuePublic: %v", err)
		}
		if len(f.public.Requests) != 1 {
			t.Fatalf("expected 1 request, got %d", len(f.public.Requests))
		}
		req := f.public.Requests[0]
		if req.Domain != "example.org" || req.Email != "ops@example.org" || req.Strategy != config.StrategyGatewayPlugin || req.SelfSigned {
			t.Errorf("unexpected request %+v", req)
		}
		if !f.store.Exists(f.store.CertPath(f.env.ProxyIdentity)) {
			t.Error("proxy identity not issued")
		}

		opts := deps.PublicFactory.(*MockPublicFactory).Options
		if len(opts) != 1 || opts[0].Defaults.BackendAddr != f.env.BackendAddr || opts[0].ProxyUser != "www-data" {
			t.Errorf("unexpected orchestrator options %+v", opts)
		}
	})

	t.Run("explicit strategy and self-signed mode", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		f.env.PublicCertMode = config.PublicCertSelfSigned

		if err := runIssuePublic(newTestCmd(t), []string{"example.org", "ops@example.org", "dns-01"}); err != nil {
			t.Fatalf("runIssuePublic: %v", err)
		}
		req := f.public.Requests[0]
		if req.Strategy != config.StrategyDNS01 || !req.SelfSigned {
			t.Errorf("unexpected request %+v", req)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		f := newCLIFixture(t)
		err := runIssuePublic(newTestCmd(t), []string{"example.org", "ops@example.org", "carrier-pigeon"})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("expected validation error, got %v", err)
		}
		if len(f.public.Requests) != 0 {
			t.Error("issuer called for an invalid strategy")
		}
	})

	t.Run("requires root", func(t *testing.T) {
		f := newCLIFixture(t)
		f.root.IsRoot = false
		err := runIssuePublic(newTestCmd(t), []string{"example.org", "ops@example.org"})
		if !errors.Is(err, apperr.ErrRootRequired) {
			t.Errorf("expected root error, got %v", err)
		}
	})

	t.Run("issuer failure", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		f.public.Err = apperr.ErrDNSResolution

		err := runIssuePublic(newTestCmd(t), []string{"example.org", "ops@example.org"})
		if !errors.Is(err, apperr.ErrDNSResolution) {
			t.Errorf("expected DNS error, got %v", err)
		}
	})

	t.Run("installed with cleanup warning", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		f.public.Err = errors.New("removing challenge snippet")
		f.public.Partial = true

		if err := runIssuePublic(newTestCmd(t), []string{"example.org", "ops@example.org"}); err != nil {
			t.Errorf("installed certificate should not fail the command: %v", err)
		}
	})
}

func TestRunRenewAll(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	iss := f.issuer()
	ctx := context.Background()

	for name, days := range map[string]int{"due": 5, "fresh": 200} {
		if _, err := iss.Issue(ctx, pki.IssueRequest{Name: name, Role: config.RoleClient, ValidityDays: days}); err != nil {
			t.Fatal(err)
		}
		f.inv.PutIdentity(&config.Identity{Name: name, Role: config.RoleClient, ValidityDays: 365})
	}
	if _, err := iss.SelfSigned(ctx, "example.org", nil, 3); err != nil {
		t.Fatal(err)
	}
	f.inv.PutDomain(&config.Domain{Domain: "example.org", Email: "ops@example.org", Strategy: config.StrategyWebroot})

	freshBefore, _ := os.Stat(f.store.CertPath("fresh"))

	if err := runRenewAll(newTestCmd(t), nil); err != nil {
		t.Fatalf("runRenewAll: %v", err)
	}

	freshAfter, _ := os.Stat(f.store.CertPath("fresh"))
	if !freshBefore.ModTime().Equal(freshAfter.ModTime()) {
		t.Error("fresh certificate was rewritten")
	}
	info, err := pki.Inspect(f.store.CertPath("due"), nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if info.DaysRemaining < 300 {
		t.Errorf("due certificate not renewed, %d days left", info.DaysRemaining)
	}
	if len(f.public.Requests) != 1 || f.public.Requests[0].Strategy != config.StrategyWebroot {
		t.Errorf("expected one webroot renewal, got %+v", f.public.Requests)
	}
	if _, reloads := f.drv.Counts(); reloads != 1 {
		t.Errorf("expected 1 reload, got %d", reloads)
	}

	h, err := monitor.OpenHistory(f.env.StateDB)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	latest, err := h.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 4 {
		t.Errorf("expected 4 history records (ca, 2 identities, 1 domain), got %d", len(latest))
	}
}

func TestRunRenewAllFailure(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	if _, err := f.issuer().SelfSigned(context.Background(), "example.org", nil, 3); err != nil {
		t.Fatal(err)
	}
	f.inv.PutDomain(&config.Domain{Domain: "example.org", Strategy: config.StrategyGatewayPlugin})
	f.public.Err = apperr.ErrRateLimited

	err := runRenewAll(newTestCmd(t), nil)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 certificates failed") {
		t.Errorf("expected failure summary, got %v", err)
	}
}

func TestRunRenewAllWithoutProxy(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	deps.PlatformDetector = &MockPlatformDetector{Err: errors.New("unsupported platform")}

	if err := runRenewAll(newTestCmd(t), nil); err != nil {
		t.Errorf("identities only pass should succeed without nginx: %v", err)
	}

	f.inv.PutDomain(&config.Domain{Domain: "example.org"})
	if err := runRenewAll(newTestCmd(t), nil); err == nil {
		t.Error("expected error when domains need the proxy")
	}
}

func TestRunCertificateStatus(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	iss := f.issuer()
	ctx := context.Background()
	if _, err := iss.Issue(ctx, pki.IssueRequest{Name: "admin-client", Role: config.RoleClient, ValidityDays: 30}); err != nil {
		t.Fatal(err)
	}
	if _, err := iss.SelfSigned(ctx, "example.org", nil, 90); err != nil {
		t.Fatal(err)
	}
	f.inv.PutDomain(&config.Domain{Domain: "example.org", State: config.StateIssued, SelfSigned: true})

	tests := []struct {
		subject string
		wantErr error
	}{
		{"ca", nil},
		{"admin-client", nil},
		{"example.org", nil},
		{"EXAMPLE.ORG", nil},
		{"nobody", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			err := runCertificateStatus(newTestCmd(t), []string{tt.subject})
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("located paths", func(t *testing.T) {
		a, err := loadApp()
		if err != nil {
			t.Fatal(err)
		}
		kind, path, d := a.locate("example.org")
		if kind != monitor.KindPublic || path != f.store.PublicCertPath("example.org") || d == nil {
			t.Errorf("locate(example.org) = %s %s %v", kind, path, d)
		}
		kind, path, _ = a.locate("admin-client")
		if kind != monitor.KindIdentity || path != f.store.CertPath("admin-client") {
			t.Errorf("locate(admin-client) = %s %s", kind, path)
		}
	})
}

func TestRunConfigureProxy(t *testing.T) {
	t.Run("dry run writes nothing", func(t *testing.T) {
		f := newCLIFixture(t)
		dryRun = true
		proxyVerify = config.VerifyRequired

		if err := runConfigureProxy(newTestCmd(t), []string{"example.org"}); err != nil {
			t.Fatalf("runConfigureProxy: %v", err)
		}
		if len(f.drv.WriteCalls) != 0 || f.drv.TestCalls != 0 {
			t.Error("dry run touched the proxy")
		}
		if f.root.Calls != 0 {
			t.Error("dry run should not need root")
		}
		if len(f.inv.ListDomains()) != 0 {
			t.Error("dry run saved the domain")
		}
	})

	t.Run("applies chain with placeholder certificate", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		proxyVerify = config.VerifyRequired
		proxyBackend = "10.0.0.5:8443"

		if err := runConfigureProxy(newTestCmd(t), []string{"example.org"}); err != nil {
			t.Fatalf("runConfigureProxy: %v", err)
		}

		site := f.drv.Site("example.org")
		for _, want := range []string{
			"ssl_verify_client on",
			"server 10.0.0.5:8443",
			f.store.PublicCertPath("example.org"),
			f.store.CertPath(f.env.ProxyIdentity),
			f.store.CACertPath(),
		} {
			if !strings.Contains(site, want) {
				t.Errorf("site config missing %q", want)
			}
		}
		if !f.store.Exists(f.store.PublicCertPath("example.org")) {
			t.Error("placeholder certificate not created")
		}
		tests, reloads := f.drv.Counts()
		if tests != 1 || reloads != 1 {
			t.Errorf("expected 1 test and 1 reload, got %d and %d", tests, reloads)
		}

		d, err := f.inv.GetDomain("example.org")
		if err != nil {
			t.Fatalf("domain not saved: %v", err)
		}
		if d.ClientVerify != config.VerifyRequired || d.BackendAddr != "10.0.0.5:8443" {
			t.Errorf("unexpected domain %+v", d)
		}
	})

	t.Run("rejected config is rolled back", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		f.drv.TestFunc = func() error {
			return apperr.New(apperr.ErrCodeConfigValidation, "nginx", "nginx -t failed", nil)
		}

		err := runConfigureProxy(newTestCmd(t), []string{"example.org"})
		if !errors.Is(err, apperr.ErrConfigValidation) {
			t.Fatalf("expected config validation error, got %v", err)
		}
		if _, ok := f.drv.Sites["example.org"]; ok {
			t.Error("rejected site left in place")
		}
		if f.drv.ReloadCalls != 0 {
			t.Error("reloaded after a failed test")
		}
		if len(f.inv.ListDomains()) != 0 {
			t.Error("rejected domain saved")
		}
	})

	t.Run("invalid verify mode", func(t *testing.T) {
		newCLIFixture(t)
		proxyVerify = "sometimes"
		err := runConfigureProxy(newTestCmd(t), []string{"example.org"})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestRunMonitorOnce(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	monitorOnce = true

	if err := runMonitor(newTestCmd(t), nil); err != nil {
		t.Fatalf("runMonitor: %v", err)
	}

	h, err := monitor.OpenHistory(f.env.StateDB)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	latest, _ := h.Latest()
	if len(latest) != 1 || latest[0].Kind != monitor.KindCA {
		t.Errorf("expected one CA record, got %+v", latest)
	}
}

func TestRunServeGateway(t *testing.T) {
	f := newCLIFixture(t)
	f.ca(t)
	iss := f.issuer()
	if _, err := iss.Issue(context.Background(), pki.IssueRequest{Name: f.env.ProxyIdentity, Role: config.RoleProxyClient, ValidityDays: 30}); err != nil {
		t.Fatal(err)
	}
	if _, err := iss.SelfSigned(context.Background(), "example.org", nil, 30); err != nil {
		t.Fatal(err)
	}
	gatewayListen = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	cmd := newTestCmd(t)
	cmd.SetContext(ctx)

	if err := runServeGateway(cmd, []string{"example.org"}); err != nil {
		t.Errorf("gateway should stop cleanly: %v", err)
	}
}

func TestRunServeGatewayMissingCertificates(t *testing.T) {
	newCLIFixture(t)
	if err := runServeGateway(newTestCmd(t), []string{"example.org"}); err == nil {
		t.Error("expected error without certificates")
	}
}

func TestRunMenu(t *testing.T) {
	t.Run("ensure CA then quit", func(t *testing.T) {
		f := newCLIFixture(t)
		deps.StdinReader = &MockStdinReader{Input: "1\n\n7\n"}

		cmd := newTestCmd(t)
		var out bytes.Buffer
		cmd.SetOut(&out)
		if err := runMenu(cmd, nil); err != nil {
			t.Fatalf("runMenu: %v", err)
		}
		if !f.store.Exists(f.store.CACertPath()) {
			t.Error("menu did not run ensure-ca")
		}
		if !strings.Contains(out.String(), "Issue internal certificate") {
			t.Errorf("menu not printed: %q", out.String())
		}
	})

	t.Run("issue internal certificate", func(t *testing.T) {
		f := newCLIFixture(t)
		f.ca(t)
		deps.StdinReader = &MockStdinReader{Input: "2\nbackend\nserver\n45\napi.internal, 10.0.0.5\nquit\n"}

		cmd := newTestCmd(t)
		cmd.SetOut(&bytes.Buffer{})
		if err := runMenu(cmd, nil); err != nil {
			t.Fatalf("runMenu: %v", err)
		}
		id, err := f.inv.GetIdentity("backend")
		if err != nil {
			t.Fatalf("identity not issued: %v", err)
		}
		if id.Role != config.RoleServer || id.ValidityDays != 45 || len(id.Hostnames) != 2 {
			t.Errorf("unexpected identity %+v", id)
		}
	})

	t.Run("failed action returns to menu", func(t *testing.T) {
		newCLIFixture(t)
		deps.StdinReader = &MockStdinReader{Input: "5\nnobody\n7\n"}

		cmd := newTestCmd(t)
		cmd.SetOut(&bytes.Buffer{})
		if err := runMenu(cmd, nil); err != nil {
			t.Fatalf("runMenu: %v", err)
		}
	})

	t.Run("end of input exits", func(t *testing.T) {
		newCLIFixture(t)
		deps.StdinReader = &MockStdinReader{Input: ""}

		cmd := newTestCmd(t)
		cmd.SetOut(&bytes.Buffer{})
		if err := runMenu(cmd, nil); err != nil {
			t.Errorf("EOF should end the menu quietly: %v", err)
		}
	})
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"missing uses default", []string{"name"}, 365, false},
		{"number", []string{"name", "30"}, 30, false},
		{"not a number", []string{"name", "thirty"}, 0, true},
		{"zero", []string{"name", "0"}, 0, true},
		{"negative", []string{"name", "-5"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intArg(tt.args, 1, 365, "days")
			if (err != nil) != tt.wantErr {
				t.Fatalf("intArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.internal, ,10.0.0.5,")
	if strings.Join(got, "|") != "a.internal|10.0.0.5" {
		t.Errorf("splitList() = %v", got)
	}
	if splitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestNewTestEnvIsValid(t *testing.T) {
	env := NewTestEnv(t.TempDir())
	if err := env.Validate(); err != nil {
		t.Errorf("test environment invalid: %v", err)
	}
	if filepath.Dir(env.Inventory) != filepath.Dir(env.StateDB) {
		t.Error("paths not rooted together")
	}
}
