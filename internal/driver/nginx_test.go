package driver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/executor"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	tempDir := t.TempDir()
	return Paths{
		Available: filepath.Join(tempDir, "sites-available"),
		Enabled:   filepath.Join(tempDir, "sites-enabled"),
		Snippets:  filepath.Join(tempDir, "snippets"),
	}
}

func TestNginxDriver(t *testing.T) {
	paths := testPaths(t)
	drv := NewNginxWithPaths(paths)
	site := "example.org"
	content := []byte("server { listen 443 ssl; server_name example.org; }")

	t.Run("Name", func(t *testing.T) {
		if drv.Name() != "nginx" {
			t.Errorf("expected nginx, got %s", drv.Name())
		}
	})

	t.Run("Paths", func(t *testing.T) {
		if drv.Paths() != paths {
			t.Errorf("expected %+v, got %+v", paths, drv.Paths())
		}
	})

	t.Run("Write", func(t *testing.T) {
		if err := drv.Write(site, content); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		configPath := filepath.Join(paths.Available, site+".conf")
		got, err := os.ReadFile(configPath)
		if err != nil {
			t.Fatalf("failed to read config: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("config content mismatch")
		}
		if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
			t.Error("temporary file should not remain")
		}
	})

	t.Run("Read", func(t *testing.T) {
		got, err := drv.Read(site)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("unexpected content %q", got)
		}

		_, err = drv.Read("missing.example.org")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		sites, err := drv.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(sites) != 1 || sites[0] != site {
			t.Errorf("expected [%s], got %v", site, sites)
		}
	})

	t.Run("Enable", func(t *testing.T) {
		if err := drv.Enable(site); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}

		link := filepath.Join(paths.Enabled, site+".conf")
		info, err := os.Lstat(link)
		if err != nil {
			t.Fatal("symlink was not created")
		}
		if info.Mode()&os.ModeSymlink == 0 {
			t.Error("expected symlink")
		}

		// enabling twice is a no-op
		if err := drv.Enable(site); err != nil {
			t.Errorf("second Enable failed: %v", err)
		}

		enabled, err := drv.IsEnabled(site)
		if err != nil || !enabled {
			t.Errorf("expected enabled, got %v (%v)", enabled, err)
		}
	})

	t.Run("Disable", func(t *testing.T) {
		if err := drv.Disable(site); err != nil {
			t.Fatalf("Disable failed: %v", err)
		}
		enabled, _ := drv.IsEnabled(site)
		if enabled {
			t.Error("site should be disabled")
		}
	})

	t.Run("Snippets", func(t *testing.T) {
		if err := drv.WriteSnippet("token-abc", []byte("location = /x { return 200; }")); err != nil {
			t.Fatalf("WriteSnippet failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(paths.Snippets, "token-abc.conf")); err != nil {
			t.Errorf("snippet not written: %v", err)
		}
		if err := drv.RemoveSnippet("token-abc"); err != nil {
			t.Fatalf("RemoveSnippet failed: %v", err)
		}
		if err := drv.RemoveSnippet("token-abc"); err != nil {
			t.Errorf("removing a missing snippet should succeed: %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		_ = drv.Enable(site)
		if err := drv.Remove(site); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if _, err := os.Lstat(filepath.Join(paths.Enabled, site+".conf")); !os.IsNotExist(err) {
			t.Error("symlink should be removed")
		}
		if err := drv.Remove(site); !apperr.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestNginxDriver_SingleDirectory(t *testing.T) {
	dir := t.TempDir()
	drv := NewNginxWithPaths(Paths{Available: dir, Enabled: dir, Snippets: filepath.Join(dir, "snippets")})

	if err := drv.Write("example.org", []byte("server {}")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := drv.Enable("example.org"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	enabled, _ := drv.IsEnabled("example.org")
	if !enabled {
		t.Error("written site should be enabled on conf.d layouts")
	}
	if err := drv.Disable("example.org"); err == nil {
		t.Error("Disable should fail on a single-directory layout")
	}
}

func TestNginxDriver_WithExecutor(t *testing.T) {
	paths := testPaths(t)
	ctx := context.Background()

	t.Run("Test_success", func(t *testing.T) {
		mock := &executor.MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				if name == "nginx" && len(args) > 0 && args[0] == "-t" {
					return []byte("nginx: configuration file test is successful"), nil
				}
				return nil, errors.New("unexpected command")
			},
		}

		drv := NewNginxWithExecutor(paths, mock)
		if err := drv.Test(ctx); err != nil {
			t.Errorf("Test should succeed: %v", err)
		}

		if len(mock.Calls) != 1 {
			t.Errorf("expected 1 call, got %d", len(mock.Calls))
		}
		if mock.Calls[0].Name != "nginx" || mock.Calls[0].Args[0] != "-t" {
			t.Errorf("expected nginx -t, got %s %v", mock.Calls[0].Name, mock.Calls[0].Args)
		}
	})

	t.Run("Test_failure", func(t *testing.T) {
		mock := &executor.MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				return []byte("nginx: [emerg] unknown directive \"ssl_verify\""), errors.New("exit status 1")
			},
		}

		drv := NewNginxWithExecutor(paths, mock)
		err := drv.Test(ctx)
		if !apperr.Is(err, apperr.ErrConfigValidation) {
			t.Errorf("expected config validation error, got %v", err)
		}
	})

	t.Run("Reload_systemctl_success", func(t *testing.T) {
		mock := &executor.MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				if name == "systemctl" && len(args) >= 2 && args[0] == "reload" && args[1] == "nginx" {
					return []byte(""), nil
				}
				return nil, errors.New("unexpected command")
			},
		}

		drv := NewNginxWithExecutor(paths, mock)
		if err := drv.Reload(ctx); err != nil {
			t.Errorf("Reload should succeed: %v", err)
		}
	})

	t.Run("Reload_fallback_success", func(t *testing.T) {
		callCount := 0
		mock := &executor.MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				callCount++
				if callCount == 1 {
					// First call: systemctl fails
					return []byte("systemctl not available"), errors.New("systemctl not found")
				}
				// Second call: nginx -s reload succeeds
				if name == "nginx" && len(args) >= 2 && args[0] == "-s" && args[1] == "reload" {
					return []byte(""), nil
				}
				return nil, errors.New("unexpected command")
			},
		}

		drv := NewNginxWithExecutor(paths, mock)
		if err := drv.Reload(ctx); err != nil {
			t.Errorf("Reload should succeed with fallback: %v", err)
		}

		if callCount != 2 {
			t.Errorf("expected 2 calls, got %d", callCount)
		}
	})

	t.Run("Reload_both_fail", func(t *testing.T) {
		mock := &executor.MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				return []byte("error"), errors.New("command failed")
			},
		}

		drv := NewNginxWithExecutor(paths, mock)
		if err := drv.Reload(ctx); err == nil {
			t.Error("Reload should fail when both methods fail")
		}
	})

	t.Run("Stop_Start", func(t *testing.T) {
		mock := &executor.MockExecutor{}
		drv := NewNginxWithExecutor(paths, mock)

		if err := drv.Stop(ctx); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if err := drv.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if mock.CallCount("systemctl", "stop") != 1 || mock.CallCount("systemctl", "start") != 1 {
			t.Errorf("unexpected calls: %+v", mock.Calls)
		}
	})
}

func TestNginxDriver_EdgeCases(t *testing.T) {
	t.Run("DisableNotEnabled", func(t *testing.T) {
		drv := NewNginxWithPaths(testPaths(t))
		if err := drv.Disable("nonexistent.com"); err == nil {
			t.Error("expected error when disabling non-enabled site")
		}
	})

	t.Run("DisableNonSymlink", func(t *testing.T) {
		paths := testPaths(t)
		_ = os.MkdirAll(paths.Enabled, 0755)
		// Create regular file (not symlink) in enabled dir
		_ = os.WriteFile(filepath.Join(paths.Enabled, "test.com.conf"), []byte("config"), 0644)

		drv := NewNginxWithPaths(paths)
		if err := drv.Disable("test.com"); err == nil {
			t.Error("expected error when trying to disable non-symlink")
		}
	})

	t.Run("EnableNonexistentSource", func(t *testing.T) {
		drv := NewNginxWithPaths(testPaths(t))
		if err := drv.Enable("nonexistent.com"); !apperr.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("ListNonexistentDirectory", func(t *testing.T) {
		drv := NewNginxWithPaths(testPaths(t))
		sites, err := drv.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(sites) != 0 {
			t.Errorf("expected 0 sites, got %d", len(sites))
		}
	})

	t.Run("ListSkipsForeignFiles", func(t *testing.T) {
		paths := testPaths(t)
		_ = os.MkdirAll(paths.Available, 0755)
		_ = os.WriteFile(filepath.Join(paths.Available, "test.com.conf"), []byte("config"), 0644)
		_ = os.WriteFile(filepath.Join(paths.Available, ".hidden.conf"), []byte("config"), 0644)
		_ = os.WriteFile(filepath.Join(paths.Available, "default"), []byte("config"), 0644)

		sites, err := NewNginxWithPaths(paths).List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(sites) != 1 || sites[0] != "test.com" {
			t.Errorf("expected [test.com], got %v", sites)
		}
	})
}

func TestMockDriver(t *testing.T) {
	m := NewMockDriver("nginx", Paths{})
	ctx := context.Background()

	if err := m.Enable("missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	_ = m.Write("example.org", []byte("v1"))
	_ = m.Enable("example.org")
	if m.Site("example.org") != "v1" {
		t.Errorf("unexpected content %q", m.Site("example.org"))
	}

	_ = m.Stop(ctx)
	if m.Running {
		t.Error("expected stopped")
	}
	_ = m.Start(ctx)
	if !m.Running {
		t.Error("expected running")
	}

	_ = m.Test(ctx)
	_ = m.Reload(ctx)
	if tests, reloads := m.Counts(); tests != 1 || reloads != 1 {
		t.Errorf("unexpected counts %d/%d", tests, reloads)
	}
	m.Reset()
	if tests, _ := m.Counts(); tests != 0 {
		t.Error("Reset should clear counters")
	}
}
