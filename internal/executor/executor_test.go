package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSystemExecutor_Execute(t *testing.T) {
	exec := NewSystemExecutor()
	ctx := context.Background()

	t.Run("echo command", func(t *testing.T) {
		output, err := exec.Execute(ctx, "echo", "hello")
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if string(output) != "hello\n" {
			t.Errorf("expected 'hello\\n', got '%s'", string(output))
		}
	})

	t.Run("nonexistent command", func(t *testing.T) {
		_, err := exec.Execute(ctx, "nonexistent-command-xyz-12345")
		if err == nil {
			t.Error("expected error for nonexistent command")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := exec.Execute(ctx, "sleep", "5")
		if err == nil {
			t.Error("expected error when context expires")
		}
	})
}

func TestSystemExecutor_LookPath(t *testing.T) {
	exec := NewSystemExecutor()

	t.Run("find sh", func(t *testing.T) {
		path, err := exec.LookPath("sh")
		if err != nil {
			t.Fatalf("LookPath failed: %v", err)
		}
		if path == "" {
			t.Error("expected non-empty path")
		}
	})

	t.Run("nonexistent command", func(t *testing.T) {
		_, err := exec.LookPath("nonexistent-command-xyz-12345")
		if err == nil {
			t.Error("expected error for nonexistent command")
		}
	})
}

func TestMockExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("default behavior", func(t *testing.T) {
		mock := &MockExecutor{}
		output, err := mock.Execute(ctx, "nginx", "-t")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if string(output) != "" {
			t.Errorf("expected empty output, got '%s'", string(output))
		}
		if len(mock.Calls) != 1 {
			t.Errorf("expected 1 call, got %d", len(mock.Calls))
		}
		if mock.Calls[0].Name != "nginx" {
			t.Errorf("expected command 'nginx', got '%s'", mock.Calls[0].Name)
		}
	})

	t.Run("custom function", func(t *testing.T) {
		mock := &MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				return []byte("syntax is ok"), nil
			},
		}
		output, err := mock.Execute(ctx, "nginx", "-t")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if string(output) != "syntax is ok" {
			t.Errorf("expected 'syntax is ok', got '%s'", string(output))
		}
	})

	t.Run("error case", func(t *testing.T) {
		mock := &MockExecutor{
			ExecuteFunc: func(name string, args ...string) ([]byte, error) {
				return []byte("emerg"), errors.New("exit status 1")
			},
		}
		output, err := mock.Execute(ctx, "nginx", "-t")
		if err == nil {
			t.Error("expected error")
		}
		if string(output) != "emerg" {
			t.Errorf("expected 'emerg', got '%s'", string(output))
		}
	})
}

func TestMockExecutor_CallCount(t *testing.T) {
	ctx := context.Background()
	mock := &MockExecutor{}
	_, _ = mock.Execute(ctx, "nginx", "-t")
	_, _ = mock.Execute(ctx, "nginx", "-s", "reload")
	_, _ = mock.Execute(ctx, "systemctl", "stop", "nginx")

	tests := []struct {
		name, arg string
		want      int
	}{
		{"nginx", "", 2},
		{"nginx", "-t", 1},
		{"nginx", "-s", 1},
		{"systemctl", "stop", 1},
		{"systemctl", "start", 0},
	}
	for _, tt := range tests {
		if got := mock.CallCount(tt.name, tt.arg); got != tt.want {
			t.Errorf("CallCount(%q, %q) = %d, want %d", tt.name, tt.arg, got, tt.want)
		}
	}
}

func TestMockExecutor_LookPath(t *testing.T) {
	t.Run("default behavior", func(t *testing.T) {
		mock := &MockExecutor{}
		path, err := mock.LookPath("nginx")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if path != "/usr/bin/nginx" {
			t.Errorf("expected '/usr/bin/nginx', got '%s'", path)
		}
	})

	t.Run("custom function", func(t *testing.T) {
		mock := &MockExecutor{
			LookPathFunc: func(file string) (string, error) {
				if file == "nginx" {
					return "/usr/sbin/nginx", nil
				}
				return "", errors.New("not found")
			},
		}

		path, err := mock.LookPath("nginx")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if path != "/usr/sbin/nginx" {
			t.Errorf("expected '/usr/sbin/nginx', got '%s'", path)
		}

		_, err = mock.LookPath("unknown")
		if err == nil {
			t.Error("expected error for unknown command")
		}
	})
}
