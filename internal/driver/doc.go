// Package driver manages the nginx reverse proxy that terminates the public
// TLS hop of the proxy chain.
//
// The driver owns three directories: site configs (sites-available), the
// enabled links (sites-enabled, or the same directory on conf.d layouts),
// and a snippet directory holding per-token ACME challenge responses that
// the port 80 server includes.
//
// # Basic Usage
//
//	drv := driver.NewNginxWithPaths(driver.Paths{
//	    Available: "/etc/nginx/sites-available",
//	    Enabled:   "/etc/nginx/sites-enabled",
//	    Snippets:  "/etc/nginx/snippets/mtlsctl-acme",
//	})
//
//	if err := drv.Write("example.org", content); err != nil {
//	    return err
//	}
//	if err := drv.Enable("example.org"); err != nil {
//	    return err
//	}
//	if err := drv.Test(ctx); err != nil {
//	    return err // CONFIG_VALIDATION
//	}
//	err := drv.Reload(ctx)
//
// Reload prefers systemctl and falls back to nginx -s reload. Stop and
// Start exist for the standalone challenge, which needs port 80 free.
//
// # Testing
//
// NewNginxWithExecutor accepts a mock executor.CommandExecutor so service
// control can be tested without system calls:
//
//	mockExec := &executor.MockExecutor{}
//	drv := driver.NewNginxWithExecutor(paths, mockExec)
//
// MockDriver keeps sites and snippets in memory for higher-level tests.
package driver
