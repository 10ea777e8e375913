// Package config manages the mtlsctl runtime configuration and the
// inventory of managed certificates.
//
// Runtime settings come from MTLSCTL_* environment variables, optionally
// seeded from a .env file, and are parsed with caarlos0/env:
//
//	MTLSCTL_IDENTITY_DIR=/etc/mtlsctl/identities
//	MTLSCTL_CA_DIR=/etc/mtlsctl/ca
//	MTLSCTL_DOMAIN=example.org
//	MTLSCTL_EMAIL=ops@example.org
//	MTLSCTL_CHALLENGE=gateway-plugin
//	MTLSCTL_PUBLIC_CERT_MODE=acme
//
// The inventory is a YAML file listing the internally issued identities
// and the public domains the renewal monitor looks after.
//
// Example inventory.yaml:
//
//	identities:
//	  admin-client:
//	    name: admin-client
//	    role: client
//	    validity_days: 365
//	    created_at: 2026-10-14T10:00:00Z
//	domains:
//	  example.org:
//	    domain: example.org
//	    email: ops@example.org
//	    strategy: gateway-plugin
//	    client_verify: required
//	    backend_identity: gateway
//	    backend_addr: 127.0.0.1:8443
//	    state: Issued
//	    created_at: 2026-10-14T10:00:00Z
//
// # Usage
//
//	cfg, err := config.LoadEnv(".env")
//	if err != nil {
//	    return err
//	}
//	inv, err := config.Load(cfg.Inventory)
//	if err != nil {
//	    return err
//	}
//	inv.PutIdentity(&config.Identity{Name: "admin-client", Role: config.RoleClient})
//	err = inv.Save()
//
// # Thread Safety
//
// Inventory accessors are guarded by a mutex so the renewal monitor can
// record outcomes from parallel checks. The entries they return are shared
// pointers; use Update for read-modify-write.
package config
