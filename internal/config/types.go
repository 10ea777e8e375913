package config

import (
	"fmt"
	"time"
)

// Identity is an internally issued leaf certificate tracked in the inventory.
type Identity struct {
	Name         string    `yaml:"name"`
	Role         string    `yaml:"role"` // server, client, proxy-client
	ValidityDays int       `yaml:"validity_days"`
	Hostnames    []string  `yaml:"hostnames,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Domain is a public domain served by the gateway.
type Domain struct {
	Domain            string    `yaml:"domain"`
	Email             string    `yaml:"email"`
	Strategy          string    `yaml:"strategy"`      // gateway-plugin, webroot, standalone, dns-01
	ClientVerify      string    `yaml:"client_verify"` // off, optional, required
	SelfSigned        bool      `yaml:"self_signed,omitempty"`
	PublicTrustBundle string    `yaml:"public_trust_bundle,omitempty"`
	BackendIdentity   string    `yaml:"backend_identity"`
	BackendAddr       string    `yaml:"backend_addr"`
	BackendName       string    `yaml:"backend_name,omitempty"`
	Webroot           string    `yaml:"webroot,omitempty"`
	CertPath          string    `yaml:"cert_path,omitempty"`
	KeyPath           string    `yaml:"key_path,omitempty"`
	State             string    `yaml:"state"`
	Reason            string    `yaml:"reason,omitempty"`
	LastTransition    time.Time `yaml:"last_transition,omitempty"`
	CreatedAt         time.Time `yaml:"created_at"`
}

// Certificate roles
const (
	RoleRoot        = "root"
	RoleServer      = "server"
	RoleClient      = "client"
	RoleProxyClient = "proxy-client"
)

// Challenge strategies
const (
	StrategyGatewayPlugin = "gateway-plugin"
	StrategyWebroot       = "webroot"
	StrategyStandalone    = "standalone"
	StrategyDNS01         = "dns-01"
)

// Client verification modes
const (
	VerifyOff      = "off"
	VerifyOptional = "optional"
	VerifyRequired = "required"
)

// Public certificate modes
const (
	PublicCertACME       = "acme"
	PublicCertSelfSigned = "self-signed"
)

// Domain states
const (
	StateNoCertificate    = "NoCertificate"
	StatePendingChallenge = "PendingChallenge"
	StateIssued           = "Issued"
	StateRenewing         = "Renewing"
	StateFailed           = "Failed"
)

// ValidRoles returns the roles a leaf certificate can be issued for
func ValidRoles() []string {
	return []string{RoleServer, RoleClient, RoleProxyClient}
}

// ValidStrategies returns all challenge strategies
func ValidStrategies() []string {
	return []string{StrategyGatewayPlugin, StrategyWebroot, StrategyStandalone, StrategyDNS01}
}

// ValidVerifyModes returns all client verification modes
func ValidVerifyModes() []string {
	return []string{VerifyOff, VerifyOptional, VerifyRequired}
}

// IsValidRole checks if the given leaf role is valid
func IsValidRole(r string) bool { return contains(ValidRoles(), r) }

// IsValidStrategy checks if the given challenge strategy is valid
func IsValidStrategy(s string) bool { return contains(ValidStrategies(), s) }

// IsValidVerifyMode checks if the given verification mode is valid
func IsValidVerifyMode(m string) bool { return contains(ValidVerifyModes(), m) }

// Transition moves the domain to state and stamps the change.
func (d *Domain) Transition(state, reason string, at time.Time) {
	d.State = state
	d.Reason = reason
	d.LastTransition = at
}

func (d *Domain) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Domain, d.Strategy, d.State)
}

func contains(list []string, v string) bool {
	for _, valid := range list {
		if v == valid {
			return true
		}
	}
	return false
}
