package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
)

// Env is the runtime configuration read from the environment
type Env struct {
	IdentityDir    string        `env:"MTLSCTL_IDENTITY_DIR" envDefault:"/etc/mtlsctl/identities"`
	CADir          string        `env:"MTLSCTL_CA_DIR" envDefault:"/etc/mtlsctl/ca"`
	Domain         string        `env:"MTLSCTL_DOMAIN"`
	Email          string        `env:"MTLSCTL_EMAIL"`
	Challenge      string        `env:"MTLSCTL_CHALLENGE" envDefault:"gateway-plugin"`
	PublicCertMode string        `env:"MTLSCTL_PUBLIC_CERT_MODE" envDefault:"acme"`
	ACMEDirectory  string        `env:"MTLSCTL_ACME_DIRECTORY" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	DNSProvider    string        `env:"MTLSCTL_DNS_PROVIDER" envDefault:"manual"`
	Webroot        string        `env:"MTLSCTL_WEBROOT"`
	BackendAddr    string        `env:"MTLSCTL_BACKEND_ADDR" envDefault:"127.0.0.1:8443"`
	BackendName    string        `env:"MTLSCTL_BACKEND_NAME" envDefault:"localhost"`
	BackendCert    string        `env:"MTLSCTL_BACKEND_IDENTITY" envDefault:"backend"`
	ProxyIdentity  string        `env:"MTLSCTL_PROXY_IDENTITY" envDefault:"gateway"`
	Hostnames      []string      `env:"MTLSCTL_HOSTNAMES" envSeparator:","`
	ClientVerify   string        `env:"MTLSCTL_CLIENT_VERIFY" envDefault:"off"`
	CADays         int           `env:"MTLSCTL_CA_DAYS" envDefault:"3650"`
	LeafDays       int           `env:"MTLSCTL_LEAF_DAYS" envDefault:"365"`
	RenewInterval  time.Duration `env:"MTLSCTL_RENEW_INTERVAL" envDefault:"12h"`
	RenewJitter    time.Duration `env:"MTLSCTL_RENEW_JITTER" envDefault:"1h"`
	RenewThreshold int           `env:"MTLSCTL_RENEW_THRESHOLD_DAYS" envDefault:"30"`
	HealthURL      string        `env:"MTLSCTL_HEALTH_URL"`
	StateDB        string        `env:"MTLSCTL_STATE_DB" envDefault:"/var/lib/mtlsctl/state.db"`
	Inventory      string        `env:"MTLSCTL_INVENTORY" envDefault:"/etc/mtlsctl/inventory.yaml"`
}

// LoadEnv reads an optional dotenv file and parses the environment.
// Variables already set in the process environment win over the file.
// A missing envFile is not an error.
func LoadEnv(envFile string) (*Env, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeValidation, "invalid environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and bounds
func (e *Env) Validate() error {
	if !IsValidStrategy(e.Challenge) {
		return apperr.Validationf("unknown challenge strategy %q (valid: %v)", e.Challenge, ValidStrategies())
	}
	if e.PublicCertMode != PublicCertACME && e.PublicCertMode != PublicCertSelfSigned {
		return apperr.Validationf("unknown public cert mode %q (valid: acme, self-signed)", e.PublicCertMode)
	}
	if !IsValidVerifyMode(e.ClientVerify) {
		return apperr.Validationf("unknown client verify mode %q (valid: %v)", e.ClientVerify, ValidVerifyModes())
	}
	if e.CADays <= 0 || e.LeafDays <= 0 {
		return apperr.Validation("validity days must be positive")
	}
	if e.RenewInterval <= 0 {
		return apperr.Validation("renew interval must be positive")
	}
	if e.RenewJitter < 0 {
		return apperr.Validation("renew jitter must not be negative")
	}
	return nil
}

// SelfSigned reports whether the public certificate is self-signed.
func (e *Env) SelfSigned() bool {
	return e.PublicCertMode == PublicCertSelfSigned
}

// PublicDir is where public certificates are stored
func (e *Env) PublicDir() string {
	return filepath.Join(e.IdentityDir, "public")
}

// ACMEDir is where the ACME account key is stored
func (e *Env) ACMEDir() string {
	return filepath.Join(e.CADir, "acme")
}
