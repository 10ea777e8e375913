package pki

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
)

// Info describes a stored certificate.
type Info struct {
	Path          string    `json:"path"`
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	Serial        string    `json:"serial"`
	Fingerprint   string    `json:"fingerprint_sha256"`
	Role          string    `json:"role"`
	DNSNames      []string  `json:"dns_names,omitempty"`
	IPAddresses   []string  `json:"ip_addresses,omitempty"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
	IsValid       bool      `json:"is_valid"`
	Trusted       *bool     `json:"trusted_by_ca,omitempty"`
	TrustError    string    `json:"trust_error,omitempty"`
}

// Inspect parses the certificate at path. When roots is non-nil the chain
// is also verified against it.
func Inspect(path string, roots *x509.CertPool, now time.Time) (*Info, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	certs, err := ParseCertsPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	info := Describe(certs[0], now)
	info.Path = path

	if roots != nil {
		inter := x509.NewCertPool()
		for _, c := range certs[1:] {
			inter.AddCert(c)
		}
		_, verr := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: inter,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		trusted := verr == nil
		info.Trusted = &trusted
		if verr != nil {
			info.TrustError = verr.Error()
		}
	}
	return info, nil
}

// Describe summarises a parsed certificate.
func Describe(cert *x509.Certificate, now time.Time) *Info {
	sum := sha256.Sum256(cert.Raw)
	info := &Info{
		Subject:       cert.Subject.String(),
		Issuer:        cert.Issuer.String(),
		Serial:        strings.ToUpper(hex.EncodeToString(cert.SerialNumber.Bytes())),
		Fingerprint:   strings.ToUpper(hex.EncodeToString(sum[:])),
		Role:          RoleOf(cert),
		DNSNames:      cert.DNSNames,
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		DaysRemaining: DaysRemaining(cert, now),
		IsValid:       !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
	}
	for _, ip := range cert.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	return info
}

// DaysRemaining returns whole days until not-after, negative once expired.
func DaysRemaining(cert *x509.Certificate, now time.Time) int {
	return int(math.Floor(cert.NotAfter.Sub(now).Hours() / 24))
}

// RoleOf infers the certificate role from its extensions.
func RoleOf(cert *x509.Certificate) string {
	if cert.IsCA {
		return config.RoleRoot
	}
	for _, ou := range cert.Subject.OrganizationalUnit {
		if config.IsValidRole(ou) {
			return ou
		}
	}
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageServerAuth {
			return config.RoleServer
		}
	}
	return config.RoleClient
}
