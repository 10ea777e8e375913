package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/config"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// DefaultLeafKeyBits is the key size for leaf certificates.
const DefaultLeafKeyBits = 2048

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var hostnamePattern = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// loopbackSANs are added to every server certificate.
var loopbackSANs = []string{"localhost", "127.0.0.1", "::1"}

// IssueRequest describes a leaf certificate to issue.
type IssueRequest struct {
	Name         string
	Role         string
	ValidityDays int
	Hostnames    []string
}

// Issued is a certificate written to the store.
type Issued struct {
	Name     string
	Role     string
	Cert     *x509.Certificate
	CertPEM  []byte
	KeyPEM   []byte
	CertPath string
	KeyPath  string
}

// Issuer signs leaf certificates with the root CA.
type Issuer struct {
	store    *certstore.Store
	provider Provider
	ca       *Manager
	keyBits  int
	now      func() time.Time

	mu sync.Mutex

	// afterSign runs between signing and committing; tests use it to
	// tamper with the serial counter.
	afterSign func()
}

// NewIssuer returns an issuer that signs with the CA managed by ca.
func NewIssuer(store *certstore.Store, provider Provider, ca *Manager) *Issuer {
	return &Issuer{
		store:    store,
		provider: provider,
		ca:       ca,
		keyBits:  DefaultLeafKeyBits,
		now:      time.Now,
	}
}

// Issue signs a new certificate for req and replaces any prior artifacts
// stored under the same name. The serial counter is consumed under the
// store lock, so concurrent requests always get distinct serials.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ca, err := i.ca.LoadCA()
	if err != nil {
		return nil, err
	}

	key, err := i.provider.GenerateKey(i.keyBits)
	if err != nil {
		return nil, err
	}

	dnsNames, ips := sans(req)
	subject := pkix.Name{
		CommonName:         req.Name,
		Organization:       ca.Cert.Subject.Organization,
		OrganizationalUnit: []string{req.Role},
	}
	csr, err := i.provider.CreateRequest(key, subject, dnsNames, ips)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	unlock, err := i.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	serial, err := i.store.ReadSerial()
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(req.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           extKeyUsage(req.Role),
		BasicConstraintsValid: true,
	}

	cert, err := i.provider.SignWithCA(csr, template, ca.Cert, ca.Key)
	if err != nil {
		return nil, err
	}
	if i.afterSign != nil {
		i.afterSign()
	}

	current, err := i.store.ReadSerial()
	if err != nil {
		return nil, err
	}
	if current.Cmp(serial) != 0 {
		return nil, apperr.New(apperr.ErrCodeSerialConflict, req.Name,
			fmt.Sprintf("serial counter moved from %X to %X during issuance", serial, current), nil)
	}

	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	certPEM := EncodeCertPEM(cert.Raw)
	out := &Issued{
		Name:     req.Name,
		Role:     req.Role,
		Cert:     cert,
		CertPEM:  certPEM,
		KeyPEM:   keyPEM,
		CertPath: i.store.CertPath(req.Name),
		KeyPath:  i.store.KeyPath(req.Name),
	}

	if err := i.store.Commit(
		certstore.Key(out.KeyPath, keyPEM),
		certstore.Cert(out.CertPath, certPEM),
		i.store.Serial(new(big.Int).Add(serial, big.NewInt(1))),
	); err != nil {
		return nil, err
	}

	logger.InfoFields("issued certificate", map[string]interface{}{
		"name":      req.Name,
		"role":      req.Role,
		"serial":    fmt.Sprintf("%X", serial),
		"not_after": cert.NotAfter.Format(time.RFC3339),
	})
	return out, nil
}

// SelfSigned creates a self-signed server certificate for a public domain.
// It does not touch the CA or its serial counter.
func (i *Issuer) SelfSigned(ctx context.Context, domain string, hostnames []string, days int) (*Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !hostnamePattern.MatchString(domain) {
		return nil, apperr.Validationf("invalid domain %q", domain)
	}
	if days <= 0 {
		return nil, apperr.Validationf("validity must be positive, got %d", days)
	}

	key, err := i.provider.GenerateKey(i.keyBits)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	dnsNames, ips := splitHosts(append([]string{domain}, hostnames...))
	now := i.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domain},
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(days) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	cert, err := i.provider.SelfSign(key, template)
	if err != nil {
		return nil, err
	}

	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	out := &Issued{
		Name:     domain,
		Role:     config.RoleServer,
		Cert:     cert,
		CertPEM:  EncodeCertPEM(cert.Raw),
		KeyPEM:   keyPEM,
		CertPath: i.store.PublicCertPath(domain),
		KeyPath:  i.store.PublicKeyPath(domain),
	}
	if err := i.store.Commit(
		certstore.Key(out.KeyPath, keyPEM),
		certstore.Cert(out.CertPath, out.CertPEM),
	); err != nil {
		return nil, err
	}

	logger.Info("Created self-signed certificate for %s", domain)
	return out, nil
}

func validateRequest(req IssueRequest) error {
	if !namePattern.MatchString(req.Name) {
		return apperr.Validationf("invalid identity name %q", req.Name)
	}
	if req.Role == config.RoleRoot {
		return apperr.Validation("the root role is reserved for the CA")
	}
	if !config.IsValidRole(req.Role) {
		return apperr.Validationf("unknown role %q (valid: %v)", req.Role, config.ValidRoles())
	}
	if req.ValidityDays <= 0 {
		return apperr.Validationf("validity must be positive, got %d", req.ValidityDays)
	}
	for _, h := range req.Hostnames {
		if net.ParseIP(h) == nil && !hostnamePattern.MatchString(h) {
			return apperr.Validationf("invalid hostname %q", h)
		}
	}
	return nil
}

func extKeyUsage(role string) []x509.ExtKeyUsage {
	if role == config.RoleServer {
		return []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	return []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
}

// sans returns the subject alternative names for a request.
func sans(req IssueRequest) ([]string, []net.IP) {
	if req.Role != config.RoleServer {
		return nil, nil
	}
	hosts := append([]string{}, loopbackSANs...)
	hosts = append(hosts, req.Hostnames...)
	if strings.Contains(req.Name, ".") && hostnamePattern.MatchString(req.Name) {
		hosts = append(hosts, req.Name)
	}
	return splitHosts(hosts)
}

// splitHosts separates IP literals from DNS names and drops duplicates.
func splitHosts(hosts []string) ([]string, []net.IP) {
	var (
		dnsNames []string
		ips      []net.IP
		seen     = make(map[string]bool)
	)
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	return dnsNames, ips
}
