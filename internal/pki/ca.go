package pki

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// MinCAKeyBits is the smallest key size accepted for the root CA.
const MinCAKeyBits = 4096

// DefaultCASubject names the root CA.
var DefaultCASubject = pkix.Name{
	CommonName:   "mtlsctl Root CA",
	Organization: []string{"mtlsctl"},
}

// CA is the loaded root Certificate Authority.
type CA struct {
	Cert    *x509.Certificate
	Key     crypto.Signer
	CertPEM []byte
}

// Pool returns a cert pool holding only the CA certificate.
func (c *CA) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.Cert)
	return pool
}

// Manager creates and loads the root CA.
type Manager struct {
	store    *certstore.Store
	provider Provider
	subject  pkix.Name
	keyBits  int
	now      func() time.Time
}

// NewManager returns a CA manager backed by store.
func NewManager(store *certstore.Store, provider Provider) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		subject:  DefaultCASubject,
		keyBits:  MinCAKeyBits,
		now:      time.Now,
	}
}

// EnsureCA returns the stored CA, creating it when none exists.
// When a CA is already present nothing is written and created is false.
func (m *Manager) EnsureCA(ctx context.Context, validityDays int) (ca *CA, created bool, err error) {
	unlock, err := m.store.Lock(ctx)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	hasKey := m.store.Exists(m.store.CAKeyPath())
	hasCert := m.store.Exists(m.store.CACertPath())
	switch {
	case hasKey && hasCert:
		ca, err := m.LoadCA()
		return ca, false, err
	case hasKey != hasCert:
		return nil, false, apperr.New(apperr.ErrCodeConfigValidation, m.store.CADir(),
			"incomplete CA: exactly one of ca.key and ca.crt exists", nil)
	}

	if validityDays <= 0 {
		return nil, false, apperr.Validationf("CA validity must be positive, got %d", validityDays)
	}

	bits := m.keyBits
	if bits < MinCAKeyBits {
		bits = MinCAKeyBits
	}
	logger.Info("Generating %d-bit CA key", bits)
	key, err := m.provider.GenerateKey(bits)
	if err != nil {
		return nil, false, fmt.Errorf("generating CA key: %w", err)
	}

	now := m.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               m.subject,
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(validityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	cert, err := m.provider.SelfSign(key, template)
	if err != nil {
		return nil, false, fmt.Errorf("creating CA certificate: %w", err)
	}

	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		return nil, false, err
	}
	certPEM := EncodeCertPEM(cert.Raw)

	// serial 1 is used by the CA cert itself
	if err := m.store.Commit(
		certstore.Key(m.store.CAKeyPath(), keyPEM),
		certstore.Cert(m.store.CACertPath(), certPEM),
		m.store.Serial(big.NewInt(2)),
	); err != nil {
		return nil, false, err
	}

	logger.InfoFields("created root CA", map[string]interface{}{
		"subject":   cert.Subject.String(),
		"not_after": cert.NotAfter.Format(time.RFC3339),
	})
	return &CA{Cert: cert, Key: key, CertPEM: certPEM}, true, nil
}

// LoadCA reads the CA from the store.
func (m *Manager) LoadCA() (*CA, error) {
	if !m.store.Exists(m.store.CAKeyPath()) || !m.store.Exists(m.store.CACertPath()) {
		return nil, apperr.New(apperr.ErrCodeCANotInitialized, m.store.CADir(), "run ensure-ca first", nil)
	}

	certPEM, err := m.store.Read(m.store.CACertPath())
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("loading CA certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, apperr.New(apperr.ErrCodeConfigValidation, m.store.CACertPath(), "certificate is not a CA", nil)
	}

	keyPEM, err := m.store.Read(m.store.CAKeyPath())
	if err != nil {
		return nil, err
	}
	key, err := ParseKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading CA key: %w", err)
	}

	return &CA{Cert: cert, Key: key, CertPEM: certPEM}, nil
}
