// Package pki provides the private Certificate Authority and leaf
// certificate issuance on top of the certificate store.
//
// All cryptography goes through a Provider, so tests can substitute
// pre-generated keys instead of paying for RSA key generation on every run.
package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"net"
)

// Provider is the set of cryptographic primitives the CA and issuer need.
type Provider interface {
	// GenerateKey creates a new private key of the given size.
	GenerateKey(bits int) (crypto.Signer, error)

	// CreateRequest builds a signed certificate request for key.
	CreateRequest(key crypto.Signer, subject pkix.Name, dnsNames []string, ips []net.IP) (*x509.CertificateRequest, error)

	// SelfSign signs template with its own key.
	SelfSign(key crypto.Signer, template *x509.Certificate) (*x509.Certificate, error)

	// SignWithCA signs the request with the CA. Subject and SANs come from
	// the request; validity, serial and extensions come from template.
	SignWithCA(csr *x509.CertificateRequest, template *x509.Certificate, ca *x509.Certificate, caKey crypto.Signer) (*x509.Certificate, error)
}

// NativeProvider implements Provider with crypto/x509 and RSA keys.
type NativeProvider struct {
	Rand io.Reader
}

// NewNativeProvider returns a provider backed by crypto/rand.
func NewNativeProvider() *NativeProvider {
	return &NativeProvider{Rand: rand.Reader}
}

func (p *NativeProvider) reader() io.Reader {
	if p.Rand == nil {
		return rand.Reader
	}
	return p.Rand
}

// GenerateKey creates an RSA key.
func (p *NativeProvider) GenerateKey(bits int) (crypto.Signer, error) {
	key, err := rsa.GenerateKey(p.reader(), bits)
	if err != nil {
		return nil, fmt.Errorf("generating %d-bit key: %w", bits, err)
	}
	return key, nil
}

// CreateRequest builds a PKCS#10 request.
func (p *NativeProvider) CreateRequest(key crypto.Signer, subject pkix.Name, dnsNames []string, ips []net.IP) (*x509.CertificateRequest, error) {
	der, err := x509.CreateCertificateRequest(p.reader(), &x509.CertificateRequest{
		Subject:     subject,
		DNSNames:    dnsNames,
		IPAddresses: ips,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate request: %w", err)
	}
	return x509.ParseCertificateRequest(der)
}

// SelfSign creates a certificate signed by its own key.
func (p *NativeProvider) SelfSign(key crypto.Signer, template *x509.Certificate) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(p.reader(), template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("self-signing certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// SignWithCA creates a certificate for the request's public key.
func (p *NativeProvider) SignWithCA(csr *x509.CertificateRequest, template *x509.Certificate, ca *x509.Certificate, caKey crypto.Signer) (*x509.Certificate, error) {
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("certificate request signature: %w", err)
	}

	tmpl := *template
	tmpl.Subject = csr.Subject
	tmpl.DNSNames = csr.DNSNames
	tmpl.IPAddresses = csr.IPAddresses

	der, err := x509.CreateCertificate(p.reader(), &tmpl, ca, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// EncodeCertPEM encodes a DER certificate.
func EncodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// EncodeKeyPEM encodes a private key as PKCS#8.
func EncodeKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshalling private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseCertsPEM decodes every CERTIFICATE block, leaf first.
func ParseCertsPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in PEM data")
	}
	return certs, nil
}

// ParseCertPEM decodes the first certificate.
func ParseCertPEM(data []byte) (*x509.Certificate, error) {
	certs, err := ParseCertsPEM(data)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// ParseKeyPEM decodes a PKCS#8, PKCS#1 or SEC1 private key.
func ParseKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no private key found in PEM data")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}
