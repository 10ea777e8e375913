// Package pkitest provides fast PKI fixtures for tests.
//
// Key generation dominates the cost of issuing certificates, so the
// provider here generates a few keys per size once per test binary and
// hands them out round-robin.
package pkitest

import (
	"context"
	"crypto"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/pki"
)

const poolSize = 3

var (
	mu   sync.Mutex
	keys = map[int][]crypto.Signer{}
	next = map[int]int{}
)

// Provider is a pki.Provider with cached keys.
type Provider struct {
	*pki.NativeProvider
}

// NewProvider returns a provider that reuses pre-generated keys.
func NewProvider() *Provider {
	return &Provider{NativeProvider: pki.NewNativeProvider()}
}

// GenerateKey returns the next cached key of the given size.
func (p *Provider) GenerateKey(bits int) (crypto.Signer, error) {
	mu.Lock()
	defer mu.Unlock()

	pool := keys[bits]
	if len(pool) < poolSize {
		key, err := p.NativeProvider.GenerateKey(bits)
		if err != nil {
			return nil, err
		}
		keys[bits] = append(pool, key)
		return key, nil
	}
	key := pool[next[bits]%poolSize]
	next[bits]++
	return key, nil
}

// Fixture bundles a store with an initialised CA.
type Fixture struct {
	Store    *certstore.Store
	Provider *Provider
	CA       *pki.Manager
	Issuer   *pki.Issuer
	Root     *pki.CA
}

// New creates a store under t.TempDir() and ensures its CA.
func New(t testing.TB) *Fixture {
	t.Helper()
	root := t.TempDir()
	store := certstore.New(filepath.Join(root, "ca"), filepath.Join(root, "identities"))
	provider := NewProvider()
	mgr := pki.NewManager(store, provider)

	ca, _, err := mgr.EnsureCA(context.Background(), 365)
	if err != nil {
		t.Fatalf("ensure CA: %v", err)
	}
	return &Fixture{
		Store:    store,
		Provider: provider,
		CA:       mgr,
		Issuer:   pki.NewIssuer(store, provider, mgr),
		Root:     ca,
	}
}

// Issue issues a leaf certificate or fails the test.
func (f *Fixture) Issue(t testing.TB, name, role string, days int, hostnames ...string) *pki.Issued {
	t.Helper()
	out, err := f.Issuer.Issue(context.Background(), pki.IssueRequest{
		Name:         name,
		Role:         role,
		ValidityDays: days,
		Hostnames:    hostnames,
	})
	if err != nil {
		t.Fatalf("issue %s: %v", name, err)
	}
	return out
}
