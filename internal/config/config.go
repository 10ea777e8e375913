package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
)

// Inventory is the set of certificates the tool manages
type Inventory struct {
	mu sync.Mutex

	Identities map[string]*Identity `yaml:"identities"`
	Domains    map[string]*Domain   `yaml:"domains"`

	path string
}

// New creates an empty inventory that saves to path
func New(path string) *Inventory {
	return &Inventory{
		Identities: make(map[string]*Identity),
		Domains:    make(map[string]*Domain),
		path:       path,
	}
}

// Path returns the file the inventory is saved to
func (i *Inventory) Path() string {
	return i.path
}

// Load reads the inventory from disk
func Load(path string) (*Inventory, error) {
	// If inventory doesn't exist, return an empty one
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(path), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	inv := New(path)
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	if inv.Identities == nil {
		inv.Identities = make(map[string]*Identity)
	}
	if inv.Domains == nil {
		inv.Domains = make(map[string]*Domain)
	}

	return inv, nil
}

// Save writes the inventory to disk
func (i *Inventory) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.path == "" {
		return fmt.Errorf("inventory has no path")
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}

	data, err := yaml.Marshal(i)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory: %w", err)
	}

	tmp := i.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := os.Rename(tmp, i.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write inventory: %w", err)
	}

	return nil
}

// PutIdentity adds or replaces an identity
func (i *Inventory) PutIdentity(id *Identity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Identities[id.Name] = id
}

// GetIdentity returns an identity by name
func (i *Inventory) GetIdentity(name string) (*Identity, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, exists := i.Identities[name]
	if !exists {
		return nil, apperr.NotFound(name)
	}
	return id, nil
}

// RemoveIdentity removes an identity from the inventory
func (i *Inventory) RemoveIdentity(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.Identities[name]; !exists {
		return apperr.NotFound(name)
	}
	delete(i.Identities, name)
	return nil
}

// ListIdentities returns all identities sorted by name
func (i *Inventory) ListIdentities() []*Identity {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]*Identity, 0, len(i.Identities))
	for _, v := range i.Identities {
		ids = append(ids, v)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].Name < ids[b].Name })
	return ids
}

// PutDomain adds or replaces a domain
func (i *Inventory) PutDomain(d *Domain) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Domains[d.Domain] = d
}

// GetDomain returns a domain entry
func (i *Inventory) GetDomain(domain string) (*Domain, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, exists := i.Domains[domain]
	if !exists {
		return nil, apperr.NotFound(domain)
	}
	return d, nil
}

// ListDomains returns all domains sorted by name
func (i *Inventory) ListDomains() []*Domain {
	i.mu.Lock()
	defer i.mu.Unlock()
	ds := make([]*Domain, 0, len(i.Domains))
	for _, v := range i.Domains {
		ds = append(ds, v)
	}
	sort.Slice(ds, func(a, b int) bool { return ds[a].Domain < ds[b].Domain })
	return ds
}

// Update runs fn with the inventory lock held and saves the result.
// fn must touch the maps directly; the accessor methods would deadlock.
func (i *Inventory) Update(fn func(*Inventory)) error {
	i.mu.Lock()
	fn(i)
	i.mu.Unlock()
	return i.Save()
}
