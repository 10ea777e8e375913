package driver

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// MockDriver is an in-memory test double for the Driver interface
type MockDriver struct {
	mu    sync.Mutex
	name  string
	paths Paths

	// Sites, Enabled and Snippets hold the in-memory state
	Sites    map[string][]byte
	Enabled  map[string]bool
	Snippets map[string][]byte
	Running  bool

	// Function mocks - set these to customize behavior
	WriteFunc  func(site string, content []byte) error
	TestFunc   func() error
	ReloadFunc func() error
	StopFunc   func() error
	StartFunc  func() error

	// Call tracking - check these to verify interactions
	WriteCalls         []WriteCall
	EnableCalls        []string
	SnippetCalls       []string
	RemoveSnippetCalls []string
	TestCalls          int
	ReloadCalls        int
	StopCalls          int
	StartCalls         int
}

// WriteCall records arguments passed to Write
type WriteCall struct {
	Site    string
	Content string
}

// NewMockDriver creates a new MockDriver with a running proxy and no sites
func NewMockDriver(name string, paths Paths) *MockDriver {
	return &MockDriver{
		name:     name,
		paths:    paths,
		Sites:    make(map[string][]byte),
		Enabled:  make(map[string]bool),
		Snippets: make(map[string][]byte),
		Running:  true,
	}
}

// Name returns the driver name
func (m *MockDriver) Name() string {
	return m.name
}

// Paths returns the configured paths
func (m *MockDriver) Paths() Paths {
	return m.paths
}

// Write records the call and stores the content
func (m *MockDriver) Write(site string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls = append(m.WriteCalls, WriteCall{Site: site, Content: string(content)})
	if m.WriteFunc != nil {
		if err := m.WriteFunc(site, content); err != nil {
			return err
		}
	}
	m.Sites[site] = append([]byte(nil), content...)
	return nil
}

// Read returns the stored content
func (m *MockDriver) Read(site string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Sites[site]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", site, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// Remove deletes the stored site
func (m *MockDriver) Remove(site string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Sites[site]; !ok {
		return fmt.Errorf("remove %s: %w", site, fs.ErrNotExist)
	}
	delete(m.Sites, site)
	delete(m.Enabled, site)
	return nil
}

// Enable marks the site enabled
func (m *MockDriver) Enable(site string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnableCalls = append(m.EnableCalls, site)
	if _, ok := m.Sites[site]; !ok {
		return fmt.Errorf("enable %s: %w", site, fs.ErrNotExist)
	}
	m.Enabled[site] = true
	return nil
}

// Disable marks the site disabled
func (m *MockDriver) Disable(site string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Enabled, site)
	return nil
}

// IsEnabled reports the enabled state
func (m *MockDriver) IsEnabled(site string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Enabled[site], nil
}

// List returns stored site names
func (m *MockDriver) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sites := make([]string, 0, len(m.Sites))
	for s := range m.Sites {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites, nil
}

// WriteSnippet stores a snippet
func (m *MockDriver) WriteSnippet(name string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnippetCalls = append(m.SnippetCalls, name)
	m.Snippets[name] = append([]byte(nil), content...)
	return nil
}

// RemoveSnippet deletes a snippet
func (m *MockDriver) RemoveSnippet(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveSnippetCalls = append(m.RemoveSnippetCalls, name)
	delete(m.Snippets, name)
	return nil
}

// Test records the call and invokes the mock function if set
func (m *MockDriver) Test(_ context.Context) error {
	m.mu.Lock()
	m.TestCalls++
	fn := m.TestFunc
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// Reload records the call and invokes the mock function if set
func (m *MockDriver) Reload(_ context.Context) error {
	m.mu.Lock()
	m.ReloadCalls++
	fn := m.ReloadFunc
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// Stop records the call and marks the proxy stopped
func (m *MockDriver) Stop(_ context.Context) error {
	m.mu.Lock()
	m.StopCalls++
	fn := m.StopFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Running = false
	m.mu.Unlock()
	return nil
}

// Start records the call and marks the proxy running
func (m *MockDriver) Start(_ context.Context) error {
	m.mu.Lock()
	m.StartCalls++
	fn := m.StartFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Running = true
	m.mu.Unlock()
	return nil
}

// IsRunning reports whether the proxy is marked running
func (m *MockDriver) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Running
}

// Site returns the stored content of a site as a string
func (m *MockDriver) Site(site string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.Sites[site])
}

// Counts returns the Test and Reload call counts
func (m *MockDriver) Counts() (tests, reloads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TestCalls, m.ReloadCalls
}

// Reset clears all call tracking
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls = nil
	m.EnableCalls = nil
	m.SnippetCalls = nil
	m.RemoveSnippetCalls = nil
	m.TestCalls = 0
	m.ReloadCalls = 0
	m.StopCalls = 0
	m.StartCalls = 0
}
