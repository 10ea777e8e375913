// Package certstore is the filesystem repository for keys, certificates and
// the CA serial counter.
//
// Layout:
//
//	<ca-dir>/ca.key                    0600
//	<ca-dir>/ca.crt                    0644
//	<ca-dir>/ca.srl                    0644  hex serial counter
//	<ca-dir>/ca.srl.lock                     advisory lock
//	<ca-dir>/acme/account.key          0600
//	<identity-dir>/<name>.key          0600
//	<identity-dir>/<name>.crt          0644
//	<identity-dir>/public/<domain>.key 0600
//	<identity-dir>/public/<domain>.crt 0644
//
// Every write goes through Commit, which stages all artifacts as temporary
// files and renames them into place as one unit. If any step fails the
// files already moved are restored from their backups.
package certstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// File modes for stored artifacts.
const (
	KeyMode  fs.FileMode = 0600
	CertMode fs.FileMode = 0644
)

// Artifact is one file written by a Commit.
type Artifact struct {
	Path string
	Data []byte
	Mode fs.FileMode
}

// Key returns a private key artifact.
func Key(path string, data []byte) Artifact {
	return Artifact{Path: path, Data: data, Mode: KeyMode}
}

// Cert returns a certificate artifact.
func Cert(path string, data []byte) Artifact {
	return Artifact{Path: path, Data: data, Mode: CertMode}
}

// Store is a filesystem-backed certificate store.
type Store struct {
	caDir       string
	identityDir string

	mu sync.Mutex // serializes serial mutation within the process

	// rename is swapped in tests to inject failures.
	rename func(oldpath, newpath string) error
}

// New creates a store rooted at the given directories.
func New(caDir, identityDir string) *Store {
	return &Store{
		caDir:       caDir,
		identityDir: identityDir,
		rename:      os.Rename,
	}
}

// CADir returns the CA directory.
func (s *Store) CADir() string { return s.caDir }

// IdentityDir returns the identity directory.
func (s *Store) IdentityDir() string { return s.identityDir }

// CAKeyPath returns the CA private key path.
func (s *Store) CAKeyPath() string { return filepath.Join(s.caDir, "ca.key") }

// CACertPath returns the CA certificate path.
func (s *Store) CACertPath() string { return filepath.Join(s.caDir, "ca.crt") }

// SerialPath returns the serial counter path.
func (s *Store) SerialPath() string { return filepath.Join(s.caDir, "ca.srl") }

// AccountKeyPath returns the ACME account key path.
func (s *Store) AccountKeyPath() string { return filepath.Join(s.caDir, "acme", "account.key") }

// KeyPath returns the private key path of an identity.
func (s *Store) KeyPath(name string) string { return filepath.Join(s.identityDir, name+".key") }

// CertPath returns the certificate path of an identity.
func (s *Store) CertPath(name string) string { return filepath.Join(s.identityDir, name+".crt") }

// PublicKeyPath returns the private key path of a public domain.
func (s *Store) PublicKeyPath(domain string) string {
	return filepath.Join(s.identityDir, "public", domain+".key")
}

// PublicCertPath returns the certificate path of a public domain.
func (s *Store) PublicCertPath(domain string) string {
	return filepath.Join(s.identityDir, "public", domain+".crt")
}

// Exists reports whether path is a regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the content of a stored file.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapErr(path, "read", err)
	}
	return data, nil
}

// ReadSerial returns the next serial number to issue.
func (s *Store) ReadSerial() (*big.Int, error) {
	data, err := os.ReadFile(s.SerialPath())
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.ErrCodeCANotInitialized, s.SerialPath(), "serial counter missing", nil)
	}
	if err != nil {
		return nil, mapErr(s.SerialPath(), "read", err)
	}
	return ParseSerial(data)
}

// ParseSerial decodes the hex serial counter format.
func ParseSerial(data []byte) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(string(data)), 16)
	if !ok || n.Sign() <= 0 {
		return nil, apperr.New(apperr.ErrCodeSerialConflict, "", fmt.Sprintf("malformed serial counter %q", bytes.TrimSpace(data)), nil)
	}
	return n, nil
}

// Serial returns the serial counter artifact holding n.
func (s *Store) Serial(n *big.Int) Artifact {
	return Artifact{Path: s.SerialPath(), Data: []byte(fmt.Sprintf("%X\n", n)), Mode: CertMode}
}

// Lock acquires exclusive ownership of the serial counter, both within the
// process and across processes. The returned function releases it.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if err := os.MkdirAll(s.caDir, 0755); err != nil {
		s.mu.Unlock()
		return nil, mapErr(s.caDir, "create", err)
	}
	release, err := lockFile(ctx, s.SerialPath()+".lock")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

type staged struct {
	Artifact
	tmp    string
	backup string // empty when there was no prior file
	moved  bool
}

// Commit writes all artifacts as a single unit.
// On failure no artifact is left half written: replaced files are restored
// and new files are removed.
func (s *Store) Commit(arts ...Artifact) error {
	stage := make([]*staged, 0, len(arts))
	cleanup := func() {
		for _, st := range stage {
			if st.tmp != "" {
				_ = os.Remove(st.tmp)
			}
		}
	}

	for _, a := range arts {
		tmp, err := writeTemp(a)
		if err != nil {
			cleanup()
			return err
		}
		stage = append(stage, &staged{Artifact: a, tmp: tmp})
	}

	for _, st := range stage {
		if _, err := os.Lstat(st.Path); err == nil {
			st.backup = st.Path + ".bak"
			if err := s.rename(st.Path, st.backup); err != nil {
				st.backup = ""
				s.rollback(stage)
				cleanup()
				return mapErr(st.Path, "back up", err)
			}
		}
		if err := s.rename(st.tmp, st.Path); err != nil {
			s.rollback(stage)
			cleanup()
			return mapErr(st.Path, "commit", err)
		}
		st.moved = true
		st.tmp = ""
	}

	for _, st := range stage {
		if st.backup != "" {
			_ = os.Remove(st.backup)
		}
	}
	return nil
}

func (s *Store) rollback(stage []*staged) {
	for i := len(stage) - 1; i >= 0; i-- {
		st := stage[i]
		if st.moved {
			_ = os.Remove(st.Path)
		}
		if st.backup != "" {
			if err := os.Rename(st.backup, st.Path); err != nil {
				logger.Error("failed to restore %s from backup: %v", st.Path, err)
			}
		}
	}
}

// Snapshot holds the content of a set of files as it was when taken.
type Snapshot struct {
	store *Store
	prior []Artifact
	fresh []string // paths that did not exist
}

// Snapshot records the current content of paths so a later Commit over
// them can be undone with Restore.
func (s *Store) Snapshot(paths ...string) (*Snapshot, error) {
	snap := &Snapshot{store: s}
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			snap.fresh = append(snap.fresh, p)
			continue
		}
		if err != nil {
			return nil, mapErr(p, "stat", err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, mapErr(p, "read", err)
		}
		snap.prior = append(snap.prior, Artifact{Path: p, Data: data, Mode: info.Mode().Perm()})
	}
	return snap, nil
}

// Restore puts every recorded file back and removes the ones that did
// not exist when the snapshot was taken.
func (snap *Snapshot) Restore() error {
	var errs []error
	if len(snap.prior) > 0 {
		if err := snap.store.Commit(snap.prior...); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range snap.fresh {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, mapErr(p, "remove", err))
		}
	}
	return errors.Join(errs...)
}

func writeTemp(a Artifact) (string, error) {
	dir := filepath.Dir(a.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", mapErr(dir, "create", err)
	}

	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("temp name: %w", err)
	}
	tmp := a.Path + ".tmp-" + hex.EncodeToString(suffix[:])

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, a.Mode)
	if err != nil {
		return "", mapErr(a.Path, "write", err)
	}
	// Chmod explicitly; OpenFile is subject to the umask.
	if err := f.Chmod(a.Mode); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", mapErr(a.Path, "chmod", err)
	}
	if _, err := f.Write(a.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", mapErr(a.Path, "write", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", mapErr(a.Path, "sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", mapErr(a.Path, "close", err)
	}
	return tmp, nil
}

func mapErr(path, op string, err error) error {
	if apperr.Is(err, fs.ErrPermission) {
		return apperr.New(apperr.ErrCodePermission, path, op+" permission denied", err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
