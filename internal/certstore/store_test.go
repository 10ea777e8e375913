package certstore

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "ca"), filepath.Join(root, "identities"))
}

func mode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Mode().Perm()
}

func TestCommitWritesWithModes(t *testing.T) {
	s := newTestStore(t)

	err := s.Commit(
		Key(s.KeyPath("admin-client"), []byte("key")),
		Cert(s.CertPath("admin-client"), []byte("cert")),
	)
	require.NoError(t, err)

	assert.Equal(t, os.FileMode(0600), mode(t, s.KeyPath("admin-client")))
	assert.Equal(t, os.FileMode(0644), mode(t, s.CertPath("admin-client")))

	data, err := s.Read(s.CertPath("admin-client"))
	require.NoError(t, err)
	assert.Equal(t, "cert", string(data))

	entries, err := os.ReadDir(s.IdentityDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary or backup files should remain")
}

func TestCommitReplaces(t *testing.T) {
	s := newTestStore(t)
	path := s.CertPath("api-client")

	require.NoError(t, s.Commit(Cert(path, []byte("v1"))))
	require.NoError(t, s.Commit(Cert(path, []byte("v2"))))

	data, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.NoFileExists(t, path+".bak")
}

func TestCommitRollback(t *testing.T) {
	s := newTestStore(t)
	keyPath, certPath := s.KeyPath("gateway"), s.CertPath("gateway")
	require.NoError(t, s.Commit(Key(keyPath, []byte("old-key")), Cert(certPath, []byte("old-cert"))))

	// fail the second rename into place
	calls := 0
	s.rename = func(oldpath, newpath string) error {
		calls++
		if newpath == certPath {
			return errors.New("disk full")
		}
		return os.Rename(oldpath, newpath)
	}

	err := s.Commit(Key(keyPath, []byte("new-key")), Cert(certPath, []byte("new-cert")))
	require.Error(t, err)
	assert.Greater(t, calls, 1)

	key, _ := os.ReadFile(keyPath)
	cert, _ := os.ReadFile(certPath)
	assert.Equal(t, "old-key", string(key), "key must be restored")
	assert.Equal(t, "old-cert", string(cert), "cert must be restored")

	entries, err := os.ReadDir(s.IdentityDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must be cleaned up")
}

func TestCommitRollbackNewFiles(t *testing.T) {
	s := newTestStore(t)
	keyPath, certPath := s.KeyPath("fresh"), s.CertPath("fresh")

	s.rename = func(oldpath, newpath string) error {
		if newpath == certPath {
			return errors.New("boom")
		}
		return os.Rename(oldpath, newpath)
	}

	require.Error(t, s.Commit(Key(keyPath, []byte("k")), Cert(certPath, []byte("c"))))
	assert.NoFileExists(t, keyPath)
	assert.NoFileExists(t, certPath)
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestStore(t)
	keyPath, certPath := s.PublicKeyPath("example.org"), s.PublicCertPath("example.org")
	require.NoError(t, s.Commit(Key(keyPath, []byte("old-key")), Cert(certPath, []byte("old-cert"))))

	snap, err := s.Snapshot(keyPath, certPath)
	require.NoError(t, err)
	require.NoError(t, s.Commit(Key(keyPath, []byte("new-key")), Cert(certPath, []byte("new-cert"))))
	require.NoError(t, snap.Restore())

	key, _ := os.ReadFile(keyPath)
	cert, _ := os.ReadFile(certPath)
	assert.Equal(t, "old-key", string(key))
	assert.Equal(t, "old-cert", string(cert))
	assert.Equal(t, KeyMode, mode(t, keyPath))
	assert.Equal(t, CertMode, mode(t, certPath))
}

func TestSnapshotRestoreRemovesNewFiles(t *testing.T) {
	s := newTestStore(t)
	keyPath, certPath := s.PublicKeyPath("fresh.org"), s.PublicCertPath("fresh.org")

	snap, err := s.Snapshot(keyPath, certPath)
	require.NoError(t, err)
	require.NoError(t, s.Commit(Key(keyPath, []byte("k")), Cert(certPath, []byte("c"))))
	require.NoError(t, snap.Restore())

	assert.NoFileExists(t, keyPath)
	assert.NoFileExists(t, certPath)
	require.NoError(t, snap.Restore(), "restoring twice is harmless")
}

func TestCommitPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.IdentityDir(), 0500))
	t.Cleanup(func() { _ = os.Chmod(s.IdentityDir(), 0755) })

	err := s.Commit(Cert(s.CertPath("x"), []byte("c")))
	assert.True(t, apperr.Is(err, apperr.ErrPermissionDenied), "got %v", err)
}

func TestSerial(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadSerial()
	assert.True(t, apperr.Is(err, apperr.ErrCANotInitialized))

	require.NoError(t, s.Commit(s.Serial(big.NewInt(255))))
	n, err := s.ReadSerial()
	require.NoError(t, err)
	assert.Equal(t, int64(255), n.Int64())

	raw, _ := os.ReadFile(s.SerialPath())
	assert.Equal(t, "FF\n", string(raw))

	_, err = ParseSerial([]byte("zz"))
	assert.True(t, apperr.Is(err, apperr.ErrSerialConflict))
	_, err = ParseSerial([]byte("0"))
	assert.Error(t, err)
}

func TestLockSerializes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(s.Serial(big.NewInt(1))))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n, err := s.ReadSerial()
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, s.Commit(s.Serial(new(big.Int).Add(n, big.NewInt(1)))))
		}()
	}
	wg.Wait()

	n, err := s.ReadSerial()
	require.NoError(t, err)
	assert.Equal(t, int64(11), n.Int64())
}

func TestLockCrossDescriptor(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.CADir(), 0755))

	// simulate another process holding the lock file
	release, err := lockFile(context.Background(), s.SerialPath()+".lock")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
