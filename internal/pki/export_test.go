package pki

import "time"

// SetAfterSign installs a hook that runs between signing and commit.
func (i *Issuer) SetAfterSign(fn func()) { i.afterSign = fn }

// SetNow overrides the issuer clock.
func (i *Issuer) SetNow(fn func() time.Time) { i.now = fn }

// SetKeyBits overrides the CA key size.
func (m *Manager) SetKeyBits(bits int) { m.keyBits = bits }
