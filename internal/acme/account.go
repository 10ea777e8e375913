package acme

import (
	"crypto"
	"fmt"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/ksyq12/mtlsctl/internal/certstore"
	"github.com/ksyq12/mtlsctl/internal/logger"
)

// accountKey loads the persisted ACME account key, creating it on first use.
func (o *Orchestrator) accountKey() (crypto.PrivateKey, bool, error) {
	path := o.store.AccountKeyPath()
	if o.store.Exists(path) {
		data, err := o.store.Read(path)
		if err != nil {
			return nil, false, err
		}
		key, err := certcrypto.ParsePEMPrivateKey(data)
		if err != nil {
			return nil, false, fmt.Errorf("parse account key %s: %w", path, err)
		}
		return key, false, nil
	}

	key, err := o.accountKeyMaker()
	if err != nil {
		return nil, false, fmt.Errorf("generate account key: %w", err)
	}
	if err := o.store.Commit(certstore.Key(path, certcrypto.PEMEncode(key))); err != nil {
		return nil, false, err
	}
	logger.Info("Created ACME account key at %s", path)
	return key, true, nil
}

// newClient builds an ACME client whose account is registered or resolved
// from the persisted key.
func (o *Orchestrator) newClient(email string) (acmeClient, error) {
	key, created, err := o.accountKey()
	if err != nil {
		return nil, err
	}
	user := &accountUser{email: email, key: key}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = o.directory
	legoCfg.Certificate.KeyType = o.keyType
	legoCfg.UserAgent = "mtlsctl"

	client, err := o.clientFactory(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("create acme client: %w", err)
	}

	if !created {
		if reg, err := client.ResolveAccountByKey(); err == nil {
			user.registration = reg
			logger.Debug("Resolved ACME account %s", reg.URI)
			return client, nil
		}
		logger.Debug("No ACME account for the stored key, registering")
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, classify(fmt.Errorf("register account: %w", err))
	}
	user.registration = reg
	return client, nil
}
