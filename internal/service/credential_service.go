package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/downloader"
	"cfdi-descargas/internal/repository"
	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/secrets"
	"cfdi-descargas/internal/storage"
)

// CredentialService stores FIEL material per (user, RFC).
type CredentialService interface {
	Save(ctx context.Context, userID int64, rfc string, cert, key []byte, passphrase string) (*domain.FiscalCredential, error)
	List(ctx context.Context, userID int64) ([]domain.FiscalCredential, error)
	Get(ctx context.Context, userID int64, rfc string) (*domain.FiscalCredential, error)
	ReadMaterial(ctx context.Context, cred *domain.FiscalCredential) (cert, key []byte, err error)
	MaterialExists(ctx context.Context, cred *domain.FiscalCredential) (bool, error)
}

type credentialService struct {
	creds    repository.CredentialRepository
	store    storage.Service
	keyring  *secrets.Keyring
	sessions downloader.Manager
	logger   *logrus.Logger
}

func NewCredentialService(creds repository.CredentialRepository, store storage.Service, keyring *secrets.Keyring, sessions downloader.Manager, logger *logrus.Logger) CredentialService {
	if logger == nil {
		logger = logrus.New()
	}
	return &credentialService{
		creds:    creds,
		store:    store,
		keyring:  keyring,
		sessions: sessions,
		logger:   logger,
	}
}

// Save checks that the material loads as a FIEL, writes it to storage and
// upserts the row for (userID, rfc). The cached SAT session for rfc is dropped
// so the next query signs with the new material.
func (s *credentialService) Save(ctx context.Context, userID int64, rfc string, cert, key []byte, passphrase string) (*domain.FiscalCredential, error) {
	rfc = domain.NormalizeRFC(rfc)
	log := s.logger.WithFields(logrus.Fields{
		"usuario_id": userID,
		"rfc":        rfc,
	})

	sealed, err := s.keyring.Seal(passphrase)
	if err != nil {
		return nil, fmt.Errorf("seal passphrase: %w", err)
	}
	if _, err := sat.LoadFiel(cert, key, passphrase); err != nil {
		log.WithError(err).Warn("fiscal credential rejected")
		return nil, err
	}

	certKey := credentialKey(userID, rfc, ".cer")
	keyKey := credentialKey(userID, rfc, ".key")
	if _, err := s.store.Put(ctx, certKey, cert); err != nil {
		return nil, fmt.Errorf("store certificate: %w", err)
	}
	if _, err := s.store.Put(ctx, keyKey, key); err != nil {
		s.discard(ctx, certKey)
		return nil, fmt.Errorf("store key: %w", err)
	}

	cred := &domain.FiscalCredential{
		UserID:               userID,
		RFC:                  rfc,
		CertificatePath:      certKey,
		KeyPath:              keyKey,
		PassphraseCiphertext: sealed.Ciphertext,
		WrappedDataKey:       sealed.WrappedKey,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		// the row may still reference the previous passphrase
		s.discard(ctx, certKey, keyKey)
		return nil, err
	}
	s.sessions.Evict(rfc)

	log.WithFields(logrus.Fields{
		"cert_bytes": len(cert),
		"key_bytes":  len(key),
	}).Info("fiscal credential saved")
	return cred, nil
}

func (s *credentialService) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("failed to remove credential material")
		}
	}
}

// List returns the user's credentials, newest first, without decrypting passphrases.
func (s *credentialService) List(ctx context.Context, userID int64) ([]domain.FiscalCredential, error) {
	return s.creds.ListByUser(ctx, userID)
}

// Get loads one credential and decrypts its passphrase.
func (s *credentialService) Get(ctx context.Context, userID int64, rfc string) (*domain.FiscalCredential, error) {
	cred, err := s.creds.Get(ctx, userID, domain.NormalizeRFC(rfc))
	if err != nil {
		return nil, err
	}

	passphrase, err := s.keyring.Open(secrets.Sealed{
		Ciphertext: cred.PassphraseCiphertext,
		WrappedKey: cred.WrappedDataKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open passphrase for %s: %w", cred.RFC, err)
	}
	cred.Passphrase = passphrase
	return cred, nil
}

func (s *credentialService) ReadMaterial(ctx context.Context, cred *domain.FiscalCredential) ([]byte, []byte, error) {
	cert, err := s.store.Get(ctx, cred.CertificatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read certificate: %w", err)
	}
	key, err := s.store.Get(ctx, cred.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read key: %w", err)
	}
	return cert, key, nil
}

func (s *credentialService) MaterialExists(ctx context.Context, cred *domain.FiscalCredential) (bool, error) {
	for _, key := range []string{cred.CertificatePath, cred.KeyPath} {
		ok, err := s.store.Exists(ctx, key)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func credentialKey(userID int64, rfc, ext string) string {
	return fmt.Sprintf("%d/%s%s", userID, rfc, ext)
}
