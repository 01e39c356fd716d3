package domain

import "time"

// FiscalCredential is the FIEL material a user stored for one RFC.
// Passphrase is only populated after decryption by the credential service.
type FiscalCredential struct {
	ID                   int64
	UserID               int64
	RFC                  string
	CertificatePath      string
	KeyPath              string
	PassphraseCiphertext string
	WrappedDataKey       string
	Passphrase           string
	UploadedAt           time.Time
}
