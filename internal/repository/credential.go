package repository

import (
	"context"

	"cfdi-descargas/internal/domain"
)

// CredentialRepository stores the FIEL locations a user saved per RFC.
// Upsert replaces the row for an existing (user, RFC) pair.
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *domain.FiscalCredential) error
	ListByUser(ctx context.Context, userID int64) ([]domain.FiscalCredential, error)
	Get(ctx context.Context, userID int64, rfc string) (*domain.FiscalCredential, error)
}
