package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/repository"
)

type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) repository.CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert inserts the credential or overwrites the existing row for the same user and RFC.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *domain.FiscalCredential) error {
	if cred.UploadedAt.IsZero() {
		cred.UploadedAt = time.Now().UTC()
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO datos_fiscales (usuario_id, rfc, certificado_path, llave_path, password_ciphertext, data_key, fecha_subida)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(usuario_id, rfc) DO UPDATE SET
	certificado_path = excluded.certificado_path,
	llave_path = excluded.llave_path,
	password_ciphertext = excluded.password_ciphertext,
	data_key = excluded.data_key,
	fecha_subida = excluded.fecha_subida
RETURNING id`,
		cred.UserID,
		cred.RFC,
		cred.CertificatePath,
		cred.KeyPath,
		cred.PassphraseCiphertext,
		cred.WrappedDataKey,
		cred.UploadedAt.UTC(),
	)
	if err := row.Scan(&cred.ID); err != nil {
		return fmt.Errorf("upsert fiscal credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) ListByUser(ctx context.Context, userID int64) ([]domain.FiscalCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, usuario_id, rfc, certificado_path, llave_path, password_ciphertext, data_key, fecha_subida
FROM datos_fiscales
WHERE usuario_id = ?
ORDER BY fecha_subida DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fiscal credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.FiscalCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

func (r *CredentialRepository) Get(ctx context.Context, userID int64, rfc string) (*domain.FiscalCredential, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, usuario_id, rfc, certificado_path, llave_path, password_ciphertext, data_key, fecha_subida
FROM datos_fiscales
WHERE usuario_id = ? AND rfc = ?`,
		userID,
		rfc,
	)
	return scanCredential(row)
}

func scanCredential(row interface {
	Scan(dest ...any) error
}) (*domain.FiscalCredential, error) {
	var cred domain.FiscalCredential
	if err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.RFC,
		&cred.CertificatePath,
		&cred.KeyPath,
		&cred.PassphraseCiphertext,
		&cred.WrappedDataKey,
		&cred.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fiscal credential: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan fiscal credential: %w", err)
	}
	return &cred, nil
}
