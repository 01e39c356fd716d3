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

const requestDateLayout = "2006-01-02"

const selectRequestColumns = `
SELECT id, usuario_id, rfc, tipo, fecha_inicial, fecha_final, estado_comprobante, id_solicitud, cod_estatus, mensaje, estado, paquetes, created_at, updated_at, verified_at
FROM solicitudes`

type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) repository.RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, rec *domain.RequestRecord) (int64, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.State == "" {
		rec.State = domain.RequestStateSubmitted
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO solicitudes (usuario_id, rfc, tipo, fecha_inicial, fecha_final, estado_comprobante, id_solicitud, cod_estatus, mensaje, estado, paquetes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(rec.UserID),
		rec.RFC,
		string(rec.Kind),
		rec.From.Format(requestDateLayout),
		rec.To.Format(requestDateLayout),
		string(rec.Filter),
		rec.RequestID,
		rec.StatusCode,
		rec.Message,
		string(rec.State),
		rec.PackageCount,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	rec.ID = id
	return id, nil
}

func (r *RequestRepository) UpdateSubmission(ctx context.Context, id int64, requestID, statusCode, message string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE solicitudes
SET id_solicitud=?, cod_estatus=?, mensaje=?, updated_at=?
WHERE id=?`,
		requestID,
		statusCode,
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update request submission: %w", err)
	}
	return nil
}

func (r *RequestRepository) UpdateVerification(ctx context.Context, id int64, state domain.RequestState, packageCount int) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
UPDATE solicitudes
SET estado=?, paquetes=?, verified_at=?, updated_at=?
WHERE id=?`,
		string(state),
		packageCount,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update request verification: %w", err)
	}
	return nil
}

// FindLatestMatching returns the newest record submitted by the same user for the
// same RFC, kind, range and status filter that carries a SAT request id. A nil
// userID matches anonymous submissions only.
func (r *RequestRepository) FindLatestMatching(ctx context.Context, userID *int64, req domain.DownloadRequest) (*domain.RequestRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRequestColumns+`
WHERE usuario_id IS ? AND rfc=? AND tipo=? AND fecha_inicial=? AND fecha_final=? AND estado_comprobante=? AND id_solicitud <> ''
ORDER BY id DESC
LIMIT 1`,
		nullInt64(userID),
		req.RFC,
		string(req.Kind),
		req.From.Format(requestDateLayout),
		req.To.Format(requestDateLayout),
		string(req.Filter),
	)
	return scanRequest(row)
}

func (r *RequestRepository) FindByRequestID(ctx context.Context, requestID string) (*domain.RequestRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRequestColumns+`
WHERE id_solicitud=?
ORDER BY id DESC
LIMIT 1`,
		requestID,
	)
	return scanRequest(row)
}

func (r *RequestRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, selectRequestColumns+`
WHERE usuario_id=?
ORDER BY id DESC
LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var records []domain.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func scanRequest(scanner interface {
	Scan(dest ...any) error
}) (*domain.RequestRecord, error) {
	var (
		rec        domain.RequestRecord
		userID     sql.NullInt64
		kind       string
		from       string
		to         string
		filter     string
		state      string
		createdAt  time.Time
		updatedAt  time.Time
		verifiedAt sql.NullTime
	)

	if err := scanner.Scan(
		&rec.ID,
		&userID,
		&rec.RFC,
		&kind,
		&from,
		&to,
		&filter,
		&rec.RequestID,
		&rec.StatusCode,
		&rec.Message,
		&state,
		&rec.PackageCount,
		&createdAt,
		&updatedAt,
		&verifiedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	var err error
	if rec.From, err = time.Parse(requestDateLayout, from); err != nil {
		return nil, fmt.Errorf("parse fecha_inicial: %w", err)
	}
	if rec.To, err = time.Parse(requestDateLayout, to); err != nil {
		return nil, fmt.Errorf("parse fecha_final: %w", err)
	}
	if userID.Valid {
		id := userID.Int64
		rec.UserID = &id
	}
	rec.Kind = domain.Kind(kind)
	rec.Filter = domain.StatusFilter(filter)
	rec.State = domain.RequestState(state)
	rec.CreatedAt = createdAt.Local()
	rec.UpdatedAt = updatedAt.Local()
	if verifiedAt.Valid {
		t := verifiedAt.Time.Local()
		rec.VerifiedAt = &t
	}

	return &rec, nil
}
