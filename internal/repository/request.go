package repository

import (
	"context"

	"cfdi-descargas/internal/domain"
)

// RequestRepository keeps the history of download requests submitted to SAT.
type RequestRepository interface {
	Create(ctx context.Context, rec *domain.RequestRecord) (int64, error)
	UpdateSubmission(ctx context.Context, id int64, requestID, statusCode, message string) error
	UpdateVerification(ctx context.Context, id int64, state domain.RequestState, packageCount int) error
	FindLatestMatching(ctx context.Context, userID *int64, req domain.DownloadRequest) (*domain.RequestRecord, error)
	FindByRequestID(ctx context.Context, requestID string) (*domain.RequestRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error)
}
