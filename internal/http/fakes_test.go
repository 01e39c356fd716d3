package http

import (
	"context"
	"errors"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/service"
)

var errUnexpected = errors.New("unexpected call")

type fakeUsers struct {
	RegisterFunc     func(ctx context.Context, name, email, phone, password string) (*domain.User, error)
	AuthenticateFunc func(ctx context.Context, email, password string) (*domain.User, error)
}

func (f *fakeUsers) Register(ctx context.Context, name, email, phone, password string) (*domain.User, error) {
	if f.RegisterFunc != nil {
		return f.RegisterFunc(ctx, name, email, phone, password)
	}
	return nil, errUnexpected
}

func (f *fakeUsers) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	if f.AuthenticateFunc != nil {
		return f.AuthenticateFunc(ctx, email, password)
	}
	return nil, errUnexpected
}

func (f *fakeUsers) GetByID(_ context.Context, _ int64) (*domain.User, error) {
	return nil, errUnexpected
}

type fakeCredentials struct {
	SaveFunc func(ctx context.Context, userID int64, rfc string, cert, key []byte, passphrase string) (*domain.FiscalCredential, error)
	ListFunc func(ctx context.Context, userID int64) ([]domain.FiscalCredential, error)
}

func (f *fakeCredentials) Save(ctx context.Context, userID int64, rfc string, cert, key []byte, passphrase string) (*domain.FiscalCredential, error) {
	if f.SaveFunc != nil {
		return f.SaveFunc(ctx, userID, rfc, cert, key, passphrase)
	}
	return nil, errUnexpected
}

func (f *fakeCredentials) List(ctx context.Context, userID int64) ([]domain.FiscalCredential, error) {
	if f.ListFunc != nil {
		return f.ListFunc(ctx, userID)
	}
	return nil, nil
}

func (f *fakeCredentials) Get(_ context.Context, _ int64, _ string) (*domain.FiscalCredential, error) {
	return nil, errUnexpected
}

func (f *fakeCredentials) ReadMaterial(_ context.Context, _ *domain.FiscalCredential) ([]byte, []byte, error) {
	return nil, nil, errUnexpected
}

func (f *fakeCredentials) MaterialExists(_ context.Context, _ *domain.FiscalCredential) (bool, error) {
	return false, errUnexpected
}

type fakeDownloads struct {
	QueryFunc          func(ctx context.Context, q service.InvoiceQuery) (*service.QueryResult, error)
	VerifyFunc         func(ctx context.Context, q service.VerifyQuery) (*service.QueryResult, error)
	RegisterUploadFunc func(ctx context.Context, rfc string, cert, key []byte, passphrase string) error
	HistoryFunc        func(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error)
}

func (f *fakeDownloads) Query(ctx context.Context, q service.InvoiceQuery) (*service.QueryResult, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, q)
	}
	return nil, errUnexpected
}

func (f *fakeDownloads) Verify(ctx context.Context, q service.VerifyQuery) (*service.QueryResult, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, q)
	}
	return nil, errUnexpected
}

func (f *fakeDownloads) RegisterUpload(ctx context.Context, rfc string, cert, key []byte, passphrase string) error {
	if f.RegisterUploadFunc != nil {
		return f.RegisterUploadFunc(ctx, rfc, cert, key, passphrase)
	}
	return errUnexpected
}

func (f *fakeDownloads) History(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error) {
	if f.HistoryFunc != nil {
		return f.HistoryFunc(ctx, userID, limit)
	}
	return nil, nil
}
