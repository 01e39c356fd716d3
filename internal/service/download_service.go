package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"cfdi-descargas/internal/cfdi"
	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/downloader"
	"cfdi-descargas/internal/repository"
	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/status"
	"cfdi-descargas/internal/storage"
)

// ErrProviderUnavailable is returned when SAT could not be reached or answered with a fault.
var ErrProviderUnavailable = errors.New("SAT provider unavailable")

// RequestError is a problem with the caller's input or stored material. Its
// message is safe to show to the user.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func badRequest(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// CredentialSource selects where the FIEL for a query comes from.
type CredentialSource struct {
	// UserID is the logged in user, nil for anonymous callers.
	UserID *int64
	// UseSaved loads the credential the user stored for the RFC.
	UseSaved bool
}

func (c CredentialSource) saved() bool {
	return c.UseSaved && c.UserID != nil
}

// InvoiceQuery submits a new download request and fetches its invoices when ready.
type InvoiceQuery struct {
	Source  CredentialSource
	Request domain.DownloadRequest
}

// VerifyQuery re-polls an existing SAT request.
type VerifyQuery struct {
	Source    CredentialSource
	RFC       string
	RequestID string
	Filter    domain.StatusFilter
}

// Stats summarizes the display policy applied to the fetched invoices.
type Stats struct {
	Current           int `json:"vigentes"`
	CancelledFiltered int `json:"canceladas_filtradas"`
}

// QueryResult is the outcome of a query or verification.
type QueryResult struct {
	Interpretation status.Interpretation
	Submission     *sat.Submission
	Verification   *sat.Verification
	RequestID      string
	// Invoices is nil when no verification happened.
	Invoices []domain.Invoice
	Stats    *Stats
}

// DownloadService orchestrates SAT download requests for an RFC.
type DownloadService interface {
	Query(ctx context.Context, q InvoiceQuery) (*QueryResult, error)
	Verify(ctx context.Context, q VerifyQuery) (*QueryResult, error)
	RegisterUpload(ctx context.Context, rfc string, cert, key []byte, passphrase string) error
	History(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error)
}

type DownloadConfig struct {
	// Uploads holds manually uploaded FIEL files keyed by RFC.
	Uploads storage.Service
	Archive bool
	Status  status.Options
	Logger  *logrus.Logger
}

type downloadService struct {
	cfg         DownloadConfig
	credentials CredentialService
	requests    repository.RequestRepository
	sessions    downloader.Manager
	store       storage.Service
	logger      *logrus.Logger
}

func NewDownloadService(cfg DownloadConfig, credentials CredentialService, requests repository.RequestRepository, sessions downloader.Manager, store storage.Service) DownloadService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &downloadService{
		cfg:         cfg,
		credentials: credentials,
		requests:    requests,
		sessions:    sessions,
		store:       store,
		logger:      cfg.Logger,
	}
}

func (s *downloadService) Query(ctx context.Context, q InvoiceQuery) (*QueryResult, error) {
	req := q.Request
	req.RFC = domain.NormalizeRFC(req.RFC)
	log := s.logger.WithFields(logrus.Fields{
		"rfc":  req.RFC,
		"tipo": req.Kind,
	})

	session, err := s.resolveSession(ctx, q.Source, req.RFC)
	if err != nil {
		return nil, err
	}

	recordID := s.recordSubmission(ctx, q.Source.UserID, req)

	sub, err := session.RequestDownload(ctx, req)
	if err != nil {
		log.WithError(err).Error("download request failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if recordID > 0 {
		if err := s.requests.UpdateSubmission(ctx, recordID, sub.RequestID, sub.StatusCode, sub.Message); err != nil {
			log.WithError(err).Warn("failed to record SAT answer")
		}
	}

	requestID := sub.RequestID
	if sub.StatusCode == status.CodeDuplicate && requestID == "" {
		requestID = s.previousRequestID(ctx, q.Source.UserID, req)
		if requestID != "" {
			log.WithField("id_solicitud", requestID).Info("duplicate request resolved from history")
		}
	}

	interp := status.Interpret(sub.StatusCode, sub.Message, req.Kind, requestID != "", s.cfg.Status)
	log.WithFields(logrus.Fields{
		"cod_estatus": sub.StatusCode,
		"outcome":     interp.Outcome,
		"heuristic":   interp.Heuristic,
	}).Info("SAT status interpreted")

	result := &QueryResult{
		Interpretation: interp,
		Submission:     sub,
	}
	if !interp.Poll {
		return result, nil
	}

	result.RequestID = requestID
	s.poll(ctx, session, recordID, requestID, req.Filter, result)
	return result, nil
}

func (s *downloadService) Verify(ctx context.Context, q VerifyQuery) (*QueryResult, error) {
	rfc := domain.NormalizeRFC(q.RFC)
	session, err := s.resolveSession(ctx, q.Source, rfc)
	if err != nil {
		return nil, err
	}

	var recordID int64
	rec, err := s.requests.FindByRequestID(ctx, q.RequestID)
	switch {
	case err == nil:
		recordID = rec.ID
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.WithError(err).WithField("id_solicitud", q.RequestID).Warn("failed to load request history")
	}

	result := &QueryResult{
		Interpretation: status.Interpretation{
			Outcome: status.OutcomeAccepted,
			Success: true,
			Poll:    true,
		},
		RequestID: q.RequestID,
	}
	s.poll(ctx, session, recordID, q.RequestID, q.Filter, result)
	if result.Verification == nil {
		return nil, fmt.Errorf("%w: verification of %s failed", ErrProviderUnavailable, q.RequestID)
	}
	result.Interpretation.Message = result.Verification.Message
	return result, nil
}

// poll verifies requestID and, when SAT reports the packages ready, downloads
// and extracts them into result. A failed verification leaves Verification nil.
func (s *downloadService) poll(ctx context.Context, session *downloader.Session, recordID int64, requestID string, filter domain.StatusFilter, result *QueryResult) {
	log := s.logger.WithFields(logrus.Fields{
		"rfc":          session.RFC(),
		"id_solicitud": requestID,
	})

	verification, err := session.CheckStatus(ctx, requestID)
	if err != nil {
		log.WithError(err).Warn("verification failed")
		return
	}
	result.Verification = verification

	if recordID > 0 {
		state := domain.RequestState(verification.RequestState)
		if err := s.requests.UpdateVerification(ctx, recordID, state, len(verification.PackageIDs)); err != nil {
			log.WithError(err).Warn("failed to record verification")
		}
	}

	var packages []downloader.Package
	if verification.Ready() && len(verification.PackageIDs) > 0 {
		packages = s.collectPackages(ctx, session, requestID, verification.PackageIDs, log)
	}

	var invoices []domain.Invoice
	for _, pkg := range packages {
		parsed, err := cfdi.ParseArchive(pkg.Data, log.WithField("paquete", pkg.ID))
		if err != nil {
			log.WithError(err).WithField("paquete", pkg.ID).Warn("skipping unreadable package")
			continue
		}
		log.WithFields(logrus.Fields{
			"paquete":  pkg.ID,
			"facturas": len(parsed),
		}).Info("package extracted")
		invoices = append(invoices, parsed...)
	}

	kept, cancelled := cfdi.ApplyDisplayPolicy(invoices, filter)
	result.Invoices = kept
	result.Stats = &Stats{Current: len(kept), CancelledFiltered: cancelled}
}

// collectPackages returns the packages of a finished request in SAT order.
// Packages already in the archive are read back instead of downloaded again.
func (s *downloadService) collectPackages(ctx context.Context, session *downloader.Session, requestID string, ids []string, log *logrus.Entry) []downloader.Package {
	archived := s.archivedPackages(ctx, session.RFC(), requestID)

	byID := make(map[string]downloader.Package, len(ids))
	var missing []string
	for _, id := range ids {
		key, ok := archived[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		data, err := s.store.Get(ctx, key)
		if err != nil {
			log.WithError(err).WithField("paquete", id).Warn("archived package unreadable, downloading again")
			missing = append(missing, id)
			continue
		}
		byID[id] = downloader.Package{ID: id, Data: data}
	}
	if reused := len(ids) - len(missing); reused > 0 {
		log.WithField("paquetes", reused).Info("packages reused from archive")
	}

	if len(missing) > 0 {
		downloaded, err := session.DownloadPackages(ctx, missing)
		if err != nil {
			log.WithError(err).Warn("package download interrupted")
		}
		for _, pkg := range downloaded {
			s.archive(ctx, session.RFC(), requestID, pkg)
			byID[pkg.ID] = pkg
		}
	}

	packages := make([]downloader.Package, 0, len(byID))
	for _, id := range ids {
		if pkg, ok := byID[id]; ok {
			packages = append(packages, pkg)
		}
	}
	return packages
}

func (s *downloadService) archivedPackages(ctx context.Context, rfc, requestID string) map[string]string {
	if !s.cfg.Archive || s.store == nil {
		return nil
	}
	objects, err := s.store.List(ctx, archivePrefix(rfc, requestID))
	if err != nil {
		s.logger.WithError(err).WithField("id_solicitud", requestID).Warn("failed to list archived packages")
		return nil
	}
	archived := make(map[string]string, len(objects))
	for _, obj := range objects {
		archived[strings.TrimSuffix(path.Base(obj.Key), ".zip")] = obj.Key
	}
	return archived
}

func (s *downloadService) archive(ctx context.Context, rfc, requestID string, pkg downloader.Package) {
	if !s.cfg.Archive || s.store == nil {
		return
	}
	key := archivePrefix(rfc, requestID) + pkg.ID + ".zip"
	location, err := s.store.Put(ctx, key, pkg.Data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to archive package")
		return
	}
	s.logger.WithField("location", location).Info("package archived")
}

func archivePrefix(rfc, requestID string) string {
	return fmt.Sprintf("paquetes/%s/%s/", rfc, requestID)
}

func (s *downloadService) recordSubmission(ctx context.Context, userID *int64, req domain.DownloadRequest) int64 {
	rec := &domain.RequestRecord{
		UserID: userID,
		RFC:    req.RFC,
		Kind:   req.Kind,
		From:   req.From,
		To:     req.To,
		Filter: req.Filter,
		State:  domain.RequestStateSubmitted,
	}
	id, err := s.requests.Create(ctx, rec)
	if err != nil {
		s.logger.WithError(err).WithField("rfc", req.RFC).Warn("failed to record download request")
		return 0
	}
	return id
}

// previousRequestID looks up the caller's own earlier request for the same
// RFC, kind, range and filter.
func (s *downloadService) previousRequestID(ctx context.Context, userID *int64, req domain.DownloadRequest) string {
	rec, err := s.requests.FindLatestMatching(ctx, userID, req)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("rfc", req.RFC).Warn("failed to search request history")
		}
		return ""
	}
	return rec.RequestID
}

// resolveSession returns the SAT session for rfc. A cached session is only
// used when it signs with the caller's certificate.
func (s *downloadService) resolveSession(ctx context.Context, src CredentialSource, rfc string) (*downloader.Session, error) {
	if src.saved() {
		return s.savedSession(ctx, *src.UserID, rfc)
	}

	for _, ext := range []string{".cer", ".key"} {
		ok, err := s.cfg.Uploads.Exists(ctx, uploadKey(rfc, ext))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, badRequest("Primero debes subir los certificados")
		}
	}
	cert, err := s.cfg.Uploads.Get(ctx, uploadKey(rfc, ".cer"))
	if err != nil {
		return nil, fmt.Errorf("read uploaded certificate: %w", err)
	}
	session, ok := s.sessions.Get(rfc, sat.CertificateFingerprint(cert))
	if !ok {
		return nil, badRequest("Cliente no inicializado. Sube los certificados primero.")
	}
	return session, nil
}

func (s *downloadService) savedSession(ctx context.Context, userID int64, rfc string) (*downloader.Session, error) {
	creds, err := s.credentials.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, badRequest("No se encontraron datos fiscales guardados")
	}

	cred, err := s.credentials.Get(ctx, userID, rfc)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, badRequest("No se encontraron datos guardados para el RFC %s", rfc)
		}
		return nil, err
	}

	ok, err := s.credentials.MaterialExists(ctx, cred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, badRequest("Los archivos de certificados no existen. Vuelve a subirlos en tu perfil.")
	}

	cert, key, err := s.credentials.ReadMaterial(ctx, cred)
	if err != nil {
		return nil, err
	}
	fiel, err := loadValidFiel(cert, key, cred.Passphrase)
	if err != nil {
		s.logger.WithError(err).WithField("rfc", rfc).Warn("saved FIEL rejected")
		return nil, badRequest("Error al inicializar FIEL con certificados guardados. Verifica que la contraseña sea correcta.")
	}
	return s.sessions.Acquire(rfc, fiel), nil
}

// RegisterUpload keeps a manually uploaded FIEL in the uploads store and
// installs a fresh session for rfc. Files are removed when the FIEL is unusable.
func (s *downloadService) RegisterUpload(ctx context.Context, rfc string, cert, key []byte, passphrase string) error {
	rfc = domain.NormalizeRFC(rfc)
	certKey := uploadKey(rfc, ".cer")
	keyKey := uploadKey(rfc, ".key")
	if _, err := s.cfg.Uploads.Put(ctx, certKey, cert); err != nil {
		return fmt.Errorf("store certificate: %w", err)
	}
	if _, err := s.cfg.Uploads.Put(ctx, keyKey, key); err != nil {
		s.discardUpload(ctx, certKey)
		return fmt.Errorf("store key: %w", err)
	}

	fiel, err := loadValidFiel(cert, key, passphrase)
	if err != nil {
		s.discardUpload(ctx, certKey, keyKey)
		s.logger.WithError(err).WithField("rfc", rfc).Warn("uploaded FIEL rejected")
		return badRequest("Certificados o contraseña inválidos")
	}
	if holder := fiel.RFC(); holder != "" && holder != rfc {
		s.logger.WithFields(logrus.Fields{
			"rfc":         rfc,
			"certificado": holder,
		}).Warn("certificate holder does not match RFC")
	}

	s.sessions.Replace(rfc, fiel)
	s.logger.WithFields(logrus.Fields{
		"rfc":    rfc,
		"vence":  fiel.NotAfter().Format(time.DateOnly),
		"serial": fiel.SerialNumber(),
	}).Info("FIEL uploaded")
	return nil
}

func (s *downloadService) History(ctx context.Context, userID int64, limit int) ([]domain.RequestRecord, error) {
	return s.requests.ListByUser(ctx, userID, limit)
}

func (s *downloadService) discardUpload(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.cfg.Uploads.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("failed to remove uploaded file")
		}
	}
}

func uploadKey(rfc, ext string) string {
	return path.Base(rfc) + ext
}

func loadValidFiel(cert, key []byte, passphrase string) (*sat.Fiel, error) {
	fiel, err := sat.LoadFiel(cert, key, passphrase)
	if err != nil {
		return nil, err
	}
	if err := fiel.ValidAt(time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", sat.ErrInvalidFiel, err)
	}
	return fiel, nil
}
