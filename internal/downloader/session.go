package downloader

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/sat"
)

// Provider is the SAT bulk download web service.
type Provider interface {
	Authenticate(ctx context.Context, f *sat.Fiel) (string, error)
	RequestDownload(ctx context.Context, token string, f *sat.Fiel, p sat.SolicitudParams) (*sat.Submission, error)
	Verify(ctx context.Context, token string, f *sat.Fiel, rfc, requestID string) (*sat.Verification, error)
	Download(ctx context.Context, token string, f *sat.Fiel, rfc, packageID string) (*sat.PackageResponse, error)
}

var _ Provider = (*sat.Client)(nil)

// Package is a decoded ZIP package.
type Package struct {
	ID   string
	Data []byte
}

// Session is the authenticated SAT client for one RFC. Token refresh is
// serialized per session; SOAP calls run outside the lock.
type Session struct {
	rfc      string
	fiel     *sat.Fiel
	provider Provider
	tokenTTL time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	// lastUsed is read by the janitor without taking mu.
	lastUsed atomic.Int64

	mu          sync.Mutex
	token       string
	tokenIssued time.Time
}

func NewSession(rfc string, fiel *sat.Fiel, provider Provider, tokenTTL time.Duration, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Session{
		rfc:      rfc,
		fiel:     fiel,
		provider: provider,
		tokenTTL: tokenTTL,
		logger:   logger.WithField("rfc", rfc),
		now:      time.Now,
	}
	s.touch()
	return s
}

func (s *Session) RFC() string {
	return s.rfc
}

// Fingerprint identifies the certificate the session signs with.
func (s *Session) Fingerprint() string {
	return s.fiel.Fingerprint()
}

// LastUsed is when the session last served a request.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

// Authenticate obtains a fresh token. There is no retry.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.authenticateLocked(ctx)
	return err
}

func (s *Session) authenticateLocked(ctx context.Context) (string, error) {
	token, err := s.provider.Authenticate(ctx, s.fiel)
	if err != nil {
		s.token = ""
		return "", fmt.Errorf("authenticate %s: %w", s.rfc, err)
	}
	s.token = token
	s.tokenIssued = s.now()
	s.logger.Info("SAT token obtained")
	return token, nil
}

// currentToken reuses the cached token until it is older than the TTL.
func (s *Session) currentToken(ctx context.Context) (string, error) {
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Sub(s.tokenIssued) < s.tokenTTL {
		return s.token, nil
	}
	return s.authenticateLocked(ctx)
}

// BuildSolicitud maps a download request to SolicitaDescarga attributes.
// Issued requests always carry a status filter, defaulting to current;
// received requests never carry one.
func BuildSolicitud(req domain.DownloadRequest) sat.SolicitudParams {
	p := sat.SolicitudParams{
		Kind:         req.Kind,
		RequesterRFC: req.RFC,
		From:         startOfDay(req.From),
		To:           startOfDay(req.To),
		RequestType:  "CFDI",
	}
	if req.Kind == domain.KindReceived {
		p.ReceiverRFC = req.RFC
		return p
	}

	p.IssuerRFC = req.RFC
	p.DocumentStatus = string(domain.FilterCurrent)
	if req.Filter != domain.FilterUnspecified {
		p.DocumentStatus = string(req.Filter)
	}
	return p
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RequestDownload submits a download request for this session's RFC.
func (s *Session) RequestDownload(ctx context.Context, req domain.DownloadRequest) (*sat.Submission, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	req.RFC = s.rfc
	params := BuildSolicitud(req)
	s.logger.WithFields(logrus.Fields{
		"kind":   req.Kind,
		"from":   params.From.Format(sat.DateLayout),
		"to":     params.To.Format(sat.DateLayout),
		"estado": params.DocumentStatus,
	}).Info("requesting download")

	sub, err := s.provider.RequestDownload(ctx, token, s.fiel, params)
	if err != nil {
		return nil, fmt.Errorf("request download: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"id_solicitud": sub.RequestID,
		"cod_estatus":  sub.StatusCode,
	}).Info("download request answered")
	return sub, nil
}

// CheckStatus verifies a request. Packages are ready when Verification.Ready is true.
func (s *Session) CheckStatus(ctx context.Context, requestID string) (*sat.Verification, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	v, err := s.provider.Verify(ctx, token, s.fiel, s.rfc, requestID)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", requestID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"id_solicitud":     requestID,
		"estado_solicitud": v.RequestState,
		"paquetes":         len(v.PackageIDs),
	}).Info("request verified")
	return v, nil
}

// DownloadPackages fetches packages one after another. Packages that fail to
// download or decode are logged and skipped.
func (s *Session) DownloadPackages(ctx context.Context, packageIDs []string) ([]Package, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	packages := make([]Package, 0, len(packageIDs))
	for _, id := range packageIDs {
		if err := ctx.Err(); err != nil {
			return packages, err
		}
		log := s.logger.WithField("paquete", id)

		resp, err := s.provider.Download(ctx, token, s.fiel, s.rfc, id)
		if err != nil {
			log.WithError(err).Warn("package download failed, skipping")
			continue
		}
		if resp.Payload == "" {
			log.Warn("package without content, skipping")
			continue
		}
		data, err := base64.StdEncoding.DecodeString(resp.Payload)
		if err != nil {
			log.WithError(err).Warn("package is not valid base64, skipping")
			continue
		}
		log.WithField("bytes", len(data)).Info("package downloaded")
		packages = append(packages, Package{ID: id, Data: data})
	}
	return packages, nil
}
