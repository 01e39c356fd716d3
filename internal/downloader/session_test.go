package downloader

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/sat"
)

type fakeProvider struct {
	mu        sync.Mutex
	authCalls int
	authErr   error
	requests  []sat.SolicitudParams
	tokens    []string

	submission   *sat.Submission
	verification *sat.Verification
	packages     map[string]string
}

func (f *fakeProvider) Authenticate(_ context.Context, _ *sat.Fiel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "token-" + string(rune('0'+f.authCalls)), nil
}

func (f *fakeProvider) RequestDownload(_ context.Context, token string, _ *sat.Fiel, p sat.SolicitudParams) (*sat.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, p)
	f.tokens = append(f.tokens, token)
	if f.submission != nil {
		return f.submission, nil
	}
	return &sat.Submission{RequestID: "req-1", StatusCode: "5000", Message: "Solicitud Aceptada"}, nil
}

func (f *fakeProvider) Verify(_ context.Context, _ string, _ *sat.Fiel, _, _ string) (*sat.Verification, error) {
	if f.verification != nil {
		return f.verification, nil
	}
	return &sat.Verification{StatusCode: "5000", RequestState: "2"}, nil
}

func (f *fakeProvider) Download(_ context.Context, _ string, _ *sat.Fiel, _, packageID string) (*sat.PackageResponse, error) {
	payload, ok := f.packages[packageID]
	if !ok {
		return nil, errors.New("boom")
	}
	return &sat.PackageResponse{StatusCode: "5000", Payload: payload}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestSession(p Provider) *Session {
	return NewSession("AAA010101AAA", &sat.Fiel{}, p, time.Minute, quietLogger())
}

func TestBuildSolicitud_ReceivedNeverFilters(t *testing.T) {
	for _, filter := range []domain.StatusFilter{domain.FilterUnspecified, domain.FilterCurrent, domain.FilterCancelled} {
		p := BuildSolicitud(domain.DownloadRequest{
			RFC:    "AAA010101AAA",
			Kind:   domain.KindReceived,
			From:   time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
			To:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			Filter: filter,
		})
		assert.Empty(t, p.DocumentStatus, "filter %q", filter)
		assert.Empty(t, p.IssuerRFC)
		assert.Equal(t, "AAA010101AAA", p.ReceiverRFC)
		assert.Equal(t, "2024-01-01T00:00:00", p.From.Format(sat.DateLayout))
	}
}

func TestBuildSolicitud_IssuedDefaultsToCurrent(t *testing.T) {
	p := BuildSolicitud(domain.DownloadRequest{RFC: "AAA010101AAA", Kind: domain.KindIssued})
	assert.Equal(t, "1", p.DocumentStatus)
	assert.Equal(t, "AAA010101AAA", p.IssuerRFC)
	assert.Empty(t, p.ReceiverRFC)

	p = BuildSolicitud(domain.DownloadRequest{RFC: "AAA010101AAA", Kind: domain.KindIssued, Filter: domain.FilterCancelled})
	assert.Equal(t, "0", p.DocumentStatus)
}

func TestSession_ReusesTokenUntilTTL(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSession(p)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	req := domain.DownloadRequest{Kind: domain.KindIssued}
	_, err := s.RequestDownload(ctx, req)
	require.NoError(t, err)
	_, err = s.RequestDownload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, p.authCalls)

	now = now.Add(2 * time.Minute)
	_, err = s.RequestDownload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, p.authCalls)
	assert.Equal(t, []string{"token-1", "token-1", "token-2"}, p.tokens)
	assert.Equal(t, "AAA010101AAA", p.requests[0].RequesterRFC)
}

func TestSession_AuthenticateFailsClosed(t *testing.T) {
	p := &fakeProvider{authErr: errors.New("invalid security")}
	s := newTestSession(p)

	_, err := s.RequestDownload(context.Background(), domain.DownloadRequest{Kind: domain.KindIssued})
	require.Error(t, err)
	assert.Equal(t, 1, p.authCalls)
	assert.Empty(t, p.requests)
}

func TestSession_DownloadPackagesSkipsFailures(t *testing.T) {
	p := &fakeProvider{
		packages: map[string]string{
			"A": base64.StdEncoding.EncodeToString([]byte("zip-a")),
			"C": "%%%not-base64",
			"D": base64.StdEncoding.EncodeToString([]byte("zip-d")),
		},
	}
	s := newTestSession(p)

	packages, err := s.DownloadPackages(context.Background(), []string{"A", "B", "C", "D"})
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "A", packages[0].ID)
	assert.Equal(t, []byte("zip-a"), packages[0].Data)
	assert.Equal(t, "D", packages[1].ID)
}

func TestSession_DownloadPackagesStopsOnCancel(t *testing.T) {
	p := &fakeProvider{packages: map[string]string{"A": base64.StdEncoding.EncodeToString([]byte("zip-a"))}}
	s := newTestSession(p)
	require.NoError(t, s.Authenticate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	packages, err := s.DownloadPackages(ctx, []string{"A"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, packages)
}

func TestSession_CheckStatus(t *testing.T) {
	p := &fakeProvider{verification: &sat.Verification{RequestState: "2"}}
	s := newTestSession(p)

	v, err := s.CheckStatus(context.Background(), "req-1")
	require.NoError(t, err)
	assert.False(t, v.Ready())

	p.verification = &sat.Verification{RequestState: sat.RequestStateFinished, PackageIDs: []string{"A"}}
	v, err = s.CheckStatus(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, v.Ready())
	assert.Equal(t, 1, p.authCalls)
}
