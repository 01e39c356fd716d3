package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/sat/sattest"
)

func newTestManager(p Provider) *manager {
	if p == nil {
		p = &fakeProvider{}
	}
	return NewManager(Config{Logger: quietLogger(), IdleTimeout: time.Minute}, p).(*manager)
}

func generateFiel(t *testing.T, rfc string) *sat.Fiel {
	t.Helper()

	m := sattest.GenerateFiel(t, rfc, "clave")
	fiel, err := sat.LoadFiel(m.Cert, m.Key, m.Passphrase)
	require.NoError(t, err)
	return fiel
}

func TestManager_AcquireReusesSameCertificate(t *testing.T) {
	m := newTestManager(nil)
	fiel := generateFiel(t, "AAA010101AAA")

	first := m.Acquire("AAA010101AAA", fiel)
	second := m.Acquire("AAA010101AAA", fiel)
	assert.Same(t, first, second)
	assert.Equal(t, 1, m.size())

	got, ok := m.Get("AAA010101AAA", fiel.Fingerprint())
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestManager_AcquireOtherCertificateReplaces(t *testing.T) {
	m := newTestManager(nil)
	owner := generateFiel(t, "AAA010101AAA")
	other := generateFiel(t, "AAA010101AAA")

	first := m.Acquire("AAA010101AAA", owner)
	second := m.Acquire("AAA010101AAA", other)
	assert.NotSame(t, first, second)
	assert.Equal(t, other.Fingerprint(), second.Fingerprint())

	_, ok := m.Get("AAA010101AAA", owner.Fingerprint())
	assert.False(t, ok)
	got, ok := m.Get("AAA010101AAA", other.Fingerprint())
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestManager_GetRequiresMatchingFingerprint(t *testing.T) {
	m := newTestManager(nil)
	fiel := generateFiel(t, "AAA010101AAA")
	m.Replace("AAA010101AAA", fiel)

	_, ok := m.Get("AAA010101AAA", sat.CertificateFingerprint([]byte("otro certificado")))
	assert.False(t, ok)
	_, ok = m.Get("BBB010101BBB", fiel.Fingerprint())
	assert.False(t, ok)
}

func TestManager_ReplaceSwapsSession(t *testing.T) {
	m := newTestManager(nil)
	fiel := generateFiel(t, "AAA010101AAA")

	first := m.Replace("AAA010101AAA", fiel)
	second := m.Replace("AAA010101AAA", fiel)
	assert.NotSame(t, first, second)

	got, ok := m.Get("AAA010101AAA", fiel.Fingerprint())
	require.True(t, ok)
	assert.Same(t, second, got)

	m.Evict("AAA010101AAA")
	_, ok = m.Get("AAA010101AAA", fiel.Fingerprint())
	assert.False(t, ok)
	assert.Equal(t, 0, m.size())
}

func TestManager_EvictIdle(t *testing.T) {
	m := newTestManager(nil)
	m.Replace("AAA010101AAA", &sat.Fiel{})
	m.Replace("BBB010101BBB", &sat.Fiel{})

	assert.Equal(t, 0, m.evictIdle(time.Now()))
	assert.Equal(t, 2, m.evictIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, m.size())
}

// blockingProvider holds Authenticate until release is closed.
type blockingProvider struct {
	fakeProvider
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Authenticate(ctx context.Context, f *sat.Fiel) (string, error) {
	close(b.entered)
	<-b.release
	return b.fakeProvider.Authenticate(ctx, f)
}

func TestManager_EvictIdleDoesNotWaitOnAuthentication(t *testing.T) {
	p := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(p)
	slow := m.Replace("AAA010101AAA", &sat.Fiel{})
	other := generateFiel(t, "BBB010101BBB")
	m.Replace("BBB010101BBB", other)

	authDone := make(chan error, 1)
	go func() { authDone <- slow.Authenticate(context.Background()) }()
	<-p.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.evictIdle(time.Now())
		_, ok := m.Get("BBB010101BBB", other.Fingerprint())
		assert.True(t, ok)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager blocked behind an authenticating session")
	}

	close(p.release)
	require.NoError(t, <-authDone)
}

func TestManager_StartShutdown(t *testing.T) {
	m := NewManager(Config{Logger: quietLogger(), JanitorInterval: time.Millisecond, IdleTimeout: time.Nanosecond}, &fakeProvider{}).(*manager)
	require.NoError(t, m.Start(context.Background()))
	m.Replace("AAA010101AAA", &sat.Fiel{})

	assert.Eventually(t, func() bool { return m.size() == 0 }, time.Second, 5*time.Millisecond)
	m.Shutdown()
}
