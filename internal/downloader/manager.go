package downloader

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cfdi-descargas/internal/sat"
)

// Manager caches one SAT session per RFC and evicts idle ones. A cached
// session is only handed out to callers presenting the same certificate.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	// Get returns the session for rfc when it signs with the certificate identified by fingerprint.
	Get(rfc, fingerprint string) (*Session, bool)
	// Acquire reuses the cached session when it was built from the same certificate as fiel
	// and installs a new one otherwise.
	Acquire(rfc string, fiel *sat.Fiel) *Session
	// Replace installs a fresh session built from fiel, dropping any cached token.
	Replace(rfc string, fiel *sat.Fiel) *Session
	Evict(rfc string)
}

type Config struct {
	TokenTTL        time.Duration
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
	Logger          *logrus.Logger
}

type manager struct {
	cfg      Config
	provider Provider

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*sessionHandle
}

// sessionHandle serializes session swaps for one RFC.
type sessionHandle struct {
	mu      sync.Mutex
	session *Session
}

func (h *sessionHandle) current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func NewManager(cfg Config, provider Provider) Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 270 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:      cfg,
		provider: provider,
		active:   make(map[string]*sessionHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if n := m.evictIdle(time.Now()); n > 0 {
					m.cfg.Logger.WithField("activas", m.size()).Infof("evicted %d idle SAT sessions", n)
				}
			}
		}
	}()

	m.cfg.Logger.Infof("SAT session manager started, idle timeout: %s", m.cfg.IdleTimeout)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.WithField("activas", m.size()).Info("SAT session manager stopped")
}

func (m *manager) Get(rfc, fingerprint string) (*Session, bool) {
	m.mu.Lock()
	handle, ok := m.active[rfc]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	session := handle.current()
	if session == nil || session.Fingerprint() != fingerprint {
		return nil, false
	}
	return session, true
}

func (m *manager) Acquire(rfc string, fiel *sat.Fiel) *Session {
	handle := m.handle(rfc)

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.session != nil && handle.session.Fingerprint() == fiel.Fingerprint() {
		return handle.session
	}

	log := m.cfg.Logger.WithField("rfc", rfc)
	if handle.session != nil {
		log.Info("SAT session certificate changed, replacing")
	}
	handle.session = m.newSession(rfc, fiel)
	log.Info("SAT session created")
	return handle.session
}

func (m *manager) Replace(rfc string, fiel *sat.Fiel) *Session {
	handle := m.handle(rfc)

	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.session = m.newSession(rfc, fiel)
	m.cfg.Logger.WithField("rfc", rfc).Info("SAT session replaced")
	return handle.session
}

func (m *manager) Evict(rfc string) {
	m.mu.Lock()
	_, ok := m.active[rfc]
	delete(m.active, rfc)
	m.mu.Unlock()
	if ok {
		m.cfg.Logger.WithField("rfc", rfc).Info("SAT session evicted")
	}
}

func (m *manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *manager) handle(rfc string) *sessionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.active[rfc]
	if !ok {
		handle = &sessionHandle{}
		m.active[rfc] = handle
	}
	return handle
}

func (m *manager) newSession(rfc string, fiel *sat.Fiel) *Session {
	return NewSession(rfc, fiel, m.provider, m.cfg.TokenTTL, m.cfg.Logger)
}

// evictIdle drops sessions unused for longer than the idle timeout. The map
// lock is never held while a session is inspected.
func (m *manager) evictIdle(now time.Time) int {
	m.mu.Lock()
	handles := maps.Clone(m.active)
	m.mu.Unlock()

	evicted := 0
	for rfc, handle := range handles {
		session := handle.current()
		if session != nil && now.Sub(session.LastUsed()) <= m.cfg.IdleTimeout {
			continue
		}

		m.mu.Lock()
		removed := m.active[rfc] == handle
		if removed {
			delete(m.active, rfc)
			evicted++
		}
		m.mu.Unlock()
		if removed {
			m.cfg.Logger.WithField("rfc", rfc).Debug("evicted idle SAT session")
		}
	}
	return evicted
}

var _ Manager = (*manager)(nil)
