package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskgate/internal/cache"
	"taskgate/internal/metrics"
	"taskgate/pkg/logging"
)

// Default manager settings.
const (
	DefaultMaxSessions     = 1000
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Config controls session capacity and lifetime.
type Config struct {
	// MaxSessions bounds the number of live sessions. When full, the least
	// recently used session is evicted to make room.
	MaxSessions int

	// IdleTimeout is how long a session may go without a request before the
	// sweep closes it. Sessions with an open push stream are not idle.
	IdleTimeout time.Duration

	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     DefaultMaxSessions,
		IdleTimeout:     DefaultIdleTimeout,
		SweepInterval:   DefaultSweepInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the function producing new session IDs.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// entry is one live session.
type entry struct {
	id        string
	transport Transport

	// mu serializes frames so each session sees one request at a time.
	mu           sync.Mutex
	lastActivity atomic.Int64 // unix nanoseconds

	// streams counts open push streams. A session with a listener is never
	// idle.
	streams atomic.Int32
}

func (e *entry) touch(now time.Time) {
	e.lastActivity.Store(now.UnixNano())
}

func (e *entry) idleSince(now time.Time) time.Duration {
	if e.streams.Load() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, e.lastActivity.Load()))
}

// Manager tracks the live sessions of the gateway. Sessions are created by
// an initialize request, looked up by ID on every later request and removed
// by explicit termination, transport self-close, the idle sweep, LRU
// eviction or Shutdown.
type Manager struct {
	config   Config
	factory  TransportFactory
	sessions *cache.LRU[string, *entry]
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	closing  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager that builds transports with factory. Zero
// config fields fall back to the defaults.
func NewManager(config Config, factory TransportFactory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	config = normalize(config)

	m := &Manager{
		config:  config,
		factory: factory,
		now:     time.Now,
		newID:   uuid.NewString,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	sessions, err := cache.New[string, *entry](config.MaxSessions, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.sessions = sessions
	return m, nil
}

func normalize(config Config) Config {
	defaults := DefaultConfig()
	if config.MaxSessions <= 0 {
		config.MaxSessions = defaults.MaxSessions
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return config
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Initialize creates a session for an initialize frame. The session is only
// stored when the transport accepts the frame; a JSON-RPC error answer
// closes the transport and is returned inside an InitializeError.
func (m *Manager) Initialize(ctx context.Context, frame json.RawMessage) (string, any, error) {
	if m.isClosing() {
		return "", nil, ErrShuttingDown
	}

	id := m.newID()
	transport, err := m.factory(id)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create transport: %w", err)
	}

	resp, err := safeHandle(ctx, transport, frame)
	if err != nil || isErrorResponse(resp) {
		m.closeTransport(id, transport)
		if err != nil {
			return "", nil, fmt.Errorf("initialize failed: %w", err)
		}
		return "", nil, &InitializeError{Response: resp}
	}

	e := &entry{id: id, transport: transport}
	e.touch(m.now())

	// Re-check under the lock so that Shutdown never misses a session.
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.closeTransport(id, transport)
		return "", nil, ErrShuttingDown
	}
	m.sessions.Set(id, e)
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Inc()
	go m.watch(e)

	logging.Info("Session", "Created session %s (%d live)", logging.TruncateSessionID(id), m.sessions.Len())
	return id, resp, nil
}

// Handle forwards a frame to an existing session. Frames for the same
// session are processed one at a time.
func (m *Manager) Handle(ctx context.Context, sessionID string, frame json.RawMessage) (any, error) {
	e, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resp, err := safeHandle(ctx, e.transport, frame)
	if err != nil {
		return nil, err
	}
	e.touch(m.now())
	return resp, nil
}

// Stream attaches the session's push stream to w. It blocks until the
// client goes away or the session closes.
func (m *Manager) Stream(ctx context.Context, sessionID string, w http.ResponseWriter, r *http.Request) error {
	e, ok := m.sessions.Get(sessionID)
	if !ok {
		return &SessionNotFoundError{SessionID: sessionID}
	}
	e.streams.Add(1)
	e.touch(m.now())
	defer func() {
		e.touch(m.now())
		e.streams.Add(-1)
	}()

	logging.Debug("Session", "Opened stream for session %s", logging.TruncateSessionID(sessionID))
	return e.transport.ServeStream(ctx, w, r)
}

// Terminate removes and closes a session. Close failures are logged, not
// returned.
func (m *Manager) Terminate(sessionID string) error {
	e, ok := m.sessions.Get(sessionID)
	if !ok || !m.sessions.Delete(sessionID) {
		return &SessionNotFoundError{SessionID: sessionID}
	}
	m.closeSession(e, metrics.ReasonTerminated)
	return nil
}

// Run sweeps idle sessions every SweepInterval until ctx is done or
// Shutdown is called.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				logging.Info("Session", "Closed %d idle session(s)", n)
			}
		}
	}
}

// sweep closes every session idle for longer than IdleTimeout and returns
// how many it removed.
func (m *Manager) sweep() int {
	now := m.now()
	removed := 0
	for _, e := range m.sessions.Values() {
		if e.idleSince(now) <= m.config.IdleTimeout {
			continue
		}
		if m.sessions.Delete(e.id) {
			m.closeSession(e, metrics.ReasonIdle)
			removed++
		}
	}
	return removed
}

// Shutdown stops accepting sessions and closes all live ones in parallel.
// It returns when every close finished or ShutdownTimeout elapsed,
// whichever comes first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.stop) })

	live := m.sessions.Values()
	logging.Info("Session", "Shutting down, closing %d session(s)", len(live))

	var wg sync.WaitGroup
	for _, e := range live {
		if !m.sessions.Delete(e.id) {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			m.closeSession(e, metrics.ReasonShutdown)
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		logging.Warn("Session", "Shutdown grace period of %s elapsed with sessions still closing", m.config.ShutdownTimeout)
		return fmt.Errorf("session shutdown timed out after %s: %w", m.config.ShutdownTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

// onEvict runs under the cache lock, so the close happens elsewhere.
func (m *Manager) onEvict(id string, e *entry) {
	logging.Warn("Session", "Evicting least recently used session %s (capacity %d)",
		logging.TruncateSessionID(id), m.config.MaxSessions)
	go m.closeSession(e, metrics.ReasonEvicted)
}

// watch removes a session whose transport closed on its own.
func (m *Manager) watch(e *entry) {
	<-e.transport.Done()
	if m.sessions.Delete(e.id) {
		metrics.ActiveSessions.Dec()
		metrics.SessionsClosed.WithLabelValues(metrics.ReasonClosed).Inc()
		logging.Info("Session", "Session %s closed by transport", logging.TruncateSessionID(e.id))
	}
}

// closeSession closes a session that has already left the cache.
func (m *Manager) closeSession(e *entry, reason string) {
	metrics.ActiveSessions.Dec()
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	m.closeTransport(e.id, e.transport)
	logging.Debug("Session", "Closed session %s (%s)", logging.TruncateSessionID(e.id), reason)
}

// closeTransport closes t, logging errors and panics instead of returning
// them.
func (m *Manager) closeTransport(id string, t Transport) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Session", "Transport close panicked for session %s: %v", logging.TruncateSessionID(id), r)
		}
	}()
	if err := t.Close(); err != nil {
		logging.Warn("Session", "Error closing transport for session %s: %v", logging.TruncateSessionID(id), err)
	}
}

// safeHandle converts a panicking transport into an error.
func safeHandle(ctx context.Context, t Transport, frame json.RawMessage) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked: %v", r)
		}
	}()
	return t.HandleMessage(ctx, frame)
}
