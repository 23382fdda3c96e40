package session

import (
	"context"
	"sync"
	"time"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/metrics"
)

// DefaultLeaseDuration matches the order of magnitude Chubby-style
// services use: long enough to ride out transient partitions, short
// enough that dead clients free their locks promptly.
const DefaultLeaseDuration = 30 * time.Second

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 1 * time.Second

// Config holds session manager tuning.
type Config struct {
	// LeaseDuration is the lease window renewed by each keepalive.
	LeaseDuration time.Duration

	// GraceMargin is added to the deadline on the sweep comparison, so
	// a keepalive that arrives just as the sweep fires still wins.
	GraceMargin time.Duration

	// SweepInterval is the expiry sweep period.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.GraceMargin < 0 {
		c.GraceMargin = 0
	}
}

// TeardownFunc runs the cleanup cascade for a session that has left
// CONNECTED: close handles (releasing locks and waking waiters), delete
// ephemeral nodes, discard the notification outbox. It is invoked
// synchronously, exactly once per session, after the state flip, so
// no concurrent operation can succeed against the session while the
// cascade runs.
type TeardownFunc func(s *Session, reason string)

// Manager owns all sessions.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[coord.SessionID]*Session

	ids      *coord.IDAllocator
	teardown TeardownFunc
	metrics  *metrics.SessionMetrics
}

// NewManager creates a session manager. Metrics may be nil.
func NewManager(cfg Config, m *metrics.SessionMetrics) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		sessions: make(map[coord.SessionID]*Session),
		ids:      coord.NewIDAllocator(),
		metrics:  m,
	}
}

// SetTeardown installs the cleanup cascade. Must be called before the
// manager serves requests; the master wires it during construction.
func (m *Manager) SetTeardown(fn TeardownFunc) {
	m.teardown = fn
}

// LeaseDuration returns the configured lease window.
func (m *Manager) LeaseDuration() time.Duration {
	return m.cfg.LeaseDuration
}

// Create allocates a new CONNECTED session with a fresh lease.
func (m *Manager) Create(remoteAddr string) *Session {
	now := time.Now()
	s := &Session{
		ID:            coord.SessionID(m.ids.Next()),
		RemoteAddr:    remoteAddr,
		CreatedAt:     now,
		state:         StateConnected,
		leaseDeadline: now.Add(m.cfg.LeaseDuration),
		lastRenewed:   now,
		handles:       make(map[coord.HandleID]struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.RecordCreated()
	logger.Info("session created",
		logger.KeySessionID, uint64(s.ID),
		logger.KeyRemoteAddr, remoteAddr)
	return s
}

// Get returns the session if it exists and is CONNECTED. Unknown,
// expired, and destroyed sessions all yield ErrSessionInvalid: the
// client's recovery is the same in every case (re-establish).
func (m *Manager) Get(id coord.SessionID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || !s.Alive() {
		return nil, coord.ErrSessionInvalid
	}
	return s, nil
}

// Keepalive refreshes the session's lease. Returns ErrSessionInvalid
// for unknown or dead sessions; it signals the client to create a
// fresh session.
func (m *Manager) Keepalive(id coord.SessionID) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || !s.Renew(m.cfg.LeaseDuration) {
		m.metrics.RecordKeepalive("expired")
		return coord.ErrSessionInvalid
	}
	m.metrics.RecordKeepalive("ok")
	return nil
}

// Destroy runs the explicit client-initiated teardown: the same cascade
// as lease expiry, without waiting for the lease to run out. Idempotent
// from the client's point of view: destroying a dead session returns
// ErrSessionInvalid, which the client treats as success.
func (m *Manager) Destroy(id coord.SessionID) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return coord.ErrSessionInvalid
	}
	if !s.transition(StateDestroyed) {
		return coord.ErrSessionInvalid
	}

	m.finish(s, "client_request")
	return nil
}

// ExpireCheck scans for sessions whose lease (plus grace margin) has
// lapsed, transitions them to EXPIRED, and runs the cascade
// synchronously before returning. Invoked by the sweep loop; exported
// so tests can drive expiry deterministically.
func (m *Manager) ExpireCheck(now time.Time) int {
	m.mu.RLock()
	candidates := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.expired(now, m.cfg.GraceMargin) {
			candidates = append(candidates, s)
		}
	}
	m.mu.RUnlock()

	expired := 0
	for _, s := range candidates {
		// expire re-checks the deadline and flips the state in one
		// critical section: a keepalive renewing between the scan and
		// here keeps the session CONNECTED.
		if !s.expire(now, m.cfg.GraceMargin) {
			continue
		}
		logger.Warn("session lease expired",
			logger.KeySessionID, uint64(s.ID),
			"deadline", s.Deadline())
		m.finish(s, "lease_expired")
		expired++
	}
	return expired
}

// finish runs the cascade and removes the session from the table.
func (m *Manager) finish(s *Session, reason string) {
	if m.teardown != nil {
		m.teardown(s, reason)
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	m.metrics.RecordDestroyed(reason, time.Since(s.CreatedAt))
	logger.Info("session destroyed",
		logger.KeySessionID, uint64(s.ID),
		"reason", reason)
}

// Run drives the periodic expiry sweep until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.ExpireCheck(now); n > 0 {
				logger.Debug("expiry sweep finished", logger.KeyCount, n)
			}
		}
	}
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Info is a read-only session snapshot for the admin API.
type Info struct {
	ID          coord.SessionID `json:"id"`
	RemoteAddr  string          `json:"remote_addr"`
	State       string          `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
	Deadline    time.Time       `json:"lease_deadline"`
	HandleCount int             `json:"handle_count"`
}

// Snapshot returns admin-API info for every tracked session.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			ID:          s.ID,
			RemoteAddr:  s.RemoteAddr,
			State:       s.State().String(),
			CreatedAt:   s.CreatedAt,
			Deadline:    s.Deadline(),
			HandleCount: s.HandleCount(),
		})
	}
	return out
}
