package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segment-viewer/backend/internal/flow"
	"github.com/segment-viewer/backend/internal/inference"
	"github.com/segment-viewer/backend/internal/metrics"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
	"github.com/segment-viewer/backend/internal/viewer"
	"go.uber.org/zap"
)

// MaxSessions limits concurrent sessions to prevent memory exhaustion
const MaxSessions = 64

// SessionMaxAge is how long an idle session is kept before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// Options configures a Manager. Zero values fall back to the package defaults.
type Options struct {
	MaxSessions int
	KeepAlive   time.Duration
}

// Manager handles the per-tab segmentation sessions.
type Manager struct {
	sessions map[string]*State
	mu       sync.RWMutex

	client inference.Client
	store  storage.Store
	logger *zap.Logger

	maxSessions int
	keepAlive   time.Duration
}

// State is one browser tab: its upload flow and its result viewer.
type State struct {
	ID           string
	Flow         *flow.Controller
	Viewer       *viewer.Viewer
	CreatedAt    time.Time
	LastAccessed time.Time

	unsubscribe func()
}

// NewManager creates a new session manager.
func NewManager(client inference.Client, store storage.Store, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = MaxSessions
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = SessionKeepAliveWindow
	}
	return &Manager{
		sessions:    make(map[string]*State),
		client:      client,
		store:       store,
		logger:      logger,
		maxSessions: opts.MaxSessions,
		keepAlive:   opts.KeepAlive,
	}
}

// Create starts a fresh session in the upload state.
func (m *Manager) Create() (*State, error) {
	m.evictIfNeeded()

	id := uuid.New().String()
	now := time.Now()
	state := &State{
		ID:           id,
		Flow:         flow.NewController(id, m.client, m.store, m.logger),
		Viewer:       viewer.New(m.store, m.logger.With(zap.String("session", id[:8]))),
		CreatedAt:    now,
		LastAccessed: now,
	}
	state.unsubscribe = state.Flow.Subscribe(bindViewer(state.Viewer))

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		state.unsubscribe()
		state.Flow.Close()
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.maxSessions)
	}
	m.sessions[id] = state
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session", id[:8]))
	return state, nil
}

// Get returns the session and marks it as accessed.
func (m *Manager) Get(id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	state.LastAccessed = time.Now()
	return state, nil
}

// Close ends a session and releases every handle it holds.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	state.close()
	m.logger.Info("session closed", zap.String("session", shortID(id)))
	return nil
}

// CloseAll ends every session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	states := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		states = append(states, s)
	}
	m.sessions = make(map[string]*State)
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, s := range states {
		s.close()
	}
}

// Len reports how many sessions are open.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions closes sessions idle for longer than maxAge. Sessions
// touched within the keep-alive window or still processing are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.keepAlive)

	m.mu.Lock()
	var expired []*State
	for id, state := range m.sessions {
		if state.Flow.State() == models.FlowStateProcessing {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			expired = append(expired, state)
			delete(m.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, state := range expired {
		state.close()
		m.logger.Info("cleaned up idle session",
			zap.String("session", shortID(state.ID)),
			zap.Duration("idle", now.Sub(state.LastAccessed).Round(time.Second)))
	}
	return len(expired)
}

// evictIfNeeded frees a slot by closing the least recently used idle session
// when at capacity.
func (m *Manager) evictIfNeeded() {
	m.mu.Lock()
	if len(m.sessions) < m.maxSessions {
		m.mu.Unlock()
		return
	}

	candidates := make([]*State, 0, len(m.sessions))
	for _, state := range m.sessions {
		if state.Flow.State() != models.FlowStateProcessing {
			candidates = append(candidates, state)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	var evicted []*State
	for _, state := range candidates {
		if len(evicted) >= toFree {
			break
		}
		delete(m.sessions, state.ID)
		evicted = append(evicted, state)
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, state := range evicted {
		state.close()
		m.logger.Info("evicted session to free capacity", zap.String("session", shortID(state.ID)))
	}
}

func (s *State) close() {
	s.Flow.Close()
	s.Viewer.Unbind()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// bindViewer keeps the viewer showing the current result: bound on entering
// results, unbound on leaving.
func bindViewer(v *viewer.Viewer) flow.Listener {
	return func(ev flow.Event) {
		switch {
		case ev.To == models.FlowStateResults && ev.From != models.FlowStateResults:
			if src, ok := sourcesFor(ev.Snapshot); ok {
				v.Bind(src)
			}
		case ev.From == models.FlowStateResults && ev.To != models.FlowStateResults:
			v.Unbind()
		}
	}
}

// sourcesFor picks the endpoint's original when it returned one, otherwise
// the uploaded file's preview.
func sourcesFor(snap models.FlowSnapshot) (viewer.Sources, bool) {
	r := snap.Result
	if r == nil {
		return viewer.Sources{}, false
	}
	src := viewer.Sources{
		MaskID:    r.Mask.ID,
		Classes:   r.Classes,
		Width:     r.Width,
		Height:    r.Height,
		ImageName: r.ImageName,
	}
	switch {
	case r.Original != nil:
		src.OriginalID = r.Original.ID
	case snap.File != nil && snap.File.Preview != nil:
		src.OriginalID = snap.File.Preview.ID
	default:
		return viewer.Sources{}, false
	}
	return src, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
