package ranging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sentinel errors for SessionRegistry operations.
var (
	ErrClientQuotaExceeded = errors.New("ranging: client session quota exceeded")
	ErrTotalQuotaExceeded  = errors.New("ranging: process-wide session quota exceeded")
	ErrSessionNotFound     = errors.New("ranging: session not found")
)

const (
	defaultMaxSessionsPerClient = 8
	defaultMaxTotalSessions     = 64
	defaultRegistryQueueDepth   = 128
)

// RegistryEvent tags a ClientEvent with the session and client it came from,
// for the Registry's aggregated fan-out channel.
type RegistryEvent struct {
	Handle   SessionHandle
	ClientID string
	Event    ClientEvent
}

// registryEntry holds one active session plus the bookkeeping the Registry
// needs to cancel and account for it.
type registryEntry struct {
	session  *Session
	clientID string
	cancel   context.CancelFunc
}

// RegistryOption configures optional SessionRegistry parameters.
type RegistryOption func(*SessionRegistry)

// WithRegistryMetrics attaches a MetricsSink shared by every session the
// registry creates.
func WithRegistryMetrics(m MetricsSink) RegistryOption {
	return func(r *SessionRegistry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRegistryLogger attaches a structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *SessionRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxSessionsPerClient overrides the default per-client quota (§4.7).
func WithMaxSessionsPerClient(n int) RegistryOption {
	return func(r *SessionRegistry) { r.maxPerClient = n }
}

// WithMaxTotalSessions overrides the default process-wide quota.
func WithMaxTotalSessions(n int) RegistryOption {
	return func(r *SessionRegistry) { r.maxTotal = n }
}

// WithSessionOptions supplies extra SessionOptions applied to every session
// the registry creates, after its own (metrics sink and logger).
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *SessionRegistry) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// SessionRegistry is the process-wide owner of every active Session (C8).
// It allocates handles, enforces per-client and process-wide quotas, and
// fans process lifecycle hints (foreground/background, client death) out to
// the sessions they concern, via a dual-indexed lookup, a decoupled shutdown
// context per owned session, and a raw-to-public notification dispatch stage.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[SessionHandle]*registryEntry
	byClient map[string]map[SessionHandle]struct{}

	nextHandle atomic.Uint64

	factory     AdapterFactory
	metrics     MetricsSink
	logger      *slog.Logger
	sessionOpts []SessionOption

	maxPerClient int
	maxTotal     int

	rawEvents    chan RegistryEvent
	publicEvents chan RegistryEvent

	dispatchDone chan struct{}
}

// NewSessionRegistry constructs a Registry. factory must be non-nil; it is
// shared, immutable, and handed to every Session created (§4.7 "Shared
// resources").
func NewSessionRegistry(factory AdapterFactory, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions:     make(map[SessionHandle]*registryEntry),
		byClient:     make(map[string]map[SessionHandle]struct{}),
		factory:      factory,
		metrics:      noopMetrics{},
		logger:       slog.Default(),
		maxPerClient: defaultMaxSessionsPerClient,
		maxTotal:     defaultMaxTotalSessions,
		rawEvents:    make(chan RegistryEvent, defaultRegistryQueueDepth),
		publicEvents: make(chan RegistryEvent, defaultRegistryQueueDepth),
		dispatchDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Events returns the aggregated, registry-wide stream of every session's
// lifecycle and data events. Callers should drain it continuously; a full
// buffer causes the newly arriving event to be dropped with a warning.
func (r *SessionRegistry) Events() <-chan RegistryEvent { return r.publicEvents }

// RunDispatch forwards rawEvents to publicEvents until ctx is cancelled. It
// must be running for Events() to receive anything.
func (r *SessionRegistry) RunDispatch(ctx context.Context) {
	defer close(r.dispatchDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.rawEvents:
			select {
			case r.publicEvents <- ev:
			default:
				r.logger.Warn("registry public event channel full, dropping event",
					slog.Uint64("handle", uint64(ev.Handle)),
					slog.String("client", ev.ClientID),
				)
			}
		}
	}
}

// CreateSession allocates a handle, constructs a Session for pref, and
// starts its serial execution goroutine with a context decoupled from ctx
// (context.WithoutCancel), so session lifetime outlives the request context
// that triggered creation — graceful process shutdown drains sessions
// explicitly rather than yanking them out from under a request context
// going away.
//
// death, if non-nil, is closed when the owning client disconnects or
// crashes; the registry treats that closure exactly like an explicit Stop
// call (§4.7, §9 Decisions).
func (r *SessionRegistry) CreateSession(
	ctx context.Context,
	clientID string,
	pref SessionPreference,
	death <-chan struct{},
) (*Session, error) {
	if err := r.checkQuota(clientID); err != nil {
		return nil, err
	}

	handle := SessionHandle(r.nextHandle.Add(1))
	sess, err := NewSession(handle, pref, r.factory, r.sessionOptsWith()...)
	if err != nil {
		return nil, fmt.Errorf("create session for client %q: %w", clientID, err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	if err := r.checkQuotaLocked(clientID); err != nil {
		r.mu.Unlock()
		cancel()
		return nil, err
	}
	entry := &registryEntry{session: sess, clientID: clientID, cancel: cancel}
	r.sessions[handle] = entry
	if r.byClient[clientID] == nil {
		r.byClient[clientID] = make(map[SessionHandle]struct{})
	}
	r.byClient[clientID][handle] = struct{}{}
	r.mu.Unlock()

	sess.Run(sessCtx)
	go r.forward(handle, clientID, sess)
	if death != nil {
		go r.watchDeath(handle, death)
	}

	r.logger.Info("session created",
		slog.Uint64("handle", uint64(handle)),
		slog.String("client", clientID),
	)

	return sess, nil
}

func (r *SessionRegistry) sessionOptsWith() []SessionOption {
	base := []SessionOption{WithMetrics(r.metrics), WithLogger(r.logger)}
	return append(base, r.sessionOpts...)
}

func (r *SessionRegistry) checkQuota(clientID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkQuotaLocked(clientID)
}

// checkQuotaLocked assumes the caller holds at least a read lock.
func (r *SessionRegistry) checkQuotaLocked(clientID string) error {
	if r.maxTotal > 0 && len(r.sessions) >= r.maxTotal {
		return fmt.Errorf("client %q: %w", clientID, ErrTotalQuotaExceeded)
	}
	if r.maxPerClient > 0 && len(r.byClient[clientID]) >= r.maxPerClient {
		return fmt.Errorf("client %q: %w", clientID, ErrClientQuotaExceeded)
	}
	return nil
}

// forward demultiplexes one session's private event channel onto the
// registry's shared rawEvents channel. Session closes its Events() channel
// as the last step of its run loop (any State), so this goroutine always
// terminates and always reaches the removal below.
func (r *SessionRegistry) forward(handle SessionHandle, clientID string, sess *Session) {
	for ev := range sess.Events() {
		select {
		case r.rawEvents <- RegistryEvent{Handle: handle, ClientID: clientID, Event: ev}:
		default:
			r.logger.Warn("registry raw event channel full, dropping event",
				slog.Uint64("handle", uint64(handle)))
		}
	}
	r.remove(handle)
}

// watchDeath stops the session gracefully the moment death closes.
func (r *SessionRegistry) watchDeath(handle SessionHandle, death <-chan struct{}) {
	<-death
	r.mu.RLock()
	entry, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.logger.Warn("client death detected, stopping owned session",
		slog.Uint64("handle", uint64(handle)), slog.String("client", entry.clientID))
	entry.session.Stop()
}

// DestroySession cancels the session's context, which drives it directly to
// Closed via the runLoop's ctx.Done() path regardless of FSM state — for an
// abrupt teardown distinct from the graceful Stop() path.
func (r *SessionRegistry) DestroySession(handle SessionHandle) error {
	r.mu.Lock()
	entry, ok := r.sessions[handle]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("destroy session %d: %w", handle, ErrSessionNotFound)
	}
	delete(r.sessions, handle)
	if set := r.byClient[entry.clientID]; set != nil {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byClient, entry.clientID)
		}
	}
	r.mu.Unlock()

	entry.cancel()

	r.logger.Info("session destroyed", slog.Uint64("handle", uint64(handle)))
	return nil
}

// remove deletes the bookkeeping entry for handle and cancels its context
// to release it (the session has already reached Closed on its own).
func (r *SessionRegistry) remove(handle SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[handle]
	if !ok {
		return
	}
	delete(r.sessions, handle)
	if set := r.byClient[entry.clientID]; set != nil {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byClient, entry.clientID)
		}
	}
	entry.cancel()
}

// Lookup returns the session for handle.
func (r *SessionRegistry) Lookup(handle SessionHandle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[handle]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// SessionsForClient returns the handles currently owned by clientID.
func (r *SessionRegistry) SessionsForClient(clientID string) []SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byClient[clientID]
	out := make([]SessionHandle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// Count returns the total number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BroadcastForeground fans AppForegroundChanged out to every active session
// (§4.7: the Registry "observes process foreground/background transitions
// and fans them out to sessions" — this is a process-wide signal, unlike
// the per-client session quota).
func (r *SessionRegistry) BroadcastForeground(fg bool) {
	r.mu.RLock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e.session)
	}
	r.mu.RUnlock()

	for _, sess := range entries {
		sess.AppForegroundChanged(fg)
	}
}

// BroadcastBackgroundTimeout fans AppBackgroundTimeout out to every active
// session.
func (r *SessionRegistry) BroadcastBackgroundTimeout() {
	r.mu.RLock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e.session)
	}
	r.mu.RUnlock()

	for _, sess := range entries {
		sess.AppBackgroundTimeout()
	}
}

// CloseAllForClient issues a graceful Stop to every session owned by
// clientID, for an explicit client disconnect RPC (when one exists above
// this in-process registry). The death-watch path stops its one session
// directly.
func (r *SessionRegistry) CloseAllForClient(clientID string) {
	for _, h := range r.SessionsForClient(clientID) {
		if sess, ok := r.Lookup(h); ok {
			sess.Stop()
		}
	}
}

// DrainAll issues a graceful Stop to every active session, used during
// process shutdown before Close cancels anything still outstanding.
func (r *SessionRegistry) DrainAll() {
	r.mu.RLock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e.session)
	}
	r.mu.RUnlock()

	for _, sess := range entries {
		sess.Stop()
	}

	r.logger.Info("all sessions draining", slog.Int("count", len(entries)))
}

// Close cancels every remaining session's context and clears the registry.
// Call after DrainAll has had a chance to let sessions stop gracefully.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.sessions {
		entry.cancel()
	}
	r.sessions = make(map[SessionHandle]*registryEntry)
	r.byClient = make(map[string]map[SessionHandle]struct{})

	r.logger.Info("session registry closed")
}
