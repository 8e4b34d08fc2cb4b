// Package tracker gives the shutdown sequencer a reliable count of
// connections that must drain before shutdown can complete, and enforces
// graceful behaviour on in-flight traffic once shutdown starts.
//
// The tracker never calls a platform clock or mutates phase state directly;
// it only answers "how many connections are still active" and reacts to the
// three events a hosted server emits: a new connection, a request beginning,
// and a connection closing. The HTTP adapter (internal/server) is
// responsible for wiring those events in from the transport.
package tracker

import (
	"net"
	"sync"
)

// DestroyFunc forcibly closes a connection. It must be safe to call more
// than once; the tracker does not track whether a destroy has already run.
type DestroyFunc func()

// TrackedServer abstracts the hosted server enough for ForceClose to stop
// accepting new connections.
type TrackedServer interface {
	// Listening reports whether the server is currently accepting
	// connections.
	Listening() bool
	// Close stops the server from accepting further connections.
	Close() error
}

// ExceptionSink receives diagnostic errors the tracker cannot otherwise
// surface (a request arriving with no known connection record, for
// instance). A nil sink passed to New discards these; internal/server
// supplies one that logs through its zap logger.
type ExceptionSink func(context string, err error)

// Record is the side table entry for one connection: the portable
// restatement of the original design's socket-attached mutable fields.
type Record struct {
	ID            uint64
	Idle          bool
	IsHealthCheck bool
	destroy       DestroyFunc
}

// ServerTracker is the per-server registry of live connections.
type ServerTracker struct {
	mu              sync.Mutex
	server          TrackedServer
	healthCheckURLs map[string]struct{}
	connsByID       map[uint64]*Record
	idByConn        map[net.Conn]uint64
	nextID          uint64
	isShuttingDown  bool
	onException     ExceptionSink
}

// New creates a ServerTracker for server, treating any request whose URL is
// in healthCheckURLs as a health check.
func New(server TrackedServer, healthCheckURLs []string, onException ExceptionSink) *ServerTracker {
	set := make(map[string]struct{}, len(healthCheckURLs))
	for _, p := range healthCheckURLs {
		set[p] = struct{}{}
	}
	if onException == nil {
		onException = func(string, error) {}
	}
	return &ServerTracker{
		server:          server,
		healthCheckURLs: set,
		connsByID:       make(map[uint64]*Record),
		idByConn:        make(map[net.Conn]uint64),
		onException:     onException,
	}
}

// OnConnection registers a newly accepted connection and returns its opaque
// id. Calling OnConnection again for a conn that already has a record is a
// no-op that returns the existing id (idempotent per spec).
func (t *ServerTracker) OnConnection(conn net.Conn, destroy DestroyFunc) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.idByConn[conn]; ok {
		return id
	}

	t.nextID++
	id := t.nextID
	t.connsByID[id] = &Record{ID: id, Idle: true, destroy: destroy}
	t.idByConn[conn] = id
	return id
}

// OnClose removes a connection's record. Safe to call for an unknown or
// already-removed conn.
func (t *ServerTracker) OnClose(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(conn)
}

func (t *ServerTracker) removeLocked(conn net.Conn) {
	id, ok := t.idByConn[conn]
	if !ok {
		return
	}
	delete(t.idByConn, conn)
	delete(t.connsByID, id)
}

// RequestDecision is the tracker's answer to a request-begin event.
type RequestDecision struct {
	// Reject is true when the caller must respond 503 "Closing" with a
	// hop-close directive and destroy the connection once the response has
	// flushed.
	Reject bool
}

// OnRequestBegin marks the connection active (or health-check) and decides
// whether shutdown requires rejecting the request. destroy is used only if
// the connection has no existing record (spec: "creating one if somehow
// absent").
func (t *ServerTracker) OnRequestBegin(conn net.Conn, url string, destroy DestroyFunc) RequestDecision {
	t.mu.Lock()

	id, ok := t.idByConn[conn]
	var rec *Record
	if !ok {
		if destroy == nil {
			t.mu.Unlock()
			t.onException("tracker: request begin on unregistered connection with no destroy capability", errNoRecord)
			return RequestDecision{}
		}
		t.onException("tracker: request begin on unregistered connection, registering", errNoRecord)
		t.nextID++
		id = t.nextID
		rec = &Record{ID: id, destroy: destroy}
		t.connsByID[id] = rec
		t.idByConn[conn] = id
	} else {
		rec = t.connsByID[id]
	}

	_, isHealthCheck := t.healthCheckURLs[url]
	rec.IsHealthCheck = isHealthCheck

	if t.isShuttingDown && !isHealthCheck {
		t.removeLocked(conn)
		t.mu.Unlock()
		return RequestDecision{Reject: true}
	}

	rec.Idle = false
	t.mu.Unlock()
	return RequestDecision{}
}

// OnRequestFinish marks the connection idle again. If shutdown is already in
// progress, the connection is destroyed immediately to deny keepalive reuse.
func (t *ServerTracker) OnRequestFinish(conn net.Conn) {
	t.mu.Lock()
	id, ok := t.idByConn[conn]
	if !ok {
		t.mu.Unlock()
		return
	}
	rec := t.connsByID[id]
	rec.Idle = true
	shuttingDown := t.isShuttingDown
	destroy := rec.destroy
	t.mu.Unlock()

	if shuttingDown && destroy != nil {
		destroy()
	}
}

// RequestShutdown begins Phase 2 behaviour for this tracker: idle
// connections are destroyed immediately; active connections are left to
// finish and will be destroyed on their next response-finish event.
func (t *ServerTracker) RequestShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isShuttingDown = true

	for conn, id := range t.idByConn {
		rec := t.connsByID[id]
		if rec.Idle {
			if rec.destroy != nil {
				rec.destroy()
			}
			delete(t.idByConn, conn)
			delete(t.connsByID, id)
		}
	}
}

// ForceClose is Phase 3's hard stop: it marks the tracker as shutting down,
// stops the server from accepting new connections if still listening,
// destroys every remaining connection unconditionally, and clears the
// mapping. Errors from Close/destroy are not returned; callers do not rely
// on their success. It returns how many destroyed connections were not
// idle — sockets cut off by the drain deadline rather than closed
// voluntarily, for ForceCloseTotal.
func (t *ServerTracker) ForceClose() int {
	t.mu.Lock()
	t.isShuttingDown = true

	if t.server != nil && t.server.Listening() {
		_ = t.server.Close()
	}

	forced := 0
	for conn, id := range t.idByConn {
		rec := t.connsByID[id]
		if !rec.Idle {
			forced++
		}
		if rec.destroy != nil {
			rec.destroy()
		}
		delete(t.idByConn, conn)
		delete(t.connsByID, id)
	}
	t.mu.Unlock()
	return forced
}

// StateCounts reports the current connection breakdown by state
// (idle/active/health-check), for the connections gauge.
func (t *ServerTracker) StateCounts() (idle, active, healthCheck int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.connsByID {
		switch {
		case rec.IsHealthCheck:
			healthCheck++
		case rec.Idle:
			idle++
		default:
			active++
		}
	}
	return idle, active, healthCheck
}

// IsShuttingDown reports whether RequestShutdown or ForceClose has run.
func (t *ServerTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isShuttingDown
}

// ConnectionCount is the number of tracked connections.
func (t *ServerTracker) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connsByID)
}

// ActiveConnectionCount counts connections that are neither idle nor
// currently serving a health-check request.
func (t *ServerTracker) ActiveConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.connsByID {
		if !rec.Idle && !rec.IsHealthCheck {
			n++
		}
	}
	return n
}

// Listening reports the hosted server's listening state, used by the probe
// evaluator.
func (t *ServerTracker) Listening() bool {
	if t.server == nil {
		return true
	}
	return t.server.Listening()
}

var errNoRecord = noRecordError{}

type noRecordError struct{}

func (noRecordError) Error() string { return "connection has no tracker record" }
