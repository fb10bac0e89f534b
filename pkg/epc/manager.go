package epc

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sexpc/internal/logger"
	"github.com/marmos91/sexpc/pkg/deferred"
	"github.com/marmos91/sexpc/pkg/sexp"
)

// Wire event symbols.
const (
	eventCall        = sexp.Symbol("call")
	eventReturn      = sexp.Symbol("return")
	eventReturnError = sexp.Symbol("return-error")
	eventEPCError    = sexp.Symbol("epc-error")
	eventMethods     = sexp.Symbol("methods")
)

// syncPollInterval bounds how often a synchronous wait re-checks
// connection liveness while blocked on a reply.
const syncPollInterval = 150 * time.Millisecond

// stopGrace is how long Stop waits for pending socket output.
const stopGrace = 150 * time.Millisecond

// uidCounter issues call correlation ids, monotonically increasing for
// the life of the process and never recycled.
var uidCounter atomic.Uint64

func nextUID() uint64 {
	return uidCounter.Add(1)
}

// Task is a registered method body. It receives the call's argument list
// and returns either a concrete result (converted via sexp.FromGo), a
// *deferred.Deferred resolving to one, or an error.
type Task func(args sexp.List) (any, error)

// Method is a registered, remotely callable procedure.
type Method struct {
	Name      sexp.Symbol
	Task      Task
	ArgSpec   string
	Docstring string
}

// MethodDesc describes a peer's method as reported by a methods query.
type MethodDesc struct {
	Name      sexp.Symbol
	ArgSpec   string
	Docstring string
}

// MetricsRecorder lets callers observe manager activity. A nil recorder
// disables collection with zero overhead.
type MetricsRecorder interface {
	RecordCall(direction string)
	RecordCallError(kind string)
	ObserveCallDuration(seconds float64)
	SetPendingSessions(n int)
	SetActiveConnections(n int)
}

// session is a pending outbound call awaiting its correlated reply.
type session struct {
	d       *deferred.Deferred
	method  sexp.Symbol
	started time.Time
}

// Manager is the per-connection RPC endpoint: it holds the registered
// methods, the pending outbound sessions, and the bindings from wire
// events to their handlers.
type Manager struct {
	// Title is an optional human-readable name for logs.
	Title string

	conn *Connection

	// accepted is true for managers created by a server accept, false
	// for outbound connections.
	accepted bool

	mu        sync.Mutex
	methods   []*Method
	sessions  map[uint64]*session
	exitHooks []func()

	stopOnce sync.Once

	// serverProc is the child peer process when this manager was created
	// by StartProcess; Stop terminates it.
	serverProc *exec.Cmd

	metrics MetricsRecorder
}

// Connect dials an EPC peer and returns a live manager for the
// connection. The caller owns the manager and must Stop it.
func Connect(ctx context.Context, addr string) (*Manager, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("epc: connect %s: %w", addr, err)
	}
	return newManager(conn, false), nil
}

// newManager wraps an established socket in a manager, wires the message
// handlers, registers it live, and starts the socket pump.
func newManager(conn net.Conn, accepted bool) *Manager {
	m := &Manager{
		conn:     newConnection(conn),
		accepted: accepted,
		sessions: make(map[uint64]*session),
	}
	m.initEPCLayer()
	registerManager(m)
	go m.conn.serve()
	return m
}

// newAcceptedManager wires a manager for a server-accepted socket without
// starting the pump; the server starts it after the connect hook has run,
// so methods registered there are visible before the first dispatch.
func newAcceptedManager(conn net.Conn) *Manager {
	m := &Manager{
		conn:     newConnection(conn),
		accepted: true,
		sessions: make(map[uint64]*session),
	}
	m.initEPCLayer()
	registerManager(m)
	return m
}

// initEPCLayer binds the five wire events to their handlers on the
// connection's channel.
func (m *Manager) initEPCLayer() {
	ch := m.conn.channel
	ch.Connect(eventCall, m.handlerFunc(m.handleCall))
	ch.Connect(eventReturn, m.handlerFunc(m.handleReturn))
	ch.Connect(eventReturnError, m.handlerFunc(m.handleReturnError))
	ch.Connect(eventEPCError, m.handlerFunc(m.handleEPCError))
	ch.Connect(eventMethods, m.handlerFunc(m.handleMethodsQuery))
}

// handlerFunc adapts a message handler to a channel observer callback.
// Observers receive (event args); the handler gets the args.
func (m *Manager) handlerFunc(h func(args sexp.List)) deferred.Callback {
	return func(v any) (any, error) {
		msg, ok := v.(sexp.List)
		if !ok || len(msg) != 2 {
			return nil, fmt.Errorf("epc: malformed channel event %v", v)
		}
		args, err := sexp.AsList(msg[1])
		if err != nil {
			return nil, err
		}
		h(args)
		return nil, nil
	}
}

// SetMetrics installs a metrics recorder. Call before issuing traffic.
func (m *Manager) SetMetrics(rec MetricsRecorder) {
	m.metrics = rec
}

// Connection returns the underlying connection.
func (m *Manager) Connection() *Connection {
	return m.conn
}

// Live reports whether the manager's socket is still open.
func (m *Manager) Live() bool {
	return m.conn.Live()
}

// Accepted reports whether this manager serves a connection a server
// accepted, as opposed to one this process dialed.
func (m *Manager) Accepted() bool {
	return m.accepted
}

// Define registers a method, making it callable by the peer. The newest
// definition of a name wins: methods are prepended and looked up front to
// back.
func (m *Manager) Define(name sexp.Symbol, task Task, argSpec, docstring string) *Method {
	method := &Method{Name: name, Task: task, ArgSpec: argSpec, Docstring: docstring}
	m.mu.Lock()
	m.methods = append([]*Method{method}, m.methods...)
	m.mu.Unlock()
	return method
}

// lookupMethod finds a registered method by symbol name.
func (m *Manager) lookupMethod(name sexp.Symbol) *Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, method := range m.methods {
		if method.Name == name {
			return method
		}
	}
	return nil
}

// Call issues an asynchronous call to the peer. The returned deferred
// resolves with the reply value (a sexp.Value), or fails with an
// *ApplicationError, *ProtocolError, or local send error.
func (m *Manager) Call(method sexp.Symbol, args ...sexp.Value) *deferred.Deferred {
	uid := nextUID()
	d := deferred.New()

	m.mu.Lock()
	m.sessions[uid] = &session{d: d, method: method, started: time.Now()}
	pending := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordCall("outbound")
		m.metrics.SetPendingSessions(pending)
	}

	msg := sexp.List{eventCall, sexp.Int(uid), method, sexp.List(args)}
	if err := m.conn.Send(msg); err != nil {
		m.dropSession(uid)
		d.PostError(err)
		return d
	}

	m.conn.log.Debug("Call sent",
		logger.KeyUID, uid, logger.KeyMethod, string(method))
	return d
}

// CallSync issues a call and blocks until the reply arrives, the
// connection dies, or ctx is cancelled.
func (m *Manager) CallSync(ctx context.Context, method sexp.Symbol, args ...sexp.Value) (sexp.Value, error) {
	return m.Sync(ctx, m.Call(method, args...))
}

// QueryMethods asks the peer for its registered methods. The returned
// deferred resolves with the raw reply list.
func (m *Manager) QueryMethods() *deferred.Deferred {
	uid := nextUID()
	d := deferred.New()

	m.mu.Lock()
	m.sessions[uid] = &session{d: d, method: eventMethods, started: time.Now()}
	m.mu.Unlock()

	if err := m.conn.Send(sexp.List{eventMethods, sexp.Int(uid)}); err != nil {
		m.dropSession(uid)
		d.PostError(err)
	}
	return d
}

// QueryMethodsSync asks the peer for its methods and decodes the reply.
func (m *Manager) QueryMethodsSync(ctx context.Context) ([]MethodDesc, error) {
	v, err := m.Sync(ctx, m.QueryMethods())
	if err != nil {
		return nil, err
	}
	list, err := sexp.AsList(v)
	if err != nil {
		return nil, fmt.Errorf("epc: malformed methods reply: %w", err)
	}

	descs := make([]MethodDesc, 0, len(list))
	for _, item := range list {
		entry, err := sexp.AsList(item)
		if err != nil || len(entry) < 1 {
			return nil, fmt.Errorf("epc: malformed methods entry: %s", sexp.Print(item))
		}
		var desc MethodDesc
		if desc.Name, err = sexp.AsSymbol(entry[0]); err != nil {
			return nil, fmt.Errorf("epc: malformed methods entry: %w", err)
		}
		if len(entry) > 1 {
			if s, ok := entry[1].(sexp.String); ok {
				desc.ArgSpec = string(s)
			}
		}
		if len(entry) > 2 {
			if s, ok := entry[2].(sexp.String); ok {
				desc.Docstring = string(s)
			}
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// Sync blocks until d resolves and returns its outcome. While blocked it
// re-checks connection liveness every poll interval, so a dead peer does
// not hang the caller forever.
func (m *Manager) Sync(ctx context.Context, d *deferred.Deferred) (sexp.Value, error) {
	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)

	tail := d.Next(func(v any) (any, error) {
		done <- outcome{v: v}
		return v, nil
	})
	tail.NextErrorback(func(err error) (any, error) {
		done <- outcome{err: err}
		// Recover so the swallowed error is not logged as unhandled.
		return nil, nil
	})

	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			if out.v == nil {
				return sexp.Nil, nil
			}
			v, ok := out.v.(sexp.Value)
			if !ok {
				return nil, fmt.Errorf("epc: unexpected reply type %T", out.v)
			}
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if !m.Live() {
				// One last poll: the reply may have landed just before
				// the socket died.
				select {
				case out := <-done:
					if out.err != nil {
						return nil, out.err
					}
					if v, ok := out.v.(sexp.Value); ok {
						return v, nil
					}
					return sexp.Nil, nil
				default:
					return nil, ErrConnectionClosed
				}
			}
		}
	}
}

// OnStop registers a hook run exactly once when the manager stops.
func (m *Manager) OnStop(hook func()) {
	m.mu.Lock()
	m.exitHooks = append(m.exitHooks, hook)
	m.mu.Unlock()
}

// Stop tears the manager down: run exit hooks, wait briefly for pending
// socket output, close the connection, terminate a tracked child server
// process, and leave the live registry. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		hooks := make([]func(), len(m.exitHooks))
		copy(hooks, m.exitHooks)
		m.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}

		m.conn.closeGraceful(stopGrace)

		if m.serverProc != nil && m.serverProc.Process != nil {
			if err := m.serverProc.Process.Kill(); err != nil {
				m.conn.log.Debug("Error killing server process", logger.KeyError, err)
			}
			_ = m.serverProc.Wait()
		}

		unregisterManager(m)
		m.conn.log.Debug("Manager stopped")
	})
}

// dropSession removes a pending session, returning its record if present.
func (m *Manager) dropSession(uid uint64) *session {
	m.mu.Lock()
	s := m.sessions[uid]
	delete(m.sessions, uid)
	pending := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetPendingSessions(pending)
	}
	return s
}

// PendingSessions reports the number of outstanding outbound calls.
func (m *Manager) PendingSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
