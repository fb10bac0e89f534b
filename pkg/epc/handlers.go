package epc

import (
	"fmt"

	"github.com/marmos91/sexpc/internal/logger"
	"github.com/marmos91/sexpc/pkg/deferred"
	"github.com/marmos91/sexpc/pkg/sexp"
)

// handleCall dispatches an inbound (call uid method arglist) message to
// the method registry and sends back exactly one of return, return-error,
// or epc-error. A message without a usable uid or method symbol is logged
// and dropped with no reply.
func (m *Manager) handleCall(args sexp.List) {
	if len(args) < 3 {
		m.conn.log.Warn("Malformed call message", "args", sexp.Print(args))
		return
	}
	uid, err := sexp.AsInt(args[0])
	if err != nil {
		m.conn.log.Warn("Call with non-integer uid", "args", sexp.Print(args))
		return
	}
	name, err := sexp.AsSymbol(args[1])
	if err != nil {
		m.conn.log.Warn("Call with non-symbol method", "args", sexp.Print(args))
		return
	}
	callArgs, err := sexp.AsList(args[2])
	if err != nil {
		m.sendEPCError(uid, fmt.Sprintf("EPC-ERROR: Bad argument list : %s", sexp.Print(args[2])))
		return
	}

	if m.metrics != nil {
		m.metrics.RecordCall("inbound")
	}

	method := m.lookupMethod(name)
	if method == nil {
		m.conn.log.Warn("Unknown method called",
			logger.KeyUID, int64(uid), logger.KeyMethod, string(name))
		m.sendEPCError(uid, fmt.Sprintf("EPC-ERROR: No such method : %s", name))
		return
	}

	result, err := invokeTask(method.Task, callArgs)
	if err != nil {
		m.sendTaskError(uid, name, callArgs, err)
		return
	}

	// An asynchronous task hands back a deferred; the reply is sent when
	// it resolves. A failure later in that chain also routes back as
	// return-error rather than vanishing.
	if d, ok := result.(*deferred.Deferred); ok && d != nil {
		tail := d.Next(func(v any) (any, error) {
			m.sendReturn(uid, name, v)
			return nil, nil
		})
		tail.NextErrorback(func(err error) (any, error) {
			m.sendTaskError(uid, name, callArgs, err)
			return nil, nil
		})
		return
	}

	m.sendReturn(uid, name, result)
}

// invokeTask runs a method body under a fault boundary.
func invokeTask(task Task, args sexp.List) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = perr
				return
			}
			err = fmt.Errorf("%v", p)
		}
	}()
	return task(args)
}

// sendReturn converts a task result and sends (return uid value).
func (m *Manager) sendReturn(uid sexp.Int, name sexp.Symbol, result any) {
	value, err := sexp.FromGo(result)
	if err != nil {
		m.sendTaskError(uid, name, sexp.Nil, err)
		return
	}
	if serr := m.conn.Send(sexp.List{eventReturn, uid, value}); serr != nil {
		m.conn.log.Warn("Failed to send return",
			logger.KeyUID, int64(uid), logger.KeyError, serr)
	}
}

// sendTaskError reports a task failure as (return-error uid message).
func (m *Manager) sendTaskError(uid sexp.Int, name sexp.Symbol, args sexp.List, err error) {
	if m.metrics != nil {
		m.metrics.RecordCallError("application")
	}
	msg := fmt.Sprintf("FAILED in %s: %s with ERROR: %q", name, sexp.Print(args), err.Error())
	if serr := m.conn.Send(sexp.List{eventReturnError, uid, sexp.String(msg)}); serr != nil {
		m.conn.log.Warn("Failed to send return-error",
			logger.KeyUID, int64(uid), logger.KeyError, serr)
	}
}

// sendEPCError reports a protocol failure as (epc-error uid message).
func (m *Manager) sendEPCError(uid sexp.Int, msg string) {
	if m.metrics != nil {
		m.metrics.RecordCallError("protocol")
	}
	if serr := m.conn.Send(sexp.List{eventEPCError, uid, sexp.String(msg)}); serr != nil {
		m.conn.log.Warn("Failed to send epc-error",
			logger.KeyUID, int64(uid), logger.KeyError, serr)
	}
}

// handleReturn resolves the pending session matching (return uid value).
func (m *Manager) handleReturn(args sexp.List) {
	uid, rest, ok := m.replyUID(args, "return")
	if !ok {
		return
	}
	s := m.dropSession(uid)
	if s == nil {
		m.conn.log.Warn("Spurious return, no such session", logger.KeyUID, uid)
		return
	}

	var value sexp.Value = sexp.Nil
	if len(rest) > 0 {
		value = rest[0]
	}
	m.conn.log.Debug("Reply received",
		logger.KeyUID, uid, logger.KeyMethod, string(s.method))
	m.observeRoundTrip(s)
	s.d.Callback(value)
}

// handleReturnError fails the pending session with the peer's rendering
// of the task failure.
func (m *Manager) handleReturnError(args sexp.List) {
	uid, rest, ok := m.replyUID(args, "return-error")
	if !ok {
		return
	}
	s := m.dropSession(uid)
	if s == nil {
		m.conn.log.Warn("Spurious return-error, no such session", logger.KeyUID, uid)
		return
	}

	m.observeRoundTrip(s)
	s.d.Errorback(&ApplicationError{Message: renderErrorPayload(rest)})
}

// handleEPCError fails the pending session with a tagged protocol error.
func (m *Manager) handleEPCError(args sexp.List) {
	uid, rest, ok := m.replyUID(args, "epc-error")
	if !ok {
		return
	}
	s := m.dropSession(uid)
	if s == nil {
		m.conn.log.Warn("Spurious epc-error, no such session", logger.KeyUID, uid)
		return
	}

	m.observeRoundTrip(s)
	s.d.Errorback(&ProtocolError{Message: renderErrorPayload(rest)})
}

// renderErrorPayload stringifies a reply's error payload: a wire string
// passes through, anything else is printed.
func renderErrorPayload(rest sexp.List) string {
	if len(rest) == 0 {
		return "unknown error"
	}
	if s, ok := rest[0].(sexp.String); ok {
		return string(s)
	}
	return sexp.Print(rest[0])
}

// replyUID validates a reply message and extracts its uid.
func (m *Manager) replyUID(args sexp.List, kind string) (uint64, sexp.List, bool) {
	if len(args) < 1 {
		m.conn.log.Warn("Malformed reply", logger.KeyEvent, kind, "args", sexp.Print(args))
		return 0, nil, false
	}
	uid, err := sexp.AsInt(args[0])
	if err != nil {
		m.conn.log.Warn("Reply with non-integer uid", logger.KeyEvent, kind, "args", sexp.Print(args))
		return 0, nil, false
	}
	return uint64(uid), sexp.List(args[1:]), true
}

func (m *Manager) observeRoundTrip(s *session) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveCallDuration(logger.Duration(s.started) / 1000.0)
}

// handleMethodsQuery answers (methods uid) with
// (return uid ((name argspec docstring) …)).
func (m *Manager) handleMethodsQuery(args sexp.List) {
	if len(args) < 1 {
		m.conn.log.Warn("Malformed methods query", "args", sexp.Print(args))
		return
	}
	uid, err := sexp.AsInt(args[0])
	if err != nil {
		m.conn.log.Warn("Methods query with non-integer uid", "args", sexp.Print(args))
		return
	}

	m.mu.Lock()
	entries := make(sexp.List, 0, len(m.methods))
	for _, method := range m.methods {
		entry := sexp.List{method.Name, specOrNil(method.ArgSpec), specOrNil(method.Docstring)}
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	if serr := m.conn.Send(sexp.List{eventReturn, uid, entries}); serr != nil {
		m.conn.log.Warn("Failed to answer methods query",
			logger.KeyUID, int64(uid), logger.KeyError, serr)
	}
}

func specOrNil(s string) sexp.Value {
	if s == "" {
		return sexp.Nil
	}
	return sexp.String(s)
}
