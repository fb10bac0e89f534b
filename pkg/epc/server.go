package epc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sexpc/internal/logger"
)

// ConnectFunc runs for every accepted peer, before the first message is
// dispatched. Register the connection's methods here.
type ConnectFunc func(*Manager)

// ServerConfig holds the listener configuration.
//
// The server binds loopback-only: the protocol carries no authentication,
// so exposure beyond the local host is not supported.
type ServerConfig struct {
	// BindAddress is the address to bind. Defaults to 127.0.0.1; binding
	// a non-loopback address is rejected.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. 0 requests an OS-assigned
	// ephemeral port; read it back with Port() once serving.
	Port int `mapstructure:"port" yaml:"port"`

	// MaxConnections limits concurrent peers. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// ShutdownTimeout is the maximum wait for live connections during
	// graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

func (c *ServerConfig) applyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "127.0.0.1"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *ServerConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	ip := net.ParseIP(c.BindAddress)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("bind address %q is not loopback", c.BindAddress)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	return nil
}

// Server accepts peer connections and pairs each with a fresh Manager.
// A protocol failure on one client tears down only that client; the
// listener keeps accepting.
type Server struct {
	config    ServerConfig
	onConnect ConnectFunc

	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed once the listener is bound. Tests use it to
	// synchronize with startup before reading Port().
	ListenerReady chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore bounds concurrent peers when MaxConnections > 0.
	connSemaphore chan struct{}

	// clients maps remote address to the live Manager for that peer.
	clients sync.Map

	metrics MetricsRecorder
}

// NewServer creates a stopped server. Call Serve to start accepting.
// Panics on an invalid configuration.
func NewServer(config ServerConfig, onConnect ConnectFunc) *Server {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid EPC server config: %v", err))
	}

	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}

	return &Server{
		config:        config,
		onConnect:     onConnect,
		ListenerReady: make(chan struct{}),
		shutdown:      make(chan struct{}),
		connSemaphore: sem,
	}
}

// SetMetrics installs a metrics recorder, propagated to every accepted
// manager. Call before Serve.
func (s *Server) SetMetrics(rec MetricsRecorder) {
	s.metrics = rec
}

// Serve binds the listener and accepts peers until ctx is cancelled or
// Stop is called. Returns nil on graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	listener, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("epc: listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("EPC server listening", logger.KeyPort, s.Port())

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting EPC connection", logger.KeyError, err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
			}
		}

		s.acceptPeer(tcpConn)
	}
}

// acceptPeer wires a manager for one accepted socket and starts serving
// it. The connect hook runs before the socket pump starts, so methods it
// registers are in place before the peer's first call is dispatched.
func (s *Server) acceptPeer(tcpConn net.Conn) {
	mgr := newAcceptedManager(tcpConn)
	if s.metrics != nil {
		mgr.SetMetrics(s.metrics)
	}

	addr := tcpConn.RemoteAddr().String()
	s.clients.Store(addr, mgr)
	s.activeConns.Add(1)
	count := s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.SetActiveConnections(int(count))
	}
	logger.Debug("EPC connection accepted", logger.KeyPeer, addr, "active", count)

	if s.onConnect != nil {
		if err := runConnectHook(s.onConnect, mgr); err != nil {
			logger.Warn("Connect hook failed, dropping client",
				logger.KeyPeer, addr, logger.KeyError, err)
			s.releasePeer(addr, mgr)
			return
		}
	}

	go func() {
		defer s.releasePeer(addr, mgr)
		mgr.conn.serve()
	}()
}

// runConnectHook runs the user hook under a fault boundary so one bad
// client setup cannot take down the accept loop.
func runConnectHook(hook ConnectFunc, mgr *Manager) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("connect hook panicked: %v", p)
		}
	}()
	hook(mgr)
	return nil
}

// releasePeer stops a client's manager and drops its bookkeeping.
func (s *Server) releasePeer(addr string, mgr *Manager) {
	mgr.Stop()
	s.clients.Delete(addr)
	s.activeConns.Done()
	count := s.connCount.Add(-1)
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
	if s.metrics != nil {
		s.metrics.SetActiveConnections(int(count))
	}
	logger.Debug("EPC connection closed", logger.KeyPeer, addr, "active", count)
}

// Port returns the bound TCP port. With a configured port of 0 this is
// the ephemeral port the OS assigned. Blocks until the listener is ready.
func (s *Server) Port() int {
	<-s.ListenerReady
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound listener address. Blocks until the listener is
// ready.
func (s *Server) Addr() string {
	<-s.ListenerReady
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount reports the number of live peers.
func (s *Server) ClientCount() int {
	return int(s.connCount.Load())
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing EPC listener", logger.KeyError, err)
			}
		}
		s.listenerMu.Unlock()

		// Stop every client manager; their read loops unblock on the
		// closed sockets and release themselves.
		s.clients.Range(func(_, value any) bool {
			if mgr, ok := value.(*Manager); ok {
				mgr.Stop()
			}
			return true
		})
	})
}

// gracefulShutdown waits for live connections, up to ShutdownTimeout.
func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("EPC server shut down")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		return fmt.Errorf("epc: shutdown timeout: %d connections still active", remaining)
	}
}

// Stop initiates shutdown. Safe to call multiple times and concurrently
// with Serve.
func (s *Server) Stop() {
	s.initiateShutdown()
}
