package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfsd/internal/logger"
	nfsproto "github.com/marmos91/nfsd/internal/protocol/nfs"
	"github.com/marmos91/nfsd/internal/protocol/portmap"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
	"github.com/marmos91/nfsd/pkg/metrics"
	"github.com/marmos91/nfsd/pkg/session"
)

// NFSAdapter serves the NFS and MOUNT programs over UDP and TCP on one port.
//
// Architecture:
// A single UDP socket and a TCP listener feed decoded RPC messages into a
// shared WorkerPool. Workers run each call through the Dispatcher and write
// the reply back on the transport it came from. UDP datagrams are dropped
// when the queue is full (the client retransmits); TCP connections block.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listeners closed (no new datagrams or connections)
//  3. Wait for TCP connections to finish (up to ShutdownTimeout), then
//     force-close the rest
//  4. Stop the worker pool after the queued calls have run
//  5. Unregister from the portmapper
//
// In-flight procedures are not cancelled: their context is detached from
// the server's so a half-applied WRITE or RENAME is never abandoned.
type NFSAdapter struct {
	config NFSConfig

	dispatcher *nfsproto.Dispatcher
	sessions   *session.Manager
	metrics    metrics.NFSMetrics
	pool       *WorkerPool

	// portmap, when set, gets NFS and MOUNT registered for both transports
	// while the adapter is serving.
	portmap *portmap.Registry

	mu       sync.Mutex
	listener net.Listener
	udpConn  net.PacketConn
	port     int
	ready    chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	activeConns       sync.WaitGroup
	connCount         atomic.Int32
	connSemaphore     chan struct{}
	activeConnections sync.Map
}

// TimeoutsConfig bounds TCP connection I/O. Zero disables a timeout.
type TimeoutsConfig struct {
	// Read is the maximum time to read one RPC record once it has started.
	Read time.Duration `mapstructure:"read" validate:"min=0"`

	// Write is the maximum time to write one reply.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle closes a connection that sends nothing for this long.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`
}

// NFSConfig holds the transport configuration.
//
// Default values (applied by New if zero):
//   - Port: 2049
//   - UDP and TCP: both, when neither is set
//   - Workers: 8
//   - QueueSize: 50
//   - MaxRecordSize: 1MiB + 4KiB (a full READ/WRITE plus headers)
//   - Timeouts: read 30s, write 30s, idle 5m
//   - ShutdownTimeout: 30s
type NFSConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	UDP bool `mapstructure:"udp"`
	TCP bool `mapstructure:"tcp"`

	// Workers is the number of goroutines running procedures.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// QueueSize bounds the calls waiting for a worker.
	QueueSize int `mapstructure:"queue_size" validate:"min=0"`

	// MaxConnections limits concurrent TCP connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxRecordSize refuses larger TCP records.
	MaxRecordSize uint32 `mapstructure:"max_record_size"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	// ShutdownTimeout is how long Serve waits for TCP connections to finish
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval logs a one-line load summary. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

const (
	DefaultPort          = 2049
	DefaultWorkers       = 8
	DefaultQueueSize     = 50
	DefaultMaxRecordSize = 1<<20 + 4096
)

func (c *NFSConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if !c.UDP && !c.TCP {
		c.UDP, c.TCP = true, true
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *NFSConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid Workers %d: must be >= 0", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid QueueSize %d: must be >= 0", c.QueueSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.Timeouts.Read < 0 || c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts %+v: must be >= 0", c.Timeouts)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be >= 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a stopped adapter. A negative Port binds an ephemeral port,
// which tests use. nfsMetrics may be nil.
//
// Panics if config validation fails.
func New(config NFSConfig, dispatcher *nfsproto.Dispatcher, sessions *session.Manager, nfsMetrics metrics.NFSMetrics) *NFSAdapter {
	ephemeral := config.Port < 0
	config.applyDefaults()
	if ephemeral {
		config.Port = 0
	}

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid NFS config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("NFS connection limit: %d", config.MaxConnections)
	}

	if nfsMetrics == nil {
		nfsMetrics = metrics.NoopNFSMetrics{}
	}

	return &NFSAdapter{
		config:        config,
		dispatcher:    dispatcher,
		sessions:      sessions,
		metrics:       nfsMetrics,
		pool:          NewWorkerPool(config.Workers, config.QueueSize),
		port:          config.Port,
		ready:         make(chan struct{}),
		shutdown:      make(chan struct{}),
		connSemaphore: connSemaphore,
	}
}

// SetPortmap makes the adapter register itself in reg while serving. It
// must be called before Serve.
func (s *NFSAdapter) SetPortmap(reg *portmap.Registry) {
	s.portmap = reg
}

// Ready is closed once the listeners are bound.
func (s *NFSAdapter) Ready() <-chan struct{} {
	return s.ready
}

func (s *NFSAdapter) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.config.Port
	if s.config.TCP {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to create NFS TCP listener on port %d: %w", port, err)
		}
		s.listener = l
		port = l.Addr().(*net.TCPAddr).Port
	}
	if s.config.UDP {
		c, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
		if err != nil {
			if s.listener != nil {
				_ = s.listener.Close()
			}
			return fmt.Errorf("failed to create NFS UDP socket on port %d: %w", port, err)
		}
		s.udpConn = c
		port = c.LocalAddr().(*net.UDPAddr).Port
	}
	s.port = port
	return nil
}

// Serve binds the listeners and blocks until ctx is cancelled or Stop is
// called.
func (s *NFSAdapter) Serve(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}
	close(s.ready)

	logger.Info("NFS server listening on port %d (udp=%v tcp=%v workers=%d queue=%d)",
		s.port, s.config.UDP, s.config.TCP, s.config.Workers, s.config.QueueSize)

	s.register()
	defer s.unregister()

	// Requests outlive shutdown of the listeners.
	requestCtx := context.WithoutCancel(ctx)

	s.pool.Start()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("NFS shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics()
	}

	// A transport that fails takes the other one down with it.
	g := new(errgroup.Group)
	run := func(serve func(context.Context) error) func() error {
		return func() error {
			err := serve(requestCtx)
			if err != nil {
				s.initiateShutdown()
			}
			return err
		}
	}
	if s.listener != nil {
		g.Go(run(s.serveTCP))
	}
	if s.udpConn != nil {
		g.Go(run(s.serveUDP))
	}
	serveErr := g.Wait()

	shutdownErr := s.gracefulShutdown()
	s.pool.Stop()
	logger.Info("NFS server stopped")

	return errors.Join(serveErr, shutdownErr)
}

func (s *NFSAdapter) register() {
	if s.portmap == nil {
		return
	}
	port := uint32(s.port)
	for _, prog := range []uint32{rpc.ProgramNFS, rpc.ProgramMount} {
		s.portmap.Unset(prog, nfsproto.ProgramVersion)
		if s.config.TCP {
			s.portmap.Set(portmap.Mapping{Prog: prog, Vers: nfsproto.ProgramVersion, Prot: portmap.ProtoTCP, Port: port})
		}
		if s.config.UDP {
			s.portmap.Set(portmap.Mapping{Prog: prog, Vers: nfsproto.ProgramVersion, Prot: portmap.ProtoUDP, Port: port})
		}
	}
	logger.Debug("NFS and MOUNT registered with the portmapper on port %d", port)
}

func (s *NFSAdapter) unregister() {
	if s.portmap == nil {
		return
	}
	s.portmap.Unset(rpc.ProgramNFS, nfsproto.ProgramVersion)
	s.portmap.Unset(rpc.ProgramMount, nfsproto.ProgramVersion)
}

// serveTCP accepts connections until the listener is closed.
func (s *NFSAdapter) serveTCP(ctx context.Context) error {
	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("NFS listener closed: %w", err)
			}
			logger.Debug("Error accepting NFS connection: %v", err)
			continue
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)
		addr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(addr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("NFS connection accepted from %s (active: %d)", addr, current)

		conn := NewNFSConnection(s, tcpConn)
		go func() {
			defer func() {
				s.activeConnections.Delete(addr)
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("NFS connection closed from %s (active: %d)", addr, current)
				s.activeConns.Done()
			}()
			conn.Serve(ctx)
		}()
	}
}

// serveUDP reads datagrams until the socket is closed. Each datagram is
// one call; the reply goes back to the sender without record marking.
func (s *NFSAdapter) serveUDP(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("NFS UDP socket closed: %w", err)
			}
			logger.Debug("NFS UDP read error: %v", err)
			continue
		}

		message := make([]byte, n)
		copy(message, buf[:n])
		s.metrics.RecordBytesTransferred("in", int64(n))

		client := nfsproto.Client{Protocol: "udp", Addr: addr.String()}
		queued := s.pool.TrySubmit(func() {
			reply := s.process(ctx, message, client)
			if reply == nil {
				return
			}
			if _, err := s.udpConn.WriteTo(reply, addr); err != nil {
				logger.Debug("NFS UDP write to %s: %v", client.Addr, err)
				return
			}
			s.metrics.RecordBytesTransferred("out", int64(len(reply)))
		})
		if !queued {
			s.metrics.RecordDroppedPacket()
			logger.Debug("NFS UDP queue full: dropped %d bytes from %s", n, client.Addr)
		}
	}
}

// process turns one RPC message into its reply. A nil reply means the
// message was not a call worth answering.
func (s *NFSAdapter) process(ctx context.Context, message []byte, client nfsproto.Client) []byte {
	call, err := rpc.ReadCall(message)
	if err != nil {
		logger.Debug("Error parsing RPC call from %s: %v", client.Addr, err)
		return nil
	}

	logger.Debug("RPC Call: XID=0x%x Program=%d Version=%d Procedure=%d client=%s",
		call.XID, call.Program, call.Version, call.Procedure, client.Addr)

	var reply []byte
	switch {
	case call.RPCVersion != rpc.RPCVersion:
		reply, err = rpc.MakeRPCMismatchReply(call.XID)
	default:
		data, dataErr := rpc.ReadData(message, call)
		if dataErr != nil {
			logger.Debug("Error extracting procedure data from %s: %v", client.Addr, dataErr)
			reply, err = rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
			break
		}
		reply, err = s.dispatcher.HandleCall(ctx, call, data, client)
	}
	if err != nil {
		logger.Warn("No reply for XID=0x%x from %s: %v", call.XID, client.Addr, err)
		return nil
	}
	return reply
}

// initiateShutdown closes the listeners. Safe to call more than once.
func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("NFS shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing NFS listener: %v", err)
			}
		}
		if s.udpConn != nil {
			if err := s.udpConn.Close(); err != nil {
				logger.Debug("Error closing NFS UDP socket: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for TCP connections to finish, up to
// ShutdownTimeout, then force-closes the rest.
func (s *NFSAdapter) gracefulShutdown() error {
	active := s.connCount.Load()
	if active > 0 {
		logger.Info("NFS graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
			active, s.config.ShutdownTimeout)
	}

	select {
	case <-s.connectionsDone():
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		s.activeConns.Wait()
		return fmt.Errorf("NFS shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *NFSAdapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

func (s *NFSAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed %d connection(s)", closed)
	}
}

// Stop initiates shutdown and waits for the active TCP connections, or
// until ctx is done.
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.connectionsDone():
		return nil
	case <-ctx.Done():
		logger.Warn("NFS shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

func (s *NFSAdapter) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("NFS metrics: active_connections=%d sessions=%d queued=%d",
				s.connCount.Load(), s.sessions.Count(), s.pool.Pending())
		}
	}
}

// GetActiveConnections returns the number of open TCP connections.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port once listening, else the configured one.
func (s *NFSAdapter) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *NFSAdapter) Protocol() string {
	return "NFS"
}
