package portmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
)

// maxRecordSize bounds a TCP record; portmap messages are tiny.
const maxRecordSize = 1 << 16

// ServerConfig configures a Server.
type ServerConfig struct {
	// Port to listen on for TCP and UDP; 111 is the well-known port.
	Port int

	Registry *Registry

	// IdleTimeout closes TCP connections that send nothing for this long.
	IdleTimeout time.Duration
}

// Server answers portmap calls on TCP (record marked) and UDP (one call
// per datagram).
type Server struct {
	config ServerConfig

	mu          sync.Mutex
	tcpListener net.Listener
	udpConn     net.PacketConn

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &Server{config: cfg, shutdown: make(chan struct{})}
}

// Registry returns the table the server answers from.
func (s *Server) Registry() *Registry {
	return s.config.Registry
}

// Listen binds both sockets. Serve calls it when it has not been called.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tcpListener != nil {
		return nil
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	// With port 0 the UDP socket follows the port TCP was given.
	udpAddr := fmt.Sprintf(":%d", tcp.Addr().(*net.TCPAddr).Port)
	udp, err := net.ListenPacket("udp", udpAddr)
	if err != nil {
		_ = tcp.Close()
		return fmt.Errorf("listen udp %s: %w", udpAddr, err)
	}

	s.tcpListener = tcp
	s.udpConn = udp
	return nil
}

// Serve blocks until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	logger.Info("Portmapper listening on %s (tcp, udp)", s.tcpListener.Addr())

	s.wg.Add(2)
	go s.serveTCP()
	go s.serveUDP()

	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.shutdown:
	}
	s.wg.Wait()
	return nil
}

// Stop closes both sockets. It is safe to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.tcpListener != nil {
			_ = s.tcpListener.Close()
		}
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
	})
}

// Addr returns the TCP address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// UDPAddr returns the UDP address, or "" before Listen.
func (s *Server) UDPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn == nil {
		return ""
	}
	return s.udpConn.LocalAddr().String()
}

func (s *Server) stopping() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Server) serveTCP() {
	defer s.wg.Done()

	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			if !s.stopping() {
				logger.Debug("Portmap: accept: %v", err)
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	clientAddr := conn.RemoteAddr().String()

	for !s.stopping() {
		if err := conn.SetDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
			return
		}

		message, err := rpc.ReadRecord(conn, maxRecordSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Portmap: read from %s: %v", clientAddr, err)
			}
			return
		}

		reply, err := HandleCall(s.config.Registry, message, clientAddr)
		if err != nil {
			logger.Debug("Portmap: %s: %v", clientAddr, err)
			return
		}
		if _, err := conn.Write(rpc.AddRecordMark(reply)); err != nil {
			logger.Debug("Portmap: write to %s: %v", clientAddr, err)
			return
		}
	}
}

func (s *Server) serveUDP() {
	defer s.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			if s.stopping() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Debug("Portmap: udp read: %v", err)
			continue
		}

		reply, err := HandleCall(s.config.Registry, buf[:n], addr.String())
		if err != nil {
			logger.Debug("Portmap: %s: %v", addr, err)
			continue
		}
		if _, err := s.udpConn.WriteTo(reply, addr); err != nil {
			logger.Debug("Portmap: write to %s: %v", addr, err)
		}
	}
}
