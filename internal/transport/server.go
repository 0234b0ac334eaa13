package transport

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pleblottery/pleblottery/internal/sv2/noise"
)

// Default timing/limits, mirroring the teacher's DefaultConnectionManagerConfig
// constants but renamed to the spec's config keys.
const (
	DefaultMaxConnectionsPerIP = 100
	DefaultMaxTotalConnections = 100_000
	DefaultReapInterval        = 30 * time.Second
)

// ServerConfig configures the downstream mining listener.
type ServerConfig struct {
	ListenAddr          string
	StaticKey           *noise.KeyPair
	CertValidity        time.Duration
	InactivityLimit     time.Duration
	MaxConnectionsPerIP int
	MaxTotalConnections int
}

// Server accepts downstream miner connections, performs the Noise_NX
// handshake, and dispatches decoded SV2 frames to a Dispatcher. Connection
// bookkeeping (per-IP limits, idle reaping, total-connection cap) is
// adapted from internal/stratum/connection_manager.go's ConnectionManager,
// generalized to one shared map since this service's channel count is
// orders of magnitude smaller than the teacher's 100k-connection stratum
// pool.
type Server struct {
	config     ServerConfig
	dispatcher *Dispatcher

	mu          sync.RWMutex
	connections map[uint64]*Connection
	ipCounts    map[string]int

	nextClientID uint64

	listener net.Listener
	wg       sync.WaitGroup

	totalConnections    int64
	rejectedConnections int64
}

// NewServer wires a Server around the given dispatcher.
func NewServer(config ServerConfig, dispatcher *Dispatcher) *Server {
	if config.MaxConnectionsPerIP <= 0 {
		config.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}
	if config.MaxTotalConnections <= 0 {
		config.MaxTotalConnections = DefaultMaxTotalConnections
	}
	return &Server{
		config:       config,
		dispatcher:   dispatcher,
		connections:  make(map[uint64]*Connection),
		ipCounts:     make(map[string]int),
		nextClientID: 1,
	}
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	log.Printf("mining server listening on %s", s.config.ListenAddr)

	s.wg.Add(1)
	go s.reapIdleConnections(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				log.Printf("accept error: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close tears down every active connection.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connections {
		c.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ip := remoteIP(conn)
	if !s.admit(ip) {
		atomic.AddInt64(&s.rejectedConnections, 1)
		conn.Close()
		return
	}

	secure, err := s.handshake(conn)
	if err != nil {
		log.Printf("handshake with %s failed: %v", ip, err)
		s.release(ip)
		conn.Close()
		return
	}

	clientID := atomic.AddUint64(&s.nextClientID, 1)
	c := newConnection(clientID, conn, secure)

	s.mu.Lock()
	s.connections[clientID] = c
	s.mu.Unlock()
	atomic.AddInt64(&s.totalConnections, 1)

	// The client is registered with the coordinator once its SetupConnection
	// frame is parsed in Dispatch, not here: only then are its negotiated
	// flags known (spec §4.2 add_client takes flags as an argument).
	s.dispatcher.Register(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	s.readLoop(c)

	s.removeConnection(clientID, ip)
}

// handshake drives the responder side of Noise_NX_25519_ChaChaPoly_SHA256:
// read the initiator's ephemeral-key message, reply with our ephemeral and
// static keys, then split into send/recv ciphers.
func (s *Server) handshake(conn net.Conn) (*noise.SecureChannel, error) {
	hs, err := noise.NewResponderHandshake(s.config.StaticKey)
	if err != nil {
		return nil, err
	}

	msg1, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, err
	}
	if _, err := hs.ReadMessage(msg1); err != nil {
		return nil, err
	}

	reply, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, err
	}
	if err := writeLengthPrefixed(conn, reply); err != nil {
		return nil, err
	}

	send, recv, err := hs.Split()
	if err != nil {
		return nil, err
	}
	return noise.NewSecureChannel(send, recv), nil
}

func (s *Server) readLoop(c *Connection) {
	for {
		plaintext, err := c.readFrame()
		if err != nil {
			return
		}
		if s.config.InactivityLimit > 0 && c.idleSince() > s.config.InactivityLimit {
			return
		}
		s.dispatcher.Dispatch(c, plaintext)
	}
}

func (s *Server) removeConnection(clientID uint64, ip string) {
	s.mu.Lock()
	c, ok := s.connections[clientID]
	if ok {
		delete(s.connections, clientID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	c.Close()
	s.release(ip)
	s.dispatcher.Unregister(clientID)
	s.dispatcher.OnDisconnect(clientID)
}

func (s *Server) admit(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.connections) >= s.config.MaxTotalConnections {
		return false
	}
	if s.ipCounts[ip] >= s.config.MaxConnectionsPerIP {
		return false
	}
	s.ipCounts[ip]++
	return true
}

func (s *Server) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipCounts[ip]--
	if s.ipCounts[ip] <= 0 {
		delete(s.ipCounts, ip)
	}
}

func (s *Server) reapIdleConnections(ctx context.Context) {
	defer s.wg.Done()
	if s.config.InactivityLimit <= 0 {
		return
	}
	ticker := time.NewTicker(DefaultReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Server) reapOnce() {
	s.mu.RLock()
	var stale []uint64
	for id, c := range s.connections {
		if c.idleSince() > s.config.InactivityLimit {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.mu.RLock()
		c, ok := s.connections[id]
		ip := ""
		if ok {
			ip = c.RemoteIP
		}
		s.mu.RUnlock()
		if ok {
			s.removeConnection(id, ip)
		}
	}
}

// ActiveConnections returns the current connection count, for metrics.
func (s *Server) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
