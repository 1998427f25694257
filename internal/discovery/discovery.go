// Package discovery lets the app find an insole broker on the local network.
// A client broadcasts "search" to UDP port 1884; the host running the broker
// answers "found" to the sender.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Port is the UDP discovery port.
	Port = 1884
	// Request is the datagram a client sends.
	Request = "search"
	// Response is the datagram the server answers with.
	Response = "found"
)

// ErrNoResponse is returned by Probe when nobody answered in time.
var ErrNoResponse = errors.New("no discovery response")

// pollInterval bounds each blocking read so cancellation is noticed.
const pollInterval = 100 * time.Millisecond

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on, ":1884" when empty.
	Address string
	// Listen opens the socket, ListenUDP when nil.
	Listen ListenFunc
}

// Server answers discovery requests.
type Server struct {
	address string
	listen  ListenFunc

	mu    sync.Mutex
	conn  Conn
	ready chan struct{}

	answered atomic.Uint64
	ignored  atomic.Uint64
}

// NewServer returns a server. Call Start to listen.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", Port)
	}
	if cfg.Listen == nil {
		cfg.Listen = ListenUDP
	}
	return &Server{
		address: cfg.Address,
		listen:  cfg.Listen,
		ready:   make(chan struct{}),
	}
}

// Start listens and answers requests until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := s.listen("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)

	log.Printf("[discovery] listening on %s", conn.LocalAddr())

	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			log.Print("[discovery] stopping")
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("[discovery] read error: %v", err)
			continue
		}
		s.handle(conn, buf[:n], from)
	}
}

func (s *Server) handle(conn Conn, data []byte, from *net.UDPAddr) {
	if string(data) != Request {
		s.ignored.Add(1)
		log.Printf("[discovery] ignoring %q from %v", data, from)
		return
	}
	if _, err := conn.WriteToUDP([]byte(Response), from); err != nil {
		log.Printf("[discovery] failed to answer %v: %v", from, err)
		return
	}
	s.answered.Add(1)
	log.Printf("[discovery] answered %v", from)
}

// Ready is closed once the socket is open.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Start has opened the socket.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stats returns the number of answered and ignored datagrams.
func (s *Server) Stats() (answered, ignored uint64) {
	return s.answered.Load(), s.ignored.Load()
}

// BroadcastAddr is the IPv4 limited broadcast address on port.
func BroadcastAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}

// Probe sends Request to target and waits up to timeout for Response. It
// returns the address of the first responder. Go enables SO_BROADCAST on
// IPv4 datagram sockets, so target may be a broadcast address.
func Probe(ctx context.Context, target *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open probe socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(Request), target); err != nil {
		return nil, fmt.Errorf("failed to send discovery request to %v: %w", target, err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoResponse
		}
		conn.SetReadDeadline(time.Now().Add(min(remaining, pollInterval)))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("discovery read: %w", err)
		}
		if string(buf[:n]) == Response {
			return from, nil
		}
	}
}

// Locate finds the broker host: it probes the broadcast address for timeout
// and returns the responder's host. When nobody answers it calls startLocal
// and returns "localhost".
func Locate(ctx context.Context, timeout time.Duration, startLocal func() error) (string, error) {
	return LocateAt(ctx, BroadcastAddr(Port), timeout, startLocal)
}

// LocateAt is Locate probing target instead of the broadcast address.
func LocateAt(ctx context.Context, target *net.UDPAddr, timeout time.Duration, startLocal func() error) (string, error) {
	from, err := Probe(ctx, target, timeout)
	if err == nil {
		log.Printf("[discovery] found broker at %s", from.IP)
		return from.IP.String(), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if !errors.Is(err, ErrNoResponse) {
		log.Printf("[discovery] probe failed: %v", err)
	}
	log.Print("[discovery] no broker found, starting one locally")
	if startLocal != nil {
		if err := startLocal(); err != nil {
			return "", fmt.Errorf("failed to start local broker: %w", err)
		}
	}
	return "localhost", nil
}
