package discovery

import (
	"net"
	"sync"
	"time"
)

// Conn is the subset of *net.UDPConn used by the discovery server, so tests
// can run it without a real socket.
type Conn interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// ListenFunc opens a UDP socket.
type ListenFunc func(network string, laddr *net.UDPAddr) (Conn, error)

// ListenUDP opens a real UDP socket.
func ListenUDP(network string, laddr *net.UDPAddr) (Conn, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockPacket is one datagram returned by MockConn.
type MockPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockConn implements Conn for testing. Reads return Packets in order, then
// time out.
type MockConn struct {
	mu      sync.Mutex
	packets []MockPacket
	writes  []MockPacket
	closed  bool
	local   *net.UDPAddr
}

// NewMockConn returns a MockConn that delivers packets.
func NewMockConn(packets ...MockPacket) *MockConn {
	return &MockConn{
		packets: packets,
		local:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: Port},
	}
}

// ReadFromUDP returns the next packet or a timeout error.
func (m *MockConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if len(m.packets) == 0 {
		// Mimic a read deadline expiring.
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.packets[0]
	m.packets = m.packets[1:]
	return copy(b, pkt.Data), pkt.Addr, nil
}

// WriteToUDP records the datagram.
func (m *MockConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	m.writes = append(m.writes, MockPacket{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// Writes returns every datagram written so far.
func (m *MockConn) Writes() []MockPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPacket(nil), m.writes...)
}

// SetReadDeadline is a no-op.
func (m *MockConn) SetReadDeadline(time.Time) error { return nil }

// LocalAddr returns 127.0.0.1:1884.
func (m *MockConn) LocalAddr() net.Addr { return m.local }

// Close marks the connection closed.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
