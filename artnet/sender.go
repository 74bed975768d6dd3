package artnet

import (
	"fmt"
	"net"
	"strconv"
)

// Sender transmits ArtDMX packets to the controllers named by the routing
// table. One socket is created up front and reused for every send.
type Sender struct {
	conn *net.UDPConn
	// dests never changes after construction, so sends need no locking.
	dests map[uint16]*net.UDPAddr
}

// NewSender resolves the universe to controller table into socket
// addresses. Universes whose address does not parse are left without a
// destination; the dispatcher reports them per cycle instead of failing
// startup, matching the warning-not-error treatment of configuration
// problems.
func NewSender(universeIP map[uint16]string) (*Sender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}

	if err := conn.SetWriteBuffer(65536); err != nil {
		conn.Close()
		return nil, err
	}

	dests := make(map[uint16]*net.UDPAddr, len(universeIP))
	for universe, addr := range universeIP {
		dest, err := ResolveController(addr)
		if err != nil {
			continue
		}
		dests[universe] = dest
	}

	return &Sender{conn: conn, dests: dests}, nil
}

// ResolveController parses a controller address, either a bare IP using
// the standard Art-Net port or an explicit "ip:port".
func ResolveController(s string) (*net.UDPAddr, error) {
	if ip := net.ParseIP(s); ip != nil {
		return &net.UDPAddr{IP: ip, Port: Port}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("controller address %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("controller address %q: host is not an IP", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("controller address %q: %w", s, err)
	}

	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// HasDest reports whether universe resolved to a controller address.
func (s *Sender) HasDest(universe uint16) bool {
	_, ok := s.dests[universe]
	return ok
}

// Dest returns the resolved controller address for universe.
func (s *Sender) Dest(universe uint16) (*net.UDPAddr, bool) {
	dest, ok := s.dests[universe]
	return dest, ok
}

// SendDMX encodes and transmits one universe frame as a single datagram.
func (s *Sender) SendDMX(universe uint16, frame Frame) error {
	dest, ok := s.dests[universe]
	if !ok {
		return fmt.Errorf("%w %d", ErrNoDest, universe)
	}

	pkt := BuildDMXPacket(universe, frame)
	_, err := s.conn.WriteToUDP(pkt, dest)
	return err
}

// Close closes the sender socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
