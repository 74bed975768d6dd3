package artnet

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"ehub2artnet/logger"
)

// Node is an Art-Net device that answered a poll.
type Node struct {
	IP        net.IP    `json:"ip"`
	Port      uint16    `json:"port"`
	ShortName string    `json:"short_name"`
	LongName  string    `json:"long_name"`
	Universes []uint16  `json:"universes"`
	LastSeen  time.Time `json:"last_seen"`
}

// Scanner finds Art-Net nodes by broadcasting ArtPoll and collecting the
// replies. It backs the discover command; the serve path never polls.
type Scanner struct {
	conn   *net.UDPConn
	target *net.UDPAddr
	log    *logger.Log

	mu    sync.Mutex
	nodes map[string]*Node
}

// NewScanner binds the scan socket and resolves the poll target, normally
// the local broadcast address on port 6454. Nodes send ArtPollReply to the
// Art-Net port rather than the poll's source port, so listen must stay
// :6454 outside of tests.
func NewScanner(listen, target string, log *logger.Log) (*Scanner, error) {
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, err
	}

	taddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		conn:   conn,
		target: taddr,
		log:    log,
		nodes:  make(map[string]*Node),
	}, nil
}

// Run polls the network until ctx ends, then returns every node seen,
// ordered by address. Nodes answer each poll, so a longer ctx both waits
// out slow devices and refreshes LastSeen on fast ones.
func (s *Scanner) Run(ctx context.Context) ([]Node, error) {
	if err := s.poll(); err != nil {
		s.conn.Close()
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.conn.Close() // unblocks the pending read
				return
			case <-done:
				return
			case <-ticker.C:
				if err := s.poll(); err != nil {
					s.log.Errorf("poll: %v", err)
				}
			}
		}
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.conn.Close()
			if ctx.Err() != nil {
				return s.Nodes(), nil
			}
			return s.Nodes(), err
		}
		s.handleReply(src, buf[:n])
	}
}

func (s *Scanner) poll() error {
	_, err := s.conn.WriteToUDP(BuildPoll(), s.target)
	return err
}

func (s *Scanner) handleReply(src *net.UDPAddr, data []byte) {
	reply, err := ParsePollReply(data)
	if err != nil {
		// The Art-Net port carries polls (our own included) and DMX
		// chatter; only replies matter here.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := src.IP.String()
	node, seen := s.nodes[key]
	if !seen {
		// The reply names the node's control port; the UDP source port
		// may be ephemeral.
		node = &Node{IP: src.IP, Port: reply.Port}
		s.nodes[key] = node
	}

	node.ShortName = reply.ShortName
	node.LongName = reply.LongName
	node.LastSeen = time.Now()

	// Multi-port devices send one reply per group of four ports, so
	// universes accumulate across replies.
	before := len(node.Universes)
	for _, u := range reply.OutputUniverses() {
		if !containsUniverse(node.Universes, u) {
			node.Universes = append(node.Universes, u)
		}
	}

	if !seen || len(node.Universes) != before {
		s.log.With(logger.Fields{
			"ip":        key,
			"name":      node.ShortName,
			"universes": node.Universes,
		}).Info("node answered")
	}
}

func containsUniverse(list []uint16, u uint16) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}

// Nodes returns a copy of everything seen so far, ordered by address.
func (s *Scanner) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		n := *node
		n.Universes = append([]uint16(nil), node.Universes...)
		sort.Slice(n.Universes, func(i, j int) bool { return n.Universes[i] < n.Universes[j] })
		result = append(result, n)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].IP.String() < result[j].IP.String() })
	return result
}
