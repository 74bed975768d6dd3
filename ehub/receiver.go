package ehub

import (
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"ehub2artnet/logger"
)

// Datagrams carrying a full wall update run to tens of kilobytes even
// compressed, so read with the largest buffer UDP can deliver.
const readBufferSize = 64 * 1024

// MessageHandler is called for each decoded message.
type MessageHandler interface {
	HandleUpdate(src *net.UDPAddr, msg *UpdateMessage)
	HandleConfig(src *net.UDPAddr, msg *ConfigMessage)
}

// ReceiverStats is a point-in-time copy of the receive counters.
type ReceiverStats struct {
	Packets uint64 `json:"packets"`
	Updates uint64 `json:"updates"`
	Configs uint64 `json:"configs"`
	Dropped uint64 `json:"dropped"`
}

// Receiver listens for eHuB datagrams and feeds decoded messages to a
// handler. One malformed datagram never stops the loop; drops are counted
// and logged at a bounded rate.
type Receiver struct {
	conn    *net.UDPConn
	handler MessageHandler
	log     *logger.Log
	errLog  *rate.Limiter
	done    chan struct{}

	packets atomic.Uint64
	updates atomic.Uint64
	configs atomic.Uint64
	dropped atomic.Uint64
}

// NewReceiver binds the ingest socket. When group names a multicast
// address the socket joins it, on iface if given or on the default
// interface otherwise.
func NewReceiver(listen, group, iface string, handler MessageHandler, log *logger.Log) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}

	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		conn.Close()
		return nil, err
	}

	if group != "" {
		if err := joinMulticast(conn, group, iface); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return &Receiver{
		conn:    conn,
		handler: handler,
		log:     log,
		errLog:  rate.NewLimiter(1, 5),
		done:    make(chan struct{}),
	}, nil
}

func joinMulticast(conn *net.UDPConn, group, ifaceName string) error {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%q is not a multicast group", group)
	}

	var iface *net.Interface
	if ifaceName != "" {
		var err error
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return err
		}
	}

	p := ipv4.NewPacketConn(conn)
	return p.JoinGroup(iface, &net.UDPAddr{IP: ip})
}

// Start begins receiving datagrams.
func (r *Receiver) Start() {
	go r.receiveLoop()
}

// Stop stops the receiver. Closing the socket unblocks the pending read.
func (r *Receiver) Stop() {
	close(r.done)
	r.conn.Close()
}

// LocalAddr returns the local address the receiver is bound to.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Stats returns a copy of the receive counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Packets: r.packets.Load(),
		Updates: r.updates.Load(),
		Configs: r.configs.Load(),
		Dropped: r.dropped.Load(),
	}
}

func (r *Receiver) receiveLoop() {
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				r.log.Errorf("ehub read: %v", err)
				continue
			}
		}

		r.handlePacket(src, buf[:n])
	}
}

func (r *Receiver) handlePacket(src *net.UDPAddr, data []byte) {
	r.packets.Add(1)

	msg, err := Decode(data)
	if err != nil {
		r.dropped.Add(1)
		// A stuck source can flood the log with identical decode errors.
		if r.errLog.Allow() {
			r.log.With(logger.Fields{"src": src.String()}).Warnf("drop packet: %v", err)
		}
		return
	}

	switch m := msg.(type) {
	case *UpdateMessage:
		r.updates.Add(1)
		r.handler.HandleUpdate(src, m)
	case *ConfigMessage:
		r.configs.Add(1)
		r.handler.HandleConfig(src, m)
	}
}
