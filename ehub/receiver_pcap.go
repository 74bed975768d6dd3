package ehub

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PcapReceiver observes eHuB traffic using packet capture. It requires
// root/admin privileges but can watch datagrams addressed to another
// process, which makes it the tool for sniffing a live installation
// without disturbing the gateway that feeds it.
type PcapReceiver struct {
	handle  *pcap.Handle
	handler MessageHandler
	done    chan struct{}
}

// NewPcapReceiver opens iface for capture, filtered to UDP traffic on the
// given port.
func NewPcapReceiver(iface string, port int, handler MessageHandler) (*PcapReceiver, error) {
	// Full updates are fragmented close to the UDP maximum, so capture
	// whole datagrams rather than the usual header-sized snaplen.
	handle, err := pcap.OpenLive(iface, 65535, true, pcap.BlockForever)
	if err != nil {
		return nil, err
	}

	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", port)); err != nil {
		handle.Close()
		return nil, err
	}

	return &PcapReceiver{
		handle:  handle,
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Start begins receiving packets.
func (r *PcapReceiver) Start() {
	go r.receiveLoop()
}

// Stop stops the receiver.
func (r *PcapReceiver) Stop() {
	close(r.done)
	r.handle.Close()
}

func (r *PcapReceiver) receiveLoop() {
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for {
		select {
		case <-r.done:
			return
		case packet, ok := <-packetSource.Packets():
			if !ok {
				return
			}
			r.handlePacket(packet)
		}
	}
}

func (r *PcapReceiver) handlePacket(packet gopacket.Packet) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}

	udp, _ := udpLayer.(*layers.UDP)
	if udp == nil {
		return
	}

	var srcIP [4]byte
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		if ip != nil {
			copy(srcIP[:], ip.SrcIP.To4())
		}
	}

	msg, err := Decode(udp.Payload)
	if err != nil {
		return
	}

	src := &net.UDPAddr{
		IP:   net.IP(srcIP[:]),
		Port: int(udp.SrcPort),
	}

	switch m := msg.(type) {
	case *UpdateMessage:
		r.handler.HandleUpdate(src, m)
	case *ConfigMessage:
		r.handler.HandleConfig(src, m)
	}
}
