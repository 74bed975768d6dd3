package artnet

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehub2artnet/logger"
)

func testLogger(t *testing.T) *logger.Log {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

// startFakeNode answers every ArtPoll with the given reply datagrams.
func startFakeNode(t *testing.T, replies ...[]byte) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < 10 || binary.LittleEndian.Uint16(buf[8:10]) != OpPoll {
				continue
			}
			for _, r := range replies {
				conn.WriteToUDP(r, src)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestBuildPollShape(t *testing.T) {
	poll := BuildPoll()

	require.Len(t, poll, 14)
	assert.Equal(t, []byte("Art-Net\x00"), poll[0:8])
	assert.Equal(t, []byte{0x00, 0x20}, poll[8:10]) // OpPoll, little-endian
	assert.Equal(t, []byte{0x00, 0x0E}, poll[10:12])
	assert.Equal(t, uint8(0), poll[12])
	assert.Equal(t, uint8(0), poll[13])
}

func TestPollReplyRoundTrip(t *testing.T) {
	raw := BuildPollReply([4]byte{10, 0, 0, 5}, "short", "a longer name", []uint16{0x123, 0x124})

	reply, err := ParsePollReply(raw)
	require.NoError(t, err)

	assert.Equal(t, [4]byte{10, 0, 0, 5}, reply.IP)
	assert.Equal(t, uint16(Port), reply.Port)
	assert.Equal(t, "short", reply.ShortName)
	assert.Equal(t, "a longer name", reply.LongName)
	assert.Equal(t, []uint16{0x123, 0x124}, reply.OutputUniverses())
}

func TestParsePollReplyErrors(t *testing.T) {
	_, err := ParsePollReply(nil)
	assert.ErrorIs(t, err, ErrPacketTooShort)

	_, err = ParsePollReply([]byte("NotArtNe\x00\x21"))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = ParsePollReply(BuildPoll())
	assert.ErrorIs(t, err, ErrNotPollReply)

	truncated := BuildPollReply([4]byte{1, 2, 3, 4}, "x", "", nil)[:100]
	_, err = ParsePollReply(truncated)
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestScannerFindsNodes(t *testing.T) {
	reply := BuildPollReply([4]byte{127, 0, 0, 1}, "ctrl-a", "Test Controller A", []uint16{0, 1})
	nodeAddr := startFakeNode(t, reply)

	scanner, err := NewScanner("127.0.0.1:0", nodeAddr.String(), testLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	nodes, err := scanner.Run(ctx)
	require.NoError(t, err)

	require.Len(t, nodes, 1)
	assert.Equal(t, "127.0.0.1", nodes[0].IP.String())
	assert.Equal(t, uint16(Port), nodes[0].Port)
	assert.Equal(t, "ctrl-a", nodes[0].ShortName)
	assert.Equal(t, "Test Controller A", nodes[0].LongName)
	assert.Equal(t, []uint16{0, 1}, nodes[0].Universes)
	assert.WithinDuration(t, time.Now(), nodes[0].LastSeen, 2*time.Second)
}

func TestScannerAccumulatesPorts(t *testing.T) {
	scanner, err := NewScanner("127.0.0.1:0", "127.0.0.1:6454", testLogger(t))
	require.NoError(t, err)
	defer scanner.conn.Close()

	// Multi-port devices answer one poll with several replies.
	src := &net.UDPAddr{IP: net.IPv4(10, 1, 1, 9), Port: Port}
	scanner.handleReply(src, BuildPollReply([4]byte{10, 1, 1, 9}, "wall", "", []uint16{4, 5}))
	scanner.handleReply(src, BuildPollReply([4]byte{10, 1, 1, 9}, "wall", "", []uint16{5, 6}))
	scanner.handleReply(src, []byte("noise"))

	nodes := scanner.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, []uint16{4, 5, 6}, nodes[0].Universes)
}
