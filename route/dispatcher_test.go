package route

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Haba1234/go-artnet/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehub2artnet/artnet"
	"ehub2artnet/ehub"
	"ehub2artnet/logger"
	"ehub2artnet/store"
)

func testLogger(t *testing.T) *logger.Log {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func loopbackSender(t *testing.T, universe uint16, listener *net.UDPConn) *artnet.Sender {
	t.Helper()

	sender, err := artnet.NewSender(map[uint16]string{universe: listener.LocalAddr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })
	return sender
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

// The canonical mapping scenario: entities 100-102 on universe 0 at channels
// 0/3/6, one red update for 101, exactly one ArtDMX datagram out.
func TestDispatcherEndToEnd(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	for id := uint16(100); id <= 102; id++ {
		st.Register(id, 0)
	}
	channels := map[uint16]int{100: 0, 101: 3, 102: 6}

	d := New(st, sender, channels, DefaultInterval, DefaultKeepalive, testLogger(t))

	d.HandleUpdate(nil, &ehub.UpdateMessage{
		Records: []ehub.UpdateRecord{{ID: 101, R: 255, G: 0, B: 0, W: 9}},
	})

	d.tick(time.Now())

	parsed, err := packet.Unmarshal(readPacket(t, listener))
	require.NoError(t, err)
	dmx, ok := parsed.(*packet.ArtDMXPacket)
	require.True(t, ok, "expected ArtDMXPacket, got %T", parsed)
	assert.Equal(t, uint8(0), dmx.SubUni)
	assert.Equal(t, uint8(0), dmx.Net)

	// Red lands on channels 3-5; the white byte never reaches DMX.
	want := make([]byte, artnet.FrameLen)
	want[3] = 255
	assert.Equal(t, want, dmx.Data[:])

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(1), stats.UpdatesApplied)
	assert.Equal(t, uint64(0), stats.UpdatesDropped)
}

func TestDispatcherSuppressesUnchangedFrames(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	st.Register(1, 0)

	d := New(st, sender, nil, DefaultInterval, DefaultKeepalive, testLogger(t))

	now := time.Now()
	d.tick(now)
	readPacket(t, listener)

	d.tick(now.Add(DefaultInterval))
	d.tick(now.Add(2 * DefaultInterval))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(2), stats.FramesSuppressed)

	// A color change makes the next tick transmit again.
	st.ApplyUpdate(1, 9, 9, 9)
	d.tick(now.Add(3 * DefaultInterval))
	readPacket(t, listener)
	assert.Equal(t, uint64(2), d.Stats().FramesSent)
}

func TestDispatcherKeepaliveResend(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	st.Register(1, 0)

	d := New(st, sender, nil, DefaultInterval, time.Second, testLogger(t))

	now := time.Now()
	d.tick(now)
	readPacket(t, listener)

	d.tick(now.Add(500 * time.Millisecond))
	d.tick(now.Add(1100 * time.Millisecond))
	readPacket(t, listener)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.FramesSent)
	assert.Equal(t, uint64(1), stats.FramesSuppressed)
}

func TestDispatcherKeepaliveDisabled(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	st.Register(1, 0)

	d := New(st, sender, nil, DefaultInterval, -1, testLogger(t))

	now := time.Now()
	d.tick(now)
	readPacket(t, listener)

	d.tick(now.Add(time.Hour))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(1), stats.FramesSuppressed)
}

func TestDispatcherUnroutedUniverse(t *testing.T) {
	st := store.New()
	st.Register(7, 42)

	sender, err := artnet.NewSender(nil)
	require.NoError(t, err)
	defer sender.Close()

	d := New(st, sender, nil, DefaultInterval, DefaultKeepalive, testLogger(t))
	d.tick(time.Now())
	d.tick(time.Now())

	stats := d.Stats()
	assert.Zero(t, stats.FramesSent)
	assert.Equal(t, uint64(2), stats.UnroutedCycles)
}

func TestDispatcherCountsSkippedEntities(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	st.Register(1, 0)
	st.ApplyUpdate(1, 200, 200, 200)

	d := New(st, sender, map[uint16]int{1: 510}, DefaultInterval, DefaultKeepalive, testLogger(t))
	d.tick(time.Now())

	assert.Equal(t, uint64(1), d.Stats().EntitiesSkipped)

	// The universe still transmits, with the skipped entity dark.
	pkt := readPacket(t, listener)
	assert.Equal(t, make([]byte, artnet.FrameLen), pkt[artnet.HeaderLen:])
}

func TestDispatcherHandleUpdateDropsUnknownIDs(t *testing.T) {
	st := store.New()
	st.Register(10, 0)

	sender, err := artnet.NewSender(nil)
	require.NoError(t, err)
	defer sender.Close()

	d := New(st, sender, nil, DefaultInterval, DefaultKeepalive, testLogger(t))
	d.HandleUpdate(nil, &ehub.UpdateMessage{
		Records: []ehub.UpdateRecord{{ID: 10, R: 1}, {ID: 11, R: 2}, {ID: 12, R: 3}},
	})

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.UpdatesApplied)
	assert.Equal(t, uint64(2), stats.UpdatesDropped)
}

func TestDispatcherHandleConfigIntroducesEntities(t *testing.T) {
	st := store.New()

	sender, err := artnet.NewSender(nil)
	require.NoError(t, err)
	defer sender.Close()

	d := New(st, sender, nil, DefaultInterval, DefaultKeepalive, testLogger(t))
	d.HandleConfig(nil, &ehub.ConfigMessage{
		Tag:    3,
		Ranges: []ehub.ConfigRange{{Start: 500, Count: 2, R: 1, G: 2, B: 3}},
	})

	groups := st.SnapshotByUniverse()
	require.Len(t, groups[3], 2)
	assert.Equal(t, store.Entity{ID: 500, R: 1, G: 2, B: 3, Universe: 3}, groups[3][0])
	assert.Equal(t, store.Entity{ID: 501, R: 1, G: 2, B: 3, Universe: 3}, groups[3][1])
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	listener := listenLoopback(t)
	sender := loopbackSender(t, 0, listener)

	st := store.New()
	st.Register(1, 0)

	d := New(st, sender, nil, time.Millisecond, DefaultKeepalive, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return d.Stats().Ticks > 0 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

// Full ingest path: encoded eHuB datagram in on loopback, store state out.
func TestReceiverFeedsDispatcher(t *testing.T) {
	st := store.New()
	st.Register(100, 0)

	sender, err := artnet.NewSender(nil)
	require.NoError(t, err)
	defer sender.Close()

	d := New(st, sender, nil, DefaultInterval, DefaultKeepalive, testLogger(t))

	recv, err := ehub.NewReceiver("127.0.0.1:0", "", "", d, testLogger(t))
	require.NoError(t, err)
	recv.Start()
	defer recv.Stop()

	datagram, err := ehub.EncodeUpdate(0, []ehub.UpdateRecord{{ID: 100, R: 42}})
	require.NoError(t, err)

	conn, err := net.Dial("udp4", recv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(datagram)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		groups := st.SnapshotByUniverse()
		return len(groups[0]) == 1 && groups[0][0].R == 42 && d.Stats().UpdatesApplied == 1
	}, 2*time.Second, 10*time.Millisecond)
}
