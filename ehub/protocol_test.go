package ehub

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 6, 1000} {
		records := make([]UpdateRecord, n)
		for i := range records {
			records[i] = UpdateRecord{
				ID: uint16(i),
				R:  uint8(i), G: uint8(i >> 1), B: uint8(i >> 2), W: uint8(i >> 3),
			}
		}

		datagram, err := EncodeUpdate(7, records)
		require.NoError(t, err)

		msg, err := Decode(datagram)
		require.NoError(t, err, "n=%d", n)

		update, ok := msg.(*UpdateMessage)
		require.True(t, ok, "n=%d: expected update message, got %T", n, msg)
		assert.Equal(t, uint8(7), update.Tag)
		assert.Equal(t, records, update.Records, "n=%d", n)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ranges := []ConfigRange{
		{Start: 0, Count: 170, R: 1, G: 2, B: 3, W: 4},
		{Start: 4000, Count: 1, R: 255},
	}

	datagram, err := EncodeConfig(3, ranges)
	require.NoError(t, err)

	msg, err := Decode(datagram)
	require.NoError(t, err)

	cfg, ok := msg.(*ConfigMessage)
	require.True(t, ok, "expected config message, got %T", msg)
	assert.Equal(t, uint8(3), cfg.Tag)
	assert.Equal(t, ranges, cfg.Ranges)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := EncodeUpdate(0, []UpdateRecord{{ID: 1, R: 2, G: 3, B: 4}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		datagram []byte
		want     error
	}{
		{"empty", nil, ErrPacketTooShort},
		{"truncated header", valid[:9], ErrPacketTooShort},
		{"bad magic", append([]byte("eHuX"), valid[4:]...), ErrBadMagic},
		{"declared length too long", declareLen(valid, uint16(len(valid))), ErrBadLength},
		{"corrupt gzip", corruptPayload(valid), ErrBadPayload},
		{"partial update record", rawDatagram(TypeUpdate, 0, 0, gzipBytes(t, make([]byte, 5))), ErrBadPayload},
		{"partial config record", rawDatagram(TypeConfig, 0, 0, gzipBytes(t, make([]byte, 12))), ErrBadPayload},
		{"count mismatch", rawDatagram(TypeUpdate, 0, 3, gzipBytes(t, make([]byte, 12))), ErrCountMismatch},
		{"unknown type", rawDatagram(9, 0, 0, gzipBytes(t, nil)), ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.datagram)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeToleratesZeroCount(t *testing.T) {
	// Sources that leave the header count at zero skip the cross-check.
	datagram := rawDatagram(TypeUpdate, 5, 0, gzipBytes(t, make([]byte, 12)))

	msg, err := Decode(datagram)
	require.NoError(t, err)

	update, ok := msg.(*UpdateMessage)
	require.True(t, ok)
	assert.Equal(t, uint8(5), update.Tag)
	assert.Len(t, update.Records, 2)
}

func TestDecodeCapsDecompression(t *testing.T) {
	// A tiny datagram can gzip-expand far past anything a u16 record
	// count could describe. Past the cap the payload length is already a
	// record-size multiple, so only the cap can reject it.
	oversized := rawDatagram(TypeUpdate, 0, 0, gzipBytes(t, make([]byte, maxPayloadLen+updateRecordLen)))
	_, err := Decode(oversized)
	assert.ErrorIs(t, err, ErrBadPayload)

	atBound := rawDatagram(TypeUpdate, 0, 0, gzipBytes(t, make([]byte, maxPayloadLen)))
	msg, err := Decode(atBound)
	require.NoError(t, err)

	update, ok := msg.(*UpdateMessage)
	require.True(t, ok)
	assert.Len(t, update.Records, maxPayloadLen/updateRecordLen)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	valid, err := EncodeUpdate(0, []UpdateRecord{{ID: 42, R: 1, G: 2, B: 3}})
	require.NoError(t, err)

	msg, err := Decode(append(valid, 0xDE, 0xAD))
	require.NoError(t, err)

	update, ok := msg.(*UpdateMessage)
	require.True(t, ok)
	require.Len(t, update.Records, 1)
	assert.Equal(t, uint16(42), update.Records[0].ID)
}

func gzipBytes(t *testing.T, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func rawDatagram(msgType, tag uint8, count uint16, compressed []byte) []byte {
	buf := make([]byte, HeaderLen+len(compressed))
	copy(buf[0:4], MagicID[:])
	buf[4] = msgType
	buf[5] = tag
	binary.LittleEndian.PutUint16(buf[6:8], count)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(compressed)))
	copy(buf[HeaderLen:], compressed)
	return buf
}

func declareLen(datagram []byte, n uint16) []byte {
	out := append([]byte(nil), datagram...)
	binary.LittleEndian.PutUint16(out[8:10], n)
	return out
}

func corruptPayload(datagram []byte) []byte {
	out := append([]byte(nil), datagram...)
	out[HeaderLen] ^= 0xFF
	return out
}
