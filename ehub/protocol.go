// Package ehub implements the eHuB wire protocol: a compact UDP format
// carrying LED entity colors from an animation source. Datagrams open with
// a fixed 10-byte header followed by a gzip-compressed run of fixed-width
// records.
package ehub

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Port = 5568

	// Message types
	TypeConfig = 1
	TypeUpdate = 2

	HeaderLen = 10

	updateRecordLen = 6
	configRecordLen = 8

	// maxPayloadLen caps gzip expansion. The u16 header count cannot
	// describe more than 64K of the wider config records, so anything
	// past that is a corrupt or hostile stream.
	maxPayloadLen = 0xFFFF * configRecordLen
)

var (
	MagicID = [4]byte{'e', 'H', 'u', 'B'}

	ErrPacketTooShort = errors.New("packet shorter than eHuB header")
	ErrBadMagic       = errors.New("missing eHuB signature")
	ErrBadLength      = errors.New("declared payload length exceeds packet")
	ErrBadPayload     = errors.New("payload unreadable")
	ErrCountMismatch  = errors.New("header entity count does not match payload")
	ErrUnknownType    = errors.New("unknown message type")
)

// Message is a decoded eHuB datagram: either *UpdateMessage or
// *ConfigMessage.
type Message interface {
	ehubMessage()
}

// UpdateRecord carries one entity's color. The white byte travels on the
// wire but the DMX side only consumes RGB.
type UpdateRecord struct {
	ID         uint16
	R, G, B, W uint8
}

// UpdateMessage overwrites the colors of individual entities.
type UpdateMessage struct {
	Tag     uint8 // eHuB universe byte, informational for updates
	Records []UpdateRecord
}

func (*UpdateMessage) ehubMessage() {}

// ConfigRange fills a run of consecutive entity ids with one color.
type ConfigRange struct {
	Start      uint16
	Count      uint16
	R, G, B, W uint8
}

// ConfigMessage fills entity ranges and binds them to the eHuB universe
// tag, possibly introducing ids the routing table never declared.
type ConfigMessage struct {
	Tag    uint8
	Ranges []ConfigRange
}

func (*ConfigMessage) ehubMessage() {}

// Decode parses one raw datagram. Errors wrap the sentinel values above so
// callers can count drops by cause with errors.Is.
func Decode(datagram []byte) (Message, error) {
	if len(datagram) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(datagram))
	}
	if !bytes.Equal(datagram[:4], MagicID[:]) {
		return nil, ErrBadMagic
	}

	msgType := datagram[4]
	tag := datagram[5]
	declared := int(binary.LittleEndian.Uint16(datagram[6:8]))
	compressedLen := int(binary.LittleEndian.Uint16(datagram[8:10]))

	if HeaderLen+compressedLen > len(datagram) {
		return nil, fmt.Errorf("%w: %d declared, %d available",
			ErrBadLength, compressedLen, len(datagram)-HeaderLen)
	}

	zr, err := gzip.NewReader(bytes.NewReader(datagram[HeaderLen : HeaderLen+compressedLen]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, maxPayloadLen+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: decompresses past %d bytes", ErrBadPayload, maxPayloadLen)
	}

	switch msgType {
	case TypeUpdate:
		return decodeUpdate(tag, declared, payload)
	case TypeConfig:
		return decodeConfig(tag, payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, msgType)
	}
}

func decodeUpdate(tag uint8, declared int, payload []byte) (*UpdateMessage, error) {
	if len(payload)%updateRecordLen != 0 {
		return nil, fmt.Errorf("%w: %d bytes leave a partial update record",
			ErrBadPayload, len(payload))
	}

	n := len(payload) / updateRecordLen
	// The header count defends against truncated UDP delivery; zero means
	// the source did not fill it in.
	if declared != 0 && declared != n {
		return nil, fmt.Errorf("%w: header says %d, payload holds %d",
			ErrCountMismatch, declared, n)
	}

	msg := &UpdateMessage{Tag: tag, Records: make([]UpdateRecord, n)}
	for i := 0; i < n; i++ {
		rec := payload[i*updateRecordLen : (i+1)*updateRecordLen]
		msg.Records[i] = UpdateRecord{
			ID: binary.LittleEndian.Uint16(rec[0:2]),
			R:  rec[2],
			G:  rec[3],
			B:  rec[4],
			W:  rec[5],
		}
	}

	return msg, nil
}

func decodeConfig(tag uint8, payload []byte) (*ConfigMessage, error) {
	if len(payload)%configRecordLen != 0 {
		return nil, fmt.Errorf("%w: %d bytes leave a partial config record",
			ErrBadPayload, len(payload))
	}

	n := len(payload) / configRecordLen
	msg := &ConfigMessage{Tag: tag, Ranges: make([]ConfigRange, n)}
	for i := 0; i < n; i++ {
		rec := payload[i*configRecordLen : (i+1)*configRecordLen]
		msg.Ranges[i] = ConfigRange{
			Start: binary.LittleEndian.Uint16(rec[0:2]),
			Count: binary.LittleEndian.Uint16(rec[2:4]),
			R:     rec[4],
			G:     rec[5],
			B:     rec[6],
			W:     rec[7],
		}
	}

	return msg, nil
}

// EncodeUpdate builds a datagram carrying the given records. It is the
// inverse of Decode for update messages; test and preview tooling use it
// to drive the gateway without a real animation source.
func EncodeUpdate(tag uint8, records []UpdateRecord) ([]byte, error) {
	if len(records) > 0xFFFF {
		return nil, fmt.Errorf("too many update records: %d", len(records))
	}

	payload := make([]byte, len(records)*updateRecordLen)
	for i, r := range records {
		rec := payload[i*updateRecordLen : (i+1)*updateRecordLen]
		binary.LittleEndian.PutUint16(rec[0:2], r.ID)
		rec[2] = r.R
		rec[3] = r.G
		rec[4] = r.B
		rec[5] = r.W
	}

	return encode(TypeUpdate, tag, uint16(len(records)), payload)
}

// EncodeConfig builds a datagram carrying the given ranges.
func EncodeConfig(tag uint8, ranges []ConfigRange) ([]byte, error) {
	if len(ranges) > 0xFFFF {
		return nil, fmt.Errorf("too many config ranges: %d", len(ranges))
	}

	payload := make([]byte, len(ranges)*configRecordLen)
	for i, r := range ranges {
		rec := payload[i*configRecordLen : (i+1)*configRecordLen]
		binary.LittleEndian.PutUint16(rec[0:2], r.Start)
		binary.LittleEndian.PutUint16(rec[2:4], r.Count)
		rec[4] = r.R
		rec[5] = r.G
		rec[6] = r.B
		rec[7] = r.W
	}

	return encode(TypeConfig, tag, uint16(len(ranges)), payload)
}

func encode(msgType uint8, tag uint8, count uint16, payload []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if compressed.Len() > 0xFFFF {
		return nil, fmt.Errorf("compressed payload too large: %d bytes", compressed.Len())
	}

	buf := make([]byte, HeaderLen+compressed.Len())
	copy(buf[0:4], MagicID[:])
	buf[4] = msgType
	buf[5] = tag
	binary.LittleEndian.PutUint16(buf[6:8], count)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(compressed.Len()))
	copy(buf[HeaderLen:], compressed.Bytes())

	return buf, nil
}
