package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	HeaderSize               = 16
	HeaderSizeWithClientCode = 20
	maxPayloadSize           = 10 * 1024 * 1024 // 10MB max payload size
)

var (
	ErrShortFrame       = errors.New("data too short")
	ErrLengthMismatch   = errors.New("frame length mismatch")
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
)

// Frame is one message on the wire.
type Frame struct {
	Length   uint32
	Command  uint16
	Agent    uint8
	Flag     uint8
	Sequence uint32
	Checksum uint32
	// ClientCode is only carried by the 20-byte header variant
	ClientCode uint32
	Payload    string
}

// Codec encodes and decodes frames. The header variant is fixed per codec.
type Codec struct {
	// ClientCode selects the 20-byte header with a trailing client code
	ClientCode bool
	// Flag is written into every encoded header
	Flag uint8
	// Checksum fills the CRC32 field, otherwise it is written as 0
	Checksum bool
	// VerifyChecksum makes Decode reject frames whose non-zero checksum does
	// not match the payload
	VerifyChecksum bool
}

// HeaderSize returns the header length of the codec's variant.
func (c Codec) HeaderSize() int {
	if c.ClientCode {
		return HeaderSizeWithClientCode
	}
	return HeaderSize
}

// Encode lays out the big-endian header followed by the payload bytes.
// Length, Flag and Checksum of f are computed, the given values are ignored.
func (c Codec) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > maxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(f.Payload), maxPayloadSize)
	}

	hdr := c.HeaderSize()
	out := make([]byte, hdr+len(f.Payload))
	copy(out[hdr:], f.Payload)

	var crc uint32
	if c.Checksum {
		crc = Checksum(out[hdr:])
	}

	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	binary.BigEndian.PutUint16(out[4:6], f.Command)
	out[6] = f.Agent
	out[7] = c.Flag
	binary.BigEndian.PutUint32(out[8:12], f.Sequence)
	binary.BigEndian.PutUint32(out[12:16], crc)
	if c.ClientCode {
		binary.BigEndian.PutUint32(out[16:20], f.ClientCode)
	}
	return out, nil
}

// Decode reads the header fields at their fixed offsets and decodes the rest
// as UTF-8 text. Invalid UTF-8 sequences are replaced with U+FFFD.
func (c Codec) Decode(data []byte) (Frame, error) {
	hdr := c.HeaderSize()
	if len(data) < hdr {
		return Frame{}, ErrShortFrame
	}

	payloadSize := len(data) - hdr
	if payloadSize > maxPayloadSize {
		return Frame{}, fmt.Errorf("payload size %d exceeds maximum %d bytes", payloadSize, maxPayloadSize)
	}

	f := Frame{
		Length:   binary.BigEndian.Uint32(data[0:4]),
		Command:  binary.BigEndian.Uint16(data[4:6]),
		Agent:    data[6],
		Flag:     data[7],
		Sequence: binary.BigEndian.Uint32(data[8:12]),
		Checksum: binary.BigEndian.Uint32(data[12:16]),
	}
	if c.ClientCode {
		f.ClientCode = binary.BigEndian.Uint32(data[16:20])
	}
	if int(f.Length) != len(data) {
		return Frame{}, fmt.Errorf("%w: header says %d, got %d bytes", ErrLengthMismatch, f.Length, len(data))
	}

	payload := data[hdr:]
	if c.VerifyChecksum && f.Checksum != 0 && Checksum(payload) != f.Checksum {
		return Frame{}, ErrChecksumMismatch
	}
	f.Payload = Text(payload)
	return f, nil
}

// Text converts raw bytes into a string, replacing invalid UTF-8.
func Text(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
