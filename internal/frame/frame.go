// Package frame implements the MCUmgr serial console framing: SMP packets
// are length-prefixed, CRC16-checksummed, base64 encoded and split across
// newline-terminated lines bounded by a configurable line length.
package frame

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// Line markers from the MCUmgr serial transport definition. The first line
// of a packet starts with 06 09, every continuation line with 04 14.
var (
	StartMarker = [2]byte{0x06, 0x09}
	ContMarker  = [2]byte{0x04, 0x14}
)

const (
	// LengthFieldSize is the big-endian packet length prefix inside the
	// base64 payload. The declared length covers the packet body plus the
	// trailing CRC.
	LengthFieldSize = 2
	// ChecksumSize is the CRC16/XMODEM appended to the packet body.
	ChecksumSize = 2
	// lineOverhead is the per-line cost of the two marker bytes, the
	// newline terminator and one byte of slack.
	lineOverhead = 4
	// MinLineLength is the smallest line length that still fits a marker,
	// one base64 character and the terminator.
	MinLineLength = lineOverhead + 1
)

var (
	ErrLineLengthTooSmall = errors.New("line length too small")
	ErrBadMarker          = errors.New("invalid frame marker")
	ErrLineTooShort       = errors.New("frame line too short")
	ErrChecksumMismatch   = errors.New("frame checksum mismatch")
	ErrLengthMismatch     = errors.New("frame length mismatch")
	ErrIncomplete         = errors.New("incomplete frame stream")
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum computes the CRC16/XMODEM of a raw SMP packet, as carried on the
// wire after the packet body.
func Checksum(packet []byte) uint16 {
	return crc16.Checksum(packet, crcTable)
}

// Encode wraps a raw SMP packet (header plus body) into console lines. The
// output is the exact byte sequence to write to the serial port: the packet
// is suffixed with its CRC, prefixed with the declared total length, base64
// encoded and chopped into marker-prefixed lines of at most lineLength
// bytes each.
func Encode(packet []byte, lineLength int) ([]byte, error) {
	if lineLength < MinLineLength {
		return nil, fmt.Errorf("%w: %d (minimum %d)", ErrLineLengthTooSmall, lineLength, MinLineLength)
	}

	// Declared length covers the packet body and the CRC.
	pkt := make([]byte, LengthFieldSize, LengthFieldSize+len(packet)+ChecksumSize)
	binary.BigEndian.PutUint16(pkt, uint16(len(packet)+ChecksumSize))
	pkt = append(pkt, packet...)
	pkt = binary.BigEndian.AppendUint16(pkt, Checksum(packet))

	b64 := make([]byte, base64.StdEncoding.EncodedLen(len(pkt)))
	base64.StdEncoding.Encode(b64, pkt)

	perLine := lineLength - lineOverhead
	out := make([]byte, 0, len(b64)+((len(b64)/perLine)+1)*(len(StartMarker)+1))
	for written := 0; written < len(b64); {
		if written == 0 {
			out = append(out, StartMarker[:]...)
		} else {
			out = append(out, ContMarker[:]...)
		}
		n := min(perLine, len(b64)-written)
		out = append(out, b64[written:written+n]...)
		out = append(out, '\n')
		written += n
	}
	return out, nil
}

// EncodedSize returns the wire length Encode would produce for a packet of
// the given size, without allocating the encoding. Used by the uploader to
// fit chunks below the transport MTU.
func EncodedSize(packetLen, lineLength int) (int, error) {
	if lineLength < MinLineLength {
		return 0, fmt.Errorf("%w: %d (minimum %d)", ErrLineLengthTooSmall, lineLength, MinLineLength)
	}
	b64Len := base64.StdEncoding.EncodedLen(LengthFieldSize + packetLen + ChecksumSize)
	perLine := lineLength - lineOverhead
	lines := (b64Len + perLine - 1) / perLine
	return b64Len + lines*(len(StartMarker)+1), nil
}

// Decoder reassembles a packet from console lines fed one at a time. It is
// a pure accumulator: the caller owns the actual line reads and their
// deadlines.
type Decoder struct {
	b64      []byte
	buf      []byte
	declared int
	started  bool
}

// Started reports whether a start-marker line has been consumed. Before
// that, unrecognized lines are console noise the caller may skip.
func (d *Decoder) Started() bool {
	return d.started
}

// Feed consumes one newline-terminated line (the terminator itself is
// optional). It returns true once the declared packet length has been
// satisfied and the checksum verified; the payload is then available from
// Payload.
func (d *Decoder) Feed(line []byte) (bool, error) {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) < len(StartMarker) {
		return false, fmt.Errorf("%w: %d bytes", ErrLineTooShort, len(line))
	}

	marker := [2]byte{line[0], line[1]}
	switch {
	case !d.started && marker == StartMarker:
		d.started = true
	case d.started && marker == ContMarker:
	default:
		return false, fmt.Errorf("%w: %02x %02x", ErrBadMarker, line[0], line[1])
	}

	// Lines split one continuous base64 stream, so a line boundary can
	// fall inside a 4-character quantum. Accumulate characters and decode
	// only whole quanta, carrying the remainder into the next line.
	d.b64 = append(d.b64, line[2:]...)
	if n := len(d.b64) &^ 3; n > 0 {
		decoded, err := base64.StdEncoding.AppendDecode(d.buf, d.b64[:n])
		if err != nil {
			return false, fmt.Errorf("frame base64: %w", err)
		}
		d.buf = decoded
		d.b64 = d.b64[:copy(d.b64, d.b64[n:])]
	}

	if d.declared == 0 {
		if len(d.buf) < LengthFieldSize {
			return false, nil
		}
		d.declared = int(binary.BigEndian.Uint16(d.buf))
		if d.declared < ChecksumSize {
			return false, fmt.Errorf("%w: declared %d bytes", ErrLengthMismatch, d.declared)
		}
	}

	total := LengthFieldSize + d.declared
	if len(d.buf) < total {
		return false, nil
	}
	if len(d.buf) > total {
		return false, fmt.Errorf("%w: declared %d bytes, got %d", ErrLengthMismatch, d.declared, len(d.buf)-LengthFieldSize)
	}
	if len(d.b64) > 0 {
		return false, fmt.Errorf("%w: %d trailing base64 characters", ErrLengthMismatch, len(d.b64))
	}

	payload := d.buf[LengthFieldSize : total-ChecksumSize]
	want := binary.BigEndian.Uint16(d.buf[total-ChecksumSize:])
	if got := Checksum(payload); got != want {
		return false, fmt.Errorf("%w: calculated %04x, received %04x", ErrChecksumMismatch, got, want)
	}
	return true, nil
}

// Payload returns the reassembled SMP packet. Only valid after Feed has
// returned true.
func (d *Decoder) Payload() []byte {
	return d.buf[LengthFieldSize : LengthFieldSize+d.declared-ChecksumSize]
}

// Reset clears the decoder for the next packet.
func (d *Decoder) Reset() {
	d.b64 = d.b64[:0]
	d.buf = d.buf[:0]
	d.declared = 0
	d.started = false
}

// Decode reassembles a complete wire capture (one packet's worth of lines)
// back into the raw SMP packet. A stream that ends before the declared
// length is satisfied fails with ErrIncomplete.
func Decode(data []byte) ([]byte, error) {
	var d Decoder
	for len(data) > 0 {
		end := len(data)
		for i, b := range data {
			if b == '\n' {
				end = i + 1
				break
			}
		}
		done, err := d.Feed(data[:end])
		if err != nil {
			return nil, err
		}
		if done {
			return d.Payload(), nil
		}
		data = data[end:]
	}
	return nil, ErrIncomplete
}
