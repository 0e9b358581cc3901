// Package nmp implements the SMP (Simple Management Protocol) message
// codec: the fixed 8-byte header and the CBOR-encoded request and response
// bodies for the OS and image management groups.
package nmp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed SMP header length in bytes.
const HeaderSize = 8

// Operation codes.
const (
	OpRead     uint8 = 0
	OpReadRsp  uint8 = 1
	OpWrite    uint8 = 2
	OpWriteRsp uint8 = 3
)

// Management groups.
const (
	GroupOS    uint16 = 0
	GroupImage uint16 = 1
)

// OS group command IDs.
const (
	IDOsEcho  uint8 = 0
	IDOsReset uint8 = 5
)

// Image group command IDs.
const (
	IDImageState  uint8 = 0
	IDImageUpload uint8 = 1
	IDImageErase  uint8 = 5
)

// Header is the fixed binary prefix of every SMP message: operation, flags,
// big-endian body length, big-endian group, sequence number and command ID.
type Header struct {
	Op    uint8
	Flags uint8
	Len   uint16
	Group uint16
	Seq   uint8
	ID    uint8
}

// Marshal serializes the header into its 8-byte wire form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Op
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.Len)
	binary.BigEndian.PutUint16(buf[4:6], h.Group)
	buf[6] = h.Seq
	buf[7] = h.ID
	return buf
}

// ParseHeader decodes the 8-byte wire form back into a Header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformed, len(data), HeaderSize)
	}
	return Header{
		Op:    data[0],
		Flags: data[1],
		Len:   binary.BigEndian.Uint16(data[2:4]),
		Group: binary.BigEndian.Uint16(data[4:6]),
		Seq:   data[6],
		ID:    data[7],
	}, nil
}

// ResponseOp returns the response operation matching a request operation.
func ResponseOp(op uint8) uint8 {
	switch op {
	case OpRead:
		return OpReadRsp
	case OpWrite:
		return OpWriteRsp
	default:
		return op
	}
}

func (h Header) String() string {
	return fmt.Sprintf("op=%d group=%d id=%d seq=%d len=%d", h.Op, h.Group, h.ID, h.Seq, h.Len)
}
