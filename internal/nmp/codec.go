package nmp

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed reports an undersized or unparseable SMP message, as opposed
// to a well-formed response in which the device rejected the request.
var ErrMalformed = errors.New("malformed SMP message")

// Device result codes carried in the rc response field.
const (
	RcOk      = 0
	RcUnknown = 1
	RcNoMem   = 2
	RcInvalid = 3
	RcTimeout = 4
	RcNoEnt   = 5
)

// DeviceError is an explicit rejection from the device: the response parsed
// fine but carried a non-zero result code.
type DeviceError struct {
	Group uint16
	Code  int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: group %d rc %d", e.Group, e.Code)
}

// EncodeRequest serializes a request header and CBOR body into a raw SMP
// packet ready for framing.
func EncodeRequest(op uint8, group uint16, id, seq uint8, body any) ([]byte, error) {
	enc, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	hdr := Header{
		Op:    op,
		Len:   uint16(len(enc)),
		Group: group,
		Seq:   seq,
		ID:    id,
	}
	return append(hdr.Marshal(), enc...), nil
}

// rcProbe extracts the result code fields common to all responses. SMP v2
// devices report errors in a nested err map instead of a top-level rc.
type rcProbe struct {
	Rc  *int `cbor:"rc"`
	Err *struct {
		Group uint16 `cbor:"group"`
		Rc    int    `cbor:"rc"`
	} `cbor:"err"`
}

// DecodeResponse parses a raw SMP packet into its header and unmarshals the
// body into out (which may be nil to skip body decoding). A body length that
// disagrees with the packet size fails with ErrMalformed; an explicit device
// result code maps to *DeviceError.
func DecodeResponse(packet []byte, out any) (Header, error) {
	hdr, err := ParseHeader(packet)
	if err != nil {
		return Header{}, err
	}
	body := packet[HeaderSize:]
	if int(hdr.Len) != len(body) {
		return hdr, fmt.Errorf("%w: header declares %d body bytes, got %d", ErrMalformed, hdr.Len, len(body))
	}

	var probe rcProbe
	if err := cbor.Unmarshal(body, &probe); err != nil {
		return hdr, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Err != nil && probe.Err.Rc != RcOk {
		return hdr, &DeviceError{Group: probe.Err.Group, Code: probe.Err.Rc}
	}
	if probe.Rc != nil && *probe.Rc != RcOk {
		return hdr, &DeviceError{Group: hdr.Group, Code: *probe.Rc}
	}

	if out != nil {
		if err := cbor.Unmarshal(body, out); err != nil {
			return hdr, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return hdr, nil
}
