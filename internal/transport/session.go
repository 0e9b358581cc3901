// Package transport owns the serial connection to the device and the
// request/response exchange discipline: sequence numbering, framing, read
// deadlines and exchange-level retries.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"go.bug.st/serial"

	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/frame"
	"github.com/flashtools/smpflash/internal/nmp"
	"github.com/flashtools/smpflash/internal/util"
)

var (
	// ErrTimeout reports that no complete, matching response arrived
	// within the exchange deadline, including after retries.
	ErrTimeout = errors.New("timeout waiting for response")

	// ErrUnexpectedResponse reports a response whose sequence number
	// matched but whose group, command or operation did not.
	ErrUnexpectedResponse = errors.New("unexpected response type")
)

// Conn is the byte stream a session talks over. serial.Port satisfies it;
// so does the in-memory simulated device.
type Conn interface {
	io.ReadWriter
	SetReadTimeout(time.Duration) error
	Close() error
}

// drainer is implemented by connections that can discard pending input.
type drainer interface {
	ResetInputBuffer() error
}

// readPoll is how long a single port read may block; the exchange deadline
// is enforced on top of it.
const readPoll = 100 * time.Millisecond

// Session owns one open connection and the monotonically increasing
// sequence counter. It is not safe for concurrent use: the protocol is
// strictly one request, one response.
type Session struct {
	conn Conn
	cfg  Config
	seq  uint8
	rbuf []byte
}

// Open opens the named serial device and returns a session around it. The
// special device name "test" connects to an in-memory simulated device.
func Open(device string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if device == "test" {
		return NewSession(NewSimDevice(), cfg), nil
	}

	port, err := serial.Open(device, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewSession(port, cfg), nil
}

// NewSession wraps an already-open connection. The sequence counter starts
// at a random value so consecutive tool invocations do not collide.
func NewSession(conn Conn, cfg Config) *Session {
	return &Session{
		conn: conn,
		cfg:  cfg,
		seq:  uint8(rand.Uint32()),
	}
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// MTU returns the configured maximum encoded request size.
func (s *Session) MTU() int { return s.cfg.MTU }

// LineLength returns the configured maximum encoded line length.
func (s *Session) LineLength() int { return s.cfg.LineLength }

func (s *Session) nextSeq() uint8 {
	s.seq++
	return s.seq
}

// EncodedRequestSize returns the wire size the given request would occupy
// after SMP encoding and framing, without sending anything.
func (s *Session) EncodedRequestSize(op uint8, group uint16, id uint8, body any) (int, error) {
	packet, err := nmp.EncodeRequest(op, group, id, 0, body)
	if err != nil {
		return 0, err
	}
	return frame.EncodedSize(len(packet), s.cfg.LineLength)
}

// Exchange sends one request and blocks until the matching response is
// decoded into out, or the deadline elapses. Responses with a stale
// sequence number are discarded and the read continues. A timed-out
// exchange is resent up to the configured retry budget.
func (s *Session) Exchange(op uint8, group uint16, id uint8, body, out any) (nmp.Header, error) {
	seq := s.nextSeq()
	packet, err := nmp.EncodeRequest(op, group, id, seq, body)
	if err != nil {
		return nmp.Header{}, err
	}
	wire, err := frame.Encode(packet, s.cfg.LineLength)
	if err != nil {
		return nmp.Header{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			config.Debugf("exchange retry %d/%d (seq %d)", attempt, s.cfg.Retries, seq)
		}
		hdr, err := s.transact(wire, seq, op, group, id, out)
		if err == nil {
			return hdr, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return hdr, err
		}
		lastErr = err
	}
	return nmp.Header{}, lastErr
}

// transact performs a single write-then-read cycle.
func (s *Session) transact(wire []byte, seq, op uint8, group uint16, id uint8, out any) (nmp.Header, error) {
	// Stale bytes from a previous exchange must not be mistaken for our
	// response.
	if d, ok := s.conn.(drainer); ok {
		if err := d.ResetInputBuffer(); err != nil {
			return nmp.Header{}, fmt.Errorf("drain input: %w", err)
		}
	}
	s.rbuf = s.rbuf[:0]

	if config.Verbose {
		config.Debugf("request (%d bytes on the wire):\n%s", len(wire), util.HexDump(wire))
	}
	if _, err := s.conn.Write(wire); err != nil {
		return nmp.Header{}, fmt.Errorf("write request: %w", err)
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	var dec frame.Decoder
	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return nmp.Header{}, err
		}

		done, err := dec.Feed(line)
		if err != nil {
			if !dec.Started() && (errors.Is(err, frame.ErrBadMarker) || errors.Is(err, frame.ErrLineTooShort)) {
				// Console noise between packets; keep scanning.
				config.Debugf("skipping non-frame line (%d bytes)", len(line))
				continue
			}
			return nmp.Header{}, err
		}
		if !done {
			continue
		}

		payload := dec.Payload()
		hdr, err := nmp.ParseHeader(payload)
		if err != nil {
			return nmp.Header{}, err
		}
		if hdr.Seq != seq {
			config.Debugf("discarding response with sequence %d, want %d", hdr.Seq, seq)
			dec.Reset()
			continue
		}
		if hdr.Op != nmp.ResponseOp(op) || hdr.Group != group || hdr.ID != id {
			return hdr, fmt.Errorf("%w: got %v", ErrUnexpectedResponse, hdr)
		}
		return nmp.DecodeResponse(payload, out)
	}
}

// readLine reads one newline-terminated line from the connection, honoring
// the exchange deadline. Serial reads yield zero bytes on their poll
// timeout, which is when the deadline is checked.
func (s *Session) readLine(deadline time.Time) ([]byte, error) {
	for {
		if i := bytes.IndexByte(s.rbuf, '\n'); i >= 0 {
			line := s.rbuf[:i+1]
			s.rbuf = s.rbuf[i+1:]
			return line, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		chunk := make([]byte, 256)
		n, err := s.conn.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if n == 0 {
			continue
		}
		s.rbuf = append(s.rbuf, chunk[:n]...)
	}
}
