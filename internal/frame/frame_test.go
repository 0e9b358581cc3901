package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
)

func TestChecksumKnownValue(t *testing.T) {
	// CRC16/XMODEM check value for the standard test vector.
	if got := Checksum([]byte("123456789")); got != 0x31C3 {
		t.Errorf("Checksum(123456789) = %04x, want 31c3", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xa5, 0x5a}, 300),
		bytes.Repeat([]byte{0xff}, 4096),
	}
	lineLengths := []int{MinLineLength, 16, 128, 512, 8192}

	for _, p := range payloads {
		for _, ll := range lineLengths {
			encoded, err := Encode(p, ll)
			if err != nil {
				t.Fatalf("Encode(%d bytes, linelength %d): %v", len(p), ll, err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%d bytes, linelength %d): %v", len(p), ll, err)
			}
			if !bytes.Equal(decoded, p) {
				t.Errorf("round trip mismatch for %d bytes at linelength %d", len(p), ll)
			}
		}
	}
}

func TestDecodeUnalignedLineSplits(t *testing.T) {
	// Line lengths where lineLength-4 is not a multiple of 4 split the
	// base64 stream inside a quantum; reassembly must still decode.
	payload := []byte("hello")
	for _, ll := range []int{MinLineLength, 6, 7, 9, 10, 11} {
		encoded, err := Encode(payload, ll)
		if err != nil {
			t.Fatalf("Encode(linelength %d): %v", ll, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(linelength %d): %v", ll, err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Errorf("round trip mismatch at linelength %d: got %x", ll, decoded)
		}
	}
}

func TestDecoderCarriesQuantumAcrossReset(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded, err := Encode(payload, MinLineLength)
	if err != nil {
		t.Fatal(err)
	}

	var d Decoder
	// Abandon a packet mid-quantum, then decode a fresh one with the same
	// decoder.
	if _, err := d.Feed(encoded[:4]); err != nil {
		t.Fatal(err)
	}
	d.Reset()

	var done bool
	for _, line := range bytes.SplitAfter(encoded, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		done, err = d.Feed(line)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
	}
	if !done {
		t.Fatal("decoder never completed after reset")
	}
	if !bytes.Equal(d.Payload(), payload) {
		t.Errorf("decode after reset = %x, want %x", d.Payload(), payload)
	}
}

func TestEncodeLineBounds(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1000)
	encoded, err := Encode(payload, 128)
	if err != nil {
		t.Fatal(err)
	}

	lines := bytes.SplitAfter(encoded, []byte{'\n'})
	// SplitAfter leaves a trailing empty slice when the data ends in \n.
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}

	for i, line := range lines {
		if len(line) > 128 {
			t.Errorf("line %d is %d bytes, exceeds line length 128", i, len(line))
		}
		if line[len(line)-1] != '\n' {
			t.Errorf("line %d is not newline terminated", i)
		}
		want := ContMarker
		if i == 0 {
			want = StartMarker
		}
		if line[0] != want[0] || line[1] != want[1] {
			t.Errorf("line %d marker = %02x %02x, want %02x %02x", i, line[0], line[1], want[0], want[1])
		}
	}
	if len(lines) < 2 {
		t.Fatalf("expected multi-line encoding, got %d lines", len(lines))
	}
}

func TestEncodeLineLengthTooSmall(t *testing.T) {
	if _, err := Encode([]byte("x"), MinLineLength-1); !errors.Is(err, ErrLineLengthTooSmall) {
		t.Errorf("Encode with tiny line length = %v, want ErrLineLengthTooSmall", err)
	}
}

func TestEncodedSizeMatchesEncode(t *testing.T) {
	for _, n := range []int{0, 1, 90, 91, 92, 512, 4096} {
		payload := bytes.Repeat([]byte{0x11}, n)
		for _, ll := range []int{8, 128, 8192} {
			encoded, err := Encode(payload, ll)
			if err != nil {
				t.Fatal(err)
			}
			size, err := EncodedSize(n, ll)
			if err != nil {
				t.Fatal(err)
			}
			if size != len(encoded) {
				t.Errorf("EncodedSize(%d, %d) = %d, want %d", n, ll, size, len(encoded))
			}
		}
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	payload := []byte("firmware chunk payload for corruption testing")
	encoded, err := Encode(payload, 32)
	if err != nil {
		t.Fatal(err)
	}

	for i := range encoded {
		corrupted := bytes.Clone(encoded)
		corrupted[i] ^= 0x01
		decoded, err := Decode(corrupted)
		if err == nil && !bytes.Equal(decoded, payload) {
			t.Errorf("flipping byte %d silently decoded wrong payload", i)
		}
	}
}

func TestDecodeIncomplete(t *testing.T) {
	payload := bytes.Repeat([]byte{0x33}, 500)
	encoded, err := Encode(payload, 64)
	if err != nil {
		t.Fatal(err)
	}

	// Drop the final line to simulate a truncated read.
	cut := bytes.LastIndexByte(encoded[:len(encoded)-1], '\n')
	if _, err := Decode(encoded[:cut+1]); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Decode(truncated) = %v, want ErrIncomplete", err)
	}
}

func TestDecoderBadMarker(t *testing.T) {
	var d Decoder
	if _, err := d.Feed([]byte{0x04, 0x14, 'A', 'A', 'A', 'A', '\n'}); !errors.Is(err, ErrBadMarker) {
		t.Errorf("continuation line before start = %v, want ErrBadMarker", err)
	}
	if d.Started() {
		t.Error("decoder claims started after rejected line")
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	// Hand-build a single-line frame whose CRC does not match the body.
	body := []byte("checksum coverage")
	pkt := make([]byte, 0, LengthFieldSize+len(body)+ChecksumSize)
	pkt = binary.BigEndian.AppendUint16(pkt, uint16(len(body)+ChecksumSize))
	pkt = append(pkt, body...)
	pkt = binary.BigEndian.AppendUint16(pkt, Checksum(body)^0xffff)

	line := append([]byte{}, StartMarker[:]...)
	line = base64.StdEncoding.AppendEncode(line, pkt)
	line = append(line, '\n')

	if _, err := Decode(line); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Decode(bad crc) = %v, want ErrChecksumMismatch", err)
	}
}
