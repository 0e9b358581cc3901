package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/frame"
	"github.com/flashtools/smpflash/internal/nmp"
)

// simLineLength is the line length the simulated device uses for its own
// responses.
const simLineLength = 8192

// SimDevice is an in-memory MCUmgr device reachable through the special
// device name "test". It answers image state, image upload, image erase,
// echo and reset requests, tracks upload offsets like a real bootloader
// (including sha-based resume), and offers fault injection hooks for tests.
type SimDevice struct {
	rx  bytes.Buffer
	tx  bytes.Buffer
	dec frame.Decoder

	Slots []nmp.ImageSlot

	upload struct {
		active bool
		slot   uint8
		length uint32
		off    uint32
		sha    []byte
	}

	// Fault injection for tests. Zero values mean normal behavior.
	DropResponses int  // swallow the next n responses entirely
	UploadRc      int  // reject upload chunks with this result code
	StallOffset   bool // answer uploads without advancing the offset
	StaleSeqFirst bool // prepend one response with a stale sequence number
}

// NewSimDevice returns a simulated device with one active image in slot 0.
func NewSimDevice() *SimDevice {
	hash, _ := hex.DecodeString("61ddbce8f52e53715f57b360a5af0700ba17122114c94a11b86d9097f7e09cc3")
	return &SimDevice{
		Slots: []nmp.ImageSlot{{
			Slot:     0,
			Version:  "1.0.0",
			Hash:     hash,
			Bootable: true,
			Active:   true,
		}},
	}
}

// Write consumes request bytes from the host. Complete frames are decoded
// and answered immediately into the read buffer.
func (d *SimDevice) Write(p []byte) (int, error) {
	d.rx.Write(p)
	for {
		data := d.rx.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := make([]byte, i+1)
		d.rx.Read(line)

		done, err := d.dec.Feed(line)
		if err != nil {
			d.dec.Reset()
			return len(p), fmt.Errorf("simulated device: %w", err)
		}
		if done {
			d.handle(d.dec.Payload())
			d.dec.Reset()
		}
	}
}

// Read hands buffered response bytes to the host. An empty buffer behaves
// like a serial poll timeout: zero bytes, no error.
func (d *SimDevice) Read(p []byte) (int, error) {
	if d.tx.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return d.tx.Read(p)
}

func (d *SimDevice) SetReadTimeout(time.Duration) error { return nil }

func (d *SimDevice) Close() error { return nil }

func (d *SimDevice) handle(packet []byte) {
	hdr, err := nmp.ParseHeader(packet)
	if err != nil {
		return
	}
	body := packet[nmp.HeaderSize:]

	switch {
	case hdr.Group == nmp.GroupImage && hdr.ID == nmp.IDImageState && hdr.Op == nmp.OpRead:
		d.respond(hdr, nmp.ImageStateRsp{Images: d.Slots})

	case hdr.Group == nmp.GroupImage && hdr.ID == nmp.IDImageState && hdr.Op == nmp.OpWrite:
		var req nmp.ImageStateWriteReq
		if err := cbor.Unmarshal(body, &req); err != nil {
			return
		}
		for i := range d.Slots {
			if bytes.Equal(d.Slots[i].Hash, req.Hash) {
				if req.Confirm {
					d.Slots[i].Confirmed = true
					d.Slots[i].Permanent = true
				} else {
					d.Slots[i].Pending = true
				}
			}
		}
		d.respond(hdr, nmp.ImageStateRsp{Images: d.Slots})

	case hdr.Group == nmp.GroupImage && hdr.ID == nmp.IDImageUpload:
		var req nmp.ImageUploadReq
		if err := cbor.Unmarshal(body, &req); err != nil {
			return
		}
		d.handleUpload(hdr, req)

	case hdr.Group == nmp.GroupImage && hdr.ID == nmp.IDImageErase:
		var req nmp.ImageEraseReq
		if err := cbor.Unmarshal(body, &req); err != nil {
			return
		}
		for i := range d.Slots {
			if d.Slots[i].Slot == int(req.Slot) {
				d.Slots = append(d.Slots[:i], d.Slots[i+1:]...)
				break
			}
		}
		d.respond(hdr, nmp.ImageEraseRsp{})

	case hdr.Group == nmp.GroupOS && hdr.ID == nmp.IDOsEcho:
		var req nmp.EchoReq
		if err := cbor.Unmarshal(body, &req); err != nil {
			return
		}
		d.respond(hdr, nmp.EchoRsp{R: req.D})

	case hdr.Group == nmp.GroupOS && hdr.ID == nmp.IDOsReset:
		d.upload.active = false
		d.respond(hdr, nmp.ResetRsp{})
	}
}

func (d *SimDevice) handleUpload(hdr nmp.Header, req nmp.ImageUploadReq) {
	if d.UploadRc != 0 {
		d.respond(hdr, nmp.ImageUploadRsp{Rc: d.UploadRc, Off: req.Off})
		return
	}
	if d.StallOffset {
		d.respond(hdr, nmp.ImageUploadRsp{Off: req.Off})
		return
	}

	u := &d.upload
	if req.Off == 0 {
		// A first chunk carrying the sha of an upload already in flight
		// resumes it: report the current offset instead of restarting.
		if u.active && u.off > 0 && bytes.Equal(req.Sha, u.sha) && req.Len == u.length {
			config.Debugf("sim: resuming upload at offset %d", u.off)
			d.respond(hdr, nmp.ImageUploadRsp{Off: u.off})
			return
		}
		u.active = true
		u.slot = req.Image
		u.length = req.Len
		u.off = 0
		u.sha = bytes.Clone(req.Sha)
	}

	if !u.active || req.Off != u.off {
		// Out-of-order chunk: re-report the expected offset.
		d.respond(hdr, nmp.ImageUploadRsp{Off: u.off})
		return
	}

	u.off += uint32(len(req.Data))
	if u.off > u.length {
		u.off = u.length
	}
	if u.off == u.length {
		u.active = false
		d.installImage(u.slot, u.sha)
	}
	d.respond(hdr, nmp.ImageUploadRsp{Off: u.off})
}

// installImage records a completed upload as a slot entry.
func (d *SimDevice) installImage(slot uint8, sha []byte) {
	for i := range d.Slots {
		if d.Slots[i].Slot == int(slot) {
			d.Slots[i].Hash = bytes.Clone(sha)
			d.Slots[i].Version = "0.0.0"
			return
		}
	}
	d.Slots = append(d.Slots, nmp.ImageSlot{
		Slot:     int(slot),
		Version:  "0.0.0",
		Hash:     bytes.Clone(sha),
		Bootable: true,
	})
}

func (d *SimDevice) respond(req nmp.Header, body any) {
	if d.DropResponses > 0 {
		d.DropResponses--
		return
	}
	if d.StaleSeqFirst {
		d.StaleSeqFirst = false
		d.write(nmp.ResponseOp(req.Op), req.Group, req.ID, req.Seq+1, body)
	}
	d.write(nmp.ResponseOp(req.Op), req.Group, req.ID, req.Seq, body)
}

func (d *SimDevice) write(op uint8, group uint16, id, seq uint8, body any) {
	packet, err := nmp.EncodeRequest(op, group, id, seq, body)
	if err != nil {
		return
	}
	wire, err := frame.Encode(packet, simLineLength)
	if err != nil {
		return
	}
	d.tx.Write(wire)
}
