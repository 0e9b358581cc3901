// Package mgmt provides typed management commands on top of a transport
// session: each operation is a thin mapping from domain arguments to an SMP
// request and from the response to a domain result. No command retries
// beyond the session's own policy.
package mgmt

import (
	"errors"
	"fmt"

	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/nmp"
	"github.com/flashtools/smpflash/internal/transport"
)

// ErrSlotNotFound reports that the device did not list the requested slot.
var ErrSlotNotFound = errors.New("slot not found on device")

// Client issues management commands over one session.
type Client struct {
	session *transport.Session
}

// NewClient wraps an open session.
func NewClient(s *transport.Session) *Client {
	return &Client{session: s}
}

// Session exposes the underlying session for transport tuning lookups.
func (c *Client) Session() *transport.Session {
	return c.session
}

// List reads the device's image slot states.
func (c *Client) List() ([]nmp.ImageSlot, error) {
	var rsp nmp.ImageStateRsp
	_, err := c.session.Exchange(nmp.OpRead, nmp.GroupImage, nmp.IDImageState, nmp.ImageStateReq{}, &rsp)
	if err != nil {
		return nil, fmt.Errorf("image list: %w", err)
	}
	return rsp.Images, nil
}

// UploadChunk sends one image chunk and returns the next offset the device
// expects. The reported offset is authoritative.
func (c *Client) UploadChunk(req nmp.ImageUploadReq) (uint32, error) {
	var rsp nmp.ImageUploadRsp
	_, err := c.session.Exchange(nmp.OpWrite, nmp.GroupImage, nmp.IDImageUpload, req, &rsp)
	if err != nil {
		return 0, err
	}
	return rsp.Off, nil
}

// UploadChunkSize returns the on-wire size of an upload request without
// sending it, for fitting chunks below the transport MTU.
func (c *Client) UploadChunkSize(req nmp.ImageUploadReq) (int, error) {
	return c.session.EncodedRequestSize(nmp.OpWrite, nmp.GroupImage, nmp.IDImageUpload, req)
}

// TestImage marks the image in the given slot for a one-shot test boot on
// the next reset.
func (c *Client) TestImage(slot int) ([]nmp.ImageSlot, error) {
	return c.setState(slot, false)
}

// ConfirmImage marks the image in the given slot as permanently confirmed.
func (c *Client) ConfirmImage(slot int) ([]nmp.ImageSlot, error) {
	return c.setState(slot, true)
}

// setState resolves the slot to its content hash and writes the desired
// image state. The state-write request addresses images by hash, not slot.
func (c *Client) setState(slot int, confirm bool) ([]nmp.ImageSlot, error) {
	slots, err := c.List()
	if err != nil {
		return nil, err
	}
	var hash []byte
	for _, s := range slots {
		if s.Slot == slot {
			hash = s.Hash
			break
		}
	}
	if hash == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	var rsp nmp.ImageStateRsp
	req := nmp.ImageStateWriteReq{Hash: hash, Confirm: confirm}
	if _, err := c.session.Exchange(nmp.OpWrite, nmp.GroupImage, nmp.IDImageState, req, &rsp); err != nil {
		return nil, fmt.Errorf("image state write: %w", err)
	}
	return rsp.Images, nil
}

// Erase erases the image in the given slot.
func (c *Client) Erase(slot uint8) error {
	var rsp nmp.ImageEraseRsp
	_, err := c.session.Exchange(nmp.OpWrite, nmp.GroupImage, nmp.IDImageErase, nmp.ImageEraseReq{Slot: slot}, &rsp)
	if err != nil {
		return fmt.Errorf("image erase: %w", err)
	}
	return nil
}

// Echo sends a text payload and returns what the device echoed back.
func (c *Client) Echo(message string) (string, error) {
	var rsp nmp.EchoRsp
	_, err := c.session.Exchange(nmp.OpWrite, nmp.GroupOS, nmp.IDOsEcho, nmp.EchoReq{D: message}, &rsp)
	if err != nil {
		return "", fmt.Errorf("echo: %w", err)
	}
	return rsp.R, nil
}

// Reset reboots the device. The device acknowledges before resetting and
// then drops off the bus, so a lost response after the write is treated as
// the expected disconnect rather than a failure.
func (c *Client) Reset() error {
	var rsp nmp.ResetRsp
	_, err := c.session.Exchange(nmp.OpWrite, nmp.GroupOS, nmp.IDOsReset, nmp.ResetReq{}, &rsp)
	if err != nil {
		var devErr *nmp.DeviceError
		if errors.As(err, &devErr) {
			return fmt.Errorf("reset: %w", err)
		}
		config.Debugf("reset response lost, assuming device is rebooting: %v", err)
	}
	return nil
}
