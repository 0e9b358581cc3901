// Package uploader drives a chunked firmware image transfer as an explicit
// state machine. The device-reported offset is the single source of truth
// for progress: every chunk names its offset, so retries and resumed
// transfers are idempotent from the device's point of view.
package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/nmp"
)

// State identifies one phase of an upload.
type State int

const (
	StateInit State = iota
	StateProbing
	StateSending
	StateRetrying
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateProbing:
		return "probing"
	case StateSending:
		return "sending"
	case StateRetrying:
		return "retrying"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNoProgress reports a device that acknowledges chunks without
	// ever advancing its expected offset.
	ErrNoProgress = errors.New("device offset is not advancing")

	// ErrMTUTooSmall reports a transport budget too small to fit even a
	// minimal chunk after encoding overhead.
	ErrMTUTooSmall = errors.New("mtu too small for any chunk")
)

// Device is the command surface the uploader needs. *mgmt.Client
// satisfies it; tests may substitute their own.
type Device interface {
	List() ([]nmp.ImageSlot, error)
	UploadChunk(req nmp.ImageUploadReq) (uint32, error)
	UploadChunkSize(req nmp.ImageUploadReq) (int, error)
}

// Progress is reported to the callback after every state change and every
// accepted chunk.
type Progress struct {
	State  State
	Offset uint32
	Total  uint32
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithMTU bounds the encoded size of each chunk request.
func WithMTU(mtu int) Option {
	return func(u *Uploader) {
		if mtu > 0 {
			u.mtu = mtu
		}
	}
}

// WithRetries sets how many times a chunk is retried at the same offset
// after a transient failure.
func WithRetries(retries int) Option {
	return func(u *Uploader) {
		if retries >= 0 {
			u.retries = retries
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(u *Uploader) {
		if fn != nil {
			u.progress = fn
		}
	}
}

// Uploader transfers one image to one slot. It is single use: create one
// per upload invocation.
type Uploader struct {
	dev      Device
	image    []byte
	slot     uint8
	sha      []byte
	mtu      int
	retries  int
	progress func(Progress)

	state   State
	off     uint32
	attempt int
	lastErr error
	err     error
}

// New prepares an upload of image into the given slot. The content hash is
// computed once here and reused for resume detection and the first chunk.
func New(dev Device, image []byte, slot uint8, opts ...Option) *Uploader {
	sum := sha256.Sum256(image)
	u := &Uploader{
		dev:      dev,
		image:    image,
		slot:     slot,
		sha:      sum[:],
		mtu:      config.DefaultMTU,
		retries:  config.DefaultRetries,
		progress: func(Progress) {},
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State returns the current state of the upload.
func (u *Uploader) State() State {
	return u.state
}

// Offset returns the last device-confirmed offset.
func (u *Uploader) Offset() uint32 {
	return u.off
}

// Run executes the upload to a terminal state. It returns nil from
// StateComplete and the triggering error from StateFailed. Cancelling the
// context abandons the transfer between chunks; the device keeps its
// partial image and a later run with the same bytes resumes it.
func (u *Uploader) Run(ctx context.Context) error {
	total := uint32(len(u.image))
	for {
		if err := ctx.Err(); err != nil {
			return u.fail(err)
		}

		switch u.state {
		case StateInit:
			u.setState(StateProbing)

		case StateProbing:
			if u.probe(total) {
				u.setState(StateComplete)
				continue
			}
			u.setState(StateSending)

		case StateSending:
			if err := u.sendChunk(total); err != nil {
				var devErr *nmp.DeviceError
				if errors.As(err, &devErr) || errors.Is(err, ErrNoProgress) || errors.Is(err, ErrMTUTooSmall) {
					return u.fail(err)
				}
				u.lastErr = err
				u.setState(StateRetrying)
				continue
			}
			u.attempt = 0
			u.report()
			if u.off >= total {
				u.setState(StateComplete)
			}

		case StateRetrying:
			u.attempt++
			if u.attempt > u.retries {
				return u.fail(fmt.Errorf("offset %d: retries exhausted: %w", u.off, u.lastErr))
			}
			config.Debugf("retrying chunk at offset %d, attempt %d of %d", u.off, u.attempt, u.retries)
			u.setState(StateSending)

		case StateComplete:
			return nil

		case StateFailed:
			return u.err
		}
	}
}

// probe reports whether the device already holds the complete image in the
// target slot. A failed list is not fatal: the upload just starts at zero.
func (u *Uploader) probe(total uint32) bool {
	slots, err := u.dev.List()
	if err != nil {
		config.Debugf("slot probe failed, starting from zero: %v", err)
		return false
	}
	for _, s := range slots {
		if s.Slot == int(u.slot) && bytes.Equal(s.Hash, u.sha) {
			u.off = total
			return true
		}
	}
	return false
}

func (u *Uploader) sendChunk(total uint32) error {
	chunkLen, err := u.fitChunk(total)
	if err != nil {
		return err
	}

	req := nmp.ImageUploadReq{
		Image: u.slot,
		Off:   u.off,
		Data:  u.image[u.off : u.off+chunkLen],
	}
	if u.off == 0 {
		req.Len = total
		req.Sha = u.sha
	}

	newOff, err := u.dev.UploadChunk(req)
	if err != nil {
		return err
	}
	if newOff == u.off && chunkLen > 0 {
		return fmt.Errorf("offset %d: %w", u.off, ErrNoProgress)
	}
	// The device decides where the transfer stands, including jumping
	// ahead on a resumed upload or back after a rejected chunk.
	u.off = newOff
	return nil
}

// fitChunk picks the largest chunk length whose encoded request stays
// within the transport budget, shrinking from the budget by roughly the
// base64 overage until the frame fits.
func (u *Uploader) fitChunk(total uint32) (uint32, error) {
	remaining := total - u.off
	try := remaining
	if try > uint32(u.mtu) {
		try = uint32(u.mtu)
	}
	for {
		req := nmp.ImageUploadReq{
			Image: u.slot,
			Off:   u.off,
			Data:  u.image[u.off : u.off+try],
		}
		if u.off == 0 {
			req.Len = total
			req.Sha = u.sha
		}
		size, err := u.dev.UploadChunkSize(req)
		if err != nil {
			return 0, err
		}
		if size <= u.mtu {
			return try, nil
		}
		over := uint32(size - u.mtu)
		reduce := over*3/4 + 3
		if reduce >= try {
			return 0, fmt.Errorf("chunk of %d bytes encodes to %d: %w", try, size, ErrMTUTooSmall)
		}
		try -= reduce
	}
}

func (u *Uploader) setState(s State) {
	u.state = s
	u.report()
}

func (u *Uploader) report() {
	u.progress(Progress{State: u.state, Offset: u.off, Total: uint32(len(u.image))})
}

func (u *Uploader) fail(err error) error {
	u.err = fmt.Errorf("upload failed at offset %d: %w", u.off, err)
	u.setState(StateFailed)
	return u.err
}
