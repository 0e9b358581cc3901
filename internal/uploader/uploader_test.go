package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/flashtools/smpflash/internal/mgmt"
	"github.com/flashtools/smpflash/internal/nmp"
	"github.com/flashtools/smpflash/internal/transport"
)

const (
	testMTU        = 4096
	testLineLength = 8192
	testSlot       = 1
)

var errTransient = errors.New("serial read interrupted")

func newTestClient(dev *transport.SimDevice) *mgmt.Client {
	cfg := transport.Config{
		LineLength: testLineLength,
		MTU:        testMTU,
		Timeout:    time.Second,
		Retries:    0,
	}
	return mgmt.NewClient(transport.NewSession(dev, cfg))
}

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i % 251)
	}
	return img
}

// countingDevice wraps a real client, recording upload calls and optionally
// failing the first few with a transient error.
type countingDevice struct {
	*mgmt.Client
	calls     int
	offsets   []uint32
	failFirst int
}

func (d *countingDevice) UploadChunk(req nmp.ImageUploadReq) (uint32, error) {
	d.calls++
	d.offsets = append(d.offsets, req.Off)
	if d.failFirst > 0 {
		d.failFirst--
		return 0, errTransient
	}
	return d.Client.UploadChunk(req)
}

func TestUploadCompletesLargeImage(t *testing.T) {
	sim := transport.NewSimDevice()
	dev := &countingDevice{Client: newTestClient(sim)}
	img := testImage(917504)

	u := New(dev, img, testSlot, WithMTU(testMTU))
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u.State() != StateComplete {
		t.Fatalf("state = %v, want complete", u.State())
	}

	// Every exchange must move the transfer forward: one chunk per call,
	// never a repeated or regressed offset.
	for i := 1; i < len(dev.offsets); i++ {
		if dev.offsets[i] <= dev.offsets[i-1] {
			t.Fatalf("offset regressed at call %d: %d -> %d", i, dev.offsets[i-1], dev.offsets[i])
		}
	}
	if min := len(img) / testMTU; dev.calls < min {
		t.Errorf("completed in %d exchanges, expected at least %d", dev.calls, min)
	}

	sum := sha256.Sum256(img)
	slots, err := dev.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var installed bool
	for _, s := range slots {
		if s.Slot == testSlot && bytes.Equal(s.Hash, sum[:]) {
			installed = true
		}
	}
	if !installed {
		t.Errorf("device does not hold the uploaded image: %+v", slots)
	}
}

func TestUploadChunksFitBudget(t *testing.T) {
	sim := transport.NewSimDevice()
	dev := &countingDevice{Client: newTestClient(sim)}
	img := testImage(10000)

	var sizes []int
	probe := &sizeProbe{Device: dev, sizes: &sizes}
	u := New(probe, img, testSlot, WithMTU(512))
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, size := range sizes {
		if size > 512 {
			t.Errorf("chunk %d encodes to %d bytes, budget 512", i, size)
		}
	}
}

// sizeProbe records the encoded size of every chunk actually sent.
type sizeProbe struct {
	Device
	sizes *[]int
}

func (p *sizeProbe) UploadChunk(req nmp.ImageUploadReq) (uint32, error) {
	size, err := p.Device.UploadChunkSize(req)
	if err != nil {
		return 0, err
	}
	*p.sizes = append(*p.sizes, size)
	return p.Device.UploadChunk(req)
}

func TestUploadFailsImmediatelyOnDeviceError(t *testing.T) {
	sim := transport.NewSimDevice()
	sim.UploadRc = nmp.RcInvalid
	dev := &countingDevice{Client: newTestClient(sim)}

	u := New(dev, testImage(1024), testSlot, WithMTU(testMTU), WithRetries(3))
	err := u.Run(context.Background())

	var devErr *nmp.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("got %v, want DeviceError", err)
	}
	if u.State() != StateFailed {
		t.Errorf("state = %v, want failed", u.State())
	}
	if dev.calls != 1 {
		t.Errorf("device error retried: %d upload calls, want 1", dev.calls)
	}
}

func TestUploadRetriesTransientThenSucceeds(t *testing.T) {
	sim := transport.NewSimDevice()
	dev := &countingDevice{Client: newTestClient(sim), failFirst: 2}

	u := New(dev, testImage(1024), testSlot, WithMTU(testMTU), WithRetries(3))
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u.State() != StateComplete {
		t.Errorf("state = %v, want complete", u.State())
	}
}

func TestUploadRetriesExhausted(t *testing.T) {
	sim := transport.NewSimDevice()
	dev := &countingDevice{Client: newTestClient(sim), failFirst: 100}

	u := New(dev, testImage(1024), testSlot, WithMTU(testMTU), WithRetries(2))
	err := u.Run(context.Background())
	if !errors.Is(err, errTransient) {
		t.Fatalf("got %v, want wrapped transient error", err)
	}
	if u.State() != StateFailed {
		t.Errorf("state = %v, want failed", u.State())
	}
	if dev.calls != 3 {
		t.Errorf("got %d attempts, want 3 (initial plus two retries)", dev.calls)
	}
}

func TestUploadStalledOffsetIsTerminal(t *testing.T) {
	sim := transport.NewSimDevice()
	sim.StallOffset = true
	dev := &countingDevice{Client: newTestClient(sim)}

	u := New(dev, testImage(1024), testSlot, WithMTU(testMTU), WithRetries(3))
	err := u.Run(context.Background())
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("got %v, want ErrNoProgress", err)
	}
	if dev.calls != 1 {
		t.Errorf("stalled offset retried: %d upload calls, want 1", dev.calls)
	}
}

func TestUploadResumesFromDeviceOffset(t *testing.T) {
	sim := transport.NewSimDevice()
	img := testImage(65536)

	// Abandon a first transfer partway through.
	ctx, cancel := context.WithCancel(context.Background())
	first := New(newTestClient(sim), img, testSlot, WithMTU(testMTU),
		WithProgress(func(p Progress) {
			if p.State == StateSending && p.Offset >= 16384 {
				cancel()
			}
		}))
	if err := first.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted run: got %v, want context.Canceled", err)
	}
	resumePoint := first.Offset()
	if resumePoint == 0 || resumePoint >= uint32(len(img)) {
		t.Fatalf("bad interruption point %d", resumePoint)
	}

	// A fresh run with the same bytes continues where the device left off.
	dev := &countingDevice{Client: newTestClient(sim)}
	second := New(dev, img, testSlot, WithMTU(testMTU))
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if dev.offsets[0] != 0 {
		t.Errorf("resume must start with an offset-zero chunk, got %d", dev.offsets[0])
	}
	if len(dev.offsets) > 1 && dev.offsets[1] < resumePoint {
		t.Errorf("second chunk at %d, want at least the interrupted offset %d", dev.offsets[1], resumePoint)
	}

	sum := sha256.Sum256(img)
	slots, _ := dev.List()
	var installed bool
	for _, s := range slots {
		if s.Slot == testSlot && bytes.Equal(s.Hash, sum[:]) {
			installed = true
		}
	}
	if !installed {
		t.Errorf("resumed upload did not install the image")
	}
}

func TestUploadSkipsWhenImageAlreadyInstalled(t *testing.T) {
	sim := transport.NewSimDevice()
	img := testImage(4096)

	if err := New(newTestClient(sim), img, testSlot, WithMTU(testMTU)).Run(context.Background()); err != nil {
		t.Fatalf("initial upload: %v", err)
	}

	dev := &countingDevice{Client: newTestClient(sim)}
	u := New(dev, img, testSlot, WithMTU(testMTU))
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if u.State() != StateComplete {
		t.Errorf("state = %v, want complete", u.State())
	}
	if dev.calls != 0 {
		t.Errorf("already-installed image re-sent %d chunks, want 0", dev.calls)
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		StateInit:     "init",
		StateProbing:  "probing",
		StateSending:  "sending",
		StateRetrying: "retrying",
		StateComplete: "complete",
		StateFailed:   "failed",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
