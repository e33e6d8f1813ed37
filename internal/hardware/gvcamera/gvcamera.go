// Package gvcamera implements hardware.Camera over a GigE-Vision-style
// streaming protocol: image data arrives as a sequence of UDP packets per
// frame (leader, payload blocks, trailer), captured via gopacket. A
// pcap-file playback backend lets development/dev-mode runs exercise the
// same reassembly path without real camera hardware, the way the
// teacher's lidar network package replays captured sensor traffic.
package gvcamera

import (
	"context"
	"fmt"
	"sync"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/hardware"
)

// blockKind distinguishes the three GVSP packet kinds this reassembler
// understands.
type blockKind int

const (
	blockLeader blockKind = iota
	blockPayload
	blockTrailer
)

// gvspPacket is a parsed GigE Vision Streaming Protocol packet.
type gvspPacket struct {
	kind      blockKind
	blockID   uint16
	width     int
	height    int
	payload   []byte
}

// Source supplies raw UDP datagrams to the reassembler. Implemented by the
// live capture backend (build tag pcap) and by the pcap-file playback
// backend (also build tag pcap, since both need libpcap/gopacket) .
type Source interface {
	// Packets returns a channel of raw UDP payloads; closed when the
	// source is exhausted or ctx is done.
	Packets(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Camera implements hardware.Camera by reassembling GVSP packets from a
// Source into complete frames.
type Camera struct {
	source Source

	mu              sync.Mutex
	triggerMode     hardware.TriggerMode
	exposureMs      float64
	gain            float64
	callback        hardware.FrameCallback
	callbackEnabled bool
	ready           bool
	skippedTicks    int

	inFlight map[uint16]*frameAssembly
	cancel   context.CancelFunc
	done     chan struct{}
}

type frameAssembly struct {
	width, height int
	buf           []float64
	gotLeader     bool
}

// New wraps a packet Source as a hardware.Camera.
func New(source Source) *Camera {
	return &Camera{
		source:   source,
		ready:    true,
		inFlight: make(map[uint16]*frameAssembly),
	}
}

func (c *Camera) StartStreaming(ctx context.Context) error {
	packets, err := c.source.Packets(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case raw, ok := <-packets:
				if !ok {
					return
				}
				c.handlePacket(raw)
			}
		}
	}()
	return nil
}

func (c *Camera) StopStreaming() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return c.source.Close()
}

func (c *Camera) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Camera) SendTrigger() error {
	c.mu.Lock()
	mode := c.triggerMode
	ready := c.ready
	c.mu.Unlock()

	if mode == hardware.TriggerHardware {
		return &acqerrors.ConfigurationError{Reason: "SendTrigger is invalid in HARDWARE trigger mode"}
	}
	if !ready {
		c.mu.Lock()
		c.skippedTicks++
		skipped := c.skippedTicks
		c.mu.Unlock()
		if skipped%100 == 0 {
			acqlog.Logf("gvcamera: camera not ready, skipped %d triggers", skipped)
		}
		return nil
	}
	// In a real GigE Vision device this writes the AcquisitionStart /
	// TriggerSoftware register over the control channel; the reassembler
	// only observes the resulting packet stream.
	return nil
}

func (c *Camera) SetTriggerMode(mode hardware.TriggerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerMode = mode
	return nil
}

func (c *Camera) SetExposureTimeMs(ms float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposureMs = ms
	return nil
}

func (c *Camera) SetAnalogGain(gain float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = gain
	return nil
}

func (c *Camera) RegisterFrameCallback(cb hardware.FrameCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

func (c *Camera) EnableCallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackEnabled = true
}

func (c *Camera) DisableCallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackEnabled = false
}

func (c *Camera) CallbackEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbackEnabled
}

func (c *Camera) handlePacket(raw []byte) {
	pkt, ok := parseGVSP(raw)
	if !ok {
		return
	}

	c.mu.Lock()
	switch pkt.kind {
	case blockLeader:
		c.inFlight[pkt.blockID] = &frameAssembly{
			width:     pkt.width,
			height:    pkt.height,
			buf:       make([]float64, 0, pkt.width*pkt.height),
			gotLeader: true,
		}
	case blockPayload:
		asm, ok := c.inFlight[pkt.blockID]
		if !ok || !asm.gotLeader {
			c.mu.Unlock()
			return
		}
		for _, b := range pkt.payload {
			asm.buf = append(asm.buf, float64(b))
		}
	case blockTrailer:
		asm, ok := c.inFlight[pkt.blockID]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.inFlight, pkt.blockID)
		cb := c.callback
		enabled := c.callbackEnabled
		c.mu.Unlock()

		if cb != nil && enabled {
			c.deliverSafely(cb, hardware.Frame{
				Pixels: asm.buf,
				Width:  asm.width,
				Height: asm.height,
			})
		}
		return
	}
	c.mu.Unlock()
}

func (c *Camera) deliverSafely(cb hardware.FrameCallback, f hardware.Frame) {
	defer func() {
		if r := recover(); r != nil {
			err := &acqerrors.FrameCallbackError{Cause: panicError{r}}
			acqlog.Logf("gvcamera: %v", err)
		}
	}()
	cb(f)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string {
	return fmt.Sprintf("%v", p.v)
}
