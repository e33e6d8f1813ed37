package gvcamera

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/hardware"
)

func leaderPacket(blockID uint16, width, height int) []byte {
	b := make([]byte, gvspHeaderLen+gvspLeaderExtraLen)
	binary.BigEndian.PutUint16(b[0:2], blockID)
	b[2] = gvspLeaderTag
	binary.BigEndian.PutUint16(b[3:5], uint16(width))
	binary.BigEndian.PutUint16(b[5:7], uint16(height))
	return b
}

func payloadPacket(blockID uint16, data []byte) []byte {
	b := make([]byte, gvspHeaderLen+len(data))
	binary.BigEndian.PutUint16(b[0:2], blockID)
	b[2] = gvspPayloadTag
	copy(b[gvspHeaderLen:], data)
	return b
}

func trailerPacket(blockID uint16) []byte {
	b := make([]byte, gvspHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], blockID)
	b[2] = gvspTrailerTag
	return b
}

func TestCameraReassemblesFrameFromGVSPPackets(t *testing.T) {
	packets := [][]byte{
		leaderPacket(1, 2, 2),
		payloadPacket(1, []byte{10, 20, 30, 40}),
		trailerPacket(1),
	}
	cam := New(NewMemorySource(packets))
	cam.EnableCallback()

	frames := make(chan hardware.Frame, 1)
	cam.RegisterFrameCallback(func(f hardware.Frame) {
		frames <- f
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cam.StartStreaming(ctx))

	select {
	case f := <-frames:
		assert.Equal(t, 2, f.Width)
		assert.Equal(t, 2, f.Height)
		assert.Equal(t, []float64{10, 20, 30, 40}, f.Pixels)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled frame")
	}
}

func TestCameraDropsFrameWhenCallbackDisabled(t *testing.T) {
	packets := [][]byte{
		leaderPacket(1, 1, 1),
		payloadPacket(1, []byte{5}),
		trailerPacket(1),
	}
	cam := New(NewMemorySource(packets))
	// callback left disabled

	called := false
	cam.RegisterFrameCallback(func(f hardware.Frame) { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cam.StartStreaming(ctx))
	require.NoError(t, cam.StopStreaming())
	cancel()

	assert.False(t, called)
}

func TestSendTriggerRejectedInHardwareMode(t *testing.T) {
	cam := New(NewMemorySource(nil))
	require.NoError(t, cam.SetTriggerMode(hardware.TriggerHardware))
	err := cam.SendTrigger()
	require.Error(t, err)
}

func TestMalformedPacketIsIgnored(t *testing.T) {
	packets := [][]byte{
		{0x00},
		leaderPacket(1, 1, 1),
		payloadPacket(1, []byte{9}),
		trailerPacket(1),
	}
	cam := New(NewMemorySource(packets))
	cam.EnableCallback()
	frames := make(chan hardware.Frame, 1)
	cam.RegisterFrameCallback(func(f hardware.Frame) { frames <- f })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cam.StartStreaming(ctx))

	select {
	case f := <-frames:
		assert.Equal(t, []float64{9}, f.Pixels)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled frame")
	}
}
