//go:build pcap
// +build pcap

package gvcamera

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PlaybackSource replays a captured .pcap file as a GVSP packet source,
// respecting original inter-packet timing scaled by SpeedMultiplier. This
// is the dev-mode backend: it lets the acquisition core run end-to-end
// against a recorded camera session without real hardware.
type PlaybackSource struct {
	handle          *pcap.Handle
	speedMultiplier float64
}

// NewPlaybackSource opens pcapFile for GVSP replay on the given UDP port.
func NewPlaybackSource(pcapFile string, port int, speedMultiplier float64) (*PlaybackSource, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return nil, fmt.Errorf("gvcamera: open pcap file %s: %w", pcapFile, err)
	}
	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("gvcamera: set filter %q: %w", filter, err)
	}
	if speedMultiplier <= 0 {
		speedMultiplier = 1.0
	}
	return &PlaybackSource{handle: handle, speedMultiplier: speedMultiplier}, nil
}

func (s *PlaybackSource) Packets(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())

	go func() {
		defer close(out)
		var lastTS time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok || packet == nil {
					return
				}
				captureTime := packet.Metadata().Timestamp
				if !lastTS.IsZero() {
					delay := captureTime.Sub(lastTS)
					scaled := time.Duration(float64(delay) / s.speedMultiplier)
					if scaled > 0 {
						select {
						case <-time.After(scaled):
						case <-ctx.Done():
							return
						}
					}
				}
				lastTS = captureTime

				udpLayer := packet.Layer(layers.LayerTypeUDP)
				if udpLayer == nil {
					continue
				}
				udp, ok := udpLayer.(*layers.UDP)
				if !ok || len(udp.Payload) == 0 {
					continue
				}
				select {
				case out <- udp.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *PlaybackSource) Close() error {
	s.handle.Close()
	return nil
}
