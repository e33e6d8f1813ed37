//go:build pcap
// +build pcap

package gvcamera

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// LiveSource captures GVSP UDP traffic from a network interface using
// gopacket/pcap, grounded on the teacher's live PCAP capture idiom.
type LiveSource struct {
	iface  string
	port   int
	handle *pcap.Handle
}

// NewLiveSource opens iface for live capture, filtering to UDP traffic on
// port (the GigE Vision streaming port negotiated at connection time).
func NewLiveSource(iface string, port int) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("gvcamera: open interface %s: %w", iface, err)
	}
	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("gvcamera: set filter %q: %w", filter, err)
	}
	return &LiveSource{iface: iface, port: port, handle: handle}, nil
}

func (s *LiveSource) Packets(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok || packet == nil {
					return
				}
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

func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
