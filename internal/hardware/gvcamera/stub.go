//go:build !pcap
// +build !pcap

package gvcamera

import (
	"context"
	"fmt"
)

// LiveSource stub: built without the pcap tag, gopacket/pcap (which needs
// libpcap) is unavailable. Rebuild with -tags=pcap for real camera or
// recorded-session playback.
type LiveSource struct{}

func NewLiveSource(iface string, port int) (*LiveSource, error) {
	return nil, fmt.Errorf("gvcamera: live capture not enabled: rebuild with -tags=pcap")
}

func (s *LiveSource) Packets(ctx context.Context) (<-chan []byte, error) {
	return nil, fmt.Errorf("gvcamera: live capture not enabled: rebuild with -tags=pcap")
}

func (s *LiveSource) Close() error { return nil }

// PlaybackSource stub, see LiveSource.
type PlaybackSource struct{}

func NewPlaybackSource(pcapFile string, port int, speedMultiplier float64) (*PlaybackSource, error) {
	return nil, fmt.Errorf("gvcamera: pcap playback not enabled: rebuild with -tags=pcap")
}

func (s *PlaybackSource) Packets(ctx context.Context) (<-chan []byte, error) {
	return nil, fmt.Errorf("gvcamera: pcap playback not enabled: rebuild with -tags=pcap")
}

func (s *PlaybackSource) Close() error { return nil }
