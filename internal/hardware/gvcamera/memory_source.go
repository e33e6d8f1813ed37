package gvcamera

import "context"

// MemorySource feeds a fixed slice of raw UDP payloads to the reassembler,
// independent of the pcap build tag. Used by tests and by any deployment
// that already has de-encapsulated GVSP frames (e.g. replayed from a
// non-pcap capture format) rather than a live or recorded packet stream.
type MemorySource struct {
	packets [][]byte
}

// NewMemorySource wraps packets for sequential delivery.
func NewMemorySource(packets [][]byte) *MemorySource {
	return &MemorySource{packets: packets}
}

func (s *MemorySource) Packets(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, len(s.packets))
	for _, p := range s.packets {
		out <- p
	}
	close(out)
	return out, nil
}

func (s *MemorySource) Close() error { return nil }
