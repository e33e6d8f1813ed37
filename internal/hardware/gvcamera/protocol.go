package gvcamera

import "encoding/binary"

// GVSP packet layout (simplified from the GigE Vision Streaming Protocol
// spec): a 2-byte block ID, a 1-byte packet format tag, and format-specific
// fields. Real GVSP carries far more (packet IDs, pixel format, payload
// type) but this is sufficient to drive reassembly for single-stream
// monochrome/RGB acquisition, which is all AcquisitionParameters exercises.
const (
	gvspLeaderTag  byte = 0x01
	gvspPayloadTag byte = 0x02
	gvspTrailerTag byte = 0x03

	gvspHeaderLen       = 3
	gvspLeaderExtraLen  = 4 // width(uint16) + height(uint16)
)

// parseGVSP decodes a single UDP payload into a gvspPacket. Malformed
// packets are dropped (ok=false) rather than erroring, matching the
// teacher's pcap reader's "skip non-matching packets" behavior.
func parseGVSP(raw []byte) (gvspPacket, bool) {
	if len(raw) < gvspHeaderLen {
		return gvspPacket{}, false
	}
	blockID := binary.BigEndian.Uint16(raw[0:2])
	tag := raw[2]

	switch tag {
	case gvspLeaderTag:
		if len(raw) < gvspHeaderLen+gvspLeaderExtraLen {
			return gvspPacket{}, false
		}
		width := int(binary.BigEndian.Uint16(raw[gvspHeaderLen : gvspHeaderLen+2]))
		height := int(binary.BigEndian.Uint16(raw[gvspHeaderLen+2 : gvspHeaderLen+4]))
		return gvspPacket{kind: blockLeader, blockID: blockID, width: width, height: height}, true
	case gvspPayloadTag:
		return gvspPacket{kind: blockPayload, blockID: blockID, payload: raw[gvspHeaderLen:]}, true
	case gvspTrailerTag:
		return gvspPacket{kind: blockTrailer, blockID: blockID}, true
	default:
		return gvspPacket{}, false
	}
}
