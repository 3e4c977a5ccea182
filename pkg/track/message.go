package track

// MessageKind tags a packet as media data or control traffic.
type MessageKind uint8

const (
	// KindData is an RTP media packet with exactly one consumer.
	KindData MessageKind = iota
	// KindControl is an RTCP packet; the same control message may be
	// forwarded into multiple tracks, so consumers get a copy.
	KindControl
)

// Recommended per-flow DSCP markings, RFC 8837 section 5.
const (
	dscpExpeditedForwarding = 46 // EF, used for audio
	dscpAssuredForwarding42 = 36 // AF42, used for everything else
)

// Message is a single packet crossing a track.
type Message struct {
	Data []byte
	Kind MessageKind
	// DSCP is the network priority marking, assigned on the send path.
	DSCP uint8
}

func (m *Message) copy() *Message {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	return &Message{Data: data, Kind: m.Kind, DSCP: m.DSCP}
}

// isRTCP applies the RFC 5761 demultiplexing rule: payload types 64 to 95,
// after stripping the marker bit, belong to RTCP.
func isRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	pt := buf[1] & 0x7F
	return pt >= 64 && pt < 96
}
