package track

import "github.com/pion/webrtc/v3"

type flow uint8

const (
	flowIncoming flow = iota
	flowOutgoing
)

// permits reports whether a packet of the given kind may cross a track in
// the given flow under the negotiated direction. Control traffic is always
// permitted so RTCP keeps flowing on sendonly/recvonly/inactive sections.
func permits(dir webrtc.RTPTransceiverDirection, kind MessageKind, f flow) bool {
	if kind == KindControl {
		return true
	}
	switch dir {
	case webrtc.RTPTransceiverDirectionSendrecv:
		return true
	case webrtc.RTPTransceiverDirectionSendonly:
		return f == flowOutgoing
	case webrtc.RTPTransceiverDirectionRecvonly:
		return f == flowIncoming
	default:
		return false
	}
}
