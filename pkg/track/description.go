package track

import "github.com/pion/webrtc/v3"

// One-byte extension ids live in [1,14]; 15 is reserved and ids above need
// the two-byte encoding.
const (
	minExtensionID = 1
	maxExtensionID = 14
)

// MediaDescription is the negotiated view of a single media section bound
// to a track.
type MediaDescription struct {
	// Mid is the stable media stream identifier. It must match the track's
	// mid for the lifetime of the track.
	Mid string
	// Type is the media type, "audio" or "video".
	Type string
	// Direction is the negotiated send/receive direction.
	Direction webrtc.RTPTransceiverDirection
	// ExtMap maps a header extension URI to its negotiated one-byte id.
	ExtMap map[string]uint8
}

// ExtID looks up the negotiated extension id for the given URI.
func (d MediaDescription) ExtID(uri string) (uint8, bool) {
	id, ok := d.ExtMap[uri]
	return id, ok
}

// nextExtID returns the lowest extension id not yet present in the table.
func (d MediaDescription) nextExtID() (uint8, error) {
	used := [maxExtensionID + 1]bool{}
	for _, id := range d.ExtMap {
		if id <= maxExtensionID {
			used[id] = true
		}
	}
	for id := uint8(minExtensionID); id <= maxExtensionID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, errNoFreeExtensionID
}

func (d MediaDescription) clone() MediaDescription {
	out := d
	out.ExtMap = make(map[string]uint8, len(d.ExtMap))
	for uri, id := range d.ExtMap {
		out.ExtMap[uri] = id
	}
	return out
}
