package track

// SendFunc lets a handler inject out-of-band packets, such as generated
// RTCP feedback, straight onto the transport while a chain is running.
type SendFunc func(msg *Message) bool

// MediaHandler is an optional transform pipeline attached to a track. The
// chains receive a batch of packets and may grow, shrink or replace it; the
// returned batch continues down the regular path.
type MediaHandler interface {
	// Media notifies the handler of the current negotiated description.
	// Called on attach and after every description replacement.
	Media(desc MediaDescription)
	// IncomingChain transforms packets arriving from the transport before
	// they are queued for the application.
	IncomingChain(msgs []*Message, send SendFunc) []*Message
	// OutgoingChain transforms packets the application sends before they
	// reach the transport.
	OutgoingChain(msgs []*Message, send SendFunc) []*Message
}

// Transport delivers media packets to the wire. The track holds the
// reference only while attached and never keeps the transport alive; an
// absent transport means the track is not open.
type Transport interface {
	SendMedia(msg *Message) bool
}
