package track

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/sdp/v3"

	"github.com/ionorg/ion-track/pkg/logger"
	"github.com/ionorg/ion-track/pkg/rtpext"
	"github.com/pion/webrtc/v3"
)

// Logger is the package wide logger. Replace it before creating tracks to
// route logs into the application's sink.
var Logger logr.Logger = logger.New("info")

// Track is the per-stream endpoint between an application and an encrypted
// media transport. It owns the negotiated state of one media section,
// enforces the negotiated direction, runs the optional transform pipeline
// and tags outgoing media with the stream identifier extension.
//
// State reads may proceed concurrently; state writes are exclusive. Event
// callbacks are always invoked without holding the state lock, so they may
// call back into the track.
type Track struct {
	mu        sync.RWMutex
	cfg       Config
	desc      MediaDescription
	midExtID  uint8
	handler   MediaHandler
	transport Transport

	closed    atomicBool
	recvQueue *ByteQueue
	metrics   *Metrics

	cbMu        sync.Mutex
	onOpen      func()
	onClosed    func()
	onAvailable func(count int)
	onMessage   func(msg *Message)
}

// NewTrack creates a track bound to the connection-scoped cfg with an
// initial media description. The mid must be non-empty and at most 16 bytes
// so it fits a one-byte extension element. A nil metrics sink falls back to
// unregistered counters.
func NewTrack(cfg Config, desc MediaDescription, m *Metrics) (*Track, error) {
	cfg.setDefaults()
	if desc.Mid == "" {
		return nil, errEmptyMid
	}
	if len(desc.Mid) > maxMidLen {
		return nil, ErrMidTooLong
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	t := &Track{
		cfg:     cfg,
		metrics: m,
		recvQueue: NewByteQueue(cfg.RecvQueueLimit, func(msg *Message) int {
			return len(msg.Data)
		}),
	}
	t.mu.Lock()
	err := t.setDescriptionLocked(desc)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Mid returns the stable media stream identifier.
func (t *Track) Mid() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc.Mid
}

// Direction returns the negotiated direction.
func (t *Track) Direction() webrtc.RTPTransceiverDirection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc.Direction
}

// Description returns a snapshot of the negotiated media description.
func (t *Track) Description() MediaDescription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc.clone()
}

// SetDescription replaces the negotiated description. The mid must match
// the track's mid. The stream identifier extension mapping is ensured under
// the same update, so a concurrent reader never observes a description
// without it. The attached handler, if any, is notified afterwards.
func (t *Track) SetDescription(desc MediaDescription) error {
	t.mu.Lock()
	if desc.Mid != t.desc.Mid {
		t.mu.Unlock()
		return ErrMidMismatch
	}
	if err := t.setDescriptionLocked(desc); err != nil {
		t.mu.Unlock()
		return err
	}
	handler := t.handler
	snapshot := t.desc.clone()
	t.mu.Unlock()

	if handler != nil {
		handler.Media(snapshot)
	}
	return nil
}

// setDescriptionLocked stores desc, allocating a one-byte extension id for
// the sdes:mid URI when the table has none yet (RFC 8843 requires the
// extension on every bundled section). Caller holds t.mu.
func (t *Track) setDescriptionLocked(desc MediaDescription) error {
	desc = desc.clone()
	id, ok := desc.ExtID(sdp.SDESMidURI)
	if !ok {
		var err error
		if id, err = desc.nextExtID(); err != nil {
			return err
		}
		desc.ExtMap[sdp.SDESMidURI] = id
	}
	t.desc = desc
	t.midExtID = id
	return nil
}

func (t *Track) midExtensionID() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.midExtID
}

// Open attaches the transport carrying this track's media and fires the
// open event. It fails with ErrMediaUnsupported when media is disabled for
// the connection.
func (t *Track) Open(transport Transport) error {
	t.mu.Lock()
	if t.cfg.MediaDisabled {
		t.mu.Unlock()
		return ErrMediaUnsupported
	}
	t.transport = transport
	t.mu.Unlock()

	if transport != nil && !t.closed.get() {
		t.triggerOpen()
	}
	return nil
}

// Close closes the track. The closed event fires exactly once no matter how
// many times Close is called; afterwards sends fail with ErrTrackClosed and
// no further events are delivered.
func (t *Track) Close() {
	if !t.closed.swap(true) {
		Logger.V(1).Info("closing track", "mid", t.Mid())
		t.triggerClosed()
	}
	t.SetMediaHandler(nil)
	t.resetCallbacks()
}

// IsClosed reports whether Close has been called.
func (t *Track) IsClosed() bool {
	return t.closed.get()
}

// IsOpen reports whether the track can currently carry media: not closed,
// transport attached and media enabled.
func (t *Track) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed.get() && t.transport != nil && !t.cfg.MediaDisabled
}

// MaxMessageSize is the largest payload a sender should hand to Outgoing:
// the configured MTU minus the RTP, UDP and IPv6 header overhead.
func (t *Track) MaxMessageSize() int {
	return t.cfg.MTU - fixedOverhead
}

// AvailableAmount is the accumulated byte size of queued inbound packets.
func (t *Track) AvailableAmount() int {
	return t.recvQueue.Amount()
}

// Receive pops the next inbound packet. Control packets are copied since
// the same message may be forwarded into multiple tracks; data packets are
// moved. Returns nil when the queue is empty.
func (t *Track) Receive() *Message {
	msg := t.recvQueue.Pop()
	if msg != nil && msg.Kind == KindControl {
		return msg.copy()
	}
	return msg
}

// Peek returns the next inbound packet without removing it, nil when the
// queue is empty. Control packets are copied, as in Receive.
func (t *Track) Peek() *Message {
	msg := t.recvQueue.Peek()
	if msg != nil && msg.Kind == KindControl {
		return msg.copy()
	}
	return msg
}

// Incoming is the entry point for packets arriving from the transport. Data
// packets against the negotiated direction are counted and dropped. The
// batch produced by the inbound transform chain is admitted to the receive
// queue in order; on the first rejection the remainder of the batch is
// abandoned so a full queue is not partially drained into.
func (t *Track) Incoming(msg *Message) {
	if msg == nil {
		return
	}
	if !permits(t.Direction(), msg.Kind, flowIncoming) {
		t.metrics.BadDirection.Inc()
		return
	}

	msgs := []*Message{msg}
	if handler := t.MediaHandler(); handler != nil {
		msgs = handler.IncomingChain(msgs, t.sendNow)
	}

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if !t.recvQueue.Push(m) {
			t.metrics.QueueFull.Inc()
			return
		}
		t.triggerAvailable(t.recvQueue.Size())
		t.flushMessages()
	}
}

// Outgoing is the entry point for packets the application sends. Without a
// handler attached, a packet that is structurally RTCP is reclassified as
// control so protocol traffic stays sendable regardless of direction. With
// a handler attached the outbound chain runs first and every resulting
// packet is sent; the returned result reflects only the last send attempt.
func (t *Track) Outgoing(msg *Message) (bool, error) {
	if t.closed.get() {
		return false, ErrTrackClosed
	}

	handler := t.MediaHandler()
	if handler == nil && msg.Kind != KindControl && isRTCP(msg.Data) {
		msg.Kind = KindControl
	}

	if !permits(t.Direction(), msg.Kind, flowOutgoing) {
		t.metrics.BadDirection.Inc()
		return false, nil
	}

	if handler == nil {
		return t.transportSend(msg)
	}

	msgs := handler.OutgoingChain([]*Message{msg}, t.sendNow)
	ok := false
	var err error
	for _, m := range msgs {
		if m == nil {
			continue
		}
		ok, err = t.transportSend(m)
	}
	return ok, err
}

// sendNow is handed to handler chains for out-of-band sends.
func (t *Track) sendNow(msg *Message) bool {
	if msg == nil {
		return false
	}
	if msg.Kind != KindControl && isRTCP(msg.Data) {
		msg.Kind = KindControl
	}
	ok, err := t.transportSend(msg)
	if err != nil {
		Logger.V(1).Info("side-channel send failed", "error", err.Error())
		return false
	}
	return ok
}

// transportSend marks the packet's priority, tags outgoing media with the
// stream identifier extension and hands it to the attached transport.
func (t *Track) transportSend(msg *Message) (bool, error) {
	t.mu.RLock()
	if t.cfg.MediaDisabled {
		t.mu.RUnlock()
		return false, ErrMediaUnsupported
	}
	transport := t.transport
	mediaType := t.desc.Type
	mid := t.desc.Mid
	extID := t.midExtID
	t.mu.RUnlock()

	if transport == nil {
		return false, ErrTrackClosed
	}

	if mediaType == "audio" {
		msg.DSCP = dscpExpeditedForwarding
	} else {
		msg.DSCP = dscpAssuredForwarding42
	}

	if msg.Kind == KindData && extID != 0 {
		tagged, err := rtpext.AddExtension(msg.Data, extID, []byte(mid))
		if err != nil {
			Logger.V(1).Info("mid tagging skipped", "mid", mid, "error", err.Error())
		} else {
			msg.Data = tagged
		}
	}

	return transport.SendMedia(msg), nil
}

// SetMediaHandler swaps the attached transform handler. A new handler is
// immediately notified of the current description so it never operates on
// stale state.
func (t *Track) SetMediaHandler(handler MediaHandler) {
	t.mu.Lock()
	t.handler = handler
	snapshot := t.desc.clone()
	t.mu.Unlock()

	if handler != nil {
		handler.Media(snapshot)
	}
}

// MediaHandler returns the attached transform handler, nil when none.
func (t *Track) MediaHandler() MediaHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

// OnOpen sets the callback fired when a transport is attached.
func (t *Track) OnOpen(fn func()) {
	t.cbMu.Lock()
	t.onOpen = fn
	t.cbMu.Unlock()
}

// OnClosed sets the callback fired once when the track closes.
func (t *Track) OnClosed(fn func()) {
	t.cbMu.Lock()
	t.onClosed = fn
	t.cbMu.Unlock()
}

// OnAvailable sets the callback fired with the queue item count after each
// admitted inbound packet.
func (t *Track) OnAvailable(fn func(count int)) {
	t.cbMu.Lock()
	t.onAvailable = fn
	t.cbMu.Unlock()
}

// OnMessage sets a callback receiving inbound packets directly. Already
// queued packets are flushed to it immediately, and later arrivals bypass
// the queue.
func (t *Track) OnMessage(fn func(msg *Message)) {
	t.cbMu.Lock()
	t.onMessage = fn
	t.cbMu.Unlock()
	t.flushMessages()
}

func (t *Track) triggerOpen() {
	t.cbMu.Lock()
	fn := t.onOpen
	t.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Track) triggerClosed() {
	t.cbMu.Lock()
	fn := t.onClosed
	t.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Track) triggerAvailable(count int) {
	t.cbMu.Lock()
	fn := t.onAvailable
	t.cbMu.Unlock()
	if fn != nil {
		fn(count)
	}
}

func (t *Track) flushMessages() {
	for {
		t.cbMu.Lock()
		fn := t.onMessage
		t.cbMu.Unlock()
		if fn == nil {
			return
		}
		msg := t.Receive()
		if msg == nil {
			return
		}
		fn(msg)
	}
}

func (t *Track) resetCallbacks() {
	t.cbMu.Lock()
	t.onOpen = nil
	t.onClosed = nil
	t.onAvailable = nil
	t.onMessage = nil
	t.cbMu.Unlock()
}
