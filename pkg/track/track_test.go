package track

import (
	"sync"
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []*Message
	// respond decides the per-message send result; nil means success.
	respond func(msg *Message) bool
}

func (f *fakeTransport) SendMedia(msg *Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.respond != nil {
		return f.respond(msg)
	}
	return true
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeHandler struct {
	descs    []MediaDescription
	incoming func(msgs []*Message, send SendFunc) []*Message
	outgoing func(msgs []*Message, send SendFunc) []*Message
}

func (h *fakeHandler) Media(desc MediaDescription) {
	h.descs = append(h.descs, desc)
}

func (h *fakeHandler) IncomingChain(msgs []*Message, send SendFunc) []*Message {
	if h.incoming != nil {
		return h.incoming(msgs, send)
	}
	return msgs
}

func (h *fakeHandler) OutgoingChain(msgs []*Message, send SendFunc) []*Message {
	if h.outgoing != nil {
		return h.outgoing(msgs, send)
	}
	return msgs
}

func newTestTrack(t *testing.T, cfg Config, mediaType string, dir webrtc.RTPTransceiverDirection) *Track {
	tr, err := NewTrack(cfg, MediaDescription{
		Mid:       "0",
		Type:      mediaType,
		Direction: dir,
	}, NewMetrics(nil))
	require.NoError(t, err)
	return tr
}

func rtpBuf(t *testing.T, payload []byte) []byte {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 42,
			SSRC:           0xdeadbeef,
		},
		Payload: payload,
	}
	buf, err := p.Marshal()
	require.NoError(t, err)
	return buf
}

func rtcpBuf(t *testing.T) []byte {
	buf, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2},
	})
	require.NoError(t, err)
	return buf
}

func TestNewTrackValidation(t *testing.T) {
	_, err := NewTrack(Config{}, MediaDescription{}, nil)
	assert.Error(t, err)

	_, err = NewTrack(Config{}, MediaDescription{Mid: "01234567890123456"}, nil)
	assert.Equal(t, ErrMidTooLong, err)
}

func TestNewTrackAllocatesMidExtension(t *testing.T) {
	tr, err := NewTrack(Config{}, MediaDescription{
		Mid: "0",
		ExtMap: map[string]uint8{
			sdp.TransportCCURI:     1,
			sdp.SDESRTPStreamIDURI: 2,
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), tr.Description().ExtMap[sdp.SDESMidURI],
		"lowest unused id must be allocated")

	tr, err = NewTrack(Config{}, MediaDescription{
		Mid:    "0",
		ExtMap: map[string]uint8{sdp.SDESMidURI: 7},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), tr.Description().ExtMap[sdp.SDESMidURI],
		"an existing mapping must be reused")
}

func TestSetDescriptionMidMismatch(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	err := tr.SetDescription(MediaDescription{Mid: "1", Type: "video"})
	assert.Equal(t, ErrMidMismatch, err)
	assert.Equal(t, "0", tr.Mid())
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, tr.Direction(),
		"prior description must stay observable")
}

func TestSetDescriptionNotifiesHandler(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	h := &fakeHandler{}
	tr.SetMediaHandler(h)
	require.Len(t, h.descs, 1, "handler must learn the description on attach")
	assert.Equal(t, "0", h.descs[0].Mid)

	require.NoError(t, tr.SetDescription(MediaDescription{
		Mid:       "0",
		Type:      "video",
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}))
	require.Len(t, h.descs, 2)
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendonly, h.descs[1].Direction)
	assert.Contains(t, h.descs[1].ExtMap, sdp.SDESMidURI)
}

func TestCloseIdempotent(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	closedCount := 0
	tr.OnClosed(func() { closedCount++ })

	tr.Close()
	tr.Close()
	tr.Close()
	assert.Equal(t, 1, closedCount, "closed event must fire exactly once")
	assert.True(t, tr.IsClosed())

	_, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1})})
	assert.Equal(t, ErrTrackClosed, err)
}

func TestMaxMessageSize(t *testing.T) {
	tr := newTestTrack(t, Config{MTU: 1200}, "video", webrtc.RTPTransceiverDirectionSendrecv)
	assert.Equal(t, 1200-60, tr.MaxMessageSize())

	tr = newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)
	assert.Equal(t, defaultMTU-60, tr.MaxMessageSize())
}

func TestIncomingDirectionFilter(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendonly)

	var available []int
	tr.OnAvailable(func(count int) { available = append(available, count) })

	tr.Incoming(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	assert.Empty(t, available, "no event may fire for a dropped packet")
	assert.Zero(t, tr.AvailableAmount())
	assert.Equal(t, float64(1), testutil.ToFloat64(tr.metrics.BadDirection))

	control := rtcpBuf(t)
	tr.Incoming(&Message{Data: control, Kind: KindControl})
	assert.Equal(t, []int{1}, available)
	assert.Equal(t, len(control), tr.AvailableAmount())
}

func TestIncomingBatchAbandoned(t *testing.T) {
	one := &Message{Data: make([]byte, 4), Kind: KindData}
	two := &Message{Data: make([]byte, 4), Kind: KindData}
	three := &Message{Data: make([]byte, 4), Kind: KindData}

	tr := newTestTrack(t, Config{RecvQueueLimit: 4}, "video", webrtc.RTPTransceiverDirectionSendrecv)
	tr.SetMediaHandler(&fakeHandler{
		incoming: func(msgs []*Message, _ SendFunc) []*Message {
			return []*Message{one, two, three}
		},
	})

	events := 0
	tr.OnAvailable(func(int) { events++ })

	tr.Incoming(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})

	assert.Equal(t, 1, events, "only the first admission may fire an event")
	assert.Equal(t, 4, tr.AvailableAmount())
	assert.Equal(t, float64(1), testutil.ToFloat64(tr.metrics.QueueFull),
		"the batch must be abandoned on the first rejection, not retried per item")
	assert.Same(t, one, tr.Receive())
	assert.Nil(t, tr.Receive())
}

func TestOutgoingDirectionDrop(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionRecvonly)
	transport := &fakeTransport{}
	require.NoError(t, tr.Open(transport))

	ok, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	assert.NoError(t, err, "a direction drop is not an error")
	assert.False(t, ok)
	assert.Zero(t, transport.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(tr.metrics.BadDirection))
}

func TestOutgoingReclassifiesRTCP(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionRecvonly)
	transport := &fakeTransport{}
	require.NoError(t, tr.Open(transport))

	ok, err := tr.Outgoing(&Message{Data: rtcpBuf(t)})
	assert.NoError(t, err)
	assert.True(t, ok, "control packets must be sendable regardless of direction")
	require.Equal(t, 1, transport.count())
	assert.Equal(t, KindControl, transport.last().Kind)
}

func TestOutgoingHandlerChain(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	first := &Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData}
	second := &Message{Data: rtpBuf(t, []byte{0x2}), Kind: KindData}
	sideChannel := rtcpBuf(t)

	transport := &fakeTransport{
		respond: func(msg *Message) bool {
			// Fail everything but the last chain message; the aggregate
			// result reflects only the final send attempt.
			return msg == second
		},
	}
	require.NoError(t, tr.Open(transport))

	tr.SetMediaHandler(&fakeHandler{
		outgoing: func(msgs []*Message, send SendFunc) []*Message {
			send(&Message{Data: sideChannel})
			return []*Message{first, second}
		},
	})

	ok, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x0}), Kind: KindData})
	assert.NoError(t, err)
	assert.True(t, ok, "result must reflect the last send attempt")
	require.Equal(t, 3, transport.count())
	assert.Equal(t, KindControl, transport.sent[0].Kind, "side-channel RTCP is reclassified")
	assert.Same(t, second, transport.last())
}

func TestTransportSendDSCP(t *testing.T) {
	audio := newTestTrack(t, Config{}, "audio", webrtc.RTPTransceiverDirectionSendrecv)
	video := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	audioTransport := &fakeTransport{}
	videoTransport := &fakeTransport{}
	require.NoError(t, audio.Open(audioTransport))
	require.NoError(t, video.Open(videoTransport))

	_, err := audio.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	require.NoError(t, err)
	_, err = video.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	require.NoError(t, err)

	assert.Equal(t, uint8(dscpExpeditedForwarding), audioTransport.last().DSCP)
	assert.Equal(t, uint8(dscpAssuredForwarding42), videoTransport.last().DSCP)
}

func TestOutgoingTagsMid(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)
	transport := &fakeTransport{}
	require.NoError(t, tr.Open(transport))

	_, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x7}), Kind: KindData})
	require.NoError(t, err)
	require.Equal(t, 1, transport.count())

	extID := tr.Description().ExtMap[sdp.SDESMidURI]
	var sent rtp.Packet
	require.NoError(t, sent.Unmarshal(transport.last().Data))
	assert.Equal(t, []byte(tr.Mid()), sent.Header.GetExtension(extID))
}

func TestSendWithoutTransport(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	_, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	assert.Equal(t, ErrTrackClosed, err)
}

func TestMediaDisabled(t *testing.T) {
	tr := newTestTrack(t, Config{MediaDisabled: true}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	assert.Equal(t, ErrMediaUnsupported, tr.Open(&fakeTransport{}))
	assert.False(t, tr.IsOpen())

	_, err := tr.Outgoing(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	assert.Equal(t, ErrMediaUnsupported, err)
}

func TestOpenFiresOnOpen(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)
	assert.False(t, tr.IsOpen())

	opened := 0
	tr.OnOpen(func() { opened++ })

	require.NoError(t, tr.Open(&fakeTransport{}))
	assert.Equal(t, 1, opened)
	assert.True(t, tr.IsOpen())

	tr.Close()
	assert.False(t, tr.IsOpen())
}

func TestReceiveControlCopiedDataMoved(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	shared := &Message{Data: rtcpBuf(t), Kind: KindControl}
	tr.Incoming(shared)
	got := tr.Receive()
	require.NotNil(t, got)
	got.Data[0] ^= 0xFF
	assert.NotEqual(t, shared.Data[0], got.Data[0],
		"a received control packet must be a copy of the shared message")

	data := &Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData}
	tr.Incoming(data)
	assert.Same(t, data, tr.Receive(), "data packets are moved, not copied")
}

func TestPeekNonDestructive(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	msg := &Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData}
	tr.Incoming(msg)

	amount := tr.AvailableAmount()
	peeked := tr.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, amount, tr.AvailableAmount(), "peek must leave the queue untouched")
	assert.Same(t, msg, tr.Receive())
	assert.Nil(t, tr.Peek())
}

func TestOnMessageFlushesQueue(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	tr.Incoming(&Message{Data: rtpBuf(t, []byte{0x1}), Kind: KindData})
	tr.Incoming(&Message{Data: rtpBuf(t, []byte{0x2}), Kind: KindData})

	var delivered []*Message
	tr.OnMessage(func(msg *Message) { delivered = append(delivered, msg) })
	assert.Len(t, delivered, 2, "already queued packets are flushed on registration")

	tr.Incoming(&Message{Data: rtpBuf(t, []byte{0x3}), Kind: KindData})
	assert.Len(t, delivered, 3, "later arrivals bypass the queue")
	assert.Zero(t, tr.AvailableAmount())
}

func TestConcurrentReadsDuringWrite(t *testing.T) {
	tr := newTestTrack(t, Config{}, "video", webrtc.RTPTransceiverDirectionSendrecv)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = tr.Mid()
			_ = tr.Direction()
			_ = tr.Description()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = tr.SetDescription(MediaDescription{
				Mid:       "0",
				Type:      "video",
				Direction: webrtc.RTPTransceiverDirectionSendrecv,
			})
		}
	}()
	wg.Wait()

	assert.Contains(t, tr.Description().ExtMap, sdp.SDESMidURI,
		"the mid extension mapping must never be observed missing")
}
