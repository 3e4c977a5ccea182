package track

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"
	"github.com/lucsky/cuid"
	"github.com/pion/rtp"
)

// RouterConfig defines router configuration.
type RouterConfig struct {
	// Workers sizes the delivery pool. With a single worker, delivery
	// preserves transport arrival order.
	Workers int `mapstructure:"workers"`
}

// Router demultiplexes a bundled transport's inbound stream to tracks.
// RTCP is fanned out to every registered track, since one compound packet
// may carry feedback for several streams; RTP is routed by the sdes:mid
// one-byte header extension each sender tags its packets with.
type Router struct {
	id string

	mu       sync.RWMutex
	tracks   map[string]*Track
	onChange func()

	wp        *workerpool.WorkerPool
	debounced func(f func())
}

// NewRouter creates a router with an empty route table.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Router{
		id:        cuid.New(),
		tracks:    make(map[string]*Track),
		wp:        workerpool.New(cfg.Workers),
		debounced: debounce.New(100 * time.Millisecond),
	}
}

// ID returns the router instance id.
func (r *Router) ID() string {
	return r.id
}

// AddTrack registers t under its mid, replacing any previous registration.
func (r *Router) AddTrack(t *Track) {
	r.mu.Lock()
	r.tracks[t.Mid()] = t
	r.mu.Unlock()
	r.routesChanged()
}

// RemoveTrack drops the registration for mid.
func (r *Router) RemoveTrack(mid string) {
	r.mu.Lock()
	delete(r.tracks, mid)
	r.mu.Unlock()
	r.routesChanged()
}

// OnRoutesChanged sets a callback fired after the route table changes.
// Bursts of changes during session setup collapse into a single
// notification, the same way renegotiation is debounced.
func (r *Router) OnRoutesChanged(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Router) routesChanged() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		r.debounced(fn)
	}
}

// Route dispatches one packet received on the bundled transport. The buffer
// is copied before delivery, so the caller may reuse it.
func (r *Router) Route(buf []byte) {
	if len(buf) == 0 {
		return
	}
	data := make([]byte, len(buf))
	copy(data, buf)

	if isRTCP(data) {
		tracks := r.snapshot()
		// One shared message; tracks copy control packets on read.
		msg := &Message{Data: data, Kind: KindControl}
		r.wp.Submit(func() {
			for _, t := range tracks {
				t.Incoming(msg)
			}
		})
		return
	}

	dst := r.match(data)
	if dst == nil {
		Logger.V(1).Info("no route for packet", "router", r.id)
		return
	}
	r.wp.Submit(func() {
		dst.Incoming(&Message{Data: data, Kind: KindData})
	})
}

// match finds the destination track by reading the mid header extension
// with each candidate's negotiated id. An untagged packet is routed only
// when a single track is registered.
func (r *Router) match(data []byte) *Track {
	var header rtp.Header
	if err := header.Unmarshal(data); err != nil {
		Logger.V(1).Info("dropping unparsable packet", "router", r.id, "error", err.Error())
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tracks {
		id := t.midExtensionID()
		if id == 0 {
			continue
		}
		if ext := header.GetExtension(id); len(ext) > 0 && string(ext) == t.Mid() {
			return t
		}
	}
	if len(r.tracks) == 1 {
		for _, t := range r.tracks {
			if id := t.midExtensionID(); id != 0 && len(header.GetExtension(id)) > 0 {
				// Tagged for a stream we no longer know.
				return nil
			}
			return t
		}
	}
	return nil
}

func (r *Router) snapshot() []*Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tracks := make([]*Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

// Stop waits for queued deliveries to finish and releases the pool.
func (r *Router) Stop() {
	r.wp.StopWait()
}
