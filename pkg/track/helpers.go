package track

import "sync/atomic"

type atomicBool int32

func (a *atomicBool) set(value bool) {
	var i int32
	if value {
		i = 1
	}
	atomic.StoreInt32((*int32)(a), i)
}

func (a *atomicBool) get() bool {
	return atomic.LoadInt32((*int32)(a)) != 0
}

// swap stores value and returns the previous state.
func (a *atomicBool) swap(value bool) bool {
	var i int32
	if value {
		i = 1
	}
	return atomic.SwapInt32((*int32)(a), i) != 0
}
