package hub

import "sync"

// frameRing is a thread-safe bounded queue of outbound frames. When full,
// the oldest frame is discarded so a stalled client only ever costs a fixed
// amount of memory and always receives the freshest state once it recovers.
type frameRing struct {
	frames   []Frame
	capacity int
	start    int // index of oldest frame
	count    int
	dropped  uint64
	mu       sync.Mutex
}

// newFrameRing creates a ring with the given capacity. Capacity must be at
// least 1.
func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{
		frames:   make([]Frame, capacity),
		capacity: capacity,
	}
}

// Push appends a frame, overwriting the oldest when the ring is full.
// Reports whether an older frame was dropped to make room.
func (r *frameRing) Push(f Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.capacity {
		r.frames[(r.start+r.count)%r.capacity] = f
		r.count++
		return false
	}
	r.frames[r.start] = f
	r.start = (r.start + 1) % r.capacity
	r.dropped++
	return true
}

// Pop removes and returns the oldest frame.
func (r *frameRing) Pop() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Frame{}, false
	}
	f := r.frames[r.start]
	r.frames[r.start] = Frame{} // release the payload for GC
	r.start = (r.start + 1) % r.capacity
	r.count--
	return f, true
}

// Len returns the number of queued frames.
func (r *frameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped returns how many frames overflow has discarded so far.
func (r *frameRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
