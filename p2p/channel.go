package p2p

import (
	"container/list"
	"context"
	"sync"

	"distfs/codec"
)

// Channel is the thread-safe FIFO of fully-decoded MessageFrames buffered
// between the Codec (producer) and the FileServer dispatcher (consumer),
// per spec.md §4.7. It implements codec.FramePusher.
type Channel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames *list.List
	closed bool
}

// NewChannel returns an empty Channel.
func NewChannel() *Channel {
	c := &Channel{frames: list.New()}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Push appends frame to the tail of the queue. It is the only externally
// visible side effect of Codec.Deserialize, per spec §4.3.
func (c *Channel) Push(frame *codec.MessageFrame) {
	c.mu.Lock()
	c.frames.PushBack(frame)
	c.mu.Unlock()
	c.cond.Signal()
}

// Pop removes and returns the head frame, or (nil, false) if the queue is
// empty. It never blocks.
func (c *Channel) Pop() (*codec.MessageFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Channel) popLocked() (*codec.MessageFrame, bool) {
	front := c.frames.Front()
	if front == nil {
		return nil, false
	}
	c.frames.Remove(front)
	return front.Value.(*codec.MessageFrame), true
}

// PopWait blocks until a frame is available, ctx is canceled, or Close is
// called. This replaces the teacher lineage's poll-with-yield consumer
// loop with the blocking primitive spec §9 invites ("prefer a blocking
// queue... if the target runtime offers one"), while Pop remains
// available for non-blocking introspection and tests.
func (c *Channel) PopWait(ctx context.Context) (*codec.MessageFrame, bool) {
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			c.mu.Lock()
			close(done)
			c.mu.Unlock()
			c.cond.Broadcast()
		})
		defer stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.frames.Len() == 0 && !c.closed {
		select {
		case <-done:
			return nil, false
		default:
		}
		c.cond.Wait()
	}
	if c.frames.Len() == 0 {
		return nil, false
	}
	return c.popLocked()
}

// Close wakes every blocked PopWait so a shutting-down dispatcher can
// observe the closed queue and exit instead of blocking forever.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Len returns the current queue depth.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Len()
}

// IsEmpty reports whether the queue currently holds no frames.
func (c *Channel) IsEmpty() bool {
	return c.Len() == 0
}
