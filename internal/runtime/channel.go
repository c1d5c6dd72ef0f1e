package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/lattice-lang/lattice/internal/value"
)

var nextChannelID uint64

// LatChannel is a bounded FIFO queue of value.LatValue guarded by an
// explicit mutex and a pair of condition variables — notEmpty signaled on
// every send, notFull signaled on every receive/close — rather than the
// teacher's native-Go-channel wrapper (internal/runtime/channels/channel.go):
// spec §5 describes the channel's blocking behavior directly in terms of a
// mutex plus two condvars, which a bare `chan T` can't be adapted to
// without hiding that structure behind Go's own runtime.
type LatChannel struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []value.LatValue
	capacity int
	closed   bool
}

// NewChannel builds a channel of the given capacity. Zero capacity is
// treated as a capacity-1 buffer: this module doesn't attempt true
// zero-capacity rendezvous (a sender blocking until a receiver is already
// waiting), since spec §5 does not pin down that distinction and no
// SPEC_FULL.md scenario observes it.
func NewChannel(capacity int) *LatChannel {
	if capacity < 1 {
		capacity = 1
	}
	c := &LatChannel{capacity: capacity}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// NewChannelValue wraps a fresh LatChannel in a KindChannel LatValue. The
// handle's Body carries the channel opaquely so value.Eq's identity check
// (comparing *ChannelHandle pointers) keeps working without internal/value
// importing this package.
func NewChannelValue(capacity int) value.LatValue {
	ch := NewChannel(capacity)
	id := atomic.AddUint64(&nextChannelID, 1)
	retain := int64(1)
	return value.LatValue{
		Kind: value.KindChannel,
		Data: &value.ChannelData{
			Handle: &value.ChannelHandle{ID: id, Body: ch},
			Retain: &retain,
		},
	}
}

func channelOf(v value.LatValue) (*LatChannel, bool) {
	if v.Kind != value.KindChannel {
		return nil, false
	}
	cd, ok := v.Data.(*value.ChannelData)
	if !ok || cd.Handle == nil {
		return nil, false
	}
	ch, ok := cd.Handle.Body.(*LatChannel)
	return ch, ok
}

// Send blocks until there is room in the buffer (or the channel closes),
// appends v, and wakes one blocked receiver. It reports false if the
// channel was already closed.
func (c *LatChannel) Send(v value.LatValue) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) >= c.capacity && !c.closed {
		c.notFull.Wait()
	}
	if c.closed {
		return false
	}
	c.buf = append(c.buf, v)
	c.notEmpty.Signal()
	return true
}

// TrySend is Send's non-blocking form.
func (c *LatChannel) TrySend(v value.LatValue) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.buf) >= c.capacity {
		return false
	}
	c.buf = append(c.buf, v)
	c.notEmpty.Signal()
	return true
}

// Recv blocks until a value is available or the channel closes with
// nothing left to drain.
func (c *LatChannel) Recv() (value.LatValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if len(c.buf) == 0 {
		return value.LatValue{}, false
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	c.notFull.Signal()
	return v, true
}

// TryRecv services OP_SELECT's channel arms and the `tryRecv` method:
// non-blocking, reports whether a value was immediately available.
func (c *LatChannel) TryRecv() (value.LatValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return value.LatValue{}, false
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	c.notFull.Signal()
	return v, true
}

// Close marks the channel closed and wakes every blocked sender/receiver;
// queued values already in the buffer still drain via Recv/TryRecv.
func (c *LatChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
}

func (c *LatChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *LatChannel) Cap() int { return c.capacity }
