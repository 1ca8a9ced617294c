package media

import (
	"math"
	"sync"
)

// ChannelNode is a Node fed by Push. Frames pushed after Close are dropped.
type ChannelNode struct {
	mu     sync.Mutex
	frames chan []uint8
	closed bool
}

func NewChannelNode(buffer int) *ChannelNode {
	return &ChannelNode{frames: make(chan []uint8, buffer)}
}

func (n *ChannelNode) Frames() <-chan []uint8 { return n.frames }

// Push queues a frame without blocking. It reports false when the node is
// closed or the buffer is full.
func (n *ChannelNode) Push(frame []uint8) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	select {
	case n.frames <- frame:
		return true
	default:
		return false
	}
}

func (n *ChannelNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.frames)
	}
	return nil
}

func (n *ChannelNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// ToneFrame renders the magnitude spectrum of a pure tone: a single peak at bin
// with the given magnitude decaying over neighbouring bins.
func ToneFrame(size, bin int, magnitude uint8) []uint8 {
	frame := make([]uint8, size)
	for i := range frame {
		d := math.Abs(float64(i - bin))
		frame[i] = uint8(float64(magnitude) * math.Exp(-d*d/8))
	}
	return frame
}
