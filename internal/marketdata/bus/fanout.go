// Package bus fans a single stream of market data out to several consumers.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from a single input channel to N output channels.
// If an output channel is full, the value is dropped for that consumer so a
// slow consumer cannot block the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Subscribe before Run.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping value", i)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats reports saturation per subscriber.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
