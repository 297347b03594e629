package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"forex-backtest/internal/model"
)

const flushTimeout = 10 * time.Second

type pendingResult struct {
	runID  string
	result model.BacktestResult
}

// BufferedPublisher wraps a ResultPublisher with a circuit breaker.
// Results published while the circuit is open, or whose publish failed,
// are held locally and replayed when the circuit closes again.
type BufferedPublisher struct {
	inner model.ResultPublisher
	cb    *CircuitBreaker

	mu     sync.Mutex
	buffer []pendingResult
	maxBuf int // oldest dropped beyond this

	// OnBuffer is called when a result is buffered (optional).
	OnBuffer func()
	// OnFlush is called after buffered results were replayed (optional).
	OnFlush func(count int)
}

// NewBufferedPublisher creates a BufferedPublisher and registers the replay
// on the breaker's transition to closed.
func NewBufferedPublisher(inner model.ResultPublisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		inner:  inner,
		cb:     cb,
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishResult publishes through the circuit breaker. A rejected call is
// buffered and reported as success; a failed call is buffered and returned.
func (bp *BufferedPublisher) PublishResult(ctx context.Context, runID string, r model.BacktestResult) error {
	err := bp.cb.Execute(func() error {
		return bp.inner.PublishResult(ctx, runID, r)
	})
	if err == nil {
		return nil
	}
	bp.bufferResult(runID, r)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferResult(runID string, r model.BacktestResult) {
	bp.mu.Lock()
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingResult{runID: runID, result: r})
	bp.mu.Unlock()

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered results in arrival order. Results that fail again
// go back into the buffer.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	flushed := 0
	for _, p := range toFlush {
		if err := bp.inner.PublishResult(ctx, p.runID, p.result); err != nil {
			log.Printf("[redis] replay of run %s failed: %v", p.runID, err)
			bp.bufferResult(p.runID, p.result)
			continue
		}
		flushed++
	}

	log.Printf("[redis] replayed %d buffered results", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of results waiting to be replayed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
