package llm

import (
	"context"
	"sync"
)

// StreamPipe is the shared Stream implementation for backend adapters. The
// producing goroutine pushes fragments with Emit and settles the stream with
// Finish; consumers range over Fragments. Close cancels the upstream call.
type StreamPipe struct {
	fragments chan string
	settled   chan struct{}
	cancel    context.CancelFunc

	mu      sync.Mutex
	err     error
	metrics GenerationMetrics

	closeOnce  sync.Once
	finishOnce sync.Once
}

// NewStreamPipe creates a pipe whose Close invokes cancel.
func NewStreamPipe(cancel context.CancelFunc) *StreamPipe {
	return &StreamPipe{
		fragments: make(chan string),
		settled:   make(chan struct{}),
		cancel:    cancel,
	}
}

// Emit delivers one fragment to the consumer. It blocks until the fragment is
// taken or ctx ends, and reports whether delivery happened.
func (p *StreamPipe) Emit(ctx context.Context, fragment string) bool {
	select {
	case p.fragments <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish settles the stream with its terminal error and metrics and closes
// the fragment channel. Later calls are no-ops.
func (p *StreamPipe) Finish(metrics GenerationMetrics, err error) {
	p.finishOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.metrics = metrics
		p.mu.Unlock()
		close(p.fragments)
		close(p.settled)
	})
}

// Fragments implements Stream.
func (p *StreamPipe) Fragments() <-chan string { return p.fragments }

// Err implements Stream.
func (p *StreamPipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Metrics implements Stream. A consumer that stopped early (leak cancel)
// may ask before the producer has torn down, so Metrics waits for the
// stream to settle first.
func (p *StreamPipe) Metrics() (GenerationMetrics, bool) {
	<-p.settled
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics == nil {
		return nil, false
	}
	return p.metrics, true
}

// Close implements Stream by cancelling the upstream generation.
func (p *StreamPipe) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
}
