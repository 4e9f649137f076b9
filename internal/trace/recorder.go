package trace

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/gate"
	"github.com/srg/bikeble/internal/groutine"
)

const (
	DefaultBufferSize    uint32 = 1024
	DefaultFlushInterval        = 200 * time.Millisecond
)

// Metrics counts recorder traffic
type Metrics struct {
	Recorded    int64
	Written     int64
	Overwritten int64
	Errors      int64
}

// Recorder is a gate.Observer that buffers events in an overwrite-oldest ring
// and flushes them to a writer in the background. Recording never blocks the
// gated operation.
type Recorder struct {
	connID   string
	buffer   mpmc.RichOverlappedRingBuffer[Event]
	interval time.Duration
	logger   *logrus.Logger

	mu  sync.Mutex // guards enc and err
	enc *cbor.Encoder
	err error // first flush failure, reported by Close

	seq     atomic.Uint64
	metrics Metrics

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithBufferSize sets the ring size
func WithBufferSize(n uint32) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.buffer = mpmc.NewOverlappedRingBuffer[Event](n)
		}
	}
}

// WithFlushInterval sets how often buffered events are written
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithConnectionID overrides the generated connection ID
func WithConnectionID(id string) RecorderOption {
	return func(r *Recorder) { r.connID = id }
}

// WithLogger sets the logger for flush failures
func WithLogger(l *logrus.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder starts a recorder that writes to w until Close
func NewRecorder(w io.Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		connID:   uuid.NewString(),
		buffer:   mpmc.NewOverlappedRingBuffer[Event](DefaultBufferSize),
		interval: DefaultFlushInterval,
		enc:      encMode.NewEncoder(w),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	groutine.Go(ctx, "trace-flush", r.run)
	return r
}

// ConnectionID identifies the traced connection in every event
func (r *Recorder) ConnectionID() string { return r.connID }

// OperationStarted implements gate.Observer
func (r *Recorder) OperationStarted(req gate.Request, waited time.Duration) {
	r.record(Event{
		Phase:          PhaseStarted,
		Op:             string(req.Op),
		Service:        req.Service,
		Characteristic: req.Characteristic,
		Waited:         waited,
	})
}

// OperationFinished implements gate.Observer
func (r *Recorder) OperationFinished(req gate.Request, took time.Duration, err error) {
	ev := Event{
		Phase:          PhaseFinished,
		Op:             string(req.Op),
		Service:        req.Service,
		Characteristic: req.Characteristic,
		Took:           took,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.record(ev)
}

func (r *Recorder) record(ev Event) {
	ev.Seq = r.seq.Add(1)
	ev.Timestamp = time.Now()
	ev.ConnectionID = r.connID

	overwrites, err := r.buffer.EnqueueM(ev)
	if err != nil {
		atomic.AddInt64(&r.metrics.Errors, 1)
		return
	}
	atomic.AddInt64(&r.metrics.Overwritten, int64(overwrites))
	atomic.AddInt64(&r.metrics.Recorded, 1)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.flush()
			return
		case <-ticker.C:
			_ = r.flush()
		}
	}
}

// Flush writes every buffered event now
func (r *Recorder) Flush() error {
	return r.flush()
}

func (r *Recorder) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for !r.buffer.IsEmpty() {
		ev, err := r.buffer.Dequeue()
		if err != nil {
			break
		}
		if err := r.enc.Encode(ev); err != nil {
			atomic.AddInt64(&r.metrics.Errors, 1)
			if firstErr == nil {
				firstErr = fmt.Errorf("write trace event %d: %w", ev.Seq, err)
				r.logger.WithError(err).Warn("Failed to write trace event")
			}
			continue
		}
		atomic.AddInt64(&r.metrics.Written, 1)
	}
	if r.err == nil {
		r.err = firstErr
	}
	return firstErr
}

// Close stops the background flusher after a final flush.
// It returns the first error of any flush, background ones included.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// GetMetrics returns a snapshot of the recorder counters
func (r *Recorder) GetMetrics() Metrics {
	return Metrics{
		Recorded:    atomic.LoadInt64(&r.metrics.Recorded),
		Written:     atomic.LoadInt64(&r.metrics.Written),
		Overwritten: atomic.LoadInt64(&r.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&r.metrics.Errors),
	}
}

var _ gate.Observer = (*Recorder)(nil)
