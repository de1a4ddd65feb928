package writer

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
)

const (
	drainAttempts = 3
	drainBackoff  = 500 * time.Millisecond
)

// batcher buffers rows of one stream and flushes them by size or by age of
// the oldest buffered row. Single producer, single consumer: enqueue is
// only called by the pipeline worker and run is the only reader.
type batcher[T any] struct {
	name     string
	ch       chan T
	size     int
	interval time.Duration
	flush    func([]T) error
	log      zerolog.Logger
	done     chan struct{}
}

func newBatcher[T any](name string, size int, interval time.Duration, flush func([]T) error, log zerolog.Logger) *batcher[T] {
	return &batcher[T]{
		name:     name,
		ch:       make(chan T, size),
		size:     size,
		interval: interval,
		flush:    flush,
		log:      log.With().Str("stream", name).Logger(),
		done:     make(chan struct{}),
	}
}

// enqueue blocks when the channel is full; backpressure reaches the
// pipeline instead of dropping rows.
func (b *batcher[T]) enqueue(row T) {
	b.ch <- row
}

// run consumes the channel until it is closed, then drains what remains.
func (b *batcher[T]) run() {
	defer close(b.done)

	timer := time.NewTimer(b.interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var buf []T
	for {
		select {
		case row, ok := <-b.ch:
			if !ok {
				b.drainLoop(buf)
				return
			}
			if len(buf) == 0 {
				timer.Reset(b.interval)
			}
			buf = append(buf, row)
			if len(buf) == b.size {
				buf = b.attempt(buf)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				if len(buf) > 0 {
					timer.Reset(b.interval)
				}
			}
		case <-timer.C:
			buf = b.attempt(buf)
			if len(buf) > 0 {
				// a failed batch retries on the next tick
				timer.Reset(b.interval)
			}
		}
	}
}

// attempt flushes the buffer in size-bounded chunks until it is empty or
// a flush fails. A failed batch stays at the head of the buffer; no row
// is dropped while the process lives.
func (b *batcher[T]) attempt(buf []T) []T {
	for len(buf) > 0 {
		n := len(buf)
		if n > b.size {
			n = b.size
		}
		if err := b.flush(buf[:n]); err != nil {
			telemetry.WriteErrors.WithLabelValues(b.name).Inc()
			b.log.Error().Err(err).Int("rows", n).Msg("flush failed, batch requeued")
			return buf
		}
		telemetry.PacketsWritten.WithLabelValues(b.name).Add(float64(n))
		buf = buf[n:]
	}
	return buf
}

// drainLoop is the shutdown path. Retries are bounded so a dead database
// cannot hold the process open.
func (b *batcher[T]) drainLoop(buf []T) {
	failures := 0
	for len(buf) > 0 {
		n := len(buf)
		buf = b.attempt(buf)
		if len(buf) == n {
			failures++
			if failures >= drainAttempts {
				b.log.Error().Int("rows", len(buf)).Msg("unflushed rows abandoned at shutdown")
				return
			}
			time.Sleep(drainBackoff)
		}
	}
}
