package broker

import (
	"fmt"
	"os"
	"time"

	"github.com/tsne/broker/internal/recorder"
)

// Option configures an Endpoint at construction time.
type Option func(*options) error

type options struct {
	errorHandler         func(error)
	statusBufferSize     int
	errorBufferSize      int
	resyncInterval       time.Duration
	staleInterval        time.Duration
	mutationBufInterval  time.Duration
	peerMailboxSize      int
	storeMailboxSize     int
	recorder             recorder.Store
	holdingBufferSize    int
	holdingRetryInterval time.Duration
}

func defaultOptions() options {
	return options{
		errorHandler:         func(err error) { fmt.Fprintln(os.Stderr, err) },
		statusBufferSize:     32,
		errorBufferSize:      32,
		resyncInterval:       5 * time.Second,
		staleInterval:        30 * time.Second,
		mutationBufInterval:  10 * time.Second,
		peerMailboxSize:      64,
		storeMailboxSize:     64,
		recorder:             recorder.Discard,
		holdingBufferSize:    256,
		holdingRetryInterval: 20 * time.Millisecond,
	}
}

func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithErrorHandler calls f synchronously for every link or protocol
// error the endpoint observes, in addition to the buffered Errors()
// channel. If unset, errors are printed to stderr.
func WithErrorHandler(f func(error)) Option {
	return func(o *options) error {
		if f == nil {
			return optionError("no error handler specified")
		}
		o.errorHandler = f
		return nil
	}
}

// WithStoreIntervals sets the default resync, stale and mutation-buffer
// intervals AttachClone falls back to when called with a zero duration.
func WithStoreIntervals(resync, stale, mutationBuffer time.Duration) Option {
	return func(o *options) error {
		switch {
		case resync <= 0:
			return optionError("non-positive resync interval")
		case stale <= 0:
			return optionError("non-positive stale interval")
		case mutationBuffer <= 0:
			return optionError("non-positive mutation buffer interval")
		}
		o.resyncInterval = resync
		o.staleInterval = stale
		o.mutationBufInterval = mutationBuffer
		return nil
	}
}

// WithMailboxSize sets the buffered channel capacity for the peer
// actor and for each attached master/clone actor.
func WithMailboxSize(peer, store int) Option {
	return func(o *options) error {
		switch {
		case peer <= 0:
			return optionError("non-positive peer mailbox size")
		case store <= 0:
			return optionError("non-positive store mailbox size")
		}
		o.peerMailboxSize = peer
		o.storeMailboxSize = store
		return nil
	}
}

// WithStatusBufferSize sets the capacity of the Statuses() channel.
func WithStatusBufferSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return optionError("non-positive status buffer size")
		}
		o.statusBufferSize = n
		return nil
	}
}

// WithErrorBufferSize sets the capacity of the Errors() channel.
func WithErrorBufferSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return optionError("non-positive error buffer size")
		}
		o.errorBufferSize = n
		return nil
	}
}

// WithRecorder appends every forwarded node message frame to store, in
// addition to routing it through the overlay. If unset, recording is
// disabled.
func WithRecorder(store recorder.Store) Option {
	return func(o *options) error {
		if store == nil {
			return optionError("no recorder store specified")
		}
		o.recorder = store
		return nil
	}
}

// WithHoldingBufferSize sets how many frames an endpoint will buffer
// per blocked peer while that peer's outbound link reports itself
// saturated, and how often the buffered frames are retried, per
// spec.md §5's backpressure paragraph. A full buffer drops its oldest
// frame rather than blocking the caller. retry must be positive.
func WithHoldingBufferSize(frames int, retry time.Duration) Option {
	return func(o *options) error {
		switch {
		case frames <= 0:
			return optionError("non-positive holding buffer size")
		case retry <= 0:
			return optionError("non-positive holding retry interval")
		}
		o.holdingBufferSize = frames
		o.holdingRetryInterval = retry
		return nil
	}
}

func orDefaultInterval(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
