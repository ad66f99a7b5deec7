package inject

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"roller-proxy/internal/metrics"
)

// ErrBodyTooLarge is reported when an upstream body exceeds the buffering limit.
var ErrBodyTooLarge = errors.New("upstream body exceeds buffering limit")

// State is the lifecycle state of a Transformer.
type State int

const (
	// StateBuffering means the upstream body is still being collected.
	StateBuffering State = iota
	// StateDone means the single output chunk has been handed out.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// PollStatus is the outcome of a single Poll.
type PollStatus int

const (
	// Pending means the body is not fully buffered yet; poll again later.
	Pending PollStatus = iota
	// Ready means the returned chunk is the complete output.
	Ready
	// Done means the output has already been emitted.
	Done
)

type bufferResult struct {
	body []byte
	err  error
}

// Transformer turns an upstream body into an output body with the injection
// spliced in. The upstream body is read to completion on a background
// goroutine; the output is one chunk, available once that read finishes.
//
// Poll and Read are meant for a single consumer, like any io.Reader.
type Transformer struct {
	upstream io.ReadCloser
	inj      *Injection

	ctx      context.Context
	logger   *slog.Logger
	metrics  *metrics.Metrics
	maxBytes int64

	ready     chan struct{} // closed when res is set
	res       bufferResult
	state     State
	pending   []byte
	closeOnce sync.Once
	closeErr  error
}

// TransformerOption configures a Transformer.
type TransformerOption func(*Transformer)

// WithContext bounds Read waits by ctx, typically the inbound request context.
func WithContext(ctx context.Context) TransformerOption {
	return func(t *Transformer) {
		t.ctx = ctx
	}
}

// WithLogger sets the logger used for swallowed body read errors.
func WithLogger(logger *slog.Logger) TransformerOption {
	return func(t *Transformer) {
		t.logger = logger
	}
}

// WithMetrics records injection outcomes. A nil value disables recording.
func WithMetrics(m *metrics.Metrics) TransformerOption {
	return func(t *Transformer) {
		t.metrics = m
	}
}

// WithMaxBodyBytes caps the buffered body size; 0 means no cap.
func WithMaxBodyBytes(n int64) TransformerOption {
	return func(t *Transformer) {
		t.maxBytes = n
	}
}

// NewTransformer wraps body and starts buffering it immediately.
func NewTransformer(body io.ReadCloser, inj *Injection, opts ...TransformerOption) *Transformer {
	t := &Transformer{
		upstream: body,
		inj:      inj,
		ctx:      context.Background(),
		logger:   slog.New(slog.DiscardHandler),
		ready:    make(chan struct{}),
		state:    StateBuffering,
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.buffer()
	return t
}

// buffer collects the whole upstream body and resolves the transformer.
func (t *Transformer) buffer() {
	defer close(t.ready)

	r := io.Reader(t.upstream)
	if t.maxBytes > 0 {
		r = io.LimitReader(t.upstream, t.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err == nil && t.maxBytes > 0 && int64(len(body)) > t.maxBytes {
		body, err = nil, ErrBodyTooLarge
	}
	t.res = bufferResult{body: body, err: err}
}

// State returns the current lifecycle state.
func (t *Transformer) State() State {
	return t.state
}

// Ready returns a channel that is closed once the upstream body is buffered.
func (t *Transformer) Ready() <-chan struct{} {
	return t.ready
}

// Poll advances the transformer without blocking.
//
// While buffering it returns (nil, Pending). The first poll after buffering
// finishes returns the spliced body with Ready and moves to StateDone. A body
// read failure yields an empty chunk with Ready. Later polls return (nil, Done).
func (t *Transformer) Poll() ([]byte, PollStatus) {
	if t.state == StateDone {
		return nil, Done
	}

	select {
	case <-t.ready:
	default:
		return nil, Pending
	}

	t.state = StateDone
	return t.emit(), Ready
}

// emit produces the single output chunk from the buffered result.
func (t *Transformer) emit() []byte {
	res := t.res
	t.res = bufferResult{}

	if res.err != nil {
		t.logger.Warn("upstream body read failed during injection; sending empty body",
			"err", res.err,
		)
		if t.metrics != nil {
			t.metrics.InjectionsTotal.WithLabelValues(metrics.InjectionReadError).Inc()
			t.metrics.FallbacksTotal.WithLabelValues(metrics.FallbackBodyRead).Inc()
		}
		return []byte{}
	}

	out, found := insertBefore(res.body, t.inj.Marker, t.inj.Payload)
	if t.metrics != nil {
		t.metrics.InjectedBodyBytes.Observe(float64(len(res.body)))
		result := metrics.InjectionSpliced
		if !found {
			result = metrics.InjectionMarkerMissing
		}
		t.metrics.InjectionsTotal.WithLabelValues(result).Inc()
	}
	if !found {
		t.logger.Debug("marker not found; body passed through", "bytes", len(res.body))
	}
	return out
}

// Read implements io.Reader. It waits for buffering to finish, then drains
// the single output chunk across as many calls as needed before io.EOF.
func (t *Transformer) Read(p []byte) (int, error) {
	for len(t.pending) == 0 {
		if t.state == StateDone {
			return 0, io.EOF
		}
		select {
		case <-t.ready:
		case <-t.ctx.Done():
			return 0, t.ctx.Err()
		}
		t.pending, _ = t.Poll()
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Close releases the upstream body, which also ends any in-progress buffering.
func (t *Transformer) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.upstream.Close()
	})
	return t.closeErr
}
