package stream

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/types"
)

// readBufferSize 单次从上游读取的字节数。
const readBufferSize = 4096

type options struct {
	observer    Observer
	logger      *zap.Logger
	resultField string
	traceField  string
}

// Option configures a collector.
type Option func(*options)

// WithObserver forwards every collector event to fn.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithLogger sets the collector logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithResultFields overrides the workflow primary result field and the side
// field that receives a displaced reasoning trace.
func WithResultFields(result, trace string) Option {
	return func(o *options) {
		if result != "" {
			o.resultField = result
		}
		if trace != "" {
			o.traceField = trace
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{resultField: "result", traceField: "_trace"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", component))
	return o
}

func (o options) emit(ev Event) {
	if o.observer != nil {
		o.observer(ev)
	}
}

type chunkResult struct {
	data []byte
	err  error
}

// pump reads r on its own goroutine. The caller owns r and must close it to
// unblock a pending Read after cancellation.
func pump(ctx context.Context, r io.Reader) <-chan chunkResult {
	ch := make(chan chunkResult)
	go func() {
		defer close(ch)
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				select {
				case <-ctx.Done():
					return
				case ch <- chunkResult{data: data}:
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
					case ch <- chunkResult{err: err}:
					}
				}
				return
			}
		}
	}()
	return ch
}

// drive feeds r through dec into handle until EOF, a transport error or
// cancellation. On cancellation no further frames are handled and the
// decoder buffer is released.
func drive(ctx context.Context, r io.Reader, dec *Decoder, handle func(Frame)) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	chunks := pump(ctx, r)
	for {
		select {
		case <-ctx.Done():
			dec.Reset()
			return cancelled(ctx.Err())
		case c, ok := <-chunks:
			if !ok {
				if err := ctx.Err(); err != nil {
					dec.Reset()
					return cancelled(err)
				}
				for _, f := range dec.Flush() {
					handle(f)
				}
				return nil
			}
			if c.err != nil {
				dec.Reset()
				return types.NewError(types.ErrUpstreamError, "stream read failed").
					WithCause(c.err).
					WithRetryable(true)
			}
			for _, f := range dec.Feed(c.data) {
				if err := ctx.Err(); err != nil {
					dec.Reset()
					return cancelled(err)
				}
				handle(f)
			}
		}
	}
}

func cancelled(err error) error {
	return types.NewError(types.ErrCancelled, "stream cancelled").WithCause(err)
}
