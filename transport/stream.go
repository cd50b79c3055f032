package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// Stream serves MSGPACK-RPC over a byte stream such as stdin/stdout or a
// network connection. Messages are handled concurrently, so replies may be
// written in a different order than the requests arrived.
type Stream struct {
	name    string
	remote  string
	in      io.Reader
	out     io.Writer
	maxSize int64
	limit   int
	logger  middleware.Logger

	mu sync.Mutex
}

// DefaultStreamConcurrency bounds the messages a Stream handles at once.
const DefaultStreamConcurrency = 64

// StreamOption configures a Stream transport.
type StreamOption func(*Stream)

// WithStreamName sets the transport name recorded in the request metadata.
func WithStreamName(name string) StreamOption {
	return func(s *Stream) {
		s.name = name
	}
}

// WithRemoteAddr sets the peer address recorded in the request metadata.
func WithRemoteAddr(addr string) StreamOption {
	return func(s *Stream) {
		s.remote = addr
	}
}

// WithStreamLogger sets the logger for dropped frames and write failures.
func WithStreamLogger(l middleware.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = l
	}
}

// WithStreamMaxMessageSize bounds a single incoming message. Zero disables
// the limit.
func WithStreamMaxMessageSize(n int64) StreamOption {
	return func(s *Stream) {
		s.maxSize = n
	}
}

// WithStreamConcurrency bounds the messages handled at once. When the
// limit is reached the stream stops reading until a handler finishes. Zero
// or less removes the limit.
func WithStreamConcurrency(n int) StreamOption {
	return func(s *Stream) {
		s.limit = n
	}
}

// NewStream creates a stream transport reading requests from in and writing
// replies to out.
func NewStream(in io.Reader, out io.Writer, opts ...StreamOption) *Stream {
	s := &Stream{
		name:    "stream",
		in:      in,
		out:     out,
		maxSize: DefaultMaxMessageSize,
		limit:   DefaultStreamConcurrency,
		logger:  middleware.NopLogger{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewStdio creates a stream transport over stdin/stdout.
func NewStdio(opts ...StreamOption) *Stream {
	return NewStream(os.Stdin, os.Stdout, append([]StreamOption{WithStreamName("stdio")}, opts...)...)
}

// Addr returns the transport address.
func (s *Stream) Addr() string {
	if s.remote != "" {
		return s.remote
	}
	return s.name
}

// Serve reads and handles messages until the input ends, ctx is canceled or
// the stream becomes unreadable. A clean end of input returns nil.
//
// A malformed frame is answered with a parse error before Serve returns,
// since nothing after it can be decoded.
func (s *Stream) Serve(ctx context.Context, handler Handler) error {
	ctx = protocol.WithPeer(ctx, s.name, s.remote)

	frames := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(frames)
		reader := NewFrameReader(s.in, s.maxSize)
		for {
			frame, err := reader.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	var slots chan struct{}
	if s.limit > 0 {
		slots = make(chan struct{}, s.limit)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return s.readFailed(ctx, readErr)
			}
			if slots != nil {
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handle(ctx, handler, frame)
				if slots != nil {
					<-slots
				}
			}()
		}
	}
}

func (s *Stream) readFailed(ctx context.Context, readErr <-chan error) error {
	var err error
	select {
	case err = <-readErr:
	default:
		return ctx.Err()
	}

	switch {
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, ErrMalformedFrame):
		if data, serr := protocol.NewParseError("").ErrorResponse().Serialize(); serr == nil {
			s.write(data)
		}
	}

	s.logger.Error("stream read failed",
		middleware.F("transport", s.name),
		middleware.F("error", err.Error()),
	)
	return fmt.Errorf("read %s: %w", s.name, err)
}

func (s *Stream) handle(ctx context.Context, handler Handler, frame []byte) {
	if reply := handler.HandleMessage(ctx, frame); reply != nil {
		s.write(reply)
	}
}

func (s *Stream) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("stream write failed",
			middleware.F("transport", s.name),
			middleware.F("error", err.Error()),
		)
	}
}

// ServeConn serves a single network connection until the peer closes it or
// ctx is canceled. The connection is closed on return.
func ServeConn(ctx context.Context, conn net.Conn, handler Handler, opts ...StreamOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	opts = append([]StreamOption{WithStreamName("tcp"), WithRemoteAddr(remote)}, opts...)
	err := NewStream(conn, conn, opts...).Serve(ctx, handler)
	if errors.Is(err, net.ErrClosed) {
		return ctx.Err()
	}
	return err
}
