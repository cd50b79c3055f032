package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

var (
	// ErrMalformedFrame is returned when the stream does not hold a well-formed
	// MessagePack object. The stream cannot be resynchronized after it.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrFrameTooLarge is returned when a single object exceeds the size limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// FrameReader splits a byte stream into MessagePack objects. MessagePack is
// self-delimiting, so no extra framing is needed on the wire.
type FrameReader struct {
	src *countingReader
	dec *msgpack.Decoder
}

// NewFrameReader reads frames from r. A max of zero or less disables the
// size limit.
func NewFrameReader(r io.Reader, max int64) *FrameReader {
	src := &countingReader{r: bufio.NewReader(r), max: max}
	return &FrameReader{src: src, dec: msgpack.NewDecoder(src)}
}

// Next returns the raw bytes of the next object.
//
// It returns io.EOF when the stream ends cleanly between objects and
// io.ErrUnexpectedEOF when it ends inside one.
func (f *FrameReader) Next() ([]byte, error) {
	f.src.start()

	err := f.skip()
	if err == nil {
		return f.src.buf, nil
	}

	switch rerr := f.src.err; {
	case rerr == nil:
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	case errors.Is(rerr, io.EOF):
		if f.src.n == 0 {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	default:
		return nil, rerr
	}
}

var errTooDeep = fmt.Errorf("nesting deeper than %d levels", protocol.MaxNestingDepth)

// skip consumes one object without building it. Open containers live on an
// explicit stack, so nesting costs no call depth.
func (f *FrameReader) skip() error {
	var open []int // values still owed by each open container
	for {
		c, err := f.dec.PeekCode()
		if err != nil {
			return err
		}

		n := 0
		switch {
		case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
			n, err = f.dec.DecodeArrayLen()
		case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
			n, err = f.dec.DecodeMapLen()
			n *= 2
		default:
			err = f.dec.Skip()
		}
		if err != nil {
			return err
		}

		if n > 0 {
			if len(open) >= protocol.MaxNestingDepth {
				return errTooDeep
			}
			open = append(open, n)
			continue
		}

		// A scalar or empty container completes one value of its parent,
		// which may in turn complete the parent.
		for {
			if len(open) == 0 {
				return nil
			}
			top := len(open) - 1
			if open[top]--; open[top] > 0 {
				break
			}
			open = open[:top]
		}
	}
}

// countingReader tracks the bytes consumed by the current frame and keeps
// the last error of the underlying reader, so decoder failures can be told
// apart from I/O failures. The consumed bytes are kept in buf.
type countingReader struct {
	r   *bufio.Reader
	buf []byte
	n   int64
	max int64
	err error
}

func (c *countingReader) start() {
	c.buf = nil
	c.n = 0
	c.err = nil
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.max > 0 && c.n+int64(len(p)) > c.max {
		if c.n >= c.max {
			c.err = ErrFrameTooLarge
			return 0, c.err
		}
		p = p[:c.max-c.n]
	}
	n, err := c.r.Read(p)
	c.buf = append(c.buf, p[:n]...)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	if c.max > 0 && c.n >= c.max {
		c.err = ErrFrameTooLarge
		return 0, c.err
	}
	b, err := c.r.ReadByte()
	if err != nil {
		c.err = err
		return 0, err
	}
	c.buf = append(c.buf, b)
	c.n++
	return b, nil
}

func (c *countingReader) UnreadByte() error {
	if err := c.r.UnreadByte(); err != nil {
		return err
	}
	c.buf = c.buf[:len(c.buf)-1]
	c.n--
	return nil
}
