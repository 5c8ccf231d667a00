package wire

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// MaxContentLength bounds a single frame (256MB).
const MaxContentLength = 256 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame header announces more than
// MaxContentLength bytes.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum content length")

// Conn is a bidirectional message channel over a reader/writer pair.
//
// Send may be called from several goroutines. Receive must only be called
// from one goroutine at a time, which is the owner of the read side.
type Conn struct {
	r      *bufio.Reader
	w      io.Writer
	closer []io.Closer

	mu sync.Mutex
}

// NewConn wraps r and w. The optional closers are closed by Close.
func NewConn(r io.Reader, w io.Writer, closers ...io.Closer) *Conn {
	return &Conn{
		r:      bufio.NewReader(r),
		w:      w,
		closer: closers,
	}
}

// Send writes one framed message.
func (c *Conn) Send(msg *Message) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(msg); err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.w, body.Bytes())
}

// Receive reads one framed message. It returns io.EOF when the peer closed
// the stream cleanly between frames.
func (c *Conn) Receive() (*Message, error) {
	body, err := readFrame(c.r)
	if err != nil {
		return nil, err
	}

	msg := &Message{}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// Close closes the underlying handles.
func (c *Conn) Close() error {
	var errs []error
	for _, cl := range c.closer {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeFrame(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	first := true

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if first && errors.Is(err, io.EOF) && line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		first = false

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("invalid header: %q", line)
		}

		if strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid content length %q: %w", value, err)
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}
	if contentLength > MaxContentLength {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return body, nil
}
