package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxLineBytes bounds a single framed message. Tool results can be large
// but a multi-megabyte request line is almost certainly garbage.
const maxLineBytes = 8 * 1024 * 1024

// Transport delivers opaque messages bidirectionally over a line-oriented
// stream. It knows nothing about JSON-RPC semantics beyond "one JSON value
// per line".
type Transport interface {
	// Start begins reading input. It returns once the read loop is running;
	// the loop itself reports failures through the error callback.
	Start() error
	// Send serializes v and writes exactly one line followed by a flush.
	// Concurrent calls never interleave partial lines.
	Send(v interface{}) error
	// OnMessage registers the message callback. Single slot, last wins.
	OnMessage(fn func(raw json.RawMessage))
	// OnError registers the error callback. Single slot, last wins.
	OnError(fn func(err error))
	// Stop stops reading and releases the stream. Idempotent.
	Stop() error
	// Done is closed when the read loop has exited (EOF, error, or Stop).
	Done() <-chan struct{}
}

// ParseError reports a line that was read but did not contain valid JSON.
// Raw carries the offending bytes so the error handler can still try to
// recover a request id from them.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StdioTransport frames messages as newline-delimited JSON over an
// io.Reader/io.Writer pair, normally stdin/stdout.
type StdioTransport struct {
	in  io.Reader
	out *bufio.Writer

	cbMu      sync.Mutex
	onMessage func(raw json.RawMessage)
	onError   func(err error)

	writeMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

// NewStdioTransport creates a transport over the given streams.
func NewStdioTransport(in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		in:      in,
		out:     bufio.NewWriter(out),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *StdioTransport) OnMessage(fn func(raw json.RawMessage)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onMessage = fn
}

func (t *StdioTransport) OnError(fn func(err error)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onError = fn
}

func (t *StdioTransport) Start() error {
	t.startOnce.Do(func() {
		go t.readLoop()
	})
	return nil
}

// errLineTooLong marks a line that exceeded maxLineBytes and was
// discarded through its trailing newline.
var errLineTooLong = errors.New("line too long")

func (t *StdioTransport) readLoop() {
	defer close(t.done)

	reader := bufio.NewReaderSize(t.in, 64*1024)

	for {
		select {
		case <-t.stopped:
			return
		default:
		}

		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			// A garbage line must not take the stream down with it.
			t.emitError(&ParseError{Err: fmt.Errorf("line exceeds %d bytes", maxLineBytes)})
			continue
		}

		t.handleLine(line)

		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.emitError(fmt.Errorf("transport read: %w", err))
			}
			return
		}
	}
}

func (t *StdioTransport) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		t.emitError(&ParseError{Raw: line, Err: fmt.Errorf("invalid JSON line")})
		return
	}
	t.emitMessage(json.RawMessage(line))
}

// readLine reads one newline-terminated line of at most maxLineBytes.
// An over-long line is skipped to its trailing newline and reported as
// errLineTooLong. A final unterminated line comes back alongside io.EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)

		if err == bufio.ErrBufferFull {
			if len(line) > maxLineBytes {
				if derr := discardLine(r); derr != nil && derr != io.EOF {
					return nil, derr
				}
				return nil, errLineTooLong
			}
			continue
		}
		return bytes.TrimSuffix(line, []byte("\n")), err
	}
}

// discardLine skips input through the next newline.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

func (t *StdioTransport) emitMessage(raw json.RawMessage) {
	t.cbMu.Lock()
	fn := t.onMessage
	t.cbMu.Unlock()
	if fn != nil {
		fn(raw)
	} else {
		log.Warn().Msg("Message received before handler registration, dropping")
	}
}

func (t *StdioTransport) emitError(err error) {
	t.cbMu.Lock()
	fn := t.onError
	t.cbMu.Unlock()
	if fn != nil {
		fn(err)
	} else {
		log.Error().Err(err).Msg("Transport error with no handler registered")
	}
}

func (t *StdioTransport) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		wrapped := fmt.Errorf("transport encode: %w", err)
		t.emitError(wrapped)
		return wrapped
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.out.Write(data); err != nil {
		wrapped := fmt.Errorf("transport write: %w", err)
		t.emitError(wrapped)
		return wrapped
	}
	if err := t.out.WriteByte('\n'); err != nil {
		wrapped := fmt.Errorf("transport write: %w", err)
		t.emitError(wrapped)
		return wrapped
	}
	if err := t.out.Flush(); err != nil {
		wrapped := fmt.Errorf("transport flush: %w", err)
		t.emitError(wrapped)
		return wrapped
	}
	return nil
}

func (t *StdioTransport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stopped)
		if c, ok := t.in.(io.Closer); ok {
			// Unblocks a reader parked on stdin.
			c.Close()
		}
	})
	return nil
}

func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}
