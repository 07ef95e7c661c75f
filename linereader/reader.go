// Package linereader decouples reading a subprocess's output from the code that
// consumes it. A background goroutine keeps the pipe drained into an unbounded
// queue, so the process never blocks on a full output buffer while the caller is
// busy writing its next decision.
package linereader

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Timeout is returned by ReadLine when no line arrived before the deadline.
const Timeout = "TIMEOUT"

var (
	ErrAlreadyOpen = errors.New("linereader: already open")
	ErrClosed      = errors.New("linereader: closed")
)

type Reader struct {
	bypass bool
	logger *slog.Logger

	mu      sync.Mutex
	lines   []string
	source  io.ReadCloser
	buf     *bufio.Reader
	opened  bool
	closed  bool
	drained bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a reader. With bypass set, ReadLine reads the stream directly in
// the caller's goroutine and cannot honor its timeout.
func New(bypass bool, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		bypass: bypass,
		logger: logger,
		lines:  make([]string, 0),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Open binds the reader to source and, unless bypassed, starts the pump.
func (r *Reader) Open(source io.ReadCloser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.opened {
		return ErrAlreadyOpen
	}
	r.opened = true
	r.source = source
	r.buf = bufio.NewReader(source)
	if !r.bypass {
		r.wg.Add(1)
		go r.pump(r.buf)
	}
	return nil
}

func (r *Reader) pump(buf *bufio.Reader) {
	defer r.wg.Done()
	defer close(r.done)
	for {
		line, err := buf.ReadString('\n')
		if line != "" {
			r.push(clean(line))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) {
				r.logger.Debug("line pump stopped", "error", err)
			}
			return
		}
	}
}

func (r *Reader) push(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Reader) pop() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return "", false
	}
	line := r.lines[0]
	r.lines[0] = ""
	r.lines = r.lines[1:]
	return line, true
}

// ReadLine returns the next line, or Timeout once timeout elapses. A timeout of
// zero or less waits without a deadline. After the stream has ended and every
// queued line was consumed, ReadLine returns Timeout immediately.
func (r *Reader) ReadLine(timeout time.Duration) string {
	if r.bypass {
		return r.readDirect()
	}
	if !r.isOpen() {
		return Timeout
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if line, ok := r.pop(); ok {
			return line
		}
		select {
		case <-r.notify:
		case <-r.done:
			if line, ok := r.pop(); ok {
				return line
			}
			return Timeout
		case <-deadline:
			return Timeout
		}
	}
}

func (r *Reader) readDirect() string {
	r.mu.Lock()
	buf := r.buf
	r.mu.Unlock()
	if buf == nil {
		return Timeout
	}
	line, err := buf.ReadString('\n')
	if err != nil {
		r.mu.Lock()
		r.drained = true
		r.mu.Unlock()
		if line == "" {
			return Timeout
		}
	}
	return clean(line)
}

func (r *Reader) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

// Exhausted reports whether the stream has ended and nothing is left to read.
func (r *Reader) Exhausted() bool {
	if r.bypass {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.drained
	}
	select {
	case <-r.done:
	default:
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines) == 0
}

// Drain discards whatever the process still writes. It matters in bypass mode
// only, where no pump is running to keep the pipe empty during shutdown.
func (r *Reader) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bypass || !r.opened || r.closed || r.drained {
		return
	}
	r.drained = true
	buf := r.buf
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = io.Copy(io.Discard, buf)
	}()
}

// Close closes the source and waits for the pump to exit. Calling it again, or
// before Open, does nothing.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	source := r.source
	r.mu.Unlock()

	var err error
	if source != nil {
		err = source.Close()
	}
	r.wg.Wait()
	return err
}

func clean(line string) string {
	return strings.TrimSpace(strings.ToValidUTF8(line, "�"))
}
