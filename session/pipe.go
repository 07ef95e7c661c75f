package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var ErrPipeTimeout = errors.New("session: target did not open the guide pipe")

// guidePipe is the write end of a named pipe. Opening a fifo for writing blocks
// until the target opens it for reading, so the open runs in its own goroutine
// and Send waits for it only when it needs to write.
type guidePipe struct {
	path   string
	opened chan struct{}

	mu      sync.Mutex
	started bool
	file    *os.File
	err     error
}

func createPipe(path string) (*guidePipe, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("session: mkfifo %s: %w", path, err)
	}
	return &guidePipe{path: path, opened: make(chan struct{})}, nil
}

func (p *guidePipe) openAsync() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go func() {
		defer close(p.opened)
		f, err := os.OpenFile(p.path, os.O_WRONLY, 0)
		p.mu.Lock()
		p.file, p.err = f, err
		p.mu.Unlock()
	}()
}

// writer waits for the open to finish. It gives up after timeout, or as soon
// as exited is closed.
func (p *guidePipe) writer(timeout time.Duration, exited <-chan struct{}) (*os.File, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-p.opened:
	case <-exited:
		return nil, fmt.Errorf("%w: process exited", ErrPipeTimeout)
	case <-deadline:
		return nil, fmt.Errorf("%w within %s", ErrPipeTimeout, timeout)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, fmt.Errorf("session: open guide pipe: %w", p.err)
	}
	if p.file == nil {
		return nil, fmt.Errorf("session: guide pipe closed")
	}
	return p.file, nil
}

// close releases the write end and removes the fifo. A still blocked open is
// released by briefly opening the read end.
func (p *guidePipe) close(logger *slog.Logger) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	select {
	case <-p.opened:
	default:
		if !started {
			break
		}
		rd, err := os.OpenFile(p.path, os.O_RDONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			select {
			case <-p.opened:
			case <-time.After(time.Second):
				logger.Warn("guide pipe open did not return", "pipe", p.path)
			}
			rd.Close()
		} else {
			logger.Warn("could not unblock guide pipe", "pipe", p.path, "error", err)
		}
	}

	p.mu.Lock()
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove guide pipe", "pipe", p.path, "error", err)
	}
}

// SweepStale removes pipe files left in dir by harness processes that are no
// longer running. It returns the removed paths.
func SweepStale(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pipe"))
	if err != nil {
		return nil, fmt.Errorf("session: sweep %s: %w", dir, err)
	}
	removed := make([]string, 0)
	for _, path := range matches {
		pid, ok := ownerPid(filepath.Base(path))
		if !ok || pid == os.Getpid() || pidAlive(pid) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("session: sweep %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

func ownerPid(name string) (int, bool) {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return 0, false
	}
	pid, err := strconv.Atoi(prefix)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
