// Package session owns the lifecycle of one guided target process: spawning
// it with its decision channel, feeding it actions, parsing its answers and
// tearing everything down again, including from another goroutine.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/zeu5/fuzz-gym/linereader"
	"github.com/zeu5/fuzz-gym/protocol"
)

var (
	ErrInitTerminal = errors.New("session: first turn is terminal")
	ErrNotStarted   = errors.New("session: not started")
	ErrEpisodeEnded = errors.New("session: episode already ended")
	ErrNoLauncher   = errors.New("session: no launcher configured")
	ErrNoResolver   = errors.New("session: no state resolver configured")
	ErrTornDown     = errors.New("session: torn down during the turn")
)

// run is one live target process and its channels.
type run struct {
	cmd    *exec.Cmd
	argv   []string
	exited chan struct{}
	reader *linereader.Reader
	pipe   *guidePipe
	stdin  io.WriteCloser
}

func (r *run) alive() bool {
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

func (r *run) channel(timeout time.Duration) (io.Writer, error) {
	if r.pipe != nil {
		return r.pipe.writer(timeout, r.exited)
	}
	return r.stdin, nil
}

func (r *run) stop(grace time.Duration, bypass bool, logger *slog.Logger) {
	if r.stdin != nil {
		r.stdin.Close()
	}
	if r.pipe != nil {
		r.pipe.close(logger)
	}
	if bypass {
		r.reader.Drain()
	}

	pid := r.cmd.Process.Pid
	if r.alive() {
		_ = unix.Kill(-pid, unix.SIGTERM)
		select {
		case <-r.exited:
		case <-time.After(grace):
			logger.Warn("target ignored SIGTERM, killing", "pid", pid)
			_ = unix.Kill(-pid, unix.SIGKILL)
			<-r.exited
		}
	}
	// children of the target may still hold the output pipe open
	_ = unix.Kill(-pid, unix.SIGKILL)

	if err := r.reader.Close(); err != nil {
		logger.Debug("closing target output", "pid", pid, "error", err)
	}
	logger.Info("target stopped", "pid", pid)
}

// Session runs episodes against one target. Start, Step and Finish are meant
// for a single caller; Teardown may be called from anywhere at any time.
type Session struct {
	config Config
	logger *slog.Logger
	parser *protocol.Parser

	mu    sync.Mutex
	run   *run
	trace *traceLog
	steps int
	ended bool
	last  protocol.Result
	// gen counts teardowns; a turn that sees it change was interrupted
	gen uint64
}

func New(config Config) (*Session, error) {
	config = config.withDefaults()
	if config.Launcher == nil {
		return nil, ErrNoLauncher
	}
	if config.Protocol.Resolver == nil {
		return nil, ErrNoResolver
	}
	return &Session{
		config: config,
		logger: config.Logger,
		parser: protocol.New(config.Protocol),
	}, nil
}

// Start begins an episode and returns its first turn. The previous run is torn
// down unless ReuseProcess is set and its process is still alive.
func (s *Session) Start(seed int64) (protocol.Turn, error) {
	if s.reusable() {
		return s.restart()
	}
	s.Teardown()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	// registered before spawning so TeardownAll sees a process that is starting
	register(s)
	fail := func(err error) (protocol.Turn, error) {
		unregister(s)
		return protocol.Turn{}, err
	}

	if err := os.MkdirAll(s.config.GuideDir, 0o755); err != nil {
		return fail(fmt.Errorf("session: create guide folder: %w", err))
	}
	name := fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())

	var (
		pipe  *guidePipe
		guide string
		err   error
	)
	if s.config.Channel == ChannelPipe {
		guide = filepath.Join(s.config.GuideDir, name+".pipe")
		if pipe, err = createPipe(guide); err != nil {
			return fail(err)
		}
	}
	trace, err := openTrace(filepath.Join(s.config.GuideDir, name+".trace"))
	if err != nil {
		if pipe != nil {
			pipe.close(s.logger)
		}
		return fail(err)
	}

	argv := s.config.Launcher.Command(seed, guide)
	r, err := s.spawn(argv, pipe)
	if err != nil {
		if pipe != nil {
			pipe.close(s.logger)
		}
		trace.close()
		return fail(err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		r.stop(s.config.KillGrace, s.config.Bypass, s.logger)
		trace.close()
		return fail(ErrTornDown)
	}
	s.run, s.trace = r, trace
	s.steps, s.ended, s.last = 0, false, protocol.None
	s.mu.Unlock()

	s.logger.Info("target started", "pid", r.cmd.Process.Pid, "seed", seed, "pipe", guide, "trace", trace.path)
	s.parser.Reset()
	return s.first(r, gen)
}

func (s *Session) reusable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.ReuseProcess || s.run == nil || !s.ended || !s.run.alive() {
		return false
	}
	// a hung target or one whose output is gone would only time out again
	return (s.last == protocol.Pass || s.last == protocol.Fail) && !s.run.reader.Exhausted()
}

func (s *Session) restart() (protocol.Turn, error) {
	s.mu.Lock()
	r, old, gen := s.run, s.trace, s.gen
	s.mu.Unlock()
	if old != nil {
		old.close()
	}

	name := fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
	trace, err := openTrace(filepath.Join(s.config.GuideDir, name+".trace"))
	if err != nil {
		s.Teardown()
		return protocol.Turn{}, err
	}
	s.mu.Lock()
	s.trace = trace
	s.steps, s.ended, s.last = 0, false, protocol.None
	s.mu.Unlock()

	s.logger.Info("reusing target", "pid", r.cmd.Process.Pid, "trace", trace.path)
	s.parser.Reset()
	return s.first(r, gen)
}

func (s *Session) first(r *run, gen uint64) (protocol.Turn, error) {
	turn, err := s.parser.Next(r.reader, s.config.StartTimeout)
	if s.tornDown(gen) {
		return protocol.Turn{}, ErrTornDown
	}
	if err != nil {
		s.Teardown()
		return turn, err
	}
	if turn.Done() {
		s.Finish(turn)
		s.Teardown()
		return turn, fmt.Errorf("%w: %s", ErrInitTerminal, turn.Result)
	}
	return turn, nil
}

func (s *Session) spawn(argv []string, pipe *guidePipe) (*run, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("session: launcher returned an empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.config.Dir
	cmd.Env = append(os.Environ(), s.config.Env...)
	// own process group, so that go test and the binary it builds die together
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// one pipe for stdout and stderr; cmd.Wait must not close the read end
	out, in, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("session: output pipe: %w", err)
	}
	cmd.Stdout = in
	cmd.Stderr = in

	var stdin io.WriteCloser
	if s.config.Channel == ChannelStdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			out.Close()
			in.Close()
			return nil, fmt.Errorf("session: stdin pipe: %w", err)
		}
	}
	if err := cmd.Start(); err != nil {
		out.Close()
		in.Close()
		return nil, fmt.Errorf("session: start %s: %w", argv[0], err)
	}
	in.Close()

	r := &run{
		cmd:    cmd,
		argv:   argv,
		exited: make(chan struct{}),
		reader: linereader.New(s.config.Bypass, s.logger),
		pipe:   pipe,
		stdin:  stdin,
	}
	go func() {
		err := cmd.Wait()
		s.logger.Debug("target exited", "pid", cmd.Process.Pid, "error", err)
		close(r.exited)
	}()
	if pipe != nil {
		pipe.openAsync()
	}
	if err := r.reader.Open(out); err != nil {
		r.stop(s.config.KillGrace, s.config.Bypass, s.logger)
		return nil, err
	}
	return r, nil
}

// Send logs line to the trace and writes it to the target.
func (s *Session) Send(line string) error {
	s.mu.Lock()
	r, trace := s.run, s.trace
	s.mu.Unlock()
	if r == nil || trace == nil {
		return ErrNotStarted
	}
	if err := trace.write(line); err != nil {
		return err
	}
	w, err := r.channel(s.config.StepTimeout)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("session: send %q: %w", line, err)
	}
	return nil
}

// Step sends one decision and parses the turn it causes. A numeric line is
// expected to be echoed back by the target.
func (s *Session) Step(line string) (protocol.Turn, error) {
	s.mu.Lock()
	r, ended, gen := s.run, s.ended, s.gen
	s.mu.Unlock()
	if r == nil {
		return protocol.Turn{}, ErrNotStarted
	}
	if ended {
		return protocol.Turn{}, ErrEpisodeEnded
	}

	if value, err := strconv.ParseFloat(line, 64); err == nil {
		s.parser.Expect(value)
	}
	if err := s.Send(line); err != nil {
		// a dead target shows up as a failure in the output
		s.logger.Warn("send failed", "action", line, "error", err)
	}
	turn, err := s.parser.Next(r.reader, s.config.StepTimeout)

	s.mu.Lock()
	torn := s.gen != gen
	s.steps++
	s.mu.Unlock()
	if torn {
		// whatever the dying target printed is not its answer
		return protocol.Turn{}, ErrTornDown
	}
	if err != nil {
		return turn, err
	}
	if turn.Done() {
		s.Finish(turn)
	}
	return turn, nil
}

// Finish appends the result record of the episode to its trace. Only the
// first call of an episode writes.
func (s *Session) Finish(turn protocol.Turn) error {
	s.mu.Lock()
	r, trace, steps, ended := s.run, s.trace, s.steps, s.ended
	if !ended {
		s.ended, s.last = true, turn.Result
	}
	s.mu.Unlock()
	if ended {
		return nil
	}
	if trace == nil {
		return ErrNotStarted
	}

	command := ""
	if r != nil {
		command = strings.Join(r.argv, " ")
	}
	result := string(turn.Result)
	if turn.Panic != "" {
		result += " " + turn.Panic
	}
	s.logger.Info("episode finished", "result", turn.Result, "steps", steps, "coverage", turn.Coverage, "trace", trace.path)
	return trace.write(
		traceSeparator,
		command,
		fmt.Sprintf("COVERAGE %g STEPS %d TIMESTAMP %d", turn.Coverage, steps, time.Now().Unix()),
		result,
	)
}

// Teardown stops the target, removes its pipe and closes the trace. It is safe
// to call repeatedly and before Start.
func (s *Session) Teardown() {
	s.mu.Lock()
	r, trace := s.run, s.trace
	s.run, s.trace = nil, nil
	s.gen++
	s.mu.Unlock()

	if r != nil {
		r.stop(s.config.KillGrace, s.config.Bypass, s.logger)
	}
	if trace != nil {
		if err := trace.close(); err != nil {
			s.logger.Warn("closing trace", "trace", trace.path, "error", err)
		}
	}
	unregister(s)
}

func (s *Session) tornDown(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// Pid of the running target, 0 when none.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return 0
	}
	return s.run.cmd.Process.Pid
}

// PipePath returns the guide pipe of the running target, empty when none.
func (s *Session) PipePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.pipe == nil {
		return ""
	}
	return s.run.pipe.path
}

func (s *Session) TracePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trace == nil {
		return ""
	}
	return s.trace.path
}

func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
