package session

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zeu5/fuzz-gym/protocol"
)

// Channel selects how decisions reach the target.
type Channel string

const (
	// ChannelPipe writes decisions to a named pipe whose path is handed to the
	// target on its command line.
	ChannelPipe Channel = "pipe"
	// ChannelStdin writes decisions to the target's standard input.
	ChannelStdin Channel = "stdin"
)

// Launcher builds the argv of one run. guide is the pipe path, empty when the
// stdin channel is used.
type Launcher interface {
	Command(seed int64, guide string) []string
}

// Argv is a Launcher over a fixed argv where the placeholders {seed} and
// {guide} are substituted in every argument.
type Argv []string

func (a Argv) Command(seed int64, guide string) []string {
	r := strings.NewReplacer("{seed}", strconv.FormatInt(seed, 10), "{guide}", guide)
	args := make([]string, len(a))
	for i, arg := range a {
		args[i] = r.Replace(arg)
	}
	return args
}

type Config struct {
	Launcher Launcher
	// Dir is the working directory of the target.
	Dir string
	// Env is appended to the harness environment.
	Env      []string
	Channel  Channel
	GuideDir string

	StartTimeout time.Duration
	StepTimeout  time.Duration
	KillGrace    time.Duration

	Bypass       bool
	ReuseProcess bool

	Protocol protocol.Config
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = ChannelPipe
	}
	if c.GuideDir == "" {
		c.GuideDir = "guide"
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Protocol.Logger == nil {
		c.Protocol.Logger = c.Logger
	}
	return c
}
