package config

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zeu5/fuzz-gym/gym"
	"github.com/zeu5/fuzz-gym/protocol"
	"github.com/zeu5/fuzz-gym/session"
	"github.com/zeu5/fuzz-gym/statedict"
)

// Launcher returns the argv builder of the configured target.
func (c *Config) Launcher() session.Argv {
	switch c.Target {
	case TargetCosmos:
		argv := session.Argv{
			c.Binary, "test", "./simapp/", "-run", "TestFullAppSimulation",
			"-Enabled", "-Commit", "-v", "-cover", "-coverpkg=./...",
		}
		argv = append(argv, strings.Fields(c.SDKConfig)...)
		return append(argv, "-Seed={seed}", "-Guide={guide}")
	case TargetTree:
		return session.Argv{
			c.Binary,
			strconv.Itoa(c.TreeDepth),
			strconv.FormatFloat(c.TreePrune, 'g', -1, 64),
			"{seed}",
		}
	default:
		return append(session.Argv{c.Binary}, c.Args...)
	}
}

// Protocol returns the parser settings of the configured target.
func (c *Config) Protocol() protocol.Config {
	reward := protocol.DefaultRewardPolicy()
	if c.FailBonus != nil {
		reward.FailBonus = *c.FailBonus
	}
	p := protocol.Config{
		Reward:      reward,
		PanicAsFail: c.PanicAsFail,
		Verbose:     c.Verbose,
	}
	switch c.Target {
	case TargetCosmos:
		// go test prints its coverage after the verdict
		p.AwaitCoverage = true
	case TargetTree:
		p.Judge = protocol.TreeJudge
	}
	return p
}

// OpenLedger opens the configured state ledger. The closer is nil for
// backends that hold no connection.
func OpenLedger(l Ledger, logger *slog.Logger) (*statedict.StateDict, io.Closer, error) {
	var (
		store  statedict.Store
		closer io.Closer
	)
	switch l.Backend {
	case "", "file":
		store = statedict.NewFileStore(l.Path, logger)
	case "memory":
		store = statedict.NewMemoryStore()
	case "redis":
		r := statedict.NewRedisStore(l.RedisAddr, l.RedisKey, logger)
		store, closer = r, r
	default:
		return nil, nil, fmt.Errorf("config: unknown ledger backend %q", l.Backend)
	}
	base := l.Base
	if base == 0 {
		base = 1
	}
	return statedict.New(store, base, logger), closer, nil
}

// Build creates an environment for the configured target. Environments
// built from configs sharing a ledger share one signature space.
func Build(c *Config, logger *slog.Logger) (*gym.Env, error) {
	if logger == nil {
		logger = slog.Default()
	}
	states, closer, err := OpenLedger(c.Ledger, logger)
	if err != nil {
		return nil, err
	}
	return BuildWithStates(c, states, closer, logger)
}

// BuildWithStates is Build over an already opened ledger, as used by parallel
// runs.
func BuildWithStates(c *Config, states *statedict.StateDict, ledger io.Closer, logger *slog.Logger) (*gym.Env, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := gym.New(gym.Config{
		Session: session.Config{
			Launcher:     c.Launcher(),
			Dir:          c.Dir,
			Env:          c.Env,
			Channel:      session.Channel(c.Channel),
			GuideDir:     c.GuideDir,
			StartTimeout: c.StartTimeout,
			StepTimeout:  c.StepTimeout,
			KillGrace:    c.KillGrace,
			Bypass:       c.Bypass,
			ReuseProcess: c.ReuseProcess,
			Protocol:     c.Protocol(),
			Logger:       logger,
		},
		States:       states,
		ActionMode:   gym.ActionMode(c.ActionMode),
		DefaultRange: c.DefaultRange,
		LogRange:     c.LogRange,
		Ledger:       ledger,
		Logger:       logger,
	})
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, fmt.Errorf("config: build: %w", err)
	}
	return env, nil
}
