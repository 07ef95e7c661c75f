// Package gym exposes a guided target as a reinforcement learning environment.
package gym

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/zeu5/fuzz-gym/metrics"
	"github.com/zeu5/fuzz-gym/protocol"
	"github.com/zeu5/fuzz-gym/session"
	"github.com/zeu5/fuzz-gym/statedict"
	"github.com/zeu5/fuzz-gym/types"
)

var (
	ErrInvalidAction = errors.New("gym: invalid action")
	ErrNotReset      = errors.New("gym: step before reset")
	ErrEpisodeDone   = errors.New("gym: episode is done")
	ErrClosed        = errors.New("gym: environment closed")
)

// DefaultSeed is used until Seed is called.
const DefaultSeed int64 = 42

type Config struct {
	Session session.Config
	// States resolves signatures; it becomes the resolver of the session.
	States     *statedict.StateDict
	ActionMode ActionMode
	// DefaultRange replaces the range of STATE lines that announce none.
	DefaultRange int
	// LogRange fills Observation.LogRange with ln(range).
	LogRange bool
	// Ledger, when set, is closed with the environment.
	Ledger io.Closer
	Logger *slog.Logger
}

type Env struct {
	config  Config
	session *session.Session
	logger  *slog.Logger

	// step serializes Reset and Step
	step sync.Mutex

	mu     sync.Mutex
	seed   int64
	rng    int
	reset  bool
	done   bool
	closed bool
}

var _ types.Environment = &Env{}

func New(config Config) (*Env, error) {
	if config.States == nil {
		return nil, fmt.Errorf("gym: no state dictionary configured")
	}
	if config.ActionMode == "" {
		config.ActionMode = Normalized
	}
	if config.ActionMode != Normalized && config.ActionMode != Discrete {
		return nil, fmt.Errorf("gym: unknown action mode %q", config.ActionMode)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Session.Logger == nil {
		config.Session.Logger = config.Logger
	}
	config.Session.Protocol.Resolver = config.States

	s, err := session.New(config.Session)
	if err != nil {
		return nil, fmt.Errorf("gym: %w", err)
	}
	return &Env{
		config:  config,
		session: s,
		logger:  config.Logger,
		seed:    DefaultSeed,
	}, nil
}

// Seed sets the seed of the following episodes. Nil draws a random 63 bit seed.
func (e *Env) Seed(seed *int64) []int64 {
	var value int64
	if seed != nil {
		value = *seed
	} else {
		n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
		if err != nil {
			value = time.Now().UnixNano() & math.MaxInt64
		} else {
			value = n.Int64()
		}
	}
	e.mu.Lock()
	e.seed = value
	e.mu.Unlock()
	return []int64{value}
}

// Reset starts a fresh episode. A target that ends its first turn, or never
// reaches one, is reported as an error.
func (e *Env) Reset() (types.Observation, error) {
	e.step.Lock()
	defer e.step.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.Observation{}, ErrClosed
	}
	seed := e.seed
	e.reset, e.done = false, false
	e.mu.Unlock()

	turn, err := e.session.Start(seed)
	if errors.Is(err, session.ErrTornDown) {
		return types.Observation{}, ErrClosed
	}
	if err != nil {
		e.fault(err)
		return types.Observation{}, fmt.Errorf("gym: reset: %w", err)
	}
	metrics.States.Set(float64(e.config.States.Len()))
	metrics.Coverage.Set(turn.Coverage)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset = true
	e.rng = e.effectiveRange(turn.Range)
	return e.observe(turn), nil
}

// Step sends action to the target and waits for the turn it causes.
func (e *Env) Step(action float64) (types.Observation, float64, bool, types.Info, error) {
	e.step.Lock()
	defer e.step.Unlock()

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return types.Observation{}, 0, true, types.Info{}, ErrClosed
	case !e.reset:
		e.mu.Unlock()
		return types.Observation{}, 0, false, types.Info{}, ErrNotReset
	case e.done:
		e.mu.Unlock()
		return types.Observation{}, 0, true, types.Info{}, ErrEpisodeDone
	}
	rng := e.rng
	e.mu.Unlock()

	line, err := encode(e.config.ActionMode, rng, action)
	if err != nil {
		return types.Observation{}, 0, false, types.Info{}, err
	}

	start := time.Now()
	turn, err := e.session.Step(line)
	metrics.Steps.Inc()
	metrics.StepDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, session.ErrTornDown) {
		e.mu.Lock()
		e.done = true
		e.mu.Unlock()
		return types.Observation{}, 0, true, types.Info{}, ErrClosed
	}
	if err != nil {
		e.session.Teardown()
		e.fault(err)
		e.mu.Lock()
		e.done = true
		e.mu.Unlock()
		return types.Observation{}, 0, true, types.Info{}, fmt.Errorf("gym: step: %w", err)
	}
	metrics.Coverage.Set(turn.Coverage)
	metrics.States.Set(float64(e.config.States.Len()))

	e.mu.Lock()
	defer e.mu.Unlock()
	if turn.Done() {
		e.done = true
		metrics.Episodes.WithLabelValues(string(turn.Result)).Inc()
		e.logger.Debug("episode done", "result", turn.Result, "reward", turn.Reward, "steps", e.session.Steps())
	} else {
		e.rng = e.effectiveRange(turn.Range)
	}
	return e.observe(turn), turn.Reward, turn.Done(), e.info(turn), nil
}

// ActionSpace is the space the next action must come from.
func (e *Env) ActionSpace() types.ActionSpace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return actionSpace(e.config.ActionMode, e.rng)
}

// Close tears the target down. It may be called while a Step is in flight,
// which then returns ErrClosed.
func (e *Env) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.session.Teardown()
	if e.config.Ledger != nil {
		return e.config.Ledger.Close()
	}
	return nil
}

func (e *Env) effectiveRange(rng int) int {
	if rng < 0 {
		return e.config.DefaultRange
	}
	return rng
}

func (e *Env) observe(turn protocol.Turn) types.Observation {
	obs := types.Observation{StateID: turn.StateID}
	if e.config.LogRange && !turn.Done() {
		obs.LogRange = types.LogRange(e.effectiveRange(turn.Range))
	}
	return obs
}

func (e *Env) info(turn protocol.Turn) types.Info {
	return types.Info{
		Signature: turn.Signature,
		Range:     e.effectiveRange(turn.Range),
		Coverage:  turn.Coverage,
		Result:    string(turn.Result),
		Panic:     turn.Panic,
		Payload:   turn.Payload,
		Steps:     e.session.Steps(),
	}
}

func (e *Env) fault(err error) {
	kind := "other"
	switch {
	case errors.Is(err, protocol.ErrDesync):
		kind = "desync"
	case errors.Is(err, protocol.ErrCoverageRegression):
		kind = "coverage_regression"
	case errors.Is(err, session.ErrInitTerminal):
		kind = "init_terminal"
	}
	metrics.Faults.WithLabelValues(kind).Inc()
	e.logger.Warn("target fault", "kind", kind, "error", err)
}
