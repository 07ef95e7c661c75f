// Package protocol interprets the line protocol spoken by a guided target. A
// Parser consumes lines until the turn ends, either on a STATE announcing the
// next decision point or on a terminal result line.
package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDesync             = errors.New("protocol: action echo does not match the sent action")
	ErrCoverageRegression = errors.New("protocol: coverage decreased")
)

// keywords in match order; a line belongs to the first keyword it starts with
var keywords = []string{"STATE", "ACTION", "COVERAGE", "PASS", "FAIL", "TIMEOUT", "DONE", "panic"}

// TimeoutLine is the sentinel a LineSource returns when no line arrived in time.
const TimeoutLine = "TIMEOUT"

const exitedEarly = "process exited before a terminal line"

type Result string

const (
	None    Result = ""
	Pass    Result = "PASS"
	Fail    Result = "FAIL"
	Timeout Result = "TIMEOUT"
)

// Turn is everything one exchange with the target produced.
type Turn struct {
	StateID   int
	Signature string
	// Range is the announced action range, -1 when the STATE line carried none.
	Range    int
	Reward   float64
	Coverage float64
	Result   Result
	Panic    string
	Payload  string
}

func (t Turn) Done() bool {
	return t.Result != None
}

// LineSource is satisfied by *linereader.Reader.
type LineSource interface {
	ReadLine(timeout time.Duration) string
	Exhausted() bool
}

type Resolver interface {
	Resolve(signature string) (int, error)
}

// RewardPolicy decides how a terminal result adds to the coverage reward.
// FailBonus is added once to the turn that ends in FAIL.
type RewardPolicy struct {
	FailBonus float64
}

func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{FailBonus: 1.0}
}

type Config struct {
	Resolver Resolver
	// Judge maps a DONE payload to a result. Nil accepts every payload as PASS
	// with no reward.
	Judge  Judge
	Reward RewardPolicy
	// PanicAsFail ends the turn with FAIL on the first panic line.
	PanicAsFail bool
	// AwaitCoverage keeps reading after PASS or FAIL until a go test coverage
	// line, the end of the stream or the deadline.
	AwaitCoverage bool
	Verbose       bool
	Logger        *slog.Logger
}

type Parser struct {
	config Config
	logger *slog.Logger

	coverage float64
	panicMsg string
	pending  *float64
}

func New(config Config) *Parser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Judge == nil {
		config.Judge = AcceptAll
	}
	return &Parser{config: config, logger: logger}
}

// Reset forgets the per-episode state.
func (p *Parser) Reset() {
	p.coverage = 0
	p.panicMsg = ""
	p.pending = nil
}

// Expect records the action just sent, which the target may echo back.
func (p *Parser) Expect(value float64) {
	p.pending = &value
}

func (p *Parser) Coverage() float64 {
	return p.coverage
}

// Next reads one turn from src. The whole turn must complete within timeout;
// zero or less waits forever. Protocol faults are returned as errors, every
// other outcome, including a hang or a crash, is a Turn.
func (p *Parser) Next(src LineSource, timeout time.Duration) (Turn, error) {
	turn := Turn{Range: -1}
	defer func() { p.pending = nil }()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	settling := false

	for {
		wait := time.Duration(0)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return p.timedOut(src, turn, settling), nil
			}
		}
		line := src.ReadLine(wait)
		if line == TimeoutLine {
			return p.timedOut(src, turn, settling), nil
		}
		if p.config.Verbose {
			p.logger.Debug("target", "line", line)
		}

		keyword, rest := matchKeyword(line)
		if settling {
			if pct, ok := goCoverage(line); ok {
				if err := p.addCoverage(&turn, pct); err != nil {
					return turn, err
				}
				return p.finish(turn), nil
			}
			continue
		}

		switch {
		case keyword == "STATE":
			rng, sig := parseState(rest)
			id, err := p.config.Resolver.Resolve(sig)
			if err != nil {
				return turn, fmt.Errorf("protocol: resolve state: %w", err)
			}
			turn.StateID, turn.Signature, turn.Range = id, sig, rng
			return p.finish(turn), nil

		case keyword == "ACTION":
			if err := p.checkEcho(rest); err != nil {
				return turn, err
			}

		case keyword == "COVERAGE":
			value, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				p.logger.Warn("ignoring malformed coverage line", "line", line)
				continue
			}
			if err := p.addCoverage(&turn, value); err != nil {
				return turn, err
			}

		case keyword == "PASS" || keyword == "FAIL":
			turn.Result = Result(keyword)
			if keyword == "FAIL" {
				turn.Reward += p.config.Reward.FailBonus
			}
			if p.config.AwaitCoverage {
				settling = true
				continue
			}
			return p.finish(turn), nil

		case keyword == "TIMEOUT":
			turn.Result = Timeout
			return p.finish(turn), nil

		case keyword == "DONE":
			turn.Payload = rest
			result, reward := p.config.Judge.Judge(rest)
			turn.Result = result
			turn.Reward += reward
			return p.finish(turn), nil

		case keyword == "panic":
			if p.panicMsg == "" {
				p.panicMsg = line
			}
			if p.config.PanicAsFail {
				turn.Result = Fail
				turn.Reward += p.config.Reward.FailBonus
				return p.finish(turn), nil
			}

		default:
			if pct, ok := goCoverage(line); ok {
				if err := p.addCoverage(&turn, pct); err != nil {
					return turn, err
				}
			}
		}
	}
}

// timedOut turns a TIMEOUT into a result. An exhausted source means the target
// is gone, which counts as a failure rather than a hang.
func (p *Parser) timedOut(src LineSource, turn Turn, settling bool) Turn {
	if settling {
		return p.finish(turn)
	}
	if src.Exhausted() {
		turn.Result = Fail
		turn.Reward += p.config.Reward.FailBonus
		if p.panicMsg == "" {
			p.panicMsg = exitedEarly
		}
		return p.finish(turn)
	}
	turn.Result = Timeout
	return p.finish(turn)
}

func (p *Parser) finish(turn Turn) Turn {
	turn.Coverage = p.coverage
	if turn.Done() {
		turn.StateID = 0
		turn.Range = 0
		turn.Panic = p.panicMsg
	}
	return turn
}

func (p *Parser) addCoverage(turn *Turn, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %g is not a coverage level", ErrCoverageRegression, value)
	}
	if value < p.coverage {
		return fmt.Errorf("%w: %g after %g", ErrCoverageRegression, value, p.coverage)
	}
	turn.Reward += value - p.coverage
	p.coverage = value
	return nil
}

func (p *Parser) checkEcho(rest string) error {
	if p.pending == nil {
		return fmt.Errorf("%w: echo %q with no action pending", ErrDesync, rest)
	}
	got, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return fmt.Errorf("%w: unreadable echo %q", ErrDesync, rest)
	}
	if !isClose(got, *p.pending) {
		return fmt.Errorf("%w: sent %g, target echoed %g", ErrDesync, *p.pending, got)
	}
	p.pending = nil
	return nil
}

// isClose follows numpy.isclose with its default tolerances.
func isClose(a, b float64) bool {
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}

// matchKeyword returns the keyword line starts with and the remainder after it,
// or an empty keyword for noise.
func matchKeyword(line string) (string, string) {
	for _, keyword := range keywords {
		if rest, ok := strings.CutPrefix(line, keyword); ok {
			return keyword, strings.TrimSpace(rest)
		}
	}
	return "", line
}

func splitKeyword(line string) (string, string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// parseState splits "<range> <signature>". A first token that is not an integer
// is part of the signature.
func parseState(rest string) (int, string) {
	first, tail := splitKeyword(rest)
	if rng, err := strconv.Atoi(first); err == nil {
		return rng, tail
	}
	return -1, rest
}

// goCoverage reads the "coverage: 42.1% of statements" line of go test -cover.
func goCoverage(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(line, "coverage:")
	if !ok {
		return 0, false
	}
	field, _ := splitKeyword(strings.TrimSpace(rest))
	pct, ok := strings.CutSuffix(field, "%")
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(pct, 64)
	if err != nil {
		return 0, false
	}
	return value / 100, true
}
