package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/fuzz-gym/statedict"
)

// feed replays lines and then behaves like a closed stream, or like a silent
// live one when hang is set.
type feed struct {
	lines []string
	hang  bool
}

func (f *feed) ReadLine(time.Duration) string {
	if len(f.lines) == 0 {
		return TimeoutLine
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line
}

func (f *feed) Exhausted() bool {
	return !f.hang && len(f.lines) == 0
}

func newParser(config Config) (*Parser, *statedict.StateDict) {
	dict := statedict.New(statedict.NewMemoryStore(), 1, nil)
	config.Resolver = dict
	if config.Reward == (RewardPolicy{}) {
		config.Reward = DefaultRewardPolicy()
	}
	return New(config), dict
}

func TestTwoTurnPass(t *testing.T) {
	p, dict := newParser(Config{})
	src := &feed{lines: []string{
		"STATE 3 sigA",
		"ACTION 1", "COVERAGE 0.5", "STATE 2 sigB",
		"ACTION 0", "COVERAGE 1.0", "PASS",
	}}

	first, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.False(t, first.Done())
	assert.Equal(t, 3, first.Range)
	assert.Equal(t, "sigA", first.Signature)

	p.Expect(1)
	second, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.False(t, second.Done())
	assert.InDelta(t, 0.5, second.Reward, 1e-12)

	p.Expect(0)
	third, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, third.Result)
	assert.InDelta(t, 0.5, third.Reward, 1e-12)
	assert.Equal(t, 0, third.StateID)

	a, _ := dict.Resolve("sigA")
	b, _ := dict.Resolve("sigB")
	assert.Equal(t, []int{a, b}, []int{first.StateID, second.StateID})
}

func TestFailAddsBonusOnce(t *testing.T) {
	p, _ := newParser(Config{})
	src := &feed{lines: []string{"STATE 3 sigA", "ACTION 1", "COVERAGE 0.5", "STATE 2 sigB", "ACTION 0", "FAIL"}}

	for _, action := range []float64{-1, 1} {
		if action >= 0 {
			p.Expect(action)
		}
		_, err := p.Next(src, time.Second)
		require.NoError(t, err)
	}
	p.Expect(0)
	turn, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.InDelta(t, 1.0, turn.Reward, 1e-12)
}

func TestCustomFailBonus(t *testing.T) {
	p, _ := newParser(Config{Reward: RewardPolicy{FailBonus: 5}})
	turn, err := p.Next(&feed{lines: []string{"COVERAGE 0.25", "FAIL"}}, time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 5.25, turn.Reward, 1e-12)
}

func TestCoverageRegression(t *testing.T) {
	p, _ := newParser(Config{})
	_, err := p.Next(&feed{lines: []string{"COVERAGE 0.6", "COVERAGE 0.4", "PASS"}}, time.Second)
	assert.ErrorIs(t, err, ErrCoverageRegression)
}

func TestNonFiniteCoverageIsFault(t *testing.T) {
	for _, value := range []string{"NaN", "Inf", "-Inf"} {
		t.Run(value, func(t *testing.T) {
			p, _ := newParser(Config{})
			_, err := p.Next(&feed{lines: []string{"COVERAGE 0.6", "COVERAGE " + value, "COVERAGE 0.1", "STATE 1 s"}}, time.Second)
			assert.ErrorIs(t, err, ErrCoverageRegression)
			assert.Equal(t, 0.6, p.Coverage())
		})
	}
}

func TestKeywordsArePrefixes(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"FAILED: invariant broken", "PASS"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.InDelta(t, 1.0, turn.Reward, 1e-12)

	p.Reset()
	turn, err = p.Next(&feed{lines: []string{"COVERAGE=0.25", "PASSED"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, turn.Result)
	assert.InDelta(t, 0, turn.Reward, 1e-12)

	p.Reset()
	p.Expect(2)
	turn, err = p.Next(&feed{lines: []string{"ACTION 2", "STATE\t4 sigT"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, turn.Range)
	assert.Equal(t, "sigT", turn.Signature)
}

func TestEqualCoverageIsNotRegression(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"COVERAGE 0.6", "COVERAGE 0.6", "STATE 1 s"}}, time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, turn.Reward, 1e-12)
}

func TestEchoMismatchIsDesync(t *testing.T) {
	p, _ := newParser(Config{})
	p.Expect(2)
	_, err := p.Next(&feed{lines: []string{"ACTION 1", "STATE 3 s"}}, time.Second)
	assert.ErrorIs(t, err, ErrDesync)
}

func TestEchoWithoutPendingIsDesync(t *testing.T) {
	p, _ := newParser(Config{})
	_, err := p.Next(&feed{lines: []string{"ACTION 1"}}, time.Second)
	assert.ErrorIs(t, err, ErrDesync)
}

func TestEchoToleranceAndMissingEcho(t *testing.T) {
	p, _ := newParser(Config{})
	p.Expect(0.1234567)
	_, err := p.Next(&feed{lines: []string{"ACTION 0.123457", "STATE 0 s"}}, time.Second)
	require.NoError(t, err)

	p.Expect(4)
	turn, err := p.Next(&feed{lines: []string{"STATE 5 t"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, turn.Range)

	// the pending action does not leak into the next turn
	_, err = p.Next(&feed{lines: []string{"ACTION 4"}}, time.Second)
	assert.ErrorIs(t, err, ErrDesync)
}

func TestStateWithoutRange(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"STATE main.randTree.52;main.main.20;"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, -1, turn.Range)
	assert.Equal(t, "main.randTree.52;main.main.20;", turn.Signature)
}

func TestNoiseIsIgnored(t *testing.T) {
	p, _ := newParser(Config{Verbose: true})
	turn, err := p.Next(&feed{lines: []string{"=== RUN TestFullAppSimulation", "--- PASS: ok", "  FAIL indented", "STATE 7 s"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, turn.Range)
}

func TestHangIsTimeout(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"COVERAGE 0.1"}, hang: true}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Timeout, turn.Result)
	assert.InDelta(t, 0.1, turn.Reward, 1e-12)
}

func TestEarlyExitIsFail(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"panic: boom", "goroutine 1 [running]:"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.Equal(t, "panic: boom", turn.Panic)
	assert.InDelta(t, 1.0, turn.Reward, 1e-12)

	p.Reset()
	turn, err = p.Next(&feed{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.Equal(t, exitedEarly, turn.Panic)
}

func TestPanicAsFail(t *testing.T) {
	p, _ := newParser(Config{PanicAsFail: true})
	turn, err := p.Next(&feed{lines: []string{"panic: first", "panic: second", "STATE 1 s"}, hang: true}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.Equal(t, "panic: first", turn.Panic)
}

func TestPanicRecordedOnPass(t *testing.T) {
	p, _ := newParser(Config{})
	src := &feed{lines: []string{"panic: recovered", "STATE 1 s", "PASS"}}
	_, err := p.Next(src, time.Second)
	require.NoError(t, err)
	p.Expect(0)
	turn, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, turn.Result)
	assert.Equal(t, "panic: recovered", turn.Panic)
}

func TestGoTestCoverage(t *testing.T) {
	p, _ := newParser(Config{AwaitCoverage: true})
	src := &feed{lines: []string{
		"--- PASS: TestFullAppSimulation (3.10s)",
		"PASS",
		"coverage: 42.5% of statements in ./...",
		"ok  \tsimapp\t3.2s",
	}}
	turn, err := p.Next(src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, turn.Result)
	assert.InDelta(t, 0.425, turn.Reward, 1e-12)
	assert.InDelta(t, 0.425, p.Coverage(), 1e-12)
}

func TestAwaitCoverageEndsWithStream(t *testing.T) {
	p, _ := newParser(Config{AwaitCoverage: true})
	turn, err := p.Next(&feed{lines: []string{"FAIL"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.Empty(t, turn.Panic)
	assert.InDelta(t, 1.0, turn.Reward, 1e-12)
}

func TestDoneIsJudged(t *testing.T) {
	p, _ := newParser(Config{Judge: TreeJudge})
	turn, err := p.Next(&feed{lines: []string{"DONE ((,1,),2,(,3,))"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, turn.Result)
	assert.Equal(t, "((,1,),2,(,3,))", turn.Payload)
	assert.InDelta(t, 1.0, turn.Reward, 1e-12)

	turn, err = p.Next(&feed{lines: []string{"DONE ((,3,),2,)"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fail, turn.Result)
	assert.InDelta(t, -1.0, turn.Reward, 1e-12)
}

func TestDoneDefaultJudge(t *testing.T) {
	p, _ := newParser(Config{})
	turn, err := p.Next(&feed{lines: []string{"DONE whatever"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Pass, turn.Result)
	assert.Zero(t, turn.Reward)
}

type brokenResolver struct{}

func (brokenResolver) Resolve(string) (int, error) { return 0, errors.New("disk full") }

func TestResolveErrorIsReturned(t *testing.T) {
	p := New(Config{Resolver: brokenResolver{}})
	_, err := p.Next(&feed{lines: []string{"STATE 1 s"}}, time.Second)
	assert.ErrorContains(t, err, "disk full")
}

func TestResetClearsCoverage(t *testing.T) {
	p, _ := newParser(Config{})
	_, err := p.Next(&feed{lines: []string{"COVERAGE 0.9", "STATE 1 s"}}, time.Second)
	require.NoError(t, err)
	p.Reset()
	turn, err := p.Next(&feed{lines: []string{"COVERAGE 0.2", "STATE 1 s"}}, time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, turn.Reward, 1e-12)
}
