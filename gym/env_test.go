package gym

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/fuzz-gym/metrics"
	"github.com/zeu5/fuzz-gym/protocol"
	"github.com/zeu5/fuzz-gym/session"
	"github.com/zeu5/fuzz-gym/statedict"
	"github.com/zeu5/fuzz-gym/types"
)

const helperEnv = "FUZZGYM_GYM_HELPER"

func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	scenario := args[1]
	in := bufio.NewReader(os.Stdin)
	decide := func() string {
		line, _ := in.ReadString('\n')
		return strings.TrimSpace(line)
	}

	switch scenario {
	case "pass", "fail":
		fmt.Println("STATE 3 sigA")
		fmt.Println("ACTION " + decide())
		fmt.Println("COVERAGE 0.5")
		fmt.Println("STATE 2 sigB")
		fmt.Println("ACTION " + decide())
		if scenario == "pass" {
			fmt.Println("COVERAGE 1.0")
			fmt.Println("PASS")
		} else {
			fmt.Println("FAIL")
		}
	case "norange":
		fmt.Println("STATE main.randTree.52;")
		d := decide()
		fmt.Println("ACTION " + d)
		fmt.Println("DONE ((," + d + ",),40,)")
	case "continuous":
		fmt.Println("STATE 0 sigC")
		fmt.Println("ACTION " + decide())
		fmt.Println("PASS")
	case "desync":
		fmt.Println("STATE 3 sigA")
		decide()
		fmt.Println("ACTION 2")
	case "terminal":
		fmt.Println("FAIL")
	case "hang":
		fmt.Println("STATE 3 sigA")
		decide()
		time.Sleep(time.Hour)
	}
	os.Exit(0)
}

func newEnv(t *testing.T, scenario string, mutate ...func(*Config)) (*Env, *statedict.StateDict) {
	t.Helper()
	dict := statedict.New(statedict.NewMemoryStore(), 1, nil)
	config := Config{
		Session: session.Config{
			Launcher:     session.Argv{os.Args[0], "-test.run=^TestHelperProcess$", "--", scenario},
			Env:          []string{helperEnv + "=1"},
			Channel:      session.ChannelStdin,
			GuideDir:     t.TempDir(),
			StartTimeout: 10 * time.Second,
			StepTimeout:  10 * time.Second,
			KillGrace:    time.Second,
			Protocol:     protocol.Config{Reward: protocol.DefaultRewardPolicy()},
		},
		States:       dict,
		ActionMode:   Discrete,
		DefaultRange: 32,
	}
	for _, m := range mutate {
		m(&config)
	}
	env, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env, dict
}

func TestTwoTurnPassEpisode(t *testing.T) {
	env, dict := newEnv(t, "pass")

	obs, err := env.Reset()
	require.NoError(t, err)
	assert.Equal(t, types.ActionSpace{Discrete: true, N: 3}, env.ActionSpace())

	states := []int{obs.StateID}
	rewards := make([]float64, 0)
	dones := make([]bool, 0)
	for _, action := range []float64{1, 0} {
		next, reward, done, info, err := env.Step(action)
		require.NoError(t, err)
		rewards = append(rewards, reward)
		dones = append(dones, done)
		if !done {
			states = append(states, next.StateID)
			assert.Equal(t, "sigB", info.Signature)
		} else {
			assert.Equal(t, "PASS", info.Result)
			assert.Equal(t, 2, info.Steps)
		}
	}

	a, _ := dict.Resolve("sigA")
	b, _ := dict.Resolve("sigB")
	assert.Equal(t, []int{a, b}, states)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, rewards, 1e-12)
	assert.Equal(t, []bool{false, true}, dones)

	_, _, _, _, err = env.Step(0)
	assert.ErrorIs(t, err, ErrEpisodeDone)
}

func TestTwoTurnFailEpisode(t *testing.T) {
	env, _ := newEnv(t, "fail")
	_, err := env.Reset()
	require.NoError(t, err)

	_, reward, done, _, err := env.Step(1)
	require.NoError(t, err)
	assert.False(t, done)
	assert.InDelta(t, 0.5, reward, 1e-12)

	_, reward, done, info, err := env.Step(0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "FAIL", info.Result)
	assert.InDelta(t, 1.0, reward, 1e-12)
}

func TestNormalizedActions(t *testing.T) {
	env, _ := newEnv(t, "pass", func(c *Config) {
		c.ActionMode = Normalized
		c.LogRange = true
	})
	obs, err := env.Reset()
	require.NoError(t, err)
	assert.InDelta(t, math.Log(3), obs.LogRange, 1e-12)
	assert.Equal(t, types.ActionSpace{}, env.ActionSpace())

	// 0.5 of a range of 3 is decision 1
	next, _, done, _, err := env.Step(0.5)
	require.NoError(t, err)
	require.False(t, done)
	assert.InDelta(t, math.Log(2), next.LogRange, 1e-12)

	_, _, done, _, err = env.Step(0.1)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestInvalidActions(t *testing.T) {
	env, _ := newEnv(t, "pass")
	_, _, _, _, err := env.Step(0)
	assert.ErrorIs(t, err, ErrNotReset)

	_, err = env.Reset()
	require.NoError(t, err)
	for _, a := range []float64{3, -1, 0.5, math.NaN(), math.Inf(1)} {
		_, _, _, _, err := env.Step(a)
		assert.ErrorIs(t, err, ErrInvalidAction, "%v", a)
	}
	// the episode is still usable
	_, _, done, _, err := env.Step(1)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDefaultRangeAndJudge(t *testing.T) {
	env, _ := newEnv(t, "norange", func(c *Config) {
		c.Session.Protocol.Judge = protocol.TreeJudge
	})
	_, err := env.Reset()
	require.NoError(t, err)
	assert.Equal(t, types.ActionSpace{Discrete: true, N: 32}, env.ActionSpace())

	_, reward, done, info, err := env.Step(31)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "PASS", info.Result)
	assert.Equal(t, "((,31,),40,)", info.Payload)
	assert.InDelta(t, 1.0, reward, 1e-12)
}

func TestContinuousRangePassesThrough(t *testing.T) {
	env, _ := newEnv(t, "continuous")
	_, err := env.Reset()
	require.NoError(t, err)
	assert.Equal(t, types.ActionSpace{}, env.ActionSpace())
	_, _, done, _, err := env.Step(0.25)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDesyncTearsDown(t *testing.T) {
	env, _ := newEnv(t, "desync")
	_, err := env.Reset()
	require.NoError(t, err)
	_, _, done, _, err := env.Step(1)
	assert.ErrorIs(t, err, protocol.ErrDesync)
	assert.True(t, done)
	assert.Zero(t, env.session.Pid())
}

func TestTerminalReset(t *testing.T) {
	env, _ := newEnv(t, "terminal")
	_, err := env.Reset()
	assert.ErrorIs(t, err, session.ErrInitTerminal)
	_, _, _, _, err = env.Step(0)
	assert.ErrorIs(t, err, ErrNotReset)
}

func TestSeed(t *testing.T) {
	env, _ := newEnv(t, "pass")
	seed := int64(1234)
	assert.Equal(t, []int64{1234}, env.Seed(&seed))
	random := env.Seed(nil)
	require.Len(t, random, 1)
	assert.GreaterOrEqual(t, random[0], int64(0))
}

func TestCloseTwice(t *testing.T) {
	env, _ := newEnv(t, "hang")
	_, err := env.Reset()
	require.NoError(t, err)
	pid := env.session.Pid()
	require.NotZero(t, pid)

	assert.NoError(t, env.Close())
	assert.NoError(t, env.Close())
	assert.Zero(t, env.session.Pid())
	_, err = env.Reset()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDuringStep(t *testing.T) {
	env, _ := newEnv(t, "hang", func(c *Config) { c.Session.StepTimeout = 0 })
	_, err := env.Reset()
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		env.Close()
	}()
	trace := env.session.TracePath()
	failed := testutil.ToFloat64(metrics.Episodes.WithLabelValues("FAIL"))

	_, reward, done, _, err := env.Step(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, done)
	assert.Zero(t, reward)
	assert.Equal(t, failed, testutil.ToFloat64(metrics.Episodes.WithLabelValues("FAIL")))

	raw, err := os.ReadFile(trace)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(raw))
}

func TestEncode(t *testing.T) {
	line, err := encode(Normalized, 32, 0.999)
	require.NoError(t, err)
	assert.Equal(t, "31", line)
	line, err = encode(Normalized, 0, 0.125)
	require.NoError(t, err)
	assert.Equal(t, "0.125", line)
	line, err = encode(Discrete, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, "3", line)
	_, err = encode(Normalized, 4, 1)
	assert.ErrorIs(t, err, ErrInvalidAction)
}
