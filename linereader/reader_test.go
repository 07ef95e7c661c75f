package linereader

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineOrdersAndTrims(t *testing.T) {
	r := New(false, nil)
	require.NoError(t, r.Open(io.NopCloser(strings.NewReader("  STATE 10 a;b  \r\nCOVERAGE 0.5\nPASS"))))
	defer r.Close()

	assert.Equal(t, "STATE 10 a;b", r.ReadLine(time.Second))
	assert.Equal(t, "COVERAGE 0.5", r.ReadLine(time.Second))
	assert.Equal(t, "PASS", r.ReadLine(time.Second))
	assert.Equal(t, Timeout, r.ReadLine(time.Second))
	assert.True(t, r.Exhausted())
}

func TestReadLineTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := New(false, nil)
	require.NoError(t, r.Open(pr))
	defer r.Close()

	start := time.Now()
	assert.Equal(t, Timeout, r.ReadLine(50*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.False(t, r.Exhausted())
}

func TestLateLineArrives(t *testing.T) {
	pr, pw := io.Pipe()
	r := New(false, nil)
	require.NoError(t, r.Open(pr))
	defer r.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = pw.Write([]byte("ACTION 3\n"))
	}()
	assert.Equal(t, "ACTION 3", r.ReadLine(2*time.Second))
	pw.Close()
}

func TestQueuedLinesSurviveEndOfStream(t *testing.T) {
	pr, pw := io.Pipe()
	r := New(false, nil)
	require.NoError(t, r.Open(pr))
	defer r.Close()

	_, err := pw.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	pw.Close()

	// wait for the pump to observe EOF
	require.Eventually(t, func() bool {
		select {
		case <-r.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.False(t, r.Exhausted())
	assert.Equal(t, "one", r.ReadLine(0))
	assert.Equal(t, "two", r.ReadLine(0))
	assert.True(t, r.Exhausted())
	assert.Equal(t, Timeout, r.ReadLine(0))
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	r := New(false, nil)
	require.NoError(t, r.Open(io.NopCloser(strings.NewReader("bad \xff byte\n"))))
	defer r.Close()
	assert.Equal(t, "bad � byte", r.ReadLine(time.Second))
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(false, nil)
	assert.NoError(t, r.Close())

	pr, pw := io.Pipe()
	defer pw.Close()
	other := New(false, nil)
	require.NoError(t, other.Open(pr))
	assert.NoError(t, other.Close())
	assert.NoError(t, other.Close())
	assert.ErrorIs(t, other.Open(pr), ErrClosed)
}

func TestOpenTwice(t *testing.T) {
	r := New(false, nil)
	require.NoError(t, r.Open(io.NopCloser(strings.NewReader(""))))
	defer r.Close()
	assert.ErrorIs(t, r.Open(io.NopCloser(strings.NewReader(""))), ErrAlreadyOpen)
}

func TestReadBeforeOpen(t *testing.T) {
	assert.Equal(t, Timeout, New(false, nil).ReadLine(10*time.Millisecond))
	assert.Equal(t, Timeout, New(true, nil).ReadLine(10*time.Millisecond))
}

func TestBypassReadsDirectly(t *testing.T) {
	r := New(true, nil)
	require.NoError(t, r.Open(io.NopCloser(strings.NewReader("STATE 4 x\nPASS\n"))))
	defer r.Close()

	assert.Equal(t, "STATE 4 x", r.ReadLine(time.Millisecond))
	assert.Equal(t, "PASS", r.ReadLine(time.Millisecond))
	assert.False(t, r.Exhausted())
	assert.Equal(t, Timeout, r.ReadLine(time.Millisecond))
	assert.True(t, r.Exhausted())
}

func TestBypassDrainIsJoinedByClose(t *testing.T) {
	pr, pw := io.Pipe()
	r := New(true, nil)
	require.NoError(t, r.Open(pr))

	r.Drain()
	_, err := pw.Write([]byte(strings.Repeat("noise\n", 1000)))
	require.NoError(t, err)
	pw.Close()
	assert.NoError(t, r.Close())
}
