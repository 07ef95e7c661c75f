package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/zeu5/fuzz-gym/guide"
	"github.com/zeu5/fuzz-gym/protocol"
)

func TestString(t *testing.T) {
	tree := &Tree{Value: 2, Left: &Tree{Value: 1}, Right: &Tree{Value: 3}}
	assert.Equal(t, "((,1,),2,(,3,))", tree.String())
	assert.Equal(t, "", (*Tree)(nil).String())
}

func TestBuildAsksForEveryNode(t *testing.T) {
	var out bytes.Buffer
	b := &Builder{
		Guide:    guide.New(strings.NewReader(strings.Repeat("5\n", 64)), &out),
		MaxDepth: 2,
		Prune:    0,
		Rand:     rand.New(rand.NewSource(1)),
	}
	tree, err := b.Build()
	require.NoError(t, err)
	// without pruning a depth 2 tree is full
	assert.Equal(t, "(((,5,),5,(,5,)),5,((,5,),5,(,5,)))", tree.String())
	assert.Equal(t, 7, strings.Count(out.String(), "STATE "))
	assert.Equal(t, 7, strings.Count(out.String(), "ACTION 5"))
	assert.NotContains(t, out.String(), "STATE 0 ")
}

func TestBuildPrunedIsRoot(t *testing.T) {
	b := &Builder{
		Guide:    guide.New(strings.NewReader("4\n"), &bytes.Buffer{}),
		MaxDepth: 4,
		Prune:    1,
		Rand:     rand.New(rand.NewSource(1)),
	}
	tree, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "(,4,)", tree.String())
}

func TestBuildStopsWithoutDecisions(t *testing.T) {
	b := &Builder{
		Guide:    guide.New(strings.NewReader("1\n"), &bytes.Buffer{}),
		MaxDepth: 1,
		Prune:    0,
		Rand:     rand.New(rand.NewSource(1)),
	}
	_, err := b.Build()
	assert.ErrorIs(t, err, guide.ErrNoDecision)
}

func TestJudgedTree(t *testing.T) {
	tree := &Tree{Value: 2, Left: &Tree{Value: 1}, Right: &Tree{Value: 3}}
	result, reward := protocol.TreeJudge.Judge(tree.String())
	assert.Equal(t, protocol.Pass, result)
	assert.Equal(t, 1.0, reward)

	tree.Left.Value = 9
	result, reward = protocol.TreeJudge.Judge(tree.String())
	assert.Equal(t, protocol.Fail, result)
	assert.Equal(t, -1.0, reward)
}

func TestParseArgs(t *testing.T) {
	depth, prune, seed, err := parseArgs([]string{"4", "0.5", "42"})
	require.NoError(t, err)
	assert.Equal(t, 4, depth)
	assert.Equal(t, 0.5, prune)
	assert.Equal(t, uint64(42), seed)

	for _, args := range [][]string{{"4"}, {"x", "0.5"}, {"4", "2"}, {"4", "0.5", "s"}} {
		_, _, _, err := parseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}
