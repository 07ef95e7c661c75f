// Command tree is a guided target: it builds a random binary tree whose node
// values are decided by the harness over standard input and prints the result
// as a DONE line.
//
//	tree <depth> <prune> [seed]
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/exp/rand"

	"github.com/zeu5/fuzz-gym/guide"
)

func main() {
	depth, prune, seed, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: tree <depth> <prune> [seed]")
		os.Exit(2)
	}
	g, err := guide.Open("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b := &Builder{
		Guide:    g,
		MaxDepth: depth,
		Prune:    prune,
		Rand:     rand.New(rand.NewSource(seed)),
	}
	tree, err := b.Build()
	if err != nil {
		// the harness closed the channel, nothing to report
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	g.Done(tree.String())
}

func parseArgs(args []string) (int, float64, uint64, error) {
	if len(args) < 2 {
		return 0, 0, 0, fmt.Errorf("tree: expected depth and prune")
	}
	depth, err := strconv.Atoi(args[0])
	if err != nil || depth < 0 {
		return 0, 0, 0, fmt.Errorf("tree: bad depth %q", args[0])
	}
	prune, err := strconv.ParseFloat(args[1], 64)
	if err != nil || prune < 0 || prune > 1 {
		return 0, 0, 0, fmt.Errorf("tree: bad prune %q", args[1])
	}
	seed := uint64(time.Now().UnixNano())
	if len(args) > 2 {
		s, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("tree: bad seed %q", args[2])
		}
		seed = uint64(s)
	}
	return depth, prune, seed, nil
}
