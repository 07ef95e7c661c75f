package main

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/zeu5/fuzz-gym/guide"
)

type Tree struct {
	Value int
	Left  *Tree
	Right *Tree
}

// Builder grows a random binary tree whose values come from the guide. Each
// child below MaxDepth is kept with probability 1-Prune.
type Builder struct {
	Guide    *guide.Guide
	MaxDepth int
	Prune    float64
	Rand     *rand.Rand
}

func (b *Builder) Build() (*Tree, error) {
	return b.build(0)
}

func (b *Builder) build(depth int) (*Tree, error) {
	value, err := b.Guide.Int(0)
	if err != nil {
		return nil, err
	}
	tree := &Tree{Value: value}
	if depth < b.MaxDepth {
		if b.Rand.Float64() >= b.Prune {
			if tree.Left, err = b.build(depth + 1); err != nil {
				return nil, err
			}
		}
		if b.Rand.Float64() >= b.Prune {
			if tree.Right, err = b.build(depth + 1); err != nil {
				return nil, err
			}
		}
	}
	return tree, nil
}

// String renders the tree as (left,value,right) with empty subtrees left blank.
func (t *Tree) String() string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("(%s,%d,%s)", t.Left.String(), t.Value, t.Right.String())
}
