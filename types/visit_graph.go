package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeu5/fuzz-gym/util"
)

// VisitGraph records which states lead to which under which action
type VisitGraph struct {
	Nodes map[string]*Node
}

func NewVisitGraph() *VisitGraph {
	return &VisitGraph{
		Nodes: make(map[string]*Node),
	}
}

// Update adds the transition and reports whether from was new
func (v *VisitGraph) Update(from Observation, action float64, to Observation) bool {
	fromKey := from.Hash()
	toKey := to.Hash()
	actionKey := strconv.FormatFloat(action, 'g', -1, 64)
	new := false
	if _, ok := v.Nodes[fromKey]; !ok {
		v.Nodes[fromKey] = NewNode(from)
		new = true
	}
	if _, ok := v.Nodes[toKey]; !ok {
		v.Nodes[toKey] = NewNode(to)
	}
	v.Nodes[fromKey].Visits += 1
	v.Nodes[fromKey].AddNext(actionKey, toKey)
	v.Nodes[toKey].AddPrev(actionKey, fromKey)
	return new
}

// AddTrace adds every step of the trace
func (v *VisitGraph) AddTrace(t *Trace) {
	for i := 0; i < t.Len(); i++ {
		obs, action, _, next, _ := t.Get(i)
		v.Update(obs, action, next)
	}
}

func (v *VisitGraph) GetVisits() map[string]int {
	results := make(map[string]int)
	for k, n := range v.Nodes {
		results[k] = n.Visits
	}
	return results
}

func (v *VisitGraph) Record(filePath string) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("types: encode visit graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return fmt.Errorf("types: visit graph folder: %w", err)
	}
	return util.WriteFileAtomic(filePath, bs, 0o644)
}

type Node struct {
	Key    string
	State  Observation
	Visits int
	// Next, Prev: Each action can lead to many states
	Next map[string]map[string]bool
	Prev map[string]map[string]bool
}

func NewNode(s Observation) *Node {
	return &Node{
		Key:    s.Hash(),
		State:  s,
		Visits: 0,
		Next:   make(map[string]map[string]bool),
		Prev:   make(map[string]map[string]bool),
	}
}

func (n *Node) AddPrev(a, prev string) {
	if _, ok := n.Prev[a]; !ok {
		n.Prev[a] = make(map[string]bool)
	}
	n.Prev[a][prev] = true
}

func (n *Node) AddNext(a, next string) {
	if _, ok := n.Next[a]; !ok {
		n.Next[a] = make(map[string]bool)
	}
	n.Next[a][next] = true
}
