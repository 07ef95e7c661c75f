package explorer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/zeu5/fuzz-gym/types"
	"github.com/zeu5/fuzz-gym/util"
)

// Cell is one observation reached during exploration together with the
// shortest action sequence known to reach it from a reset.
type Cell struct {
	Key         string            `json:"key"`
	Observation types.Observation `json:"observation"`

	TimesChosen         int `json:"times_chosen"`
	TimesChosenSinceNew int `json:"times_chosen_since_new"`
	TimesSeen           int `json:"times_seen"`

	Reward     float64   `json:"reward"`
	Trajectory []float64 `json:"trajectory"`
}

func cntScore(v int, w, p float64) float64 {
	const e1, e2 = 0.001, 0.00001
	return w/math.Pow(float64(v)+e1, p) + e2
}

// Score favours cells that were rarely chosen or seen.
func (c *Cell) Score() float64 {
	s := 1.0
	s += cntScore(c.TimesChosen, 0.1, 0.5)
	s += cntScore(c.TimesChosenSinceNew, 0, 0.5)
	s += cntScore(c.TimesSeen, 0.3, 0.5)
	return s
}

func (c *Cell) choose() (float64, []float64) {
	c.TimesChosen += 1
	c.TimesChosenSinceNew += 1
	return c.Reward, slices.Clone(c.Trajectory)
}

type Archive struct {
	Cells map[string]*Cell `json:"cells"`
}

func NewArchive() *Archive {
	return &Archive{Cells: make(map[string]*Cell)}
}

func (a *Archive) Len() int {
	return len(a.Cells)
}

// Visit records that obs was reached with the given cumulative reward by
// trajectory. It reports whether the cell is new or now has a shorter
// trajectory, in which case the cell adopts it.
func (a *Archive) Visit(obs types.Observation, reward float64, trajectory []float64) bool {
	key := obs.Hash()
	cell, ok := a.Cells[key]
	if !ok {
		cell = &Cell{Key: key, Observation: obs}
		a.Cells[key] = cell
	}
	better := cell.TimesSeen == 0 || len(trajectory) < len(cell.Trajectory)
	if better {
		cell.TimesChosen = 0
		cell.TimesChosenSinceNew = 0
		cell.Reward = reward
		cell.Trajectory = slices.Clone(trajectory)
	}
	cell.TimesSeen += 1
	return better
}

// Keys returns the cell keys in a stable order.
func (a *Archive) Keys() []string {
	keys := maps.Keys(a.Cells)
	slices.Sort(keys)
	return keys
}

// Choose draws a cell with probability proportional to its score.
func (a *Archive) Choose(src rand.Source) (*Cell, bool) {
	if len(a.Cells) == 0 {
		return nil, false
	}
	keys := a.Keys()
	weights := make([]float64, len(keys))
	for i, k := range keys {
		weights[i] = a.Cells[k].Score()
	}
	i, ok := sampleuv.NewWeighted(weights, src).Take()
	if !ok {
		return nil, false
	}
	return a.Cells[keys[i]], true
}

func (a *Archive) Record(path string) error {
	bs, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("explorer: encode archive: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("explorer: archive folder: %w", err)
	}
	return util.WriteFileAtomic(path, bs, 0o644)
}

func ReadArchive(path string) (*Archive, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("explorer: read archive: %w", err)
	}
	a := NewArchive()
	if err := json.Unmarshal(bs, a); err != nil {
		return nil, fmt.Errorf("explorer: parse archive: %w", err)
	}
	if a.Cells == nil {
		a.Cells = make(map[string]*Cell)
	}
	return a, nil
}
