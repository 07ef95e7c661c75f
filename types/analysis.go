package types

import (
	"fmt"
	"os"
	"path"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// DataSet is one value per episode
type DataSet []float64

// Analyzer turns the records of an experiment into a DataSet
type Analyzer func([]EpisodeRecord) DataSet

// Comparator puts the data sets of several experiments side by side
type Comparator func(int, []string, []DataSet) error

// UniqueStates counts the distinct states seen up to each episode
func UniqueStates() Analyzer {
	return func(records []EpisodeRecord) DataSet {
		uniqueStates := make(map[int]bool)
		numUniqueStates := make(DataSet, 0, len(records))
		for _, r := range records {
			for _, id := range r.States {
				uniqueStates[id] = true
			}
			numUniqueStates = append(numUniqueStates, float64(len(uniqueStates)))
		}
		return numUniqueStates
	}
}

// BestCoverage is the highest coverage reported up to each episode
func BestCoverage() Analyzer {
	return func(records []EpisodeRecord) DataSet {
		best := 0.0
		out := make(DataSet, 0, len(records))
		for _, r := range records {
			if r.Coverage > best {
				best = r.Coverage
			}
			out = append(out, best)
		}
		return out
	}
}

// CumulativeReward sums episode rewards
func CumulativeReward() Analyzer {
	return func(records []EpisodeRecord) DataSet {
		sum := 0.0
		out := make(DataSet, 0, len(records))
		for _, r := range records {
			sum += r.Reward
			out = append(out, sum)
		}
		return out
	}
}

// SeriesPlotter draws one line per experiment into
// <plotPath>/<run>_<name>.png
func SeriesPlotter(plotPath, name, yLabel string) Comparator {
	return func(run int, names []string, ds []DataSet) error {
		if err := os.MkdirAll(plotPath, os.ModePerm); err != nil {
			return fmt.Errorf("types: plot folder: %w", err)
		}
		p := plot.New()
		p.Title.Text = "Comparison"
		p.X.Label.Text = "Episode"
		p.Y.Label.Text = yLabel
		for i := 0; i < len(names) && i < len(ds); i++ {
			points := make(plotter.XYs, len(ds[i]))
			for j, v := range ds[i] {
				points[j] = plotter.XY{
					X: float64(j),
					Y: v,
				}
			}
			line, err := plotter.NewLine(points)
			if err != nil {
				continue
			}
			line.Color = plotutil.Color(i)
			p.Add(line)
			p.Legend.Add(names[i], line)
		}
		return p.Save(8*vg.Inch, 8*vg.Inch, path.Join(plotPath, strconv.Itoa(run)+"_"+name+".png"))
	}
}
