// Package explorer runs Go-Explore over an environment: it keeps an archive of
// the observations reached so far, returns to a promising one by replaying
// the actions that reached it and explores randomly from there.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"

	"github.com/zeu5/fuzz-gym/types"
)

var ErrRestore = errors.New("explorer: cannot restore cell")

type Config struct {
	Environment types.Environment
	// Policy proposes the exploration actions, random when nil.
	Policy     types.Policy
	Iterations int
	// MaxSteps bounds the random walk of one iteration; the walk length is
	// drawn uniformly from [1, MaxSteps].
	MaxSteps int
	Seed     uint64
	Logger   *slog.Logger
}

// Stats summarizes a run.
type Stats struct {
	Iterations int       `json:"iterations"`
	Frames     int       `json:"frames"`
	Cells      int       `json:"cells"`
	MaxReward  float64   `json:"max_reward"`
	Best       []float64 `json:"best"`
	Episodes   int       `json:"episodes"`
	Faults     int       `json:"faults"`
	Diverged   int       `json:"diverged"`
}

type Explorer struct {
	config  Config
	env     types.Environment
	policy  types.Policy
	archive *Archive
	src     rand.Source
	rand    *rand.Rand
	logger  *slog.Logger

	// position of the environment within the current episode
	obs        types.Observation
	reward     float64
	trajectory []float64
	live       bool

	stats Stats
}

func NewExplorer(config Config) (*Explorer, error) {
	if config.Environment == nil {
		return nil, fmt.Errorf("explorer: no environment")
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = 100
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if config.Policy == nil {
		config.Policy = types.NewRandomPolicy(seed + 1)
	}
	src := rand.NewSource(seed)
	return &Explorer{
		config:  config,
		env:     config.Environment,
		policy:  config.Policy,
		archive: NewArchive(),
		src:     src,
		rand:    rand.New(src),
		logger:  config.Logger,
	}, nil
}

func (e *Explorer) Archive() *Archive {
	return e.archive
}

// Run explores for the configured number of iterations or until ctx is done.
func (e *Explorer) Run(ctx context.Context) (Stats, error) {
	if err := e.fresh(); err != nil {
		return e.stats, err
	}
	var restored *Cell
	for i := 0; i < e.config.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return e.finish(), err
		}
		found := e.explore(1 + e.rand.Intn(e.config.MaxSteps))
		if found && restored != nil {
			restored.TimesChosenSinceNew = 0
		}

		cell, ok := e.archive.Choose(e.src)
		if !ok {
			return e.finish(), fmt.Errorf("%w: empty archive", ErrRestore)
		}
		restored = cell
		if err := e.restore(cell); err != nil {
			return e.finish(), err
		}

		e.stats.Iterations = i + 1
		e.logger.Debug("iteration", "iteration", i+1, "cells", e.archive.Len(), "max_reward", e.stats.MaxReward)
		if (i+1)%10 == 0 {
			e.logger.Info("exploring", "iteration", i+1, "cells", e.archive.Len(), "frames", e.stats.Frames, "max_reward", e.stats.MaxReward)
		}
	}
	return e.finish(), nil
}

func (e *Explorer) finish() Stats {
	e.stats.Cells = e.archive.Len()
	return e.stats
}

// explore walks up to steps random actions from the current position and
// reports whether a cell was added or shortened.
func (e *Explorer) explore(steps int) bool {
	found := false
	for i := 0; i < steps && e.live; i++ {
		action, ok := e.policy.NextAction(len(e.trajectory), e.obs, e.env.ActionSpace())
		if !ok {
			e.live = false
			break
		}
		next, reward, done, _, err := e.env.Step(action)
		e.stats.Frames += 1
		if err != nil {
			e.stats.Faults += 1
			e.logger.Warn("exploration step failed", "error", err)
			e.live = false
			break
		}
		e.trajectory = append(e.trajectory, action)
		e.reward += reward
		if e.reward > e.stats.MaxReward {
			e.stats.MaxReward = e.reward
			e.stats.Best = slices.Clone(e.trajectory)
		}
		if done {
			e.stats.Episodes += 1
			e.live = false
			break
		}
		e.obs = next
		if e.archive.Visit(next, e.reward, e.trajectory) {
			found = true
		}
	}
	return found
}

// fresh resets the environment and archives the initial observation.
func (e *Explorer) fresh() error {
	obs, err := e.env.Reset()
	if err != nil {
		return fmt.Errorf("%w: reset: %v", ErrRestore, err)
	}
	e.obs, e.reward, e.trajectory, e.live = obs, 0, nil, true
	if _, ok := e.archive.Cells[obs.Hash()]; !ok {
		e.archive.Visit(obs, 0, nil)
	}
	return nil
}

// restore returns the environment to cell by replaying its trajectory. A
// target that does not replay deterministically leaves the walk wherever the
// replay ended.
func (e *Explorer) restore(cell *Cell) error {
	_, trajectory := cell.choose()
	if err := e.fresh(); err != nil {
		return err
	}
	for _, action := range trajectory {
		next, reward, done, _, err := e.env.Step(action)
		e.stats.Frames += 1
		if err != nil || done {
			e.stats.Diverged += 1
			e.logger.Debug("replay ended early", "cell", cell.Key, "step", len(e.trajectory), "error", err)
			return e.fresh()
		}
		e.obs = next
		e.reward += reward
		e.trajectory = append(e.trajectory, action)
	}
	if e.obs.Hash() != cell.Key {
		e.stats.Diverged += 1
		e.logger.Debug("replay diverged", "cell", cell.Key, "reached", e.obs.Hash())
	}
	return nil
}
