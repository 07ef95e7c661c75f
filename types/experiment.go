package types

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/zeu5/fuzz-gym/util"
)

type experimentRunConfig struct {
	CurrentRun   int
	Episodes     int
	Horizon      int
	SavePath     string
	RecordTraces bool
	Logger       *slog.Logger
}

// Experiment encapsulates the different parameters to configure an agent and analyze the records
type Experiment struct {
	Name        string
	policy      Policy
	environment Environment
}

// NewExperiment creates a new experiment instance
func NewExperiment(name string, policy Policy, environment Environment) *Experiment {
	return &Experiment{
		Name:        name,
		policy:      policy,
		environment: environment,
	}
}

func (e *Experiment) filePath(rConfig *experimentRunConfig, folder, ext string) string {
	return path.Join(rConfig.SavePath, folder, e.Name+"_"+strconv.Itoa(rConfig.CurrentRun)+ext)
}

func (e *Experiment) recordTrace(rConfig *experimentRunConfig, trace *Trace) error {
	bs, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("types: encode trace: %w", err)
	}
	return util.AppendToFile(e.filePath(rConfig, "traces", ".jsonl"), string(bs))
}

// Run the experiment for the specified number of episodes, writing one record
// per episode under <save>/records
func (e *Experiment) Run(ctx context.Context, rConfig *experimentRunConfig) ([]EpisodeRecord, error) {
	logger := rConfig.Logger.With("experiment", e.Name, "run", rConfig.CurrentRun)
	graph := NewVisitGraph()
	recordsFile := e.filePath(rConfig, "records", ".jsonl")

	var (
		recordErr error
		agent     *Agent
	)
	agent = NewAgent(&AgentConfig{
		Name:        e.Name,
		Episodes:    rConfig.Episodes,
		Horizon:     rConfig.Horizon,
		Policy:      e.policy,
		Environment: e.environment,
		Logger:      logger,
		OnEpisode: func(record EpisodeRecord, trace *Trace) {
			graph.AddTrace(trace)
			if rConfig.SavePath == "" {
				return
			}
			if err := AppendRecord(recordsFile, record); err != nil && recordErr == nil {
				recordErr = err
			}
			if rConfig.RecordTraces {
				if err := e.recordTrace(rConfig, trace); err != nil && recordErr == nil {
					recordErr = err
				}
			}
			if (record.Episode+1)%10 == 0 {
				logger.Info("progress", "episodes", record.Episode+1, "summary", Summarize(agent.Records()).String())
			}
		},
	})
	err := agent.Run(ctx)
	records := agent.Records()
	logger.Info("experiment finished", "summary", Summarize(records).String())

	if rConfig.SavePath != "" {
		if gErr := graph.Record(e.filePath(rConfig, "graphs", ".json")); gErr != nil && recordErr == nil {
			recordErr = gErr
		}
	}
	e.policy.Reset()
	if err != nil {
		return records, err
	}
	return records, recordErr
}

type ComparisonConfig struct {
	Runs         int
	Episodes     int
	Horizon      int
	SavePath     string
	RecordTraces bool
	// Parallel runs the experiments of a run concurrently
	Parallel bool
	Logger   *slog.Logger
}

type analysis struct {
	analyzer   Analyzer
	comparator Comparator
}

// Comparison runs several experiments for the same number of episodes and
// compares their records
type Comparison struct {
	config      *ComparisonConfig
	experiments []*Experiment
	analyses    map[string]analysis
	order       []string
}

func NewComparison(config *ComparisonConfig) *Comparison {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Runs <= 0 {
		config.Runs = 1
	}
	return &Comparison{
		config:      config,
		experiments: make([]*Experiment, 0),
		analyses:    make(map[string]analysis),
		order:       make([]string, 0),
	}
}

func (c *Comparison) AddAnalysis(name string, analyzer Analyzer, comparator Comparator) {
	if _, ok := c.analyses[name]; !ok {
		c.order = append(c.order, name)
	}
	c.analyses[name] = analysis{analyzer: analyzer, comparator: comparator}
}

func (c *Comparison) AddExperiment(e *Experiment) {
	c.experiments = append(c.experiments, e)
}

// Run every experiment Runs times. Results of each run are compared once all
// its experiments are done.
func (c *Comparison) Run(ctx context.Context) error {
	if c.config.SavePath != "" {
		if err := os.MkdirAll(c.config.SavePath, os.ModePerm); err != nil {
			return fmt.Errorf("types: save folder: %w", err)
		}
	}
	for run := 0; run < c.config.Runs; run++ {
		records, err := c.runOnce(ctx, run)
		if err != nil {
			return err
		}
		if err := c.compare(run, records); err != nil {
			return err
		}
	}
	return nil
}

func (c *Comparison) runOnce(ctx context.Context, run int) ([][]EpisodeRecord, error) {
	records := make([][]EpisodeRecord, len(c.experiments))
	rConfig := func() *experimentRunConfig {
		return &experimentRunConfig{
			CurrentRun:   run,
			Episodes:     c.config.Episodes,
			Horizon:      c.config.Horizon,
			SavePath:     c.config.SavePath,
			RecordTraces: c.config.RecordTraces,
			Logger:       c.config.Logger,
		}
	}

	if !c.config.Parallel {
		for i, e := range c.experiments {
			r, err := e.Run(ctx, rConfig())
			records[i] = r
			if err != nil {
				return records, fmt.Errorf("types: experiment %s: %w", e.Name, err)
			}
		}
		return records, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range c.experiments {
		i, e := i, e
		g.Go(func() error {
			r, err := e.Run(gctx, rConfig())
			records[i] = r
			if err != nil {
				return fmt.Errorf("types: experiment %s: %w", e.Name, err)
			}
			return nil
		})
	}
	return records, g.Wait()
}

func (c *Comparison) compare(run int, records [][]EpisodeRecord) error {
	names := make([]string, len(c.experiments))
	for i, e := range c.experiments {
		names[i] = e.Name
	}
	for _, name := range c.order {
		a := c.analyses[name]
		datasets := make([]DataSet, len(records))
		for i, r := range records {
			datasets[i] = a.analyzer(r)
		}
		if a.comparator == nil {
			continue
		}
		if err := a.comparator(run, names, datasets); err != nil {
			return fmt.Errorf("types: compare %s: %w", name, err)
		}
	}
	return nil
}
