package types

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type AgentConfig struct {
	Name        string
	Episodes    int
	Horizon     int
	Policy      Policy
	Environment Environment
	Logger      *slog.Logger
	// OnEpisode is called after every episode, in order
	OnEpisode func(EpisodeRecord, *Trace)
}

// RL Agent configured with the corresponding
// policy and environment
type Agent struct {
	config *AgentConfig
	// collects the records of the run
	// Only populated if the Run function is invoked
	records     []EpisodeRecord
	policy      Policy
	environment Environment
	logger      *slog.Logger
}

// Instantiates a new Agent
func NewAgent(config *AgentConfig) *Agent {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		config:      config,
		records:     make([]EpisodeRecord, 0, config.Episodes),
		policy:      config.Policy,
		environment: config.Environment,
		logger:      logger,
	}
}

// Run the agent for the specified number of episodes and horizon, stopping
// early when ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	for i := 0; i < a.config.Episodes; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		record, trace := a.RunEpisode(i)
		a.records = append(a.records, record)
		if a.config.OnEpisode != nil {
			a.config.OnEpisode(record, trace)
		}
	}
	return nil
}

func (a *Agent) Records() []EpisodeRecord {
	return a.records
}

// RunEpisode runs a single episode. A panic inside the environment or policy
// ends the episode and is recorded as its error.
func (a *Agent) RunEpisode(episode int) (record EpisodeRecord, trace *Trace) {
	start := time.Now()
	trace = NewTrace()
	record = EpisodeRecord{
		Experiment: a.config.Name,
		Episode:    episode,
		States:     make([]int, 0),
	}
	defer func() {
		if r := recover(); r != nil {
			record.Err = fmt.Sprintf("panic: %v", r)
			a.logger.Error("episode panicked", "episode", episode, "panic", r)
		}
		record.Steps = trace.Len()
		record.Reward = trace.TotalReward()
		record.Duration = time.Since(start)
		a.policy.UpdateIteration(episode, trace)
	}()

	if seeds := a.environment.Seed(nil); len(seeds) > 0 {
		record.Seed = seeds[0]
	}
	obs, err := a.environment.Reset()
	if err != nil {
		record.Err = err.Error()
		a.logger.Warn("reset failed", "episode", episode, "error", err)
		return
	}
	record.States = append(record.States, obs.StateID)

	for i := 0; i < a.config.Horizon; i++ {
		nextAction, ok := a.policy.NextAction(i, obs, a.environment.ActionSpace())
		if !ok {
			break
		}
		next, reward, done, info, err := a.environment.Step(nextAction)
		if err != nil {
			record.Err = err.Error()
			a.logger.Warn("step failed", "episode", episode, "step", i, "error", err)
			return
		}
		a.policy.Update(i, obs, nextAction, reward, next)
		trace.Append(obs, nextAction, reward, next)
		record.Coverage = info.Coverage
		if done {
			record.Result = info.Result
			record.Panic = info.Panic
			return
		}
		record.States = append(record.States, next.StateID)
		obs = next
	}
	record.HorizonEnd = true
	return
}
