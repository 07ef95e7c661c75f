package types

import (
	"math"
	"strconv"
)

// Environment is a gym style environment driven one decision at a time
type Environment interface {
	// Reset starts a new episode and returns its first observation
	Reset() (Observation, error)
	// Step applies the action and returns the next observation, the reward,
	// whether the episode ended and diagnostic info
	Step(action float64) (Observation, float64, bool, Info, error)
	// Seed fixes the seed of the next episode, nil picks a random one
	Seed(seed *int64) []int64
	// ActionSpace describes the decision expected at the current step
	ActionSpace() ActionSpace
	Close() error
}

// Observation of the environment, StateID indexes the state ledger
type Observation struct {
	StateID  int     `json:"state_id"`
	LogRange float64 `json:"log_range"`
}

// Hash of the observed state
func (o Observation) Hash() string {
	return "s" + strconv.Itoa(o.StateID)
}

// LogRange of an announced action range, 0 when the range is continuous
func LogRange(r int) float64 {
	if r <= 0 {
		return 0
	}
	return math.Log(float64(r))
}

// Info carries the protocol details of a step
type Info struct {
	Signature string  `json:"signature,omitempty"`
	Range     int     `json:"range"`
	Coverage  float64 `json:"coverage"`
	Result    string  `json:"result,omitempty"`
	Panic     string  `json:"panic,omitempty"`
	Payload   string  `json:"payload,omitempty"`
	Steps     int     `json:"steps"`
}

// ActionSpace is either N discrete choices or the unit interval
type ActionSpace struct {
	Discrete bool `json:"discrete"`
	N        int  `json:"n"`
}

// Contains reports whether action is valid in the space
func (a ActionSpace) Contains(action float64) bool {
	if math.IsNaN(action) || math.IsInf(action, 0) {
		return false
	}
	if a.Discrete {
		return action == math.Trunc(action) && action >= 0 && int(action) < a.N
	}
	return action >= 0 && action < 1
}
