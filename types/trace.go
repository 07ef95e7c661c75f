package types

// Trace of an episode as (observation, action, reward, nextObservation) steps
type Trace struct {
	Observations     []Observation `json:"observations"`
	Actions          []float64     `json:"actions"`
	Rewards          []float64     `json:"rewards"`
	NextObservations []Observation `json:"next_observations"`
}

func NewTrace() *Trace {
	return &Trace{
		Observations:     make([]Observation, 0),
		Actions:          make([]float64, 0),
		Rewards:          make([]float64, 0),
		NextObservations: make([]Observation, 0),
	}
}

func (t *Trace) Slice(from, to int) *Trace {
	slicedTrace := NewTrace()
	for i := from; i < to; i++ {
		slicedTrace.Append(t.Observations[i], t.Actions[i], t.Rewards[i], t.NextObservations[i])
	}
	return slicedTrace
}

func (t *Trace) Append(obs Observation, action, reward float64, next Observation) {
	t.Observations = append(t.Observations, obs)
	t.Actions = append(t.Actions, action)
	t.Rewards = append(t.Rewards, reward)
	t.NextObservations = append(t.NextObservations, next)
}

func (t *Trace) Len() int {
	return len(t.Observations)
}

func (t *Trace) Get(i int) (Observation, float64, float64, Observation, bool) {
	if i < 0 || i >= t.Len() {
		return Observation{}, 0, 0, Observation{}, false
	}
	return t.Observations[i], t.Actions[i], t.Rewards[i], t.NextObservations[i], true
}

func (t *Trace) Last() (Observation, float64, float64, Observation, bool) {
	return t.Get(t.Len() - 1)
}

// GetPrefix returns the first i steps, sharing storage with t
func (t *Trace) GetPrefix(i int) (*Trace, bool) {
	if i < 0 || i > t.Len() {
		return nil, false
	}
	return &Trace{
		Observations:     t.Observations[0:i:i],
		Actions:          t.Actions[0:i:i],
		Rewards:          t.Rewards[0:i:i],
		NextObservations: t.NextObservations[0:i:i],
	}, true
}

// TotalReward sums the rewards of all steps
func (t *Trace) TotalReward() float64 {
	sum := 0.0
	for _, r := range t.Rewards {
		sum += r
	}
	return sum
}
