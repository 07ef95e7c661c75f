package types

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

type Policy interface {
	UpdateIteration(int, *Trace)
	NextAction(int, Observation, ActionSpace) (float64, bool)
	Update(int, Observation, float64, float64, Observation)
	Reset()
}

// SoftMaxNegPolicy learns a negative value for every visit of a (state, action)
// pair and samples actions by softmax over those values, which steers episodes
// towards rarely taken decisions. Continuous spaces are bucketed.
type SoftMaxNegPolicy struct {
	QTable  map[string]map[int]float64
	alpha   float64
	gamma   float64
	buckets int
	src     rand.Source
	rand    *rand.Rand
}

func NewSoftMaxNegPolicy(alpha, gamma float64, seed uint64) *SoftMaxNegPolicy {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)
	return &SoftMaxNegPolicy{
		QTable:  make(map[string]map[int]float64),
		alpha:   alpha,
		gamma:   gamma,
		buckets: 16,
		src:     src,
		rand:    rand.New(src),
	}
}

var _ Policy = &SoftMaxNegPolicy{}

func (s *SoftMaxNegPolicy) Reset() {
	s.QTable = make(map[string]map[int]float64)
}

func (s *SoftMaxNegPolicy) UpdateIteration(_ int, _ *Trace) {

}

func (s *SoftMaxNegPolicy) choices(space ActionSpace) int {
	if space.Discrete {
		return space.N
	}
	return s.buckets
}

func (s *SoftMaxNegPolicy) NextAction(step int, obs Observation, space ActionSpace) (float64, bool) {
	n := s.choices(space)
	if n <= 0 {
		return 0, false
	}
	stateHash := obs.Hash()
	if _, ok := s.QTable[stateHash]; !ok {
		s.QTable[stateHash] = make(map[int]float64)
	}

	sum := float64(0)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		exp := math.Exp(s.QTable[stateHash][i])
		weights[i] = exp
		sum += exp
	}
	for i := range weights {
		weights[i] /= sum
	}
	i, ok := sampleuv.NewWeighted(weights, s.src).Take()
	if !ok {
		return 0, false
	}
	if space.Discrete {
		return float64(i), true
	}
	// a point inside the chosen bucket
	return (float64(i) + s.rand.Float64()) / float64(n), true
}

func (s *SoftMaxNegPolicy) bucket(action float64) int {
	b := int(action * float64(s.buckets))
	if b >= s.buckets {
		b = s.buckets - 1
	}
	return b
}

func (s *SoftMaxNegPolicy) Update(step int, obs Observation, action float64, _ float64, next Observation) {
	stateHash := obs.Hash()
	actionKey := int(action)
	if action != math.Trunc(action) {
		actionKey = s.bucket(action)
	}
	if _, ok := s.QTable[stateHash]; !ok {
		return
	}
	curVal := s.QTable[stateHash][actionKey]
	max := float64(0)
	if _, ok := s.QTable[next.Hash()]; ok {
		for _, val := range s.QTable[next.Hash()] {
			if val > max {
				max = val
			}
		}
	}
	nextVal := (1-s.alpha)*curVal + s.alpha*(-1+s.gamma*max)
	s.QTable[stateHash][actionKey] = nextVal
}

type RandomPolicy struct {
	rand *rand.Rand
}

var _ Policy = &RandomPolicy{}

// NewRandomPolicy seeds from the clock when seed is 0
func NewRandomPolicy(seed uint64) *RandomPolicy {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomPolicy{
		rand: rand.New(rand.NewSource(seed)),
	}
}

func (r *RandomPolicy) Reset() {

}

func (r *RandomPolicy) UpdateIteration(_ int, _ *Trace) {

}

func (r *RandomPolicy) NextAction(step int, obs Observation, space ActionSpace) (float64, bool) {
	if space.Discrete {
		if space.N <= 0 {
			return 0, false
		}
		return float64(r.rand.Intn(space.N)), true
	}
	return r.rand.Float64(), true
}

func (r *RandomPolicy) Update(_ int, _ Observation, _ float64, _ float64, _ Observation) {}

// PolicyByName returns one of the built in policies
func PolicyByName(name string, seed uint64) (Policy, bool) {
	switch name {
	case "random", "":
		return NewRandomPolicy(seed), true
	case "softmax":
		return NewSoftMaxNegPolicy(0.3, 0.7, seed), true
	case "bonus":
		return NewBonusPolicy(0.1, 0.99, 0.1, seed), true
	}
	return nil, false
}

// PolicyNames lists the names PolicyByName accepts
func PolicyNames() []string {
	return []string{"random", "softmax", "bonus"}
}
