package types

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// BonusPolicy learns an exploration bonus of 1/visits for every (state,
// action) pair, propagated backwards over each finished episode, and samples
// actions by softmax over it. Unvisited pairs start at the maximum bonus 1.
type BonusPolicy struct {
	QTable      map[string]map[int]float64
	visits      map[string]map[int]float64
	alpha       float64
	discount    float64
	temperature float64
	buckets     int
	src         rand.Source
	rand        *rand.Rand
}

var _ Policy = &BonusPolicy{}

// NewBonusPolicy seeds from the clock when seed is 0
func NewBonusPolicy(alpha, discount, temperature float64, seed uint64) *BonusPolicy {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)
	return &BonusPolicy{
		QTable:      make(map[string]map[int]float64),
		visits:      make(map[string]map[int]float64),
		alpha:       alpha,
		discount:    discount,
		temperature: temperature,
		buckets:     16,
		src:         src,
		rand:        rand.New(src),
	}
}

func (b *BonusPolicy) Reset() {
	b.QTable = make(map[string]map[int]float64)
	b.visits = make(map[string]map[int]float64)
}

func (b *BonusPolicy) value(state string, action int) float64 {
	if v, ok := b.QTable[state][action]; ok {
		return v
	}
	return 1
}

func (b *BonusPolicy) maxValue(state string) float64 {
	values, ok := b.QTable[state]
	if !ok {
		return 1
	}
	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// key maps an action to its table column: discrete actions are integers,
// continuous ones fall in one of the buckets.
func (b *BonusPolicy) key(action float64) int {
	if action == math.Trunc(action) {
		return int(action)
	}
	k := int(action * float64(b.buckets))
	if k >= b.buckets {
		k = b.buckets - 1
	}
	return k
}

func (b *BonusPolicy) NextAction(step int, obs Observation, space ActionSpace) (float64, bool) {
	n := b.buckets
	if space.Discrete {
		n = space.N
	}
	if n <= 0 {
		return 0, false
	}
	stateHash := obs.Hash()

	sum := float64(0)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		exp := math.Exp(b.value(stateHash, i) / b.temperature)
		weights[i] = exp
		sum += exp
	}
	for i := range weights {
		weights[i] /= sum
	}
	i, ok := sampleuv.NewWeighted(weights, b.src).Take()
	if !ok {
		return 0, false
	}
	if space.Discrete {
		return float64(i), true
	}
	return (float64(i) + b.rand.Float64()) / float64(n), true
}

func (b *BonusPolicy) Update(int, Observation, float64, float64, Observation) {}

// UpdateIteration walks the episode backwards so that a bonus found late in
// the episode reaches the decisions that led to it.
func (b *BonusPolicy) UpdateIteration(_ int, trace *Trace) {
	lastIndex := trace.Len() - 1
	for i := lastIndex; i > -1; i-- {
		obs, action, _, next, ok := trace.Get(i)
		if !ok {
			continue
		}
		b.update(obs, action, next, i == lastIndex)
	}
}

func (b *BonusPolicy) update(obs Observation, action float64, next Observation, last bool) {
	stateHash := obs.Hash()
	actionKey := b.key(action)
	if _, ok := b.visits[stateHash]; !ok {
		b.visits[stateHash] = make(map[int]float64)
		b.QTable[stateHash] = make(map[int]float64)
	}
	t := b.visits[stateHash][actionKey] + 1
	b.visits[stateHash][actionKey] = t

	nextVal := 0.0
	if !last {
		nextVal = b.maxValue(next.Hash())
	}
	curVal := b.value(stateHash, actionKey)
	b.QTable[stateHash][actionKey] = (1-b.alpha)*curVal + b.alpha*math.Max(1/t, b.discount*nextVal)
}
