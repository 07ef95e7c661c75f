package gym

import (
	"fmt"
	"math"
	"strconv"

	"github.com/zeu5/fuzz-gym/types"
)

// ActionMode selects how agent actions map to the decisions sent to a target.
type ActionMode string

const (
	// Normalized actions lie in [0, 1) and are scaled to the announced range.
	Normalized ActionMode = "normalized"
	// Discrete actions are integers in [0, range).
	Discrete ActionMode = "discrete"
)

// encode turns an action into the decision line for a turn announcing rng.
// A range of 0 asks for a continuous value, which is passed through.
func encode(mode ActionMode, rng int, action float64) (string, error) {
	if math.IsNaN(action) || math.IsInf(action, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidAction, action)
	}
	space := actionSpace(mode, rng)
	if !space.Contains(action) {
		if space.Discrete {
			return "", fmt.Errorf("%w: %v not in [0, %d)", ErrInvalidAction, action, space.N)
		}
		return "", fmt.Errorf("%w: %v not in [0, 1)", ErrInvalidAction, action)
	}
	if rng <= 0 {
		return strconv.FormatFloat(action, 'g', -1, 64), nil
	}
	if space.Discrete {
		return strconv.Itoa(int(action)), nil
	}
	n := int(float64(rng) * action)
	if n >= rng {
		n = rng - 1
	}
	return strconv.Itoa(n), nil
}

func actionSpace(mode ActionMode, rng int) types.ActionSpace {
	if mode == Discrete && rng > 0 {
		return types.ActionSpace{Discrete: true, N: rng}
	}
	return types.ActionSpace{}
}
