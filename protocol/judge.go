package protocol

import (
	"strconv"
	"strings"
)

// Judge decides the outcome of a DONE line. The reward it returns is the whole
// terminal reward; the fail bonus is not added on top.
type Judge interface {
	Judge(payload string) (Result, float64)
}

type JudgeFunc func(payload string) (Result, float64)

func (f JudgeFunc) Judge(payload string) (Result, float64) {
	return f(payload)
}

var AcceptAll Judge = JudgeFunc(func(string) (Result, float64) {
	return Pass, 0
})

// TreeJudge scores a serialized binary tree such as "((,1,),2,(,3,))" by its
// in-order values: strictly ascending is a search tree and passes with +1,
// anything else fails with -1. Trees with at most one value score 0.
var TreeJudge Judge = JudgeFunc(func(payload string) (Result, float64) {
	values := treeValues(payload)
	if len(values) <= 1 {
		return Pass, 0
	}
	for i := 1; i < len(values); i++ {
		if values[i-1] >= values[i] {
			return Fail, -1
		}
	}
	return Pass, 1
})

func treeValues(payload string) []int {
	stripped := strings.NewReplacer("(", "", ")", "").Replace(payload)
	values := make([]int, 0)
	for _, field := range strings.Split(stripped, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		values = append(values, n)
	}
	return values
}
