package domain

import "fmt"

// Stage conditions are plain data (field/op/value triples), never code.
// They are evaluated against the execution context before a stage activates.

type ConditionOp string

const (
	OpEq     ConditionOp = "eq"
	OpNeq    ConditionOp = "neq"
	OpGt     ConditionOp = "gt"
	OpGte    ConditionOp = "gte"
	OpLt     ConditionOp = "lt"
	OpLte    ConditionOp = "lte"
	OpIn     ConditionOp = "in"
	OpExists ConditionOp = "exists"
)

type ConditionLogic string

const (
	ConditionAnd ConditionLogic = "and"
	ConditionOr  ConditionLogic = "or"
)

type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value,omitempty"`
}

func (c Condition) validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition has no field")
	}
	switch c.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpExists:
		return nil
	default:
		return fmt.Errorf("condition on %q has unknown operator %q", c.Field, c.Op)
	}
}

// Evaluate applies the condition to an execution context map. A missing field
// only satisfies a negated check (neq) or fails outright.
func (c Condition) Evaluate(context map[string]any) bool {
	value, ok := context[c.Field]
	switch c.Op {
	case OpExists:
		return ok
	case OpEq:
		return ok && equal(value, c.Value)
	case OpNeq:
		return !ok || !equal(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !ok {
			return false
		}
		left, lok := toFloat(value)
		right, rok := toFloat(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Op {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	case OpIn:
		if !ok {
			return false
		}
		options, isList := c.Value.([]any)
		if !isList {
			return false
		}
		for _, opt := range options {
			if equal(value, opt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EvaluateConditions combines a condition list with and/or logic.
// An empty list always passes.
func EvaluateConditions(conditions []Condition, logic ConditionLogic, context map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	if logic == ConditionOr {
		for _, c := range conditions {
			if c.Evaluate(context) {
				return true
			}
		}
		return false
	}
	for _, c := range conditions {
		if !c.Evaluate(context) {
			return false
		}
	}
	return true
}

// equal compares scalars, treating all JSON numbers as float64.
func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
