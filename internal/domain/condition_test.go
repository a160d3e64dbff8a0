package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionOperators(t *testing.T) {
	context := map[string]any{
		"amount":     float64(50000),
		"department": "procurement",
	}

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{"eq match", Condition{Field: "department", Op: OpEq, Value: "procurement"}, true},
		{"eq mismatch", Condition{Field: "department", Op: OpEq, Value: "finance"}, false},
		{"neq on missing field", Condition{Field: "vendor", Op: OpNeq, Value: "acme"}, true},
		{"gt", Condition{Field: "amount", Op: OpGt, Value: 10000}, true},
		{"gte boundary", Condition{Field: "amount", Op: OpGte, Value: 50000}, true},
		{"lt", Condition{Field: "amount", Op: OpLt, Value: 10000}, false},
		{"lte boundary", Condition{Field: "amount", Op: OpLte, Value: float64(50000)}, true},
		{"in", Condition{Field: "department", Op: OpIn, Value: []any{"finance", "procurement"}}, true},
		{"in miss", Condition{Field: "department", Op: OpIn, Value: []any{"finance"}}, false},
		{"exists", Condition{Field: "amount", Op: OpExists}, true},
		{"exists miss", Condition{Field: "vendor", Op: OpExists}, false},
		{"gt on missing field", Condition{Field: "vendor", Op: OpGt, Value: 1}, false},
		{"gt on non-numeric", Condition{Field: "department", Op: OpGt, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.condition.Evaluate(context))
		})
	}
}

func TestEvaluateConditionsLogic(t *testing.T) {
	context := map[string]any{"amount": float64(500)}
	pass := Condition{Field: "amount", Op: OpGt, Value: 100}
	fail := Condition{Field: "amount", Op: OpGt, Value: 1000}

	assert.True(t, EvaluateConditions(nil, ConditionAnd, context))
	assert.True(t, EvaluateConditions([]Condition{pass, pass}, ConditionAnd, context))
	assert.False(t, EvaluateConditions([]Condition{pass, fail}, ConditionAnd, context))
	// Default logic is AND
	assert.False(t, EvaluateConditions([]Condition{pass, fail}, "", context))
	assert.True(t, EvaluateConditions([]Condition{pass, fail}, ConditionOr, context))
	assert.False(t, EvaluateConditions([]Condition{fail, fail}, ConditionOr, context))
}

func TestConditionNumericCoercion(t *testing.T) {
	// JSON decoding yields float64; template values may arrive as int
	context := map[string]any{"count": 3}
	assert.True(t, Condition{Field: "count", Op: OpEq, Value: float64(3)}.Evaluate(context))
	assert.True(t, Condition{Field: "count", Op: OpEq, Value: int64(3)}.Evaluate(context))
}
