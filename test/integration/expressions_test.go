package integration

import (
	"testing"
)

// TestExpr_Arithmetic verifies integer and float arithmetic over HTTP.
func TestExpr_Arithmetic(t *testing.T) {
	tests := []struct {
		expr     string
		want     any
		wantType string
	}{
		{"3 + 10 * 4 / 2 - 1", float64(22), "int"},
		{"(3 + 10) * 4 / (2 - 1)", float64(52), "int"},
		// Int division truncates
		{"7 / 2", float64(3), "int"},
		{"7 / 2.0", float64(3.5), "float"},
		{"-3 + -2", float64(-5), "int"},
		{"true + 1", float64(2), "float"},
		{"'a' + 1", nil, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertResult(t, evaluate(t, tt.expr, nil), tt.want, tt.wantType)
		})
	}
}

// TestExpr_Comparison verifies comparison operators and their word forms.
func TestExpr_Comparison(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"1 < 2", true},
		{"2 -lt 1", false},
		{"3 -le 2.5", false},
		{"3.5 -gt 3", true},
		{"2 == 2.0", true},
		{"'hi' -eq 'hI'", false},
		{"'hi' != 'bye'", true},
		{"1 + 1 == 2 && 2 < 3", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertResult(t, evaluate(t, tt.expr, nil), tt.want, "bool")
		})
	}
}

// TestExpr_Logical verifies logical operators and short-circuiting.
func TestExpr_Logical(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"!true -or !false", true},
		{"true -and false", false},
		{"!!true", true},
		{"not(0)", true},
		// The right operand is never evaluated
		{"false && fail()", false},
		{"true || fail()", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertResult(t, evaluate(t, tt.expr, nil), tt.want, "bool")
		})
	}
}

// TestExpr_Functions verifies the built-in functions.
func TestExpr_Functions(t *testing.T) {
	assertResult(t, evaluate(t, "pow(2, 3)", nil), float64(8), "float")
	assertResult(t, evaluate(t, "cos(0)", nil), float64(1), "float")
	assertResult(t, evaluate(t, "exists_else(null, 5)", nil), float64(5), "int")
	assertResult(t, evaluate(t, "if_else(3 >= 3, 6, fail())", nil), float64(6), "int")
	assertResult(t, evaluate(t, "not_null(null)", nil), false, "bool")
}

// TestExpr_Contexts verifies property lookup in request and base contexts.
func TestExpr_Contexts(t *testing.T) {
	contexts := map[string]any{
		"order": map[string]any{"total": 150, "items": 3, "vip": true},
	}

	assertResult(t, evaluate(t, "order.total + order.items", contexts), float64(153), "int")
	assertResult(t, evaluate(t, "ORDER.Total -gt env.free_shipping_threshold", contexts), true, "bool")
	assertResult(t, evaluate(t, "order.vip && order.items * 2 -eq 6", contexts), true, "bool")
	assertResult(t, evaluate(t, "order.total * env.tax_rate", contexts), float64(37.5), "float")
}
