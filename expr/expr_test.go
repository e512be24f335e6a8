package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oabdelmaksoud/taskflow/types"
)

func TestLiterals(t *testing.T) {
	cases := map[string]any{
		"42":        float64(42),
		"3.5":       float64(3.5),
		"'hello'":   "hello",
		`"double"`:  "double",
		"true":      true,
		"false":     false,
		"null":      nil,
		"'it\\'s'":  "it's",
		"-7":        float64(-7),
		"!false":    true,
		"!(1 > 2)":  true,
		"-(2 + 3)":  float64(-5),
		"(1 + 2)":   float64(3),
		"((true))":  true,
	}
	for input, expected := range cases {
		v, err := Eval(input, types.Data{})
		assert.Nil(t, err, "input %q", input)
		assert.Equal(t, expected, v, "input %q", input)
	}
}

func TestArithmetic(t *testing.T) {
	cases := map[string]any{
		"1 + 2 * 3":       float64(7),
		"(1 + 2) * 3":     float64(9),
		"10 - 4 - 3":      float64(3),
		"8 / 2 / 2":       float64(2),
		"7 % 3":           float64(1),
		"2 * 3 + 4 * 5":   float64(26),
		"'a' + 'b'":       "ab",
		"'total: ' + 12":  "total: 12",
		"1 + '2'":         "12",
	}
	for input, expected := range cases {
		v, err := Eval(input, types.Data{})
		assert.Nil(t, err, "input %q", input)
		assert.Equal(t, expected, v, "input %q", input)
	}

	_, err := Eval("1 / 0", types.Data{})
	assert.NotNil(t, err)
	_, err = Eval("1 % 0", types.Data{})
	assert.NotNil(t, err)
}

func TestComparisons(t *testing.T) {
	cases := map[string]any{
		"1 < 2":            true,
		"2 <= 2":           true,
		"3 > 4":            false,
		"4 >= 4":           true,
		"1 == 1.0":         true,
		"1 != 2":           true,
		"'a' < 'b'":        true,
		"'gold' == 'gold'": true,
		"'1' == 1":         true,
		"null == null":     true,
		"'x' == null":      false,
		"true == 1":        true,
	}
	for input, expected := range cases {
		v, err := Eval(input, types.Data{})
		assert.Nil(t, err, "input %q", input)
		assert.Equal(t, expected, v, "input %q", input)
	}
}

func TestLogical(t *testing.T) {
	cases := map[string]any{
		"true && false":          false,
		"true || false":          true,
		"1 < 2 && 2 < 3":         true,
		"1 > 2 || 3 > 2":         true,
		"!true || true":          true,
		"true && true && false":  false,
		"false || false || true": true,
	}
	for input, expected := range cases {
		v, err := Eval(input, types.Data{})
		assert.Nil(t, err, "input %q", input)
		assert.Equal(t, expected, v, "input %q", input)
	}
}

func TestShortCircuit(t *testing.T) {
	// the right side references an unknown variable and would error if
	// evaluated
	v, err := Eval("false && missing > 1", types.Data{})
	assert.Nil(t, err)
	assert.Equal(t, false, v)

	v, err = Eval("true || missing > 1", types.Data{})
	assert.Nil(t, err)
	assert.Equal(t, true, v)

	_, err = Eval("true && missing > 1", types.Data{})
	assert.NotNil(t, err)
}

func TestIdentifiers(t *testing.T) {
	env := types.Data{
		"amount": 500,
		"tier":   "gold",
		"order": map[string]any{
			"customer": map[string]any{"country": "DE"},
			"items":    3,
		},
	}

	v, err := Eval("amount", env)
	assert.Nil(t, err)
	assert.Equal(t, 500, v)

	v, err = Eval("order.items + 1", env)
	assert.Nil(t, err)
	assert.Equal(t, float64(4), v)

	v, err = Eval("order.customer.country == 'DE'", env)
	assert.Nil(t, err)
	assert.Equal(t, true, v)

	_, err = Eval("order.customer.city", env)
	assert.NotNil(t, err)

	_, err = Eval("amount.nested", env)
	assert.NotNil(t, err)

	_, err = Eval("missing", env)
	assert.NotNil(t, err)
}

func TestEvalBool(t *testing.T) {
	ok, err := EvalBool("amount > 100", types.Data{"amount": 200})
	assert.Nil(t, err)
	assert.True(t, ok)

	ok, err = EvalBool("false", types.Data{})
	assert.Nil(t, err)
	assert.False(t, ok)

	// a condition must coerce to bool
	_, err = EvalBool("'not a bool'", types.Data{})
	assert.NotNil(t, err)
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"1 +",
		"(1 + 2",
		"1 ?? 2",
		"'unterminated",
		"1 2",
		"&& true",
	} {
		_, err := Parse(input)
		assert.NotNil(t, err, "input %q", input)
	}
}

func TestParsedReuse(t *testing.T) {
	e, err := Parse("amount * rate")
	assert.Nil(t, err)

	v, err := e.Eval(types.Data{"amount": 10, "rate": 2})
	assert.Nil(t, err)
	assert.Equal(t, float64(20), v)

	v, err = e.Eval(types.Data{"amount": 5, "rate": 3})
	assert.Nil(t, err)
	assert.Equal(t, float64(15), v)
}
