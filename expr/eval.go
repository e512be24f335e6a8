package expr

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"

	"github.com/oabdelmaksoud/taskflow/types"
)

// Expr is a compiled expression evaluable against a variable bag.
type Expr interface {
	Eval(env types.Data) (any, error)
}

// Eval parses and evaluates in one step.
func Eval(input string, env types.Data) (any, error) {
	e, err := Parse(input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return e.Eval(env)
}

// EvalBool evaluates a condition expression. Non-bool results are
// coerced; coercion failure is an error, never silently true.
func EvalBool(input string, env types.Data) (bool, error) {
	v, err := Eval(input, env)
	if err != nil {
		return false, errors.Trace(err)
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, errors.Annotatef(err, "condition %q is not boolean", input)
	}
	return b, nil
}

func parseNumber(s string) any {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

type literalExpr struct {
	val any
}

func (l *literalExpr) Eval(types.Data) (any, error) {
	return l.val, nil
}

type identExpr struct {
	path []string
}

func (i *identExpr) Eval(env types.Data) (any, error) {
	var cur any = map[string]any(env)
	for step, key := range i.path {
		m, err := cast.ToStringMapE(cur)
		if err != nil {
			return nil, errors.Errorf("%s is not a map", strings.Join(i.path[:step], "."))
		}
		v, exists := m[key]
		if !exists {
			return nil, errors.NotFoundf("variable %s", strings.Join(i.path[:step+1], "."))
		}
		cur = v
	}
	return cur, nil
}

type unaryExpr struct {
	op string
	x  Expr
}

func (u *unaryExpr) Eval(env types.Data) (any, error) {
	v, err := u.x.Eval(env)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch u.op {
	case "!":
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return !b, nil
	case "-":
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return -f, nil
	}
	return nil, errors.NotSupportedf("unary %q", u.op)
}

type binaryExpr struct {
	op          string
	left, right Expr
}

func (b *binaryExpr) Eval(env types.Data) (any, error) {
	lv, err := b.left.Eval(env)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// short-circuit before touching the right side
	switch b.op {
	case "&&", "||":
		lb, err := cast.ToBoolE(lv)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if b.op == "&&" && !lb {
			return false, nil
		}
		if b.op == "||" && lb {
			return true, nil
		}
		rv, err := b.right.Eval(env)
		if err != nil {
			return nil, errors.Trace(err)
		}
		rb, err := cast.ToBoolE(rv)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return rb, nil
	}

	rv, err := b.right.Eval(env)
	if err != nil {
		return nil, errors.Trace(err)
	}

	switch b.op {
	case "==":
		return looseEqual(lv, rv), nil
	case "!=":
		return !looseEqual(lv, rv), nil
	case "<", "<=", ">", ">=":
		return compare(b.op, lv, rv)
	case "+":
		if isString(lv) || isString(rv) {
			return cast.ToString(lv) + cast.ToString(rv), nil
		}
		return arith(b.op, lv, rv)
	case "-", "*", "/", "%":
		return arith(b.op, lv, rv)
	}
	return nil, errors.NotSupportedf("operator %q", b.op)
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func looseEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	lf, lerr := cast.ToFloat64E(l)
	rf, rerr := cast.ToFloat64E(r)
	if lerr == nil && rerr == nil {
		return lf == rf
	}
	return cast.ToString(l) == cast.ToString(r)
}

func compare(op string, l, r any) (any, error) {
	lf, lerr := cast.ToFloat64E(l)
	rf, rerr := cast.ToFloat64E(r)
	if lerr == nil && rerr == nil {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, rs := cast.ToString(l), cast.ToString(r)
	switch op {
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return nil, errors.NotSupportedf("comparison %q", op)
}

func arith(op string, l, r any) (any, error) {
	lf, err := cast.ToFloat64E(l)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rf, err := cast.ToFloat64E(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errors.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		ri := int64(rf)
		if ri == 0 {
			return nil, errors.Errorf("modulo by zero")
		}
		return float64(int64(lf) % ri), nil
	}
	return nil, errors.NotSupportedf("operator %q", op)
}
