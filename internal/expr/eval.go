package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

var (
	// ErrUnknownName is returned when an expression references a variable that
	// was not supplied.
	ErrUnknownName = errors.New("unknown name")
	// ErrType is returned when an operator does not support its operand types.
	ErrType = errors.New("unsupported operand types")
	// ErrDivisionByZero is returned by /, // and % with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrRange is returned when a result is not finite or a repeated string
	// would exceed MaxStringLen.
	ErrRange = errors.New("result out of range")
)

// MaxStringLen caps the byte length of a string built by "s * n".
const MaxStringLen = 1 << 20

type node interface {
	eval(vars map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type nameNode struct{ name string }

func (n *nameNode) eval(vars map[string]any) (any, error) {
	v, ok := vars[n.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, n.name)
	}
	return v, nil
}

type unaryNode struct {
	op      string
	operand node
}

func (n *unaryNode) eval(vars map[string]any) (any, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return nil, err
	}
	x, ok := toNumber(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s%T", ErrType, n.op, v)
	}
	if n.op == "+" {
		return x.value(), nil
	}
	if x.isFloat {
		return -x.f, nil
	}
	return -x.i, nil
}

type notNode struct{ operand node }

func (n *notNode) eval(vars map[string]any) (any, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type logicNode struct {
	and         bool
	left, right node
}

func (n *logicNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	if truthy(l) != n.and {
		return l, nil
	}
	return n.right.eval(vars)
}

type condNode struct {
	cond, then, otherwise node
}

func (n *condNode) eval(vars map[string]any) (any, error) {
	c, err := n.cond.eval(vars)
	if err != nil {
		return nil, err
	}
	if truthy(c) {
		return n.then.eval(vars)
	}
	return n.otherwise.eval(vars)
}

type compareNode struct {
	operands []node
	ops      []string
}

func (n *compareNode) eval(vars map[string]any) (any, error) {
	left, err := n.operands[0].eval(vars)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := n.operands[i+1].eval(vars)
		if err != nil {
			return nil, err
		}
		ok, err := compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}

	ls, lStr := l.(string)
	rs, rStr := r.(string)
	switch {
	case n.op == "+" && lStr && rStr:
		return ls + rs, nil
	case n.op == "*" && lStr:
		if k, ok := toNumber(r); ok && !k.isFloat {
			return repeat(ls, k.i)
		}
	case n.op == "*" && rStr:
		if k, ok := toNumber(l); ok && !k.isFloat {
			return repeat(rs, k.i)
		}
	}

	x, okL := toNumber(l)
	y, okR := toNumber(r)
	if !okL || !okR {
		return nil, fmt.Errorf("%w: %T %s %T", ErrType, l, n.op, r)
	}
	v, err := arith(n.op, x, y)
	if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, fmt.Errorf("%w: %v %s %v", ErrRange, x.value(), n.op, y.value())
	}
	return v, err
}

// repeat is "s * count"; a negative count gives "".
func repeat(s string, count int64) (any, error) {
	if count <= 0 || s == "" {
		return "", nil
	}
	if count > int64(MaxStringLen/len(s)) {
		return nil, fmt.Errorf("%w: %d repetitions of a %d byte string", ErrRange, count, len(s))
	}
	return strings.Repeat(s, int(count)), nil
}

// number is an integer or float operand. Booleans count as 0 and 1.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) value() any {
	if n.isFloat {
		return n.f
	}
	return n.i
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return number{i: 1}, true
		}
		return number{}, true
	case int:
		return number{i: int64(x)}, true
	case int32:
		return number{i: int64(x)}, true
	case int64:
		return number{i: x}, true
	case float32:
		return number{f: float64(x), isFloat: true}, true
	case float64:
		return number{f: x, isFloat: true}, true
	}
	return number{}, false
}

func arith(op string, x, y number) (any, error) {
	if op == "/" {
		if y.float() == 0 {
			return nil, ErrDivisionByZero
		}
		return x.float() / y.float(), nil
	}

	if !x.isFloat && !y.isFloat {
		a, b := x.i, y.i
		switch op {
		case "+":
			return a + b, nil
		case "-":
			return a - b, nil
		case "*":
			return a * b, nil
		case "//", "%":
			if b == 0 {
				return nil, ErrDivisionByZero
			}
			q, m := a/b, a%b
			if m != 0 && (m < 0) != (b < 0) {
				q--
				m += b
			}
			if op == "//" {
				return q, nil
			}
			return m, nil
		}
	}

	a, b := x.float(), y.float()
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "//":
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: operator %s", ErrType, op)
}

func compare(op string, l, r any) (bool, error) {
	if op == "==" || op == "!=" {
		eq := equal(l, r)
		if op == "==" {
			return eq, nil
		}
		return !eq, nil
	}

	var c int
	if x, ok := toNumber(l); ok {
		y, ok := toNumber(r)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrType, l, op, r)
		}
		c = cmpFloat(x.float(), y.float())
	} else if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrType, l, op, r)
		}
		c = strings.Compare(ls, rs)
	} else if lt, ok := l.(time.Time); ok {
		rt, ok := r.(time.Time)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrType, l, op, r)
		}
		c = lt.Compare(rt)
	} else {
		return false, fmt.Errorf("%w: %T %s %T", ErrType, l, op, r)
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equal(l, r any) bool {
	if x, ok := toNumber(l); ok {
		if y, ok := toNumber(r); ok {
			return x.float() == y.float()
		}
		return false
	}
	if lt, ok := l.(time.Time); ok {
		rt, ok := r.(time.Time)
		return ok && lt.Equal(rt)
	}
	return reflect.DeepEqual(l, r)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if n, ok := toNumber(v); ok {
		return n.float() != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}
