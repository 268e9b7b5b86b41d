package clc

// constEvalInt evaluates integer constant expressions, as used by array sizes and #if. It returns ok=false if
// the expression is not an integer constant.
func constEvalInt(e Expr) (v int64, ok bool) {
	switch e := e.(type) {
	case *IntLit:
		return int64(e.Val), true

	case *SizeOf:
		if e.Type != nil {
			return int64(e.Type.Size()), true
		}
		return 0, false

	case *Cast:
		x, ok := constEvalInt(e.X)
		if !ok || !e.To.isInteger() {
			return 0, false
		}
		return wrapInt(e.To.Kind, x), true

	case *Unary:
		x, ok := constEvalInt(e.X)
		if !ok {
			return 0, false
		}
		switch e.Op {
		case "-":
			return -x, true
		case "+":
			return x, true
		case "~":
			return ^x, true
		case "!":
			return boolToInt(x == 0), true
		}
		return 0, false

	case *Cond:
		c, ok := constEvalInt(e.C)
		if !ok {
			return 0, false
		}
		if c != 0 {
			return constEvalInt(e.X)
		}
		return constEvalInt(e.Y)

	case *Binary:
		x, ok := constEvalInt(e.X)
		if !ok {
			return 0, false
		}
		// Short-circuit first, so "0 && (1/0)" is fine.
		switch e.Op {
		case "&&":
			if x == 0 {
				return 0, true
			}
		case "||":
			if x != 0 {
				return 1, true
			}
		}
		y, ok := constEvalInt(e.Y)
		if !ok {
			return 0, false
		}
		switch e.Op {
		case "+":
			return x + y, true
		case "-":
			return x - y, true
		case "*":
			return x * y, true
		case "/", "%":
			if y == 0 {
				return 0, false
			}
			if e.Op == "/" {
				return x / y, true
			}
			return x % y, true
		case "<<":
			return x << uint64(y&63), true
		case ">>":
			return x >> uint64(y&63), true
		case "&":
			return x & y, true
		case "|":
			return x | y, true
		case "^":
			return x ^ y, true
		case "==":
			return boolToInt(x == y), true
		case "!=":
			return boolToInt(x != y), true
		case "<":
			return boolToInt(x < y), true
		case "<=":
			return boolToInt(x <= y), true
		case ">":
			return boolToInt(x > y), true
		case ">=":
			return boolToInt(x >= y), true
		case "&&", "||":
			return boolToInt(y != 0), true
		case ",":
			return y, true
		}
	}
	return 0, false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
