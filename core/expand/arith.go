package expand

import (
	"fmt"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Arithm evaluates an arithmetic expression against the configured
// variable store. Variables read as their numeric value, with empty and
// unset treated as zero.
func Arithm(cfg *Config, expr syntax.ArithmExpr) (int, error) {
	switch expr := expr.(type) {
	case *syntax.Word:
		str, err := Literal(cfg, expr)
		if err != nil {
			return 0, err
		}
		return cfg.arithValue(str, 0)
	case *syntax.ParenArithm:
		return Arithm(cfg, expr.X)
	case *syntax.UnaryArithm:
		return cfg.unaryArith(expr)
	case *syntax.BinaryArithm:
		return cfg.binaryArith(expr)
	}
	return 0, &Error{Kind: ArithmeticError, Msg: fmt.Sprintf("unsupported arithmetic node %T", expr)}
}

// arithValue resolves a token that may be a number or a variable name.
// Name chains resolve recursively up to a fixed depth, matching how
// shells handle x=y, y=3, $((x)).
func (cfg *Config) arithValue(str string, depth int) (int, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, nil
	}
	if depth > 100 {
		return 0, &Error{Kind: ArithmeticError, Name: str, Msg: "expression recursion too deep"}
	}
	if syntax.ValidName(str) {
		vr, ok := cfg.Vars.Lookup(str)
		if !ok {
			if depth > 0 {
				// The name came from another variable's value, so an
				// unset terminal means the value was not a number.
				return 0, &Error{Kind: ArithmeticError, Name: str, Msg: "not a number"}
			}
			return 0, nil
		}
		return cfg.arithValue(vr.Value, depth+1)
	}
	// Base prefixes 0x / 0 are honored.
	n, err := strconv.ParseInt(str, 0, 64)
	if err != nil {
		return 0, &Error{Kind: ArithmeticError, Name: str, Msg: "not a number"}
	}
	return int(n), nil
}

func (cfg *Config) unaryArith(expr *syntax.UnaryArithm) (int, error) {
	if expr.Op == syntax.Inc || expr.Op == syntax.Dec {
		name, err := arithVarName(expr.X)
		if err != nil {
			return 0, err
		}
		old, err := cfg.arithValue(cfg.Vars.Get(name), 0)
		if err != nil {
			return 0, err
		}
		val := old + 1
		if expr.Op == syntax.Dec {
			val = old - 1
		}
		if err := cfg.Vars.Set(name, strconv.Itoa(val)); err != nil {
			return 0, &Error{Kind: AssignmentError, Name: name, Msg: err.Error()}
		}
		if expr.Post {
			return old, nil
		}
		return val, nil
	}

	val, err := Arithm(cfg, expr.X)
	if err != nil {
		return 0, err
	}
	switch expr.Op {
	case syntax.Not:
		return boolToInt(val == 0), nil
	case syntax.BitNegation:
		return ^val, nil
	case syntax.Minus:
		return -val, nil
	case syntax.Plus:
		return val, nil
	}
	return 0, &Error{Kind: ArithmeticError, Msg: fmt.Sprintf("unsupported unary operator %s", expr.Op)}
}

func (cfg *Config) binaryArith(expr *syntax.BinaryArithm) (int, error) {
	switch expr.Op {
	case syntax.Assgn, syntax.AddAssgn, syntax.SubAssgn, syntax.MulAssgn,
		syntax.QuoAssgn, syntax.RemAssgn, syntax.AndAssgn, syntax.OrAssgn,
		syntax.XorAssgn, syntax.ShlAssgn, syntax.ShrAssgn:
		return cfg.assignArith(expr)
	case syntax.TernQuest:
		cond, err := Arithm(cfg, expr.X)
		if err != nil {
			return 0, err
		}
		colon, ok := expr.Y.(*syntax.BinaryArithm)
		if !ok || colon.Op != syntax.TernColon {
			return 0, &Error{Kind: ArithmeticError, Msg: "malformed ternary expression"}
		}
		if cond != 0 {
			return Arithm(cfg, colon.X)
		}
		return Arithm(cfg, colon.Y)
	case syntax.AndArit:
		x, err := Arithm(cfg, expr.X)
		if err != nil {
			return 0, err
		}
		if x == 0 {
			return 0, nil
		}
		y, err := Arithm(cfg, expr.Y)
		if err != nil {
			return 0, err
		}
		return boolToInt(y != 0), nil
	case syntax.OrArit:
		x, err := Arithm(cfg, expr.X)
		if err != nil {
			return 0, err
		}
		if x != 0 {
			return 1, nil
		}
		y, err := Arithm(cfg, expr.Y)
		if err != nil {
			return 0, err
		}
		return boolToInt(y != 0), nil
	}

	x, err := Arithm(cfg, expr.X)
	if err != nil {
		return 0, err
	}
	y, err := Arithm(cfg, expr.Y)
	if err != nil {
		return 0, err
	}
	return applyBinaryOp(expr.Op, x, y)
}

func applyBinaryOp(op syntax.BinAritOperator, x, y int) (int, error) {
	switch op {
	case syntax.Add:
		return x + y, nil
	case syntax.Sub:
		return x - y, nil
	case syntax.Mul:
		return x * y, nil
	case syntax.Quo:
		if y == 0 {
			return 0, &Error{Kind: ArithmeticError, Msg: "division by zero"}
		}
		return x / y, nil
	case syntax.Rem:
		if y == 0 {
			return 0, &Error{Kind: ArithmeticError, Msg: "division by zero"}
		}
		return x % y, nil
	case syntax.Pow:
		if y < 0 {
			return 0, &Error{Kind: ArithmeticError, Msg: "negative exponent"}
		}
		out := 1
		for i := 0; i < y; i++ {
			out *= x
		}
		return out, nil
	case syntax.Eql:
		return boolToInt(x == y), nil
	case syntax.Neq:
		return boolToInt(x != y), nil
	case syntax.Lss:
		return boolToInt(x < y), nil
	case syntax.Gtr:
		return boolToInt(x > y), nil
	case syntax.Leq:
		return boolToInt(x <= y), nil
	case syntax.Geq:
		return boolToInt(x >= y), nil
	case syntax.And:
		return x & y, nil
	case syntax.Or:
		return x | y, nil
	case syntax.Xor:
		return x ^ y, nil
	case syntax.Shl:
		return x << uint(y), nil
	case syntax.Shr:
		return x >> uint(y), nil
	case syntax.Comma:
		return y, nil
	}
	return 0, &Error{Kind: ArithmeticError, Msg: fmt.Sprintf("unsupported operator %s", op)}
}

func (cfg *Config) assignArith(expr *syntax.BinaryArithm) (int, error) {
	name, err := arithVarName(expr.X)
	if err != nil {
		return 0, err
	}
	y, err := Arithm(cfg, expr.Y)
	if err != nil {
		return 0, err
	}
	val := y
	if expr.Op != syntax.Assgn {
		x, err := cfg.arithValue(cfg.Vars.Get(name), 0)
		if err != nil {
			return 0, err
		}
		binOp, err := assignBaseOp(expr.Op)
		if err != nil {
			return 0, err
		}
		val, err = applyBinaryOp(binOp, x, y)
		if err != nil {
			return 0, err
		}
	}
	if err := cfg.Vars.Set(name, strconv.Itoa(val)); err != nil {
		return 0, &Error{Kind: AssignmentError, Name: name, Msg: err.Error()}
	}
	return val, nil
}

func assignBaseOp(op syntax.BinAritOperator) (syntax.BinAritOperator, error) {
	switch op {
	case syntax.AddAssgn:
		return syntax.Add, nil
	case syntax.SubAssgn:
		return syntax.Sub, nil
	case syntax.MulAssgn:
		return syntax.Mul, nil
	case syntax.QuoAssgn:
		return syntax.Quo, nil
	case syntax.RemAssgn:
		return syntax.Rem, nil
	case syntax.AndAssgn:
		return syntax.And, nil
	case syntax.OrAssgn:
		return syntax.Or, nil
	case syntax.XorAssgn:
		return syntax.Xor, nil
	case syntax.ShlAssgn:
		return syntax.Shl, nil
	case syntax.ShrAssgn:
		return syntax.Shr, nil
	}
	return 0, &Error{Kind: ArithmeticError, Msg: fmt.Sprintf("unsupported assignment %s", op)}
}

func arithVarName(expr syntax.ArithmExpr) (string, error) {
	w, ok := expr.(*syntax.Word)
	if !ok {
		return "", &Error{Kind: ArithmeticError, Msg: "assignment needs a variable name"}
	}
	lit := w.Lit()
	if !syntax.ValidName(lit) {
		return "", &Error{Kind: ArithmeticError, Name: lit, Msg: "assignment needs a variable name"}
	}
	return lit, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
