package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/casualjim/relay/tool"
)

// CalculatorName is the name the model calls the calculator by.
const CalculatorName = "calculator"

const calculatorChars = "0123456789+-*/(). "

var (
	errDivisionByZero = errors.New("division by zero")
	errNotANumber     = errors.New("expression did not evaluate to a number")
)

type calculatorInput struct {
	Expression string `json:"expression" jsonschema:"description=Mathematical expression to evaluate (e.g. '2 + 3' or '10 * 4' or '100 / 5')"`
}

// Calculator evaluates arithmetic expressions. Failures are reported in the
// result payload with success set to false.
func Calculator() tool.Definition {
	return tool.MustTyped(func(_ context.Context, in calculatorInput) (any, error) {
		return Calculate(in.Expression), nil
	},
		tool.Name(CalculatorName),
		tool.Description("Perform basic mathematical calculations. Supports addition (+), subtraction (-), multiplication (*), and division (/)."),
	)
}

// Calculate evaluates expression and returns the calculator result payload.
func Calculate(expression string) map[string]any {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return calcFailure("No expression provided")
	}
	if strings.ContainsFunc(expression, func(r rune) bool {
		return !strings.ContainsRune(calculatorChars, r)
	}) {
		return calcFailure("Expression contains invalid characters. Only numbers, +, -, *, /, (, ), and spaces are allowed.")
	}

	value, err := Evaluate(expression)
	switch {
	case errors.Is(err, errDivisionByZero):
		return calcFailure("Division by zero is not allowed")
	case errors.Is(err, errNotANumber):
		return calcFailure("Expression did not evaluate to a number")
	case err != nil:
		return calcFailure("Invalid mathematical expression: " + err.Error())
	}

	result := numeric(value)
	return map[string]any{
		"success":          true,
		"expression":       expression,
		"result":           result,
		"formatted_result": fmt.Sprintf("%s = %v", expression, result),
	}
}

func calcFailure(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
		"result":  nil,
	}
}

// numeric reports whole numbers as integers.
func numeric(v float64) any {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return int64(v)
	}
	return v
}

// Evaluate parses and evaluates an arithmetic expression with the usual
// precedence. It supports + - * / as well as ** for powers and // for floor
// division, unary signs and parentheses.
func Evaluate(expression string) (float64, error) {
	p := &exprParser{input: expression}
	p.skipSpace()
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotANumber
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) consume(token string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.input[p.pos:], token) {
		p.pos += len(token)
		return true
	}
	return false
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.consume("+"):
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case p.consume("-"):
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.consume("//"):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errDivisionByZero
			}
			left = math.Floor(left / right)
		case p.consume("*"):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.consume("/"):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errDivisionByZero
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	switch {
	case p.consume("-"):
		v, err := p.parseUnary()
		return -v, err
	case p.consume("+"):
		return p.parseUnary()
	}
	return p.parsePower()
}

// powers bind tighter than unary minus on their left and are right associative
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.consume("**") {
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if base == 0 && exp < 0 {
			return 0, errDivisionByZero
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, errors.New("unexpected end of expression")
	}
	if p.consume("(") {
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if !p.consume(")") {
			return 0, errors.New("missing closing parenthesis")
		}
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}
