// Package condition compiles strategy rule expressions into a small typed
// AST evaluated per bar index. Expressions follow the minimal grammar
// "<operand> <operator> <operand>" where an operand is an indicator
// reference ("SMA_20", "MACD_12_26_9.signal"), a numeric constant, or the
// keyword "price" (the bar's close). Compiling at strategy-load time makes
// a malformed expression a validation error instead of a silent false.
package condition

import (
	"strconv"
	"strings"

	"github.com/quantforge/backsim/internal/indicator"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// Operator is a comparison operator.
type Operator string

const (
	OperatorGT Operator = ">"
	OperatorLT Operator = "<"
	OperatorGE Operator = ">="
	OperatorLE Operator = "<="
	OperatorEQ Operator = "=="
)

// OperandKind tags the operand union.
type OperandKind int

const (
	OperandIndicator OperandKind = iota
	OperandConstant
	OperandPrice
)

// Operand is one side of a comparison.
type Operand struct {
	Kind OperandKind
	// Ref is the indicator reference for OperandIndicator.
	Ref string
	// Value is the literal for OperandConstant.
	Value float64
}

// Comparison is one compiled condition expression.
type Comparison struct {
	Left  Operand
	Op    Operator
	Right Operand
	// Raw preserves the source expression for messages.
	Raw string
}

// Parse compiles a single expression.
func Parse(expr string) (Comparison, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != 3 {
		return Comparison{}, errors.Newf(errors.ErrCodeMalformedCondition,
			"condition %q must have the form <operand> <operator> <operand>", expr)
	}

	left, err := parseOperand(tokens[0], expr)
	if err != nil {
		return Comparison{}, err
	}

	op, err := parseOperator(tokens[1], expr)
	if err != nil {
		return Comparison{}, err
	}

	right, err := parseOperand(tokens[2], expr)
	if err != nil {
		return Comparison{}, err
	}

	return Comparison{
		Left:  left,
		Op:    op,
		Right: right,
		Raw:   expr,
	}, nil
}

// ParseAll compiles a list of expressions, failing on the first bad one.
func ParseAll(exprs []string) ([]Comparison, error) {
	comparisons := make([]Comparison, 0, len(exprs))

	for _, expr := range exprs {
		comparison, err := Parse(expr)
		if err != nil {
			return nil, err
		}

		comparisons = append(comparisons, comparison)
	}

	return comparisons, nil
}

func parseOperand(token, expr string) (Operand, error) {
	if strings.EqualFold(token, "price") || strings.EqualFold(token, "close") {
		return Operand{Kind: OperandPrice}, nil
	}

	if value, err := strconv.ParseFloat(token, 64); err == nil {
		return Operand{Kind: OperandConstant, Value: value}, nil
	}

	id, _ := types.ParseIndicatorRef(token)
	if id == "" {
		return Operand{}, errors.Newf(errors.ErrCodeMalformedCondition,
			"condition %q has an empty operand", expr)
	}

	return Operand{Kind: OperandIndicator, Ref: token}, nil
}

func parseOperator(token, expr string) (Operator, error) {
	switch Operator(token) {
	case OperatorGT, OperatorLT, OperatorGE, OperatorLE, OperatorEQ:
		return Operator(token), nil
	default:
		return "", errors.Newf(errors.ErrCodeUnknownOperator,
			"condition %q uses unsupported operator %q", expr, token)
	}
}

// BindCheck verifies at load time that every indicator reference resolves
// to a computed series. Unknown references are a validation failure, not a
// runtime false.
func BindCheck(comparisons []Comparison, set indicator.SeriesSet) error {
	for _, comparison := range comparisons {
		for _, operand := range []Operand{comparison.Left, comparison.Right} {
			if operand.Kind != OperandIndicator {
				continue
			}

			if _, exists := set[operand.Ref]; !exists {
				return errors.Newf(errors.ErrCodeUnknownIndicatorRef,
					"condition %q references unknown indicator %q", comparison.Raw, operand.Ref)
			}
		}
	}

	return nil
}

// Evaluate resolves both operands at the given bar index and applies the
// operator. A null operand (warm-up) makes the condition false.
func (c Comparison) Evaluate(set indicator.SeriesSet, bars []types.Bar, barIndex int) bool {
	left, ok := c.resolve(c.Left, set, bars, barIndex)
	if !ok {
		return false
	}

	right, ok := c.resolve(c.Right, set, bars, barIndex)
	if !ok {
		return false
	}

	switch c.Op {
	case OperatorGT:
		return left > right
	case OperatorLT:
		return left < right
	case OperatorGE:
		return left >= right
	case OperatorLE:
		return left <= right
	case OperatorEQ:
		return left == right
	default:
		return false
	}
}

func (c Comparison) resolve(operand Operand, set indicator.SeriesSet, bars []types.Bar, barIndex int) (float64, bool) {
	switch operand.Kind {
	case OperandConstant:
		return operand.Value, true
	case OperandPrice:
		if barIndex < 0 || barIndex >= len(bars) {
			return 0, false
		}

		return bars[barIndex].Close, true
	case OperandIndicator:
		series, exists := set[operand.Ref]
		if !exists {
			return 0, false
		}

		return series.ValueAt(barIndex)
	default:
		return 0, false
	}
}

// AllTrue reports whether every comparison holds at the bar index (entry
// semantics, logical AND). An empty list is vacuously false: a strategy
// with no entry conditions never enters.
func AllTrue(comparisons []Comparison, set indicator.SeriesSet, bars []types.Bar, barIndex int) bool {
	if len(comparisons) == 0 {
		return false
	}

	for _, comparison := range comparisons {
		if !comparison.Evaluate(set, bars, barIndex) {
			return false
		}
	}

	return true
}

// AnyTrue reports whether at least one comparison holds at the bar index
// (exit semantics, logical OR). An empty list is false.
func AnyTrue(comparisons []Comparison, set indicator.SeriesSet, bars []types.Bar, barIndex int) bool {
	for _, comparison := range comparisons {
		if comparison.Evaluate(set, bars, barIndex) {
			return true
		}
	}

	return false
}
