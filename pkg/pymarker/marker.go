package pymarker

/*
This file parses PEP 508 environment markers
(https://peps.python.org/pep-0508/#environment-markers). The relevant
grammar:

	marker       = marker_or
	marker_or    = marker_and wsp* 'or' marker_or
	             | marker_and
	marker_and   = marker_expr wsp* 'and' marker_and
	             | marker_expr
	marker_expr  = marker_var marker_op marker_var
	             | wsp* '(' marker ')'
	marker_var   = wsp* (env_var | python_str)
	marker_op    = version_cmp | (wsp* 'in') | (wsp* 'not' wsp+ 'in')
	version_cmp  = wsp* ('<=' | '<' | '!=' | '==' | '>=' | '>' | '~=' | '===')

As in pip, the marker_or and marker_and rules chain without requiring
parentheses. Comparisons between two version-shaped operands use PEP 440
ordering; everything else falls back to Python string semantics.
*/

import (
	"fmt"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pep440"
)

// Marker is a parsed environment marker expression. Parsing happens once;
// the same Marker may be evaluated against any Environment.
type Marker struct {
	raw  string
	expr markerNode
}

// ParseMarker parses a marker expression. Syntax errors yield
// MALFORMED_REQUIREMENT; references to variables outside the PEP 508 set
// yield UNSUPPORTED_MARKER. Both name the offending text.
func ParseMarker(raw string) (*Marker, error) {
	p := &markerParser{input: raw}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, p.errMalformed("trailing text")
	}
	return &Marker{raw: raw, expr: expr}, nil
}

// String returns the marker as originally written.
func (m *Marker) String() string { return m.raw }

// Eval evaluates the marker against env and the set of requested extras.
// Boolean combinations short-circuit.
func (m *Marker) Eval(env *Environment, extras map[string]bool) bool {
	return m.expr.eval(env, extras)
}

type markerNode interface {
	eval(env *Environment, extras map[string]bool) bool
}

type orNode struct{ left, right markerNode }

func (n orNode) eval(env *Environment, extras map[string]bool) bool {
	return n.left.eval(env, extras) || n.right.eval(env, extras)
}

type andNode struct{ left, right markerNode }

func (n andNode) eval(env *Environment, extras map[string]bool) bool {
	return n.left.eval(env, extras) && n.right.eval(env, extras)
}

// operand is one side of a comparison: a marker variable or a quoted
// literal.
type operand struct {
	variable string // set when this operand is a marker variable
	literal  string // set when this operand is a quoted string
}

func (o operand) value(env *Environment) string {
	if o.variable != "" && o.variable != "extra" {
		return env.markerValue(o.variable)
	}
	return o.literal
}

type exprNode struct {
	op          string
	left, right operand
}

func (n exprNode) eval(env *Environment, extras map[string]bool) bool {
	// extra can only be compared with ==, enforced at parse time. The
	// comparison tests membership of the requested extras.
	if n.left.variable == "extra" || n.right.variable == "extra" {
		name := n.left.literal
		if n.left.variable == "extra" {
			name = n.right.literal
		}
		return extras[pep440.CanonName(name)]
	}

	left, right := n.left.value(env), n.right.value(env)

	// Prefer a PEP 440 comparison when both operands are version-shaped
	// and the operator is a version operator. === forces string
	// comparison by definition.
	switch n.op {
	case "<=", "<", "!=", "==", ">=", ">", "~=":
		if lv, err := pep440.Parse(left); err == nil {
			if spec, err := pep440.ParseSpecifiers(n.op + right); err == nil {
				return spec.MatchPrerelease(lv)
			}
		}
	}

	// Python string semantics.
	switch n.op {
	case "<=":
		return left <= right
	case "<":
		return left < right
	case "!=":
		return left != right
	case "==", "===":
		return left == right
	case ">=":
		return left >= right
	case ">":
		return left > right
	case "in":
		return strings.Contains(right, left)
	case "not in":
		return !strings.Contains(right, left)
	case "~=":
		// Compatible-release has no string meaning; when the operands
		// are not both versions the comparison cannot hold.
		return false
	}
	panic(fmt.Sprintf("unknown marker operator %q", n.op))
}

// markerVariables is the set of variable names PEP 508 defines.
var markerVariables = map[string]bool{
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"python_version":                 true,
	"python_full_version":            true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// markerOps lists operators longest-first so prefixes (< vs <=) resolve
// correctly. "not in" is handled separately because of its interior
// whitespace.
var markerOps = []string{"===", "<=", "!=", "==", ">=", "~=", "in", "<", ">"}

type markerParser struct {
	input string
	pos   int
}

func (p *markerParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *markerParser) accept(s string) bool {
	if strings.HasPrefix(p.input[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *markerParser) errMalformed(want string) error {
	rest := p.input[p.pos:]
	if len(rest) > 20 {
		rest = rest[:20]
	}
	if rest == "" {
		rest = "end of input"
	}
	return errors.New(errors.ErrCodeMalformedRequirement,
		"invalid marker %q: expected %s at %q", p.input, want, rest)
}

func (p *markerParser) parseOr() (markerNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.accept("or") {
		return left, nil
	}
	right, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	return orNode{left: left, right: right}, nil
}

func (p *markerParser) parseAnd() (markerNode, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.accept("and") {
		return left, nil
	}
	right, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	return andNode{left: left, right: right}, nil
}

func (p *markerParser) parseExpr() (markerNode, error) {
	p.skipSpace()
	if p.accept("(") {
		m, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.accept(")") {
			return nil, p.errMalformed("closing )")
		}
		return m, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if (left.variable == "extra" || right.variable == "extra") && op != "==" {
		return nil, errors.New(errors.ErrCodeMalformedRequirement,
			"invalid marker %q: extra can only be compared with ==", p.input)
	}
	return exprNode{op: op, left: left, right: right}, nil
}

func (p *markerParser) parseOperand() (operand, error) {
	p.skipSpace()
	if s, ok := p.parseString(); ok {
		return operand{literal: s}, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isIdentByte(p.input[p.pos])) {
		p.pos++
	}
	name := p.input[start:p.pos]
	if name == "" {
		return operand{}, p.errMalformed("a quoted string or marker variable")
	}
	if !markerVariables[name] {
		return operand{}, errors.New(errors.ErrCodeUnsupportedMarker,
			"unknown marker variable %q in %q", name, p.input)
	}
	return operand{variable: name}, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// parseString parses a quoted literal. Like pip, the contents are not
// validated against the grammar's character set.
func (p *markerParser) parseString() (string, bool) {
	if p.pos >= len(p.input) {
		return "", false
	}
	quote := p.input[p.pos]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	end := strings.IndexByte(p.input[p.pos+1:], quote)
	if end < 0 {
		return "", false
	}
	val := p.input[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return val, true
}

func (p *markerParser) parseOp() (string, error) {
	p.skipSpace()
	for _, op := range markerOps {
		if p.accept(op) {
			return op, nil
		}
	}
	if p.accept("not") {
		start := p.pos
		p.skipSpace()
		if p.pos == start {
			return "", p.errMalformed("whitespace inside 'not in'")
		}
		if !p.accept("in") {
			return "", p.errMalformed("'in' after 'not'")
		}
		return "not in", nil
	}
	return "", p.errMalformed("a comparison operator")
}
