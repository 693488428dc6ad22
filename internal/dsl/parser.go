package dsl

import "strconv"

// simpleFields is the exhaustive set of bare identifiers the parser accepts
// as field references outside the tag[X] family.
var simpleFields = map[string]struct{}{
	"id":                     {},
	"pubkey":                 {},
	"npub":                   {},
	"kind":                   {},
	"created_at":             {},
	"content":                {},
	"content_length":         {},
	"referenced_created_at":  {},
}

// numericFields accept ==, !=, >, <, >=, <=, in, not_in against numbers.
var numericFields = map[string]struct{}{
	"kind":                   {},
	"created_at":             {},
	"content_length":         {},
	"referenced_created_at":  {},
}

// stringFields accept ==, !=, contains, starts_with, ends_with, matches,
// in, not_in against strings.
var stringFields = map[string]struct{}{
	"id":      {},
	"pubkey":  {},
	"npub":    {},
	"content": {},
}

// parser is a recursive-descent parser over the token stream produced by
// lexer, implementing the grammar from the field parsing section: expr :=
// or_expr; or_expr := and_expr (OR and_expr)*; and_expr := not_expr (AND
// not_expr)*; not_expr := NOT not_expr | primary; primary := "(" expr ")"
// | condition.
type parser struct {
	lex *lexer
	tok Token
}

// Parse parses source into an AST without compiling regexes, sets, or
// validating npub literals; use Compile for a rule ready to evaluate.
func Parse(source string) (Node, *ParseError) {
	p := &parser{lex: newLexer(source)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, errExpectedToken("EOF", p.tok)
	}
	return expr, nil
}

func (p *parser) advance() *ParseError {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseExpr() (Node, *ParseError) { return p.parseOr() }

func (p *parser) parseOr() (Node, *ParseError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = OrNode{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, *ParseError) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = AndNode{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, *ParseError) {
	if p.tok.Kind == TokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotNode{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, *ParseError) {
	if p.tok.Kind == TokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, errExpectedToken(")", p.tok)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parseCondition()
}

func (p *parser) parseCondition() (Node, *ParseError) {
	pos := p.tok.Start
	field, err := p.parseField()
	if err != nil {
		return nil, err
	}

	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	if err := p.checkTypes(field, op, value); err != nil {
		err.Position = pos
		return nil, err
	}

	return &CondNode{Field: field, Op: op, Value: value, pos: pos}, nil
}

func (p *parser) parseField() (Field, *ParseError) {
	if p.tok.Kind != TokIdent {
		return Field{}, errExpectedToken("field", p.tok)
	}
	name := p.tok.Text

	if name == "tag" {
		if err := p.advance(); err != nil {
			return Field{}, err
		}
		if p.tok.Kind != TokLBracket {
			return Field{}, errExpectedToken("[", p.tok)
		}
		if err := p.advance(); err != nil {
			return Field{}, err
		}
		if p.tok.Kind != TokIdent || len(p.tok.Text) != 1 || !isASCIILetter(p.tok.Text[0]) {
			return Field{}, errExpectedToken("single-letter tag name", p.tok)
		}
		tagName := p.tok.Text
		if err := p.advance(); err != nil {
			return Field{}, err
		}
		if p.tok.Kind != TokRBracket {
			return Field{}, errExpectedToken("]", p.tok)
		}
		if err := p.advance(); err != nil {
			return Field{}, err
		}

		if p.tok.Kind != TokDot {
			return Field{Kind: FieldTagExists, Name: tagName}, nil
		}
		if err := p.advance(); err != nil {
			return Field{}, err
		}
		if p.tok.Kind != TokIdent {
			return Field{}, errExpectedToken("count or value", p.tok)
		}
		switch p.tok.Text {
		case "count":
			sub := Field{Kind: FieldTagCount, Name: tagName}
			return sub, p.advance()
		case "value":
			sub := Field{Kind: FieldTagValue, Name: tagName}
			return sub, p.advance()
		default:
			return Field{}, errExpectedToken("count or value", p.tok)
		}
	}

	if _, ok := simpleFields[name]; !ok {
		return Field{}, errExpectedToken("field", p.tok)
	}
	if err := p.advance(); err != nil {
		return Field{}, err
	}
	return Field{Kind: FieldSimple, Name: name}, nil
}

func (p *parser) parseOp() (Op, *ParseError) {
	tok := p.tok
	var op Op
	switch tok.Kind {
	case TokEq:
		op = OpEq
	case TokNe:
		op = OpNeq
	case TokGt:
		op = OpGt
	case TokLt:
		op = OpLt
	case TokGe:
		op = OpGte
	case TokLe:
		op = OpLte
	case TokContains:
		op = OpContains
	case TokStartsWith:
		op = OpStartsWith
	case TokEndsWith:
		op = OpEndsWith
	case TokMatches:
		op = OpMatches
	case TokIn:
		op = OpIn
	case TokNotIn:
		op = OpNotIn
	case TokExists:
		op = OpExists
	default:
		return 0, errExpectedOperator(tok)
	}
	return op, p.advance()
}

func (p *parser) parseValue() (Value, *ParseError) {
	switch p.tok.Kind {
	case TokNumber:
		v := Value{Kind: ValNumber, Number: parseInt64(p.tok.Text)}
		return v, p.advance()

	case TokString:
		v := Value{Kind: ValString, Str: p.tok.Text}
		return v, p.advance()

	case TokIdent:
		switch p.tok.Text {
		case "true":
			v := Value{Kind: ValBool, Bool: true}
			return v, p.advance()
		case "false":
			v := Value{Kind: ValBool, Bool: false}
			return v, p.advance()
		default:
			// field-to-field comparison, e.g. referenced_created_at == created_at
			field, err := p.parseField()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: ValFieldRef, Field: &field}, nil
		}

	case TokLBracket:
		return p.parseList()

	default:
		return Value{}, errExpectedValue(p.tok)
	}
}

func (p *parser) parseList() (Value, *ParseError) {
	if err := p.advance(); err != nil { // consume '['
		return Value{}, err
	}

	var items []Value
	if p.tok.Kind != TokRBracket {
		for {
			item, err := p.parseValue()
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
			if p.tok.Kind != TokComma {
				break
			}
			if err := p.advance(); err != nil {
				return Value{}, err
			}
		}
	}

	if p.tok.Kind != TokRBracket {
		return Value{}, errExpectedToken("]", p.tok)
	}
	return Value{Kind: ValList, List: items}, p.advance()
}

// checkTypes enforces the field/operator/value compatibility table. It
// returns a *ParseError with Position left at zero; callers overwrite it
// with the condition's start position.
func (p *parser) checkTypes(field Field, op Op, value Value) *ParseError {
	if field.Kind == FieldTagExists {
		if op != OpExists {
			return &ParseError{Message: "Expected operator but got '" + op.String() + "'"}
		}
		if value.Kind != ValBool {
			return &ParseError{Message: "Expected value but got '" + value.describe() + "'"}
		}
		return nil
	}
	if op == OpExists {
		return &ParseError{Message: "Expected operator but got 'exists'"}
	}

	if field.Kind == FieldTagCount {
		return checkNumericOp(op, value)
	}
	if field.Kind == FieldTagValue {
		return checkStringOp(op, value)
	}

	if _, ok := numericFields[field.Name]; ok {
		return checkNumericOp(op, value)
	}
	if _, ok := stringFields[field.Name]; ok {
		return checkStringOp(op, value)
	}
	return nil
}

func checkNumericOp(op Op, value Value) *ParseError {
	switch op {
	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
		if value.Kind != ValNumber && value.Kind != ValFieldRef {
			return &ParseError{Message: "Expected value but got '" + value.describe() + "'"}
		}
	case OpIn, OpNotIn:
		if value.Kind != ValList {
			return &ParseError{Message: "Expected value but got '" + value.describe() + "'"}
		}
		for _, item := range value.List {
			if item.Kind != ValNumber {
				return &ParseError{Message: "Expected value but got '" + item.describe() + "'"}
			}
		}
	default:
		return &ParseError{Message: "Expected operator but got '" + op.String() + "'"}
	}
	return nil
}

func checkStringOp(op Op, value Value) *ParseError {
	switch op {
	case OpEq, OpNeq, OpContains, OpStartsWith, OpEndsWith, OpMatches:
		if value.Kind != ValString && value.Kind != ValFieldRef {
			return &ParseError{Message: "Expected value but got '" + value.describe() + "'"}
		}
	case OpIn, OpNotIn:
		if value.Kind != ValList {
			return &ParseError{Message: "Expected value but got '" + value.describe() + "'"}
		}
		for _, item := range value.List {
			if item.Kind != ValString {
				return &ParseError{Message: "Expected value but got '" + item.describe() + "'"}
			}
		}
	default:
		return &ParseError{Message: "Expected operator but got '" + op.String() + "'"}
	}
	return nil
}

func (v Value) describe() string {
	switch v.Kind {
	case ValNumber:
		return "number"
	case ValString:
		return "string"
	case ValBool:
		return "bool"
	case ValList:
		return "list"
	case ValFieldRef:
		return v.Field.Name
	default:
		return "value"
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func isASCIILetter(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}
