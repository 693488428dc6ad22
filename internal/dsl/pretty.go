package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// Print renders node as canonical DSL source text. Re-parsing the output
// of Print always yields a structurally identical AST, which is what the
// admin validation endpoint's round-trip check relies on.
func Print(n Node) string {
	var b strings.Builder
	printNode(&b, n, 0)
	return b.String()
}

// precedence: OR=0, AND=1, NOT=2, condition=3 (highest, never parenthesized)
func printNode(b *strings.Builder, n Node, parentPrec int) {
	switch node := n.(type) {
	case OrNode:
		wrap(b, 0, parentPrec, func() {
			printNode(b, node.Left, 0)
			b.WriteString(" OR ")
			printNode(b, node.Right, 1) // right operand parenthesized if lower/equal prec OR
		})
	case AndNode:
		wrap(b, 1, parentPrec, func() {
			printNode(b, node.Left, 1)
			b.WriteString(" AND ")
			printNode(b, node.Right, 2)
		})
	case NotNode:
		wrap(b, 2, parentPrec, func() {
			b.WriteString("NOT ")
			printNode(b, node.X, 2)
		})
	case *CondNode:
		printCond(b, node)
	}
}

func wrap(b *strings.Builder, prec, parentPrec int, body func()) {
	if prec < parentPrec {
		b.WriteString("(")
		body()
		b.WriteString(")")
		return
	}
	body()
}

// opSymbols maps the comparison ops to their DSL source spelling; every
// other op is written in source as its keyword, which Op.String returns.
var opSymbols = map[Op]string{
	OpEq: "==", OpNeq: "!=", OpGt: ">", OpLt: "<", OpGte: ">=", OpLte: "<=",
}

func printCond(b *strings.Builder, node *CondNode) {
	b.WriteString(printField(node.Field))
	b.WriteString(" ")
	if sym, ok := opSymbols[node.Op]; ok {
		b.WriteString(sym)
	} else {
		b.WriteString(node.Op.String())
	}
	b.WriteString(" ")
	b.WriteString(printValue(node.Value))
}

func printField(f Field) string {
	switch f.Kind {
	case FieldTagExists:
		return fmt.Sprintf("tag[%s]", f.Name)
	case FieldTagCount:
		return fmt.Sprintf("tag[%s].count", f.Name)
	case FieldTagValue:
		return fmt.Sprintf("tag[%s].value", f.Name)
	default:
		return f.Name
	}
}

func printValue(v Value) string {
	switch v.Kind {
	case ValNumber:
		return strconv.FormatInt(v.Number, 10)
	case ValString:
		return quoteString(v.Str)
	case ValBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValFieldRef:
		return printField(*v.Field)
	case ValList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = printValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// WireNode is the {type, left, right, x, field, op, value} tagged-record
// shape the validation endpoint serializes ASTs as. Only the fields
// relevant to Type are populated.
type WireNode struct {
	Type  string      `json:"type"`
	Left  *WireNode   `json:"left,omitempty"`
	Right *WireNode   `json:"right,omitempty"`
	X     *WireNode   `json:"x,omitempty"`
	Field *WireField  `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// WireField is the {type: Simple|Tag, name, subfield?} field encoding.
type WireField struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Subfield string `json:"subfield,omitempty"`
}

// ToWire converts a compiled AST into its JSON-serializable admin form.
func ToWire(n Node) *WireNode {
	switch node := n.(type) {
	case AndNode:
		return &WireNode{Type: "And", Left: ToWire(node.Left), Right: ToWire(node.Right)}
	case OrNode:
		return &WireNode{Type: "Or", Left: ToWire(node.Left), Right: ToWire(node.Right)}
	case NotNode:
		return &WireNode{Type: "Not", X: ToWire(node.X)}
	case *CondNode:
		return &WireNode{
			Type:  "Condition",
			Field: fieldToWire(node.Field),
			Op:    node.Op.String(),
			Value: valueToWire(node.Value),
		}
	default:
		return nil
	}
}

func fieldToWire(f Field) *WireField {
	switch f.Kind {
	case FieldTagExists:
		return &WireField{Type: "Tag", Name: f.Name}
	case FieldTagCount:
		return &WireField{Type: "Tag", Name: f.Name, Subfield: "count"}
	case FieldTagValue:
		return &WireField{Type: "Tag", Name: f.Name, Subfield: "value"}
	default:
		return &WireField{Type: "Simple", Name: f.Name}
	}
}

func valueToWire(v Value) interface{} {
	switch v.Kind {
	case ValNumber:
		return v.Number
	case ValString:
		return v.Str
	case ValBool:
		return v.Bool
	case ValFieldRef:
		return fieldToWire(*v.Field)
	case ValList:
		out := make([]interface{}, len(v.List))
		for i, item := range v.List {
			out[i] = valueToWire(item)
		}
		return out
	default:
		return nil
	}
}

// FieldsUsedNames renders a Rule's FieldsUsed as the flat string list the
// validation endpoint reports.
func FieldsUsedNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = printField(f)
	}
	return names
}
