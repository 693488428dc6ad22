package dsl

import (
	"errors"
	"regexp"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// Compile parses source and precompiles every regex, set, and npub literal
// it contains, returning a Rule ready for repeated Evaluate calls. The
// returned Rule is immutable and safe to share across goroutines.
func Compile(source string) (*Rule, *ParseError) {
	root, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if err := compileNode(root); err != nil {
		return nil, err
	}

	fields := map[Field]struct{}{}
	collectFields(root, fields)
	used := make([]Field, 0, len(fields))
	for f := range fields {
		used = append(used, f)
	}

	return &Rule{Root: root, Source: source, FieldsUsed: used}, nil
}

func compileNode(n Node) *ParseError {
	switch node := n.(type) {
	case AndNode:
		if err := compileNode(node.Left); err != nil {
			return err
		}
		return compileNode(node.Right)
	case OrNode:
		if err := compileNode(node.Left); err != nil {
			return err
		}
		return compileNode(node.Right)
	case NotNode:
		return compileNode(node.X)
	case *CondNode:
		return compileValue(node.Field, node.Op, &node.Value, node.pos)
	default:
		return nil
	}
}

func compileValue(field Field, op Op, value *Value, pos int) *ParseError {
	if op == OpMatches && value.Kind == ValString {
		re, err := regexp.Compile(value.Str)
		if err != nil {
			return errInvalidRegex(err, pos)
		}
		value.compiledRegex = re
	}

	if (op == OpIn || op == OpNotIn) && value.Kind == ValList {
		if len(value.List) > 0 && value.List[0].Kind == ValNumber {
			set := make(map[int64]struct{}, len(value.List))
			for _, item := range value.List {
				set[item.Number] = struct{}{}
			}
			value.setNumbers = set
		} else {
			set := make(map[string]struct{}, len(value.List))
			for _, item := range value.List {
				set[item.Str] = struct{}{}
			}
			value.setStrings = set
		}
	}

	if field.Name == "npub" {
		if value.Kind == ValString {
			if err := validateNpub(value.Str); err != nil {
				return errInvalidNpub(value.Str, pos)
			}
		}
		if value.Kind == ValList {
			for _, item := range value.List {
				if err := validateNpub(item.Str); err != nil {
					return errInvalidNpub(item.Str, pos)
				}
			}
		}
	}

	return nil
}

func validateNpub(s string) error {
	prefix, _, err := nip19.Decode(s)
	if err != nil {
		return err
	}
	if prefix != "npub" {
		return errors.New("not an npub-prefixed bech32 string")
	}
	return nil
}

func collectFields(n Node, out map[Field]struct{}) {
	switch node := n.(type) {
	case AndNode:
		collectFields(node.Left, out)
		collectFields(node.Right, out)
	case OrNode:
		collectFields(node.Left, out)
		collectFields(node.Right, out)
	case NotNode:
		collectFields(node.X, out)
	case *CondNode:
		out[node.Field] = struct{}{}
		if node.Value.Kind == ValFieldRef {
			out[*node.Value.Field] = struct{}{}
		}
	}
}
