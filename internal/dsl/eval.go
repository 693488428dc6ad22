package dsl

import (
	"strings"

	"github.com/nostrguard/proxy/internal/eventview"
)

// RefLookup resolves the created_at of a referenced event for the
// referenced_created_at field, mirroring the reference cache's Lookup
// method. ok is false on a cache miss.
type RefLookup func(refID string) (createdAt int64, ok bool)

// Evaluate reports whether rule matches ev. A true result means reject, per
// the policy pipeline's convention. refID is the value of the event's
// first e-tag, used to resolve referenced_created_at through lookup.
func Evaluate(rule *Rule, ev eventview.View, refID string, lookup RefLookup) bool {
	return evalNode(rule.Root, ev, refID, lookup)
}

func evalNode(n Node, ev eventview.View, refID string, lookup RefLookup) bool {
	switch node := n.(type) {
	case AndNode:
		return evalNode(node.Left, ev, refID, lookup) && evalNode(node.Right, ev, refID, lookup)
	case OrNode:
		return evalNode(node.Left, ev, refID, lookup) || evalNode(node.Right, ev, refID, lookup)
	case NotNode:
		return !evalNode(node.X, ev, refID, lookup)
	case *CondNode:
		return evalCond(node, ev, refID, lookup)
	default:
		return false
	}
}

func evalCond(node *CondNode, ev eventview.View, refID string, lookup RefLookup) bool {
	if node.Field.Kind == FieldTagExists {
		exists := ev.Tags.Exists(node.Field.Name)
		want := node.Value.Bool
		return exists == want
	}

	switch node.Field.Kind {
	case FieldTagCount:
		return evalNumeric(ev.Tags.Count(node.Field.Name), node, ev, refID, lookup)
	case FieldTagValue:
		return evalString(ev.Tags.Value(node.Field.Name), node, ev, refID, lookup)
	}

	switch node.Field.Name {
	case "id":
		return evalString(ev.ID, node, ev, refID, lookup)
	case "pubkey":
		return evalString(ev.PubKeyHex, node, ev, refID, lookup)
	case "npub":
		return evalString(ev.Npub, node, ev, refID, lookup)
	case "content":
		return evalString(ev.Content, node, ev, refID, lookup)
	case "kind":
		return evalNumeric(ev.Kind, node, ev, refID, lookup)
	case "created_at":
		return evalNumeric(ev.CreatedAt, node, ev, refID, lookup)
	case "content_length":
		return evalNumeric(ev.ContentLength(), node, ev, refID, lookup)
	case "referenced_created_at":
		createdAt, ok := lookup(refID)
		if !ok {
			return false
		}
		return evalNumeric(createdAt, node, ev, refID, lookup)
	default:
		return false
	}
}

func resolveNumeric(v Value, ev eventview.View, refID string, lookup RefLookup) (int64, bool) {
	if v.Kind == ValFieldRef {
		return resolveFieldNumeric(*v.Field, ev, refID, lookup)
	}
	return v.Number, true
}

func resolveFieldNumeric(f Field, ev eventview.View, refID string, lookup RefLookup) (int64, bool) {
	switch f.Kind {
	case FieldTagCount:
		return ev.Tags.Count(f.Name), true
	}
	switch f.Name {
	case "kind":
		return ev.Kind, true
	case "created_at":
		return ev.CreatedAt, true
	case "content_length":
		return ev.ContentLength(), true
	case "referenced_created_at":
		return lookup(refID)
	default:
		return 0, false
	}
}

func resolveString(v Value, ev eventview.View, refID string, lookup RefLookup) (string, bool) {
	if v.Kind == ValFieldRef {
		return resolveFieldString(*v.Field, ev)
	}
	return v.Str, true
}

func resolveFieldString(f Field, ev eventview.View) (string, bool) {
	switch f.Kind {
	case FieldTagValue:
		return ev.Tags.Value(f.Name), true
	}
	switch f.Name {
	case "id":
		return ev.ID, true
	case "pubkey":
		return ev.PubKeyHex, true
	case "npub":
		return ev.Npub, true
	case "content":
		return ev.Content, true
	default:
		return "", false
	}
}

func evalNumeric(lhs int64, node *CondNode, ev eventview.View, refID string, lookup RefLookup) bool {
	if node.Op == OpIn || node.Op == OpNotIn {
		_, in := node.Value.setNumbers[lhs]
		if node.Op == OpIn {
			return in
		}
		return !in
	}

	rhs, ok := resolveNumeric(node.Value, ev, refID, lookup)
	if !ok {
		return false
	}

	switch node.Op {
	case OpEq:
		return lhs == rhs
	case OpNeq:
		return lhs != rhs
	case OpGt:
		return lhs > rhs
	case OpLt:
		return lhs < rhs
	case OpGte:
		return lhs >= rhs
	case OpLte:
		return lhs <= rhs
	default:
		return false
	}
}

func evalString(lhs string, node *CondNode, ev eventview.View, refID string, lookup RefLookup) bool {
	if node.Op == OpIn || node.Op == OpNotIn {
		_, in := node.Value.setStrings[lhs]
		if node.Op == OpIn {
			return in
		}
		return !in
	}

	if node.Op == OpMatches {
		if node.Value.compiledRegex == nil {
			return false
		}
		return node.Value.compiledRegex.MatchString(lhs)
	}

	rhs, ok := resolveString(node.Value, ev, refID, lookup)
	if !ok {
		return false
	}

	switch node.Op {
	case OpEq:
		return lhs == rhs
	case OpNeq:
		return lhs != rhs
	case OpContains:
		return strings.Contains(strings.ToLower(lhs), strings.ToLower(rhs))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(lhs), strings.ToLower(rhs))
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(lhs), strings.ToLower(rhs))
	default:
		return false
	}
}
