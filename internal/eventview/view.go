// Package eventview presents the common, read-only shape a Nostr event
// exposes to the filtering core: id, author key (hex and bech32), kind,
// timestamp, content, and a tag table keyed by single-letter tag name.
package eventview

import (
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// TagTable maps a single-character tag name to its ordered value vectors.
// Each vector is the tag array with the name itself stripped off, so
// tag[X].value is Vectors[X][0][0] and tag[X].count is len(Vectors[X]).
type TagTable map[string][][]string

// Exists reports whether the tag table has at least one entry under name.
func (t TagTable) Exists(name string) bool { return len(t[name]) > 0 }

// Count returns the number of value vectors under name.
func (t TagTable) Count(name string) int64 { return int64(len(t[name])) }

// Value returns the first element of the first vector under name, or ""
// if the tag is absent or its vector is empty.
func (t TagTable) Value(name string) string {
	vectors := t[name]
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return ""
	}
	return vectors[0][0]
}

// View is the read-only value model consumed by the DSL evaluator and the
// policy pipeline. It never mutates and is safe to share across goroutines.
type View struct {
	ID        string
	PubKeyHex string
	Npub      string
	Kind      int64
	CreatedAt int64
	Content   string
	Tags      TagTable
}

// ContentLength returns the number of Unicode scalar values in Content.
func (v View) ContentLength() int64 { return int64(utf8.RuneCountInString(v.Content)) }

// FirstETag returns the value of the first e-tag, i.e. the referenced
// event id used by the bot filter and by "referenced_created_at". It
// returns "" if there is no e tag.
func (v View) FirstETag() string { return v.Tags.Value("e") }

// FromEvent builds a View from a wire-format Nostr event. npub encoding
// failures (malformed pubkey hex) leave Npub empty; every other field the
// filtering core needs is always populated.
func FromEvent(e *nostr.Event) View {
	tags := make(TagTable, len(e.Tags))
	for _, tag := range e.Tags {
		if len(tag) == 0 {
			continue
		}
		name := tag[0]
		if len(name) != 1 {
			// only single-character tag names are addressable by the DSL;
			// longer tags (e.g. NIP-33 "d" is fine, "expiration" is not)
			// are simply not reachable through tag[X].
			continue
		}
		tags[name] = append(tags[name], tag[1:])
	}

	npub, _ := nip19.EncodePublicKey(e.PubKey)

	return View{
		ID:        e.ID,
		PubKeyHex: e.PubKey,
		Npub:      npub,
		Kind:      int64(e.Kind),
		CreatedAt: int64(e.CreatedAt),
		Content:   e.Content,
		Tags:      tags,
	}
}
