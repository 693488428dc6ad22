// Package policy implements the layered verdict pipeline every published
// event passes through before it is allowed upstream: IP control, npub
// ban, kind blacklist, safelist bypass and post_allowed, custom rules, and
// finally the built-in repost/reaction bot filter.
package policy

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/nostrguard/proxy/internal/dsl"
	"github.com/nostrguard/proxy/internal/eventview"
	"github.com/nostrguard/proxy/internal/refcache"
	"github.com/nostrguard/proxy/internal/rulestore"
)

// Reason names the layer that produced a rejection, matching the
// specification's Reject(reason[, detail]) vocabulary verbatim.
type Reason string

const (
	ReasonBannedIP      Reason = "banned_ip"
	ReasonBannedNpub    Reason = "banned_npub"
	ReasonKindBlacklist Reason = "kind_blacklist"
	ReasonNotInSafelist Reason = "not_in_safelist"
	ReasonFilterRule    Reason = "filter_rule"
	ReasonBotFilter     Reason = "bot_filter"
)

// Verdict is the pipeline's outcome for one event.
type Verdict struct {
	Accept bool
	Reason Reason
	Detail string // matching kind-blacklist entry id, or matched rule id
}

func accept() Verdict { return Verdict{Accept: true} }

func reject(reason Reason, detail string) Verdict {
	return Verdict{Accept: false, Reason: reason, Detail: detail}
}

// IPAccessControl reports how the policy pipeline should treat a remote
// address before looking at the event at all.
type IPAccessControl interface {
	IsBanned(ip string) bool
	IsWhitelisted(ip string) bool
}

// NpubBanList reports whether an author is banned outright.
type NpubBanList interface {
	IsBanned(npub string) bool
}

// KindBlacklist reports the first enabled entry matching kind, by single
// value or inclusive range.
type KindBlacklist interface {
	Match(kind int64) (entryID string, matched bool)
}

// Safelist reports the two independent flags a safelisted npub can carry.
type Safelist interface {
	FilterBypass(npub string) bool
	PostAllowed(npub string) bool
}

// RefCache resolves a referenced event's cached entry, used both by the
// bot filter and passed through to the DSL evaluator.
type RefCache interface {
	Lookup(eventID string) (refcache.Entry, bool)
}

// Pipeline wires the six collaborators together in the exact order the
// specification requires: it never reorders, skips, or parallelizes them.
type Pipeline struct {
	IPControl IPAccessControl
	NpubBans  NpubBanList
	Kinds     KindBlacklist
	Safelist  Safelist
	Rules     *rulestore.Facade
	RefCache  RefCache
}

// Evaluate runs ev through every layer in order, short-circuiting at the
// first rejection or bypass. refID is the value of ev's first e-tag, used
// by the bot filter and by any custom rule that reads
// referenced_created_at.
func (p *Pipeline) Evaluate(ctx context.Context, ev eventview.View, remoteIP, refID string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in policy pipeline",
				"panic", r, "event_id", ev.ID, "pubkey", ev.PubKeyHex, "stack", string(debug.Stack()))
			verdict = reject(ReasonBotFilter, "")
		}
	}()

	if p.IPControl != nil {
		if p.IPControl.IsBanned(remoteIP) {
			return p.logAndReject(ev, remoteIP, reject(ReasonBannedIP, ""))
		}
		if p.IPControl.IsWhitelisted(remoteIP) {
			return accept()
		}
	}

	if p.NpubBans != nil && p.NpubBans.IsBanned(ev.Npub) {
		return p.logAndReject(ev, remoteIP, reject(ReasonBannedNpub, ""))
	}

	if p.Kinds != nil {
		if entryID, matched := p.Kinds.Match(ev.Kind); matched {
			return p.logAndReject(ev, remoteIP, reject(ReasonKindBlacklist, entryID))
		}
	}

	if p.Safelist != nil {
		if p.Safelist.FilterBypass(ev.Npub) {
			return accept()
		}
		if !p.Safelist.PostAllowed(ev.Npub) {
			return p.logAndReject(ev, remoteIP, reject(ReasonNotInSafelist, ""))
		}
	}

	lookup := p.refLookup()
	for _, rule := range p.Rules.Snapshot() {
		if dsl.Evaluate(rule.Rule, ev, refID, lookup) {
			return p.logAndReject(ev, remoteIP, reject(ReasonFilterRule, rule.ID))
		}
	}

	if ev.Kind == 6 || ev.Kind == 7 {
		if refID != "" && p.RefCache != nil {
			if entry, ok := p.RefCache.Lookup(refID); ok && entry.CreatedAt == ev.CreatedAt {
				return p.logAndReject(ev, remoteIP, reject(ReasonBotFilter, ""))
			}
		}
	}

	return accept()
}

func (p *Pipeline) refLookup() dsl.RefLookup {
	return func(refID string) (int64, bool) {
		if p.RefCache == nil {
			return 0, false
		}
		entry, ok := p.RefCache.Lookup(refID)
		if !ok {
			return 0, false
		}
		return entry.CreatedAt, true
	}
}

func (p *Pipeline) logAndReject(ev eventview.View, remoteIP string, v Verdict) Verdict {
	slog.Warn("event rejected",
		"reason", string(v.Reason),
		"detail", v.Detail,
		"event_id", ev.ID,
		"pubkey", ev.PubKeyHex,
		"kind", ev.Kind,
		"remote_ip", remoteIP,
	)
	return v
}
