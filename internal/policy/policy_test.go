package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrguard/proxy/internal/eventview"
	"github.com/nostrguard/proxy/internal/refcache"
	"github.com/nostrguard/proxy/internal/rulestore"
)

type fakeIPControl struct {
	banned      map[string]bool
	whitelisted map[string]bool
}

func (f *fakeIPControl) IsBanned(ip string) bool      { return f.banned[ip] }
func (f *fakeIPControl) IsWhitelisted(ip string) bool { return f.whitelisted[ip] }

type fakeNpubBans struct{ banned map[string]bool }

func (f *fakeNpubBans) IsBanned(npub string) bool { return f.banned[npub] }

type fakeKindBlacklist struct{ blocked map[int64]string }

func (f *fakeKindBlacklist) Match(kind int64) (string, bool) {
	id, ok := f.blocked[kind]
	return id, ok
}

type fakeSafelist struct {
	bypass  map[string]bool
	allowed map[string]bool
}

func (f *fakeSafelist) FilterBypass(npub string) bool { return f.bypass[npub] }
func (f *fakeSafelist) PostAllowed(npub string) bool  { return f.allowed[npub] }

type emptyRepo struct{}

func (emptyRepo) ListEnabledOrdered(ctx context.Context) ([]rulestore.Row, error) {
	return nil, nil
}

func basePipeline(t *testing.T) *Pipeline {
	t.Helper()
	rules := rulestore.New(emptyRepo{})
	require.NoError(t, rules.Load(context.Background()))
	return &Pipeline{
		IPControl: &fakeIPControl{banned: map[string]bool{}, whitelisted: map[string]bool{}},
		NpubBans:  &fakeNpubBans{banned: map[string]bool{}},
		Kinds:     &fakeKindBlacklist{blocked: map[int64]string{}},
		Safelist:  &fakeSafelist{bypass: map[string]bool{}, allowed: map[string]bool{"npub1author": true}},
		Rules:     rules,
		RefCache:  refcache.New(),
	}
}

func TestBannedIPRejectsRegardlessOfContent(t *testing.T) {
	p := basePipeline(t)
	p.IPControl.(*fakeIPControl).banned["1.2.3.4"] = true

	v := p.Evaluate(context.Background(), eventview.View{Npub: "npub1author", Kind: 1}, "1.2.3.4", "")
	require.False(t, v.Accept)
	require.Equal(t, ReasonBannedIP, v.Reason)
}

func TestWhitelistBypassesEverything(t *testing.T) {
	p := basePipeline(t)
	p.IPControl.(*fakeIPControl).whitelisted["9.9.9.9"] = true
	p.NpubBans.(*fakeNpubBans).banned["npub1author"] = true // would reject if reached

	v := p.Evaluate(context.Background(), eventview.View{Npub: "npub1author", Kind: 1}, "9.9.9.9", "")
	require.True(t, v.Accept)
}

func TestNotInSafelistRejectsUnknownAuthor(t *testing.T) {
	p := basePipeline(t)

	v := p.Evaluate(context.Background(), eventview.View{Npub: "npub1stranger", Kind: 1}, "1.1.1.1", "")
	require.False(t, v.Accept)
	require.Equal(t, ReasonNotInSafelist, v.Reason)
}

type staticRepo struct{ rows []rulestore.Row }

func (r staticRepo) ListEnabledOrdered(ctx context.Context) ([]rulestore.Row, error) {
	return r.rows, nil
}

func TestFilterBypassSkipsCustomRules(t *testing.T) {
	p := basePipeline(t)
	p.Safelist.(*fakeSafelist).bypass["npub1vip"] = true
	// a rule that would reject this kind-6 event if it were consulted
	rules := rulestore.New(staticRepo{rows: []rulestore.Row{{ID: "r1", QueryText: "kind == 6", Enabled: true}}})
	require.NoError(t, rules.Load(context.Background()))
	require.Len(t, rules.Snapshot(), 1)
	p.Rules = rules

	v := p.Evaluate(context.Background(), eventview.View{Npub: "npub1vip", Kind: 6}, "1.1.1.1", "")
	require.True(t, v.Accept)
}

func TestAcceptWhenNoLayerRejects(t *testing.T) {
	p := basePipeline(t)

	v := p.Evaluate(context.Background(), eventview.View{Npub: "npub1author", Kind: 1}, "1.1.1.1", "")
	require.True(t, v.Accept)
}

func TestBotFilterRejectsMatchingRepost(t *testing.T) {
	p := basePipeline(t)
	p.RefCache.(*refcache.Cache).Insert("origid", 1, 1000)

	v := p.Evaluate(context.Background(), eventview.View{
		Npub: "npub1author", Kind: 6, CreatedAt: 1000,
	}, "1.1.1.1", "origid")

	require.False(t, v.Accept)
	require.Equal(t, ReasonBotFilter, v.Reason)
}

func TestBotFilterAcceptsOnCacheMiss(t *testing.T) {
	p := basePipeline(t)

	v := p.Evaluate(context.Background(), eventview.View{
		Npub: "npub1author", Kind: 6, CreatedAt: 1000,
	}, "1.1.1.1", "unseen-id")

	require.True(t, v.Accept)
}

func TestPipelineIsPureAcrossRepeatedInvocations(t *testing.T) {
	p := basePipeline(t)
	ev := eventview.View{Npub: "npub1author", Kind: 1}

	first := p.Evaluate(context.Background(), ev, "1.1.1.1", "")
	second := p.Evaluate(context.Background(), ev, "1.1.1.1", "")

	require.Equal(t, first, second)
}
