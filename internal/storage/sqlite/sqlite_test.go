package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip11"

	"github.com/nostrguard/proxy/internal/adminapi"
	"github.com/nostrguard/proxy/internal/logsink"
	"github.com/nostrguard/proxy/internal/rulestore"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRuleRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertRule(ctx, rulestore.Row{
		Name: "no ads", QueryText: `kind == 1`, Enabled: true, Order: 1, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := db.ListEnabledOrdered(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].QueryText != `kind == 1` {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	if err := db.DeleteRule(ctx, rows[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err = db.ListEnabledOrdered(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty after delete, got %+v", rows)
	}
}

func TestDisabledRuleExcludedFromEnabledOrdered(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.UpsertRule(ctx, rulestore.Row{Name: "off", QueryText: `kind == 1`, Enabled: false, UpdatedAt: time.Now()})
	rows, err := db.ListEnabledOrdered(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected disabled rule excluded, got %+v", rows)
	}

	all, err := db.ListRules(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected disabled rule still visible to admin listing: %v %+v", err, all)
	}
}

func TestIPGuardReloadReflectsBansAndWhitelist(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.UpsertIPAccess(ctx, adminapi.IPAccessEntry{IP: "10.0.0.1", Banned: true})
	db.UpsertIPAccess(ctx, adminapi.IPAccessEntry{IP: "10.0.0.2", Whitelisted: true})

	guard := NewIPGuard(db)
	if guard.IsBanned("10.0.0.1") {
		t.Fatalf("expected guard to require Reload before reflecting state")
	}
	if err := guard.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !guard.IsBanned("10.0.0.1") {
		t.Fatalf("expected 10.0.0.1 banned")
	}
	if !guard.IsWhitelisted("10.0.0.2") {
		t.Fatalf("expected 10.0.0.2 whitelisted")
	}
	if guard.IsBanned("10.0.0.2") || guard.IsWhitelisted("10.0.0.1") {
		t.Fatalf("guard mixed up rows")
	}
}

func TestSafelistGuardBannedTakesPrecedenceOverFlags(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	npub := "npub1xxxxx"
	db.UpsertSafelist(ctx, adminapi.SafelistEntry{Npub: npub, PostAllowed: true, FilterBypass: true})
	db.BanNpub(ctx, npub)

	guard := NewSafelistGuard(db)
	if err := guard.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !guard.IsBanned(npub) {
		t.Fatalf("expected banned")
	}

	if err := db.UnbanNpub(ctx, npub); err != nil {
		t.Fatalf("unban: %v", err)
	}
	guard.Reload(ctx)
	if guard.IsBanned(npub) {
		t.Fatalf("expected unbanned")
	}
	if !guard.PostAllowed(npub) || !guard.FilterBypass(npub) {
		t.Fatalf("expected flags preserved across unban")
	}
}

func TestKindGuardMatchesValueAndRange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	value := int64(1984)
	min, max := int64(20000), int64(29999)
	db.UpsertKindBlacklist(ctx, adminapi.KindBlacklistEntry{Kind: &value, AppliesTo: "publish", Enabled: true})
	db.UpsertKindBlacklist(ctx, adminapi.KindBlacklistEntry{RangeFrom: &min, RangeTo: &max, AppliesTo: "req", Enabled: true})

	publishGuard := NewKindGuard(db, "publish")
	if err := publishGuard.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, matched := publishGuard.Match(1984); !matched {
		t.Fatalf("expected publish guard to match kind 1984")
	}
	if _, matched := publishGuard.Match(20001); matched {
		t.Fatalf("expected publish guard not to see the req-scoped range entry")
	}

	reqGuard := NewKindGuard(db, "req")
	reqGuard.Reload(ctx)
	if _, matched := reqGuard.Match(20001); !matched {
		t.Fatalf("expected req guard to match kind in range")
	}
	if _, matched := reqGuard.Match(19999); matched {
		t.Fatalf("expected req guard not to match below range")
	}
}

func TestLogWriterPersistsRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.WriteConnection(ctx, logsink.ConnectionRecord{
		IP: "1.2.3.4", ConnectedAt: time.Now(), EventCount: 3, RejectedCount: 1,
	}); err != nil {
		t.Fatalf("write connection: %v", err)
	}
	if err := db.WriteRejection(ctx, logsink.RejectionRecord{
		EventID: "abc", PubKeyHex: "deadbeef", Npub: "npub1x", IP: "1.2.3.4", Kind: 1, Reason: "filter_rule", At: time.Now(),
	}); err != nil {
		t.Fatalf("write rejection: %v", err)
	}

	conns, err := db.ListConnectionLogs(ctx, 10)
	if err != nil || len(conns) != 1 || conns[0].EventCount != 3 {
		t.Fatalf("unexpected connection logs: %v %+v", err, conns)
	}

	rejections, err := db.ListRejectionLogs(ctx, 10)
	if err != nil || len(rejections) != 1 || rejections[0].Reason != "filter_rule" {
		t.Fatalf("unexpected rejection logs: %v %+v", err, rejections)
	}
}

func TestRelayInfoDefaultsThenRoundTrips(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	info, err := db.RelayInfo(ctx)
	if err != nil {
		t.Fatalf("default relay info: %v", err)
	}
	if info.Name == "" {
		t.Fatalf("expected a non-empty default name")
	}

	want := nip11.RelayInformationDocument{Name: "my proxy", Description: "d", SupportedNIPs: []any{1, 11, 42}, Software: "sw", Version: "1.0"}
	if err := db.UpsertRelayInfo(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := db.RelayInfo(ctx)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Name != want.Name || len(got.SupportedNIPs) != 3 || fmt.Sprint(got.SupportedNIPs[2]) != "42" {
		t.Fatalf("unexpected relay info after round trip: %+v", got)
	}
}

func TestUpstreamURLReadFromRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.UpstreamURL(ctx); err == nil {
		t.Fatalf("expected error before any upstream is configured")
	}
	if err := db.SetUpstreamURL(ctx, "wss://relay.example.com"); err != nil {
		t.Fatalf("set: %v", err)
	}
	url, err := db.UpstreamURL(ctx)
	if err != nil || url != "wss://relay.example.com" {
		t.Fatalf("unexpected upstream url: %q %v", url, err)
	}
}
