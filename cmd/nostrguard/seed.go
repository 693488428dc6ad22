package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nostrguard/proxy/internal/adminapi"
	"github.com/nostrguard/proxy/internal/config"
	"github.com/nostrguard/proxy/internal/rulestore"
	"github.com/nostrguard/proxy/internal/storage/sqlite"
)

// applySeedFile idempotently upserts everything listed in the seed file.
// It's meant to run on every startup and on every seed-file edit, so
// entries already present are simply overwritten with the seed's values
// rather than skipped; the upstream URL is the one exception, since an
// admin may have since pointed the proxy at a different relay.
func applySeedFile(ctx context.Context, db *sqlite.DB, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	seed, err := config.LoadSeed(path)
	if err != nil {
		slog.Error("failed to parse seed file", "path", path, "error", err)
		return
	}

	if seed.UpstreamURL != "" {
		if _, err := db.UpstreamURL(ctx); err != nil {
			if err := db.SetUpstreamURL(ctx, seed.UpstreamURL); err != nil {
				slog.Error("seed: set upstream url", "error", err)
			}
		}
	}

	for _, r := range seed.Rules {
		err := db.UpsertRule(ctx, rulestore.Row{
			Name: r.Name, QueryText: r.Query, Enabled: r.Enabled, Order: r.RuleOrder, UpdatedAt: nowUTC(),
		})
		if err != nil {
			slog.Error("seed: upsert rule", "name", r.Name, "error", err)
		}
	}

	for _, s := range seed.Safelist {
		err := db.UpsertSafelist(ctx, adminapi.SafelistEntry{
			Npub: s.Npub, PostAllowed: s.PostAllowed, FilterBypass: s.FilterBypass,
		})
		if err != nil {
			slog.Error("seed: upsert safelist entry", "npub", s.Npub, "error", err)
		}
	}

	for _, ip := range seed.IPBans {
		if err := db.UpsertIPAccess(ctx, adminapi.IPAccessEntry{IP: ip, Banned: true}); err != nil {
			slog.Error("seed: ban ip", "ip", ip, "error", err)
		}
	}
	for _, ip := range seed.IPWhitelist {
		if err := db.UpsertIPAccess(ctx, adminapi.IPAccessEntry{IP: ip, Whitelisted: true}); err != nil {
			slog.Error("seed: whitelist ip", "ip", ip, "error", err)
		}
	}
	for _, npub := range seed.NpubBans {
		if err := db.BanNpub(ctx, npub); err != nil {
			slog.Error("seed: ban npub", "npub", npub, "error", err)
		}
	}

	for _, k := range seed.KindBlacklist {
		entry := adminapi.KindBlacklistEntry{
			Kind: k.Kind, RangeFrom: k.RangeFrom, RangeTo: k.RangeTo, AppliesTo: k.AppliesTo, Enabled: true,
		}
		if entry.AppliesTo == "" {
			entry.AppliesTo = "publish"
		}
		if err := db.UpsertKindBlacklist(ctx, entry); err != nil {
			slog.Error("seed: upsert kind blacklist entry", "error", err)
		}
	}

	slog.Info("seed file applied", "path", path)
}

func nowUTC() time.Time { return time.Now().UTC() }
