package sqlite

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// The policy pipeline's guard interfaces (IPAccessControl, NpubBanList,
// Safelist, KindBlacklist) take no context and return no error: they run
// on every published event and must never block on a query. Each guard
// here mirrors the Rule Store Facade's copy-on-write snapshot shape
// (atomic.Pointer swapped wholesale on Reload) instead of querying the
// database per lookup.

type ipSnapshot struct {
	banned      map[string]struct{}
	whitelisted map[string]struct{}
}

// IPGuard is the cached policy.IPAccessControl.
type IPGuard struct {
	db       *DB
	snapshot atomic.Pointer[ipSnapshot]
}

// NewIPGuard returns an empty guard; call Reload before serving traffic.
func NewIPGuard(db *DB) *IPGuard {
	g := &IPGuard{db: db}
	g.snapshot.Store(&ipSnapshot{banned: map[string]struct{}{}, whitelisted: map[string]struct{}{}})
	return g
}

func (g *IPGuard) IsBanned(ip string) bool {
	_, ok := g.snapshot.Load().banned[ip]
	return ok
}

func (g *IPGuard) IsWhitelisted(ip string) bool {
	_, ok := g.snapshot.Load().whitelisted[ip]
	return ok
}

// Reload re-reads the ip_access_control table and swaps the snapshot.
func (g *IPGuard) Reload(ctx context.Context) error {
	rows, err := g.db.sql.QueryContext(ctx, `SELECT ip_address, banned, whitelisted FROM ip_access_control`)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := &ipSnapshot{banned: map[string]struct{}{}, whitelisted: map[string]struct{}{}}
	for rows.Next() {
		var ip string
		var banned, whitelisted int64
		if err := rows.Scan(&ip, &banned, &whitelisted); err != nil {
			return err
		}
		if banned != 0 {
			next.banned[ip] = struct{}{}
		}
		if whitelisted != 0 {
			next.whitelisted[ip] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	g.snapshot.Store(next)
	return nil
}

type safelistSnapshot struct {
	banned       map[string]struct{}
	postAllowed  map[string]struct{}
	filterBypass map[string]struct{}
}

// SafelistGuard is the cached policy.NpubBanList and policy.Safelist,
// both backed by the same safelist table: a banned row short-circuits
// the pipeline before the safelist flags are ever consulted.
type SafelistGuard struct {
	db       *DB
	snapshot atomic.Pointer[safelistSnapshot]
}

func NewSafelistGuard(db *DB) *SafelistGuard {
	g := &SafelistGuard{db: db}
	g.snapshot.Store(&safelistSnapshot{
		banned:       map[string]struct{}{},
		postAllowed:  map[string]struct{}{},
		filterBypass: map[string]struct{}{},
	})
	return g
}

func (g *SafelistGuard) IsBanned(npub string) bool {
	_, ok := g.snapshot.Load().banned[npub]
	return ok
}

func (g *SafelistGuard) PostAllowed(npub string) bool {
	_, ok := g.snapshot.Load().postAllowed[npub]
	return ok
}

func (g *SafelistGuard) FilterBypass(npub string) bool {
	_, ok := g.snapshot.Load().filterBypass[npub]
	return ok
}

func (g *SafelistGuard) Reload(ctx context.Context) error {
	rows, err := g.db.sql.QueryContext(ctx, `SELECT npub, post_allowed, filter_bypass, banned FROM safelist`)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := &safelistSnapshot{
		banned:       map[string]struct{}{},
		postAllowed:  map[string]struct{}{},
		filterBypass: map[string]struct{}{},
	}
	for rows.Next() {
		var npub string
		var postAllowed, filterBypass, banned int64
		if err := rows.Scan(&npub, &postAllowed, &filterBypass, &banned); err != nil {
			return err
		}
		if banned != 0 {
			next.banned[npub] = struct{}{}
		}
		if postAllowed != 0 {
			next.postAllowed[npub] = struct{}{}
		}
		if filterBypass != 0 {
			next.filterBypass[npub] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	g.snapshot.Store(next)
	return nil
}

type kindEntry struct {
	id       string
	value    *int64
	min, max *int64
}

// KindGuard is the cached policy.KindBlacklist / session.ReqKindBlacklist,
// scoped to one appliesTo value ("publish" or "req") so the same table
// backs both the publish-path and the REQ-path blacklists.
type KindGuard struct {
	db        *DB
	appliesTo string
	snapshot  atomic.Pointer[[]kindEntry]
}

func NewKindGuard(db *DB, appliesTo string) *KindGuard {
	g := &KindGuard{db: db, appliesTo: appliesTo}
	empty := []kindEntry{}
	g.snapshot.Store(&empty)
	return g
}

// Match reports the first enabled entry that blocks kind, whether by an
// exact single-value match or by falling inside an inclusive range.
func (g *KindGuard) Match(kind int64) (entryID string, matched bool) {
	for _, e := range *g.snapshot.Load() {
		if e.value != nil && *e.value == kind {
			return e.id, true
		}
		if e.min != nil && e.max != nil && kind >= *e.min && kind <= *e.max {
			return e.id, true
		}
	}
	return "", false
}

func (g *KindGuard) Reload(ctx context.Context) error {
	rows, err := g.db.sql.QueryContext(ctx,
		`SELECT id, kind_value, kind_min, kind_max FROM req_kind_blacklist
		 WHERE enabled = 1 AND applies_to = ?`, g.appliesTo)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := []kindEntry{}
	for rows.Next() {
		var e kindEntry
		var value, min, max sql.NullInt64
		if err := rows.Scan(&e.id, &value, &min, &max); err != nil {
			return err
		}
		if value.Valid {
			v := value.Int64
			e.value = &v
		}
		if min.Valid && max.Valid {
			lo, hi := min.Int64, max.Int64
			e.min, e.max = &lo, &hi
		}
		next = append(next, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	g.snapshot.Store(&next)
	return nil
}
