package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr/nip11"

	"github.com/nostrguard/proxy/internal/adminapi"
)

// ListSafelist returns every safelist row for the admin view.
func (db *DB) ListSafelist(ctx context.Context) ([]adminapi.SafelistEntry, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT npub, post_allowed, filter_bypass FROM safelist ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adminapi.SafelistEntry
	for rows.Next() {
		var e adminapi.SafelistEntry
		var postAllowed, filterBypass int64
		if err := rows.Scan(&e.Npub, &postAllowed, &filterBypass); err != nil {
			return nil, err
		}
		e.PostAllowed = postAllowed != 0
		e.FilterBypass = filterBypass != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) UpsertSafelist(ctx context.Context, e adminapi.SafelistEntry) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO safelist (npub, post_allowed, filter_bypass) VALUES (?, ?, ?)
		 ON CONFLICT(npub) DO UPDATE SET post_allowed = excluded.post_allowed, filter_bypass = excluded.filter_bypass`,
		e.Npub, boolToInt(e.PostAllowed), boolToInt(e.FilterBypass))
	return err
}

func (db *DB) DeleteSafelist(ctx context.Context, npub string) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM safelist WHERE npub = ?`, npub)
	return err
}

// ListNpubBans returns every npub currently banned via the safelist's
// banned column.
func (db *DB) ListNpubBans(ctx context.Context) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT npub FROM safelist WHERE banned = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var npub string
		if err := rows.Scan(&npub); err != nil {
			return nil, err
		}
		out = append(out, npub)
	}
	return out, rows.Err()
}

func (db *DB) BanNpub(ctx context.Context, npub string) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO safelist (npub, banned, post_allowed, filter_bypass) VALUES (?, 1, 0, 0)
		 ON CONFLICT(npub) DO UPDATE SET banned = 1`, npub)
	return err
}

func (db *DB) UnbanNpub(ctx context.Context, npub string) error {
	_, err := db.sql.ExecContext(ctx, `UPDATE safelist SET banned = 0 WHERE npub = ?`, npub)
	return err
}

func (db *DB) ListIPAccess(ctx context.Context) ([]adminapi.IPAccessEntry, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT ip_address, banned, whitelisted, memo FROM ip_access_control ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adminapi.IPAccessEntry
	for rows.Next() {
		var e adminapi.IPAccessEntry
		var banned, whitelisted int64
		if err := rows.Scan(&e.IP, &banned, &whitelisted, &e.Memo); err != nil {
			return nil, err
		}
		e.Banned = banned != 0
		e.Whitelisted = whitelisted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) UpsertIPAccess(ctx context.Context, e adminapi.IPAccessEntry) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO ip_access_control (ip_address, banned, whitelisted, memo, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(ip_address) DO UPDATE SET
		   banned = excluded.banned, whitelisted = excluded.whitelisted,
		   memo = excluded.memo, updated_at = excluded.updated_at`,
		e.IP, boolToInt(e.Banned), boolToInt(e.Whitelisted), e.Memo, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (db *DB) DeleteIPAccess(ctx context.Context, ip string) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM ip_access_control WHERE ip_address = ?`, ip)
	return err
}

func (db *DB) ListKindBlacklist(ctx context.Context, appliesTo string) ([]adminapi.KindBlacklistEntry, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, kind_value, kind_min, kind_max, applies_to, enabled
		 FROM req_kind_blacklist WHERE applies_to = ? ORDER BY created_at DESC`, appliesTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adminapi.KindBlacklistEntry
	for rows.Next() {
		var e adminapi.KindBlacklistEntry
		var value, min, max sql.NullInt64
		var enabled int64
		if err := rows.Scan(&e.ID, &value, &min, &max, &e.AppliesTo, &enabled); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Int64
			e.Kind = &v
		}
		if min.Valid {
			v := min.Int64
			e.RangeFrom = &v
		}
		if max.Valid {
			v := max.Int64
			e.RangeTo = &v
		}
		e.Enabled = enabled != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) UpsertKindBlacklist(ctx context.Context, e adminapi.KindBlacklistEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO req_kind_blacklist (id, kind_value, kind_min, kind_max, applies_to, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind_value = excluded.kind_value, kind_min = excluded.kind_min, kind_max = excluded.kind_max,
		   applies_to = excluded.applies_to, enabled = excluded.enabled`,
		e.ID, e.Kind, e.RangeFrom, e.RangeTo, e.AppliesTo, boolToInt(e.Enabled))
	return err
}

func (db *DB) DeleteKindBlacklist(ctx context.Context, id string) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM req_kind_blacklist WHERE id = ?`, id)
	return err
}

func (db *DB) ListConnectionLogs(ctx context.Context, limit int) ([]adminapi.ConnectionLogRow, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT ip_address, connected_at, disconnected_at, event_count, rejected_event_count
		 FROM connection_logs ORDER BY connected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adminapi.ConnectionLogRow
	for rows.Next() {
		var r adminapi.ConnectionLogRow
		var connectedAt string
		var disconnectedAt sql.NullString
		if err := rows.Scan(&r.IP, &connectedAt, &disconnectedAt, &r.EventCount, &r.RejectedCount); err != nil {
			return nil, err
		}
		r.ConnectedAt, _ = time.Parse(time.RFC3339, connectedAt)
		r.DisconnectedAt = nullTime(disconnectedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) ListRejectionLogs(ctx context.Context, limit int) ([]adminapi.RejectionLogRow, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT event_id, pubkey_hex, npub, ip_address, kind, reason, created_at
		 FROM event_rejection_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adminapi.RejectionLogRow
	for rows.Next() {
		var r adminapi.RejectionLogRow
		var at string
		if err := rows.Scan(&r.EventID, &r.PubKeyHex, &r.Npub, &r.IP, &r.Kind, &r.Reason, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates the durable counters this repository can answer for
// on its own; the runtime-only fields (active sessions, ref cache size,
// dropped-log count) are filled in by the process that also holds the
// live logsink.Sink and refcache.Cache, not by this repository.
func (db *DB) Stats(ctx context.Context) (adminapi.Stats, error) {
	var stats adminapi.Stats
	row := db.sql.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(event_count), 0), COALESCE(SUM(rejected_event_count), 0) FROM connection_logs`)
	if err := row.Scan(&stats.EventsForwarded, &stats.EventsRejected); err != nil {
		return adminapi.Stats{}, err
	}
	return stats, nil
}

// RelayInfo reads the singleton relay_info row and decodes its
// JSON-encoded supported_nips column into a NIP-11 document. If no row
// has been written yet, it returns a default document describing this
// proxy rather than an error.
func (db *DB) RelayInfo(ctx context.Context) (nip11.RelayInformationDocument, error) {
	var name, description, nipsJSON, software, version string
	err := db.sql.QueryRowContext(ctx,
		`SELECT name, description, supported_nips, software, version FROM relay_info WHERE id = 1`).
		Scan(&name, &description, &nipsJSON, &software, &version)
	if err == sql.ErrNoRows {
		return nip11.RelayInformationDocument{
			Name:          "nostrguard proxy",
			Description:   "filtering proxy relay",
			SupportedNIPs: []any{1, 11},
			Software:      "https://github.com/nostrguard/proxy",
			Version:       "0.1.0",
		}, nil
	}
	if err != nil {
		return nip11.RelayInformationDocument{}, err
	}

	var nips []any
	_ = json.Unmarshal([]byte(nipsJSON), &nips)

	return nip11.RelayInformationDocument{
		Name:          name,
		Description:   description,
		SupportedNIPs: nips,
		Software:      software,
		Version:       version,
	}, nil
}

// UpsertRelayInfo overwrites the singleton relay_info row. It is not part
// of adminapi.Store (the admin surface only reads the row back), and
// cmd/nostrguard does not call it.
func (db *DB) UpsertRelayInfo(ctx context.Context, info nip11.RelayInformationDocument) error {
	nipsJSON, err := json.Marshal(info.SupportedNIPs)
	if err != nil {
		return err
	}
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO relay_info (id, name, description, supported_nips, software, version, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, description = excluded.description, supported_nips = excluded.supported_nips,
		   software = excluded.software, version = excluded.version, updated_at = excluded.updated_at`,
		info.Name, info.Description, string(nipsJSON), info.Software, info.Version,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// UpstreamURL reads the proxy's upstream relay URL, per spec: read from
// the repository, never from the environment.
func (db *DB) UpstreamURL(ctx context.Context) (string, error) {
	var url string
	err := db.sql.QueryRowContext(ctx, `SELECT url FROM relay_config WHERE id = 1`).Scan(&url)
	return url, err
}

// SetUpstreamURL is the admin-side write path for the single configured
// upstream relay.
func (db *DB) SetUpstreamURL(ctx context.Context, url string) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO relay_config (id, url, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at`,
		url, time.Now().UTC().Format(time.RFC3339))
	return err
}
