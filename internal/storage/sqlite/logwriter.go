package sqlite

import (
	"context"
	"time"

	"github.com/nostrguard/proxy/internal/logsink"
)

// WriteRejection implements logsink.Writer, called from the sink's own
// background goroutine, never from a session's hot path.
func (db *DB) WriteRejection(ctx context.Context, r logsink.RejectionRecord) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO event_rejection_logs (event_id, pubkey_hex, npub, ip_address, kind, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.EventID, r.PubKeyHex, r.Npub, r.IP, r.Kind, r.Reason,
		r.At.UTC().Format(time.RFC3339))
	return err
}

// WriteConnection implements logsink.Writer.
func (db *DB) WriteConnection(ctx context.Context, r logsink.ConnectionRecord) error {
	var disconnectedAt any
	if !r.DisconnectedAt.IsZero() {
		disconnectedAt = r.DisconnectedAt.UTC().Format(time.RFC3339)
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO connection_logs (ip_address, connected_at, disconnected_at, event_count, rejected_event_count)
		 VALUES (?, ?, ?, ?, ?)`,
		r.IP, r.ConnectedAt.UTC().Format(time.RFC3339), disconnectedAt, r.EventCount, r.RejectedCount)
	return err
}
