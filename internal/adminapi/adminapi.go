// Package adminapi is the HTTP surface administrators use to manage
// safelist entries, filter rules, IP and kind blacklists, and to review
// connection and rejection logs. Every route under /api requires HTTP
// Basic Auth against the single configured admin credential.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nbd-wtf/go-nostr/nip11"
	"golang.org/x/crypto/bcrypt"

	"github.com/nostrguard/proxy/internal/rulestore"
)

// SafelistEntry is one npub granted either or both of two independent
// permissions: filter_bypass (skip custom rules and the bot filter) and
// post_allowed (permitted to publish at all when not otherwise banned).
type SafelistEntry struct {
	Npub         string `json:"npub"`
	FilterBypass bool   `json:"filter_bypass"`
	PostAllowed  bool   `json:"post_allowed"`
}

// IPAccessEntry bans or whitelists a single IP address. Banned and
// Whitelisted are independent: the pipeline checks the ban first and
// rejects outright, then checks the whitelist and bypasses everything
// else, matching spec step 1's order.
type IPAccessEntry struct {
	IP          string `json:"ip"`
	Banned      bool   `json:"banned"`
	Whitelisted bool   `json:"whitelisted"`
	Memo        string `json:"memo"`
}

// KindBlacklistEntry blocks a single kind value or an inclusive range;
// exactly one of Kind or [RangeFrom, RangeTo] is set.
type KindBlacklistEntry struct {
	ID        string `json:"id"`
	Kind      *int64 `json:"kind,omitempty"`
	RangeFrom *int64 `json:"range_from,omitempty"`
	RangeTo   *int64 `json:"range_to,omitempty"`
	AppliesTo string `json:"applies_to"` // "publish" or "req"
	Enabled   bool   `json:"enabled"`
}

// Store is the full admin-facing persistence contract: everything the
// core reads through narrower interfaces, plus the write paths only the
// admin API uses.
type Store interface {
	ListRules(ctx context.Context) ([]rulestore.Row, error)
	UpsertRule(ctx context.Context, row rulestore.Row) error
	DeleteRule(ctx context.Context, id string) error

	ListSafelist(ctx context.Context) ([]SafelistEntry, error)
	UpsertSafelist(ctx context.Context, entry SafelistEntry) error
	DeleteSafelist(ctx context.Context, npub string) error

	ListIPAccess(ctx context.Context) ([]IPAccessEntry, error)
	UpsertIPAccess(ctx context.Context, entry IPAccessEntry) error
	DeleteIPAccess(ctx context.Context, ip string) error

	ListNpubBans(ctx context.Context) ([]string, error)
	BanNpub(ctx context.Context, npub string) error
	UnbanNpub(ctx context.Context, npub string) error

	ListKindBlacklist(ctx context.Context, appliesTo string) ([]KindBlacklistEntry, error)
	UpsertKindBlacklist(ctx context.Context, entry KindBlacklistEntry) error
	DeleteKindBlacklist(ctx context.Context, id string) error

	ListConnectionLogs(ctx context.Context, limit int) ([]ConnectionLogRow, error)
	ListRejectionLogs(ctx context.Context, limit int) ([]RejectionLogRow, error)

	Stats(ctx context.Context) (Stats, error)
	RelayInfo(ctx context.Context) (nip11.RelayInformationDocument, error)
}

// ConnectionLogRow is one persisted connection-log record for the admin
// log view.
type ConnectionLogRow struct {
	IP             string    `json:"ip"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at"`
	EventCount     int64     `json:"event_count"`
	RejectedCount  int64     `json:"rejected_count"`
}

// RejectionLogRow is one persisted rejection-log record.
type RejectionLogRow struct {
	EventID   string    `json:"event_id"`
	PubKeyHex string    `json:"pubkey_hex"`
	Npub      string    `json:"npub"`
	IP        string    `json:"ip"`
	Kind      int64     `json:"kind"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Stats summarizes recent proxy activity for the admin dashboard.
type Stats struct {
	ActiveSessions  int64 `json:"active_sessions"`
	EventsForwarded int64 `json:"events_forwarded"`
	EventsRejected  int64 `json:"events_rejected"`
	LogQueueDropped int64 `json:"log_queue_dropped"`
	RefCacheSize    int   `json:"ref_cache_size"`
}

// Credentials is the single configured admin login.
type Credentials struct {
	Username     string
	PasswordHash []byte // bcrypt
}

// NewRouter builds the full admin HTTP surface. store is the sole
// persistence collaborator; reload is called after any write that should
// take effect on the next Facade.Load (safelist, bans, blacklists, rules).
func NewRouter(store Store, creds Credentials, reload func()) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		info, err := store.RelayInfo(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		w.Header().Set("Content-Type", "application/nostr+json")
		writeJSON(w, 200, info)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(basicAuth(creds))

		r.Post("/filters/validate", handleValidate)

		r.Route("/filters", func(r chi.Router) {
			r.Get("/", listHandler(store.ListRules))
			r.Post("/", upsertRuleHandler(store, reload))
			r.Delete("/{id}", deleteHandler(func(ctx context.Context, id string) error {
				return store.DeleteRule(ctx, id)
			}, reload))
		})

		r.Route("/safelist", func(r chi.Router) {
			r.Get("/", listHandler(store.ListSafelist))
			r.Post("/", upsertSafelistHandler(store, reload))
			r.Delete("/{npub}", deleteHandler(func(ctx context.Context, npub string) error {
				return store.DeleteSafelist(ctx, npub)
			}, reload))
		})

		r.Route("/ip-access-control", func(r chi.Router) {
			r.Get("/", listHandler(store.ListIPAccess))
			r.Post("/", upsertIPAccessHandler(store, reload))
			r.Delete("/{ip}", deleteHandler(func(ctx context.Context, ip string) error {
				return store.DeleteIPAccess(ctx, ip)
			}, reload))
		})

		r.Route("/npub-bans", func(r chi.Router) {
			r.Get("/", listHandler(store.ListNpubBans))
			r.Post("/{npub}", banNpubHandler(store, reload))
			r.Delete("/{npub}", unbanNpubHandler(store, reload))
		})

		r.Route("/req-kind-blacklist", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				entries, err := store.ListKindBlacklist(r.Context(), "req")
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, entries)
			})
			r.Post("/", upsertKindBlacklistHandler(store, reload))
			r.Delete("/{id}", deleteHandler(func(ctx context.Context, id string) error {
				return store.DeleteKindBlacklist(ctx, id)
			}, reload))
		})

		r.Get("/connection-logs", func(w http.ResponseWriter, r *http.Request) {
			logs, err := store.ListConnectionLogs(r.Context(), queryLimit(r, 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, logs)
		})

		r.Get("/event-rejection-logs", func(w http.ResponseWriter, r *http.Request) {
			logs, err := store.ListRejectionLogs(r.Context(), queryLimit(r, 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, logs)
		})

		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			stats, err := store.Stats(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, stats)
		})

		r.Get("/relay-info", func(w http.ResponseWriter, r *http.Request) {
			info, err := store.RelayInfo(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, info)
		})
	})

	return r
}

func basicAuth(creds Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != creds.Username || bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}

	result := rulestore.Validate(req.Query)
	if !result.Valid {
		writeJSON(w, 200, map[string]any{
			"valid":    false,
			"error":    result.Error,
			"position": result.Position,
		})
		return
	}
	writeJSON(w, 200, map[string]any{
		"valid":       true,
		"ast":         result.AST,
		"fields_used": result.FieldsUsed,
	})
}
