package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nostrguard/proxy/internal/rulestore"
)

var errUnauthorized = errors.New("invalid admin credentials")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func listHandler[T any](list func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, items)
	}
}

func deleteHandler(del func(ctx context.Context, key string) error, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := lastPathParam(r)
		if err := del(r.Context(), key); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	}
}

func lastPathParam(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if n := len(rctx.URLParams.Keys); n > 0 {
		return rctx.URLParams.Values[n-1]
	}
	return ""
}

func upsertRuleHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var row rulestore.Row
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, 400, err)
			return
		}
		if result := rulestore.Validate(row.QueryText); !result.Valid {
			writeJSON(w, 400, map[string]any{"error": result.Error, "position": result.Position})
			return
		}
		row.UpdatedAt = time.Now()
		if err := store.UpsertRule(r.Context(), row); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, row)
	}
}

func upsertSafelistHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry SafelistEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, 400, err)
			return
		}
		if err := store.UpsertSafelist(r.Context(), entry); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, entry)
	}
}

func upsertIPAccessHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry IPAccessEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, 400, err)
			return
		}
		if err := store.UpsertIPAccess(r.Context(), entry); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, entry)
	}
}

func upsertKindBlacklistHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry KindBlacklistEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, 400, err)
			return
		}
		if entry.Kind == nil && (entry.RangeFrom == nil || entry.RangeTo == nil) {
			writeError(w, 400, errors.New("kind blacklist entry needs either kind or range_from/range_to"))
			return
		}
		if err := store.UpsertKindBlacklist(r.Context(), entry); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, entry)
	}
}

func banNpubHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		npub := lastPathParam(r)
		if err := store.BanNpub(r.Context(), npub); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, map[string]string{"status": "banned"})
	}
}

func unbanNpubHandler(store Store, reload func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		npub := lastPathParam(r)
		if err := store.UnbanNpub(r.Context(), npub); err != nil {
			writeError(w, 500, err)
			return
		}
		reload()
		writeJSON(w, 200, map[string]string{"status": "unbanned"})
	}
}
