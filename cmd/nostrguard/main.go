// Command nostrguard runs the filtering proxy: one HTTP listener that
// upgrades WebSocket connections into proxied Nostr sessions, passes
// non-upgrade requests to the NIP-11 document or the admin API, and
// periodically reloads its policy state from SQLite.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/nostrguard/proxy/internal/adminapi"
	"github.com/nostrguard/proxy/internal/config"
	"github.com/nostrguard/proxy/internal/logsink"
	"github.com/nostrguard/proxy/internal/policy"
	"github.com/nostrguard/proxy/internal/refcache"
	"github.com/nostrguard/proxy/internal/rulestore"
	"github.com/nostrguard/proxy/internal/session"
	"github.com/nostrguard/proxy/internal/storage/sqlite"
)

const (
	listenAddr    = ":3334"
	reloadEvery   = 30 * time.Second
	shutdownGrace = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if seedPath := os.Getenv("SEED_FILE"); seedPath != "" {
		applySeedFile(ctx, db, seedPath)
		go config.WatchFile(ctx, seedPath, func() {
			slog.Info("seed file changed, reapplying", "path", seedPath)
			applySeedFile(ctx, db, seedPath)
		})
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPass), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash admin password", "error", err)
		os.Exit(1)
	}
	creds := adminapi.Credentials{Username: cfg.AdminUser, PasswordHash: passHash}

	ipGuard := sqlite.NewIPGuard(db)
	safelistGuard := sqlite.NewSafelistGuard(db)
	publishKinds := sqlite.NewKindGuard(db, "publish")
	reqKinds := sqlite.NewKindGuard(db, "req")
	rules := rulestore.New(db)
	cache := refcache.New()
	logs := logsink.New(db, 1024)
	defer logs.Close()

	reloadAll := func() {
		if err := ipGuard.Reload(ctx); err != nil {
			slog.Error("reload ip guard", "error", err)
		}
		if err := safelistGuard.Reload(ctx); err != nil {
			slog.Error("reload safelist guard", "error", err)
		}
		if err := publishKinds.Reload(ctx); err != nil {
			slog.Error("reload publish kind guard", "error", err)
		}
		if err := reqKinds.Reload(ctx); err != nil {
			slog.Error("reload req kind guard", "error", err)
		}
		if err := rules.Load(ctx); err != nil {
			slog.Error("reload rule store", "error", err)
		}
	}
	reloadAll()

	go func() {
		ticker := time.NewTicker(reloadEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reloadAll()
			}
		}
	}()

	pipeline := &policy.Pipeline{
		IPControl: ipGuard,
		NpubBans:  safelistGuard,
		Kinds:     publishKinds,
		Safelist:  safelistGuard,
		Rules:     rules,
		RefCache:  cache,
	}

	var activeSessions atomic.Int64
	store := &liveStore{DB: db, activeSessions: &activeSessions, cache: cache, logs: logs}
	adminRouter := adminapi.NewRouter(store, creds, reloadAll)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	var sessionsWG sync.WaitGroup
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !isWebSocketUpgrade(r) {
			adminRouter.ServeHTTP(w, r)
			return
		}

		upstreamURL, err := db.UpstreamURL(r.Context())
		if err != nil || upstreamURL == "" {
			slog.Error("no upstream relay configured", "error", err)
			http.Error(w, "upstream not configured", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		sess := session.New(session.Config{
			Pipeline:    pipeline,
			RefCache:    cache,
			Logs:        logs,
			ReqKinds:    reqKinds,
			UpstreamURL: upstreamURL,
		}, conn, remoteIP(r))

		activeSessions.Add(1)
		sessionsWG.Add(1)
		go func() {
			defer sessionsWG.Done()
			defer activeSessions.Add(-1)
			sess.Run(r.Context())
		}()
	})

	server := &http.Server{Addr: listenAddr, Handler: mux}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("nostrguard proxy listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		sessionsWG.Wait()
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// liveStore overlays the runtime-only stats fields (active sessions, ref
// cache size, dropped log count) onto the durable repository's Stats,
// since sqlite.DB has no visibility into any of the live process state.
type liveStore struct {
	*sqlite.DB
	activeSessions *atomic.Int64
	cache          *refcache.Cache
	logs           *logsink.Sink
}

func (s *liveStore) Stats(ctx context.Context) (adminapi.Stats, error) {
	stats, err := s.DB.Stats(ctx)
	if err != nil {
		return adminapi.Stats{}, err
	}
	stats.ActiveSessions = s.activeSessions.Load()
	stats.RefCacheSize = s.cache.Len()
	stats.LogQueueDropped = s.logs.Dropped()
	return stats, nil
}
