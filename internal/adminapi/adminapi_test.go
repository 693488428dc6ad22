package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip11"
	"golang.org/x/crypto/bcrypt"

	"github.com/nostrguard/proxy/internal/rulestore"
)

type fakeStore struct{ rules []rulestore.Row }

func (s *fakeStore) ListRules(ctx context.Context) ([]rulestore.Row, error) { return s.rules, nil }
func (s *fakeStore) UpsertRule(ctx context.Context, row rulestore.Row) error {
	s.rules = append(s.rules, row)
	return nil
}
func (s *fakeStore) DeleteRule(ctx context.Context, id string) error { return nil }

func (s *fakeStore) ListSafelist(ctx context.Context) ([]SafelistEntry, error) { return nil, nil }
func (s *fakeStore) UpsertSafelist(ctx context.Context, e SafelistEntry) error { return nil }
func (s *fakeStore) DeleteSafelist(ctx context.Context, npub string) error    { return nil }

func (s *fakeStore) ListIPAccess(ctx context.Context) ([]IPAccessEntry, error) { return nil, nil }
func (s *fakeStore) UpsertIPAccess(ctx context.Context, e IPAccessEntry) error { return nil }
func (s *fakeStore) DeleteIPAccess(ctx context.Context, ip string) error      { return nil }

func (s *fakeStore) ListNpubBans(ctx context.Context) ([]string, error) { return nil, nil }
func (s *fakeStore) BanNpub(ctx context.Context, npub string) error     { return nil }
func (s *fakeStore) UnbanNpub(ctx context.Context, npub string) error   { return nil }

func (s *fakeStore) ListKindBlacklist(ctx context.Context, appliesTo string) ([]KindBlacklistEntry, error) {
	return nil, nil
}
func (s *fakeStore) UpsertKindBlacklist(ctx context.Context, e KindBlacklistEntry) error { return nil }
func (s *fakeStore) DeleteKindBlacklist(ctx context.Context, id string) error            { return nil }

func (s *fakeStore) ListConnectionLogs(ctx context.Context, limit int) ([]ConnectionLogRow, error) {
	return nil, nil
}
func (s *fakeStore) ListRejectionLogs(ctx context.Context, limit int) ([]RejectionLogRow, error) {
	return nil, nil
}

func (s *fakeStore) Stats(ctx context.Context) (Stats, error) { return Stats{}, nil }
func (s *fakeStore) RelayInfo(ctx context.Context) (nip11.RelayInformationDocument, error) {
	return nip11.RelayInformationDocument{Name: "test"}, nil
}

func testCreds(t *testing.T) Credentials {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return Credentials{Username: "admin", PasswordHash: hash}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	router := NewRouter(&fakeStore{}, testCreds(t), func() {})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatedRequestSucceeds(t *testing.T) {
	router := NewRouter(&fakeStore{}, testCreds(t), func() {})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestValidateEndpointReportsCanonicalError(t *testing.T) {
	router := NewRouter(&fakeStore{}, testCreds(t), func() {})

	body, _ := json.Marshal(map[string]string{"query": "kind = 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/filters/validate", bytes.NewReader(body))
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp struct {
		Valid    bool   `json:"valid"`
		Error    string `json:"error"`
		Position int    `json:"position"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Valid {
		t.Fatalf("expected invalid query to be rejected")
	}
	if resp.Error != "Expected '==' but got '='" || resp.Position != 5 {
		t.Fatalf("unexpected error: %q at %d", resp.Error, resp.Position)
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	router := NewRouter(&fakeStore{}, testCreds(t), func() {})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
