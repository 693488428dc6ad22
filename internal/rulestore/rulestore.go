// Package rulestore holds the compiled, hot-reloadable set of custom
// filter rules the policy pipeline consults. It publishes an immutable
// snapshot per reload generation so readers never take a lock per event.
package rulestore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nostrguard/proxy/internal/dsl"
)

// Row is a single stored rule as the external repository reports it.
type Row struct {
	ID        string
	Name      string
	QueryText string
	Enabled   bool
	Order     int
	UpdatedAt time.Time
}

// Repository is the read side of the external rule collaborator. Admin
// endpoints own the write side; the core only ever calls this.
type Repository interface {
	ListEnabledOrdered(ctx context.Context) ([]Row, error)
}

// CompiledRule pairs a rule's identity with its compiled evaluator.
type CompiledRule struct {
	ID   string
	Name string
	Rule *dsl.Rule
}

type cacheEntry struct {
	updatedAt time.Time
	compiled  *dsl.Rule
}

// Facade is the Rule Store Facade: load_active, invalidate, and validate.
// It's safe for concurrent use; Load may run concurrently with any number
// of Snapshot readers.
type Facade struct {
	repo Repository

	snapshot atomic.Pointer[[]CompiledRule]

	mu    sync.Mutex
	cache map[string]cacheEntry
	sf    singleflight.Group
}

// New builds a Facade with an empty snapshot; call Load before serving
// traffic, and periodically thereafter to pick up admin edits.
func New(repo Repository) *Facade {
	f := &Facade{repo: repo, cache: make(map[string]cacheEntry)}
	empty := []CompiledRule{}
	f.snapshot.Store(&empty)
	return f
}

// Snapshot returns the current ordered list of compiled rules. The
// returned slice is never mutated in place; callers may retain it for the
// lifetime of a single event's evaluation without locking.
func (f *Facade) Snapshot() []CompiledRule {
	return *f.snapshot.Load()
}

// Load fetches all enabled rows, compiles any whose cached compilation is
// stale or missing, and atomically publishes a new snapshot ordered by
// (order asc, id asc). A row that fails to compile is skipped with a
// warning; it never aborts the load.
func (f *Facade) Load(ctx context.Context) error {
	rows, err := f.repo.ListEnabledOrdered(ctx)
	if err != nil {
		return err
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Order != rows[j].Order {
			return rows[i].Order < rows[j].Order
		}
		return rows[i].ID < rows[j].ID
	})

	compiled := make([]CompiledRule, 0, len(rows))
	for _, row := range rows {
		rule, err := f.compileCached(row)
		if err != nil {
			slog.Warn("skipping rule that failed to compile",
				"rule_id", row.ID, "rule_name", row.Name, "error", err)
			continue
		}
		compiled = append(compiled, CompiledRule{ID: row.ID, Name: row.Name, Rule: rule})
	}

	f.snapshot.Store(&compiled)
	return nil
}

// compileCached returns row's compiled rule, reusing the cached
// compilation when updated_at matches, and collapsing concurrent
// compilations of the same row into a single call to dsl.Compile.
func (f *Facade) compileCached(row Row) (*dsl.Rule, error) {
	f.mu.Lock()
	if entry, ok := f.cache[row.ID]; ok && entry.updatedAt.Equal(row.UpdatedAt) {
		f.mu.Unlock()
		return entry.compiled, nil
	}
	f.mu.Unlock()

	v, err, _ := f.sf.Do(row.ID, func() (any, error) {
		f.mu.Lock()
		if entry, ok := f.cache[row.ID]; ok && entry.updatedAt.Equal(row.UpdatedAt) {
			f.mu.Unlock()
			return entry.compiled, nil
		}
		f.mu.Unlock()

		rule, perr := dsl.Compile(row.QueryText)
		if perr != nil {
			return nil, perr
		}

		f.mu.Lock()
		f.cache[row.ID] = cacheEntry{updatedAt: row.UpdatedAt, compiled: rule}
		f.mu.Unlock()
		return rule, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dsl.Rule), nil
}

// Invalidate drops the cached compilation for id; the next Load recompiles
// it from scratch even if the row's updated_at is unchanged.
func (f *Facade) Invalidate(id string) {
	f.mu.Lock()
	delete(f.cache, id)
	f.mu.Unlock()
}

// ValidationResult is what the admin validation endpoint returns.
type ValidationResult struct {
	Valid      bool
	AST        *dsl.WireNode
	FieldsUsed []string
	Error      string
	Position   int
}

// Validate compiles queryText without touching the cache or snapshot; it
// is pure and side-effect free, safe to call from any admin request.
func Validate(queryText string) ValidationResult {
	rule, err := dsl.Compile(queryText)
	if err != nil {
		return ValidationResult{Valid: false, Error: err.Message, Position: err.Position}
	}
	return ValidationResult{
		Valid:      true,
		AST:        dsl.ToWire(rule.Root),
		FieldsUsed: dsl.FieldsUsedNames(rule.FieldsUsed),
	}
}
