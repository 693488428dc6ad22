package rulestore

import (
	"context"
	"testing"
	"time"
)

type fakeRepo struct{ rows []Row }

func (f *fakeRepo) ListEnabledOrdered(ctx context.Context) ([]Row, error) {
	return f.rows, nil
}

func TestLoadOrdersAndCompiles(t *testing.T) {
	repo := &fakeRepo{rows: []Row{
		{ID: "b", QueryText: "kind == 2", Order: 1, UpdatedAt: time.Unix(1, 0)},
		{ID: "a", QueryText: "kind == 1", Order: 0, UpdatedAt: time.Unix(1, 0)},
	}}
	f := New(repo)

	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := f.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 compiled rules, got %d", len(snap))
	}
	if snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("expected order [a, b], got [%s, %s]", snap[0].ID, snap[1].ID)
	}
}

func TestLoadSkipsUncompilableRules(t *testing.T) {
	repo := &fakeRepo{rows: []Row{
		{ID: "good", QueryText: "kind == 1", UpdatedAt: time.Unix(1, 0)},
		{ID: "bad", QueryText: "kind = 1", UpdatedAt: time.Unix(1, 0)},
	}}
	f := New(repo)

	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := f.Snapshot()
	if len(snap) != 1 || snap[0].ID != "good" {
		t.Fatalf("expected only the good rule to survive, got %+v", snap)
	}
}

func TestInvalidateForcesRecompile(t *testing.T) {
	repo := &fakeRepo{rows: []Row{
		{ID: "a", QueryText: "kind == 1", UpdatedAt: time.Unix(1, 0)},
	}}
	f := New(repo)
	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	repo.rows[0].QueryText = "kind == 2"
	// same UpdatedAt: without invalidation the stale cached compilation
	// would be reused.
	f.Invalidate("a")

	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(snap))
	}
	if snap[0].Rule.Source != "kind == 2" {
		t.Fatalf("expected recompiled source, got %q", snap[0].Rule.Source)
	}
}

func TestValidatePureNoSideEffects(t *testing.T) {
	res := Validate("kind == 1")
	if !res.Valid {
		t.Fatalf("expected valid, got error %q", res.Error)
	}
	if len(res.FieldsUsed) != 1 || res.FieldsUsed[0] != "kind" {
		t.Fatalf("unexpected fields_used: %v", res.FieldsUsed)
	}

	bad := Validate("kind = 1")
	if bad.Valid {
		t.Fatalf("expected invalid")
	}
	if bad.Error != "Expected '==' but got '='" || bad.Position != 5 {
		t.Fatalf("unexpected error: %q at %d", bad.Error, bad.Position)
	}
}
