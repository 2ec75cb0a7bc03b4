package chromem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/memory/embedder/mock"
	"github.com/yujiosaka/ChatIQ/memory/store/chromem"
)

func newTestStore(t *testing.T) *chromem.Store {
	t.Helper()
	store, err := chromem.New("", mock.New(), nil)
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}
	return store
}

func ingest(t *testing.T, store *chromem.Store, scope, origin, text string) string {
	t.Helper()
	id, err := store.Ingest(context.Background(), scope, memory.Record{
		Scope:  scope,
		Kind:   memory.KindMessage,
		Text:   text,
		Origin: origin,
	})
	if err != nil {
		t.Fatalf("Ingest(%q, %q): %v", scope, origin, err)
	}
	return id
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ingest(t, store, "C1", "m1", "the database migration plan")
	ingest(t, store, "C2", "m2", "the database migration plan")

	records, degraded, err := store.Query(ctx, "database migration", "C1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if degraded {
		t.Fatal("query should not be degraded")
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Scope != "C1" {
		t.Errorf("record scope = %q, want C1", records[0].Scope)
	}
	if records[0].Origin != "m1" {
		t.Errorf("record origin = %q, want m1", records[0].Origin)
	}
}

func TestIngestIdempotence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := ingest(t, store, "C1", "m1", "hello world")
	second := ingest(t, store, "C1", "m1", "hello world")
	if first != second {
		t.Errorf("re-ingesting the same origin returned a new id: %q vs %q", first, second)
	}

	records, _, err := store.Query(ctx, "hello world", "C1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after double ingest, want 1", len(records))
	}
}

func TestQueryEmptyScope(t *testing.T) {
	store := newTestStore(t)

	records, degraded, err := store.Query(context.Background(), "anything", "never-written", 5)
	if err != nil {
		t.Fatalf("Query on empty scope should not error: %v", err)
	}
	if degraded {
		t.Error("empty scope is not a degraded result")
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestDeleteScope(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ingest(t, store, "C1", "m1", "remember this")
	ingest(t, store, "C1", "m2", "and this")

	if err := store.DeleteScope(ctx, "C1"); err != nil {
		t.Fatalf("DeleteScope: %v", err)
	}

	records, _, err := store.Query(ctx, "remember", "C1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records after DeleteScope, want 0", len(records))
	}

	// Deleting again is a no-op.
	if err := store.DeleteScope(ctx, "C1"); err != nil {
		t.Errorf("second DeleteScope should be idempotent: %v", err)
	}
}

func TestDeleteOrigin(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ingest(t, store, "C1", "m1", "keep me around")
	ingest(t, store, "C1", "m2", "delete me soon")

	if err := store.DeleteOrigin(ctx, "m2"); err != nil {
		t.Fatalf("DeleteOrigin: %v", err)
	}

	records, _, err := store.Query(ctx, "keep delete", "C1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Origin != "m1" {
		t.Errorf("surviving origin = %q, want m1", records[0].Origin)
	}

	if err := store.DeleteOrigin(ctx, "m2"); err != nil {
		t.Errorf("second DeleteOrigin should be idempotent: %v", err)
	}
}

func TestScopeViolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Ingest(ctx, "C1", memory.Record{Scope: "C2", Text: "mismatched"})
	if !errors.Is(err, core.ErrScopeViolation) {
		t.Errorf("mismatched scope error = %v, want ErrScopeViolation", err)
	}

	_, _, err = store.Query(ctx, "anything", "", 5)
	if !errors.Is(err, core.ErrScopeViolation) {
		t.Errorf("empty-scope query error = %v, want ErrScopeViolation", err)
	}
}

func TestTopResultRelevance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ingest(t, store, "C1", "m1", "The deploy runbook is at runbooks/deploy.md")
	ingest(t, store, "C1", "m2", "Lunch is at noon on Fridays")
	ingest(t, store, "C1", "m3", "The office plants need watering")

	records, _, err := store.Query(ctx, "where is the deploy runbook", "C1", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected results")
	}
	if records[0].Origin != "m1" {
		t.Errorf("top result origin = %q (%q), want m1", records[0].Origin, records[0].Text)
	}
}

func TestSimilarityTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older := time.Now().Add(-time.Hour).UTC()
	newer := time.Now().UTC()

	// Identical text embeds identically, forcing a similarity tie.
	if _, err := store.Ingest(ctx, "C1", memory.Record{
		Scope: "C1", Kind: memory.KindMessage, Text: "quarterly revenue report", Origin: "old", CreatedAt: older,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := store.Ingest(ctx, "C1", memory.Record{
		Scope: "C1", Kind: memory.KindMessage, Text: "quarterly revenue report", Origin: "new", CreatedAt: newer,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	records, _, err := store.Query(ctx, "quarterly revenue report", "C1", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Origin != "new" {
		t.Errorf("tie should break to the more recent record, got origin %q", records[0].Origin)
	}
}

func TestQueryDegradesOnEmbedderFailure(t *testing.T) {
	store, err := chromem.New("", failingEmbedder{}, nil)
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}

	records, degraded, err := store.Query(context.Background(), "anything", "C1", 5)
	if err != nil {
		t.Fatalf("degraded query must not propagate the error: %v", err)
	}
	if !degraded {
		t.Error("expected degraded signal")
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestIngestFailsUnavailableOnEmbedderFailure(t *testing.T) {
	store, err := chromem.New("", failingEmbedder{}, nil)
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}

	_, err = store.Ingest(context.Background(), "C1", memory.Record{Scope: "C1", Text: "x", Origin: "m1"})
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("ingest error = %v, want ErrStoreUnavailable", err)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) Dimensions() int { return 384 }
