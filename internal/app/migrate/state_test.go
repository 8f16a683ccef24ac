package migrate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

func testReport(id string, started time.Time, states ...migration.State) *migration.Report {
	r := &migration.Report{
		RunID:      id,
		Engine:     migration.EnginePostgres,
		Target:     "shared-db",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}
	for i, s := range states {
		r.Records = append(r.Records, migration.RecordSummary{
			Service: string(rune('a' + i)),
			Engine:  migration.EnginePostgres,
			State:   s,
		})
	}
	return r
}

func TestStateStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	store, err := NewStateStore(path)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	saved, err := store.Save(testReport("1111-aaaa", now, migration.StateVerified, migration.StateFailed))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ExitCode != migration.ExitFailures {
		t.Errorf("expected exit code 1, got %d", saved.ExitCode)
	}

	reloaded, err := NewStateStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, err := reloaded.Get("1111-aaaa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Counts[migration.StateVerified] != 1 || got.Counts[migration.StateFailed] != 1 {
		t.Errorf("unexpected counts: %v", got.Counts)
	}
	if len(got.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(got.Records))
	}
	if !got.StartedAt.Equal(now) {
		t.Errorf("expected start %v, got %v", now, got.StartedAt)
	}
	if got.Report().ExitCode() != migration.ExitFailures {
		t.Error("rebuilt report should keep its exit code")
	}
}

func TestStateStore_GetByPrefix(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "history.json"))
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	now := time.Now()
	for _, id := range []string{"abc123", "abd456"} {
		if _, err := store.Save(testReport(id, now)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if got, err := store.Get("abc"); err != nil || got.ID != "abc123" {
		t.Errorf("expected abc123, got %v, %v", got, err)
	}
	if _, err := store.Get("ab"); err == nil {
		t.Error("expected ambiguous prefix error")
	}
	if _, err := store.Get("zzz"); err == nil {
		t.Error("expected not found error")
	}
}

func TestStateStore_ListLatestPrune(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "history.json"))
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}

	if _, err := store.Latest(); err == nil {
		t.Error("expected error on empty history")
	}

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		if _, err := store.Save(testReport(id, base.Add(time.Duration(i)*time.Hour), migration.StateVerified)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list := store.List()
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Fatalf("expected newest first, got %v", list)
	}
	if list[0].Records != nil {
		t.Error("List should not carry records")
	}

	latest, err := store.Latest()
	if err != nil || latest.ID != "new" || len(latest.Records) != 1 {
		t.Errorf("unexpected latest: %+v, %v", latest, err)
	}

	removed, err := store.Prune(1)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, err := store.Get("old"); err == nil {
		t.Error("expected old run to be pruned")
	}

	if err := store.Delete("new"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := store.Delete("new"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestNewStateStore_RequiresPath(t *testing.T) {
	if _, err := NewStateStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}
