package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the completion log indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_completion_log_achievement", "idx_completion_log_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestItemRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetItem("auth_token", "abc"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := s.SetItem("auth_token", "def"); err != nil {
		t.Fatalf("SetItem overwrite: %v", err)
	}

	got, err := s.GetItem("auth_token")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != "def" {
		t.Errorf("GetItem = %q, want %q", got, "def")
	}

	if err := s.RemoveItem("auth_token"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, err := s.GetItem("auth_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem after remove: err = %v, want ErrNotFound", err)
	}
	if err := s.RemoveItem("auth_token"); err != nil {
		t.Errorf("removing a missing key: %v", err)
	}
}

func TestItemsPersistAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetItem("selected_team", `{"id":"t1"}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	items, err := s2.Items()
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if items["selected_team"] != `{"id":"t1"}` {
		t.Errorf("Items = %v", items)
	}
}

func TestRecordAndGetCompletion(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := CompletionRecord{
		RequestID:     "req-1",
		AchievementID: "a1",
		TeamID:        "t1",
		Message:       "submitted for review",
		CreatedAt:     now,
	}
	if err := s.RecordCompletion(rec); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	got, err := s.GetCompletion("req-1")
	if err != nil {
		t.Fatalf("GetCompletion: %v", err)
	}
	if got.Status != CompletionPending {
		t.Errorf("Status = %q, want default %q", got.Status, CompletionPending)
	}
	if got.AchievementID != "a1" || got.TeamID != "t1" || got.Message != rec.Message {
		t.Errorf("record mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}

	if _, err := s.GetCompletion("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCompletion(missing) err = %v, want ErrNotFound", err)
	}
}

func TestUpdateCompletionStatus(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"req-1", "req-2"} {
		if err := s.RecordCompletion(CompletionRecord{RequestID: id, AchievementID: "a1", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("RecordCompletion: %v", err)
		}
	}
	if err := s.RecordCompletion(CompletionRecord{RequestID: "req-3", AchievementID: "a2", CreatedAt: base}); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	n, err := s.UpdateCompletionStatus("a1", CompletionApproved)
	if err != nil {
		t.Fatalf("UpdateCompletionStatus: %v", err)
	}
	if n != 2 {
		t.Errorf("updated %d rows, want 2", n)
	}

	// Already resolved records are left alone.
	n, err = s.UpdateCompletionStatus("a1", CompletionRejected)
	if err != nil {
		t.Fatalf("UpdateCompletionStatus: %v", err)
	}
	if n != 0 {
		t.Errorf("updated %d resolved rows, want 0", n)
	}

	got, err := s.GetCompletion("req-3")
	if err != nil {
		t.Fatalf("GetCompletion: %v", err)
	}
	if got.Status != CompletionPending {
		t.Errorf("unrelated record status = %q", got.Status)
	}
}

func TestRecentCompletions(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		rec := CompletionRecord{
			RequestID:     "req-" + string(rune('a'+i)),
			AchievementID: "a1",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordCompletion(rec); err != nil {
			t.Fatalf("RecordCompletion %d: %v", i, err)
		}
	}

	recent, err := s.RecentCompletions(3)
	if err != nil {
		t.Fatalf("RecentCompletions: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].RequestID != "req-e" || recent[2].RequestID != "req-c" {
		t.Errorf("order = %s, %s, %s; want newest first", recent[0].RequestID, recent[1].RequestID, recent[2].RequestID)
	}
}
