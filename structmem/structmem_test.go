package structmem

import "testing"

func TestUpsertVersionsAndReplacesMetadata(t *testing.T) {
	s := New()
	id1, err := s.Upsert("alice", "email", "a@example.com", map[string]string{"src": "form"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := s.Upsert("alice", "email", "alice@example.com", map[string]string{"src": "import"})
	if err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id across upserts, got %d then %d", id1, id2)
	}
	entries := s.QueryByEntityPrefix("alice", -1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Version != 2 {
		t.Fatalf("expected version 2, got %d", entries[0].Version)
	}
	if entries[0].Metadata["src"] != "import" {
		t.Fatalf("expected metadata replaced, got %v", entries[0].Metadata)
	}
}

func TestEmptyEntityOrAttributeRejected(t *testing.T) {
	s := New()
	if _, err := s.Upsert("", "attr", "v", nil); err == nil {
		t.Fatalf("expected error for empty entity")
	}
	if _, err := s.Upsert("entity", "", "v", nil); err == nil {
		t.Fatalf("expected error for empty attribute")
	}
}

func TestRemoveReportsPresence(t *testing.T) {
	s := New()
	s.Upsert("bob", "age", "30", nil)
	removed, err := s.Remove("bob", "age")
	if err != nil || !removed {
		t.Fatalf("expected removal of present key, got %v %v", removed, err)
	}
	removed, err = s.Remove("bob", "age")
	if err != nil || removed {
		t.Fatalf("expected no-op removal of absent key, got %v %v", removed, err)
	}
}

func TestQueryByEntityPrefixOrderingAndLimit(t *testing.T) {
	s := New()
	s.Upsert("team:b", "lead", "x", nil)
	s.Upsert("team:a", "size", "3", nil)
	s.Upsert("team:a", "lead", "y", nil)
	s.Upsert("other", "k", "v", nil)

	entries := s.QueryByEntityPrefix("team:", -1)
	if len(entries) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(entries))
	}
	if entries[0].Entity != "team:a" || entries[0].Attribute != "lead" {
		t.Fatalf("expected (team:a, lead) first, got %+v", entries[0])
	}
	if entries[1].Attribute != "size" {
		t.Fatalf("expected (team:a, size) second, got %+v", entries[1])
	}

	clamped := s.QueryByEntityPrefix("team:", 1)
	if len(clamped) != 1 {
		t.Fatalf("expected limit to clamp to 1, got %d", len(clamped))
	}
}

func TestStagingCoalescesLastWriteWins(t *testing.T) {
	s := New()
	s.StageUpsert("x", "y", "first", nil)
	s.StageUpsert("x", "y", "second", nil)
	if err := s.CommitStaged(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	entries := s.QueryByEntityPrefix("x", -1)
	if len(entries) != 1 || entries[0].Value != "second" {
		t.Fatalf("expected last write to win, got %+v", entries)
	}
}

func TestRollbackDiscardsStaged(t *testing.T) {
	s := New()
	s.Upsert("a", "b", "v", nil)
	s.StageRemove("a", "b")
	s.RollbackStaged()
	entries := s.QueryByEntityPrefix("a", -1)
	if len(entries) != 1 {
		t.Fatalf("expected rollback to discard staged remove, got %v", entries)
	}
}
