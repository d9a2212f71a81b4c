package store

import "testing"

type testRecord struct {
	A float64
	B string
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rec := testRecord{A: 10.5, B: "mkt1"}
	if err := s.Save("mapping_table", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var loaded testRecord
	ok, err := s.Load("mapping_table", &loaded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load returned ok=false for an existing key")
	}
	if loaded != rec {
		t.Errorf("loaded = %+v, want %+v", loaded, rec)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var out testRecord
	ok, err := s.Load("nonexistent", &out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing key, got true with %+v", out)
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.Save("risk_state", testRecord{A: 10})
	_ = s.Save("risk_state", testRecord{A: 20})

	var loaded testRecord
	if _, err := s.Load("risk_state", &loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.A != 20 {
		t.Errorf("A = %v, want 20 (latest save)", loaded.A)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.Save("tmp_key", testRecord{A: 1})
	if err := s.Delete("tmp_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var out testRecord
	ok, err := s.Load("tmp_key", &out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("expected key to be gone after Delete")
	}

	if err := s.Delete("tmp_key"); err != nil {
		t.Errorf("Delete on missing key should be a no-op, got: %v", err)
	}
}
