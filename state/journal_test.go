package state

import (
	"os"
	"path/filepath"
	"testing"
)

func tempJournalPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.journal")
}

func TestSetAndTryGet(t *testing.T) {
	j, err := Open(tempJournalPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Set("k1", map[string]int{"v": 1}, false); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	ok, err := j.TryGet("k1", &out)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || out["v"] != 1 {
		t.Fatalf("got %v, ok=%v", out, ok)
	}
}

func TestRemoveEvictsKey(t *testing.T) {
	j, err := Open(tempJournalPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	_ = j.Set("k1", 42, false)
	_ = j.Remove("k1", false)

	ok, err := j.TryGet("k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected k1 to be gone after Remove")
	}
}

func TestReplaySurvivesReopen(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Set("a", 1, false)
	_ = j.Set("b", 2, false)
	_ = j.Remove("a", false)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	if ok, _ := j2.TryGet("a", nil); ok {
		t.Fatalf("expected a to stay removed across reopen")
	}
	var b int
	ok, err := j2.TryGet("b", &b)
	if err != nil || !ok || b != 2 {
		t.Fatalf("expected b=2, got %d ok=%v err=%v", b, ok, err)
	}
}

func TestReplayStopsOnTruncatedTrailingRecord(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Set("whole", 7, false)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Append a truncated record: a valid opcode+key but no payload.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{opSet, 3, 'b', 'a', 'd'}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("truncated trailing record must not be fatal: %v", err)
	}
	defer j2.Close()

	var whole int
	ok, err := j2.TryGet("whole", &whole)
	if err != nil || !ok || whole != 7 {
		t.Fatalf("expected whole=7 to survive, got %d ok=%v err=%v", whole, ok, err)
	}
}

func TestReplayFailsOnUnknownOpcode(t *testing.T) {
	path := tempJournalPath(t)
	if err := os.WriteFile(path, []byte{0x7f, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil {
		t.Fatalf("expected corruption error for unknown opcode")
	}
	if _, ok := err.(*ErrCorrupt); !ok {
		t.Fatalf("expected *ErrCorrupt, got %T: %v", err, err)
	}
}

func TestCompactDropsRemovedKeysAndResetsOpcount(t *testing.T) {
	path := tempJournalPath(t)
	j, err := OpenWithThreshold(path, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	_ = j.Set("keep", 1, false)
	_ = j.Set("drop", 2, false)
	_ = j.Remove("drop", false)

	if err := j.Compact(); err != nil {
		t.Fatal(err)
	}
	if j.opcount != 0 {
		t.Fatalf("expected opcount reset to 0 after compact, got %d", j.opcount)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	if ok, _ := j2.TryGet("drop", nil); ok {
		t.Fatalf("expected drop to stay gone after compaction")
	}
	var keep int
	ok, err := j2.TryGet("keep", &keep)
	if err != nil || !ok || keep != 1 {
		t.Fatalf("expected keep=1 after compaction, got %d ok=%v err=%v", keep, ok, err)
	}
}

func TestAutoCompactionAtThreshold(t *testing.T) {
	path := tempJournalPath(t)
	j, err := OpenWithThreshold(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	for i := 0; i < 5; i++ {
		if err := j.Set("k", i, false); err != nil {
			t.Fatal(err)
		}
	}
	if j.opcount != 0 {
		t.Fatalf("expected auto-compaction to have reset opcount, got %d", j.opcount)
	}
}

func TestKeys(t *testing.T) {
	j, err := Open(tempJournalPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	_ = j.Set("a", 1, false)
	_ = j.Set("b", 2, false)
	keys := j.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}
