package object

import (
	"context"
	"os"
	"strings"
	"testing"
)

func writeTestCommit(t *testing.T, s *Store) (commit, file Hash) {
	t.Helper()
	ctx := context.Background()
	file, err := s.WriteFile(ctx, &FileHeader{Mode: ModeRegular | 0o644}, 2, strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	meta, err := s.WriteDirMeta(ctx, &DirMeta{Mode: ModeDir | 0o755})
	if err != nil {
		t.Fatalf("WriteDirMeta: %v", err)
	}
	tree, err := s.WriteDirTree(ctx, &DirTree{Files: []TreeFile{{Name: "hello", Checksum: file}}})
	if err != nil {
		t.Fatalf("WriteDirTree: %v", err)
	}
	commit, err = s.WriteCommit(ctx, &CommitObj{Subject: "first", Timestamp: 1, RootTree: tree, RootMetadata: meta})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	return commit, file
}

func TestReachableSetFollowsCommitClosure(t *testing.T) {
	s := tempStore(t)
	commit, file := writeTestCommit(t, s)

	set, err := s.ReachableSet([]Hash{commit})
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}
	if len(set) != 4 {
		t.Errorf("reachable objects = %d, want 4", len(set))
	}
	if _, ok := set[file]; !ok {
		t.Error("file object not reachable from commit")
	}
}

func TestVerifyDetectsMissingObject(t *testing.T) {
	s := tempStore(t)
	commit, file := writeTestCommit(t, s)

	report, err := s.Verify([]Hash{commit})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.LooseObjects != 4 || report.Reachable != 4 {
		t.Errorf("report = %+v", report)
	}

	if err := os.Remove(s.objectPath(file)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Verify([]Hash{commit}); err == nil {
		t.Fatal("Verify should report the missing file object")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	s := tempStore(t)
	_, file := writeTestCommit(t, s)
	if err := os.WriteFile(s.objectPath(file), []byte("file 1\x00x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Verify(nil); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Verify err = %v, want hash mismatch", err)
	}
}
