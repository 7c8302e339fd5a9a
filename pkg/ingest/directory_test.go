package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
)

func TestStageDirectory(t *testing.T) {
	r := initRepo(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "hello"), "hi", 0o644)
	writeFile(t, filepath.Join(src, "sub", "tool"), "#!/bin/sh\n", 0o755)
	if err := os.Symlink("hello", filepath.Join(src, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	s := newStager(r, nil)
	if err := s.StageDirectory(context.Background(), src); err != nil {
		t.Fatalf("StageDirectory: %v", err)
	}
	tree := finalize(t, s)

	hdr, body := readFileObject(t, r, tree, "hello")
	if body != "hi" || hdr.Mode != object.ModeRegular|0o644 {
		t.Errorf("hello = %q mode %o", body, hdr.Mode)
	}
	hdr, _ = readFileObject(t, r, tree, "sub/tool")
	if hdr.Mode != object.ModeRegular|0o755 {
		t.Errorf("sub/tool mode = %o", hdr.Mode)
	}
	hdr, body = readFileObject(t, r, tree, "link")
	if !hdr.IsSymlink() || hdr.SymlinkTarget != "hello" || body != "" {
		t.Errorf("link = %+v body %q", hdr, body)
	}
	if m := readDirMeta(t, r, tree, "sub"); m.Mode&object.ModeTypeMask != object.ModeDir {
		t.Errorf("sub dirmeta mode = %o", m.Mode)
	}
	if s.Root.Metadata() == "" {
		t.Error("root metadata not set")
	}
	if st := s.Stats(); st.Files != 3 || st.Dirs != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStageDirectoryDeterministic(t *testing.T) {
	r := initRepo(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "b"), "2", 0o644)
	writeFile(t, filepath.Join(src, "a", "c"), "3", 0o600)

	var sums []object.Hash
	for i := 0; i < 2; i++ {
		s := newStager(r, nil)
		if err := s.StageDirectory(context.Background(), src); err != nil {
			t.Fatalf("StageDirectory: %v", err)
		}
		sums = append(sums, finalize(t, s), s.Root.Metadata())
	}
	if sums[0] != sums[2] || sums[1] != sums[3] {
		t.Fatalf("same directory staged twice gave %v", sums)
	}
}

func TestStageDirectorySkipsRepository(t *testing.T) {
	src := t.TempDir()
	r, err := repo.Init(filepath.Join(src, repo.DefaultDirName), "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeFile(t, filepath.Join(src, "file"), "x", 0o644)

	s := newStager(r, nil)
	if err := s.StageDirectory(context.Background(), src); err != nil {
		t.Fatalf("StageDirectory: %v", err)
	}
	if _, sub, ok := s.Root.Lookup(repo.DefaultDirName); ok || sub != nil {
		t.Fatal("repository directory was staged")
	}
	if _, _, ok := s.Root.Lookup("file"); !ok {
		t.Fatal("file missing")
	}
}

func TestStageDirectoryModifier(t *testing.T) {
	r := initRepo(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin", "sh"), "elf", 0o644)

	uid, gid := uint32(4242), uint32(4343)
	so := modifier.NewStatOverride()
	so.Set("/bin/sh", 0o111)
	so.Set("/bin", 0o1000)
	mod := modifier.New(modifier.Options{OwnerUID: &uid, OwnerGID: &gid}, so)

	s := newStager(r, mod)
	if err := s.StageDirectory(context.Background(), src); err != nil {
		t.Fatalf("StageDirectory: %v", err)
	}
	tree := finalize(t, s)

	hdr, _ := readFileObject(t, r, tree, "bin/sh")
	if hdr.Mode != object.ModeRegular|0o755 || hdr.UID != uid || hdr.GID != gid {
		t.Errorf("bin/sh header = %+v", hdr)
	}
	m := readDirMeta(t, r, tree, "bin")
	if m.Mode&object.ModeTypeMask != object.ModeDir || m.UID != uid || m.GID != gid {
		t.Errorf("bin dirmeta = %+v", m)
	}
	if m.Mode&0o1000 == 0 {
		t.Errorf("sticky bit not ORed into bin: %o", m.Mode)
	}
	if left := so.Leftover(); len(left) != 0 {
		t.Errorf("Leftover = %v", left)
	}
}

func TestStageDirectoryOverlay(t *testing.T) {
	r := initRepo(t)
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(a, "foo"), "from A", 0o644)
	writeFile(t, filepath.Join(a, "only-a"), "a", 0o644)
	writeFile(t, filepath.Join(b, "foo"), "from B", 0o644)

	s := newStager(r, nil)
	ctx := context.Background()
	if err := s.StageDirectory(ctx, a); err != nil {
		t.Fatalf("StageDirectory(A): %v", err)
	}
	if err := s.StageDirectory(ctx, b); err != nil {
		t.Fatalf("StageDirectory(B): %v", err)
	}
	tree := finalize(t, s)

	if _, body := readFileObject(t, r, tree, "foo"); body != "from B" {
		t.Errorf("foo = %q, want later source to win", body)
	}
	readFileObject(t, r, tree, "only-a")
}

func TestStageDirectoryCancelled(t *testing.T) {
	r := initRepo(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "f"), "x", 0o644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newStager(r, nil).StageDirectory(ctx, src); !errors.Is(err, context.Canceled) {
		t.Fatalf("StageDirectory = %v, want context.Canceled", err)
	}
}

func TestStageDirectoryDevinoCache(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("device/inode identity is only read on linux")
	}
	r := initRepo(t)
	ctx := context.Background()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "one"), "1", 0o644)
	writeFile(t, filepath.Join(src, "two"), "2", 0o644)

	stage := func() (object.Hash, Stats) {
		if err := r.PrepareTransaction(ctx, true); err != nil {
			t.Fatalf("PrepareTransaction: %v", err)
		}
		s := newStager(r, nil)
		if err := s.StageDirectory(ctx, src); err != nil {
			t.Fatalf("StageDirectory: %v", err)
		}
		tree := finalize(t, s)
		if _, err := r.CommitTransaction(ctx); err != nil {
			t.Fatalf("CommitTransaction: %v", err)
		}
		return tree, s.Stats()
	}

	first, st1 := stage()
	second, st2 := stage()
	if st1.DevinoHits != 0 {
		t.Errorf("first run hits = %d, want 0", st1.DevinoHits)
	}
	if st2.DevinoHits != 2 {
		t.Errorf("second run hits = %d, want 2", st2.DevinoHits)
	}
	if first != second {
		t.Errorf("cache hit changed the tree: %s != %s", first, second)
	}
}
