package mtree

import (
	"context"
	"errors"
	"testing"

	"github.com/odvcencio/arbor/pkg/object"
)

type countingWriter struct {
	store  *object.Store
	writes int
}

func (w *countingWriter) WriteDirTree(ctx context.Context, t *object.DirTree) (object.Hash, error) {
	w.writes++
	return w.store.WriteDirTree(ctx, t)
}

func newWriter(t *testing.T) *countingWriter {
	t.Helper()
	return &countingWriter{store: object.NewStore(t.TempDir())}
}

func sum(s string) object.Hash { return object.HashBytes([]byte(s)) }

func TestFinalizeIndependentOfInsertionOrder(t *testing.T) {
	ctx := context.Background()
	meta := sum("meta")

	build := func(names []string) object.Hash {
		root := New()
		if err := root.SetMetadata(meta); err != nil {
			t.Fatal(err)
		}
		for _, n := range names {
			dir, err := root.EnsureDir("usr/bin")
			if err != nil {
				t.Fatalf("EnsureDir: %v", err)
			}
			for _, p := range []string{"usr", "usr/bin"} {
				d, _ := root.LookupDir(p)
				if err := d.SetMetadata(meta); err != nil {
					t.Fatal(err)
				}
			}
			if err := dir.AddFile(n, sum(n)); err != nil {
				t.Fatalf("AddFile(%s): %v", n, err)
			}
			if err := root.AddFile(n+".top", sum(n)); err != nil {
				t.Fatalf("AddFile(%s.top): %v", n, err)
			}
		}
		h, err := root.Finalize(ctx, newWriter(t))
		if err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		return h
	}

	a := build([]string{"a", "b", "c"})
	b := build([]string{"c", "a", "b"})
	if a != b {
		t.Fatalf("insertion order changed the root checksum: %s != %s", a, b)
	}
}

func TestFinalizePostOrderAndMemoized(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t)
	root := New()
	sub, err := root.EnsureDir("a/b")
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	for _, p := range []string{"", "a", "a/b"} {
		d, ok := root.LookupDir(p)
		if !ok {
			t.Fatalf("LookupDir(%q) missing", p)
		}
		if err := d.SetMetadata(sum("m")); err != nil {
			t.Fatal(err)
		}
	}
	if err := sub.AddFile("f", sum("f")); err != nil {
		t.Fatal(err)
	}

	h, err := root.Finalize(ctx, w)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if w.writes != 3 {
		t.Errorf("dirtree writes = %d, want 3", w.writes)
	}
	if sub.Contents() == "" {
		t.Error("child not finalized before parent")
	}

	again, err := root.Finalize(ctx, w)
	if err != nil || again != h {
		t.Fatalf("second Finalize = %s, %v; want %s", again, err, h)
	}
	if w.writes != 3 {
		t.Errorf("second Finalize wrote again: %d writes", w.writes)
	}

	dt, err := w.store.ReadDirTree(h)
	if err != nil {
		t.Fatalf("ReadDirTree: %v", err)
	}
	if len(dt.Dirs) != 1 || dt.Dirs[0].Name != "a" || dt.Dirs[0].MetaChecksum != sum("m") {
		t.Errorf("root dirtree = %+v", dt)
	}
}

func TestFrozenAfterFinalize(t *testing.T) {
	root := New()
	if _, err := root.Finalize(context.Background(), newWriter(t)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := root.AddFile("x", sum("x")); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddFile after finalize: %v", err)
	}
	if err := root.ReplaceFile("x", sum("x")); !errors.Is(err, ErrFrozen) {
		t.Errorf("ReplaceFile after finalize: %v", err)
	}
	if _, err := root.EnsureDir("d"); !errors.Is(err, ErrFrozen) {
		t.Errorf("EnsureDir after finalize: %v", err)
	}
	if err := root.SetMetadata(sum("m")); !errors.Is(err, ErrFrozen) {
		t.Errorf("SetMetadata after finalize: %v", err)
	}
}

func TestNameConflicts(t *testing.T) {
	root := New()
	if err := root.AddFile("f", sum("1")); err != nil {
		t.Fatal(err)
	}
	if err := root.AddFile("f", sum("2")); !errors.Is(err, ErrNameConflict) {
		t.Errorf("duplicate AddFile: %v", err)
	}
	if _, err := root.EnsureDir("f/sub"); !errors.Is(err, ErrNameConflict) {
		t.Errorf("EnsureDir through a file: %v", err)
	}
	if _, err := root.EnsureSubdir("d"); err != nil {
		t.Fatal(err)
	}
	if err := root.AddFile("d", sum("3")); !errors.Is(err, ErrNameConflict) {
		t.Errorf("AddFile over a dir: %v", err)
	}
	if err := root.ReplaceFile("d", sum("3")); !errors.Is(err, ErrNameConflict) {
		t.Errorf("ReplaceFile over a dir: %v", err)
	}

	if err := root.ReplaceFile("f", sum("2")); err != nil {
		t.Fatalf("ReplaceFile: %v", err)
	}
	if h, _, _ := root.Lookup("f"); h != sum("2") {
		t.Errorf("ReplaceFile did not overwrite: %s", h)
	}
}

func TestInvalidPaths(t *testing.T) {
	root := New()
	for _, p := range []string{"a//b", "/a", "a/", "a/../b", "."} {
		if _, err := root.EnsureDir(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("EnsureDir(%q) = %v, want ErrInvalidPath", p, err)
		}
	}
	if err := root.AddFile("a/b", sum("x")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("AddFile with slash: %v", err)
	}
	if !root.IsEmpty() {
		t.Error("failed operations left entries behind")
	}
}

func TestMetadataRules(t *testing.T) {
	d := New()
	if err := d.SetMetadata(sum("a")); err != nil {
		t.Fatal(err)
	}
	if err := d.SetMetadata(sum("a")); err != nil {
		t.Errorf("replaying equal metadata: %v", err)
	}
	if err := d.SetMetadata(sum("b")); !errors.Is(err, ErrMetadataConflict) {
		t.Errorf("conflicting metadata: %v", err)
	}
	if set, err := d.SetImplicitMetadata(sum("c")); err != nil || set {
		t.Errorf("SetImplicitMetadata over declared = %v, %v", set, err)
	}
	if err := d.OverrideMetadata(sum("b")); err != nil || d.Metadata() != sum("b") {
		t.Errorf("OverrideMetadata: %v, meta %s", err, d.Metadata())
	}

	fresh := New()
	if set, err := fresh.SetImplicitMetadata(sum("c")); err != nil || !set {
		t.Errorf("SetImplicitMetadata on unset = %v, %v", set, err)
	}
}

func TestFinalizeRequiresSubdirMetadata(t *testing.T) {
	root := New()
	if _, err := root.EnsureDir("nometa"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.Finalize(context.Background(), newWriter(t)); !errors.Is(err, ErrMissingMetadata) {
		t.Fatalf("Finalize = %v, want ErrMissingMetadata", err)
	}
}

func TestFinalizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Finalize(ctx, newWriter(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Finalize = %v, want context.Canceled", err)
	}
}
