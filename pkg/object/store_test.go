package object

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashBytesDeterminism(t *testing.T) {
	data := []byte("hello world")
	h1 := HashBytes(data)
	h2 := HashBytes(data)
	if h1 != h2 {
		t.Errorf("HashBytes not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("Hash length: got %d, want 64", len(h1))
	}
}

func TestHashObjectEnvelope(t *testing.T) {
	data := []byte("hello")
	h1 := HashObject(TypeFile, data)
	h2 := HashBytes(data)
	if h1 == h2 {
		t.Error("HashObject should differ from HashBytes due to envelope")
	}

	// Different type => different hash
	h3 := HashObject(TypeDirMeta, data)
	if h1 == h3 {
		t.Error("Different types should produce different hashes")
	}
}

func TestIsValidHash(t *testing.T) {
	if !IsValidHash(string(HashBytes([]byte("x")))) {
		t.Error("IsValidHash rejected a real hash")
	}
	for _, s := range []string{"", "main", strings.Repeat("A", 64), strings.Repeat("a", 63)} {
		if IsValidHash(s) {
			t.Errorf("IsValidHash(%q) = true, want false", s)
		}
	}
}

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestStoreWriteRead(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	data := []byte("hello world")
	h, err := s.Write(ctx, TypeFile, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h != HashObject(TypeFile, data) {
		t.Errorf("Write hash = %s, want %s", h, HashObject(TypeFile, data))
	}

	gotType, gotData, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotType != TypeFile {
		t.Errorf("Type: got %q, want %q", gotType, TypeFile)
	}
	if !bytes.Equal(gotData, data) {
		t.Errorf("Data: got %q, want %q", gotData, data)
	}
}

func TestStoreFanoutLayout(t *testing.T) {
	s := tempStore(t)
	h, err := s.Write(context.Background(), TypeFile, []byte("fanout test"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	objPath := filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		t.Errorf("Expected fan-out file at %s", objPath)
	}
}

func TestStoreObjectFormat(t *testing.T) {
	s := tempStore(t)
	h, err := s.Write(context.Background(), TypeFile, []byte("format check"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.root, "objects", string(h[:2]), string(h[2:])))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	expected := "file 12\x00format check"
	if string(raw) != expected {
		t.Errorf("On-disk format: got %q, want %q", raw, expected)
	}
}

func TestStoreCompressedRoundTrip(t *testing.T) {
	s := tempStore(t)
	s.SetCompression(true, 3)
	data := bytes.Repeat([]byte("compress me "), 200)

	h, err := s.Write(context.Background(), TypeFile, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h != HashObject(TypeFile, data) {
		t.Fatalf("compressed object hash should cover the uncompressed envelope")
	}

	raw, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		t.Fatalf("expected zstd frame on disk, got prefix %x", raw[:4])
	}
	if len(raw) >= len(data) {
		t.Errorf("compressed size %d not smaller than payload %d", len(raw), len(data))
	}

	// A plain store reads compressed objects too.
	plain := NewStore(s.root)
	_, got, err := plain.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("compressed round-trip mismatch")
	}
}

func TestStoreWriteStreamShortPayload(t *testing.T) {
	s := tempStore(t)
	_, err := s.WriteStream(context.Background(), TypeFile, 10, strings.NewReader("short"))
	if err == nil {
		t.Fatal("expected short payload error")
	}
	entries, _ := os.ReadDir(filepath.Join(s.root, "tmp"))
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}
}

func TestStoreWriteCancelled(t *testing.T) {
	s := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Write(ctx, TypeFile, []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Write err = %v, want context.Canceled", err)
	}
}

func TestStoreReadMissing(t *testing.T) {
	s := tempStore(t)
	_, _, err := s.Read(Hash(strings.Repeat("0", 64)))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read of missing object: err = %v, want os.ErrNotExist", err)
	}
}

func TestStoreWriteReadFile(t *testing.T) {
	s := tempStore(t)
	hdr := &FileHeader{
		UID:  1000,
		GID:  1000,
		Mode: ModeRegular | 0o644,
		Xattrs: []Xattr{
			{Name: "user.b", Value: []byte("2")},
			{Name: "user.a", Value: []byte("1")},
		},
	}
	content := []byte("hi")
	h, err := s.WriteFile(context.Background(), hdr, int64(len(content)), bytes.NewReader(content))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	objType, payload, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if objType != TypeFile || HashObject(objType, payload) != h {
		t.Errorf("WriteFile = %s, stored %s object hashes differently", h, objType)
	}

	got, size, rc, err := s.OpenFile(h)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if size != 2 || string(body) != "hi" {
		t.Errorf("content = %q (size %d), want %q", body, size, "hi")
	}
	if got.UID != 1000 || got.GID != 1000 || got.Mode != ModeRegular|0o644 {
		t.Errorf("header = %+v", got)
	}
	if len(got.Xattrs) != 2 || got.Xattrs[0].Name != "user.a" {
		t.Errorf("xattrs not stored in name order: %+v", got.Xattrs)
	}
}

func TestStoreFileChecksumDependsOnMetadata(t *testing.T) {
	s := tempStore(t)
	content := []byte("same bytes")
	write := func(hdr *FileHeader) Hash {
		t.Helper()
		h, err := s.WriteFile(context.Background(), hdr, int64(len(content)), bytes.NewReader(content))
		if err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		return h
	}
	a := write(&FileHeader{Mode: ModeRegular | 0o644})
	b := write(&FileHeader{Mode: ModeRegular | 0o755})
	c := write(&FileHeader{Mode: ModeRegular | 0o644, UID: 1})
	if a == b || a == c {
		t.Error("file checksum must change with mode and ownership")
	}
	if again := write(&FileHeader{Mode: ModeRegular | 0o644}); again != a {
		t.Errorf("rewrite = %s, want %s", again, a)
	}
}

func TestStoreReadTypeMismatch(t *testing.T) {
	s := tempStore(t)
	h, err := s.WriteDirMeta(context.Background(), &DirMeta{Mode: ModeDir | 0o755})
	if err != nil {
		t.Fatalf("WriteDirMeta: %v", err)
	}
	_, err = s.ReadDirTree(h)
	if err == nil {
		t.Fatal("ReadDirTree on dirmeta object should return error")
	}
	if !strings.Contains(err.Error(), "type mismatch") {
		t.Errorf("Expected type mismatch error, got: %v", err)
	}
}

func TestStoreStagingPromote(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	if err := s.BeginStaging("t1"); err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	if err := s.BeginStaging("t2"); err == nil {
		t.Fatal("nested BeginStaging should fail")
	}
	h, err := s.Write(ctx, TypeFile, []byte("staged"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Has(h) {
		t.Fatal("staged object should be visible inside the staging area")
	}
	if _, err := os.Stat(s.objectPath(h)); !os.IsNotExist(err) {
		t.Fatal("staged object must not be in objects/ before promote")
	}

	n, err := s.Promote(ctx)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if n != 1 {
		t.Errorf("Promote count = %d, want 1", n)
	}
	if s.Staging() {
		t.Error("staging area should be closed after promote")
	}
	if _, err := os.Stat(s.objectPath(h)); err != nil {
		t.Fatalf("promoted object missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "tmp", "txn-t1")); !os.IsNotExist(err) {
		t.Error("staging directory should be removed after promote")
	}
}

func TestStoreStagingDiscard(t *testing.T) {
	s := tempStore(t)
	if err := s.BeginStaging("t1"); err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	h, err := s.Write(context.Background(), TypeFile, []byte("dropped"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if s.Has(h) {
		t.Error("discarded object is still visible")
	}
	if err := s.Discard(); err != nil {
		t.Errorf("second Discard should be a no-op, got %v", err)
	}
}

func TestStoreStagingSkipsCommittedObjects(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	h, err := s.Write(ctx, TypeFile, []byte("already here"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.BeginStaging("t1"); err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	if _, err := s.Write(ctx, TypeFile, []byte("already here")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(s.stagedPath(h)); !os.IsNotExist(err) {
		t.Error("object present in objects/ should not be staged again")
	}
	n, err := s.Promote(ctx)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if n != 0 {
		t.Errorf("Promote count = %d, want 0", n)
	}
}
