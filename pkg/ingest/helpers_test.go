package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/arbor/pkg/modifier"
	"github.com/odvcencio/arbor/pkg/mtree"
	"github.com/odvcencio/arbor/pkg/object"
	"github.com/odvcencio/arbor/pkg/repo"
)

func initRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Init(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func newStager(r *repo.Repo, mod *modifier.Modifier) *Stager {
	return &Stager{Repo: r, Root: mtree.New(), Modifier: mod}
}

func finalize(t *testing.T, s *Stager) object.Hash {
	t.Helper()
	h, err := s.Root.Finalize(context.Background(), s.Repo.Store)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return h
}

func writeFile(t *testing.T, path string, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
}

// readFileObject returns the header and content of the file at relPath in
// the finalized tree.
func readFileObject(t *testing.T, r *repo.Repo, tree object.Hash, relPath string) (*object.FileHeader, string) {
	t.Helper()
	e, ok, err := r.LookupPath(tree, relPath)
	if err != nil || !ok || e.IsDir {
		t.Fatalf("LookupPath(%q) = %+v, %v, %v", relPath, e, ok, err)
	}
	hdr, _, rc, err := r.Store.OpenFile(e.Checksum)
	if err != nil {
		t.Fatalf("OpenFile(%s): %v", relPath, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return hdr, string(body)
}

func readDirMeta(t *testing.T, r *repo.Repo, tree object.Hash, relPath string) *object.DirMeta {
	t.Helper()
	e, ok, err := r.LookupPath(tree, relPath)
	if err != nil || !ok || !e.IsDir {
		t.Fatalf("LookupPath(%q) = %+v, %v, %v", relPath, e, ok, err)
	}
	m, err := r.Store.ReadDirMeta(e.Meta)
	if err != nil {
		t.Fatalf("ReadDirMeta(%s): %v", relPath, err)
	}
	return m
}

type tarEntry struct {
	hdr  tar.Header
	body string
}

func dirEntry(name string, mode int64) tarEntry {
	return tarEntry{hdr: tar.Header{Typeflag: tar.TypeDir, Name: name, Mode: mode}}
}

func fileEntry(name, body string, mode int64) tarEntry {
	return tarEntry{hdr: tar.Header{Typeflag: tar.TypeReg, Name: name, Mode: mode, Size: int64(len(body))}, body: body}
}

func buildTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := e.hdr
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", hdr.Name, err)
		}
		if e.body != "" {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write(%s): %v", hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}
